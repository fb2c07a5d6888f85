package engine

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/linjuya-lu/device_airmodus_go/internal/model"
	"github.com/linjuya-lu/device_airmodus_go/internal/serial"
	"github.com/linjuya-lu/device_airmodus_go/internal/simulator"
)

// PortFunc 为设备提供串口；返回 nil 时按描述符创建
type PortFunc func(desc model.Descriptor) serial.Port

// simulated 没有物理串口的设备接到内存串口和模拟设备上
func simulated(desc model.Descriptor) bool {
	return desc.PortType == "loopback" || (desc.Type == model.TypeExample && desc.Port == "")
}

// newSimulator 内存串口的设备端
func (e *Engine) newSimulator(desc model.Descriptor, dev serial.Port) (*simulator.Device, error) {
	rnd := rand.New(rand.NewSource(e.opts.Now().UnixNano()))
	switch desc.Type {
	case model.TypeExample:
		return simulator.New(dev, nil, simulator.ExampleStreamer(rnd), desc.PollInterval, e.lc), nil
	case model.TypeCPC:
		sn := desc.SerialNumber
		if sn == "" {
			sn = "SIM-" + desc.Name
		}
		meas := func(int) string {
			return simulator.CPCMeasurement(float64(rnd.Intn(5000)) + rnd.Float64())
		}
		return simulator.New(dev, simulator.CPCResponder(sn, meas), nil, 0, e.lc), nil
	default:
		return nil, fmt.Errorf("device %s: no simulator for type %s", desc.Name, desc.Type)
	}
}

func loopbackTimeout(desc model.Descriptor) time.Duration {
	if desc.Timeout > 0 {
		return desc.Timeout
	}
	return 200 * time.Millisecond
}
