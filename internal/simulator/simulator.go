// Package simulator 在内存串口的设备端模拟仪器，用于 Example 设备和离线调试。
package simulator

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/device_airmodus_go/internal/codec"
	"github.com/linjuya-lu/device_airmodus_go/internal/model"
	"github.com/linjuya-lu/device_airmodus_go/internal/serial"
)

// Responder 处理一条以 \r\n 结尾的请求，返回要写回的字节
type Responder func(request string) []byte

// Streamer 第 tick 次推送的数据
type Streamer func(tick uint64) []byte

// Device 模拟设备
type Device struct {
	port     serial.Port
	respond  Responder
	stream   Streamer
	interval time.Duration
	lc       logger.LoggingClient

	mu       sync.Mutex
	requests []string
}

// New 创建模拟设备；respond 或 stream 可以为空
func New(port serial.Port, respond Responder, stream Streamer, interval time.Duration, lc logger.LoggingClient) *Device {
	if lc == nil {
		lc = logger.NewClient("simulator", "INFO")
	}
	return &Device{port: port, respond: respond, stream: stream, interval: interval, lc: lc}
}

// Requests 收到过的全部请求
func (d *Device) Requests() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.requests...)
}

// Run 运行到 ctx 取消
func (d *Device) Run(ctx context.Context) error {
	if d.stream != nil && d.interval > 0 {
		go d.pushLoop(ctx)
	}
	var pending []byte
	buf := make([]byte, 256)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := d.port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("simulator %s: %w", d.port.Name(), err)
		}
		if n == 0 || d.respond == nil {
			continue
		}
		pending = append(pending, buf[:n]...)
		for {
			i := bytes.Index(pending, []byte("\r\n"))
			if i < 0 {
				break
			}
			req := string(pending[:i])
			pending = pending[i+2:]
			d.mu.Lock()
			d.requests = append(d.requests, req)
			d.mu.Unlock()
			if reply := d.respond(req); len(reply) > 0 {
				if _, err := d.port.Write(reply); err != nil {
					d.lc.Debugf("simulator %s: write: %v", d.port.Name(), err)
				}
			}
		}
	}
}

func (d *Device) pushLoop(ctx context.Context) {
	t := time.NewTicker(d.interval)
	defer t.Stop()
	var tick uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			tick++
			if frame := d.stream(tick); len(frame) > 0 {
				if _, err := d.port.Write(frame); err != nil {
					d.lc.Debugf("simulator %s: push: %v", d.port.Name(), err)
				}
			}
		}
	}
}

// ExampleStreamer 推送 150..250 之间的随机值，保留两位小数
func ExampleStreamer(rnd *rand.Rand) Streamer {
	var mu sync.Mutex
	return func(tick uint64) []byte {
		mu.Lock()
		v := math.Round((rnd.Float64()*100+150)*100) / 100
		mu.Unlock()
		frame, err := codec.EncodeReading(model.Reading{
			Seq:      tick,
			Channels: []model.Channel{{Name: "value", Value: v}},
		})
		if err != nil {
			return nil
		}
		return frame
	}
}

// CPC 的设置应答
const (
	cpcPRNT = ":SYST:PRNT 1,1,0,0,1,1,10.0,36.0,25.0,0,1.0,0,1"
	cpcPALL = ":SYST:PALL 0,1,2,3,4,5,6,7,8,9,10,11,12,13,14,15,16,17,18,19,1.0,21,ID,A,1.0,2.0,150,300"
)

// CPCResponder 模拟 CPC：meas 返回第 i 次 :MEAS:ALL 的数据部分
func CPCResponder(serialNumber string, meas func(i int) string) Responder {
	var mu sync.Mutex
	i := 0
	return func(req string) []byte {
		cmd := strings.TrimSpace(req)
		switch {
		case cmd == ":MEAS:ALL":
			mu.Lock()
			i++
			n := i
			mu.Unlock()
			return []byte(":MEAS:ALL " + meas(n) + "\r")
		case cmd == ":SYST:PRNT":
			return []byte(cpcPRNT + "\r")
		case cmd == ":SYST:PALL":
			return []byte(cpcPALL + "\r")
		case cmd == ":MEAS:OPC_CONC_LOG":
			return []byte(":MEAS:OPC_CONC_LOG 1,1,1,1,1,1,1,1,1,1\r")
		case cmd == "*IDN?":
			return []byte("*IDN " + serialNumber + "\r")
		case cmd == ":STAT:SELF:LOG":
			return []byte(":STAT:SELF:LOG 0\r")
		default:
			return nil
		}
	}
}

// CPCMeasurement 一条正常的 :MEAS:ALL 数据，浓度为 conc
func CPCMeasurement(conc float64) string {
	return fmt.Sprintf("%g,1000,0.1,980,200,21.5,36.1,10.2,30.5,101.3,50.1,99.8,100.2,1.0,1,0.85,0000", conc)
}
