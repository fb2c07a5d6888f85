// internal/model/descriptor.go

package model

import (
	"fmt"
	"strings"
	"time"
)

// DeviceType 设备类型标签，取值为封闭集合
type DeviceType string

const (
	TypeCPC          DeviceType = "CPC"
	TypePSM          DeviceType = "PSM"
	TypePSM2         DeviceType = "PSM2"
	TypeElectrometer DeviceType = "Electrometer"
	TypeCO2          DeviceType = "CO2"
	TypeRHTP         DeviceType = "RHTP"
	TypeEDiluter     DeviceType = "eDiluter"
	TypeTSICPC       DeviceType = "TSICPC"
	TypeAFM          DeviceType = "AFM"
	TypeExample      DeviceType = "Example"
)

var deviceTypes = []DeviceType{
	TypeCPC, TypePSM, TypePSM2, TypeElectrometer, TypeCO2,
	TypeRHTP, TypeEDiluter, TypeTSICPC, TypeAFM, TypeExample,
}

// DeviceTypes 返回全部已知设备类型
func DeviceTypes() []DeviceType {
	return append([]DeviceType(nil), deviceTypes...)
}

// ParseDeviceType 不区分大小写地解析类型标签
func ParseDeviceType(s string) (DeviceType, error) {
	s = strings.TrimSpace(s)
	for _, t := range deviceTypes {
		if strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown device type %q", s)
}

// Descriptor 描述一台设备，会话存续期间不可变
type Descriptor struct {
	Name          string
	Type          DeviceType
	Port          string // 串口设备节点
	PortType      string // uart/rs485/rs232/loopback
	Baudrate      int
	DEPin         int
	Timeout       time.Duration // 单次请求等待应答的上限
	PollInterval  time.Duration
	ProbeInterval time.Duration // 断线后的探测周期
	Bus           string        // 同一物理总线上的设备共用一个名字
	SerialNumber  string
	TenHz         bool
	Params        map[string]float64 // 稀释参数、CO 流量等操作员输入
}

// Streaming 设备主动推送测量值，不按请求应答
func (t DeviceType) Streaming() bool {
	switch t {
	case TypePSM, TypePSM2, TypeRHTP, TypeEDiluter, TypeAFM, TypeExample:
		return true
	}
	return false
}

// BusKey 返回调度用的总线键：先看总线名，再看串口节点，都没有时独占一条
func (d Descriptor) BusKey() string {
	if d.Bus != "" {
		return "bus:" + d.Bus
	}
	if d.Port != "" && d.PortType != "loopback" {
		return "port:" + d.Port
	}
	return "dev:" + d.Name
}

// CheckLine 检查两台设备能否共存：同一串口节点必须声明同一总线，
// 一条总线只对应一个节点，多点总线上只允许一问一答的设备
func CheckLine(d, other Descriptor) error {
	if d.Name == other.Name {
		return nil
	}
	samePort := d.Port != "" && d.PortType != "loopback" && d.Port == other.Port && other.PortType != "loopback"
	sameBus := d.Bus != "" && d.Bus == other.Bus
	switch {
	case samePort && !sameBus:
		return fmt.Errorf("device %s: port %s already used by %s without a shared bus", d.Name, d.Port, other.Name)
	case sameBus && d.Port != other.Port:
		return fmt.Errorf("device %s: bus %s is on %s, not %s", d.Name, d.Bus, other.Port, d.Port)
	case sameBus && d.Type.Streaming():
		return fmt.Errorf("device %s: %s pushes data and cannot share bus %s with %s", d.Name, d.Type, d.Bus, other.Name)
	case sameBus && other.Type.Streaming():
		return fmt.Errorf("device %s: bus %s is held by %s device %s", d.Name, d.Bus, other.Type, other.Name)
	}
	return nil
}

// Clone 深拷贝，Params 不与原值共享
func (d Descriptor) Clone() Descriptor {
	c := d
	if d.Params != nil {
		c.Params = make(map[string]float64, len(d.Params))
		for k, v := range d.Params {
			c.Params[k] = v
		}
	}
	return c
}
