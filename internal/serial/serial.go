// internal/serial/serial.go

package serial

import (
	"fmt"
	"time"

	"github.com/linjuya-lu/device_airmodus_go/internal/model"
)

// Port 是整个 serial 包对外暴露的通用串口接口
type Port interface {
	Open() error
	Close() error
	// Read 超时未收到数据时返回 0 字节
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Name() string
	// WriteFrame 直接向串口写入一整帧数据
	WriteFrame(frame []byte) error
}

// Config 打开一个端口所需的参数
type Config struct {
	Name     string        // 逻辑名称
	Device   string        // 串口设备节点
	Type     string        // uart/rs485/rs232
	Baudrate int           // 波特率
	DEPin    int           // RS-485 DE/RE 控制 GPIO
	Timeout  time.Duration // 读超时
}

// ConfigFor 由设备描述符得到端口参数
func ConfigFor(d model.Descriptor) Config {
	return Config{
		Name:     d.Name,
		Device:   d.Port,
		Type:     d.PortType,
		Baudrate: d.Baudrate,
		DEPin:    d.DEPin,
		Timeout:  d.Timeout,
	}
}

// NewPort 根据配置创建对应的串口实现（UART / RS-485 / RS-232）
func NewPort(cfg Config) (Port, error) {
	switch cfg.Type {
	case "uart", "":
		return NewUARTPort(cfg), nil
	case "rs485":
		return NewRS485Port(cfg), nil
	case "rs232":
		return NewRS232Port(cfg), nil
	case "loopback":
		return nil, fmt.Errorf("port %s: loopback ports are created in pairs with NewLoopback", cfg.Name)
	default:
		return nil, fmt.Errorf("unknown port type %s", cfg.Type)
	}
}
