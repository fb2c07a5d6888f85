package serial

import (
	"fmt"

	aliasserial "github.com/tarm/serial"
)

// RS232Port 标准 RS-232 全双工串口
// - Open/Close 管理串口
// - Read/Write 提供原始字节接口
type RS232Port struct {
	cfg  Config
	port *aliasserial.Port
}

// NewRS232Port 构造 RS232Port
func NewRS232Port(cfg Config) Port {
	return &RS232Port{cfg: cfg}
}

// Open 打开并配置串口
func (r *RS232Port) Open() error {
	sc := &aliasserial.Config{
		Name:        r.cfg.Device,
		Baud:        r.cfg.Baudrate,
		ReadTimeout: r.cfg.Timeout,
		Size:        8,
		Parity:      aliasserial.ParityNone,
		StopBits:    aliasserial.Stop1,
	}
	p, err := aliasserial.OpenPort(sc)
	if err != nil {
		return fmt.Errorf("open serial %s failed: %w", r.cfg.Device, err)
	}
	r.port = p
	return nil
}

// Close 关闭串口
func (r *RS232Port) Close() error {
	if r.port == nil {
		return nil
	}
	err := r.port.Close()
	r.port = nil
	return err
}

// Read 读取原始字节，实现 io.Reader
func (r *RS232Port) Read(p []byte) (int, error) {
	return readPort(r.port, p)
}

// Write 写入原始字节，实现 io.Writer
func (r *RS232Port) Write(p []byte) (int, error) {
	if r.port == nil {
		return 0, errPortClosed
	}
	n, err := r.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("serial write failed: %w", err)
	}
	return n, nil
}

// Name 返回逻辑名称
func (r *RS232Port) Name() string {
	return r.cfg.Name
}

// WriteFrame 直接写整帧数据
func (r *RS232Port) WriteFrame(frame []byte) error {
	if _, err := r.Write(frame); err != nil {
		return fmt.Errorf("serial write frame failed: %w", err)
	}
	return nil
}
