package serial

import (
	"errors"
	"fmt"
	"io"

	"github.com/tarm/serial"
)

type UARTPort struct {
	cfg    Config
	handle *serial.Port
}

func NewUARTPort(cfg Config) Port {
	return &UARTPort{cfg: cfg}
}

func (u *UARTPort) Open() error {
	sc := &serial.Config{
		Name:        u.cfg.Device,
		Baud:        u.cfg.Baudrate,
		ReadTimeout: u.cfg.Timeout,
	}
	p, err := serial.OpenPort(sc)
	if err != nil {
		return fmt.Errorf("open UART %s failed: %w", u.cfg.Device, err)
	}
	u.handle = p
	return nil
}

func (u *UARTPort) Close() error {
	if u.handle == nil {
		return nil
	}
	err := u.handle.Close()
	u.handle = nil
	return err
}

func (u *UARTPort) Read(p []byte) (int, error) {
	return readPort(u.handle, p)
}

func (u *UARTPort) Write(p []byte) (int, error) {
	if u.handle == nil {
		return 0, errPortClosed
	}
	n, err := u.handle.Write(p)
	if err != nil {
		return n, fmt.Errorf("UART write failed: %w", err)
	}
	return n, nil
}

// Name 返回逻辑名称
func (u *UARTPort) Name() string {
	return u.cfg.Name
}

func (u *UARTPort) WriteFrame(frame []byte) error {
	if _, err := u.Write(frame); err != nil {
		return fmt.Errorf("UART WriteFrame failed: %w", err)
	}
	return nil
}

var errPortClosed = errors.New("port not open")

// readPort 统一读超时语义：tarm/serial 超时返回 io.EOF，这里转换为 0 字节
func readPort(h *serial.Port, p []byte) (int, error) {
	if h == nil {
		return 0, errPortClosed
	}
	n, err := h.Read(p)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}
