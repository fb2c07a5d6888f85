package serial

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// rs485Line 一条物理总线：串口句柄和 DE/RE 控制线。
// 同一设备节点上的 RS485Port 共用一条 line，最后一个关闭时释放。
type rs485Line struct {
	mu     sync.Mutex // 发送期间独占 DE/RE
	device string
	baud   int
	refs   int
	port   *serial.Port
	gpioFD *os.File // 为 nil 表示收发器自动切换方向
}

var (
	linesMu sync.Mutex
	lines   = make(map[string]*rs485Line)
)

// RS485Port RS-485 半双工总线上的一台设备，多台设备可共用一条总线
type RS485Port struct {
	cfg  Config
	line *rs485Line
}

// 构造 RS485Port 实例
func NewRS485Port(cfg Config) Port {
	return &RS485Port{cfg: cfg}
}

// Open 首个使用者打开串口和 GPIO，其余复用
func (r *RS485Port) Open() error {
	if r.line != nil {
		return nil
	}
	linesMu.Lock()
	defer linesMu.Unlock()
	l, ok := lines[r.cfg.Device]
	if !ok {
		l = &rs485Line{device: r.cfg.Device, baud: r.cfg.Baudrate}
		if err := l.open(r.cfg); err != nil {
			return err
		}
		lines[r.cfg.Device] = l
	}
	l.refs++
	r.line = l
	return nil
}

// Close 释放引用，没有使用者时关闭串口和 GPIO
func (r *RS485Port) Close() error {
	if r.line == nil {
		return nil
	}
	linesMu.Lock()
	defer linesMu.Unlock()
	l := r.line
	r.line = nil
	l.refs--
	if l.refs > 0 {
		return nil
	}
	delete(lines, l.device)
	return l.close()
}

// Read 实现 io.Reader
func (r *RS485Port) Read(p []byte) (int, error) {
	if r.line == nil {
		return 0, errPortClosed
	}
	return readPort(r.line.port, p)
}

// Write 不切换 DE/RE，发送请使用 WriteFrame
func (r *RS485Port) Write(p []byte) (int, error) {
	if r.line == nil {
		return 0, errPortClosed
	}
	return r.line.port.Write(p)
}

// WriteFrame 切到发送 → 写整帧 → 等待发完 → 切回接收
func (r *RS485Port) WriteFrame(frame []byte) error {
	if r.line == nil {
		return errPortClosed
	}
	return r.line.send(frame)
}

// Name 返回端口名称
func (r *RS485Port) Name() string {
	return r.cfg.Name
}

func (l *rs485Line) open(cfg Config) error {
	if cfg.DEPin > 0 {
		f, err := openDE(cfg.DEPin)
		if err != nil {
			return err
		}
		l.gpioFD = f
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baudrate,
		ReadTimeout: cfg.Timeout,
	})
	if err != nil {
		if l.gpioFD != nil {
			l.gpioFD.Close()
		}
		return fmt.Errorf("open serial %s failed: %w", cfg.Device, err)
	}
	l.port = p
	return nil
}

func (l *rs485Line) close() error {
	var firstErr error
	if l.port != nil {
		if err := l.port.Close(); err != nil {
			firstErr = err
		}
	}
	if l.gpioFD != nil {
		if err := l.gpioFD.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.port, l.gpioFD = nil, nil
	return firstErr
}

func (l *rs485Line) send(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gpioFD == nil {
		if _, err := l.port.Write(frame); err != nil {
			return fmt.Errorf("serial write failed: %w", err)
		}
		return nil
	}
	if _, err := l.gpioFD.WriteString("1"); err != nil {
		return fmt.Errorf("GPIO DE high failed: %w", err)
	}
	time.Sleep(5 * time.Millisecond)

	n, err := l.port.Write(frame)
	if err != nil {
		l.gpioFD.WriteString("0")
		return fmt.Errorf("serial write failed: %w", err)
	}
	time.Sleep(txTime(n, l.baud))

	if _, err := l.gpioFD.WriteString("0"); err != nil {
		return fmt.Errorf("GPIO DE low failed: %w", err)
	}
	return nil
}

// txTime n 字节在总线上的发送时长，按每字节 10 bit 计
func txTime(n, baud int) time.Duration {
	if baud <= 0 {
		return 0
	}
	return time.Duration(n*10) * time.Second / time.Duration(baud)
}

// openDE 导出 GPIO、设为输出并拉低（接收）
func openDE(pin int) (*os.File, error) {
	if err := exportGPIO(pin); err != nil {
		return nil, fmt.Errorf("export GPIO %d failed: %w", pin, err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := setGPIODirection(pin, "out"); err != nil {
		return nil, fmt.Errorf("set GPIO %d direction: %w", pin, err)
	}
	f, err := openGPIOValue(pin)
	if err != nil {
		return nil, fmt.Errorf("open GPIO %d value: %w", pin, err)
	}
	if _, err := f.WriteString("0"); err != nil {
		f.Close()
		return nil, fmt.Errorf("init GPIO %d low: %w", pin, err)
	}
	return f, nil
}

// -------- GPIO 辅助函数 --------
func exportGPIO(pin int) error {
	f, err := os.OpenFile("/sys/class/gpio/export", os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, _ = f.WriteString(fmt.Sprint(pin)) // 若已导出则忽略错误
	return nil
}

func setGPIODirection(pin int, dir string) error {
	path := fmt.Sprintf("/sys/class/gpio/gpio%d/direction", pin)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(dir)
	return err
}

func openGPIOValue(pin int) (*os.File, error) {
	path := fmt.Sprintf("/sys/class/gpio/gpio%d/value", pin)
	return os.OpenFile(path, os.O_RDWR, 0)
}
