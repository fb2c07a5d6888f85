package serial

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// pipe 单向内存字节流
type pipe struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
	notify chan struct{}
}

func newPipe() *pipe {
	return &pipe{notify: make(chan struct{}, 1)}
}

func (p *pipe) write(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	n, _ := p.buf.Write(b)
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
	return n, nil
}

func (p *pipe) read(b []byte, timeout time.Duration) (int, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		p.mu.Lock()
		if p.buf.Len() > 0 {
			n, _ := p.buf.Read(b)
			p.mu.Unlock()
			return n, nil
		}
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return 0, io.EOF
		}
		select {
		case <-p.notify:
		case <-deadline:
			return 0, nil
		}
	}
}

func (p *pipe) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Loopback 内存串口的一端，用于模拟设备和测试
type Loopback struct {
	name    string
	in, out *pipe
	timeout time.Duration

	mu      sync.Mutex
	open    bool
	failing bool
	writes  [][]byte
}

// NewLoopback 创建一对互联的内存端口：host 给会话使用，device 给模拟设备使用
func NewLoopback(name string, timeout time.Duration) (host, device *Loopback) {
	a, b := newPipe(), newPipe()
	host = &Loopback{name: name, in: a, out: b, timeout: timeout}
	device = &Loopback{name: name + "-device", in: b, out: a, timeout: timeout, open: true}
	return host, device
}

// Open 打开端口；SetFailing(true) 时模拟设备不存在
func (l *Loopback) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failing {
		return io.ErrClosedPipe
	}
	l.open = true
	return nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	l.open = false
	l.mu.Unlock()
	return nil
}

func (l *Loopback) Read(p []byte) (int, error) {
	if !l.isOpen() {
		return 0, errPortClosed
	}
	return l.in.read(p, l.timeout)
}

func (l *Loopback) Write(p []byte) (int, error) {
	if !l.isOpen() {
		return 0, errPortClosed
	}
	l.mu.Lock()
	l.writes = append(l.writes, append([]byte(nil), p...))
	l.mu.Unlock()
	return l.out.write(p)
}

func (l *Loopback) Name() string { return l.name }

func (l *Loopback) WriteFrame(frame []byte) error {
	_, err := l.Write(frame)
	return err
}

// SetFailing 模拟拔线：已打开的端口读写失败，Open 失败
func (l *Loopback) SetFailing(v bool) {
	l.mu.Lock()
	l.failing = v
	if v {
		l.open = false
	}
	l.mu.Unlock()
}

// Writes 返回写入过的全部数据块
func (l *Loopback) Writes() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.writes))
	copy(out, l.writes)
	return out
}

// Shutdown 关闭对端的读取，等待中的 Read 返回 io.EOF
func (l *Loopback) Shutdown() {
	l.out.close()
}

func (l *Loopback) isOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}
