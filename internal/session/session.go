// Package session 管理一台设备的串口连接：轮询、命令下发、断线判定与重连。
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/google/uuid"

	"github.com/linjuya-lu/device_airmodus_go/internal/codec"
	"github.com/linjuya-lu/device_airmodus_go/internal/model"
	"github.com/linjuya-lu/device_airmodus_go/internal/serial"
)

// Options 会话参数
type Options struct {
	MissThreshold  int           // 连续无应答次数
	Silence        time.Duration // 距上次成功读取的静默时长
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	ParseBuffer    int
	ResyncLimit    int

	Logger   logger.LoggingClient
	OnStatus func(model.Status) // 状态变化回调，在会话协程中调用
	Port     serial.Port        // 为空时按描述符创建
	Now      func() time.Time
}

// Result 一个轮询周期的产出
type Result struct {
	Readings []model.Reading
	Settings *model.Settings
	Identity string
	Replies  []string
}

// Session 独占一个串口
type Session struct {
	desc  model.Descriptor
	opts  Options
	lc    logger.LoggingClient
	codec codec.Codec
	dec   *codec.Decoder
	port  serial.Port
	bo    *backoff.ExponentialBackOff

	mu            sync.Mutex
	status        model.Status
	open          bool
	closed        bool
	pending       [][]byte
	held          []codec.Message
	seq           uint64
	misses        int
	settingsStale bool
	nextAttempt   time.Time
}

// New 创建会话但不打开端口，首次 Poll 时连接
func New(desc model.Descriptor, opts Options) (*Session, error) {
	c, err := codec.New(desc.Type)
	if err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MissThreshold <= 0 {
		opts.MissThreshold = 3
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewClient("session", "INFO")
	}
	port := opts.Port
	if port == nil {
		if port, err = serial.NewPort(serial.ConfigFor(desc)); err != nil {
			return nil, err
		}
	}

	bo := backoff.NewExponentialBackOff()
	if opts.BackoffInitial > 0 {
		bo.InitialInterval = opts.BackoffInitial
	}
	if opts.BackoffMax > 0 {
		bo.MaxInterval = opts.BackoffMax
	}
	bo.MaxElapsedTime = 0
	bo.Reset()

	now := opts.Now()
	return &Session{
		desc:          desc.Clone(),
		opts:          opts,
		lc:            opts.Logger,
		codec:         c,
		dec:           codec.NewDecoder(c, opts.ParseBuffer, opts.ResyncLimit),
		port:          port,
		bo:            bo,
		settingsStale: true,
		status: model.Status{
			Device:       desc.Name,
			State:        model.StateDisconnected,
			Since:        now,
			SerialNumber: desc.SerialNumber,
			Instance:     uuid.NewString(),
		},
	}, nil
}

// Open 打开端口；需要握手的设备在超时内收到首个应答才算成功
func Open(ctx context.Context, desc model.Descriptor, opts Options) (*Session, error) {
	s, err := New(desc, opts)
	if err != nil {
		return nil, err
	}
	if err := s.connect(); err != nil {
		return nil, err
	}
	if s.codec.Handshake() {
		if err := s.handshake(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Descriptor 返回设备描述符
func (s *Session) Descriptor() model.Descriptor { return s.desc.Clone() }

// Status 当前状态快照
func (s *Session) Status() model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Send 排队一条命令，在下一个轮询时隙写出；未连接时返回错误
func (s *Session) Send(cmd codec.Command) error {
	frame, err := s.codec.Encode(cmd)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("device %s: %w", s.desc.Name, model.ErrNotConnected)
	}
	if s.status.State != model.StateConnected {
		return model.NewDisconnectedError(s.desc.Name)
	}
	s.pending = append(s.pending, frame)
	return nil
}

// Close 释放端口，可重复调用
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	wasOpen := s.open
	s.open = false
	s.pending = nil
	s.mu.Unlock()
	if wasOpen {
		return s.port.Close()
	}
	return nil
}

// Poll 执行一个轮询周期：必要时重连，写出排队的命令和请求，在超时内读取并解码
func (s *Session) Poll(ctx context.Context) (Result, error) {
	s.mu.Lock()
	closed, open, next := s.closed, s.open, s.nextAttempt
	s.mu.Unlock()
	if closed {
		return Result{}, fmt.Errorf("device %s: %w", s.desc.Name, model.ErrNotConnected)
	}

	now := s.opts.Now()
	if !open {
		if now.Before(next) {
			s.miss(now)
			return Result{}, model.NewDisconnectedError(s.desc.Name)
		}
		if err := s.connect(); err != nil {
			s.miss(now)
			return Result{}, err
		}
	}

	expected, err := s.writeOut()
	if err != nil {
		s.portFailed(err)
		s.miss(now)
		return Result{}, model.NewConnectionError(s.desc.Name, err)
	}

	msgs, err := s.collect(ctx, expected)
	if err != nil {
		if errors.Is(err, model.ErrUnrecoverableFraming) {
			s.restart(err)
			return Result{}, model.NewFramingError(s.desc.Name, s.opts.ResyncLimit)
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		s.portFailed(err)
		s.miss(now)
		return Result{}, model.NewConnectionError(s.desc.Name, err)
	}
	s.mu.Lock()
	if len(s.held) > 0 {
		msgs = append(s.held, msgs...)
		s.held = nil
	}
	s.mu.Unlock()
	if len(msgs) == 0 {
		s.miss(now)
		return Result{}, model.NewTimeoutError(s.desc.Name, s.desc.Timeout)
	}
	if expected > 0 && len(msgs) < expected {
		s.lc.Debugf("device %s: %d of %d responses within %s", s.desc.Name, len(msgs), expected, s.desc.Timeout)
	}
	res := s.assemble(msgs)
	s.success()
	return res, nil
}

// writeOut 写出排队命令和本周期的请求，返回期待的应答数
func (s *Session) writeOut() (int, error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, frame := range pending {
		s.lc.Debugf("device %s ⇨ %q", s.desc.Name, frame)
		if err := s.port.WriteFrame(frame); err != nil {
			return 0, err
		}
	}
	if len(pending) > 0 && (s.desc.Type == model.TypePSM || s.desc.Type == model.TypePSM2) {
		// 设定命令之后重新读取 PSM 设置
		s.mu.Lock()
		s.settingsStale = true
		s.mu.Unlock()
	}
	reqs := s.codec.Requests(s.pollOptions())
	for _, req := range reqs {
		if err := s.port.WriteFrame(req); err != nil {
			return 0, err
		}
	}
	return len(reqs), nil
}

func (s *Session) pollOptions() codec.PollOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return codec.PollOptions{
		SerialKnown:   s.status.SerialNumber != "",
		TenHz:         s.desc.TenHz,
		SettingsStale: s.settingsStale,
	}
}

// collect 在超时内读取；请求-应答设备收齐应答后提前返回
func (s *Session) collect(ctx context.Context, expected int) ([]codec.Message, error) {
	deadline := s.opts.Now().Add(s.desc.Timeout)
	buf := make([]byte, 256)
	var msgs []codec.Message
	for {
		if err := ctx.Err(); err != nil {
			return msgs, err
		}
		n, err := s.port.Read(buf)
		if err != nil {
			return msgs, err
		}
		if n > 0 {
			if err := s.dec.Feed(buf[:n]); err != nil {
				return msgs, err
			}
			for {
				msg, err := s.dec.Next()
				if errors.Is(err, codec.ErrIncompleteFrame) {
					break
				}
				if errors.Is(err, model.ErrUnrecoverableFraming) {
					return msgs, err
				}
				if err != nil {
					s.lc.Warnf("device %s: drop frame: %v", s.desc.Name, err)
					continue
				}
				msgs = append(msgs, msg)
			}
		}
		if expected > 0 && len(msgs) >= expected {
			return msgs, nil
		}
		if !s.opts.Now().Before(deadline) {
			return msgs, nil
		}
	}
}

// assemble 把消息整理为读数、设置、序列号和应答
func (s *Session) assemble(msgs []codec.Message) Result {
	var res Result
	sections := make(map[string][]float64)
	var highRate []float64
	for _, m := range msgs {
		switch m.Kind {
		case codec.KindMeasurement:
			r := m.Reading(s.desc.Name, s.desc.Type)
			s.mu.Lock()
			s.seq++
			r.Seq = s.seq
			s.mu.Unlock()
			r.Provisional = s.opts.Now()
			if r.Partial {
				s.lc.Debugf("device %s: partial frame %s", s.desc.Name, m.Command)
			}
			res.Readings = append(res.Readings, r)
		case codec.KindHighRate:
			highRate = append(highRate, m.HighRate...)
		case codec.KindSettings:
			sections[m.Section] = m.Values
		case codec.KindIdentity:
			res.Identity = m.Text
		case codec.KindReply:
			res.Replies = append(res.Replies, m.Text)
		default:
			s.lc.Debugf("device %s: unrecognised frame %q", s.desc.Name, m.Text)
			res.Replies = append(res.Replies, m.Text)
		}
	}
	if s.desc.TenHz && len(res.Readings) > 0 {
		last := &res.Readings[len(res.Readings)-1]
		last.HighRate = append(make([]float64, 0, len(highRate)), highRate...)
	}
	if len(sections) > 0 {
		if fields, ok := s.codec.Settings(sections, s.desc.Params); ok {
			res.Settings = &model.Settings{Device: s.desc.Name, Time: s.opts.Now(), Fields: fields}
			s.mu.Lock()
			s.settingsStale = false
			s.mu.Unlock()
		}
	}
	if res.Identity != "" {
		s.mu.Lock()
		s.status.SerialNumber = res.Identity
		s.mu.Unlock()
	}
	return res
}

// connect 打开端口，进入 PROBING
func (s *Session) connect() error {
	now := s.opts.Now()
	if err := s.port.Open(); err != nil {
		s.mu.Lock()
		s.nextAttempt = now.Add(s.bo.NextBackOff())
		s.status.Err = err.Error()
		s.mu.Unlock()
		s.lc.Debugf("device %s: open %s failed: %v", s.desc.Name, s.desc.Port, err)
		return model.NewConnectionError(s.desc.Name, err)
	}
	s.dec.Reset()
	s.mu.Lock()
	s.open = true
	s.mu.Unlock()
	s.lc.Infof("device %s: port %s opened", s.desc.Name, s.desc.Port)
	if s.Status().State != model.StateConnected {
		s.setState(model.StateProbing, "")
	}
	return nil
}

// handshake 发送一轮请求，超时内收到任意应答即成功
func (s *Session) handshake(ctx context.Context) error {
	reqs := s.codec.Requests(s.pollOptions())
	if len(reqs) == 0 {
		return nil
	}
	for _, req := range reqs {
		if err := s.port.WriteFrame(req); err != nil {
			return model.NewConnectionError(s.desc.Name, err)
		}
	}
	msgs, err := s.collect(ctx, len(reqs))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return model.NewConnectionError(s.desc.Name, err)
	}
	if len(msgs) == 0 {
		return model.NewConnectionError(s.desc.Name, model.NewTimeoutError(s.desc.Name, s.desc.Timeout))
	}
	// 握手收到的应答在第一次 Poll 时交付
	s.mu.Lock()
	s.held = msgs
	s.mu.Unlock()
	s.success()
	return nil
}

// success 成功读取：清零计数，进入 CONNECTED
func (s *Session) success() {
	now := s.opts.Now()
	s.mu.Lock()
	s.misses = 0
	s.status.LastRead = now
	s.status.Err = ""
	s.mu.Unlock()
	s.bo.Reset()
	if s.Status().State != model.StateConnected {
		s.setState(model.StateConnected, "")
	}
}

// miss 记一次无应答；连续次数和静默时长都达到门限才判定断线
func (s *Session) miss(now time.Time) {
	s.mu.Lock()
	s.misses++
	misses := s.misses
	st := s.status
	s.mu.Unlock()

	if st.State == model.StateDisconnected {
		return
	}
	ref := st.LastRead
	if ref.IsZero() {
		ref = st.Since
	}
	if misses < s.opts.MissThreshold || now.Sub(ref) < s.opts.Silence {
		return
	}
	s.lc.Warnf("device %s: no data for %s (%d misses), disconnected", s.desc.Name, now.Sub(ref).Truncate(time.Millisecond), misses)
	s.dropPort()
	s.mu.Lock()
	s.nextAttempt = now.Add(s.bo.NextBackOff())
	s.mu.Unlock()
	s.setState(model.StateDisconnected, "no response")
}

// portFailed 读写出错：关闭端口，之后按退避重新打开
func (s *Session) portFailed(err error) {
	s.lc.Warnf("device %s: port error: %v", s.desc.Name, err)
	s.dropPort()
	s.mu.Lock()
	s.nextAttempt = s.opts.Now().Add(s.bo.NextBackOff())
	s.status.Err = err.Error()
	s.mu.Unlock()
}

// restart 无法重新同步：丢弃缓冲，以新的实例 ID 重启
func (s *Session) restart(cause error) {
	s.lc.Errorf("device %s: %v, restarting session", s.desc.Name, cause)
	s.setState(model.StateError, cause.Error())
	s.dropPort()
	s.dec.Reset()
	s.mu.Lock()
	s.status.Instance = uuid.NewString()
	s.misses = 0
	s.nextAttempt = time.Time{}
	s.mu.Unlock()
}

func (s *Session) dropPort() {
	s.mu.Lock()
	wasOpen := s.open
	s.open = false
	s.mu.Unlock()
	if wasOpen {
		if err := s.port.Close(); err != nil {
			s.lc.Debugf("device %s: close: %v", s.desc.Name, err)
		}
	}
}

func (s *Session) setState(state model.State, reason string) {
	s.mu.Lock()
	if s.status.State == state {
		s.mu.Unlock()
		return
	}
	s.status.State = state
	s.status.Since = s.opts.Now()
	if reason != "" {
		s.status.Err = reason
	}
	st := s.status
	s.mu.Unlock()
	s.lc.Infof("device %s: %s", s.desc.Name, state)
	if s.opts.OnStatus != nil {
		s.opts.OnStatus(st)
	}
}

// Connected 是否已连接
func (s *Session) Connected() bool {
	return s.Status().State == model.StateConnected
}
