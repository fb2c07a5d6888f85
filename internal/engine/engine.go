// Package engine 组装采集流水线：调度 → 会话 → 时间戳 → 诊断 → 日志 → 订阅者。
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"golang.org/x/sync/errgroup"

	"github.com/linjuya-lu/device_airmodus_go/internal/codec"
	"github.com/linjuya-lu/device_airmodus_go/internal/config"
	"github.com/linjuya-lu/device_airmodus_go/internal/diagnostics"
	"github.com/linjuya-lu/device_airmodus_go/internal/logwriter"
	"github.com/linjuya-lu/device_airmodus_go/internal/metrics"
	"github.com/linjuya-lu/device_airmodus_go/internal/model"
	"github.com/linjuya-lu/device_airmodus_go/internal/scheduler"
	"github.com/linjuya-lu/device_airmodus_go/internal/serial"
	"github.com/linjuya-lu/device_airmodus_go/internal/session"
	"github.com/linjuya-lu/device_airmodus_go/internal/timestamp"
)

// Options 引擎参数
type Options struct {
	Metrics    *metrics.Metrics
	Ports      PortFunc // 测试或外部注入串口
	Now        func() time.Time
	Start      time.Time // 进程启动时间，用于首个数据文件名
	Buffer     int       // 每个订阅通道的容量
	Resolution time.Duration
}

var (
	errStopped = errors.New("engine stopped")
	errStarted = errors.New("engine already started")
)

type device struct {
	desc   model.Descriptor
	sess   *session.Session
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	latest *model.StampedReading
}

// Engine 采集引擎
type Engine struct {
	cfg  *config.Config
	opts Options
	lc   logger.LoggingClient

	sched *scheduler.Scheduler
	stamp *timestamp.Synchronizer
	diag  *diagnostics.Engine
	logs  *logwriter.Writer
	met   *metrics.Metrics

	readings *hub[model.StampedReading]
	statuses *hub[model.Status]
	logErrs  *hub[error]

	mu      sync.Mutex
	devices map[string]*device
	pending []model.Descriptor
	group   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
}

// New 由配置创建引擎，不打开任何串口
func New(cfg *config.Config, lc logger.LoggingClient, opts Options) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: nil config")
	}
	if lc == nil {
		lc = logger.NewClient("engine", "INFO")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Start.IsZero() {
		opts.Start = opts.Now()
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Resolution <= 0 {
		opts.Resolution = time.Millisecond
	}
	descs, err := cfg.Descriptors()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		opts:    opts,
		lc:      lc,
		stamp:   timestamp.New(opts.Resolution),
		diag:    diagnostics.New(diagnosticsConfig(cfg.Diagnostics)),
		met:     opts.Metrics,
		devices: make(map[string]*device),
		pending: descs,
	}
	drop := func() { e.met.SubscriberDrop() }
	e.readings = newHub(opts.Buffer, model.StampedReading.Clone, drop)
	e.statuses = newHub[model.Status](opts.Buffer, nil, drop)
	e.logErrs = newHub[error](opts.Buffer, nil, drop)
	e.sched = scheduler.New(scheduler.Options{
		Logger:   lc,
		Now:      opts.Now,
		OnMissed: e.met.Missed,
	})
	e.logs = logwriter.New(logwriter.Options{
		Dir:          cfg.Log.Dir,
		Tag:          cfg.Log.FileTag,
		Flush:        cfg.Log.FlushInterval(),
		Daily:        cfg.Log.Daily(),
		BacklogLimit: cfg.Log.BacklogLimit,
		Start:        opts.Start,
		Logger:       lc,
		OnError:      e.logError,
		Columns:      logColumns,
	})
	return e, nil
}

// logColumns .dat 文件的固定列：协议通道、诊断派生量和状态字
func logColumns(t model.DeviceType) (logwriter.Columns, bool) {
	l, ok := codec.LayoutOf(t)
	if !ok {
		return logwriter.Columns{}, false
	}
	return logwriter.Columns{
		Channels: l.Channels,
		Derived:  diagnostics.DerivedNames(t, l.Status),
		Status:   l.Status,
	}, true
}

func diagnosticsConfig(c config.Diagnostics) diagnostics.Config {
	bands := make(map[model.DeviceType]diagnostics.Band, len(c.PulseRatio))
	for name, b := range c.PulseRatio {
		if t, err := model.ParseDeviceType(name); err == nil {
			bands[t] = diagnostics.Band{Min: b.Min, Max: b.Max}
		}
	}
	return diagnostics.Config{
		PulseRatio:     bands,
		TenHzWindow:    c.TenHzWindow(),
		TenHzRate:      c.TenHzRate,
		TenHzTolerance: c.Tolerance(),
	}
}

// Start 启动调度、刷盘和已配置的设备
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return errStopped
	}
	if e.group != nil {
		return errStarted
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(e.ctx)
	e.group, e.ctx = g, gctx
	g.Go(func() error { return e.sched.Run(gctx) })
	g.Go(func() error { return e.logs.Run(gctx) })

	pending := e.pending
	e.pending = nil
	var errs []error
	for _, desc := range pending {
		if err := e.startDevice(desc); err != nil {
			e.lc.Errorf("device %s: %v", desc.Name, err)
			errs = append(errs, err)
		}
	}
	e.lc.Infof("acquisition engine started with %d device(s)", len(e.devices))
	return errors.Join(errs...)
}

// Stop 关闭全部会话并刷盘后返回
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	g, cancel := e.group, e.cancel
	devs := make([]*device, 0, len(e.devices))
	for _, d := range e.devices {
		devs = append(devs, d)
	}
	e.mu.Unlock()

	var errs []error
	if g != nil {
		cancel()
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	for _, d := range devs {
		if err := d.sess.Close(); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", d.desc.Name, err))
		}
	}
	if err := e.logs.Close(); err != nil {
		errs = append(errs, err)
	}
	e.readings.close()
	e.statuses.close()
	e.logErrs.close()
	e.lc.Infof("acquisition engine stopped")
	return errors.Join(errs...)
}

// AddDevice 运行时添加设备；未启动时在 Start 中启动
func (e *Engine) AddDevice(desc model.Descriptor) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return errStopped
	}
	if _, ok := e.devices[desc.Name]; ok {
		return fmt.Errorf("device %s already exists", desc.Name)
	}
	for _, p := range e.pending {
		if p.Name == desc.Name {
			return fmt.Errorf("device %s already exists", desc.Name)
		}
		if err := model.CheckLine(desc, p); err != nil {
			return err
		}
	}
	for _, d := range e.devices {
		if err := model.CheckLine(desc, d.desc); err != nil {
			return err
		}
	}
	if e.group == nil {
		e.pending = append(e.pending, desc.Clone())
		return nil
	}
	return e.startDevice(desc)
}

// startDevice 需持有 e.mu
func (e *Engine) startDevice(desc model.Descriptor) error {
	desc = desc.Clone()
	ctx, cancel := context.WithCancel(e.ctx)

	port, err := e.portFor(ctx, desc)
	if err != nil {
		cancel()
		return err
	}
	sess, err := session.New(desc, session.Options{
		MissThreshold:  e.cfg.Session.MissThreshold,
		Silence:        e.cfg.Session.Silence(),
		BackoffInitial: e.cfg.Session.BackoffInitial(),
		BackoffMax:     e.cfg.Session.BackoffMax(),
		ParseBuffer:    e.cfg.Session.ParseBufferBytes,
		ResyncLimit:    e.cfg.Session.ResyncLimit,
		Logger:         e.lc,
		OnStatus:       e.onStatus,
		Port:           port,
		Now:            e.opts.Now,
	})
	if err != nil {
		cancel()
		return err
	}
	interval := scheduler.DeviceInterval(desc.PollInterval, desc.ProbeInterval, func() model.State {
		return sess.Status().State
	})
	slots, err := e.sched.Add(desc.Name, desc.BusKey(), interval)
	if err != nil {
		cancel()
		return err
	}

	d := &device{desc: desc, sess: sess, cancel: cancel, done: make(chan struct{})}
	e.devices[desc.Name] = d
	e.group.Go(func() error {
		defer close(d.done)
		e.runDevice(ctx, d, slots)
		return nil
	})
	st := sess.Status()
	e.met.Connected(desc.Name, false)
	e.statuses.publish(st)
	e.lc.Infof("device %s (%s) added on %s, poll every %s", desc.Name, desc.Type, portLabel(desc), desc.PollInterval)
	return nil
}

func portLabel(desc model.Descriptor) string {
	if simulated(desc) {
		return "simulator"
	}
	return desc.Port
}

// portFor 注入的串口优先；模拟设备使用内存串口
func (e *Engine) portFor(ctx context.Context, desc model.Descriptor) (serial.Port, error) {
	if e.opts.Ports != nil {
		if p := e.opts.Ports(desc); p != nil {
			return p, nil
		}
	}
	if !simulated(desc) {
		return nil, nil
	}
	host, dev := serial.NewLoopback(desc.Name, loopbackTimeout(desc))
	sim, err := e.newSimulator(desc, dev)
	if err != nil {
		return nil, err
	}
	e.group.Go(func() error {
		if err := sim.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.lc.Warnf("device %s: simulator stopped: %v", desc.Name, err)
		}
		return nil
	})
	return host, nil
}

// RemoveDevice 停止轮询并关闭设备的会话和文件
func (e *Engine) RemoveDevice(name string) error {
	e.mu.Lock()
	d, ok := e.devices[name]
	if ok {
		delete(e.devices, name)
	} else {
		for i, p := range e.pending {
			if p.Name == name {
				e.pending = append(e.pending[:i], e.pending[i+1:]...)
				e.mu.Unlock()
				return nil
			}
		}
	}
	e.mu.Unlock()
	if !ok {
		return model.NewUnknownDeviceError(name)
	}

	if err := e.sched.Remove(name); err != nil {
		e.lc.Debugf("device %s: %v", name, err)
	}
	d.cancel()
	<-d.done
	errs := []error{d.sess.Close(), e.logs.CloseDevice(name)}
	e.stamp.Forget(name)
	e.diag.Reset(name)
	e.met.Forget(name)

	st := d.sess.Status()
	st.State = model.StateDisconnected
	st.Since = e.opts.Now()
	e.statuses.publish(st)
	e.lc.Infof("device %s removed", name)
	return errors.Join(errs...)
}

// Descriptors 当前设备集合，按名字排序
func (e *Engine) Descriptors() []model.Descriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Descriptor, 0, len(e.devices)+len(e.pending))
	for _, d := range e.devices {
		out = append(out, d.desc.Clone())
	}
	for _, p := range e.pending {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SubscribeReadings 订阅定稿读数；调用返回的函数取消订阅
func (e *Engine) SubscribeReadings() (<-chan model.StampedReading, func()) {
	return e.readings.subscribe()
}

// SubscribeStatus 订阅设备状态变化
func (e *Engine) SubscribeStatus() (<-chan model.Status, func()) {
	return e.statuses.subscribe()
}

// SubscribeLogErrors 订阅日志写入错误
func (e *Engine) SubscribeLogErrors() (<-chan error, func()) {
	return e.logErrs.subscribe()
}

// Submit 向设备下发命令，在下一个轮询时隙写出
func (e *Engine) Submit(name string, cmd codec.Command) error {
	d, ok := e.device(name)
	if !ok {
		return model.NewUnknownDeviceError(name)
	}
	if err := d.sess.Send(cmd); err != nil {
		return err
	}
	e.lc.Infof("device %s: command %s queued", name, cmd.Name)
	return nil
}

// Latest 设备最近一条读数
func (e *Engine) Latest(name string) (model.StampedReading, bool) {
	d, ok := e.device(name)
	if !ok {
		return model.StampedReading{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.latest == nil {
		return model.StampedReading{}, false
	}
	return d.latest.Clone(), true
}

// Status 设备当前状态
func (e *Engine) Status(name string) (model.Status, bool) {
	d, ok := e.device(name)
	if !ok {
		return model.Status{}, false
	}
	return d.sess.Status(), true
}

func (e *Engine) device(name string) (*device, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.devices[name]
	return d, ok
}

// runDevice 设备协程：每个时隙轮询一次，释放总线后处理结果
func (e *Engine) runDevice(ctx context.Context, d *device, slots <-chan *scheduler.Slot) {
	for {
		select {
		case <-ctx.Done():
			return
		case slot := <-slots:
			begin := e.opts.Now()
			res, err := d.sess.Poll(ctx)
			slot.Done()
			e.met.PollDuration(d.desc.Name, e.opts.Now().Sub(begin))
			if err != nil {
				if ctx.Err() == nil {
					e.lc.Debugf("device %s: poll: %v", d.desc.Name, err)
				}
				continue
			}
			e.process(d, res)
		}
	}
}

// process 按序号顺序完成时间戳、诊断、写盘和分发
func (e *Engine) process(d *device, res session.Result) {
	name := d.desc.Name
	serialNo := d.sess.Status().SerialNumber
	for _, r := range res.Readings {
		sr := model.StampedReading{Reading: r}
		sr.Time = e.stamp.Stamp(name, r.Provisional)
		sr.Flags, sr.Derived = e.diag.Annotate(r, sr.Time)
		if sr.Flags.Has(model.FlagPartialData) {
			e.lc.Debugf("device %s: reading %d has absent channels", name, r.Seq)
		}
		// 写盘错误由 OnError 上报，采集继续
		_ = e.logs.Write(sr, serialNo)

		d.mu.Lock()
		latest := sr.Clone()
		d.latest = &latest
		d.mu.Unlock()

		e.met.Reading(name, sr.Flags.Has(model.FlagPartialData))
		e.readings.publish(sr)
	}
	if res.Settings != nil && keepsSettings(d.desc.Type) {
		_ = e.logs.WriteSettings(*res.Settings, serialNo)
	}
	if res.Identity != "" && res.Identity != d.desc.SerialNumber {
		e.lc.Debugf("device %s: serial number %s", name, res.Identity)
	}
	for _, reply := range res.Replies {
		e.lc.Infof("device %s: %s", name, reply)
	}
}

// keepsSettings 只有 CPC 和 PSM 写 .par 文件
func keepsSettings(t model.DeviceType) bool {
	return t == model.TypeCPC || t == model.TypePSM || t == model.TypePSM2
}

func (e *Engine) onStatus(st model.Status) {
	e.met.Connected(st.Device, st.State == model.StateConnected)
	if st.State == model.StateDisconnected || st.State == model.StateError {
		// 会话重新开始后 10 Hz 窗口重新积累
		e.diag.Reset(st.Device)
	}
	e.statuses.publish(st)
}

func (e *Engine) logError(err error) {
	e.met.LogError()
	e.logErrs.publish(err)
}
