// Package scheduler 按各自的周期驱动设备轮询。
// 同一总线上的轮询串行执行，按最早截止时间优先；不同总线并行。
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/device_airmodus_go/internal/model"
)

// Interval 返回设备当前的轮询周期
type Interval func() time.Duration

// DeviceInterval 连接时按 poll 周期，断线时按 probe 周期探测
func DeviceInterval(poll, probe time.Duration, state func() model.State) Interval {
	return func() time.Duration {
		if probe > 0 && state() == model.StateDisconnected {
			return probe
		}
		return poll
	}
}

// Slot 一次独占总线的轮询时隙，持有者用完后必须调用 Done
type Slot struct {
	Device string
	Due    time.Time

	once sync.Once
	done chan struct{}
}

// Done 释放总线
func (s *Slot) Done() {
	s.once.Do(func() { close(s.done) })
}

// Options 调度参数
type Options struct {
	Logger   logger.LoggingClient
	Now      func() time.Time
	Hold     time.Duration // 单个时隙最长占用时间
	OnMissed func(device string, n int)
}

type bus struct {
	name string
	mu   sync.Mutex
	q    queue
	wake chan struct{}
}

func (b *bus) notify() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Scheduler 每条总线一个分发协程
type Scheduler struct {
	opts Options
	lc   logger.LoggingClient

	mu      sync.Mutex
	buses   map[string]*bus
	devices map[string]*item
	owner   map[string]*bus
	ctx     context.Context
	wg      sync.WaitGroup
}

var errRunning = errors.New("scheduler already running")

// New 创建调度器
func New(opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = logger.NewClient("scheduler", "INFO")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Hold <= 0 {
		opts.Hold = 5 * time.Second
	}
	return &Scheduler{
		opts:    opts,
		lc:      opts.Logger,
		buses:   make(map[string]*bus),
		devices: make(map[string]*item),
		owner:   make(map[string]*bus),
	}
}

// Add 登记设备，返回接收时隙的通道；首个时隙立即到期。
// busKey 相同的设备共用一条总线，为空时独占一条
func (s *Scheduler) Add(device, busKey string, interval Interval) (<-chan *Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[device]; ok {
		return nil, fmt.Errorf("scheduler: device %s already added", device)
	}
	key := busKey
	if key == "" {
		key = "dev:" + device
	}
	b, ok := s.buses[key]
	if !ok {
		b = &bus{name: key, wake: make(chan struct{}, 1)}
		s.buses[key] = b
		if s.ctx != nil {
			s.start(b)
		}
	}
	it := &item{
		name:     device,
		due:      s.opts.Now(),
		interval: interval,
		slots:    make(chan *Slot),
		gone:     make(chan struct{}),
	}
	b.mu.Lock()
	heap.Push(&b.q, it)
	b.mu.Unlock()
	b.notify()
	s.devices[device] = it
	s.owner[device] = b
	s.lc.Debugf("scheduler: device %s on bus %s", device, key)
	return it.slots, nil
}

// Remove 注销设备，之后不再下发时隙
func (s *Scheduler) Remove(device string) error {
	s.mu.Lock()
	it, ok := s.devices[device]
	b := s.owner[device]
	delete(s.devices, device)
	delete(s.owner, device)
	s.mu.Unlock()
	if !ok {
		return model.NewUnknownDeviceError(device)
	}
	b.mu.Lock()
	if it.index >= 0 {
		heap.Remove(&b.q, it.index)
	}
	b.mu.Unlock()
	close(it.gone)
	b.notify()
	return nil
}

// Missed 设备累计错过的周期数
func (s *Scheduler) Missed(device string) (uint64, bool) {
	s.mu.Lock()
	it, ok := s.devices[device]
	b := s.owner[device]
	s.mu.Unlock()
	if !ok {
		return 0, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return it.missed, true
}

// Run 运行到 ctx 取消，返回前等待所有分发协程退出
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return errRunning
	}
	s.ctx = ctx
	for _, b := range s.buses {
		s.start(b)
	}
	s.mu.Unlock()

	<-ctx.Done()
	s.wg.Wait()
	s.mu.Lock()
	s.ctx = nil
	s.mu.Unlock()
	return nil
}

// start 需持有 s.mu
func (s *Scheduler) start(b *bus) {
	s.wg.Add(1)
	go func(ctx context.Context) {
		defer s.wg.Done()
		s.dispatch(ctx, b)
	}(s.ctx)
}

func (s *Scheduler) dispatch(ctx context.Context, b *bus) {
	for {
		b.mu.Lock()
		if len(b.q) == 0 {
			b.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-b.wake:
				continue
			}
		}
		it := b.q[0]
		wait := it.due.Sub(s.opts.Now())
		b.mu.Unlock()

		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-b.wake:
			case <-t.C:
			}
			t.Stop()
			continue
		}

		now := s.opts.Now()
		b.mu.Lock()
		if it.index != 0 {
			// 等待期间被移除或队首已变化
			b.mu.Unlock()
			continue
		}
		due := it.due
		run, missed, next := plan(due, now, it.interval())
		it.due = next
		it.missed += uint64(missed)
		heap.Fix(&b.q, 0)
		b.mu.Unlock()

		if missed > 0 {
			s.lc.Warnf("scheduler: device %s missed %d cycle(s) on bus %s, next slot at %s",
				it.name, missed, b.name, next.Format("15:04:05.000"))
			if s.opts.OnMissed != nil {
				s.opts.OnMissed(it.name, missed)
			}
		}
		if !run {
			continue
		}
		s.hand(ctx, b, it, due)

		// 周期可能随连接状态改变
		b.mu.Lock()
		if it.index >= 0 {
			it.due = due.Add(it.interval())
			heap.Fix(&b.q, it.index)
		}
		b.mu.Unlock()
	}
}

// hand 把时隙交给设备协程，并等待其释放总线
func (s *Scheduler) hand(ctx context.Context, b *bus, it *item, due time.Time) {
	slot := &Slot{Device: it.name, Due: due, done: make(chan struct{})}
	hold := time.NewTimer(s.opts.Hold)
	defer hold.Stop()

	select {
	case it.slots <- slot:
	case <-it.gone:
		return
	case <-ctx.Done():
		return
	case <-hold.C:
		s.lc.Warnf("scheduler: device %s did not take its slot within %s", it.name, s.opts.Hold)
		return
	}
	select {
	case <-slot.done:
	case <-it.gone:
	case <-ctx.Done():
	case <-hold.C:
		s.lc.Warnf("scheduler: device %s held bus %s longer than %s", it.name, b.name, s.opts.Hold)
	}
}
