// Package diagnostics 由读数计算派生量和质量标志，不修改读数本身。
package diagnostics

import (
	"math"
	"math/bits"
	"strconv"
	"sync"
	"time"

	"github.com/linjuya-lu/device_airmodus_go/internal/model"
)

// Band 可接受区间
type Band struct {
	Min, Max float64
}

func (b Band) contains(v float64) bool { return v >= b.Min && v <= b.Max }

// Config 诊断门限，均由配置给出
type Config struct {
	PulseRatio     map[model.DeviceType]Band
	TenHzWindow    time.Duration
	TenHzRate      int
	TenHzTolerance int
}

// Engine 诊断引擎，按设备保存 10 Hz 窗口
type Engine struct {
	cfg Config

	mu      sync.Mutex
	windows map[string]*tenHz
}

type tenHz struct {
	samples *window
	first   time.Time
}

// New 创建诊断引擎
func New(cfg Config) *Engine {
	if cfg.TenHzWindow <= 0 {
		cfg.TenHzWindow = 10 * time.Second
	}
	if cfg.TenHzRate <= 0 {
		cfg.TenHzRate = 10
	}
	return &Engine{cfg: cfg, windows: make(map[string]*tenHz)}
}

// Annotate 计算标志和派生量；at 为读数的定稿时间
func (e *Engine) Annotate(r model.Reading, at time.Time) (model.Flags, []model.Channel) {
	var flags model.Flags
	var derived []model.Channel

	if r.Partial {
		flags |= model.FlagPartialData
	}
	for _, c := range r.Channels {
		if !c.Valid() {
			flags |= model.FlagPartialData
			break
		}
	}

	if r.Type == model.TypeCPC {
		ratio, f := e.pulseRatio(r)
		flags |= f
		derived = append(derived, model.Channel{Name: "pulse_ratio", Value: ratio})
	}

	if n, ok := totalErrors(r.Status); ok {
		derived = append(derived, model.Channel{Name: "total_errors", Value: float64(n)})
		if n != 0 {
			flags |= model.FlagDeviceError
		}
	}

	if r.HighRate != nil {
		if e.checkTenHz(r.Device, at, len(r.HighRate)) {
			flags |= model.FlagIntegrityWarning
		}
	}
	return flags, derived
}

// DerivedNames Annotate 为该类型输出的派生量名字，顺序一致
func DerivedNames(t model.DeviceType, status bool) []string {
	var names []string
	if t == model.TypeCPC {
		names = append(names, "pulse_ratio")
	}
	if status {
		names = append(names, "total_errors")
	}
	return names
}

// pulseRatio pulses_thr2 / pulses，保留两位小数；分母为 0 时不可判定
func (e *Engine) pulseRatio(r model.Reading) (float64, model.Flags) {
	num, okNum := r.Value("pulses_thr2")
	den, okDen := r.Value("pulses")
	if !okNum || !okDen {
		return math.NaN(), 0
	}
	if den == 0 {
		return math.NaN(), model.FlagPulseRatioIndeterminate
	}
	ratio := math.Round(num/den*100) / 100
	band, ok := e.cfg.PulseRatio[r.Type]
	if ok && !band.contains(ratio) {
		return ratio, model.FlagLowQuality
	}
	return ratio, 0
}

// totalErrors 状态字中置位的错误数
func totalErrors(status string) (int, bool) {
	if status == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(status, 16, 64)
	if err != nil {
		return 0, false
	}
	return bits.OnesCount64(v), true
}

// checkTenHz 窗口未填满前不判定；返回 true 表示样本数偏差超出容差
func (e *Engine) checkTenHz(device string, at time.Time, n int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.windows[device]
	if !ok {
		w = &tenHz{samples: newWindow(e.capacity()), first: at}
		e.windows[device] = w
	}
	w.samples.Push(sample{at: at, n: n})

	start := at.Add(-e.cfg.TenHzWindow)
	// 保留窗口起点之前最近的一条作为锚点
	for w.samples.Len() >= 2 && !w.samples.At(1).at.After(start) {
		w.samples.PopFront()
	}
	anchor := w.samples.At(0)
	if anchor.at.After(start) || at.Sub(w.first) < e.cfg.TenHzWindow {
		return false
	}
	count := 0
	for i := 1; i < w.samples.Len(); i++ {
		count += w.samples.At(i).n
	}
	expected := float64(e.cfg.TenHzRate) * at.Sub(anchor.at).Seconds()
	return math.Abs(float64(count)-expected) > float64(e.cfg.TenHzTolerance)
}

// capacity 窗口最多容纳的轮询次数，按 100 ms 一次估算
func (e *Engine) capacity() int {
	return int(e.cfg.TenHzWindow/(100*time.Millisecond)) + 2
}

// Reset 会话重启后重新积累窗口
func (e *Engine) Reset(device string) {
	e.mu.Lock()
	delete(e.windows, device)
	e.mu.Unlock()
}
