package diagnostics

import (
	"math"
	"testing"
	"time"

	"github.com/linjuya-lu/device_airmodus_go/internal/model"
)

func cpcReading(pulses, thr2 float64, status string) model.Reading {
	return model.Reading{
		Device: "cpc",
		Type:   model.TypeCPC,
		Channels: []model.Channel{
			{Name: "concentration", Value: 100},
			{Name: "pulses", Value: pulses},
			{Name: "pulses_thr2", Value: thr2},
		},
		Status: status,
	}
}

func TestPulseRatio(t *testing.T) {
	e := New(Config{PulseRatio: map[model.DeviceType]Band{model.TypeCPC: {Min: 0.8, Max: 1.2}}})
	now := time.Now()
	cases := []struct {
		name  string
		r     model.Reading
		flags model.Flags
		ratio float64
	}{
		{"in band", cpcReading(100, 95, "0"), 0, 0.95},
		{"low", cpcReading(100, 50, "0"), model.FlagLowQuality, 0.5},
		{"rounded", cpcReading(300, 100, "0"), model.FlagLowQuality, 0.33},
		{"zero denominator", cpcReading(0, 10, "0"), model.FlagPulseRatioIndeterminate, math.NaN()},
		{"missing channel", cpcReading(math.NaN(), 10, "0"), model.FlagPartialData, math.NaN()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			flags, derived := e.Annotate(tc.r, now)
			if flags != tc.flags {
				t.Fatalf("flags = %s, want %s", flags, tc.flags)
			}
			sr := model.StampedReading{Derived: derived}
			ratio, _ := sr.DerivedValue("pulse_ratio")
			if math.IsNaN(tc.ratio) != math.IsNaN(ratio) || (!math.IsNaN(ratio) && ratio != tc.ratio) {
				t.Fatalf("ratio = %v, want %v", ratio, tc.ratio)
			}
		})
	}
}

func TestDerivedNamesMatchAnnotate(t *testing.T) {
	e := New(Config{})
	_, derived := e.Annotate(cpcReading(100, 95, "0001"), time.Now())
	names := DerivedNames(model.TypeCPC, true)
	if len(names) != len(derived) {
		t.Fatalf("names = %v, derived = %v", names, derived)
	}
	for i, c := range derived {
		if c.Name != names[i] {
			t.Fatalf("derived[%d] = %s, want %s", i, c.Name, names[i])
		}
	}
	if n := DerivedNames(model.TypeRHTP, false); len(n) != 0 {
		t.Fatalf("rhtp derived = %v", n)
	}
}

func TestPulseRatioWithoutBand(t *testing.T) {
	e := New(Config{})
	flags, _ := e.Annotate(cpcReading(100, 1, ""), time.Now())
	if flags != 0 {
		t.Fatalf("flags without band = %s", flags)
	}
}

func TestDeviceErrorFromStatus(t *testing.T) {
	e := New(Config{})
	flags, derived := e.Annotate(cpcReading(100, 100, "0x"), time.Now())
	if flags.Has(model.FlagDeviceError) {
		t.Fatal("unparseable status flagged")
	}
	flags, derived = e.Annotate(cpcReading(100, 100, "0105"), time.Now())
	if !flags.Has(model.FlagDeviceError) {
		t.Fatal("device error not flagged")
	}
	sr := model.StampedReading{Derived: derived}
	if v, ok := sr.DerivedValue("total_errors"); !ok || v != 3 {
		t.Fatalf("total_errors = %v", v)
	}
}

func TestTenHzCheck(t *testing.T) {
	cfg := Config{TenHzWindow: 10 * time.Second, TenHzRate: 10, TenHzTolerance: 5}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feed := func(e *Engine, counts []int) []bool {
		var out []bool
		for i, n := range counts {
			r := model.Reading{Device: "cpc", Type: model.TypeCPC, HighRate: make([]float64, n)}
			flags, _ := e.Annotate(r, start.Add(time.Duration(i+1)*time.Second))
			out = append(out, flags.Has(model.FlagIntegrityWarning))
		}
		return out
	}
	repeat := func(n, times int) []int {
		out := make([]int, times)
		for i := range out {
			out[i] = n
		}
		return out
	}

	// 第一个窗口样本不足也不报警
	for i, warned := range feed(New(cfg), repeat(0, 10)) {
		if warned {
			t.Fatalf("warning during first window at %d", i)
		}
	}
	// 样本数恰好符合预期
	for i, warned := range feed(New(cfg), repeat(10, 30)) {
		if warned {
			t.Fatalf("warning with exact count at %d", i)
		}
	}
	// 每秒少 2 个，窗口内少 20 个，超过容差
	got := feed(New(cfg), repeat(8, 15))
	if got[9] {
		t.Fatal("warning before the window filled")
	}
	if !got[10] || !got[14] {
		t.Fatalf("short window not flagged: %v", got)
	}

	e := New(cfg)
	feed(e, repeat(8, 15))
	e.Reset("cpc")
	if feed(e, repeat(8, 1))[0] {
		t.Fatal("warning right after reset")
	}
}

func TestWindow(t *testing.T) {
	w := newWindow(3)
	for i := 1; i <= 4; i++ {
		w.Push(sample{n: i})
	}
	if w.Len() != 3 || w.At(0).n != 2 || w.At(2).n != 4 {
		t.Fatalf("window = %+v len %d", w.data, w.Len())
	}
	w.PopFront()
	if w.Len() != 2 || w.At(0).n != 3 {
		t.Fatalf("after pop: len %d first %d", w.Len(), w.At(0).n)
	}
	w.Reset()
	if w.Len() != 0 {
		t.Fatal("reset")
	}
}
