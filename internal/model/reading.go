// internal/model/reading.go

package model

import (
	"math"
	"strings"
	"time"
)

// Channel 一个命名通道；NaN 表示该通道本次无值
type Channel struct {
	Name  string
	Value float64
}

// Valid 通道是否携带有效数值
func (c Channel) Valid() bool {
	return !math.IsNaN(c.Value)
}

// Reading 编解码器产出的一条设备读数，产出后不再修改
type Reading struct {
	Device      string
	Type        DeviceType
	Seq         uint64    // 每台设备单调递增
	Provisional time.Time // 解码完成时的墙钟时间，待同步器定稿
	Channels    []Channel
	HighRate    []float64 // 10 Hz 通道在本周期内的样本
	Status      string    // 设备状态字（十六进制）
	Extra       []string  // 帧尾多出的字段
	Partial     bool
}

// Value 按名字取通道值，缺失或 NaN 时 ok 为 false
func (r Reading) Value(name string) (float64, bool) {
	for _, c := range r.Channels {
		if c.Name == name {
			return c.Value, c.Valid()
		}
	}
	return math.NaN(), false
}

// Clone 复制切片，交接给下一处理阶段时使用
func (r Reading) Clone() Reading {
	c := r
	c.Channels = append([]Channel(nil), r.Channels...)
	if r.HighRate != nil {
		// 空切片与 nil 含义不同：前者表示本周期 10 Hz 无样本
		c.HighRate = append(make([]float64, 0, len(r.HighRate)), r.HighRate...)
	}
	c.Extra = append([]string(nil), r.Extra...)
	return c
}

// Flags 诊断标志位集合
type Flags uint16

const (
	FlagDisconnected Flags = 1 << iota
	FlagPartialData
	FlagLowQuality
	FlagPulseRatioIndeterminate
	FlagIntegrityWarning
	FlagDeviceError
)

var flagNames = [...]string{
	"DISCONNECTED",
	"PARTIAL_DATA",
	"LOW_QUALITY",
	"PULSE_RATIO_INDETERMINATE",
	"INTEGRITY_WARNING",
	"DEVICE_ERROR",
}

// Has 是否包含 g 中全部标志
func (f Flags) Has(g Flags) bool {
	return f&g == g
}

// Names 按位序返回标志名
func (f Flags) Names() []string {
	var out []string
	for i, n := range flagNames {
		if f&(1<<i) != 0 {
			out = append(out, n)
		}
	}
	return out
}

func (f Flags) String() string {
	return strings.Join(f.Names(), "|")
}

// StampedReading 定稿时间戳并附带诊断结果的读数
type StampedReading struct {
	Reading
	Time    time.Time
	Flags   Flags
	Derived []Channel // 诊断派生量，如 pulse_ratio
}

// Clone 复制切片，分发给多个订阅者时使用
func (s StampedReading) Clone() StampedReading {
	c := s
	c.Reading = s.Reading.Clone()
	c.Derived = append([]Channel(nil), s.Derived...)
	return c
}

// DerivedValue 按名字取派生量
func (s StampedReading) DerivedValue(name string) (float64, bool) {
	for _, c := range s.Derived {
		if c.Name == name {
			return c.Value, c.Valid()
		}
	}
	return math.NaN(), false
}

// Settings 设备配置快照，写入 .par 文件
type Settings struct {
	Device string
	Time   time.Time
	Fields []Channel
}

// Equal 比较字段名与数值，NaN 视为相等
func (s Settings) Equal(o Settings) bool {
	if len(s.Fields) != len(o.Fields) {
		return false
	}
	for i, f := range s.Fields {
		g := o.Fields[i]
		if f.Name != g.Name {
			return false
		}
		if math.IsNaN(f.Value) && math.IsNaN(g.Value) {
			continue
		}
		if f.Value != g.Value {
			return false
		}
	}
	return true
}
