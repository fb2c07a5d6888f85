// internal/codec/codec.go

// Package codec 把设备原始帧解码为读数，并把操作命令编码为设备报文。
package codec

import (
	"errors"
	"fmt"

	"github.com/linjuya-lu/device_airmodus_go/internal/model"
	"github.com/linjuya-lu/device_airmodus_go/internal/serial"
)

// ErrIncompleteFrame 缓冲中还没有完整帧
var ErrIncompleteFrame = errors.New("incomplete frame")

// Kind 解码后的消息种类
type Kind int

const (
	KindUnknown Kind = iota
	KindMeasurement
	KindHighRate
	KindSettings
	KindIdentity
	KindReply
)

func (k Kind) String() string {
	switch k {
	case KindMeasurement:
		return "measurement"
	case KindHighRate:
		return "high-rate"
	case KindSettings:
		return "settings"
	case KindIdentity:
		return "identity"
	case KindReply:
		return "reply"
	default:
		return "unknown"
	}
}

// Message 一帧的解码结果
type Message struct {
	Kind     Kind
	Command  string          // 帧前缀，如 :MEAS:ALL
	Channels []model.Channel // 测量值
	HighRate []float64       // 10 Hz 样本
	Status   string          // 状态字（十六进制）
	Extra    []string        // 多出的字段
	Partial  bool            // 有字段缺失
	Section  string          // 设置段名
	Values   []float64       // 设置段原始数值
	Text     string          // 应答、序列号等文本
	Seq      uint64          // 设备自带的帧序号（仅二进制协议）
}

// Reading 转换为读数，序号和时间由会话填写
func (m Message) Reading(device string, t model.DeviceType) model.Reading {
	return model.Reading{
		Device:   device,
		Type:     t,
		Channels: append([]model.Channel(nil), m.Channels...),
		HighRate: append([]float64(nil), m.HighRate...),
		Status:   m.Status,
		Extra:    append([]string(nil), m.Extra...),
		Partial:  m.Partial,
	}
}

// PollOptions 一个轮询周期内影响请求内容的会话状态
type PollOptions struct {
	SerialKnown   bool // 已知序列号，不再发送 *IDN?
	TenHz         bool // 请求 10 Hz 浓度日志
	SettingsStale bool // 需要重新读取设置
}

// Command 一条操作命令
type Command struct {
	Name  string    // 命令名，如 t_saturator、drain、raw
	Value float64   // 设定值或开关量
	Args  []float64 // 列表参数（扫描/步进流量）
	Raw   string    // raw 命令原样发送
}

// Codec 一种设备协议
type Codec interface {
	Type() model.DeviceType
	// Framer 返回该协议的帧切分函数
	Framer() serial.FrameParser
	// Requests 返回一个轮询周期内要发送的请求，流式设备可返回空
	Requests(opts PollOptions) [][]byte
	// Decode 解码一帧，不依赖之前的帧
	Decode(frame []byte) (Message, error)
	// Encode 编码操作命令
	Encode(cmd Command) ([]byte, error)
	// Settings 由本周期收到的设置段和操作员参数组装设置快照，段不全时 ok 为 false
	Settings(sections map[string][]float64, params map[string]float64) (fields []model.Channel, ok bool)
	// Handshake 打开端口后是否需要先收到一次应答才算连接
	Handshake() bool
}

// CommandParser 文本协议实现，把编码后的命令还原
type CommandParser interface {
	ParseCommand(frame []byte) (Command, error)
}

// Layout 一种设备读数的固定通道顺序，Status 表示读数带状态字
type Layout struct {
	Channels []string
	Status   bool
}

// layouter 通道固定的协议实现
type layouter interface {
	Layout() Layout
}

// LayoutOf 设备类型的固定通道；通道数随帧变化的协议返回 false
func LayoutOf(t model.DeviceType) (Layout, bool) {
	c, err := New(t)
	if err != nil {
		return Layout{}, false
	}
	l, ok := c.(layouter)
	if !ok {
		return Layout{}, false
	}
	return l.Layout(), true
}

// New 按设备类型选择协议
func New(t model.DeviceType) (Codec, error) {
	switch t {
	case model.TypeCPC:
		return newCPC(), nil
	case model.TypePSM:
		return newPSM(false), nil
	case model.TypePSM2:
		return newPSM(true), nil
	case model.TypeRHTP:
		return newRHTP(), nil
	case model.TypeAFM:
		return newAFM(), nil
	case model.TypeElectrometer:
		return newElectrometer(), nil
	case model.TypeCO2:
		return newCO2(), nil
	case model.TypeEDiluter:
		return newEDiluter(), nil
	case model.TypeTSICPC:
		return newTSICPC(), nil
	case model.TypeExample:
		return newExample(), nil
	default:
		return nil, fmt.Errorf("no codec for device type %q", t)
	}
}

// ParseCommand 还原文本协议的命令；二进制协议不支持
func ParseCommand(c Codec, frame []byte) (Command, error) {
	p, ok := c.(CommandParser)
	if !ok {
		return Command{}, fmt.Errorf("%s: %w", c.Type(), model.ErrUnsupportedCommand)
	}
	return p.ParseCommand(frame)
}
