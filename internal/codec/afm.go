package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/linjuya-lu/device_airmodus_go/internal/model"
	"github.com/linjuya-lu/device_airmodus_go/internal/serial"
)

// AFM 定长二进制记录：0x02 | 5 × int32 大端（×1000）| 0x03
const (
	afmStart   = 0x02
	afmEnd     = 0x03
	afmFields  = 5
	afmSize    = 1 + afmFields*4 + 1
	afmScale   = 1000
	afmMissing = math.MaxInt32
)

var afmChannels = []string{"flow", "standard_flow", "rh", "t", "p"}

type afmCodec struct{}

func newAFM() Codec { return afmCodec{} }

func (afmCodec) Type() model.DeviceType { return model.TypeAFM }

func (afmCodec) Framer() serial.FrameParser { return serial.FixedWidth(afmStart, afmEnd, afmSize) }

func (afmCodec) Handshake() bool { return false }

func (afmCodec) Layout() Layout { return Layout{Channels: append([]string(nil), afmChannels...)} }

func (afmCodec) Requests(PollOptions) [][]byte { return nil }

func (afmCodec) Decode(frame []byte) (Message, error) {
	if len(frame) != afmSize || frame[0] != afmStart || frame[afmSize-1] != afmEnd {
		return Message{}, fmt.Errorf("afm: bad record % X", frame)
	}
	msg := Message{Kind: KindMeasurement, Channels: make([]model.Channel, afmFields)}
	for i, name := range afmChannels {
		raw := int32(binary.BigEndian.Uint32(frame[1+i*4:]))
		v := math.NaN()
		if raw != afmMissing {
			v = float64(raw) / afmScale
		} else {
			msg.Partial = true
		}
		msg.Channels[i] = model.Channel{Name: name, Value: v}
	}
	return msg, nil
}

// EncodeAFMRecord 生成一条 AFM 记录，NaN 编码为缺失值
func EncodeAFMRecord(values []float64) []byte {
	frame := make([]byte, afmSize)
	frame[0], frame[afmSize-1] = afmStart, afmEnd
	for i := 0; i < afmFields; i++ {
		raw := int32(afmMissing)
		if i < len(values) && !math.IsNaN(values[i]) {
			raw = int32(math.Round(values[i] * afmScale))
		}
		binary.BigEndian.PutUint32(frame[1+i*4:], uint32(raw))
	}
	return frame
}

func (afmCodec) Settings(map[string][]float64, map[string]float64) ([]model.Channel, bool) {
	return nil, false
}

func (afmCodec) Encode(cmd Command) ([]byte, error) {
	return nil, model.NewCommandError(string(model.TypeAFM), cmd.Name)
}
