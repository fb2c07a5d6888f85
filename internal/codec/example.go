package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/linjuya-lu/device_airmodus_go/internal/model"
	"github.com/linjuya-lu/device_airmodus_go/internal/serial"
)

// 模拟设备帧：0x68 L L 0x68 | seq uint16 LE | n × float32 LE | CS 0x16
const (
	exampleStart = 0x68
	exampleEnd   = 0x16
)

type exampleCodec struct{}

func newExample() Codec { return exampleCodec{} }

func (exampleCodec) Type() model.DeviceType { return model.TypeExample }

func (exampleCodec) Framer() serial.FrameParser {
	return serial.LengthPrefixed(exampleStart, exampleEnd)
}

func (exampleCodec) Handshake() bool { return false }

func (exampleCodec) Requests(PollOptions) [][]byte { return nil }

func (exampleCodec) Decode(frame []byte) (Message, error) {
	payload := serial.LengthPrefixedPayload(frame)
	if len(payload) < 2 || (len(payload)-2)%4 != 0 {
		return Message{}, fmt.Errorf("example: bad payload length %d", len(payload))
	}
	n := (len(payload) - 2) / 4
	msg := Message{
		Kind:     KindMeasurement,
		Seq:      uint64(binary.LittleEndian.Uint16(payload)),
		Channels: make([]model.Channel, n),
	}
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(payload[2+i*4:])
		msg.Channels[i] = model.Channel{Name: exampleChannel(i), Value: float64(math.Float32frombits(bits))}
	}
	if n == 0 {
		msg.Partial = true
	}
	return msg, nil
}

func exampleChannel(i int) string {
	if i == 0 {
		return "value"
	}
	return "value_" + strconv.Itoa(i+1)
}

// EncodeReading 把读数编码为模拟设备帧，序号取低 16 位
func EncodeReading(r model.Reading) ([]byte, error) {
	payload := make([]byte, 2+4*len(r.Channels))
	binary.LittleEndian.PutUint16(payload, uint16(r.Seq))
	for i, c := range r.Channels {
		binary.LittleEndian.PutUint32(payload[2+i*4:], math.Float32bits(float32(c.Value)))
	}
	return serial.BuildLengthPrefixed(exampleStart, exampleEnd, payload)
}

func (exampleCodec) Settings(map[string][]float64, map[string]float64) ([]model.Channel, bool) {
	return nil, false
}

func (exampleCodec) Encode(cmd Command) ([]byte, error) {
	return nil, model.NewCommandError(string(model.TypeExample), cmd.Name)
}
