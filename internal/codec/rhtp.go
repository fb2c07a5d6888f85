package codec

import (
	"math"
	"strings"

	"github.com/linjuya-lu/device_airmodus_go/internal/model"
	"github.com/linjuya-lu/device_airmodus_go/internal/serial"
)

var rhtpChannels = []string{"rh", "t", "p"}

// rhtpCodec 温湿压传感器，周期推送 "rh, t, p"
type rhtpCodec struct{}

func newRHTP() Codec { return rhtpCodec{} }

func (rhtpCodec) Type() model.DeviceType { return model.TypeRHTP }

func (rhtpCodec) Framer() serial.FrameParser { return serial.Delimited([]byte(crlf)) }

func (rhtpCodec) Handshake() bool { return false }

func (rhtpCodec) Layout() Layout { return Layout{Channels: append([]string(nil), rhtpChannels...)} }

func (rhtpCodec) Requests(opts PollOptions) [][]byte {
	if opts.SerialKnown {
		return nil
	}
	return [][]byte{request("*IDN?")}
}

func (rhtpCodec) Decode(frame []byte) (Message, error) {
	return decodeSensor(frame, ",", rhtpChannels, true)
}

// decodeSensor 传感器的一行数据；zeroNaN 时首值为 0 表示本次无效
func decodeSensor(frame []byte, sep string, names []string, zeroNaN bool) (Message, error) {
	text := strings.TrimSpace(string(frame))
	if sn, ok := strings.CutPrefix(text, "*IDN "); ok {
		return Message{Kind: KindIdentity, Command: "*IDN", Text: strings.TrimSpace(sn)}, nil
	}
	if !strings.Contains(text, sep) && math.IsNaN(parseFloat(text)) {
		return Message{Kind: KindReply, Text: text}, nil
	}
	msg := Message{Kind: KindMeasurement}
	msg.Channels, msg.Partial, msg.Extra = fill(names, splitFields(text, sep))
	if zeroNaN && msg.Channels[0].Value == 0 {
		invalidate(msg.Channels)
		msg.Partial = true
	}
	return msg, nil
}

func (rhtpCodec) Settings(map[string][]float64, map[string]float64) ([]model.Channel, bool) {
	return nil, false
}

func (rhtpCodec) Encode(cmd Command) ([]byte, error) {
	return sensorCommands.encode(model.TypeRHTP, cmd)
}

func (rhtpCodec) ParseCommand(frame []byte) (Command, error) {
	return sensorCommands.parse(frame)
}

// 传感器只支持 raw 和序列号查询
var sensorCommands = commandTable{
	{"identify", "*IDN?", formatNone},
}
