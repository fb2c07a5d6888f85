package codec

import (
	"bytes"
	"math"
	"strconv"
	"strings"

	"github.com/linjuya-lu/device_airmodus_go/internal/model"
	"github.com/linjuya-lu/device_airmodus_go/internal/serial"
)

var tsiCommands = commandTable{
	{"read_concentration", "RD", formatNone},
	{"read_errors", "RIE", formatNone},
}

// tsiCodec TSI CPC：RD 返回浓度，RIE 返回十六进制错误字，两行一组
type tsiCodec struct{}

func newTSICPC() Codec { return tsiCodec{} }

func (tsiCodec) Type() model.DeviceType { return model.TypeTSICPC }

// Framer 把 RD、RIE 两条以 \r 结尾的应答合成一帧
func (tsiCodec) Framer() serial.FrameParser {
	return func(buf []byte) ([]byte, []byte, error) {
		// 跳过行首残留的换行
		buf = bytes.TrimLeft(buf, "\r\n")
		i := bytes.IndexByte(buf, '\r')
		if i < 0 {
			return nil, buf, nil
		}
		j := bytes.IndexByte(buf[i+1:], '\r')
		if j < 0 {
			return nil, buf, nil
		}
		end := i + 1 + j
		return buf[:end], buf[end+1:], nil
	}
}

func (tsiCodec) Handshake() bool { return true }

func (tsiCodec) Layout() Layout { return Layout{Channels: []string{"concentration"}, Status: true} }

func (tsiCodec) Requests(PollOptions) [][]byte {
	return [][]byte{request("RD"), request("RIE")}
}

func (tsiCodec) Decode(frame []byte) (Message, error) {
	conc, errs, _ := strings.Cut(string(frame), "\r")
	conc, errs = strings.TrimSpace(conc), strings.TrimSpace(errs)
	msg := Message{Kind: KindMeasurement, Command: "RD"}
	msg.Channels = []model.Channel{{Name: "concentration", Value: parseFloat(conc)}}
	if _, err := strconv.ParseUint(errs, 16, 32); err == nil {
		msg.Status = errs
	} else {
		msg.Partial = true
		if errs != "" {
			msg.Extra = []string{errs}
		}
	}
	if math.IsNaN(msg.Channels[0].Value) {
		msg.Partial = true
	}
	return msg, nil
}

func (tsiCodec) Settings(map[string][]float64, map[string]float64) ([]model.Channel, bool) {
	return nil, false
}

func (tsiCodec) Encode(cmd Command) ([]byte, error) {
	return tsiCommands.encode(model.TypeTSICPC, cmd)
}

func (tsiCodec) ParseCommand(frame []byte) (Command, error) {
	return tsiCommands.parse(frame)
}
