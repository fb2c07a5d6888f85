package codec

import (
	"strings"

	"github.com/linjuya-lu/device_airmodus_go/internal/model"
	"github.com/linjuya-lu/device_airmodus_go/internal/serial"
)

var ediluterChannels = []string{
	"status", "p1", "p2",
	"t1", "t2", "t3", "t4", "t5", "t6",
	"df1", "df2", "df_tot",
}

// eDiluter 不接受查询，只能发送原样命令
var ediluterCommands = commandTable{}

type ediluterCodec struct{}

func newEDiluter() Codec { return ediluterCodec{} }

func (ediluterCodec) Type() model.DeviceType { return model.TypeEDiluter }

func (ediluterCodec) Framer() serial.FrameParser { return serial.Delimited([]byte(crlf)) }

func (ediluterCodec) Handshake() bool { return false }

func (ediluterCodec) Layout() Layout {
	return Layout{Channels: append([]string(nil), ediluterChannels...), Status: true}
}

func (ediluterCodec) Requests(PollOptions) [][]byte { return nil }

// Decode 推送行形如 "time ... ID x, Status s, presP1 v, ..., DFtot v"
func (ediluterCodec) Decode(frame []byte) (Message, error) {
	text := strings.TrimSpace(string(frame))
	head, _, _ := strings.Cut(text, " ")
	switch head {
	case "time":
		_, data, ok := strings.Cut(text, "Status ")
		if !ok {
			return Message{Kind: KindUnknown, Text: text}, nil
		}
		fields := splitFields(data, ",")
		// 每个字段只保留最后一个词，去掉 presP1/tempT1/DFa 之类的标签
		for i, f := range fields {
			if j := strings.LastIndexByte(f, ' '); j >= 0 {
				fields[i] = f[j+1:]
			}
		}
		msg := Message{Kind: KindMeasurement, Command: head}
		if len(fields) > 0 {
			msg.Status = fields[0]
		}
		msg.Channels, msg.Partial, msg.Extra = fill(ediluterChannels, fields)
		return msg, nil
	case "SUCCESS:", "ERROR:":
		return Message{Kind: KindReply, Command: strings.TrimSuffix(head, ":"), Text: text}, nil
	default:
		return Message{Kind: KindUnknown, Text: text}, nil
	}
}

func (ediluterCodec) Settings(map[string][]float64, map[string]float64) ([]model.Channel, bool) {
	return nil, false
}

func (ediluterCodec) Encode(cmd Command) ([]byte, error) {
	return ediluterCommands.encode(model.TypeEDiluter, cmd)
}

func (ediluterCodec) ParseCommand(frame []byte) (Command, error) {
	return ediluterCommands.parse(frame)
}
