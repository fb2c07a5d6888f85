package codec

import (
	"math"
	"sort"
	"strings"

	"github.com/linjuya-lu/device_airmodus_go/internal/model"
	"github.com/linjuya-lu/device_airmodus_go/internal/serial"
)

var psmChannels = []string{
	"sat_flow", "excess_flow",
	"t_growth_tube", "t_saturator", "t_inlet", "t_heater", "t_drain", "t_cabin",
	"reserved", "p_abs", "dp_saturator", "dp_excess", "p_critical_orifice",
}

// 测量模式由帧前缀决定
var psmModes = map[string]float64{
	":MEAS:SCAN": 1,
	":MEAS:STEP": 2,
	":MEAS:FIXD": 3,
}

var psmSettings = []string{
	"t_growth_tube_set", "t_saturator_set", "t_inlet_set", "t_heater_set", "t_drain_set",
	"cpc_flow_stored",
}

var psmCommands = commandTable{
	{"t_growth_tube", ":SET:TEMP:GT", format2dp},
	{"t_saturator", ":SET:TEMP:SAT", format2dp},
	{"t_inlet", ":SET:TEMP:INL", format2dp},
	{"t_heater", ":SET:TEMP:PRE", format2dp},
	{"t_drain", ":SET:TEMP:DRN", format2dp},
	{"cpc_flow", ":SET:FLOW:CPC", format3dp},
	{"fixed_flow", ":SET:FLOW:FXD", format3dp},
	{"scan", ":SET:FLOW:SCAN", formatList},
	{"step", ":SET:FLOW:STEP", formatList},
	{"autofill", ":SET:AFLL", formatSwitch},
	{"drain", ":SET:DRN", formatSwitch},
	{"dry", ":SET:DRY", formatNone},
	{"run", ":SET:RUN", formatNone},
}

type psmCodec struct {
	psm2 bool
}

func newPSM(psm2 bool) Codec { return psmCodec{psm2: psm2} }

func (p psmCodec) Type() model.DeviceType {
	if p.psm2 {
		return model.TypePSM2
	}
	return model.TypePSM
}

func (psmCodec) Framer() serial.FrameParser { return serial.Delimited([]byte("\r")) }

func (psmCodec) Handshake() bool { return false }

func (p psmCodec) Layout() Layout {
	names := append(append([]string(nil), p.channels()...), "measure_mode")
	return Layout{Channels: names, Status: true}
}

// Requests PSM 主动推送测量值，只在需要时读取设置和序列号
func (psmCodec) Requests(opts PollOptions) [][]byte {
	var reqs [][]byte
	if opts.SettingsStale {
		reqs = append(reqs, request(":SYST:PRNT"))
	}
	if !opts.SerialKnown {
		reqs = append(reqs, request("*IDN?"))
	}
	return reqs
}

func (p psmCodec) channels() []string {
	if p.psm2 {
		return append(append([]string(nil), psmChannels...), "vacuum_flow")
	}
	return psmChannels
}

func (p psmCodec) Decode(frame []byte) (Message, error) {
	cmd, data := splitCommand(frame)
	msg := Message{Command: cmd}
	if mode, ok := psmModes[cmd]; ok {
		fields := splitFields(data, ",")
		note := ""
		// 状态字和提示字固定在最后两个字段
		if n := len(fields); n >= 2 && isHex(fields[n-2]) {
			msg.Status, note = fields[n-2], fields[n-1]
			fields = fields[:n-2]
		} else {
			msg.Partial = true
		}
		msg.Kind = KindMeasurement
		ch, partial, extra := fill(p.channels(), fields)
		msg.Channels = append(ch, model.Channel{Name: "measure_mode", Value: mode})
		msg.Partial = msg.Partial || partial
		msg.Extra = extra
		msg.Text = note // 液位等提示字
		return msg, nil
	}
	switch cmd {
	case ":SYST:PRNT":
		msg.Kind, msg.Section = KindSettings, sectionPRNT
		msg.Values = parseFloats(splitFields(data, ","))
	case "*IDN":
		msg.Kind, msg.Text = KindIdentity, data
	default:
		msg.Kind = KindReply
		msg.Text = strings.TrimSpace(string(frame))
	}
	return msg, nil
}

// Settings prnt 第 1..6 项为设定值，之后追加进气流量、CO 流量和稀释参数
func (p psmCodec) Settings(sections map[string][]float64, params map[string]float64) ([]model.Channel, bool) {
	prnt, ok := sections[sectionPRNT]
	if !ok || len(prnt) == 0 {
		return nil, false
	}
	fields := make([]model.Channel, 0, len(psmSettings)+2+len(params))
	for i, name := range psmSettings {
		fields = append(fields, model.Channel{Name: name, Value: at(prnt, i+1)})
	}
	fields = append(fields, model.Channel{Name: "inlet_flow", Value: math.NaN()})
	if !p.psm2 {
		co := math.NaN()
		if v, ok := params["co_flow"]; ok {
			co = math.Round(v*100) / 100
		}
		fields = append(fields, model.Channel{Name: "co_flow", Value: co})
	}
	var dilution []string
	for k := range params {
		if strings.HasPrefix(k, "dilution_") {
			dilution = append(dilution, k)
		}
	}
	sort.Strings(dilution)
	for _, k := range dilution {
		fields = append(fields, model.Channel{Name: k, Value: params[k]})
	}
	return fields, true
}

func (p psmCodec) Encode(cmd Command) ([]byte, error) {
	return psmCommands.encode(p.Type(), cmd)
}

func (psmCodec) ParseCommand(frame []byte) (Command, error) {
	return psmCommands.parse(frame)
}
