package codec

import (
	"math"
	"strings"

	"github.com/linjuya-lu/device_airmodus_go/internal/model"
	"github.com/linjuya-lu/device_airmodus_go/internal/serial"
)

// CPC :MEAS:ALL 的通道顺序，完整帧的最后一个字段为状态字
var cpcChannels = []string{
	"concentration", "pulses", "dead_time", "pulses_thr2", "pulse_duration",
	"t_saturator", "t_optics", "t_condenser", "t_cabin",
	"p_inlet", "p_critical_orifice", "p_nozzle", "p_cabin",
	"flow", "liquid_level", "opc_voltage",
}

// CPCChannels 返回 CPC 测量通道名
func CPCChannels() []string { return append([]string(nil), cpcChannels...) }

const (
	sectionPRNT = "prnt"
	sectionPALL = "pall"
)

// 设置快照字段：来自 prnt 还是 pall，以及下标
var cpcSettings = []struct {
	name    string
	section string
	index   int
}{
	{"averaging_time", sectionPRNT, 5},
	{"nominal_flow", sectionPALL, 24},
	{"flow", sectionPRNT, 10},
	{"t_saturator_set", sectionPRNT, 8},
	{"t_condenser_set", sectionPRNT, 6},
	{"t_optics_set", sectionPRNT, 7},
	{"autofill", sectionPRNT, 1},
	{"opc_threshold", sectionPALL, 26},
	{"opc_threshold2", sectionPALL, 27},
	{"water_removal", sectionPRNT, 4},
	{"dead_time_correction", sectionPRNT, 12},
	{"drain", sectionPRNT, 2},
	{"k_factor", sectionPALL, 20},
	{"tau", sectionPALL, 25},
}

var cpcCommands = commandTable{
	{"t_saturator", ":SET:TEMP:SAT", format2dp},
	{"t_condenser", ":SET:TEMP:CON", format2dp},
	{"averaging_time", ":SET:TAVG", formatInt},
	{"flow", ":SET:FLOW", format3dp},
	{"opc_threshold", ":SET:OPC:THRS", formatInt},
	{"drain", ":SET:DRN", formatSwitch},
	{"autofill", ":SET:AFLL", formatSwitch},
	{"water_removal", ":SET:WREM", formatSwitch},
	{"self_test", ":STAT:SELF:LOG", formatNone},
}

type cpcCodec struct{}

func newCPC() Codec { return cpcCodec{} }

func (cpcCodec) Type() model.DeviceType { return model.TypeCPC }

func (cpcCodec) Framer() serial.FrameParser { return serial.Delimited([]byte("\r")) }

func (cpcCodec) Handshake() bool { return true }

func (cpcCodec) Layout() Layout { return Layout{Channels: CPCChannels(), Status: true} }

func (cpcCodec) Requests(opts PollOptions) [][]byte {
	reqs := [][]byte{request(":MEAS:ALL"), request(":SYST:PRNT"), request(":SYST:PALL")}
	if opts.TenHz {
		reqs = append(reqs, request(":MEAS:OPC_CONC_LOG"))
	}
	if !opts.SerialKnown {
		reqs = append(reqs, request("*IDN?"))
	}
	return reqs
}

func (cpcCodec) Decode(frame []byte) (Message, error) {
	cmd, data := splitCommand(frame)
	msg := Message{Command: cmd}
	switch cmd {
	case ":MEAS:ALL":
		fields := splitFields(data, ",")
		var ok bool
		if fields, msg.Status, ok = cutStatus(fields, len(cpcChannels)); !ok {
			msg.Partial = true
		}
		msg.Kind = KindMeasurement
		ch, partial, extra := fill(cpcChannels, fields)
		msg.Channels, msg.Extra = ch, extra
		msg.Partial = msg.Partial || partial
	case ":SYST:PRNT":
		msg.Kind, msg.Section = KindSettings, sectionPRNT
		msg.Values = parseFloats(splitFields(data, ","))
	case ":SYST:PALL":
		// 第 22、23 项为设备 ID 和固件字母，解析为 NaN
		msg.Kind, msg.Section = KindSettings, sectionPALL
		msg.Values = parseFloats(splitFields(data, ","))
	case ":MEAS:OPC_CONC_LOG":
		msg.Kind = KindHighRate
		msg.HighRate = parseFloats(splitFields(data, ","))
	case "*IDN":
		msg.Kind, msg.Text = KindIdentity, data
	case ":STAT:SELF:LOG":
		msg.Kind, msg.Status = KindReply, data
		msg.Text = strings.TrimSpace(string(frame))
	default:
		msg.Kind = KindReply
		msg.Text = strings.TrimSpace(string(frame))
	}
	return msg, nil
}

func (cpcCodec) Settings(sections map[string][]float64, _ map[string]float64) ([]model.Channel, bool) {
	prnt, pall := sections[sectionPRNT], sections[sectionPALL]
	if math.IsNaN(at(prnt, 0)) || math.IsNaN(at(pall, 0)) {
		return nil, false
	}
	fields := make([]model.Channel, len(cpcSettings))
	for i, s := range cpcSettings {
		src := prnt
		if s.section == sectionPALL {
			src = pall
		}
		fields[i] = model.Channel{Name: s.name, Value: at(src, s.index)}
	}
	return fields, true
}

func (cpcCodec) Encode(cmd Command) ([]byte, error) {
	return cpcCommands.encode(model.TypeCPC, cmd)
}

func (cpcCodec) ParseCommand(frame []byte) (Command, error) {
	return cpcCommands.parse(frame)
}
