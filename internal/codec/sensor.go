package codec

import (
	"github.com/linjuya-lu/device_airmodus_go/internal/model"
	"github.com/linjuya-lu/device_airmodus_go/internal/serial"
)

// queryCodec 一问一答的分号分隔传感器：静电计和 CO2
type queryCodec struct {
	typ      model.DeviceType
	query    string
	channels []string
	zeroNaN  bool // 首值为 0 时整行无效
}

func newElectrometer() Codec {
	return queryCodec{
		typ:      model.TypeElectrometer,
		query:    ":MEAS:V",
		channels: []string{"voltage_1", "voltage_2", "voltage_3"},
	}
}

func newCO2() Codec {
	return queryCodec{
		typ:      model.TypeCO2,
		query:    ":MEAS:CO2",
		channels: []string{"co2", "t", "rh"},
		zeroNaN:  true,
	}
}

func (q queryCodec) Type() model.DeviceType { return q.typ }

func (queryCodec) Framer() serial.FrameParser { return serial.Delimited([]byte(crlf)) }

func (queryCodec) Handshake() bool { return true }

func (q queryCodec) Layout() Layout { return Layout{Channels: append([]string(nil), q.channels...)} }

func (q queryCodec) Requests(opts PollOptions) [][]byte {
	reqs := [][]byte{request(q.query)}
	if !opts.SerialKnown && q.typ == model.TypeCO2 {
		reqs = append(reqs, request("*IDN?"))
	}
	return reqs
}

func (q queryCodec) Decode(frame []byte) (Message, error) {
	msg, err := decodeSensor(frame, ";", q.channels, q.zeroNaN)
	if msg.Kind == KindMeasurement {
		msg.Command = q.query
	}
	return msg, err
}

func (queryCodec) Settings(map[string][]float64, map[string]float64) ([]model.Channel, bool) {
	return nil, false
}

func (q queryCodec) Encode(cmd Command) ([]byte, error) {
	return sensorCommands.encode(q.typ, cmd)
}

func (queryCodec) ParseCommand(frame []byte) (Command, error) {
	return sensorCommands.parse(frame)
}
