package driver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/models"

	"github.com/linjuya-lu/device_airmodus_go/internal/config"
	"github.com/linjuya-lu/device_airmodus_go/internal/model"
)

// 设备 protocols 中的协议名，属性键与 YAML 中的设备项一一对应
const protocolSerial = "serial"

// deviceFromProtocols 由 EdgeX 设备的协议属性生成设备项，补默认值并校验
func deviceFromProtocols(name string, protocols map[string]models.ProtocolProperties) (config.Device, error) {
	p, ok := protocols[protocolSerial]
	if !ok {
		return config.Device{}, errors.NewCommonEdgeX(errors.KindContractInvalid,
			fmt.Sprintf("device %s: missing %q protocol properties", name, protocolSerial), nil)
	}
	d := config.Device{
		Name:         name,
		Type:         property(p, "Type"),
		Device:       property(p, "Port"),
		PortType:     strings.ToLower(property(p, "PortType")),
		Bus:          property(p, "Bus"),
		SerialNumber: property(p, "SerialNumber"),
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"Baud", &d.Baudrate},
		{"PollIntervalMs", &d.PollIntervalMs},
		{"TimeoutMs", &d.TimeoutMs},
		{"ProbeIntervalMs", &d.ProbeIntervalMs},
		{"DEPin", &d.DEPin},
	}
	for _, f := range ints {
		s := property(p, f.key)
		if s == "" {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return config.Device{}, errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("device %s: %s=%q is not an integer", name, f.key, s), err)
		}
		*f.dst = v
	}
	if s := property(p, "TenHz"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return config.Device{}, errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("device %s: TenHz=%q is not a bool", name, s), err)
		}
		d.TenHz = v
	}

	d = config.WithDefaults(d)
	if err := config.ValidateDevice(d); err != nil {
		return config.Device{}, errors.NewCommonEdgeX(errors.KindContractInvalid, "invalid device", err)
	}
	return d, nil
}

func descriptorFromProtocols(name string, protocols map[string]models.ProtocolProperties) (model.Descriptor, error) {
	d, err := deviceFromProtocols(name, protocols)
	if err != nil {
		return model.Descriptor{}, err
	}
	return d.Descriptor()
}

// property 属性值可能是字符串或 JSON 数字
func property(p models.ProtocolProperties, key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
