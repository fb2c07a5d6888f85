package driver

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	dsModels "github.com/edgexfoundry/device-sdk-go/v4/pkg/models"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/common"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/models"

	"github.com/linjuya-lu/device_airmodus_go/internal/model"
)

func newTestDriver(asyncCh chan<- *dsModels.AsyncValues) *AirmodusDriver {
	d := new(AirmodusDriver)
	d.setup(logger.NewMockClient(), asyncCh)
	return d
}

func commandValue(t *testing.T, name, valueType string, v interface{}) *dsModels.CommandValue {
	t.Helper()
	cv, err := dsModels.NewCommandValue(name, valueType, v)
	if err != nil {
		t.Fatalf("NewCommandValue(%s): %v", valueType, err)
	}
	return cv
}

func TestDeviceFromProtocols(t *testing.T) {
	tests := []struct {
		name    string
		props   models.ProtocolProperties
		wantErr bool
		check   func(t *testing.T, d model.Descriptor)
	}{
		{
			name:  "rs485 on shared bus",
			props: models.ProtocolProperties{"Type": "PSM", "Port": "/dev/ttyS1", "PortType": "RS485", "Baud": "9600", "Bus": "a", "DEPin": 17},
			check: func(t *testing.T, d model.Descriptor) {
				if d.Type != model.TypePSM || d.Baudrate != 9600 || d.PortType != "rs485" || d.DEPin != 17 {
					t.Fatalf("descriptor = %+v", d)
				}
				if d.BusKey() != "bus:a" || d.PollInterval != time.Second {
					t.Fatalf("bus key %q poll %v", d.BusKey(), d.PollInterval)
				}
			},
		},
		{
			name:  "numbers from json",
			props: models.ProtocolProperties{"Type": "CPC", "Port": "/dev/ttyUSB0", "PollIntervalMs": float64(500), "TenHz": "true"},
			check: func(t *testing.T, d model.Descriptor) {
				if d.PollInterval != 500*time.Millisecond || !d.TenHz || d.PortType != "uart" {
					t.Fatalf("descriptor = %+v", d)
				}
			},
		},
		{name: "unknown type", props: models.ProtocolProperties{"Type": "SMPS", "Port": "/dev/x"}, wantErr: true},
		{name: "bad baud", props: models.ProtocolProperties{"Type": "CPC", "Port": "/dev/x", "Baud": "fast"}, wantErr: true},
		{name: "missing port", props: models.ProtocolProperties{"Type": "CPC"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := descriptorFromProtocols("dev", map[string]models.ProtocolProperties{protocolSerial: tt.props})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", d)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, d)
		})
	}
	if _, err := descriptorFromProtocols("dev", nil); err == nil {
		t.Fatal("missing serial protocol accepted")
	}
}

func TestCommandFromValues(t *testing.T) {
	d := newTestDriver(nil)
	tests := []struct {
		name  string
		req   dsModels.CommandRequest
		param *dsModels.CommandValue
		check func(name string, value float64, args []float64, raw string) bool
	}{
		{
			name:  "float",
			req:   dsModels.CommandRequest{DeviceResourceName: "t_saturator"},
			param: commandValue(t, "t_saturator", common.ValueTypeFloat32, float32(36.5)),
			check: func(n string, v float64, _ []float64, _ string) bool { return n == "t_saturator" && v == 36.5 },
		},
		{
			name:  "bool switch",
			req:   dsModels.CommandRequest{DeviceResourceName: "drain"},
			param: commandValue(t, "drain", common.ValueTypeBool, true),
			check: func(n string, v float64, _ []float64, _ string) bool { return n == "drain" && v == 1 },
		},
		{
			name:  "uint with command attribute",
			req:   dsModels.CommandRequest{DeviceResourceName: "AveragingTime", Attributes: map[string]interface{}{"command": "averaging_time"}},
			param: commandValue(t, "AveragingTime", common.ValueTypeUint16, uint16(10)),
			check: func(n string, v float64, _ []float64, _ string) bool { return n == "averaging_time" && v == 10 },
		},
		{
			name:  "int",
			req:   dsModels.CommandRequest{DeviceResourceName: "opc_threshold"},
			param: commandValue(t, "opc_threshold", common.ValueTypeInt32, int32(-3)),
			check: func(n string, v float64, _ []float64, _ string) bool { return v == -3 },
		},
		{
			name:  "array args",
			req:   dsModels.CommandRequest{DeviceResourceName: "scan"},
			param: commandValue(t, "scan", common.ValueTypeFloat64Array, []float64{0.1, 1.9, 240}),
			check: func(n string, _ float64, a []float64, _ string) bool { return n == "scan" && len(a) == 3 && a[2] == 240 },
		},
		{
			name:  "raw string",
			req:   dsModels.CommandRequest{DeviceResourceName: "raw"},
			param: commandValue(t, "raw", common.ValueTypeString, ":SYST:RSET\r\n"),
			check: func(n string, _ float64, _ []float64, r string) bool { return n == "raw" && r == ":SYST:RSET" },
		},
		{
			name:  "raw binary",
			req:   dsModels.CommandRequest{DeviceResourceName: "passthrough"},
			param: commandValue(t, "passthrough", common.ValueTypeBinary, []byte("*IDN?")),
			check: func(n string, _ float64, _ []float64, r string) bool { return n == "raw" && r == "*IDN?" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := d.command(tt.req, tt.param)
			if err != nil {
				t.Fatal(err)
			}
			if !tt.check(cmd.Name, cmd.Value, cmd.Args, cmd.Raw) {
				t.Fatalf("command = %+v", cmd)
			}
		})
	}
}

func TestReadFromLatestValues(t *testing.T) {
	d := newTestDriver(nil)
	d.db.ApplyStatus(model.Status{Device: "cpc1", State: model.StateConnected})
	d.db.ApplyReading(model.StampedReading{
		Reading: model.Reading{
			Device:   "cpc1",
			Type:     model.TypeCPC,
			Seq:      42,
			Channels: []model.Channel{{Name: "concentration", Value: 1523.4}, {Name: "flow", Value: math.NaN()}},
			HighRate: []float64{1, 2.5},
		},
		Flags:   model.FlagPartialData,
		Derived: []model.Channel{{Name: "pulse_ratio", Value: 1.02}},
	})

	reqs := []dsModels.CommandRequest{
		{DeviceResourceName: "concentration", Type: common.ValueTypeFloat64},
		{DeviceResourceName: "pulse_ratio", Type: common.ValueTypeFloat32},
		{DeviceResourceName: "connected", Type: common.ValueTypeBool},
		{DeviceResourceName: "sequence", Type: common.ValueTypeUint64},
		{DeviceResourceName: "flags", Type: common.ValueTypeString},
		{DeviceResourceName: "high_rate", Type: common.ValueTypeFloat64Array},
		{DeviceResourceName: "flow", Type: common.ValueTypeFloat64},
	}
	cvs, err := d.HandleReadCommands("cpc1", nil, reqs)
	if err != nil {
		t.Fatal(err)
	}
	if len(cvs) != len(reqs) {
		t.Fatalf("got %d values", len(cvs))
	}
	if v, _ := cvs[0].Float64Value(); v != 1523.4 {
		t.Errorf("concentration = %v", v)
	}
	if v, _ := cvs[1].Float32Value(); v != float32(1.02) {
		t.Errorf("pulse_ratio = %v", v)
	}
	if v, _ := cvs[2].BoolValue(); !v {
		t.Error("connected = false")
	}
	if v, _ := cvs[3].Uint64Value(); v != 42 {
		t.Errorf("sequence = %d", v)
	}
	if v, _ := cvs[4].StringValue(); v != "PARTIAL_DATA" {
		t.Errorf("flags = %q", v)
	}
	if v, _ := cvs[5].Float64ArrayValue(); len(v) != 2 || v[1] != 2.5 {
		t.Errorf("high_rate = %v", v)
	}
	if v, _ := cvs[6].Float64Value(); !math.IsNaN(v) {
		t.Errorf("flow = %v, want NaN", v)
	}

	if _, err := d.HandleReadCommands("ghost", nil, reqs[:1]); err == nil {
		t.Fatal("read of unknown device succeeded")
	}
	if _, err := d.HandleReadCommands("cpc1", nil, []dsModels.CommandRequest{{DeviceResourceName: "x", Type: common.ValueTypeInt8}}); err == nil {
		t.Fatal("unsupported type accepted")
	}
}

func TestAsyncValuesSkipMissingChannels(t *testing.T) {
	r := model.StampedReading{
		Reading: model.Reading{
			Device:   "rhtp",
			Type:     model.TypeRHTP,
			Seq:      7,
			Channels: []model.Channel{{Name: "rh", Value: 40}, {Name: "t", Value: math.NaN()}},
		},
		Time: time.Unix(1700000000, 0),
	}
	av := asyncValues(r, t.Logf)
	if av == nil || av.DeviceName != "rhtp" || av.SourceName != asyncSourceName {
		t.Fatalf("async values = %+v", av)
	}
	names := make([]string, len(av.CommandValues))
	for i, cv := range av.CommandValues {
		names[i] = cv.DeviceResourceName
		if cv.Origin != r.Time.UnixNano() {
			t.Fatalf("origin = %d", cv.Origin)
		}
	}
	if len(names) != 3 || names[0] != "rh" || names[1] != resourceSequence || names[2] != resourceFlags {
		t.Fatalf("resources = %v", names)
	}

	r.Channels[0].Value = math.NaN()
	if asyncValues(r, t.Logf) != nil {
		t.Fatal("reading without values was forwarded")
	}
}

const acquisitionYAML = `
Acquisition:
  Devices:
    - name: sim
      type: Example
      portType: loopback
      timeoutMs: 20
      pollIntervalMs: 30
  Log:
    dir: %DIR%
    flushMs: 20
`

func waitAsync(t *testing.T, ch <-chan *dsModels.AsyncValues, device string) *dsModels.AsyncValues {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case av := <-ch:
			if av.DeviceName == device {
				return av
			}
		case <-deadline:
			t.Fatalf("no async values for %s", device)
		}
	}
}

func TestAcquisitionLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "configuration.yaml")
	yml := []byte(strings.ReplaceAll(acquisitionYAML, "%DIR%", filepath.Join(dir, "data")))
	if err := os.WriteFile(path, yml, 0o644); err != nil {
		t.Fatal(err)
	}
	asyncCh := make(chan *dsModels.AsyncValues, 64)
	d := newTestDriver(asyncCh)
	if err := d.startAcquisition(path); err != nil {
		t.Fatal(err)
	}
	defer d.stopAcquisition()

	av := waitAsync(t, asyncCh, "sim")
	if av.CommandValues[0].DeviceResourceName != "value" {
		t.Fatalf("first resource = %s", av.CommandValues[0].DeviceResourceName)
	}
	// YAML 中已有的设备不重复添加
	if err := d.AddDevice("sim", nil, models.Unlocked); err != nil {
		t.Fatalf("AddDevice of configured device: %v", err)
	}

	props := map[string]models.ProtocolProperties{protocolSerial: {
		"Type": "Example", "PortType": "loopback", "TimeoutMs": "20", "PollIntervalMs": "30",
	}}
	if err := d.AddDevice("sim2", props, models.Unlocked); err != nil {
		t.Fatal(err)
	}
	waitAsync(t, asyncCh, "sim2")
	cvs, err := d.HandleReadCommands("sim2", props, []dsModels.CommandRequest{
		{DeviceResourceName: "value", Type: common.ValueTypeFloat64},
		{DeviceResourceName: "connected", Type: common.ValueTypeBool},
	})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := cvs[0].Float64Value(); v < 150 || v > 250 {
		t.Fatalf("value = %v", v)
	}
	if c, _ := cvs[1].BoolValue(); !c {
		t.Fatal("sim2 not connected")
	}

	param := commandValue(t, "value", common.ValueTypeFloat64, 1.0)
	err = d.HandleWriteCommands("sim2", props, []dsModels.CommandRequest{{DeviceResourceName: "value"}}, []*dsModels.CommandValue{param})
	if !errors.Is(err, model.ErrUnsupportedCommand) {
		t.Fatalf("write to example device: %v", err)
	}
	err = d.HandleWriteCommands("ghost", nil, []dsModels.CommandRequest{{DeviceResourceName: "value"}}, []*dsModels.CommandValue{param})
	if !errors.Is(err, model.ErrUnknownDevice) {
		t.Fatalf("write to unknown device: %v", err)
	}

	if err := d.RemoveDevice("sim2", props); err != nil {
		t.Fatal(err)
	}
	if err := d.RemoveDevice("sim2", props); err != nil {
		t.Fatalf("second RemoveDevice: %v", err)
	}
	for _, desc := range d.engine.Descriptors() {
		if desc.Name == "sim2" {
			t.Fatal("sim2 still polled after removal")
		}
	}

	if err := d.stopAcquisition(); err != nil {
		t.Fatal(err)
	}
	if err := d.stopAcquisition(); err != nil {
		t.Fatal("second stop failed")
	}
}
