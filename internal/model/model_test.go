package model

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestFlagsString(t *testing.T) {
	tests := []struct {
		name  string
		flags Flags
		want  string
	}{
		{name: "none", flags: 0, want: ""},
		{name: "single", flags: FlagPartialData, want: "PARTIAL_DATA"},
		{name: "ordered", flags: FlagIntegrityWarning | FlagDisconnected, want: "DISCONNECTED|INTEGRITY_WARNING"},
		{name: "indeterminate", flags: FlagPulseRatioIndeterminate, want: "PULSE_RATIO_INDETERMINATE"},
	}
	for _, tt := range tests {
		if got := tt.flags.String(); got != tt.want {
			t.Errorf("%s: got %q want %q", tt.name, got, tt.want)
		}
	}
	if !(FlagLowQuality | FlagDeviceError).Has(FlagDeviceError) {
		t.Fatalf("Has should report a set flag")
	}
}

func TestReadingValueAbsent(t *testing.T) {
	r := Reading{Channels: []Channel{
		{Name: "concentration", Value: math.NaN()},
		{Name: "pulses", Value: 0},
	}}
	if _, ok := r.Value("concentration"); ok {
		t.Fatalf("NaN channel must be reported as absent")
	}
	if v, ok := r.Value("pulses"); !ok || v != 0 {
		t.Fatalf("pulses: got %v %v", v, ok)
	}
	if _, ok := r.Value("missing"); ok {
		t.Fatalf("unknown channel must be absent")
	}
}

func TestReadingCloneIsIndependent(t *testing.T) {
	r := Reading{Channels: []Channel{{Name: "a", Value: 1}}, Extra: []string{"x"}}
	c := r.Clone()
	c.Channels[0].Value = 2
	c.Extra[0] = "y"
	if r.Channels[0].Value != 1 || r.Extra[0] != "x" {
		t.Fatalf("clone shares memory with original")
	}
}

func TestSettingsEqualTreatsNaNAsEqual(t *testing.T) {
	a := Settings{Fields: []Channel{{Name: "flow", Value: 1}, {Name: "tau", Value: math.NaN()}}}
	b := Settings{Fields: []Channel{{Name: "flow", Value: 1}, {Name: "tau", Value: math.NaN()}}}
	if !a.Equal(b) {
		t.Fatalf("NaN fields should compare equal")
	}
	b.Fields[0].Value = 1.5
	if a.Equal(b) {
		t.Fatalf("changed value should not compare equal")
	}
	if a.Equal(Settings{}) {
		t.Fatalf("different length should not compare equal")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("no such file")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "connection", err: NewConnectionError("cpc1", cause), want: ErrConnection},
		{name: "timeout", err: NewTimeoutError("cpc1", time.Second), want: ErrTimeout},
		{name: "disconnected", err: NewDisconnectedError("cpc1"), want: ErrDisconnected},
		{name: "framing", err: NewFramingError("cpc1", 4096), want: ErrUnrecoverableFraming},
		{name: "log", err: NewLogError("/tmp/x.dat", cause), want: ErrLog},
		{name: "unknown", err: NewUnknownDeviceError("nope"), want: ErrUnknownDevice},
		{name: "command", err: NewCommandError("cpc1", "bogus"), want: ErrUnsupportedCommand},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: %v is not %v", tt.name, tt.err, tt.want)
		}
	}
	if !errors.Is(NewConnectionError("cpc1", cause), cause) {
		t.Fatalf("connection error should keep its cause")
	}
}

func TestParseDeviceType(t *testing.T) {
	got, err := ParseDeviceType(" cpc ")
	if err != nil || got != TypeCPC {
		t.Fatalf("got %v %v", got, err)
	}
	if _, err := ParseDeviceType("toaster"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestDescriptorBusKey(t *testing.T) {
	if k := (Descriptor{Name: "a"}).BusKey(); k != "dev:a" {
		t.Fatalf("private bus key %q", k)
	}
	if k := (Descriptor{Name: "a", Bus: "rs485-1"}).BusKey(); k != "bus:rs485-1" {
		t.Fatalf("shared bus key %q", k)
	}
	// 同一节点上的设备不配置总线也落在同一把锁上
	a := Descriptor{Name: "a", Port: "/dev/ttyS1"}
	b := Descriptor{Name: "b", Port: "/dev/ttyS1"}
	if a.BusKey() != b.BusKey() || a.BusKey() != "port:/dev/ttyS1" {
		t.Fatalf("port bus keys %q %q", a.BusKey(), b.BusKey())
	}
	if k := (Descriptor{Name: "a", Port: "x", PortType: "loopback"}).BusKey(); k != "dev:a" {
		t.Fatalf("loopback bus key %q", k)
	}
}

func TestCheckLine(t *testing.T) {
	rs485 := func(name string, typ DeviceType, port, bus string) Descriptor {
		return Descriptor{Name: name, Type: typ, Port: port, PortType: "rs485", Bus: bus}
	}
	cases := []struct {
		name string
		a, b Descriptor
		ok   bool
	}{
		{"different ports", rs485("cpc1", TypeCPC, "/dev/ttyUSB0", ""), rs485("cpc2", TypeCPC, "/dev/ttyUSB1", ""), true},
		{"same port without bus", rs485("cpc1", TypeCPC, "/dev/ttyUSB0", ""), rs485("cpc2", TypeCPC, "/dev/ttyUSB0", ""), false},
		{"same port one bus", rs485("cpc1", TypeCPC, "/dev/ttyUSB0", "a"), rs485("cpc2", TypeCPC, "/dev/ttyUSB0", ""), false},
		{"query devices on bus", rs485("e1", TypeElectrometer, "/dev/ttyS1", "a"), rs485("co2", TypeCO2, "/dev/ttyS1", "a"), true},
		{"streaming device on bus", rs485("rhtp1", TypeRHTP, "/dev/ttyS1", "a"), rs485("co2", TypeCO2, "/dev/ttyS1", "a"), false},
		{"bus held by streaming device", rs485("co2", TypeCO2, "/dev/ttyS1", "a"), rs485("afm1", TypeAFM, "/dev/ttyS1", "a"), false},
		{"bus across ports", rs485("e1", TypeElectrometer, "/dev/ttyS1", "a"), rs485("e2", TypeElectrometer, "/dev/ttyS2", "a"), false},
		{"loopback", Descriptor{Name: "s1", Type: TypeExample, PortType: "loopback"}, Descriptor{Name: "s2", Type: TypeExample, PortType: "loopback"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckLine(tc.a, tc.b)
			if (err == nil) != tc.ok {
				t.Fatalf("CheckLine = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}
