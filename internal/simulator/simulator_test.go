package simulator

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/device_airmodus_go/internal/codec"
	"github.com/linjuya-lu/device_airmodus_go/internal/model"
	"github.com/linjuya-lu/device_airmodus_go/internal/serial"
)

// readUntil 读到包含 want 的数据或超时
func readUntil(t *testing.T, p serial.Port, want string) string {
	t.Helper()
	var got []byte
	buf := make([]byte, 256)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := p.Read(buf)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, buf[:n]...)
		if strings.Contains(string(got), want) {
			return string(got)
		}
	}
	t.Fatalf("did not receive %q, got %q", want, got)
	return ""
}

func TestCPCResponder(t *testing.T) {
	host, dev := serial.NewLoopback("cpc", 20*time.Millisecond)
	if err := host.Open(); err != nil {
		t.Fatal(err)
	}
	if err := dev.Open(); err != nil {
		t.Fatal(err)
	}
	sim := New(dev, CPCResponder("0123", func(int) string { return CPCMeasurement(1523.4) }), nil, 0, logger.NewMockClient())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	host.Write([]byte("*IDN?\r\n:MEAS:ALL\r\n"))
	reply := readUntil(t, host, ":MEAS:ALL")
	if !strings.Contains(reply, "*IDN 0123\r") {
		t.Fatalf("reply = %q", reply)
	}
	if got := sim.Requests(); len(got) != 2 || got[0] != "*IDN?" || got[1] != ":MEAS:ALL" {
		t.Fatalf("requests = %q", got)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
}

func TestCPCMeasurementDecodes(t *testing.T) {
	c, err := codec.New(model.TypeCPC)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := c.Decode([]byte(":MEAS:ALL " + CPCMeasurement(1523.4)))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Partial || msg.Status != "0000" || len(msg.Channels) != 16 {
		t.Fatalf("message = %+v", msg)
	}
	if msg.Channels[0].Value != 1523.4 {
		t.Fatalf("concentration = %v", msg.Channels[0].Value)
	}
}

func TestExampleStreamer(t *testing.T) {
	stream := ExampleStreamer(rand.New(rand.NewSource(1)))
	c, err := codec.New(model.TypeExample)
	if err != nil {
		t.Fatal(err)
	}
	for tick := uint64(1); tick <= 3; tick++ {
		frame := stream(tick)
		frameOut, rest, err := c.Framer()(frame)
		if err != nil || len(rest) != 0 || frameOut == nil {
			t.Fatalf("tick %d: framer returned %v, rest %d", tick, err, len(rest))
		}
		msg, err := c.Decode(frameOut)
		if err != nil {
			t.Fatal(err)
		}
		if msg.Seq != tick || len(msg.Channels) != 1 {
			t.Fatalf("tick %d: message = %+v", tick, msg)
		}
		// float32 往返，容许舍入误差
		if v := msg.Channels[0].Value; v < 150 || v > 250.01 {
			t.Fatalf("tick %d: value = %v", tick, v)
		}
	}
}
