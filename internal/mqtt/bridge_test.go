package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/device_airmodus_go/internal/codec"
	"github.com/linjuya-lu/device_airmodus_go/internal/model"
)

type published struct {
	topic   string
	payload []byte
}

type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]func(string, []byte)
	out      []published
	sent     chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: map[string]func(string, []byte){}, sent: make(chan struct{}, 64)}
}

func (f *fakeTransport) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	f.out = append(f.out, published{topic, payload})
	f.mu.Unlock()
	f.sent <- struct{}{}
	return nil
}

func (f *fakeTransport) Subscribe(topic string, h func(string, []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return nil
}

func (f *fakeTransport) Disconnect() {}

func (f *fakeTransport) deliver(filter, topic string, payload []byte) {
	f.mu.Lock()
	h := f.handlers[filter]
	f.mu.Unlock()
	h(topic, payload)
}

func (f *fakeTransport) wait(t *testing.T, n int) []published {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.sent:
		case <-time.After(2 * time.Second):
			t.Fatalf("published %d of %d messages", i, n)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.out...)
}

type fakeSource struct {
	readings chan model.StampedReading
	statuses chan model.Status
	mu       sync.Mutex
	commands []codec.Command
}

func (s *fakeSource) SubscribeReadings() (<-chan model.StampedReading, func()) {
	return s.readings, func() {}
}

func (s *fakeSource) SubscribeStatus() (<-chan model.Status, func()) {
	return s.statuses, func() {}
}

func (s *fakeSource) Submit(device string, cmd codec.Command) error {
	if device != "cpc1" {
		return model.NewUnknownDeviceError(device)
	}
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()
	return nil
}

func startBridge(t *testing.T) (*fakeTransport, *fakeSource) {
	t.Helper()
	tr := newFakeTransport()
	src := &fakeSource{readings: make(chan model.StampedReading, 4), statuses: make(chan model.Status, 4)}
	b := NewBridge(tr, src, "airmodus/", logger.NewMockClient())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// 等待订阅完成
	deadline := time.Now().Add(2 * time.Second)
	for {
		tr.mu.Lock()
		_, ok := tr.handlers["airmodus/+/command"]
		tr.mu.Unlock()
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("bridge did not subscribe")
		}
		time.Sleep(time.Millisecond)
	}
	return tr, src
}

func TestReadingPublishedWithNullForNaN(t *testing.T) {
	tr, src := startBridge(t)
	src.readings <- model.StampedReading{
		Reading: model.Reading{
			Device:   "cpc1",
			Type:     model.TypeCPC,
			Seq:      3,
			Channels: []model.Channel{{Name: "concentration", Value: math.NaN()}, {Name: "flow", Value: 1.01}},
		},
		Time:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Flags: model.FlagPartialData,
	}
	out := tr.wait(t, 1)
	if out[0].topic != "airmodus/cpc1/reading" {
		t.Fatalf("topic = %s", out[0].topic)
	}
	var env struct {
		ApiVersion    string         `json:"apiVersion"`
		CorrelationID string         `json:"correlationID"`
		Payload       ReadingPayload `json:"payload"`
	}
	if err := json.Unmarshal(out[0].payload, &env); err != nil {
		t.Fatal(err)
	}
	if env.ApiVersion != "v3" || env.CorrelationID == "" {
		t.Fatalf("envelope = %+v", env)
	}
	p := env.Payload
	if p.Seq != 3 || p.Channels[0].Value != nil || p.Channels[1].Value == nil || *p.Channels[1].Value != 1.01 {
		t.Fatalf("payload = %+v", p)
	}
	if len(p.Flags) != 1 || p.Flags[0] != "PARTIAL_DATA" {
		t.Fatalf("flags = %v", p.Flags)
	}
}

func TestStatusPublished(t *testing.T) {
	tr, src := startBridge(t)
	src.statuses <- model.Status{Device: "rhtp", State: model.StateDisconnected, Instance: "abc"}
	out := tr.wait(t, 1)
	if out[0].topic != "airmodus/rhtp/status" {
		t.Fatalf("topic = %s", out[0].topic)
	}
	var env struct {
		Payload StatusPayload `json:"payload"`
	}
	json.Unmarshal(out[0].payload, &env)
	if env.Payload.State != model.StateDisconnected.String() || env.Payload.Instance != "abc" {
		t.Fatalf("status payload = %+v", env.Payload)
	}
}

func TestCommandRoundTrip(t *testing.T) {
	tr, src := startBridge(t)

	tr.deliver("airmodus/+/command", "airmodus/cpc1/command",
		[]byte(`{"apiVersion":"v3","correlationID":"req-1","payload":{"name":"t_saturator","value":36}}`))
	tr.deliver("airmodus/+/command", "airmodus/ghost/command", []byte(`{"name":"raw","raw":":SYST:RSET"}`))
	tr.deliver("airmodus/+/command", "airmodus/cpc1/command", []byte(`not json`))
	out := tr.wait(t, 3)

	if len(src.commands) != 1 || src.commands[0].Name != "t_saturator" || src.commands[0].Value != 36 {
		t.Fatalf("commands = %+v", src.commands)
	}
	want := []struct {
		topic, status, correlation string
	}{
		{"airmodus/cpc1/command/response", "OK", "req-1"},
		{"airmodus/ghost/command/response", "ERROR", ""},
		{"airmodus/cpc1/command/response", "ERROR", ""},
	}
	for i, w := range want {
		var env struct {
			CorrelationID string          `json:"correlationID"`
			Payload       CommandResponse `json:"payload"`
		}
		if err := json.Unmarshal(out[i].payload, &env); err != nil {
			t.Fatal(err)
		}
		if out[i].topic != w.topic || env.Payload.Status != w.status {
			t.Fatalf("response %d: %s %+v", i, out[i].topic, env.Payload)
		}
		if w.correlation != "" && env.CorrelationID != w.correlation {
			t.Fatalf("response %d: correlation id %q", i, env.CorrelationID)
		}
	}
}

func TestDecodeCommand(t *testing.T) {
	req, id, err := decodeCommand([]byte(`{"name":"scan","args":[0.1,1.9,240]}`))
	if err != nil || id != "" || req.Name != "scan" || len(req.Args) != 3 {
		t.Fatalf("bare command = %+v %q %v", req, id, err)
	}
	if _, _, err := decodeCommand([]byte(`{"value":1}`)); !errors.Is(err, model.ErrUnsupportedCommand) {
		t.Fatalf("nameless command: %v", err)
	}
}

func TestDeviceOf(t *testing.T) {
	b := NewBridge(newFakeTransport(), nil, "airmodus", logger.NewMockClient())
	tests := []struct {
		topic  string
		device string
		ok     bool
	}{
		{"airmodus/cpc1/command", "cpc1", true},
		{"airmodus/cpc1/command/response", "", false},
		{"other/cpc1/command", "", false},
		{"airmodus//command", "", false},
	}
	for _, tt := range tests {
		d, ok := b.deviceOf(tt.topic)
		if d != tt.device || ok != tt.ok {
			t.Errorf("deviceOf(%q) = %q, %v", tt.topic, d, ok)
		}
	}
}
