package engine

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linjuya-lu/device_airmodus_go/internal/codec"
	"github.com/linjuya-lu/device_airmodus_go/internal/config"
	"github.com/linjuya-lu/device_airmodus_go/internal/metrics"
	"github.com/linjuya-lu/device_airmodus_go/internal/model"
	"github.com/linjuya-lu/device_airmodus_go/internal/serial"
	"github.com/linjuya-lu/device_airmodus_go/internal/simulator"
)

func loadConfig(t *testing.T, dir, devices string) *config.Config {
	t.Helper()
	yml := `
Acquisition:
  Devices:
` + devices + `
  Session:
    missThreshold: 3
    silenceMs: 500
    backoffInitialMs: 20
    backoffMaxMs: 100
  Log:
    dir: ` + dir + `
    flushMs: 20
`
	cfg, err := config.Parse([]byte(yml))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return cfg
}

const cpcDevice = `
    - name: cpc1
      type: CPC
      portType: loopback
      timeoutMs: 40
      pollIntervalMs: 80
`

// startCPC 在内存串口上运行 CPC 模拟器，第 3 次测量的浓度字段无法解析
func startCPC(t *testing.T, ctx context.Context) (PortFunc, *simulator.Device) {
	t.Helper()
	host, dev := serial.NewLoopback("cpc1", 40*time.Millisecond)
	meas := func(i int) string {
		if i == 3 {
			return strings.Replace(simulator.CPCMeasurement(0), "0,", "abc,", 1)
		}
		return simulator.CPCMeasurement(float64(100 * i))
	}
	sim := simulator.New(dev, simulator.CPCResponder("0456", meas), nil, 0, logger.NewMockClient())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sim.Run(ctx)
	}()
	t.Cleanup(func() { <-done })
	return func(desc model.Descriptor) serial.Port {
		if desc.Name == "cpc1" {
			return host
		}
		return nil
	}, sim
}

func collect(t *testing.T, ch <-chan model.StampedReading, n int) []model.StampedReading {
	t.Helper()
	var out []model.StampedReading
	deadline := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case r, ok := <-ch:
			if !ok {
				t.Fatalf("reading channel closed after %d readings", len(out))
			}
			out = append(out, r)
		case <-deadline:
			t.Fatalf("got %d of %d readings", len(out), n)
		}
	}
	return out
}

func waitFor(sim *simulator.Device, req string, limit time.Duration) bool {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		for _, r := range sim.Requests() {
			if r == req {
				return true
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestCPCEndToEnd(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ports, sim := startCPC(t, ctx)

	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	e, err := New(loadConfig(t, dir, cpcDevice), logger.NewMockClient(), Options{Ports: ports, Metrics: m})
	if err != nil {
		t.Fatal(err)
	}
	readings, unsubscribe := e.SubscribeReadings()
	defer unsubscribe()
	statuses, _ := e.SubscribeStatus()

	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	got := collect(t, readings, 5)

	if err := e.Submit("cpc1", codec.Command{Name: "t_saturator", Value: 36}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := e.Submit("nope", codec.Command{Name: "raw", Raw: "x"}); !errors.Is(err, model.ErrUnknownDevice) {
		t.Fatalf("Submit to unknown device: %v", err)
	}
	if !waitFor(sim, ":SET:TEMP:SAT 36", 3*time.Second) {
		t.Fatalf("command not written, requests = %v", sim.Requests())
	}
	latest, ok := e.Latest("cpc1")
	if !ok || latest.Seq < 5 {
		t.Fatalf("latest = %+v, %v", latest, ok)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	for i, r := range got {
		if r.Seq != uint64(i+1) {
			t.Fatalf("reading %d has seq %d", i, r.Seq)
		}
		if i > 0 && !r.Time.After(got[i-1].Time) {
			t.Fatalf("timestamps not increasing at %d: %s then %s", i, got[i-1].Time, r.Time)
		}
		conc, valid := r.Value("concentration")
		if i == 2 {
			if valid || !math.IsNaN(conc) || !r.Flags.Has(model.FlagPartialData) {
				t.Fatalf("frame 3: concentration = %v flags = %s", conc, r.Flags)
			}
			continue
		}
		if !valid || conc != float64(100*(i+1)) {
			t.Fatalf("frame %d: concentration = %v", i+1, conc)
		}
		if _, ok := r.DerivedValue("pulse_ratio"); !ok {
			t.Fatalf("frame %d: no pulse_ratio", i+1)
		}
	}

	connected := false
	for st := range statuses {
		if st.Device != "cpc1" {
			continue
		}
		if st.State == model.StateConnected {
			connected = true
		}
		if connected && st.State != model.StateConnected {
			t.Fatalf("status left CONNECTED: %s (%s)", st.State, st.Err)
		}
	}
	if !connected {
		t.Fatal("never CONNECTED")
	}

	dat, _ := filepath.Glob(filepath.Join(dir, "*_0456_cpc1.dat"))
	par, _ := filepath.Glob(filepath.Join(dir, "*_0456_cpc1.par"))
	if len(dat) != 1 || len(par) != 1 {
		t.Fatalf("files: dat %v par %v", dat, par)
	}
	b, err := os.ReadFile(dat[0])
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) < 6 || !strings.HasPrefix(lines[0], "YYYY.MM.DD hh:mm:ss.mmm,concentration,") {
		t.Fatalf("dat file:\n%s", b)
	}
	if !strings.Contains(lines[3], ",nan,") || !strings.Contains(lines[3], "PARTIAL_DATA") {
		t.Fatalf("third record = %q", lines[3])
	}
	prev := ""
	for _, l := range lines[1:] {
		ts := l[:len("2006.01.02 15:04:05.000")]
		if ts <= prev {
			t.Fatalf("log timestamps out of order: %s after %s", ts, prev)
		}
		prev = ts
	}
	pb, _ := os.ReadFile(par[0])
	if pl := strings.Split(strings.TrimSpace(string(pb)), "\n"); len(pl) != 2 {
		t.Fatalf("par file should hold one snapshot:\n%s", pb)
	}
}

func TestExampleDeviceAddAndRemove(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e, err := New(loadConfig(t, dir, "    []"), logger.NewMockClient(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()
	readings, _ := e.SubscribeReadings()

	desc := model.Descriptor{
		Name:          "sim",
		Type:          model.TypeExample,
		PortType:      "loopback",
		Timeout:       20 * time.Millisecond,
		PollInterval:  30 * time.Millisecond,
		ProbeInterval: 100 * time.Millisecond,
	}
	if err := e.AddDevice(desc); err != nil {
		t.Fatal(err)
	}
	if err := e.AddDevice(desc); err == nil {
		t.Fatal("duplicate AddDevice succeeded")
	}
	if ds := e.Descriptors(); len(ds) != 1 || ds[0].Name != "sim" {
		t.Fatalf("descriptors = %+v", ds)
	}
	for _, r := range collect(t, readings, 2) {
		v, ok := r.Value("value")
		if !ok || v < 150 || v > 250 {
			t.Fatalf("example value = %v", v)
		}
	}

	if err := e.RemoveDevice("sim"); err != nil {
		t.Fatal(err)
	}
	if err := e.RemoveDevice("sim"); !errors.Is(err, model.ErrUnknownDevice) {
		t.Fatalf("second RemoveDevice: %v", err)
	}
	if len(e.Descriptors()) != 0 {
		t.Fatal("device still listed after removal")
	}
	if _, ok := e.Latest("sim"); ok {
		t.Fatal("latest reading kept after removal")
	}
}

func TestLogErrorsAreSurfaced(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e, err := New(loadConfig(t, filepath.Join(blocker, "data"), `
    - name: sim
      type: Example
      timeoutMs: 20
      pollIntervalMs: 30
`), logger.NewMockClient(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	logErrs, _ := e.SubscribeLogErrors()
	readings, _ := e.SubscribeReadings()
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	select {
	case err := <-logErrs:
		if !errors.Is(err, model.ErrLog) {
			t.Fatalf("log error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no log error reported")
	}
	// 写盘失败不影响采集
	collect(t, readings, 2)
}

func TestStopBeforeStart(t *testing.T) {
	e, err := New(loadConfig(t, t.TempDir(), cpcDevice), logger.NewMockClient(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(e.Descriptors()) != 1 {
		t.Fatal("configured device not listed")
	}
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(context.Background()); err == nil {
		t.Fatal("Start after Stop succeeded")
	}
	ch, _ := e.SubscribeReadings()
	if _, ok := <-ch; ok {
		t.Fatal("subscription open after Stop")
	}
}

func TestLogColumnsFixedPerType(t *testing.T) {
	c, ok := logColumns(model.TypeCPC)
	if !ok || !c.Status || len(c.Channels) != len(codec.CPCChannels()) {
		t.Fatalf("cpc columns = %+v", c)
	}
	if strings.Join(c.Derived, ",") != "pulse_ratio,total_errors" {
		t.Fatalf("cpc derived = %v", c.Derived)
	}
	c, ok = logColumns(model.TypeRHTP)
	if !ok || c.Status || len(c.Derived) != 0 {
		t.Fatalf("rhtp columns = %+v", c)
	}
	if _, ok := logColumns(model.TypeExample); ok {
		t.Fatal("example device has a fixed layout")
	}
}

func TestAddDeviceRejectsSharedPort(t *testing.T) {
	e, err := New(loadConfig(t, t.TempDir(), "    []"), logger.NewMockClient(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Stop()
	cpc := func(name, bus string) model.Descriptor {
		return model.Descriptor{
			Name: name, Type: model.TypeCPC, Port: "/dev/ttyUSB9", PortType: "uart", Bus: bus,
			Timeout: 20 * time.Millisecond, PollInterval: time.Second, ProbeInterval: time.Second,
		}
	}
	if err := e.AddDevice(cpc("cpc1", "")); err != nil {
		t.Fatal(err)
	}
	if err := e.AddDevice(cpc("cpc2", "")); err == nil || !strings.Contains(err.Error(), "without a shared bus") {
		t.Fatalf("second device on /dev/ttyUSB9: %v", err)
	}
	if len(e.Descriptors()) != 1 {
		t.Fatalf("descriptors = %+v", e.Descriptors())
	}
}
