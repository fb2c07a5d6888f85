package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	m.Reading("cpc1", false)
	m.Reading("cpc1", true)
	if got := testutil.ToFloat64(m.readings.WithLabelValues("cpc1")); got != 2 {
		t.Fatalf("expected 2 readings, got %f", got)
	}
	if got := testutil.ToFloat64(m.partial.WithLabelValues("cpc1")); got != 1 {
		t.Fatalf("expected 1 partial reading, got %f", got)
	}

	m.Missed("cpc1", 3)
	m.Missed("cpc1", 0)
	if got := testutil.ToFloat64(m.missed.WithLabelValues("cpc1")); got != 3 {
		t.Fatalf("expected 3 missed cycles, got %f", got)
	}

	m.Connected("cpc1", true)
	if got := testutil.ToFloat64(m.connected.WithLabelValues("cpc1")); got != 1 {
		t.Fatalf("expected connected gauge 1, got %f", got)
	}
	m.Connected("cpc1", false)
	if got := testutil.ToFloat64(m.connected.WithLabelValues("cpc1")); got != 0 {
		t.Fatalf("expected connected gauge 0, got %f", got)
	}

	m.PollDuration("cpc1", 20*time.Millisecond)
	if n := testutil.CollectAndCount(m.pollTime); n != 1 {
		t.Fatalf("expected 1 histogram series, got %d", n)
	}

	m.LogError()
	m.SubscriberDrop()
	m.SubscriberDrop()
	if got := testutil.ToFloat64(m.logErrors); got != 1 {
		t.Fatalf("expected 1 log error, got %f", got)
	}
	if got := testutil.ToFloat64(m.subDrops); got != 2 {
		t.Fatalf("expected 2 subscriber drops, got %f", got)
	}

	m.Forget("cpc1")
	if n := testutil.CollectAndCount(m.readings); n != 0 {
		t.Fatalf("expected no reading series after Forget, got %d", n)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "airmodus_log_errors_total 1") {
		t.Fatalf("metrics page missing log error counter:\n%s", rec.Body.String())
	}
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatal(err)
	}
	if _, err := New(reg); err == nil {
		t.Fatal("expected error registering twice")
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.Reading("x", true)
	m.Missed("x", 1)
	m.PollDuration("x", time.Second)
	m.Connected("x", true)
	m.LogError()
	m.SubscriberDrop()
	m.Forget("x")
}
