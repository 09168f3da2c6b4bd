package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCommand(t *testing.T) {
	m := New()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	m.ObserveCommand("acked", start, start.Add(150*time.Millisecond))
	m.ObserveCommand("acked", start, start.Add(50*time.Millisecond))
	m.ObserveCommand("timeout", time.Time{}, start)

	if got := testutil.ToFloat64(m.Commands.WithLabelValues("acked")); got != 2 {
		t.Errorf("acked = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Commands.WithLabelValues("timeout")); got != 1 {
		t.Errorf("timeout = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.CommandLatency); n != 1 {
		t.Errorf("latency series = %d, want 1 (zero start not observed)", n)
	}
}

func TestSetDevices(t *testing.T) {
	m := New()
	m.SetDevices(map[string]int{"online": 3, "stale": 1, "offline": 0})

	if got := testutil.ToFloat64(m.Devices.WithLabelValues("online")); got != 3 {
		t.Errorf("online = %v", got)
	}
	m.SetDevices(map[string]int{"online": 1})
	if got := testutil.ToFloat64(m.Devices.WithLabelValues("online")); got != 1 {
		t.Errorf("online after update = %v", got)
	}
}

func TestWatchSchedulerAndHandler(t *testing.T) {
	m := New()
	m.WatchScheduler(func() (uint64, uint64, uint64) { return 4, 40, 1 })
	m.MessagesReceived.WithLabelValues("telemetry").Add(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		"fleetlink_scheduler_flushes_total 4",
		"fleetlink_scheduler_callbacks_total 40",
		"fleetlink_scheduler_panics_total 1",
		`fleetlink_messages_received_total{kind="telemetry"} 7`,
		"go_goroutines",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.SeriesPoints.Inc()
	if got := testutil.ToFloat64(b.SeriesPoints); got != 0 {
		t.Errorf("registries share state: %v", got)
	}
}
