package influxdb

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/fleetlink-core/internal/infrastructure/config"
)

// testConfig points at a local development InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "fleetlink-dev-token",
		Org:           "fleetlink",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 200,
	}
}

// skipIfNoInfluxDB skips unless RUN_INTEGRATION is set or a server answers.
func skipIfNoInfluxDB(t *testing.T) *Client {
	t.Helper()
	client, err := Connect(testConfig())
	if err != nil {
		if os.Getenv("RUN_INTEGRATION") != "" {
			t.Fatalf("Connect() error = %v", err)
		}
		t.Skip("InfluxDB not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func line(p *write.Point) string {
	return write.PointToLineProtocol(p, time.Millisecond)
}

func TestSeriesPoint(t *testing.T) {
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	got := line(seriesPoint("pump-7", "flow", 12.5, ts))

	for _, want := range []string{
		"fleet_telemetry,",
		"device_id=pump-7",
		"metric=flow",
		"value=12.5",
		" 1772323200000",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("line %q missing %q", got, want)
		}
	}
}

func TestCommandPoint(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	got := line(commandPoint(CommandOutcome{
		ID:          "c-1",
		DeviceID:    "pump-7",
		Action:      "relay.set",
		Status:      "failed",
		Error:       "relay stuck",
		StartedAt:   start,
		CompletedAt: start.Add(250 * time.Millisecond),
	}))

	for _, want := range []string{"status=failed", "action=relay.set", `error="relay stuck"`, "duration_ms=250i", `id="c-1"`} {
		if !strings.Contains(got, want) {
			t.Errorf("line %q missing %q", got, want)
		}
	}

	ok := line(commandPoint(CommandOutcome{ID: "c-2", DeviceID: "d", Action: "a", Status: "acked", StartedAt: start, CompletedAt: start}))
	if strings.Contains(ok, "error=") {
		t.Errorf("acked outcome carries an error field: %q", ok)
	}
}

func TestTransitionPoint(t *testing.T) {
	got := line(transitionPoint("pump-7", "online", "stale", time.Unix(10, 0)))
	if !strings.Contains(got, "to=stale") || !strings.Contains(got, `from="online"`) {
		t.Errorf("line = %q", got)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	if _, err := Connect(cfg); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:1"
	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client = %v", err)
	}
}

func TestWriteAndHealth(t *testing.T) {
	client := skipIfNoInfluxDB(t)

	var writeErr error
	client.SetOnError(func(err error) { writeErr = err })

	now := time.Now()
	client.WriteSeriesPoint("test-device", "flow", 1.5, now)
	client.WriteCommandOutcome(CommandOutcome{ID: "c", DeviceID: "test-device", Action: "ping", Status: "acked", StartedAt: now, CompletedAt: now})
	client.WriteTransition("test-device", "offline", "online", now)
	client.Flush()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if writeErr != nil {
		t.Errorf("async write error = %v", writeErr)
	}

	client.Close()
	if client.IsConnected() {
		t.Error("IsConnected() after Close")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v", err)
	}
	// Writes after close are dropped silently.
	client.WriteSeriesPoint("test-device", "flow", 2, now)
}
