package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/infrastructure/logging"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv(configEnv, "")
	if got := resolveConfigPath(""); got != defaultConfigPath {
		t.Errorf("default = %q", got)
	}

	t.Setenv(configEnv, "/etc/fleetlink.yaml")
	if got := resolveConfigPath(""); got != "/etc/fleetlink.yaml" {
		t.Errorf("env = %q", got)
	}
	if got := resolveConfigPath("flag.yaml"); got != "flag.yaml" {
		t.Errorf("flag = %q, want flag to win over env", got)
	}
}

func TestRun_InvalidConfigPath(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, "/nonexistent/path/config.yaml")
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Fatalf("run() error = %v, want config load failure", err)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	path := writeConfig(t, `
fleet:
  topic_root: "fleet/#"
`)
	err := run(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), "fleet.topic_root") {
		t.Fatalf("run() error = %v, want topic_root validation failure", err)
	}
}

func TestRun_BrokerUnreachable(t *testing.T) {
	path := writeConfig(t, `
database:
  enabled: true
  path: ":memory:"
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1
    client_id: "fleetlink-test"
api:
  enabled: false
logging:
  level: error
  format: text
  output: stderr
`)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := run(ctx, path)
	if err == nil || !strings.Contains(err.Error(), "connecting to MQTT") {
		t.Fatalf("run() error = %v, want MQTT connection failure", err)
	}
}

type failingPruner struct {
	calls  int
	cutoff time.Time
}

func (p *failingPruner) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	p.calls++
	p.cutoff = cutoff
	return 0, errors.New("database is locked")
}

func TestPruneLoop_ReportsFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &failingPruner{}
	var reported []error
	start := time.Now()
	pruneLoop(ctx, p, 48*time.Hour, logging.Discard(), func(err error) {
		reported = append(reported, err)
		cancel()
	})

	if p.calls != 1 {
		t.Fatalf("Prune calls = %d, want 1", p.calls)
	}
	if len(reported) != 1 || reported[0].Error() != "database is locked" {
		t.Errorf("reported = %v", reported)
	}
	if want := start.Add(-48 * time.Hour); p.cutoff.Before(want.Add(-time.Minute)) || p.cutoff.After(want.Add(time.Minute)) {
		t.Errorf("cutoff = %v, want about %v", p.cutoff, want)
	}
}
