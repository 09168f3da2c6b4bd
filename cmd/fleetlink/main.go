// fleetlink core: live device state reconstructed from an MQTT fleet.
//
// The process subscribes to {root}/+/# on the broker, folds every message
// into a session (devices, telemetry series, command correlation and
// notifications), and serves that session over HTTP and WebSocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/fleetlink-core/internal/api"
	"github.com/nerrad567/fleetlink-core/internal/clock"
	"github.com/nerrad567/fleetlink-core/internal/command"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/config"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/database"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/metrics"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleetlink-core/internal/session"
	"github.com/nerrad567/fleetlink-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnv         = "FLEETLINK_CONFIG"

	// pruneInterval is how often the command log is trimmed to retention.
	pruneInterval = time.Hour
)

func main() {
	flags := pflag.NewFlagSet("fleetlink", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "path to config file (default $"+configEnv+" or "+defaultConfigPath+")")
	showVersion := flags.BoolP("version", "v", false, "print version and exit")
	//nolint:errcheck // ExitOnError exits on parse failure
	flags.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("fleetlink %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, resolveConfigPath(*configPath)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// resolveConfigPath prefers the flag, then FLEETLINK_CONFIG, then the default.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// run wires the collaborators around one session and blocks until ctx is
// cancelled. Deferred closes run in reverse order of construction.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting fleetlink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version).With("session_id", cfg.Session.ID)
	log.Info("configuration loaded",
		"path", configPath,
		"topic_root", cfg.Fleet.TopicRoot,
		"level", cfg.Logging.Level,
	)

	m := metrics.New()
	checks := map[string]api.HealthChecker{}

	var cmdLog session.CommandLog
	var sqlLog *command.SQLiteLog
	if cfg.Database.Enabled {
		db, dbErr := database.Open(cfg.Database)
		if dbErr != nil {
			return fmt.Errorf("opening database: %w", dbErr)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", db.Path())

		sqlLog = command.NewSQLiteLog(db.DB)
		cmdLog = sqlLog
		checks["sqlite"] = db
	} else {
		log.Info("command log disabled")
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	checks["mqtt"] = mqttClient
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	var mirror session.Mirror
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		mirror = influxClient
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	sess := session.New(session.Options{
		Fleet:      cfg.Fleet,
		Publisher:  mqttClient,
		QoS:        byte(cfg.MQTT.QoS), // #nosec G115 -- validated 0..2
		Clock:      clock.Real{},
		CommandLog: cmdLog,
		Mirror:     mirror,
		Metrics:    m,
		Logger:     log,
	})
	defer sess.Close()
	if influxClient != nil {
		influxClient.SetOnError(func(err error) {
			sess.ReportStorageFault("influxdb", err)
		})
	}
	sess.Start(ctx)

	if retention := cfg.Database.Retention(); sqlLog != nil && retention > 0 {
		go pruneLoop(ctx, sqlLog, retention, log, func(err error) {
			sess.ReportStorageFault("sqlite", err)
		})
	}

	subscription := sess.Codec().Subscription()
	if err := mqttClient.Subscribe(subscription, byte(cfg.MQTT.QoS), sess.HandleMessage); err != nil { // #nosec G115 -- validated 0..2
		return fmt.Errorf("subscribing to %s: %w", subscription, err)
	}
	log.Info("subscribed to fleet", "topic", subscription)

	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log,
			Session: sess,
			Metrics: m,
			Checks:  checks,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// healthCheck verifies every collaborator once at startup.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// pruner trims command log entries completed before cutoff.
type pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// pruneLoop trims the command log to retention on startup and then hourly.
// Failures are logged and handed to onError.
func pruneLoop(ctx context.Context, l pruner, retention time.Duration, log *logging.Logger, onError func(error)) {
	prune := func() {
		n, err := l.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			log.Warn("command log prune failed", "error", err)
			if onError != nil && ctx.Err() == nil {
				onError(err)
			}
			return
		}
		if n > 0 {
			log.Info("command log pruned", "removed", n)
		}
	}

	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
