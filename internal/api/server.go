package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/infrastructure/config"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/metrics"
	"github.com/nerrad567/fleetlink-core/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by every infrastructure client the health
// endpoint reports on (MQTT, SQLite, InfluxDB).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Session *session.Session
	Metrics *metrics.Metrics // optional; /metrics is not mounted without it
	Checks  map[string]HealthChecker
	Version string
}

// Server is the HTTP API server for fleetlink.
//
// It serves the REST surface over a session and relays the session's
// change batches to WebSocket clients.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	session   *session.Session
	metrics   *metrics.Metrics
	checks    map[string]HealthChecker
	version   string
	startedAt time.Time

	mu          sync.Mutex
	server      *http.Server
	hub         *Hub
	unsubscribe func()
	cancel      context.CancelFunc
}

// New creates a new API server. The server is not started until Start is
// called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("session is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		session:   deps.Session,
		metrics:   deps.Metrics,
		checks:    deps.Checks,
		version:   deps.Version,
		startedAt: time.Now(),
	}, nil
}

// Start wires the change feed and launches the HTTP listener in a
// background goroutine. The server is stopped with Close.
func (s *Server) Start(ctx context.Context) error {
	s.startFeed(ctx)

	s.mu.Lock()
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info("API server starting", "address", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// startFeed creates the hub and subscribes it to session batches.
func (s *Server) startFeed(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hub != nil {
		return
	}

	var feedCtx context.Context
	feedCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	s.hub.snapshot = s.snapshot
	go s.hub.Run(feedCtx)
	s.unsubscribe = s.session.Subscribe(s.hub.Publish)
}

// snapshot returns the current contents of a change-feed channel.
func (s *Server) snapshot(channel string) any {
	switch channel {
	case ChannelDevices:
		return DevicesEvent{Devices: s.session.Registry().List()}
	case ChannelNotifications:
		return s.session.Notifications().List()
	default:
		return nil
	}
}

// Close detaches the change feed and gracefully shuts down the listener,
// waiting up to gracefulShutdownTimeout for in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
