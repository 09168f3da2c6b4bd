package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/clock"
	"github.com/nerrad567/fleetlink-core/internal/command"
	"github.com/nerrad567/fleetlink-core/internal/device"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/config"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/metrics"
	"github.com/nerrad567/fleetlink-core/internal/notify"
	"github.com/nerrad567/fleetlink-core/internal/scheduler"
	"github.com/nerrad567/fleetlink-core/internal/series"
	"github.com/nerrad567/fleetlink-core/internal/topic"
)

// CommandLog persists terminal commands beyond the in-memory history.
// *command.SQLiteLog implements it.
type CommandLog interface {
	Record(ctx context.Context, rec device.CommandRecord) error
	Recent(ctx context.Context, deviceID string, limit int) ([]device.CommandRecord, error)
}

// Mirror receives a copy of telemetry, liveness changes and command
// outcomes. *influxdb.Client implements it.
type Mirror interface {
	WriteSeriesPoint(deviceID, metric string, value float64, t time.Time)
	WriteCommandOutcome(o influxdb.CommandOutcome)
	WriteTransition(deviceID, from, to string, t time.Time)
}

// Options configures a Session. Publisher is required; the rest is optional.
type Options struct {
	Fleet     config.FleetConfig
	Publisher command.Publisher
	QoS       byte
	Clock     clock.Clock

	CommandLog CommandLog
	Mirror     Mirror
	Metrics    *metrics.Metrics
	Logger     *logging.Logger
}

// Batch is one coalesced change notification. Devices holds a snapshot of
// every device touched since the previous batch, sorted by ID. Removed
// lists devices deleted in the same window.
type Batch struct {
	Devices       []device.Device `json:"devices"`
	Removed       []string        `json:"removed,omitempty"`
	Notifications []notify.Entry  `json:"notifications"`
}

// Session owns one running reconciliation core: the registry, the series
// store, the correlator, the notification log and the scheduler that paces
// change delivery.
//
// Inbound messages, timer expiries and API calls may arrive on any
// goroutine. Each component serialises its own state; the session only
// tracks which devices changed and hands subscribers at most one Batch per
// scheduler tick.
type Session struct {
	codec      topic.Codec
	registry   *device.Registry
	store      *series.Store
	correlator *command.Correlator
	notes      *notify.Aggregator
	sched      *scheduler.Scheduler
	clock      clock.Clock

	cmdLog  CommandLog
	mirror  Mirror
	metrics *metrics.Metrics
	logger  *logging.Logger

	livenessEvery time.Duration

	mu          sync.Mutex
	dirty       map[string]struct{}
	removed     map[string]struct{}
	pendingNote []notify.Entry
	emitArmed   bool
	subscribers map[int]func(Batch)
	nextSub     int
	liveness    clock.Timer
	started     bool
	closed      bool
	done        chan struct{}
}

// New wires a session from opts. Call Start to begin the liveness cadence.
func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	fleet := opts.Fleet
	if fleet.TopicRoot == "" {
		fleet = config.Default().Fleet
	}

	s := &Session{
		codec:         topic.Codec{Root: fleet.TopicRoot},
		clock:         opts.Clock,
		cmdLog:        opts.CommandLog,
		mirror:        opts.Mirror,
		metrics:       opts.Metrics,
		logger:        opts.Logger.With("component", "session"),
		livenessEvery: fleet.LivenessInterval(),
		dirty:         make(map[string]struct{}),
		removed:       make(map[string]struct{}),
		subscribers:   make(map[int]func(Batch)),
		done:          make(chan struct{}),
	}
	if s.livenessEvery <= 0 {
		s.livenessEvery = DefaultLivenessInterval
	}

	s.registry = device.NewRegistry(device.Options{
		StaleAfter:   fleet.StaleAfter(),
		HistoryLimit: fleet.CommandHistory,
		Clock:        opts.Clock,
	})
	s.registry.SetLogger(opts.Logger.With("component", "registry"))

	s.store = series.NewStore(series.Options{
		MaxSize: fleet.Series.MaxSize,
		MaxAge:  fleet.Series.MaxAge(),
		Clock:   opts.Clock,
	})

	s.notes = notify.New(notify.Options{
		Capacity:    fleet.Notifications.Capacity,
		GroupWindow: fleet.Notifications.GroupWindow(),
		Clock:       opts.Clock,
	})
	s.notes.OnAdd(s.onNotification)

	s.sched = scheduler.New(fleet.FlushInterval(), opts.Clock)
	s.sched.SetLogger(opts.Logger.With("component", "scheduler"))
	s.metrics.WatchScheduler(func() (uint64, uint64, uint64) {
		st := s.sched.Stats()
		return st.Flushes, st.Callbacks, st.Panics
	})

	s.correlator = command.New(command.Options{
		Registry:       s.registry,
		Codec:          s.codec,
		Publisher:      opts.Publisher,
		Clock:          opts.Clock,
		DefaultTimeout: fleet.CommandTimeout(),
		QoS:            opts.QoS,
		OnOutcome:      s.onOutcome,
	})
	s.correlator.SetLogger(opts.Logger.With("component", "correlator"))

	return s
}

// Codec returns the topic codec bound to the configured root.
func (s *Session) Codec() topic.Codec { return s.codec }

// Registry returns the device registry.
func (s *Session) Registry() *device.Registry { return s.registry }

// Series returns the series store.
func (s *Session) Series() *series.Store { return s.store }

// Notifications returns the notification log.
func (s *Session) Notifications() *notify.Aggregator { return s.notes }

// Start arms the liveness cadence. The session closes itself when ctx is
// cancelled. Calling Start twice is a no-op.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.liveness = s.clock.AfterFunc(s.livenessEvery, s.livenessTick)
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
}

// Close stops the liveness cadence and the scheduler together, then the
// command deadlines. Queued batches are dropped. Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	if s.liveness != nil {
		s.liveness.Stop()
	}
	s.sched.Stop()
	s.subscribers = make(map[int]func(Batch))
	s.mu.Unlock()

	s.correlator.Close()
	s.notes.OnAdd(nil)
	s.logger.Info("session closed")
}

// Subscribe registers fn to receive change batches. fn runs on the
// scheduler's goroutine and must not block. The returned function removes
// the subscription.
func (s *Session) Subscribe(fn func(Batch)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// markDirty records that a device changed and arms one emit per tick.
func (s *Session) markDirty(ids ...string) {
	s.mu.Lock()
	for _, id := range ids {
		s.dirty[id] = struct{}{}
	}
	s.armEmitLocked()
	s.mu.Unlock()
}

func (s *Session) onNotification(e notify.Entry) {
	s.metrics.Notifications.WithLabelValues(string(e.Level)).Inc()

	s.mu.Lock()
	s.pendingNote = append(s.pendingNote, e)
	s.armEmitLocked()
	s.mu.Unlock()
}

func (s *Session) armEmitLocked() {
	if s.emitArmed || s.closed {
		return
	}
	s.emitArmed = true
	s.sched.Schedule(s.emit)
}

// emit drains the dirty set into one Batch and hands it to subscribers.
func (s *Session) emit() {
	s.mu.Lock()
	s.emitArmed = false
	ids := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}
	removed := make([]string, 0, len(s.removed))
	for id := range s.removed {
		removed = append(removed, id)
	}
	notes := s.pendingNote
	s.dirty = make(map[string]struct{})
	s.removed = make(map[string]struct{})
	s.pendingNote = nil
	subs := make([]func(Batch), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	sort.Strings(ids)
	sort.Strings(removed)

	batch := Batch{
		Devices:       make([]device.Device, 0, len(ids)),
		Removed:       removed,
		Notifications: notes,
	}
	for _, id := range ids {
		d, err := s.registry.Get(id)
		if err != nil {
			continue
		}
		batch.Devices = append(batch.Devices, *d)
	}
	if batch.Notifications == nil {
		batch.Notifications = []notify.Entry{}
	}

	s.metrics.Batches.Inc()
	for _, fn := range subs {
		fn(batch)
	}
}

// RemoveDevice deletes a device from the registry. Its series are kept
// unless dropSeries is set. It reports whether the device existed.
func (s *Session) RemoveDevice(id string, dropSeries bool) bool {
	existed := s.registry.Remove(id)
	if dropSeries {
		s.store.Drop(id)
	}
	if !existed {
		return false
	}

	s.mu.Lock()
	delete(s.dirty, id)
	s.removed[id] = struct{}{}
	s.armEmitLocked()
	s.mu.Unlock()

	s.logger.Info("device removed", "device_id", id, "drop_series", dropSeries)
	return true
}

// Stats summarises the session for health reporting.
type Stats struct {
	Devices       device.Stats    `json:"devices"`
	InFlight      int             `json:"commands_in_flight"`
	Series        int             `json:"series"`
	Notifications int             `json:"notifications"`
	Scheduler     scheduler.Stats `json:"scheduler"`
}

// Stats returns current counts as of the session clock.
func (s *Session) Stats() Stats {
	return Stats{
		Devices:       s.registry.Stats(s.clock.Now()),
		InFlight:      s.correlator.InFlight(),
		Series:        len(s.store.Keys()),
		Notifications: s.notes.Len(),
		Scheduler:     s.sched.Stats(),
	}
}

// ReportStorageFault records a collaborator storage failure. It never
// affects in-memory state.
func (s *Session) ReportStorageFault(backend string, err error) {
	s.metrics.StorageErrors.WithLabelValues(backend).Inc()
	s.logger.Warn("storage fault", "backend", backend, "error", err)
	s.notes.Add(notify.LevelWarn, backend+" write failed", err.Error(), "")
}
