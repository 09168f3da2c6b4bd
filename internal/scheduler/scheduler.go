// Package scheduler coalesces bursts of change notifications into at most
// one downstream flush per tick.
//
// Schedule enqueues a callback and arms a single flush timer if none is
// armed. When the timer fires, every queued callback runs in enqueue order.
// A callback that panics is recovered and logged; the rest of the batch
// still runs. Callbacks scheduled from inside a flush land in the next tick.
// Flushes never overlap: work scheduled while a flush is running is queued
// and the timer is re-armed once that flush returns.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/clock"
)

// DefaultInterval is one display-refresh tick.
const DefaultInterval = 16 * time.Millisecond

// Logger is the logging interface used by the Scheduler.
type Logger interface {
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}

// Stats reports cumulative scheduler activity.
type Stats struct {
	Flushes   uint64
	Callbacks uint64
	Panics    uint64
	Dropped   uint64
	Queued    int
}

// Scheduler batches callbacks into per-tick flushes.
//
// Its only state is the pending queue, the armed timer and whether a flush
// is in progress.
type Scheduler struct {
	mu       sync.Mutex
	queue    []func()
	timer    clock.Timer
	flushing bool
	stopped  bool
	interval time.Duration
	clock    clock.Clock
	logger   Logger
	stats    Stats
}

// New creates a scheduler flushing every interval. A non-positive interval
// uses DefaultInterval; a nil clock uses the real clock.
func New(interval time.Duration, c clock.Clock) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Scheduler{
		interval: interval,
		clock:    c,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger used to report recovered panics.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// Schedule enqueues fn for the next flush. It is a no-op after Stop.
func (s *Scheduler) Schedule(fn func()) {
	if fn == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		s.stats.Dropped++
		return
	}
	s.queue = append(s.queue, fn)
	if s.timer == nil && !s.flushing {
		s.timer = s.clock.AfterFunc(s.interval, s.Flush)
	}
}

// Flush runs every queued callback in enqueue order. It is invoked by the
// armed timer and may also be called directly. A call made while another
// flush is running returns immediately; the running flush re-arms the timer
// for anything still queued.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	if s.flushing {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	batch := s.queue
	s.queue = nil
	if len(batch) > 0 {
		s.stats.Flushes++
	}
	s.flushing = true
	s.mu.Unlock()

	var ran, panics uint64
	for _, fn := range batch {
		if s.run(fn) {
			ran++
		} else {
			panics++
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushing = false
	s.stats.Callbacks += ran + panics
	s.stats.Panics += panics
	if len(s.queue) > 0 && s.timer == nil && !s.stopped {
		s.timer = s.clock.AfterFunc(s.interval, s.Flush)
	}
}

// run executes one callback, reporting false if it panicked.
func (s *Scheduler) run(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			s.logger.Error("scheduled callback panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
	return true
}

// Stop cancels the armed flush and discards the queue. Later calls to
// Schedule are dropped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.stats.Dropped += uint64(len(s.queue))
	s.queue = nil
}

// Stats returns a snapshot of scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.Queued = len(s.queue)
	return st
}
