package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/clock"
)

func newTestScheduler() (*Scheduler, *clock.Manual) {
	c := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(16*time.Millisecond, c), c
}

func TestCoalescesBurstIntoOneFlush(t *testing.T) {
	s, c := newTestScheduler()

	var order []int
	for i := 0; i < 50; i++ {
		s.Schedule(func() { order = append(order, i) })
	}
	if c.Pending() != 1 {
		t.Fatalf("armed timers = %d, want 1", c.Pending())
	}
	if len(order) != 0 {
		t.Fatal("callbacks ran before the tick")
	}

	c.Advance(16 * time.Millisecond)

	if got := s.Stats().Flushes; got != 1 {
		t.Errorf("Flushes = %d, want 1", got)
	}
	if len(order) != 50 {
		t.Fatalf("ran %d callbacks, want 50", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want enqueue order", i, v)
		}
	}
}

func TestPanicIsolation(t *testing.T) {
	s, c := newTestScheduler()
	var logged []string
	s.SetLogger(loggerFunc(func(msg string) { logged = append(logged, msg) }))

	ran := 0
	s.Schedule(func() { ran++ })
	s.Schedule(func() { panic("boom") })
	s.Schedule(func() { ran++ })

	c.Advance(16 * time.Millisecond)

	if ran != 2 {
		t.Errorf("ran = %d, want 2 (panic must not stop the batch)", ran)
	}
	st := s.Stats()
	if st.Panics != 1 || st.Callbacks != 3 {
		t.Errorf("Stats = %+v", st)
	}
	if len(logged) != 1 {
		t.Errorf("logged %d errors, want 1", len(logged))
	}
}

func TestScheduleDuringFlushGoesToNextTick(t *testing.T) {
	s, c := newTestScheduler()

	var seq []string
	s.Schedule(func() {
		seq = append(seq, "first")
		s.Schedule(func() { seq = append(seq, "second") })
	})

	c.Advance(16 * time.Millisecond)
	if len(seq) != 1 {
		t.Fatalf("after first tick seq = %v", seq)
	}
	c.Advance(16 * time.Millisecond)
	if len(seq) != 2 || seq[1] != "second" {
		t.Fatalf("after second tick seq = %v", seq)
	}
	if got := s.Stats().Flushes; got != 2 {
		t.Errorf("Flushes = %d, want 2", got)
	}
}

func TestManualFlushDisarmsTimer(t *testing.T) {
	s, c := newTestScheduler()

	ran := 0
	s.Schedule(func() { ran++ })
	s.Flush()

	if ran != 1 || c.Pending() != 0 {
		t.Fatalf("ran = %d pending timers = %d", ran, c.Pending())
	}
	c.Advance(time.Second)
	if got := s.Stats().Flushes; got != 1 {
		t.Errorf("Flushes = %d, want 1", got)
	}
}

func TestStop(t *testing.T) {
	s, c := newTestScheduler()

	ran := 0
	s.Schedule(func() { ran++ })
	s.Stop()
	s.Schedule(func() { ran++ })
	c.Advance(time.Second)

	if ran != 0 {
		t.Errorf("ran = %d after Stop, want 0", ran)
	}
	if c.Pending() != 0 {
		t.Errorf("timers still armed after Stop: %d", c.Pending())
	}
	if st := s.Stats(); st.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", st.Dropped)
	}
}

func TestRealClock(t *testing.T) {
	s := New(time.Millisecond, nil)
	defer s.Stop()

	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		s.Schedule(wg.Done)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callbacks did not run")
	}
}

func TestFlushesNeverOverlap(t *testing.T) {
	s := New(5*time.Millisecond, clock.Real{})
	defer s.Stop()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	slow := func() {
		defer wg.Done()
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		active.Add(-1)
	}

	wg.Add(2)
	s.Schedule(slow)
	// Lands while the first callback is still sleeping.
	time.Sleep(10 * time.Millisecond)
	s.Schedule(slow)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callbacks did not run")
	}

	if got := maxActive.Load(); got != 1 {
		t.Errorf("max concurrent callbacks = %d, want 1", got)
	}
	if got := s.Stats().Flushes; got != 2 {
		t.Errorf("Flushes = %d, want 2", got)
	}
}

func TestFlushDuringFlushIsIgnored(t *testing.T) {
	s, c := newTestScheduler()

	var seq []string
	s.Schedule(func() {
		seq = append(seq, "outer")
		s.Schedule(func() { seq = append(seq, "queued") })
		s.Flush()
		if len(seq) != 1 {
			t.Errorf("nested Flush ran queued work: %v", seq)
		}
	})

	c.Advance(16 * time.Millisecond)
	if c.Pending() != 1 {
		t.Fatalf("armed timers after flush = %d, want 1", c.Pending())
	}
	c.Advance(16 * time.Millisecond)
	if len(seq) != 2 || seq[1] != "queued" {
		t.Fatalf("seq = %v", seq)
	}
}

type loggerFunc func(msg string)

func (f loggerFunc) Error(msg string, _ ...any) { f(msg) }
