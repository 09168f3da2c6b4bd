package series

import (
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/clock"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func at(ms int) time.Time { return epoch.Add(time.Duration(ms) * time.Millisecond) }

func newTestStore(maxSize int, maxAge time.Duration) (*Store, *clock.Manual) {
	c := clock.NewManual(epoch)
	return NewStore(Options{MaxSize: maxSize, MaxAge: maxAge, Clock: c}), c
}

var flow = Key{DeviceID: "pump-7", Metric: "flow"}

func TestPush_CapacityBound(t *testing.T) {
	store, _ := newTestStore(5, time.Hour)

	for i := 0; i < 10; i++ {
		store.Push(flow, Point{T: at(i), V: float64(i)})
	}

	points := store.Query(flow, 0)
	if len(points) != 5 {
		t.Fatalf("len = %d, want 5", len(points))
	}
	for i, p := range points {
		if want := float64(i + 5); p.V != want {
			t.Errorf("points[%d].V = %v, want %v", i, p.V, want)
		}
	}
}

func TestPush_EvictionCount(t *testing.T) {
	store, _ := newTestStore(2, time.Hour)

	if n := store.Push(flow, Point{T: at(0), V: 1}); n != 0 {
		t.Errorf("first push evicted %d", n)
	}
	store.Push(flow, Point{T: at(1), V: 2})
	if n := store.Push(flow, Point{T: at(2), V: 3}); n != 1 {
		t.Errorf("overflow push evicted %d, want 1", n)
	}
}

func TestPush_AgeEvictionIsPushTriggered(t *testing.T) {
	store, c := newTestStore(100, 2000*time.Millisecond)

	c.Set(at(0))
	store.Push(flow, Point{T: at(0), V: 0})
	c.Set(at(1000))
	store.Push(flow, Point{T: at(1000), V: 1})

	// No push: retained points are untouched even once they are old.
	c.Set(at(5000))
	if got := store.Len(flow); got != 2 {
		t.Fatalf("Len() before next push = %d, want 2", got)
	}

	// The push at now=3500 evicts everything older than 1500.
	c.Set(at(3500))
	store.Push(flow, Point{T: at(2000), V: 2})

	points := store.Query(flow, 0)
	if len(points) != 1 || !points[0].T.Equal(at(2000)) {
		t.Fatalf("points = %+v, want only t=2000", points)
	}
}

func TestPush_EvictsFromHeadOnly(t *testing.T) {
	store, c := newTestStore(100, time.Second)
	c.Set(at(5000))

	// Producer delivered an old point after a fresh one: the fresh head
	// protects it until the head itself expires.
	store.Push(flow, Point{T: at(4800), V: 1})
	store.Push(flow, Point{T: at(1000), V: 2})

	if got := store.Len(flow); got != 2 {
		t.Fatalf("Len() = %d, want 2 (no reordering or partial compaction)", got)
	}
}

func TestQuery_MaxAgeOverride(t *testing.T) {
	store, c := newTestStore(100, time.Hour)
	for i := 0; i <= 5; i++ {
		store.Push(flow, Point{T: at(i * 1000), V: float64(i)})
	}
	c.Set(at(5000))

	points := store.Query(flow, 2000*time.Millisecond)
	if len(points) != 3 {
		t.Fatalf("len = %d, want 3 (t=3000,4000,5000)", len(points))
	}
	if points[0].V != 3 {
		t.Errorf("first point V = %v, want 3", points[0].V)
	}

	if all := store.Query(flow, 0); len(all) != 6 {
		t.Errorf("Query without override len = %d, want 6", len(all))
	}
}

func TestQuery_IsSnapshot(t *testing.T) {
	store, _ := newTestStore(3, time.Hour)
	store.Push(flow, Point{T: at(0), V: 1})

	snap := store.Query(flow, 0)
	snap[0].V = 99
	store.Push(flow, Point{T: at(1), V: 2})

	if got := store.Query(flow, 0)[0].V; got != 1 {
		t.Errorf("stored point mutated through snapshot: %v", got)
	}
	if len(snap) != 1 {
		t.Errorf("snapshot grew after push: len %d", len(snap))
	}
}

func TestQuery_UnknownKey(t *testing.T) {
	store, _ := newTestStore(3, time.Hour)
	if got := store.Query(Key{DeviceID: "nope", Metric: "x"}, 0); got == nil || len(got) != 0 {
		t.Errorf("Query(unknown) = %v, want empty non-nil slice", got)
	}
}

func TestLatest(t *testing.T) {
	store, _ := newTestStore(3, time.Hour)

	if _, ok := store.Latest(flow); ok {
		t.Fatal("Latest() on empty series reported ok")
	}

	for i := 0; i < 7; i++ {
		store.Push(flow, Point{T: at(i), V: float64(i)})
	}
	p, ok := store.Latest(flow)
	if !ok || p.V != 6 {
		t.Errorf("Latest() = (%+v, %v), want V=6", p, ok)
	}
}

func TestSweep(t *testing.T) {
	store, c := newTestStore(100, 2000*time.Millisecond)
	pressure := Key{DeviceID: "pump-7", Metric: "pressure"}

	store.Push(flow, Point{T: at(0), V: 0})
	store.Push(flow, Point{T: at(1000), V: 1})
	store.Push(pressure, Point{T: at(0), V: 5})
	c.Set(at(2500))
	store.Push(flow, Point{T: at(2500), V: 2})

	evicted := store.Sweep(at(3500))
	if evicted != 2 {
		t.Errorf("Sweep() evicted %d, want 2 (flow@1000, pressure@0)", evicted)
	}
	if got := store.Len(flow); got != 1 {
		t.Errorf("flow Len() = %d, want 1", got)
	}
	if got := store.Metrics("pump-7"); len(got) != 1 || got[0] != "flow" {
		t.Errorf("Metrics() = %v, want [flow] (empty series removed)", got)
	}
}

func TestMetricsKeysAndDrop(t *testing.T) {
	store, _ := newTestStore(10, time.Hour)
	store.Push(Key{DeviceID: "b", Metric: "z"}, Point{T: at(0)})
	store.Push(Key{DeviceID: "a", Metric: "y"}, Point{T: at(0)})
	store.Push(Key{DeviceID: "a", Metric: "x"}, Point{T: at(0)})

	keys := store.Keys()
	want := []Key{{"a", "x"}, {"a", "y"}, {"b", "z"}}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %v, want %v", i, keys[i], want[i])
		}
	}

	if n := store.Drop("a"); n != 2 {
		t.Errorf("Drop(a) = %d, want 2", n)
	}
	if got := store.Metrics("a"); len(got) != 0 {
		t.Errorf("Metrics(a) after drop = %v", got)
	}
}

func TestDefaults(t *testing.T) {
	store := NewStore(Options{})
	if store.MaxSize() != DefaultMaxSize || store.MaxAge() != DefaultMaxAge {
		t.Errorf("defaults = (%d, %v)", store.MaxSize(), store.MaxAge())
	}
}

func TestConcurrentPushAndQuery(t *testing.T) {
	store := NewStore(Options{MaxSize: 50, MaxAge: time.Hour})
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				store.Push(flow, Point{T: time.Now(), V: float64(i)})
			}
		}()
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if n := len(store.Query(flow, 0)); n > 50 {
					t.Errorf("snapshot exceeded capacity: %d", n)
					return
				}
				store.Latest(flow)
			}
		}()
	}
	wg.Wait()

	if got := store.Len(flow); got != 50 {
		t.Errorf("Len() = %d, want 50", got)
	}
}
