package series

import (
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/clock"
)

// Default bounds applied when Options leave them unset.
const (
	DefaultMaxSize = 1000
	DefaultMaxAge  = time.Hour
)

// Options bounds every series in a Store.
type Options struct {
	MaxSize int
	MaxAge  time.Duration
	Clock   clock.Clock
}

// Store owns all series keyed by (device, metric).
//
// Every series holds at most MaxSize points. Each Push runs an eviction pass
// that drops points from the head while the series is over capacity or the
// head is older than now-MaxAge. Points are never reordered.
//
// Thread Safety: all methods are safe for concurrent use. Query returns a
// copy, never a live view.
type Store struct {
	mu      sync.RWMutex
	series  map[Key]*buffer
	maxSize int
	maxAge  time.Duration
	clock   clock.Clock
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Store{
		series:  make(map[Key]*buffer),
		maxSize: opts.MaxSize,
		maxAge:  opts.MaxAge,
		clock:   opts.Clock,
	}
}

// Push appends p to the series for key and evicts expired points.
// It returns the number of points evicted by this pass.
func (s *Store) Push(key Key, p Point) int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.series[key]
	if !ok {
		b = newBuffer(s.maxSize)
		s.series[key] = b
	}

	evicted := 0
	if b.n == len(b.buf) {
		// Capacity eviction is the ring overwrite in push.
		evicted++
	}
	b.push(p)
	evicted += b.evictBefore(now.Add(-s.maxAge))
	return evicted
}

// Query returns a snapshot of the series. When maxAge is positive only
// points with T >= now-maxAge are returned; otherwise all retained points.
func (s *Store) Query(key Key, maxAge time.Duration) []Point {
	var cutoff time.Time
	if maxAge > 0 {
		cutoff = s.clock.Now().Add(-maxAge)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.series[key]
	if !ok {
		return []Point{}
	}
	return b.snapshot(cutoff)
}

// Latest returns the newest point of the series.
func (s *Store) Latest(key Key) (Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.series[key]
	if !ok {
		return Point{}, false
	}
	return b.last()
}

// Len returns the number of retained points in the series.
func (s *Store) Len(key Key) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := s.series[key]; ok {
		return b.n
	}
	return 0
}

// Metrics returns the sorted metric names recorded for a device.
func (s *Store) Metrics(deviceID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var metrics []string
	for k := range s.series {
		if k.DeviceID == deviceID {
			metrics = append(metrics, k.Metric)
		}
	}
	sort.Strings(metrics)
	return metrics
}

// Keys returns every series key, sorted by device then metric.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]Key, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].DeviceID == keys[j].DeviceID {
			return keys[i].Metric < keys[j].Metric
		}
		return keys[i].DeviceID < keys[j].DeviceID
	})
	return keys
}

// Drop removes every series belonging to deviceID and returns how many
// series were removed.
func (s *Store) Drop(deviceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for k := range s.series {
		if k.DeviceID == deviceID {
			delete(s.series, k)
			dropped++
		}
	}
	return dropped
}

// Sweep applies age eviction to every series as of now, independent of push
// activity, and removes series left empty. It returns the number of points
// evicted.
func (s *Store) Sweep(now time.Time) int {
	cutoff := now.Add(-s.maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for k, b := range s.series {
		evicted += b.evictBefore(cutoff)
		if b.n == 0 {
			delete(s.series, k)
		}
	}
	return evicted
}

// MaxSize returns the per-series capacity.
func (s *Store) MaxSize() int { return s.maxSize }

// MaxAge returns the per-series age bound.
func (s *Store) MaxAge() time.Duration { return s.maxAge }
