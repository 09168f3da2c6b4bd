// Package notify keeps a bounded, grouped log of user-facing events such as
// liveness transitions, command outcomes and storage faults.
package notify

import (
	"sync"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/clock"
)

// Level is the severity of an entry.
type Level string

// Notification levels.
const (
	LevelInfo Level = "info"
	LevelOK   Level = "ok"
	LevelWarn Level = "warn"
	LevelBad  Level = "bad"
)

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelOK, LevelWarn, LevelBad:
		return true
	default:
		return false
	}
}

// Defaults applied when Options leave a field unset.
const (
	DefaultCapacity    = 200
	DefaultGroupWindow = 10 * time.Second
)

// Entry is one notification.
//
// ID is assigned once. Seq increases every time the entry changes, including
// when a repeat is folded into it, so Since can report updates.
type Entry struct {
	ID       uint64    `json:"id"`
	Seq      uint64    `json:"seq"`
	Level    Level     `json:"level"`
	Title    string    `json:"title"`
	Detail   string    `json:"detail,omitempty"`
	DeviceID string    `json:"device_id,omitempty"`
	T        time.Time `json:"t"`
	Count    int       `json:"count"`
}

// Options configures an Aggregator.
type Options struct {
	Capacity    int
	GroupWindow time.Duration
	Clock       clock.Clock
}

// Aggregator is a capped FIFO of entries. When a new entry matches the
// newest one on level, title and device within the group window, the newest
// entry's Count is incremented and its time and detail refreshed instead of
// appending. A negative group window disables grouping.
//
// All methods are safe for concurrent use. The OnAdd listener is called
// outside the aggregator lock.
type Aggregator struct {
	mu       sync.Mutex
	entries  []Entry
	nextID   uint64
	seq      uint64
	capacity int
	window   time.Duration
	clock    clock.Clock
	onAdd    func(Entry)
}

// New creates an empty aggregator.
func New(opts Options) *Aggregator {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.GroupWindow == 0 {
		opts.GroupWindow = DefaultGroupWindow
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Aggregator{
		capacity: opts.Capacity,
		window:   opts.GroupWindow,
		clock:    opts.Clock,
	}
}

// OnAdd registers fn to receive every new or grouped entry. Passing nil
// removes the listener.
func (a *Aggregator) OnAdd(fn func(Entry)) {
	a.mu.Lock()
	a.onAdd = fn
	a.mu.Unlock()
}

// Add records an entry and returns it as stored. Unknown levels are
// recorded as info.
func (a *Aggregator) Add(level Level, title, detail, deviceID string) Entry {
	if !level.Valid() {
		level = LevelInfo
	}
	now := a.clock.Now()

	a.mu.Lock()
	a.seq++
	var e Entry
	if n := len(a.entries); n > 0 && a.groupsWith(&a.entries[n-1], level, title, deviceID, now) {
		last := &a.entries[n-1]
		last.Count++
		last.T = now
		last.Detail = detail
		last.Seq = a.seq
		e = *last
	} else {
		a.nextID++
		e = Entry{
			ID:       a.nextID,
			Seq:      a.seq,
			Level:    level,
			Title:    title,
			Detail:   detail,
			DeviceID: deviceID,
			T:        now,
			Count:    1,
		}
		a.entries = append(a.entries, e)
		if over := len(a.entries) - a.capacity; over > 0 {
			a.entries = append([]Entry(nil), a.entries[over:]...)
		}
	}
	listener := a.onAdd
	a.mu.Unlock()

	if listener != nil {
		listener(e)
	}
	return e
}

func (a *Aggregator) groupsWith(last *Entry, level Level, title, deviceID string, now time.Time) bool {
	if a.window < 0 {
		return false
	}
	return last.Level == level &&
		last.Title == title &&
		last.DeviceID == deviceID &&
		now.Sub(last.T) <= a.window
}

// List returns a copy of all entries, oldest first.
func (a *Aggregator) List() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Since returns entries created or updated after seq, oldest first.
func (a *Aggregator) Since(seq uint64) []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := []Entry{}
	for _, e := range a.entries {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Clear removes every entry. IDs keep increasing afterwards.
func (a *Aggregator) Clear() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.entries)
	a.entries = nil
	return n
}

// Len returns the number of retained entries.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
