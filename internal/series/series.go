package series

import (
	"time"
)

// Point is one sample. Points are immutable once appended.
type Point struct {
	T time.Time `json:"t"`
	V float64   `json:"v"`
}

// Key identifies a series.
type Key struct {
	DeviceID string `json:"device_id"`
	Metric   string `json:"metric"`
}

// buffer is a fixed-capacity FIFO ring of points.
//
// Invariants: n <= len(buf); the oldest point is at buf[head].
type buffer struct {
	buf  []Point
	head int
	n    int
}

func newBuffer(capacity int) *buffer {
	return &buffer{buf: make([]Point, capacity)}
}

// push appends p, overwriting the oldest point when full.
func (b *buffer) push(p Point) {
	if b.n == len(b.buf) {
		b.buf[b.head] = p
		b.head = (b.head + 1) % len(b.buf)
		return
	}
	b.buf[(b.head+b.n)%len(b.buf)] = p
	b.n++
}

// at returns the i-th oldest point.
func (b *buffer) at(i int) Point {
	return b.buf[(b.head+i)%len(b.buf)]
}

// popFront drops the oldest point.
func (b *buffer) popFront() {
	b.buf[b.head] = Point{}
	b.head = (b.head + 1) % len(b.buf)
	b.n--
}

// evictBefore drops points from the head while head.T < cutoff.
func (b *buffer) evictBefore(cutoff time.Time) int {
	evicted := 0
	for b.n > 0 && b.at(0).T.Before(cutoff) {
		b.popFront()
		evicted++
	}
	return evicted
}

// last returns the newest point.
func (b *buffer) last() (Point, bool) {
	if b.n == 0 {
		return Point{}, false
	}
	return b.at(b.n - 1), true
}

// snapshot copies points with T >= cutoff (all points if cutoff is zero).
func (b *buffer) snapshot(cutoff time.Time) []Point {
	out := make([]Point, 0, b.n)
	for i := 0; i < b.n; i++ {
		p := b.at(i)
		if !cutoff.IsZero() && p.T.Before(cutoff) {
			continue
		}
		out = append(out, p)
	}
	return out
}
