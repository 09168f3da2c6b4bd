package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestManual_AdvanceFiresInOrder(t *testing.T) {
	c := NewManual(epoch)
	var order []string

	c.AfterFunc(300*time.Millisecond, func() { order = append(order, "c") })
	c.AfterFunc(100*time.Millisecond, func() { order = append(order, "a") })
	c.AfterFunc(200*time.Millisecond, func() { order = append(order, "b") })

	c.Advance(250 * time.Millisecond)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("fired = %v, want [a b]", order)
	}
	if got := c.Now(); !got.Equal(epoch.Add(250 * time.Millisecond)) {
		t.Errorf("Now() = %v, want epoch+250ms", got)
	}

	c.Advance(time.Second)
	if len(order) != 3 || order[2] != "c" {
		t.Fatalf("fired = %v, want [a b c]", order)
	}
}

func TestManual_CallbackSeesDeadline(t *testing.T) {
	c := NewManual(epoch)
	var seen time.Time
	c.AfterFunc(100*time.Millisecond, func() { seen = c.Now() })

	c.Advance(time.Second)
	if !seen.Equal(epoch.Add(100 * time.Millisecond)) {
		t.Errorf("callback saw %v, want epoch+100ms", seen)
	}
}

func TestManual_StopIsIdempotent(t *testing.T) {
	c := NewManual(epoch)
	fired := false
	timer := c.AfterFunc(time.Millisecond, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("first Stop() = false, want true")
	}
	if timer.Stop() {
		t.Fatal("second Stop() = true, want false")
	}
	c.Advance(time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
}

func TestManual_StopAfterFire(t *testing.T) {
	c := NewManual(epoch)
	timer := c.AfterFunc(time.Millisecond, func() {})
	c.Advance(time.Millisecond)

	if timer.Stop() {
		t.Fatal("Stop() after fire = true, want false")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestManual_RearmWithinWindow(t *testing.T) {
	c := NewManual(epoch)
	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(100*time.Millisecond, tick)
	}
	c.AfterFunc(100*time.Millisecond, tick)

	c.Advance(450 * time.Millisecond)
	if count != 4 {
		t.Errorf("ticks = %d, want 4", count)
	}
}

func TestReal_AfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real{}.AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("real timer did not fire")
	}
}
