package session

import (
	"fmt"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/device"
	"github.com/nerrad567/fleetlink-core/internal/notify"
)

// DefaultLivenessInterval is the recompute cadence when none is configured.
const DefaultLivenessInterval = 500 * time.Millisecond

// livenessTick runs one recompute pass and re-arms itself.
func (s *Session) livenessTick() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.RecomputeLiveness()

	s.mu.Lock()
	if !s.closed {
		s.liveness = s.clock.AfterFunc(s.livenessEvery, s.livenessTick)
	}
	s.mu.Unlock()
}

// RecomputeLiveness evaluates every device as of the session clock and
// emits one notification per transition. It also expires old series points
// and refreshes the device and in-flight gauges. It returns the
// transitions observed.
func (s *Session) RecomputeLiveness() []device.Transition {
	now := s.clock.Now()

	transitions := s.registry.Recompute(now)
	for _, tr := range transitions {
		s.metrics.Transitions.WithLabelValues(string(tr.To)).Inc()
		if s.mirror != nil {
			s.mirror.WriteTransition(tr.DeviceID, string(tr.From), string(tr.To), now)
		}
		s.notes.Add(transitionLevel(tr.To), "Device "+string(tr.To),
			fmt.Sprintf("%s was %s", tr.DeviceID, tr.From), tr.DeviceID)
	}
	if len(transitions) > 0 {
		ids := make([]string, len(transitions))
		for i, tr := range transitions {
			ids[i] = tr.DeviceID
		}
		s.markDirty(ids...)
	}

	if evicted := s.store.Sweep(now); evicted > 0 {
		s.metrics.SeriesEvicted.Add(float64(evicted))
	}

	stats := s.registry.Stats(now)
	byLiveness := make(map[string]int, len(stats.ByLiveness))
	for l, n := range stats.ByLiveness {
		byLiveness[string(l)] = n
	}
	s.metrics.SetDevices(byLiveness)
	s.metrics.CommandsInFlight.Set(float64(s.correlator.InFlight()))

	return transitions
}

func transitionLevel(to device.Liveness) notify.Level {
	switch to {
	case device.LivenessOnline:
		return notify.LevelOK
	case device.LivenessStale:
		return notify.LevelWarn
	default:
		return notify.LevelBad
	}
}
