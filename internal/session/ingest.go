package session

import (
	"sort"
	"strings"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/notify"
	"github.com/nerrad567/fleetlink-core/internal/payload"
	"github.com/nerrad567/fleetlink-core/internal/series"
	"github.com/nerrad567/fleetlink-core/internal/topic"
)

// Reasons reported on the dropped-messages counter.
const (
	dropTopic        = "topic"
	dropUnmatchedAck = "unmatched_ack"
	dropNoNumeric    = "no_numeric"
	dropClosed       = "closed"
)

// timestampField is the optional per-message sample time in telemetry
// objects, in milliseconds since the Unix epoch.
const timestampField = "ts"

// A device timestamp outside [now-maxTimestampAge, now+maxTimestampSkew]
// is ignored and the receive time used instead.
const (
	maxTimestampAge  = 24 * time.Hour
	maxTimestampSkew = 5 * time.Minute
)

// HandleMessage is the inbound transport callback. It never returns an
// error for bad data: unparsable topics are ignored and malformed payloads
// are stored as whatever they decode to.
func (s *Session) HandleMessage(t string, raw []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		s.metrics.MessagesDropped.WithLabelValues(dropClosed).Inc()
		return nil
	}

	parsed, ok := s.codec.Parse(t)
	if !ok {
		s.metrics.MessagesDropped.WithLabelValues(dropTopic).Inc()
		s.logger.Debug("ignoring topic", "topic", t)
		return nil
	}
	s.metrics.MessagesReceived.WithLabelValues(string(parsed.Kind)).Inc()

	v := payload.Decode(raw)
	now := s.clock.Now()
	id := parsed.DeviceID

	switch parsed.Kind {
	case topic.KindTelemetry:
		s.ingestTelemetry(id, parsed.Path, v, now)
	case topic.KindStatus, topic.KindState, topic.KindMeta:
		s.registry.RecordInbound(id, parsed.Kind, parsed.Path, v, now)
	case topic.KindAck:
		s.registry.RecordInbound(id, parsed.Kind, parsed.Path, v, now)
		if !s.correlator.ResolveAck(id, parsed.Path, v) {
			s.metrics.MessagesDropped.WithLabelValues(dropUnmatchedAck).Inc()
		}
	case topic.KindEvent:
		s.registry.RecordInbound(id, parsed.Kind, parsed.Path, v, now)
		s.notes.Add(notify.LevelInfo, eventTitle(parsed.Path), eventDetail(v), id)
	case topic.KindCmd:
		// Our own outbound traffic echoed by the broker.
		s.registry.Ensure(id)
	}

	s.markDirty(id)
	return nil
}

// ingestTelemetry refreshes last-seen and appends every numeric value in
// the payload to its series.
func (s *Session) ingestTelemetry(id, path string, v payload.Value, now time.Time) {
	s.registry.RecordInbound(id, topic.KindTelemetry, path, v, now)

	samples, at := flattenTelemetry(path, v, now)
	if len(samples) == 0 {
		s.metrics.MessagesDropped.WithLabelValues(dropNoNumeric).Inc()
		return
	}
	if at.IsZero() {
		at = now
	}

	for _, sm := range samples {
		evicted := s.store.Push(series.Key{DeviceID: id, Metric: sm.metric}, series.Point{T: at, V: sm.value})
		s.metrics.SeriesPoints.Inc()
		if evicted > 0 {
			s.metrics.SeriesEvicted.Add(float64(evicted))
		}
		if s.mirror != nil {
			s.mirror.WriteSeriesPoint(id, sm.metric, sm.value, at)
		}
	}
}

type sample struct {
	metric string
	value  float64
}

// flattenTelemetry extracts numeric samples from a telemetry payload.
//
// A scalar payload becomes one sample named after the topic path (or
// "value" without one). An object is flattened recursively, joining keys
// with "."; booleans count as 0/1 and non-numeric leaves are skipped. A
// numeric top-level "ts" field is taken as the sample time when it lies
// within a plausible window around now. Samples are sorted by metric name.
func flattenTelemetry(path string, v payload.Value, now time.Time) ([]sample, time.Time) {
	prefix := strings.ReplaceAll(path, "/", ".")

	obj, ok := v.Object()
	if !ok {
		n, ok := v.Number()
		if !ok {
			return nil, time.Time{}
		}
		if prefix == "" {
			prefix = "value"
		}
		return []sample{{metric: prefix, value: n}}, time.Time{}
	}

	var at time.Time
	if ts, ok := payload.Number(obj[timestampField]); ok {
		at = sampleTime(ts, now)
	}

	var out []sample
	flattenObject(prefix, obj, true, &out)
	sort.Slice(out, func(i, j int) bool { return out[i].metric < out[j].metric })
	return out, at
}

// sampleTime converts a millisecond timestamp, returning the zero time when
// it falls outside the accepted window. Bounds are checked before the
// integer conversion so huge values cannot overflow.
func sampleTime(ms float64, now time.Time) time.Time {
	lo := float64(now.Add(-maxTimestampAge).UnixMilli())
	hi := float64(now.Add(maxTimestampSkew).UnixMilli())
	if ms < lo || ms > hi {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms))
}

func flattenObject(prefix string, obj map[string]any, top bool, out *[]sample) {
	for k, raw := range obj {
		if top && k == timestampField {
			continue
		}
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		if nested, ok := raw.(map[string]any); ok {
			flattenObject(name, nested, false, out)
			continue
		}
		if n, ok := payload.Number(raw); ok {
			*out = append(*out, sample{metric: name, value: n})
		}
	}
}

func eventTitle(path string) string {
	if path == "" {
		return "Device event"
	}
	return "Event " + path
}

// eventDetail prefers a "message" field, then plain text.
func eventDetail(v payload.Value) string {
	if msg, ok := v.String("message"); ok {
		return msg
	}
	if v.Kind == payload.KindText {
		return v.Text
	}
	return ""
}
