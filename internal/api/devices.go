package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fleetlink-core/internal/device"
	"github.com/nerrad567/fleetlink-core/internal/series"
)

// deviceView adds the capability projections to a device snapshot.
type deviceView struct {
	device.Device
	Features []string `json:"features"`
}

// handleListDevices returns all known devices, optionally filtered by
// ?liveness= and ?role=.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	liveness := r.URL.Query().Get("liveness")
	role := r.URL.Query().Get("role")

	switch device.Liveness(liveness) {
	case "", device.LivenessOnline, device.LivenessStale, device.LivenessOffline:
	default:
		writeBadRequest(w, "liveness must be online, stale or offline")
		return
	}

	all := s.session.Registry().List()
	devices := make([]device.Device, 0, len(all))
	for _, d := range all {
		if liveness != "" && string(d.Liveness) != liveness {
			continue
		}
		if role != "" && d.Role != role {
			continue
		}
		devices = append(devices, d)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.session.Registry().Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, deviceView{Device: *d, Features: device.Features(d)})
}

// handleDeleteDevice forgets a device. ?drop_series=true also discards its
// telemetry.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dropSeries := false
	if raw := r.URL.Query().Get("drop_series"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeBadRequest(w, "drop_series must be a boolean")
			return
		}
		dropSeries = v
	}

	if !s.session.RemoveDevice(id, dropSeries) {
		writeNotFound(w, "device not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type seriesSummary struct {
	Metric string        `json:"metric"`
	Points int           `json:"points"`
	Latest *series.Point `json:"latest,omitempty"`
}

// handleListSeries lists the metrics recorded for a device with their
// newest point.
func (s *Server) handleListSeries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	store := s.session.Series()

	metrics := store.Metrics(id)
	out := make([]seriesSummary, 0, len(metrics))
	for _, m := range metrics {
		key := series.Key{DeviceID: id, Metric: m}
		sum := seriesSummary{Metric: m, Points: store.Len(key)}
		if p, ok := store.Latest(key); ok {
			sum.Latest = &p
		}
		out = append(out, sum)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"series":    out,
	})
}

// handleGetSeries returns the retained points of one metric. ?max_age
// accepts a Go duration ("30s") or integer milliseconds.
func (s *Server) handleGetSeries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	metric := chi.URLParam(r, "metric")

	maxAge, err := parseMaxAge(r.URL.Query().Get("max_age"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	points := s.session.Series().Query(series.Key{DeviceID: id, Metric: metric}, maxAge)
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"metric":    metric,
		"points":    points,
		"count":     len(points),
	})
}

func parseMaxAge(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ms < 0 {
			return 0, errors.New("max_age must not be negative")
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, errors.New("max_age must be a duration or milliseconds")
	}
	return d, nil
}
