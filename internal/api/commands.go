package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fleetlink-core/internal/device"
)

const (
	defaultCommandLogLimit = 50
	maxCommandLogLimit     = 500
)

// commandRequest is the body of send, stage and broadcast requests.
// TimeoutMs of zero uses the configured command timeout.
type commandRequest struct {
	DeviceID  string   `json:"device_id,omitempty"`
	DeviceIDs []string `json:"device_ids,omitempty"`
	Action    string   `json:"action"`
	Payload   any      `json:"payload,omitempty"`
	TimeoutMs int64    `json:"timeout_ms,omitempty"`
}

func (c commandRequest) timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func decodeCommand(w http.ResponseWriter, r *http.Request) (commandRequest, bool) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return req, false
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "action is required")
		return req, false
	}
	if req.TimeoutMs < 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "timeout_ms must not be negative")
		return req, false
	}
	return req, true
}

// handleListCommands returns the live and recent commands for a device
// along with the persisted command log.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := defaultCommandLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxCommandLogLimit)
	}

	pending := []device.PendingCommand{}
	history := []device.CommandRecord{}
	d, err := s.session.Registry().Get(id)
	switch {
	case err == nil:
		for _, pc := range d.Pending {
			pending = append(pending, pc)
		}
		sort.Slice(pending, func(i, j int) bool {
			return pending[i].StartedAt.Before(pending[j].StartedAt)
		})
		history = d.History
	case !errors.Is(err, device.ErrDeviceNotFound):
		writeInternalError(w, "failed to get device")
		return
	}

	logged, err := s.session.CommandLog(r.Context(), id, limit)
	if err != nil {
		s.logger.Warn("command log query failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to read command log")
		return
	}
	if logged == nil {
		logged = []device.CommandRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"pending":   pending,
		"history":   history,
		"log":       logged,
	})
}

// handleSendCommand publishes a command to the device in the path.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCommand(w, r)
	if !ok {
		return
	}

	id, err := s.session.Send(chi.URLParam(r, "id"), req.Action, req.Payload, req.timeout())
	if err != nil {
		if id != "" {
			// The command exists and is recorded as failed.
			w.Header().Set("X-Command-ID", id)
		}
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(device.CommandSent)})
}

// handleStageCommand records a command without publishing it.
func (s *Server) handleStageCommand(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCommand(w, r)
	if !ok {
		return
	}

	id, err := s.session.Stage(req.DeviceID, req.Action, req.Payload, req.timeout())
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id, "status": string(device.CommandStaged)})
}

// handleConfirmCommand publishes a staged command.
func (s *Server) handleConfirmCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cid")
	if err := s.session.Confirm(id); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(device.CommandSent)})
}

// handleCancelCommand cancels a staged or in-flight command.
func (s *Server) handleCancelCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cid")
	if err := s.session.Cancel(id); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(device.CommandCancelled)})
}

// handleBroadcast sends the same command to several devices. Devices that
// fail are reported alongside the IDs that were sent.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCommand(w, r)
	if !ok {
		return
	}
	if len(req.DeviceIDs) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "device_ids is required")
		return
	}

	ids, err := s.session.Broadcast(req.DeviceIDs, req.Action, req.Payload, req.timeout())
	if err != nil && len(ids) == 0 {
		writeCommandError(w, err)
		return
	}

	resp := map[string]any{"ids": ids}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusAccepted, resp)
}
