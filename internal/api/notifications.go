package api

import (
	"net/http"
	"strconv"
)

// handleListNotifications returns retained notifications. With ?since=<seq>
// only entries created or updated after that sequence number are returned.
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	notes := s.session.Notifications()

	if raw := r.URL.Query().Get("since"); raw != "" {
		seq, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeBadRequest(w, "since must be a sequence number")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": notes.Since(seq)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"notifications": notes.List()})
}

func (s *Server) handleClearNotifications(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"cleared": s.session.Notifications().Clear()})
}
