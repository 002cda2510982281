package api

import (
	"net/http"
	"strconv"
)

// handleHistory returns recent journal entries, newest first.
//
// Query parameters:
//   - limit: maximum entries to return (default 50, capped at 500)
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeNotFound(w, "history is not enabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := s.journal.Recent(r.Context(), s.deviceID, limit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		writeInternalError(w, "failed to query history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}
