package api

import (
	"net/http"
)

// handleGetState returns the full device snapshot.
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

// handleRefresh forces a full status poll and returns the refreshed
// snapshot. The poll runs through the command queue, so the response
// reflects everything the device reported up to that point.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.RefreshStatus(r.Context()); err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}
