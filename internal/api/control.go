package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/avgear-matrix/internal/matrix"
)

// handleSetPower changes the device power mode.
func (s *Server) handleSetPower(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	state := matrix.PowerState(req.State)
	switch state {
	case matrix.PowerOn, matrix.PowerStandby, matrix.PowerOff:
	default:
		writeBadRequest(w, "state must be on, standby or off")
		return
	}

	if err := s.controller.SetPower(r.Context(), state); err != nil {
		writeControllerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

// handleSetLock locks or unlocks a single output.
func (s *Server) handleSetLock(w http.ResponseWriter, r *http.Request) {
	output, ok := urlParamInt(w, r, "output")
	if !ok {
		return
	}

	var req struct {
		Locked *bool `json:"locked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Locked == nil {
		writeBadRequest(w, "locked is required")
		return
	}

	if err := s.controller.SetLock(r.Context(), output, *req.Locked); err != nil {
		writeControllerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

// handleSetLockAll locks or unlocks the whole front panel.
func (s *Server) handleSetLockAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Locked *bool `json:"locked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Locked == nil {
		writeBadRequest(w, "locked is required")
		return
	}

	if err := s.controller.SetLockAll(r.Context(), *req.Locked); err != nil {
		writeControllerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}
