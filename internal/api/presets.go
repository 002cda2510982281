package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/avgear-matrix/internal/matrix"
)

// presetSlots is the number of preset slots the device exposes (0 to 9).
const presetSlots = 10

// presetInfo describes one preset slot in list responses.
type presetInfo struct {
	Slot    int    `json:"slot"`
	Name    string `json:"name,omitempty"`
	Current bool   `json:"current,omitempty"`
}

// handleListPresets returns all preset slots with their friendly names.
// The device does not report which slots hold saved layouts, so every
// slot is listed.
func (s *Server) handleListPresets(w http.ResponseWriter, _ *http.Request) {
	snap := s.controller.Snapshot()

	presets := make([]presetInfo, 0, presetSlots)
	for slot := 0; slot < presetSlots; slot++ {
		presets = append(presets, presetInfo{
			Slot:    slot,
			Name:    snap.PresetNames[slot],
			Current: snap.CurrentPreset == slot && snap.CurrentPreset != matrix.NoPreset,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"presets": presets})
}

// handleSavePreset stores the current routing layout in a slot.
func (s *Server) handleSavePreset(w http.ResponseWriter, r *http.Request) {
	slot, ok := urlParamInt(w, r, "slot")
	if !ok {
		return
	}

	if err := s.controller.SavePreset(r.Context(), slot); err != nil {
		writeControllerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"slot": slot, "saved": true})
}

// handleRecallPreset applies a stored routing layout.
func (s *Server) handleRecallPreset(w http.ResponseWriter, r *http.Request) {
	slot, ok := urlParamInt(w, r, "slot")
	if !ok {
		return
	}

	if err := s.controller.RecallPreset(r.Context(), slot); err != nil {
		writeControllerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

// handleClearPreset erases a stored routing layout.
func (s *Server) handleClearPreset(w http.ResponseWriter, r *http.Request) {
	slot, ok := urlParamInt(w, r, "slot")
	if !ok {
		return
	}

	if err := s.controller.ClearPreset(r.Context(), slot); err != nil {
		writeControllerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"slot": slot, "cleared": true})
}

// handleSetPresetName assigns a friendly name to a slot. Names live in
// the bridge, not the device; an empty name removes the label.
func (s *Server) handleSetPresetName(w http.ResponseWriter, r *http.Request) {
	slot, ok := urlParamInt(w, r, "slot")
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.controller.SetPresetName(slot, req.Name); err != nil {
		writeControllerError(w, err)
		return
	}

	// Persist across restarts when the journal is configured.
	if s.journal != nil {
		if err := s.journal.SavePresetName(r.Context(), s.deviceID, slot, req.Name); err != nil {
			s.logger.Warn("persisting preset name failed", "slot", slot, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"slot": slot, "name": req.Name})
}
