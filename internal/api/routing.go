package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// routeRequest is the body for POST /routes. Output and Outputs are
// mutually exclusive; Outputs wins when both are set.
type routeRequest struct {
	Input   int   `json:"input"`
	Output  int   `json:"output,omitempty"`
	Outputs []int `json:"outputs,omitempty"`
}

// handleRoute switches one input to one or more outputs.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var err error
	if len(req.Outputs) > 0 {
		err = s.controller.RouteMulti(r.Context(), req.Input, req.Outputs)
	} else {
		err = s.controller.Route(r.Context(), req.Input, req.Output)
	}
	if err != nil {
		writeControllerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

// handleRouteAll switches one input to every output.
func (s *Server) handleRouteAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input int `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.controller.RouteAll(r.Context(), req.Input); err != nil {
		writeControllerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

// handleRouteThrough sets the identity mapping, input N to output N.
func (s *Server) handleRouteThrough(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.RouteThrough(r.Context()); err != nil {
		writeControllerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

// handleSetOutput enables or disables a single output.
func (s *Server) handleSetOutput(w http.ResponseWriter, r *http.Request) {
	output, ok := urlParamInt(w, r, "output")
	if !ok {
		return
	}

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Enabled == nil {
		writeBadRequest(w, "enabled is required")
		return
	}

	if err := s.controller.SetOutputEnabled(r.Context(), output, *req.Enabled); err != nil {
		writeControllerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

// handleSetAllOutputs enables or disables every output.
func (s *Server) handleSetAllOutputs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Enabled == nil {
		writeBadRequest(w, "enabled is required")
		return
	}

	if err := s.controller.SetAllOutputsEnabled(r.Context(), *req.Enabled); err != nil {
		writeControllerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

// handleOutputThrough routes an output to its same-numbered input.
func (s *Server) handleOutputThrough(w http.ResponseWriter, r *http.Request) {
	output, ok := urlParamInt(w, r, "output")
	if !ok {
		return
	}

	if err := s.controller.OutputThrough(r.Context(), output); err != nil {
		writeControllerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

// urlParamInt parses an integer URL parameter, writing a 400 response
// on failure.
func urlParamInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		writeBadRequest(w, name+" must be an integer")
		return 0, false
	}
	return v, true
}
