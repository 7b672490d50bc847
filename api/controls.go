package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"webcamctl"
)

type ControlState struct {
	webcamctl.Control
	Position float64 `json:"position"`
	Enabled  bool    `json:"enabled"`
	// set when a newer request for the control replaced this one before it
	// was written; Value is then the last listed device value
	Superseded bool `json:"superseded,omitempty"`
}

type PositionRequest struct {
	Position *float64 `json:"position"`
}

type SwitchRequest struct {
	Enabled *bool `json:"enabled"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Map controller errors to http status
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var execErr *webcamctl.ExecutionError
	switch {
	case errors.Is(err, webcamctl.ErrUnknownControl):
		status = http.StatusNotFound
	case errors.Is(err, webcamctl.ErrControlDisabled):
		status = http.StatusConflict
	case errors.Is(err, webcamctl.ErrInvalidPosition):
		status = http.StatusBadRequest
	case errors.As(err, &execErr):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (s *APIServer) controlState(control webcamctl.Control) ControlState {
	return ControlState{
		Control:  control,
		Position: control.Position(),
		Enabled:  s.controls.Enabled(control.Name),
	}
}

func (s *APIServer) controlStates() []ControlState {
	table := s.controls.Table()
	res := make([]ControlState, 0, len(table))
	for _, name := range table.Names() {
		res = append(res, s.controlState(table[name]))
	}
	return res
}

func (s *APIServer) GetControls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controlStates())
}

func (s *APIServer) GetControl(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	control, ok := s.controls.Control(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: name + ": control is not available on device"})
		return
	}
	writeJSON(w, http.StatusOK, s.controlState(control))
}

// A PUT is a finished gesture on the client side, so it is committed right away
func (s *APIServer) PutControl(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req PositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Position == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "body must be {\"position\": <0..1>}"})
		return
	}
	value, written, err := s.controls.CommitValue(r.Context(), name, *req.Position)
	if err != nil {
		writeError(w, err)
		return
	}
	control, _ := s.controls.Control(name)
	if written {
		control.Value = value
	}
	state := s.controlState(control)
	state.Superseded = !written
	writeJSON(w, http.StatusOK, state)
}

func (s *APIServer) PutSwitch(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req SwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "body must be {\"enabled\": true|false}"})
		return
	}
	if err := s.controls.SetBoolean(r.Context(), name, *req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) PostReload(w http.ResponseWriter, r *http.Request) {
	if err := s.controls.Reload(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.controlStates())
}

func (s *APIServer) PostSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.capturer == nil || s.snapshot == "" {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: "snapshots are not configured"})
		return
	}
	s.snapshotMtx.Lock()
	defer s.snapshotMtx.Unlock()
	if err := s.capturer.Capture(r.Context(), s.snapshot); err != nil {
		s.logger.Warnw("snapshot failed", "error", err)
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, s.snapshot)
}
