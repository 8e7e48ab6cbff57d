package server

import (
	"net/http"
	"strconv"

	"github.com/karanmehta/quantdesk/internal/state"
)

// handleCapitalState returns the capital singleton, or 404 before
// initialization.
func (s *Server) handleCapitalState(w http.ResponseWriter, r *http.Request) {
	capital := s.stateStore.GetCapitalState()
	if capital == nil {
		s.writeError(w, http.StatusNotFound, "Capital not initialized")
		return
	}
	s.writeJSON(w, http.StatusOK, capital)
}

// handleInitializeCapital performs the one-time capital setup.
func (s *Server) handleInitializeCapital(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InitialCapital float64 `json:"initial_capital"`
		Reason         string  `json:"reason,omitempty"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	if !s.stateStore.InitializeCapital(req.InitialCapital, req.Reason) {
		s.writeError(w, http.StatusConflict, "Capital already initialized or amount invalid")
		return
	}

	s.writeJSON(w, http.StatusCreated, s.stateStore.GetCapitalState())
}

// handleAdjustCapital applies a ledgered capital adjustment.
func (s *Server) handleAdjustCapital(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount      float64 `json:"amount"`
		Type        string  `json:"adjustment_type"`
		Reason      string  `json:"reason"`
		ReferenceID string  `json:"reference_id,omitempty"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	adjType := state.AdjustmentType(req.Type)
	if !s.stateStore.AdjustCapital(req.Amount, adjType, req.Reason, req.ReferenceID) {
		s.writeError(w, http.StatusBadRequest, "Adjustment rejected")
		return
	}

	s.writeJSON(w, http.StatusOK, s.stateStore.GetCapitalState())
}

// handleAllocateCapital updates the allocated portion of capital.
func (s *Server) handleAllocateCapital(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AllocatedCapital float64 `json:"allocated_capital"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	if !s.stateStore.SetAllocatedCapital(req.AllocatedCapital) {
		s.writeError(w, http.StatusBadRequest, "Allocation rejected")
		return
	}

	s.writeJSON(w, http.StatusOK, s.stateStore.GetCapitalState())
}

// handleCapitalHistory returns the adjustment ledger, newest first.
// Query params: limit (default 50), type (optional filter).
func (s *Server) handleCapitalHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	adjType := state.AdjustmentType(r.URL.Query().Get("type"))

	history := s.stateStore.GetCapitalHistory(limit, adjType)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"adjustments": history,
		"count":       len(history),
	})
}

// queryInt reads an integer query parameter with a fallback.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
