package server

import (
	"net/http"
	"time"
)

// handleSessionToday returns today's trading session, creating it on first
// access.
func (s *Server) handleSessionToday(w http.ResponseWriter, r *http.Request) {
	session := s.stateStore.GetOrCreateSession(time.Time{})
	if session == nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

// handleRecentSessions returns past sessions, newest first.
func (s *Server) handleRecentSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 30)
	sessions := s.stateStore.GetRecentSessions(limit)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleTradeResult records a win/loss/scratch against today's session.
func (s *Server) handleTradeResult(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Win *bool `json:"win"` // null for a scratch trade
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	if !s.stateStore.RecordTradeResult(req.Win, time.Time{}) {
		s.writeError(w, http.StatusInternalServerError, "Failed to record trade result")
		return
	}
	s.writeJSON(w, http.StatusOK, s.stateStore.GetOrCreateSession(time.Time{}))
}

// handleCircuitBreaker flips today's circuit breaker flag.
func (s *Server) handleCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Triggered bool   `json:"triggered"`
		Notes     string `json:"notes,omitempty"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	if !s.stateStore.SetCircuitBreaker(req.Triggered, req.Notes, time.Time{}) {
		s.writeError(w, http.StatusInternalServerError, "Failed to update circuit breaker")
		return
	}
	s.writeJSON(w, http.StatusOK, s.stateStore.GetOrCreateSession(time.Time{}))
}
