package server

import (
	"net/http"
	"time"
)

// handleAuthStatus returns the broker token expiry status.
func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        s.tokens.Status(),
		"countdown":     s.tokens.FormatExpiryCountdown(),
		"block_trading": s.tokens.ShouldBlockTrading(),
		"show_warning":  s.tokens.ShouldShowWarning(),
		"checked_at":    time.Now(),
	})
}

// handleAuthorizationInfo returns everything the frontend needs to start a
// broker login flow.
func (s *Server) handleAuthorizationInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tokens.AuthorizationInfo())
}

// handleStoreToken persists a freshly issued access token.
func (s *Server) handleStoreToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   string `json:"expires_at,omitempty"` // RFC3339, optional
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	var expiry time.Time
	if req.ExpiresAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "expires_at must be RFC3339")
			return
		}
		expiry = parsed
	}

	if err := s.tokens.StoreToken(req.AccessToken, expiry); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"token":  s.tokens.Status(),
	})
}

// handleLogout clears the stored token.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !s.tokens.ClearToken() {
		s.writeError(w, http.StatusInternalServerError, "Failed to clear token")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
