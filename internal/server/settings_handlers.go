package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleSettingsByCategory returns all settings in a category.
func (s *Server) handleSettingsByCategory(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	settings := s.stateStore.GetSettingsByCategory(category)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"category": category,
		"settings": settings,
	})
}

// handleSetSetting upserts a single setting. The body is the raw JSON value.
func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	key := chi.URLParam(r, "key")

	var value json.RawMessage
	if !s.decodeBody(w, r, &value) {
		return
	}

	if !s.stateStore.SetSetting(key, value, category) {
		s.writeError(w, http.StatusInternalServerError, "Failed to store setting")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "key": key})
}
