package state

import (
	"database/sql"
	"encoding/json"
)

// SetSetting stores a user setting under a category ("general" when empty).
// Values round-trip through JSON like generic app state.
func (s *Store) SetSetting(key string, value interface{}, category string) bool {
	if category == "" {
		category = "general"
	}

	payload, err := json.Marshal(value)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Failed to serialize setting")
		return false
	}

	_, err = s.db.Exec(`
		INSERT INTO user_settings (key, value, category, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			category = excluded.category,
			updated_at = excluded.updated_at
	`, key, string(payload), category, s.now().UnixMilli())
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Failed to store setting")
		return false
	}
	return true
}

// GetSetting retrieves a user setting into dest, reporting whether the key
// was found and decoded. On false, dest keeps its prior (default) value.
func (s *Store) GetSetting(key string, dest interface{}) bool {
	var payload string
	err := s.db.QueryRow(`SELECT value FROM user_settings WHERE key = ?`, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Failed to read setting")
		return false
	}

	if err := json.Unmarshal([]byte(payload), dest); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Failed to decode setting")
		return false
	}
	return true
}

// GetSettingsByCategory returns all settings in a category as raw JSON
// values keyed by setting name. Storage faults return an empty map.
func (s *Store) GetSettingsByCategory(category string) map[string]json.RawMessage {
	rows, err := s.db.Query(
		`SELECT key, value FROM user_settings WHERE category = ?`, category,
	)
	if err != nil {
		s.log.Error().Err(err).Str("category", category).Msg("Failed to read settings")
		return map[string]json.RawMessage{}
	}
	defer rows.Close()

	settings := map[string]json.RawMessage{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			s.log.Warn().Err(err).Msg("Failed to scan setting row")
			continue
		}
		settings[key] = json.RawMessage(value)
	}
	return settings
}
