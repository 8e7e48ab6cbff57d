package state

import (
	"database/sql"
	"time"
)

// StoreToken upserts the token singleton row and stamps both
// last_authenticated and last_validated to now. The token arrives already
// obfuscated from the auth package; this store never inspects it.
func (s *Store) StoreToken(accessToken string, expiry time.Time, broker string) bool {
	if broker == "" {
		broker = "upstox"
	}

	now := s.now().UnixMilli()
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO token_state
		(id, access_token, token_expiry, refresh_token, broker, last_authenticated, last_validated)
		VALUES (1, ?, ?, NULL, ?, ?, ?)
	`, accessToken, expiry.UnixMilli(), broker, now, now)
	if err != nil {
		s.log.Error().Err(err).Str("broker", broker).Msg("Failed to store token")
		return false
	}

	s.log.Info().Str("broker", broker).Time("expiry", expiry).Msg("Token stored")
	return true
}

// TouchTokenValidation updates last_validated to now without rewriting the
// token. Called after successful broker API calls to track token health.
func (s *Store) TouchTokenValidation() bool {
	result, err := s.db.Exec(
		`UPDATE token_state SET last_validated = ? WHERE id = 1`, s.now().UnixMilli(),
	)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to update token validation timestamp")
		return false
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return affected > 0
}

// GetTokenState returns the token singleton row, or nil if no token has
// ever been stored.
func (s *Store) GetTokenState() *TokenState {
	var ts TokenState
	var token, refresh sql.NullString
	var expiry, lastAuth, lastValidated sql.NullInt64

	err := s.db.QueryRow(`
		SELECT access_token, token_expiry, refresh_token, broker, last_authenticated, last_validated
		FROM token_state WHERE id = 1
	`).Scan(&token, &expiry, &refresh, &ts.Broker, &lastAuth, &lastValidated)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read token state")
		return nil
	}

	ts.AccessToken = token.String
	ts.RefreshToken = refresh.String
	ts.TokenExpiry = unixMilli(expiry.Int64)
	ts.LastAuthenticated = unixMilli(lastAuth.Int64)
	ts.LastValidated = unixMilli(lastValidated.Int64)
	return &ts
}
