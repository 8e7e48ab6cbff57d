package state

import (
	"database/sql"
	"time"
)

// sessionDateLayout is the calendar-date key for session rows.
const sessionDateLayout = "2006-01-02"

// sessionDate normalizes an optional date to its YYYY-MM-DD key,
// defaulting to today.
func (s *Store) sessionDate(date time.Time) string {
	if date.IsZero() {
		date = s.now()
	}
	return date.Format(sessionDateLayout)
}

// GetOrCreateSession returns the trading session row for a calendar date
// (today when date is the zero time), creating it if absent. Creation
// snapshots starting_capital from the current capital state, 0 when capital
// is uninitialized. The call is idempotent per date: an existing row is
// returned untouched, counters intact.
func (s *Store) GetOrCreateSession(date time.Time) *SessionState {
	day := s.sessionDate(date)
	var session *SessionState

	ok := s.withTx("get_or_create_session", func(tx *sql.Tx) error {
		existing, err := scanSession(tx.QueryRow(sessionSelect+` WHERE session_date = ?`, day))
		if err == nil {
			session = existing
			return nil
		}
		if err != sql.ErrNoRows {
			return err
		}

		// Snapshot starting capital inside the same transaction so a
		// concurrent adjustment cannot slip between read and insert.
		var startingCapital float64
		err = tx.QueryRow(`SELECT current_capital FROM capital_state WHERE id = 1`).Scan(&startingCapital)
		if err != nil && err != sql.ErrNoRows {
			return err
		}

		now := s.now().UnixMilli()
		if _, err := tx.Exec(`
			INSERT INTO session_state (session_date, starting_capital, created_at, updated_at)
			VALUES (?, ?, ?, ?)
		`, day, startingCapital, now, now); err != nil {
			return err
		}

		session, err = scanSession(tx.QueryRow(sessionSelect+` WHERE session_date = ?`, day))
		return err
	})
	if !ok {
		return nil
	}
	return session
}

// UpdateSessionPnL overwrites the session's realized and unrealized P&L.
// Returns false when no session row exists for the date (the caller should
// GetOrCreateSession first).
func (s *Store) UpdateSessionPnL(realized, unrealized float64, date time.Time) bool {
	result, err := s.db.Exec(`
		UPDATE session_state
		SET realized_pnl = ?, unrealized_pnl = ?, updated_at = ?
		WHERE session_date = ?
	`, realized, unrealized, s.now().UnixMilli(), s.sessionDate(date))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to update session P&L")
		return false
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return affected > 0
}

// RecordTradeResult increments the session's trade counters. A winning
// trade also bumps winning_trades, a losing one losing_trades; a scratch
// (win == nil) counts the trade only.
func (s *Store) RecordTradeResult(win *bool, date time.Time) bool {
	winDelta, lossDelta := 0, 0
	if win != nil {
		if *win {
			winDelta = 1
		} else {
			lossDelta = 1
		}
	}

	result, err := s.db.Exec(`
		UPDATE session_state
		SET trades_count = trades_count + 1,
		    winning_trades = winning_trades + ?,
		    losing_trades = losing_trades + ?,
		    updated_at = ?
		WHERE session_date = ?
	`, winDelta, lossDelta, s.now().UnixMilli(), s.sessionDate(date))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to record trade result")
		return false
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return affected > 0
}

// SetCircuitBreaker flags (or clears) the session's circuit breaker and
// appends a note explaining why.
func (s *Store) SetCircuitBreaker(triggered bool, notes string, date time.Time) bool {
	flag := 0
	if triggered {
		flag = 1
	}

	result, err := s.db.Exec(`
		UPDATE session_state
		SET circuit_breaker_triggered = ?, session_notes = ?, updated_at = ?
		WHERE session_date = ?
	`, flag, nullableString(notes), s.now().UnixMilli(), s.sessionDate(date))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to set circuit breaker flag")
		return false
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return affected > 0
}

const sessionSelect = `
	SELECT id, session_date, starting_capital, realized_pnl, unrealized_pnl,
	       trades_count, winning_trades, losing_trades, circuit_breaker_triggered,
	       COALESCE(session_notes, ''), created_at, updated_at
	FROM session_state
`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*SessionState, error) {
	var session SessionState
	var breaker int
	var createdAt, updatedAt int64

	err := row.Scan(&session.ID, &session.SessionDate, &session.StartingCapital,
		&session.RealizedPnL, &session.UnrealizedPnL, &session.TradesCount,
		&session.WinningTrades, &session.LosingTrades, &breaker,
		&session.SessionNotes, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	session.CircuitBreakerTriggered = breaker != 0
	session.CreatedAt = unixMilli(createdAt)
	session.UpdatedAt = unixMilli(updatedAt)
	return &session, nil
}

// GetRecentSessions returns up to limit session rows, newest first.
func (s *Store) GetRecentSessions(limit int) []SessionState {
	if limit <= 0 {
		limit = 30
	}

	rows, err := s.db.Query(sessionSelect+` ORDER BY session_date DESC LIMIT ?`, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read recent sessions")
		return []SessionState{}
	}
	defer rows.Close()

	sessions := []SessionState{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to scan session row")
			continue
		}
		sessions = append(sessions, *session)
	}
	return sessions
}
