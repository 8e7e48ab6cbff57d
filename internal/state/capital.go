package state

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/karanmehta/quantdesk/internal/database"
)

// GetCapitalState returns the capital singleton row, or nil if capital has
// not been initialized yet.
func (s *Store) GetCapitalState() *CapitalState {
	var cs CapitalState
	var lastUpdated int64

	err := s.db.QueryRow(`
		SELECT current_capital, initial_capital, allocated_capital, available_capital, last_updated
		FROM capital_state WHERE id = 1
	`).Scan(&cs.CurrentCapital, &cs.InitialCapital, &cs.AllocatedCapital, &cs.AvailableCapital, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read capital state")
		return nil
	}

	cs.LastUpdated = unixMilli(lastUpdated)
	return &cs
}

// InitializeCapital performs one-time capital setup. It fails without any
// mutation when capital state already exists; subsequent changes must go
// through AdjustCapital. On success it writes the singleton row and one
// INITIAL_SETUP ledger row (previous_capital = 0) in a single transaction.
func (s *Store) InitializeCapital(initialCapital float64, reason string) bool {
	if initialCapital < 0 {
		s.log.Error().Float64("amount", initialCapital).Msg("Initial capital cannot be negative")
		return false
	}
	if reason == "" {
		reason = "Initial setup"
	}

	now := s.now()
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		var existing int
		err := tx.QueryRow(`SELECT id FROM capital_state WHERE id = 1`).Scan(&existing)
		if err == nil {
			return errAlreadyInitialized
		}
		if err != sql.ErrNoRows {
			return err
		}

		if _, err := tx.Exec(`
			INSERT INTO capital_state
			(id, current_capital, initial_capital, allocated_capital, available_capital, last_updated)
			VALUES (1, ?, ?, 0, ?, ?)
		`, initialCapital, initialCapital, initialCapital, now.UnixMilli()); err != nil {
			return err
		}

		_, err = tx.Exec(`
			INSERT INTO capital_adjustments
			(timestamp, adjustment_type, amount, previous_capital, new_capital, reason)
			VALUES (?, ?, ?, 0, ?, ?)
		`, now.UnixMilli(), string(AdjustmentInitial), initialCapital, initialCapital, reason)
		return err
	})
	if err != nil {
		if errors.Is(err, errAlreadyInitialized) {
			s.log.Warn().Msg("Capital already initialized, use AdjustCapital instead")
		} else {
			s.log.Error().Err(err).Msg("Failed to initialize capital")
		}
		return false
	}

	s.log.Info().Float64("initial_capital", initialCapital).Msg("Capital initialized")
	return true
}

// errAlreadyInitialized distinguishes the one-time initialization guard from
// storage faults. Both degrade to false, but the guard is a validation
// failure on the caller's side, not a fault.
var errAlreadyInitialized = errors.New("capital already initialized")

// AdjustCapital applies a capital adjustment and appends the matching ledger
// row, both within one atomic transaction. It fails (no state mutated, no
// ledger row written) when capital is uninitialized, the adjustment type is
// unknown, or the resulting capital would be negative.
//
// Sign convention: DEPOSIT and TRADE_PROFIT add abs(amount); WITHDRAWAL and
// TRADE_LOSS subtract abs(amount); MANUAL_ADJUSTMENT applies the signed
// amount as given. referenceID links the row to an external record (e.g. an
// order ID); one is generated when the caller has none, so every ledger row
// stays individually addressable.
func (s *Store) AdjustCapital(amount float64, adjType AdjustmentType, reason, referenceID string) bool {
	if !adjType.Valid() || adjType == AdjustmentInitial {
		s.log.Error().Str("type", string(adjType)).Msg("Invalid adjustment type")
		return false
	}
	if referenceID == "" {
		referenceID = uuid.NewString()
	}

	now := s.now()
	var previous, next float64

	ok := s.withTx("adjust_capital", func(tx *sql.Tx) error {
		var allocated float64
		err := tx.QueryRow(
			`SELECT current_capital, allocated_capital FROM capital_state WHERE id = 1`,
		).Scan(&previous, &allocated)
		if err == sql.ErrNoRows {
			return fmt.Errorf("capital not initialized")
		}
		if err != nil {
			return err
		}

		next = adjType.apply(previous, amount)
		if next < 0 {
			return fmt.Errorf("adjustment would result in negative capital: %.2f", next)
		}

		if _, err := tx.Exec(`
			UPDATE capital_state
			SET current_capital = ?, available_capital = ?, last_updated = ?
			WHERE id = 1
		`, next, next-allocated, now.UnixMilli()); err != nil {
			return err
		}

		_, err = tx.Exec(`
			INSERT INTO capital_adjustments
			(timestamp, adjustment_type, amount, previous_capital, new_capital, reason, reference_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, now.UnixMilli(), string(adjType), amount, previous, next, reason, nullableString(referenceID))
		return err
	})

	if ok {
		s.log.Info().
			Float64("previous", previous).
			Float64("new", next).
			Str("type", string(adjType)).
			Float64("amount", amount).
			Msg("Capital adjusted")
	}
	return ok
}

// SetAllocatedCapital records how much capital is currently committed to
// open positions and recomputes available capital. Allocation is a derived
// operational figure, not a ledger event, so no adjustment row is written.
func (s *Store) SetAllocatedCapital(allocated float64) bool {
	if allocated < 0 {
		s.log.Error().Float64("allocated", allocated).Msg("Allocated capital cannot be negative")
		return false
	}

	now := s.now()
	return s.withTx("set_allocated_capital", func(tx *sql.Tx) error {
		var current float64
		err := tx.QueryRow(`SELECT current_capital FROM capital_state WHERE id = 1`).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("capital not initialized")
		}
		if err != nil {
			return err
		}

		_, err = tx.Exec(`
			UPDATE capital_state
			SET allocated_capital = ?, available_capital = ?, last_updated = ?
			WHERE id = 1
		`, allocated, current-allocated, now.UnixMilli())
		return err
	})
}

// GetCapitalHistory returns ledger rows newest first, optionally filtered by
// adjustment type. Storage faults return an empty slice.
func (s *Store) GetCapitalHistory(limit int, adjType AdjustmentType) []CapitalAdjustment {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, timestamp, adjustment_type, amount, previous_capital, new_capital,
		       COALESCE(reason, ''), COALESCE(reference_id, '')
		FROM capital_adjustments
	`
	args := []interface{}{}
	if adjType != "" {
		query += ` WHERE adjustment_type = ?`
		args = append(args, string(adjType))
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read capital history")
		return []CapitalAdjustment{}
	}
	defer rows.Close()

	history := []CapitalAdjustment{}
	for rows.Next() {
		var adj CapitalAdjustment
		var ts int64
		var adjTypeStr string
		if err := rows.Scan(&adj.ID, &ts, &adjTypeStr, &adj.Amount,
			&adj.PreviousCapital, &adj.NewCapital, &adj.Reason, &adj.ReferenceID); err != nil {
			s.log.Warn().Err(err).Msg("Failed to scan capital adjustment row")
			continue
		}
		adj.Timestamp = unixMilli(ts)
		adj.Type = AdjustmentType(adjTypeStr)
		history = append(history, adj)
	}
	return history
}
