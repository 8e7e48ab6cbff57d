// Package state provides the durable application-state store: capital and
// its audit ledger, broker token state, trading sessions, order audit log,
// user settings and generic typed key-value state.
//
// The store is the authoritative record the cache fronts for read-heavy
// paths. Every public method is a no-throw boundary: storage faults are
// logged and degraded to false / nil / empty results, never propagated as
// errors to callers. Validation failures (negative capital, double
// initialization) are likewise reported as explicit false returns — they are
// a financial-integrity surface, not just logging.
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/karanmehta/quantdesk/internal/database"
)

const schema = `
CREATE TABLE IF NOT EXISTS app_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	type TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS capital_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	current_capital REAL NOT NULL,
	initial_capital REAL NOT NULL,
	allocated_capital REAL NOT NULL DEFAULT 0,
	available_capital REAL NOT NULL,
	last_updated INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS capital_adjustments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	adjustment_type TEXT NOT NULL CHECK(
		adjustment_type IN (
			'DEPOSIT', 'WITHDRAWAL', 'MANUAL_ADJUSTMENT',
			'TRADE_PROFIT', 'TRADE_LOSS', 'INITIAL_SETUP'
		)
	),
	amount REAL NOT NULL,
	previous_capital REAL NOT NULL,
	new_capital REAL NOT NULL,
	reason TEXT,
	reference_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_capital_adj_timestamp ON capital_adjustments (timestamp);

CREATE TABLE IF NOT EXISTS token_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	access_token TEXT,
	token_expiry INTEGER,
	refresh_token TEXT,
	broker TEXT NOT NULL DEFAULT 'upstox',
	last_authenticated INTEGER,
	last_validated INTEGER
);

CREATE TABLE IF NOT EXISTS user_settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT 'general',
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_user_settings_category ON user_settings (category);

CREATE TABLE IF NOT EXISTS session_state (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_date TEXT NOT NULL UNIQUE,
	starting_capital REAL NOT NULL,
	realized_pnl REAL NOT NULL DEFAULT 0,
	unrealized_pnl REAL NOT NULL DEFAULT 0,
	trades_count INTEGER NOT NULL DEFAULT 0,
	winning_trades INTEGER NOT NULL DEFAULT 0,
	losing_trades INTEGER NOT NULL DEFAULT 0,
	circuit_breaker_triggered INTEGER NOT NULL DEFAULT 0,
	session_notes TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_date ON session_state (session_date);

CREATE TABLE IF NOT EXISTS order_audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	order_id TEXT,
	action TEXT NOT NULL,
	instrument TEXT NOT NULL,
	order_type TEXT,
	transaction_type TEXT,
	quantity INTEGER,
	price REAL,
	status TEXT,
	approved_by TEXT,
	rejection_reason TEXT,
	details TEXT
);

CREATE INDEX IF NOT EXISTS idx_order_audit_timestamp ON order_audit_log (timestamp);
CREATE INDEX IF NOT EXISTS idx_order_audit_instrument ON order_audit_log (instrument);
`

// Store is the durable application-state store over SQLite.
//
// Each public method performs one connect -> transact -> commit/rollback
// cycle on the shared connection pool; there are no cross-call transactions.
// Two concurrent adjustments serialize on the SQLite lock but do not compose
// with any check a caller made beforehand.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	now func() time.Time // overridable in tests
}

// New creates a state store and applies its schema. Schema creation is
// idempotent and additive only; there are no destructive migrations.
func New(db *sql.DB, log zerolog.Logger) (*Store, error) {
	s := &Store{
		db:  db,
		log: log.With().Str("component", "state_store").Logger(),
		now: time.Now,
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply state schema: %w", err)
	}

	return s, nil
}

// Set stores a value in generic app state under key. The value is JSON
// serialized with a recorded type tag; created_at is preserved across
// overwrites so "first seen" stays distinguishable from "last modified".
func (s *Store) Set(key string, value interface{}) bool {
	payload, err := json.Marshal(value)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Failed to serialize state value")
		return false
	}

	now := s.now().UnixMilli()
	_, err = s.db.Exec(`
		INSERT INTO app_state (key, value, type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			type = excluded.type,
			updated_at = excluded.updated_at
	`, key, string(payload), typeTag(value), now, now)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("State SET failed")
		return false
	}
	return true
}

// Get retrieves a value from generic app state into dest, reporting whether
// the key was found and decoded. Absent keys and storage or decode faults
// all report false; callers keep whatever default dest already holds.
func (s *Store) Get(key string, dest interface{}) bool {
	var payload string
	err := s.db.QueryRow(`SELECT value FROM app_state WHERE key = ?`, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("State GET failed")
		return false
	}

	if err := json.Unmarshal([]byte(payload), dest); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Failed to decode state value")
		return false
	}
	return true
}

// Delete removes a generic state key, reporting whether a row was removed.
func (s *Store) Delete(key string) bool {
	result, err := s.db.Exec(`DELETE FROM app_state WHERE key = ?`, key)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("State DELETE failed")
		return false
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return affected > 0
}

// typeTag returns the declared type tag recorded next to a serialized value.
func typeTag(value interface{}) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case string:
		return "string"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "int"
	case float32, float64:
		return "float"
	case []interface{}:
		return "list"
	case map[string]interface{}:
		return "map"
	default:
		return "object"
	}
}

// withTx runs fn in one transaction and degrades errors to a logged false.
// It is the shared shape of every mutating state operation.
func (s *Store) withTx(op string, fn func(*sql.Tx) error) bool {
	if err := database.WithTransaction(s.db, fn); err != nil {
		s.log.Error().Err(err).Str("op", op).Msg("State operation failed")
		return false
	}
	return true
}

// unixMilli converts a stored millisecond timestamp, mapping 0 to the zero
// time instead of the epoch.
func unixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// nullableString maps "" to SQL NULL.
func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
