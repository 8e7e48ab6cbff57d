// Package cache provides a SQLite-backed TTL cache for broker API responses.
// Quotes, candles and the order/trade books are expensive or rate-limited to
// fetch, so services read through this store before touching the broker.
// The cache is a disposable accelerator: it never originates truth and is
// designed to degrade to "always miss" when storage misbehaves.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/karanmehta/quantdesk/internal/database"
)

// maxVerbatimKeyLen is the longest key stored as-is. Longer keys are
// collapsed to a SHA-256 hex digest to bound index size. Two distinct long
// keys that collide map to the same slot; with a 256-bit digest this is an
// accepted risk.
const maxVerbatimKeyLen = 200

// DefaultSweepInterval is how often the lazy sweep piggybacked on Set is
// allowed to run.
const DefaultSweepInterval = 5 * time.Minute

const schema = `
CREATE TABLE IF NOT EXISTS cache (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0,
	last_accessed INTEGER
);

CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache (expires_at);

CREATE TABLE IF NOT EXISTS cache_stats (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	total_hits INTEGER NOT NULL DEFAULT 0,
	total_misses INTEGER NOT NULL DEFAULT 0,
	total_sets INTEGER NOT NULL DEFAULT 0,
	total_evictions INTEGER NOT NULL DEFAULT 0,
	last_updated INTEGER NOT NULL
);
`

// Store is a TTL key-value cache over SQLite.
//
// A single mutex serializes every operation (including the piggybacked
// sweep), so each public method is atomic with respect to other calls on the
// same instance. Operations are short single transactions against the
// embedded store, so serializing cache traffic is acceptable.
//
// Liveness is defined as expires_at > now and is checked at read time:
// an expired row that has not been swept yet is never returned as a hit.
type Store struct {
	db            *sql.DB
	log           zerolog.Logger
	sweepInterval time.Duration

	mu        sync.Mutex
	lastSweep time.Time

	now func() time.Time // overridable in tests
}

// Options configures a cache store.
type Options struct {
	// SweepInterval bounds how often Set triggers an expiry sweep.
	// Zero means DefaultSweepInterval.
	SweepInterval time.Duration
}

// New creates a cache store and applies its schema. Schema creation is
// idempotent and additive, safe to run on every startup.
func New(db *sql.DB, opts Options, log zerolog.Logger) (*Store, error) {
	s := &Store{
		db:            db,
		log:           log.With().Str("component", "cache_store").Logger(),
		sweepInterval: opts.SweepInterval,
		now:           time.Now,
	}
	if s.sweepInterval <= 0 {
		s.sweepInterval = DefaultSweepInterval
	}

	err := database.WithTransaction(db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(schema); err != nil {
			return err
		}
		_, err := tx.Exec(
			`INSERT OR IGNORE INTO cache_stats (id, last_updated) VALUES (1, ?)`,
			time.Now().UnixMilli(),
		)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.lastSweep = s.now()
	return s, nil
}

// normalizeKey returns the key stored in SQLite for a caller-supplied key.
func normalizeKey(key string) string {
	if len(key) <= maxVerbatimKeyLen {
		return key
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Set stores a value under key with the given TTL, overwriting any existing
// entry unconditionally (last writer wins). The value must survive JSON
// serialization; if it does not, Set logs and returns false without touching
// the cache. Storage errors likewise degrade to false.
func (s *Store) Set(key string, value interface{}, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maybeSweepLocked()

	payload, err := json.Marshal(value)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Failed to serialize cache value")
		return false
	}

	now := s.now()
	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO cache
			(key, value, created_at, expires_at, access_count, last_accessed)
			VALUES (?, ?, ?, ?, 0, NULL)
		`, normalizeKey(key), string(payload), now.UnixMilli(), now.Add(ttl).UnixMilli()); err != nil {
			return err
		}

		_, err := tx.Exec(`
			UPDATE cache_stats
			SET total_sets = total_sets + 1, last_updated = ?
			WHERE id = 1
		`, now.UnixMilli())
		return err
	})
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Cache SET failed")
		return false
	}

	s.log.Debug().Str("key", key).Dur("ttl", ttl).Msg("Cache SET")
	return true
}

// Get retrieves a live entry and decodes it into dest. It returns false on
// absent, expired, undecodable or errored reads; every call is classified as
// exactly one hit or one miss in the statistics.
func (s *Store) Get(key string, dest interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var payload string
	hit := false

	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		row := tx.QueryRow(`
			SELECT value FROM cache
			WHERE key = ? AND expires_at > ?
		`, normalizeKey(key), now.UnixMilli())

		switch err := row.Scan(&payload); err {
		case nil:
			hit = true
		case sql.ErrNoRows:
			// fall through to miss accounting
		default:
			return err
		}

		if hit {
			if _, err := tx.Exec(`
				UPDATE cache
				SET access_count = access_count + 1, last_accessed = ?
				WHERE key = ?
			`, now.UnixMilli(), normalizeKey(key)); err != nil {
				return err
			}
			_, err := tx.Exec(`
				UPDATE cache_stats
				SET total_hits = total_hits + 1, last_updated = ?
				WHERE id = 1
			`, now.UnixMilli())
			return err
		}

		_, err := tx.Exec(`
			UPDATE cache_stats
			SET total_misses = total_misses + 1, last_updated = ?
			WHERE id = 1
		`, now.UnixMilli())
		return err
	})
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Cache GET failed")
		return false
	}

	if !hit {
		s.log.Debug().Str("key", key).Msg("Cache MISS")
		return false
	}

	if err := json.Unmarshal([]byte(payload), dest); err != nil {
		// A stored row that no longer decodes is not actionable by the
		// caller; treat it like a storage fault and report a miss.
		s.log.Error().Err(err).Str("key", key).Msg("Failed to decode cached value")
		return false
	}

	s.log.Debug().Str("key", key).Msg("Cache HIT")
	return true
}

// GetOrSet returns the cached value for key, or invokes factory on a miss,
// caches the result with the given TTL and decodes it into dest. A factory
// error leaves the cache untouched and returns false. Concurrent callers
// missing on the same key may each invoke the factory; stampedes are
// tolerated, not prevented.
func (s *Store) GetOrSet(key string, dest interface{}, ttl time.Duration, factory func() (interface{}, error)) bool {
	if s.Get(key, dest) {
		return true
	}

	value, err := factory()
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Cache factory failed")
		return false
	}

	s.Set(key, value, ttl)

	// Round-trip through JSON so the fresh path yields the same shape as a
	// later cache hit would.
	payload, err := json.Marshal(value)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Failed to decode factory value")
		return false
	}
	return true
}

// Delete removes the entry for key, reporting whether a row was removed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`DELETE FROM cache WHERE key = ?`, normalizeKey(key))
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Cache DELETE failed")
		return false
	}

	affected, err := result.RowsAffected()
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Cache DELETE rows affected failed")
		return false
	}

	if affected > 0 {
		s.log.Debug().Str("key", key).Msg("Cache DELETE")
	}
	return affected > 0
}

// Clear removes all entries and returns how many were removed.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if err := tx.QueryRow(`SELECT COUNT(*) FROM cache`).Scan(&count); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM cache`)
		return err
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Cache CLEAR failed")
		return 0
	}

	s.log.Info().Int("removed", count).Msg("Cache cleared")
	return count
}

// Sweep removes all expired rows and returns how many were removed.
// The count is added to total_evictions.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.sweepLocked()
	s.lastSweep = s.now()
	return n
}

// maybeSweepLocked runs an expiry sweep if the sweep interval has elapsed.
// Caller must hold s.mu. The sweep is lazy: a cache that receives no writes
// retains expired rows until the next write (or a scheduled SweepJob run).
func (s *Store) maybeSweepLocked() {
	if s.now().Sub(s.lastSweep) <= s.sweepInterval {
		return
	}
	s.sweepLocked()
	s.lastSweep = s.now()
}

func (s *Store) sweepLocked() int {
	now := s.now()
	var count int

	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if err := tx.QueryRow(
			`SELECT COUNT(*) FROM cache WHERE expires_at <= ?`, now.UnixMilli(),
		).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return nil
		}

		if _, err := tx.Exec(`DELETE FROM cache WHERE expires_at <= ?`, now.UnixMilli()); err != nil {
			return err
		}
		_, err := tx.Exec(`
			UPDATE cache_stats
			SET total_evictions = total_evictions + ?, last_updated = ?
			WHERE id = 1
		`, count, now.UnixMilli())
		return err
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Cache sweep failed")
		return 0
	}

	if count > 0 {
		s.log.Debug().Int("removed", count).Msg("Cache sweep removed expired entries")
	}
	return count
}

// Statistics reports cache effectiveness and the state of the store.
type Statistics struct {
	TotalEntries   int       `json:"total_entries"`
	ExpiredEntries int       `json:"expired_entries"`
	TotalHits      int64     `json:"total_hits"`
	TotalMisses    int64     `json:"total_misses"`
	TotalSets      int64     `json:"total_sets"`
	TotalEvictions int64     `json:"total_evictions"`
	HitRatePercent float64   `json:"hit_rate_percent"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Stats returns cache statistics. Counters are monotonic for the lifetime of
// the underlying database; they reset only when the store is re-initialized
// from scratch. Storage errors return the zero value.
func (s *Store) Stats() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats Statistics
	now := s.now()

	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if err := tx.QueryRow(`SELECT COUNT(*) FROM cache`).Scan(&stats.TotalEntries); err != nil {
			return err
		}
		if err := tx.QueryRow(
			`SELECT COUNT(*) FROM cache WHERE expires_at <= ?`, now.UnixMilli(),
		).Scan(&stats.ExpiredEntries); err != nil {
			return err
		}

		var lastUpdated int64
		if err := tx.QueryRow(`
			SELECT total_hits, total_misses, total_sets, total_evictions, last_updated
			FROM cache_stats WHERE id = 1
		`).Scan(&stats.TotalHits, &stats.TotalMisses, &stats.TotalSets, &stats.TotalEvictions, &lastUpdated); err != nil {
			return err
		}
		stats.LastUpdated = time.UnixMilli(lastUpdated)
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Cache stats query failed")
		return Statistics{}
	}

	if total := stats.TotalHits + stats.TotalMisses; total > 0 {
		stats.HitRatePercent = float64(stats.TotalHits) / float64(total) * 100
	}
	return stats
}
