package cache

import (
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*Store, *sql.DB) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1) // in-memory database is per-connection
	t.Cleanup(func() { db.Close() })

	store, err := New(db, Options{}, zerolog.Nop())
	require.NoError(t, err)
	return store, db
}

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Now()} }

func useClock(s *Store, c *fakeClock) *fakeClock {
	s.now = c.Now
	s.lastSweep = c.Now()
	return c
}

func TestSetGetRoundTrip(t *testing.T) {
	store, _ := setupTestStore(t)

	quote := map[string]interface{}{"ltp": 100.0, "symbol": "NIFTY"}
	ok := store.Set("quote:NIFTY", quote, 5*time.Second)
	require.True(t, ok)

	var got map[string]interface{}
	require.True(t, store.Get("quote:NIFTY", &got))
	assert.Equal(t, 100.0, got["ltp"])
	assert.Equal(t, "NIFTY", got["symbol"])
}

func TestGetExpired(t *testing.T) {
	store, _ := setupTestStore(t)
	clock := useClock(store, newFakeClock())

	require.True(t, store.Set("quote:NIFTY", map[string]float64{"ltp": 100.0}, 5*time.Second))

	// Just inside the TTL
	clock.Advance(4 * time.Second)
	var got map[string]float64
	require.True(t, store.Get("quote:NIFTY", &got))
	assert.Equal(t, 100.0, got["ltp"])

	// Just past the TTL: expired-but-unswept rows must read as a miss
	clock.Advance(2 * time.Second)
	assert.False(t, store.Get("quote:NIFTY", &got))

	var count int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM cache").Scan(&count))
	assert.Equal(t, 1, count, "expired row should still be present until swept")
}

func TestSetOverwrites(t *testing.T) {
	store, _ := setupTestStore(t)

	require.True(t, store.Set("k", "v1", time.Hour))
	require.True(t, store.Set("k", "v2", time.Hour))

	var got string
	require.True(t, store.Get("k", &got))
	assert.Equal(t, "v2", got)

	var count int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM cache").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSetUnserializableValue(t *testing.T) {
	store, _ := setupTestStore(t)

	// Channels cannot be JSON serialized; Set must fail closed
	assert.False(t, store.Set("bad", make(chan int), time.Hour))

	stats := store.Stats()
	assert.Equal(t, int64(0), stats.TotalSets)
	assert.Equal(t, 0, stats.TotalEntries)
}

func TestDelete(t *testing.T) {
	store, _ := setupTestStore(t)

	require.True(t, store.Set("k", "v", time.Hour))
	assert.True(t, store.Delete("k"))
	assert.False(t, store.Delete("k"), "second delete should report nothing removed")

	var got string
	assert.False(t, store.Get("k", &got))
}

func TestClear(t *testing.T) {
	store, _ := setupTestStore(t)

	require.True(t, store.Set("a", 1, time.Hour))
	require.True(t, store.Set("b", 2, time.Hour))
	require.True(t, store.Set("c", 3, time.Hour))

	assert.Equal(t, 3, store.Clear())
	assert.Equal(t, 0, store.Clear())
}

func TestGetOrSet(t *testing.T) {
	store, _ := setupTestStore(t)

	calls := 0
	factory := func() (interface{}, error) {
		calls++
		return map[string]float64{"ltp": 42.5}, nil
	}

	var got map[string]float64
	require.True(t, store.GetOrSet("quote:BANKNIFTY", &got, time.Hour, factory))
	assert.Equal(t, 42.5, got["ltp"])
	assert.Equal(t, 1, calls)

	// Second call is served from cache
	got = nil
	require.True(t, store.GetOrSet("quote:BANKNIFTY", &got, time.Hour, factory))
	assert.Equal(t, 42.5, got["ltp"])
	assert.Equal(t, 1, calls)
}

func TestGetOrSetFactoryError(t *testing.T) {
	store, _ := setupTestStore(t)

	var got string
	ok := store.GetOrSet("k", &got, time.Hour, func() (interface{}, error) {
		return nil, errors.New("broker unavailable")
	})
	assert.False(t, ok)

	// Nothing was cached
	assert.False(t, store.Get("k", &got))
}

func TestLongKeyNormalization(t *testing.T) {
	store, _ := setupTestStore(t)

	longKey := "candles:" + strings.Repeat("NSE_FO|67890:", 40) + "1minute"
	require.Greater(t, len(longKey), maxVerbatimKeyLen)

	require.True(t, store.Set(longKey, "payload", time.Hour))

	var got string
	require.True(t, store.Get(longKey, &got))
	assert.Equal(t, "payload", got)

	// Stored key is the fixed-length digest, not the original
	var storedKey string
	require.NoError(t, store.db.QueryRow("SELECT key FROM cache").Scan(&storedKey))
	assert.Len(t, storedKey, 64)
	assert.NotEqual(t, longKey, storedKey)
}

func TestStatsClassification(t *testing.T) {
	store, _ := setupTestStore(t)
	clock := useClock(store, newFakeClock())

	require.True(t, store.Set("a", 1, 10*time.Second))
	require.True(t, store.Set("b", 2, 10*time.Second))

	var got int
	store.Get("a", &got)       // hit
	store.Get("missing", &got) // miss
	clock.Advance(11 * time.Second)
	store.Get("b", &got) // expired, classified as miss

	stats := store.Stats()
	assert.Equal(t, int64(1), stats.TotalHits)
	assert.Equal(t, int64(2), stats.TotalMisses)
	assert.Equal(t, int64(2), stats.TotalSets)
	assert.InDelta(t, 33.33, stats.HitRatePercent, 0.01)
}

func TestStatsEmptyDenominator(t *testing.T) {
	store, _ := setupTestStore(t)

	stats := store.Stats()
	assert.Equal(t, 0.0, stats.HitRatePercent)
}

func TestSweepCountsEvictions(t *testing.T) {
	store, _ := setupTestStore(t)
	clock := useClock(store, newFakeClock())

	require.True(t, store.Set("short1", 1, time.Second))
	require.True(t, store.Set("short2", 2, time.Second))
	require.True(t, store.Set("long", 3, time.Hour))

	clock.Advance(2 * time.Second)
	assert.Equal(t, 2, store.Sweep())
	assert.Equal(t, 0, store.Sweep(), "second sweep has nothing left to remove")

	stats := store.Stats()
	assert.Equal(t, int64(2), stats.TotalEvictions)
	assert.Equal(t, 1, stats.TotalEntries)
}

func TestLazySweepPiggybacksOnSet(t *testing.T) {
	store, _ := setupTestStore(t)
	clock := useClock(store, newFakeClock())

	require.True(t, store.Set("victim", 1, time.Second))

	// Past the sweep interval: the next Set should evict the expired row
	clock.Advance(DefaultSweepInterval + time.Minute)
	require.True(t, store.Set("fresh", 2, time.Hour))

	stats := store.Stats()
	assert.Equal(t, int64(1), stats.TotalEvictions)
	assert.Equal(t, 1, stats.TotalEntries)
}

func TestGetCorruptRowDegradesToMiss(t *testing.T) {
	store, db := setupTestStore(t)

	require.True(t, store.Set("k", map[string]int{"x": 1}, time.Hour))

	// Corrupt the stored payload behind the store's back
	_, err := db.Exec(`UPDATE cache SET value = 'not-json{' WHERE key = 'k'`)
	require.NoError(t, err)

	var got map[string]int
	assert.False(t, store.Get("k", &got))
}

func TestAccessCountTracking(t *testing.T) {
	store, db := setupTestStore(t)

	require.True(t, store.Set("k", "v", time.Hour))

	var got string
	store.Get("k", &got)
	store.Get("k", &got)
	store.Get("k", &got)

	var accessCount int
	var lastAccessed sql.NullInt64
	require.NoError(t, db.QueryRow(
		"SELECT access_count, last_accessed FROM cache WHERE key = 'k'",
	).Scan(&accessCount, &lastAccessed))
	assert.Equal(t, 3, accessCount)
	assert.True(t, lastAccessed.Valid)
}

func TestCandleTTL(t *testing.T) {
	assert.Equal(t, TTLDailyCandles, CandleTTL("day"))
	assert.Equal(t, TTLDailyCandles, CandleTTL("week"))
	assert.Equal(t, TTLIntradayCandles, CandleTTL("1minute"))
	assert.Equal(t, TTLIntradayCandles, CandleTTL("30minute"))
}
