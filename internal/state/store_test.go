package state

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1) // in-memory database is per-connection
	t.Cleanup(func() { db.Close() })

	store, err := New(db, zerolog.Nop())
	require.NoError(t, err)
	return store
}

func TestStateSetGetRoundTrip(t *testing.T) {
	store := setupTestStore(t)

	require.True(t, store.Set("last_sync", "2025-01-15T10:30:00Z"))

	var got string
	require.True(t, store.Get("last_sync", &got))
	assert.Equal(t, "2025-01-15T10:30:00Z", got)
}

func TestStateGetMissingKey(t *testing.T) {
	store := setupTestStore(t)

	got := "default"
	assert.False(t, store.Get("never_written", &got))
	assert.Equal(t, "default", got, "dest must keep its default on a miss")
}

func TestStateSetPreservesCreatedAt(t *testing.T) {
	store := setupTestStore(t)
	base := time.Date(2025, 6, 2, 9, 15, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	require.True(t, store.Set("risk_mode", "conservative"))

	store.now = func() time.Time { return base.Add(2 * time.Hour) }
	require.True(t, store.Set("risk_mode", "aggressive"))

	var created, updated int64
	err := store.db.QueryRow(
		`SELECT created_at, updated_at FROM app_state WHERE key = 'risk_mode'`,
	).Scan(&created, &updated)
	require.NoError(t, err)

	assert.Equal(t, base.UnixMilli(), created)
	assert.Equal(t, base.Add(2*time.Hour).UnixMilli(), updated)
}

func TestStateSetUnserializableValue(t *testing.T) {
	store := setupTestStore(t)

	assert.False(t, store.Set("bad", make(chan int)))
	assert.False(t, store.Get("bad", &struct{}{}))
}

func TestStateDelete(t *testing.T) {
	store := setupTestStore(t)

	require.True(t, store.Set("temp", 42))
	assert.True(t, store.Delete("temp"))
	assert.False(t, store.Delete("temp"), "second delete finds no row")

	var got int
	assert.False(t, store.Get("temp", &got))
}

func TestTypeTag(t *testing.T) {
	assert.Equal(t, "string", typeTag("x"))
	assert.Equal(t, "int", typeTag(7))
	assert.Equal(t, "float", typeTag(3.14))
	assert.Equal(t, "bool", typeTag(true))
	assert.Equal(t, "null", typeTag(nil))
	assert.Equal(t, "list", typeTag([]interface{}{1, 2}))
	assert.Equal(t, "map", typeTag(map[string]interface{}{"a": 1}))
	assert.Equal(t, "object", typeTag(CapitalState{}))
}

func TestSettingsRoundTrip(t *testing.T) {
	store := setupTestStore(t)

	require.True(t, store.SetSetting("max_positions", 5, "risk"))
	require.True(t, store.SetSetting("theme", "dark", ""))

	var maxPositions int
	require.True(t, store.GetSetting("max_positions", &maxPositions))
	assert.Equal(t, 5, maxPositions)

	var theme string
	require.True(t, store.GetSetting("theme", &theme))
	assert.Equal(t, "dark", theme)
}

func TestSettingsByCategory(t *testing.T) {
	store := setupTestStore(t)

	require.True(t, store.SetSetting("max_positions", 5, "risk"))
	require.True(t, store.SetSetting("max_daily_loss", 5000.0, "risk"))
	require.True(t, store.SetSetting("theme", "dark", "display"))

	risk := store.GetSettingsByCategory("risk")
	assert.Len(t, risk, 2)
	assert.JSONEq(t, "5", string(risk["max_positions"]))
	assert.JSONEq(t, "5000", string(risk["max_daily_loss"]))

	assert.Empty(t, store.GetSettingsByCategory("unknown"))
}

func TestSettingUpdateMovesCategory(t *testing.T) {
	store := setupTestStore(t)

	require.True(t, store.SetSetting("theme", "dark", "display"))
	require.True(t, store.SetSetting("theme", "light", "appearance"))

	assert.Empty(t, store.GetSettingsByCategory("display"))
	assert.Len(t, store.GetSettingsByCategory("appearance"), 1)
}

func TestTokenRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	expiry := now.Add(12 * time.Hour)
	require.True(t, store.StoreToken("OBF:abc123", expiry, "upstox"))

	ts := store.GetTokenState()
	require.NotNil(t, ts)
	assert.Equal(t, "OBF:abc123", ts.AccessToken)
	assert.Equal(t, expiry.UnixMilli(), ts.TokenExpiry.UnixMilli())
	assert.Equal(t, "upstox", ts.Broker)
	assert.Equal(t, now.UnixMilli(), ts.LastAuthenticated.UnixMilli())
}

func TestTokenSingleton(t *testing.T) {
	store := setupTestStore(t)

	require.True(t, store.StoreToken("OBF:first", time.Now().Add(time.Hour), "upstox"))
	require.True(t, store.StoreToken("OBF:second", time.Now().Add(2*time.Hour), "upstox"))

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM token_state`).Scan(&count))
	assert.Equal(t, 1, count)

	ts := store.GetTokenState()
	require.NotNil(t, ts)
	assert.Equal(t, "OBF:second", ts.AccessToken)
}

func TestTokenAbsent(t *testing.T) {
	store := setupTestStore(t)
	assert.Nil(t, store.GetTokenState())
}

func TestTouchTokenValidation(t *testing.T) {
	store := setupTestStore(t)
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	require.True(t, store.StoreToken("OBF:abc", base.Add(time.Hour), "upstox"))

	store.now = func() time.Time { return base.Add(30 * time.Minute) }
	require.True(t, store.TouchTokenValidation())

	ts := store.GetTokenState()
	require.NotNil(t, ts)
	assert.Equal(t, base.Add(30*time.Minute).UnixMilli(), ts.LastValidated.UnixMilli())
	assert.Equal(t, base.UnixMilli(), ts.LastAuthenticated.UnixMilli(),
		"validation must not touch the authentication timestamp")
}

func TestOrderAuditAppendAndRead(t *testing.T) {
	store := setupTestStore(t)

	require.True(t, store.LogOrderAction(OrderAuditEntry{
		OrderID:         "ORD-1",
		Action:          "PLACE",
		Instrument:      "NSE_FO|54321",
		OrderType:       "LIMIT",
		TransactionType: "BUY",
		Quantity:        50,
		Price:           125.5,
		Status:          "PENDING",
		Details:         map[string]interface{}{"strategy": "iron_condor"},
	}))
	require.True(t, store.LogOrderAction(OrderAuditEntry{
		OrderID:    "ORD-1",
		Action:     "FILL",
		Instrument: "NSE_FO|54321",
		Status:     "COMPLETE",
	}))
	require.True(t, store.LogOrderAction(OrderAuditEntry{
		Action:     "REJECT",
		Instrument: "NSE_FO|99999",
		Status:     "REJECTED",
	}))

	all := store.GetOrderAuditLog(10, "")
	require.Len(t, all, 3)
	assert.Equal(t, "REJECT", all[0].Action, "newest entry comes first")

	filtered := store.GetOrderAuditLog(10, "NSE_FO|54321")
	require.Len(t, filtered, 2)
	assert.Equal(t, "FILL", filtered[0].Action)
	assert.Equal(t, "PLACE", filtered[1].Action)
	assert.Equal(t, "iron_condor", filtered[1].Details["strategy"])
}

func TestOrderAuditTimestampDefault(t *testing.T) {
	store := setupTestStore(t)
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.True(t, store.LogOrderAction(OrderAuditEntry{
		Action:     "PLACE",
		Instrument: "NSE_FO|1",
	}))

	entries := store.GetOrderAuditLog(1, "")
	require.Len(t, entries, 1)
	assert.Equal(t, now.UnixMilli(), entries[0].Timestamp.UnixMilli())
}
