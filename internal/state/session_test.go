package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDay = time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC)

func TestGetOrCreateSession(t *testing.T) {
	store := setupTestStore(t)
	require.True(t, store.InitializeCapital(100000, ""))

	session := store.GetOrCreateSession(testDay)
	require.NotNil(t, session)
	assert.Equal(t, "2025-06-02", session.SessionDate)
	assert.Equal(t, 100000.0, session.StartingCapital)
	assert.Equal(t, 0, session.TradesCount)
	assert.False(t, session.CircuitBreakerTriggered)
}

func TestGetOrCreateSessionIdempotent(t *testing.T) {
	store := setupTestStore(t)
	require.True(t, store.InitializeCapital(100000, ""))

	first := store.GetOrCreateSession(testDay)
	require.NotNil(t, first)
	require.True(t, store.UpdateSessionPnL(1500, -200, testDay))

	// Capital moves after the session opened; the snapshot must not follow.
	require.True(t, store.AdjustCapital(50000, AdjustmentDeposit, "", ""))

	again := store.GetOrCreateSession(testDay)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 100000.0, again.StartingCapital)
	assert.Equal(t, 1500.0, again.RealizedPnL)
	assert.Equal(t, -200.0, again.UnrealizedPnL)
}

func TestSessionWithoutCapital(t *testing.T) {
	store := setupTestStore(t)

	session := store.GetOrCreateSession(testDay)
	require.NotNil(t, session)
	assert.Equal(t, 0.0, session.StartingCapital)
}

func TestUpdateSessionPnLMissingSession(t *testing.T) {
	store := setupTestStore(t)
	assert.False(t, store.UpdateSessionPnL(100, 0, testDay))
}

func TestRecordTradeResult(t *testing.T) {
	store := setupTestStore(t)
	require.NotNil(t, store.GetOrCreateSession(testDay))

	win, loss := true, false
	require.True(t, store.RecordTradeResult(&win, testDay))
	require.True(t, store.RecordTradeResult(&win, testDay))
	require.True(t, store.RecordTradeResult(&loss, testDay))
	require.True(t, store.RecordTradeResult(nil, testDay)) // scratch trade

	session := store.GetOrCreateSession(testDay)
	require.NotNil(t, session)
	assert.Equal(t, 4, session.TradesCount)
	assert.Equal(t, 2, session.WinningTrades)
	assert.Equal(t, 1, session.LosingTrades)
}

func TestSetCircuitBreaker(t *testing.T) {
	store := setupTestStore(t)
	require.NotNil(t, store.GetOrCreateSession(testDay))

	require.True(t, store.SetCircuitBreaker(true, "daily loss limit hit", testDay))

	session := store.GetOrCreateSession(testDay)
	require.NotNil(t, session)
	assert.True(t, session.CircuitBreakerTriggered)
	assert.Equal(t, "daily loss limit hit", session.SessionNotes)

	require.True(t, store.SetCircuitBreaker(false, "reset after review", testDay))
	session = store.GetOrCreateSession(testDay)
	assert.False(t, session.CircuitBreakerTriggered)
}

func TestGetRecentSessions(t *testing.T) {
	store := setupTestStore(t)

	for i := 0; i < 5; i++ {
		require.NotNil(t, store.GetOrCreateSession(testDay.AddDate(0, 0, i)))
	}

	sessions := store.GetRecentSessions(3)
	require.Len(t, sessions, 3)
	assert.Equal(t, "2025-06-06", sessions[0].SessionDate, "newest first")
	assert.Equal(t, "2025-06-05", sessions[1].SessionDate)
	assert.Equal(t, "2025-06-04", sessions[2].SessionDate)
}

func TestSessionDefaultsToToday(t *testing.T) {
	store := setupTestStore(t)
	store.now = func() time.Time { return testDay }

	session := store.GetOrCreateSession(time.Time{})
	require.NotNil(t, session)
	assert.Equal(t, "2025-06-02", session.SessionDate)
}
