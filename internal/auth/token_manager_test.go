package auth

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karanmehta/quantdesk/internal/state"
)

func setupManager(t *testing.T) (*Manager, *state.Store) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1) // in-memory database is per-connection
	t.Cleanup(func() { db.Close() })

	store, err := state.New(db, zerolog.Nop())
	require.NoError(t, err)

	mgr := New(store, "upstox", "test-api-key", "http://localhost:3000/callback", zerolog.Nop())
	return mgr, store
}

func TestObfuscationRoundTrip(t *testing.T) {
	token := "eyJ0eXAiOiJKV1QiLCJhbGciOiJIUzI1NiJ9.payload.sig"

	stored := obfuscate(token)
	assert.True(t, strings.HasPrefix(stored, "OBF:"))
	assert.NotContains(t, stored, token, "raw token must not appear in stored form")
	assert.Equal(t, token, deobfuscate(stored))
}

func TestDeobfuscatePassthrough(t *testing.T) {
	assert.Equal(t, "plaintext-legacy", deobfuscate("plaintext-legacy"))
	assert.Equal(t, "", deobfuscate(""))
	// Prefixed but undecodable comes back untouched.
	assert.Equal(t, "OBF:!!not base64!!", deobfuscate("OBF:!!not base64!!"))
}

func TestStoreAndRetrieveToken(t *testing.T) {
	mgr, store := setupManager(t)

	require.NoError(t, mgr.StoreToken("secret-token", time.Now().Add(time.Hour)))
	assert.Equal(t, "secret-token", mgr.Token())
	assert.True(t, mgr.IsTokenValid())

	// The database row holds only the obfuscated form.
	ts := store.GetTokenState()
	require.NotNil(t, ts)
	assert.True(t, strings.HasPrefix(ts.AccessToken, "OBF:"))
	assert.NotEqual(t, "secret-token", ts.AccessToken)
}

func TestTokenSurvivesManagerRestart(t *testing.T) {
	mgr, store := setupManager(t)
	require.NoError(t, mgr.StoreToken("secret-token", time.Now().Add(time.Hour)))

	// A fresh manager over the same store must deobfuscate from disk.
	fresh := New(store, "upstox", "", "", zerolog.Nop())
	assert.Equal(t, "secret-token", fresh.Token())
}

func TestStoreTokenRejectsEmpty(t *testing.T) {
	mgr, _ := setupManager(t)
	assert.Error(t, mgr.StoreToken("", time.Now().Add(time.Hour)))
}

func TestExpiredTokenNotReturned(t *testing.T) {
	mgr, _ := setupManager(t)

	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return base }
	require.NoError(t, mgr.StoreToken("secret-token", base.Add(time.Hour)))

	mgr.now = func() time.Time { return base.Add(2 * time.Hour) }
	assert.Equal(t, "", mgr.Token())
	assert.False(t, mgr.IsTokenValid())
	assert.True(t, mgr.IsTokenExpired())
}

func TestIsTokenExpiredWithoutToken(t *testing.T) {
	mgr, _ := setupManager(t)
	assert.True(t, mgr.IsTokenExpired())
}

func TestTimeUntilExpiry(t *testing.T) {
	mgr, _ := setupManager(t)
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return base }

	_, ok := mgr.TimeUntilExpiry()
	assert.False(t, ok)

	require.NoError(t, mgr.StoreToken("tok", base.Add(90*time.Minute)))

	remaining, ok := mgr.TimeUntilExpiry()
	require.True(t, ok)
	assert.Equal(t, 90*time.Minute, remaining)

	mgr.now = func() time.Time { return base.Add(3 * time.Hour) }
	remaining, ok = mgr.TimeUntilExpiry()
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), remaining, "expired token clamps to zero")
}

func TestExpiryStatusClassification(t *testing.T) {
	mgr, _ := setupManager(t)
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return base }

	status := mgr.Status()
	assert.Equal(t, ExpiryNoToken, status.State)
	assert.True(t, status.RequiresAction)
	assert.False(t, status.HasToken)

	require.NoError(t, mgr.StoreToken("tok", base.Add(12*time.Hour)))

	cases := []struct {
		elapsed        time.Duration
		want           ExpiryState
		requiresAction bool
	}{
		{0, ExpiryValid, false},
		{10*time.Hour + 30*time.Minute, ExpiryWarning, false}, // 1.5h left
		{11*time.Hour + 45*time.Minute, ExpiryCritical, true}, // 15m left
		{13 * time.Hour, ExpiryExpired, true},
	}
	for _, tc := range cases {
		mgr.now = func() time.Time { return base.Add(tc.elapsed) }
		status := mgr.Status()
		assert.Equal(t, tc.want, status.State, "at elapsed %v", tc.elapsed)
		assert.Equal(t, tc.requiresAction, status.RequiresAction, "at elapsed %v", tc.elapsed)
		assert.True(t, status.HasToken)
	}
}

func TestShouldBlockTrading(t *testing.T) {
	mgr, _ := setupManager(t)
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return base }

	assert.True(t, mgr.ShouldBlockTrading(), "no token blocks trading")

	require.NoError(t, mgr.StoreToken("tok", base.Add(12*time.Hour)))
	assert.False(t, mgr.ShouldBlockTrading())
	assert.False(t, mgr.ShouldShowWarning())

	// Critical window warns but does not block.
	mgr.now = func() time.Time { return base.Add(11*time.Hour + 45*time.Minute) }
	assert.False(t, mgr.ShouldBlockTrading())
	assert.True(t, mgr.ShouldShowWarning())

	mgr.now = func() time.Time { return base.Add(13 * time.Hour) }
	assert.True(t, mgr.ShouldBlockTrading())
}

func TestClearToken(t *testing.T) {
	mgr, _ := setupManager(t)

	require.NoError(t, mgr.StoreToken("secret-token", time.Now().Add(time.Hour)))
	require.True(t, mgr.IsTokenValid())

	require.True(t, mgr.ClearToken())
	assert.Equal(t, "", mgr.Token())
	assert.False(t, mgr.IsTokenValid())
	assert.True(t, mgr.ShouldBlockTrading())
}

func TestFormatExpiryCountdown(t *testing.T) {
	mgr, _ := setupManager(t)
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return base }

	assert.Equal(t, "No token", mgr.FormatExpiryCountdown())

	require.NoError(t, mgr.StoreToken("tok", base.Add(3*time.Hour+12*time.Minute)))
	assert.Equal(t, "3h 12m", mgr.FormatExpiryCountdown())

	mgr.now = func() time.Time { return base.Add(3 * time.Hour) }
	assert.Equal(t, "12m", mgr.FormatExpiryCountdown())

	mgr.now = func() time.Time { return base.Add(4 * time.Hour) }
	assert.Equal(t, "Expired", mgr.FormatExpiryCountdown())
}

func TestAuthorizationInfo(t *testing.T) {
	mgr, _ := setupManager(t)

	info := mgr.AuthorizationInfo()
	assert.Equal(t, "upstox", info.Broker)
	assert.True(t, info.HasCredentials)
	assert.Contains(t, info.AuthorizationURL, "api-v2.upstox.com/login/authorization/dialog")
	assert.Contains(t, info.AuthorizationURL, "client_id=test-api-key")
	assert.Contains(t, info.AuthorizationURL, "response_type=code")
	assert.Equal(t, "http://localhost:3000/callback", info.RedirectURI)
	assert.Equal(t, ExpiryNoToken, info.CurrentStatus.State)
}
