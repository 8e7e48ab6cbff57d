// Package auth manages broker authentication tokens: storage through the
// state store, expiry tracking, and the re-authorization flow for Upstox
// OAuth sessions that expire daily.
package auth

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/karanmehta/quantdesk/internal/state"
)

// Upstox access tokens expire at end of day, roughly 24 hours.
const (
	DefaultExpiry     = 24 * time.Hour
	warningThreshold  = 2 * time.Hour
	criticalThreshold = 30 * time.Minute

	obfuscationPrefix = "OBF:"
)

// ExpiryState classifies how close the stored token is to expiring.
type ExpiryState string

const (
	ExpiryNoToken  ExpiryState = "NO_TOKEN"
	ExpiryUnknown  ExpiryState = "UNKNOWN_EXPIRY"
	ExpiryExpired  ExpiryState = "EXPIRED"
	ExpiryCritical ExpiryState = "CRITICAL"
	ExpiryWarning  ExpiryState = "WARNING"
	ExpiryValid    ExpiryState = "VALID"
)

// ExpiryStatus is the full expiry picture the dashboard renders as a banner.
type ExpiryStatus struct {
	HasToken          bool        `json:"has_token"`
	IsExpired         bool        `json:"is_expired"`
	State             ExpiryState `json:"status"`
	ExpiryTime        *time.Time  `json:"expiry_time,omitempty"`
	HoursRemaining    float64     `json:"hours_remaining,omitempty"`
	MinutesRemaining  float64     `json:"minutes_remaining,omitempty"`
	Message           string      `json:"message"`
	RequiresAction    bool        `json:"requires_action"`
	LastAuthenticated *time.Time  `json:"last_authenticated,omitempty"`
}

// AuthorizationInfo carries what the frontend needs to start the Upstox
// OAuth dialog flow.
type AuthorizationInfo struct {
	Broker           string       `json:"broker"`
	AuthorizationURL string       `json:"authorization_url"`
	RedirectURI      string       `json:"redirect_uri"`
	HasCredentials   bool         `json:"has_credentials"`
	CurrentStatus    ExpiryStatus `json:"current_status"`
}

// Manager persists tokens via the state store and answers expiry questions.
// Tokens are stored obfuscated (base64, reversed, OBF: prefix). That is NOT
// encryption, only a deterrent against casual inspection of the database
// file; anyone with the file can recover the token.
type Manager struct {
	store  *state.Store
	log    zerolog.Logger
	broker string

	apiKey      string
	redirectURI string

	mu          sync.Mutex
	tokenCache  string
	expiryCache time.Time

	now func() time.Time
}

// New creates a token manager for the given broker ("upstox" when empty).
// apiKey and redirectURI feed the OAuth authorization URL; they may be empty
// when credentials are not configured.
func New(store *state.Store, broker, apiKey, redirectURI string, log zerolog.Logger) *Manager {
	if broker == "" {
		broker = "upstox"
	}
	if redirectURI == "" {
		redirectURI = "http://localhost:8080"
	}
	return &Manager{
		store:       store,
		log:         log.With().Str("component", "token_manager").Logger(),
		broker:      broker,
		apiKey:      apiKey,
		redirectURI: redirectURI,
		now:         time.Now,
	}
}

// StoreToken obfuscates and persists an access token. A zero expiry defaults
// to 24 hours from now.
func (m *Manager) StoreToken(accessToken string, expiry time.Time) error {
	if accessToken == "" {
		return fmt.Errorf("access token cannot be empty")
	}
	if expiry.IsZero() {
		expiry = m.now().Add(DefaultExpiry)
	}

	if !m.store.StoreToken(obfuscate(accessToken), expiry, m.broker) {
		return fmt.Errorf("failed to persist token")
	}

	m.mu.Lock()
	m.tokenCache = accessToken
	m.expiryCache = expiry
	m.mu.Unlock()

	m.log.Info().Str("broker", m.broker).Time("expiry", expiry).Msg("Token stored")
	return nil
}

// Token returns the stored access token, or "" when no unexpired token
// exists. An in-memory cache avoids a database read on the hot path.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tokenCache != "" && m.expiryCache.After(m.now()) {
		return m.tokenCache
	}

	ts := m.store.GetTokenState()
	if ts == nil || ts.AccessToken == "" {
		return ""
	}
	if !ts.TokenExpiry.IsZero() && !ts.TokenExpiry.After(m.now()) {
		m.log.Warn().Msg("Stored token has expired")
		return ""
	}

	m.tokenCache = deobfuscate(ts.AccessToken)
	m.expiryCache = ts.TokenExpiry
	return m.tokenCache
}

// IsTokenValid reports whether a non-expired token exists.
func (m *Manager) IsTokenValid() bool {
	return m.Token() != ""
}

// IsTokenExpired reports whether the stored token is expired or absent.
func (m *Manager) IsTokenExpired() bool {
	ts := m.store.GetTokenState()
	if ts == nil || ts.AccessToken == "" || ts.TokenExpiry.IsZero() {
		return true
	}
	return !ts.TokenExpiry.After(m.now())
}

// TimeUntilExpiry returns the time remaining on the stored token and whether
// a token exists at all. An expired token reports zero remaining.
func (m *Manager) TimeUntilExpiry() (time.Duration, bool) {
	ts := m.store.GetTokenState()
	if ts == nil || ts.AccessToken == "" || ts.TokenExpiry.IsZero() {
		return 0, false
	}
	remaining := ts.TokenExpiry.Sub(m.now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Status returns the full expiry classification for the stored token.
func (m *Manager) Status() ExpiryStatus {
	ts := m.store.GetTokenState()
	if ts == nil || ts.AccessToken == "" {
		return ExpiryStatus{
			IsExpired:      true,
			State:          ExpiryNoToken,
			Message:        "No authentication token found",
			RequiresAction: true,
		}
	}

	status := ExpiryStatus{HasToken: true}
	if !ts.LastAuthenticated.IsZero() {
		la := ts.LastAuthenticated
		status.LastAuthenticated = &la
	}

	if ts.TokenExpiry.IsZero() {
		status.IsExpired = true
		status.State = ExpiryUnknown
		status.Message = "Token expiry unknown"
		status.RequiresAction = true
		return status
	}

	expiry := ts.TokenExpiry
	status.ExpiryTime = &expiry
	remaining := expiry.Sub(m.now())

	if remaining <= 0 {
		status.IsExpired = true
		status.State = ExpiryExpired
		status.Message = "Token has expired. Re-authentication required."
		status.RequiresAction = true
		return status
	}

	status.HoursRemaining = remaining.Hours()
	status.MinutesRemaining = remaining.Minutes()

	switch {
	case remaining <= criticalThreshold:
		status.State = ExpiryCritical
		status.Message = fmt.Sprintf("Token expires in %d minutes! Re-authenticate now.", int(remaining.Minutes()))
		status.RequiresAction = true
	case remaining <= warningThreshold:
		status.State = ExpiryWarning
		status.Message = fmt.Sprintf("Token expires in %.1f hours. Consider re-authenticating soon.", remaining.Hours())
	default:
		status.State = ExpiryValid
		status.Message = fmt.Sprintf("Token valid for %.1f hours", remaining.Hours())
	}
	return status
}

// ShouldShowWarning reports whether the dashboard should surface an expiry
// banner.
func (m *Manager) ShouldShowWarning() bool {
	switch m.Status().State {
	case ExpiryWarning, ExpiryCritical, ExpiryExpired:
		return true
	}
	return false
}

// ShouldBlockTrading reports whether order placement must be refused because
// no usable token exists.
func (m *Manager) ShouldBlockTrading() bool {
	switch m.Status().State {
	case ExpiryExpired, ExpiryNoToken:
		return true
	}
	return false
}

// FormatExpiryCountdown renders the remaining validity as "3h 12m" / "45m",
// or "No token" / "Expired".
func (m *Manager) FormatExpiryCountdown() string {
	remaining, ok := m.TimeUntilExpiry()
	if !ok {
		return "No token"
	}
	if remaining <= 0 {
		return "Expired"
	}

	hours := int(remaining.Hours())
	minutes := int(remaining.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// ClearToken logs the user out by overwriting the stored token with an
// already-expired placeholder and dropping the in-memory cache.
func (m *Manager) ClearToken() bool {
	m.mu.Lock()
	m.tokenCache = ""
	m.expiryCache = time.Time{}
	m.mu.Unlock()

	return m.store.StoreToken("", m.now().Add(-24*time.Hour), m.broker)
}

// TouchValidation records a successful use of the token against the broker
// API.
func (m *Manager) TouchValidation() bool {
	return m.store.TouchTokenValidation()
}

// AuthorizationInfo returns what the frontend needs to kick off the Upstox
// OAuth dialog flow.
func (m *Manager) AuthorizationInfo() AuthorizationInfo {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", m.apiKey)
	q.Set("redirect_uri", m.redirectURI)

	return AuthorizationInfo{
		Broker:           m.broker,
		AuthorizationURL: "https://api-v2.upstox.com/login/authorization/dialog?" + q.Encode(),
		RedirectURI:      m.redirectURI,
		HasCredentials:   m.apiKey != "",
		CurrentStatus:    m.Status(),
	}
}

// obfuscate encodes a token for at-rest storage: base64, reversed, prefixed.
func obfuscate(token string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(token))
	return obfuscationPrefix + reverse(encoded)
}

// deobfuscate undoes obfuscate. Unprefixed or undecodable input is returned
// as-is so legacy plaintext rows keep working.
func deobfuscate(stored string) string {
	if !strings.HasPrefix(stored, obfuscationPrefix) {
		return stored
	}
	decoded, err := base64.StdEncoding.DecodeString(reverse(stored[len(obfuscationPrefix):]))
	if err != nil {
		return stored
	}
	return string(decoded)
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}
