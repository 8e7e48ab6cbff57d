package server

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karanmehta/quantdesk/internal/auth"
	"github.com/karanmehta/quantdesk/internal/cache"
	"github.com/karanmehta/quantdesk/internal/config"
	"github.com/karanmehta/quantdesk/internal/domain"
	"github.com/karanmehta/quantdesk/internal/marketdata"
	"github.com/karanmehta/quantdesk/internal/orders"
	"github.com/karanmehta/quantdesk/internal/portfolio"
	"github.com/karanmehta/quantdesk/internal/scheduler"
	"github.com/karanmehta/quantdesk/internal/state"
)

// stubBroker fails every call; handlers under test should not need the
// broker unless the test says otherwise.
type stubBroker struct{}

func (b *stubBroker) GetQuote(string) (*domain.Quote, error) { return nil, errors.New("offline") }
func (b *stubBroker) GetHistoricalCandles(string, string, time.Time, time.Time) ([]domain.Candle, error) {
	return nil, errors.New("offline")
}
func (b *stubBroker) GetPositions() ([]domain.Position, error) { return nil, errors.New("offline") }
func (b *stubBroker) GetHoldings() ([]domain.Holding, error)   { return nil, errors.New("offline") }
func (b *stubBroker) GetFunds() (*domain.Funds, error)         { return nil, errors.New("offline") }
func (b *stubBroker) GetOrderBook() ([]domain.Order, error)    { return nil, errors.New("offline") }
func (b *stubBroker) GetTradeBook() ([]domain.Trade, error)    { return nil, errors.New("offline") }
func (b *stubBroker) IsConnected() bool                        { return false }

func setupTestServer(t *testing.T) *Server {
	t.Helper()

	openMemory := func() *sql.DB {
		conn, err := sql.Open("sqlite3", ":memory:")
		require.NoError(t, err)
		conn.SetMaxOpenConns(1)
		t.Cleanup(func() { conn.Close() })
		return conn
	}

	log := zerolog.Nop()
	cacheStore, err := cache.New(openMemory(), cache.Options{}, log)
	require.NoError(t, err)
	stateStore, err := state.New(openMemory(), log)
	require.NoError(t, err)

	broker := &stubBroker{}
	tokens := auth.New(stateStore, "upstox", "test-key", "http://localhost:8080", log)

	return New(Config{
		Log:          log,
		Config:       &config.Config{Port: 0},
		CacheStore:   cacheStore,
		StateStore:   stateStore,
		TokenManager: tokens,
		MarketData:   marketdata.New(broker, cacheStore, log),
		Portfolio:    portfolio.New(broker, cacheStore, stateStore, log),
		Orders:       orders.New(broker, cacheStore, stateStore, log),
		Scheduler:    scheduler.New(log),
		Port:         0,
		DevMode:      true,
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	return decoded
}

func TestHealthEndpoint(t *testing.T) {
	s := setupTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	response := decodeResponse(t, rec)
	assert.Equal(t, "healthy", response["status"])
	assert.Equal(t, "quantdesk", response["service"])
}

func TestCapitalLifecycle(t *testing.T) {
	s := setupTestServer(t)

	// Uninitialized capital is a 404.
	rec := doJSON(t, s, http.MethodGet, "/api/capital/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/capital/initialize", map[string]interface{}{
		"initial_capital": 100000.0,
		"reason":          "account funding",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Second initialization is rejected.
	rec = doJSON(t, s, http.MethodPost, "/api/capital/initialize", map[string]interface{}{
		"initial_capital": 50000.0,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/capital/adjust", map[string]interface{}{
		"amount":          25000.0,
		"adjustment_type": "DEPOSIT",
		"reason":          "monthly top-up",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	response := decodeResponse(t, rec)
	assert.EqualValues(t, 125000, response["current_capital"])

	// Draining below zero is rejected.
	rec = doJSON(t, s, http.MethodPost, "/api/capital/adjust", map[string]interface{}{
		"amount":          999999.0,
		"adjustment_type": "WITHDRAWAL",
		"reason":          "too much",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/capital/history?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	response = decodeResponse(t, rec)
	assert.EqualValues(t, 2, response["count"])
}

func TestAllocateCapital(t *testing.T) {
	s := setupTestServer(t)

	doJSON(t, s, http.MethodPost, "/api/capital/initialize", map[string]interface{}{
		"initial_capital": 100000.0,
	})

	rec := doJSON(t, s, http.MethodPost, "/api/capital/allocate", map[string]interface{}{
		"allocated_capital": 30000.0,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	response := decodeResponse(t, rec)
	assert.EqualValues(t, 70000, response["available_capital"])
}

func TestSessionEndpoints(t *testing.T) {
	s := setupTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/session/today", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	response := decodeResponse(t, rec)
	assert.Equal(t, time.Now().Format("2006-01-02"), response["session_date"])

	win := true
	rec = doJSON(t, s, http.MethodPost, "/api/session/trade-result", map[string]interface{}{"win": win})
	require.Equal(t, http.StatusOK, rec.Code)
	response = decodeResponse(t, rec)
	assert.EqualValues(t, 1, response["trades_count"])
	assert.EqualValues(t, 1, response["winning_trades"])

	rec = doJSON(t, s, http.MethodPost, "/api/session/circuit-breaker", map[string]interface{}{
		"triggered": true,
		"notes":     "max daily loss hit",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	response = decodeResponse(t, rec)
	assert.Equal(t, true, response["circuit_breaker_triggered"])

	rec = doJSON(t, s, http.MethodGet, "/api/session/recent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	response = decodeResponse(t, rec)
	assert.EqualValues(t, 1, response["count"])
}

func TestSettingsEndpoints(t *testing.T) {
	s := setupTestServer(t)

	rec := doJSON(t, s, http.MethodPut, "/api/settings/risk/max_daily_loss", 2500.0)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/settings/risk", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	response := decodeResponse(t, rec)
	settings, ok := response["settings"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 2500, settings["max_daily_loss"])
}

func TestAuthEndpoints(t *testing.T) {
	s := setupTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/auth/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	response := decodeResponse(t, rec)
	assert.Equal(t, true, response["block_trading"])

	rec = doJSON(t, s, http.MethodPost, "/api/auth/token", map[string]interface{}{
		"access_token": "live-token-abc",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/auth/status", nil)
	response = decodeResponse(t, rec)
	assert.Equal(t, false, response["block_trading"])

	rec = doJSON(t, s, http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/auth/status", nil)
	response = decodeResponse(t, rec)
	assert.Equal(t, true, response["block_trading"])
}

func TestStoreTokenRejectsEmpty(t *testing.T) {
	s := setupTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/auth/token", map[string]interface{}{
		"access_token": "",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderAuditEndpoints(t *testing.T) {
	s := setupTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/orders/audit", map[string]interface{}{
		"action":           "PLACE",
		"instrument":       "NSE_FO|NIFTY24DECFUT",
		"transaction_type": "BUY",
		"quantity":         50,
		"price":            21500.0,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Missing required fields are rejected.
	rec = doJSON(t, s, http.MethodPost, "/api/orders/audit", map[string]interface{}{
		"quantity": 50,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/orders/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	response := decodeResponse(t, rec)
	assert.EqualValues(t, 1, response["count"])
}

func TestCacheEndpoints(t *testing.T) {
	s := setupTestServer(t)

	s.cacheStore.Set("quote:test", map[string]float64{"ltp": 101.5}, time.Minute)

	rec := doJSON(t, s, http.MethodGet, "/api/system/cache/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	response := decodeResponse(t, rec)
	assert.EqualValues(t, 1, response["total_entries"])

	rec = doJSON(t, s, http.MethodPost, "/api/system/cache/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	response = decodeResponse(t, rec)
	assert.EqualValues(t, 1, response["removed"])
}

func TestQuoteRequiresInstrument(t *testing.T) {
	s := setupTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/market/quote", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuoteBrokerOffline(t *testing.T) {
	s := setupTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/market/quote?instrument=NSE_EQ%7CINE002A01018", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCandlesRejectBadInterval(t *testing.T) {
	s := setupTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/market/candles?instrument=NSE_EQ%7CX&interval=7minute", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerUnknownJob(t *testing.T) {
	s := setupTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/system/jobs/flux-capacitor", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerRegisteredJob(t *testing.T) {
	s := setupTestServer(t)
	job := &countingJob{}
	s.RegisterJob(job)

	rec := doJSON(t, s, http.MethodPost, "/api/system/jobs/counting", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, job.runs)
}

type countingJob struct {
	runs int
}

func (j *countingJob) Name() string { return "counting" }
func (j *countingJob) Run() error   { j.runs++; return nil }

func TestBackupsNotConfigured(t *testing.T) {
	s := setupTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/system/backups", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
