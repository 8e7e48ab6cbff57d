package upstox

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (t staticToken) Token() string { return string(t) }

func newTestClient(t *testing.T, token string, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(staticToken(token), zerolog.Nop())
	client.baseURL = srv.URL
	return client
}

func TestGetQuote(t *testing.T) {
	client := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/market-quote/quotes", r.URL.Path)
		assert.Equal(t, "NSE_EQ|INE002A01018", r.URL.Query().Get("instrument_key"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "success",
			"data": {
				"NSE_EQ:RELIANCE": {
					"last_price": 2456.75,
					"volume": 1200000,
					"net_change": 12.3,
					"symbol": "RELIANCE",
					"ohlc": {"open": 2440, "high": 2460, "low": 2432, "close": 2444.45}
				}
			}
		}`))
	})

	quote, err := client.GetQuote("NSE_EQ|INE002A01018")
	require.NoError(t, err)
	assert.Equal(t, "RELIANCE", quote.Symbol)
	assert.Equal(t, 2456.75, quote.LastPrice)
	assert.Equal(t, 2444.45, quote.Close)
	assert.InDelta(t, 12.3/2444.45*100, quote.PercentChange, 1e-9)
}

func TestGetQuoteWithoutToken(t *testing.T) {
	client := NewClient(staticToken(""), zerolog.Nop())

	_, err := client.GetQuote("NSE_EQ|X")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no access token")
	assert.False(t, client.IsConnected())
}

func TestBrokerErrorEnvelope(t *testing.T) {
	client := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"status": "error",
			"errors": [{"errorCode": "UDAPI100050", "message": "Invalid instrument key"}]
		}`))
	})

	_, err := client.GetQuote("bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UDAPI100050")
}

func TestUnauthorizedResponse(t *testing.T) {
	client := newTestClient(t, "stale", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.GetQuote("NSE_EQ|X")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestGetHistoricalCandles(t *testing.T) {
	client := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/historical-candle/NSE_EQ%7CINE002A01018/day/2024-06-10/2024-06-01", r.URL.EscapedPath())
		w.Write([]byte(`{
			"status": "success",
			"data": {
				"candles": [
					["2024-06-03T00:00:00+05:30", 100, 102, 99, 101, 50000, 0],
					["2024-06-04T00:00:00+05:30", 101, 104, 100, 103, 61000, 0]
				]
			}
		}`))
	})

	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	candles, err := client.GetHistoricalCandles("NSE_EQ|INE002A01018", "day", from, to)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 101.0, candles[0].Close)
	assert.Equal(t, int64(61000), candles[1].Volume)
}

func TestGetFunds(t *testing.T) {
	client := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user/get-funds-and-margin", r.URL.Path)
		w.Write([]byte(`{
			"status": "success",
			"data": {
				"equity": {"available_margin": 75000.5, "used_margin": 25000, "payin_amount": 0}
			}
		}`))
	})

	funds, err := client.GetFunds()
	require.NoError(t, err)
	assert.Equal(t, 75000.5, funds.AvailableMargin)
	assert.Equal(t, 100000.5, funds.TotalMargin)
}

func TestGetOrderBook(t *testing.T) {
	client := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"status": "success",
			"data": [{
				"order_id": "240603000001",
				"instrument_token": "NSE_FO|53001",
				"trading_symbol": "NIFTY24JUN21500CE",
				"transaction_type": "BUY",
				"order_type": "LIMIT",
				"quantity": 50,
				"price": 145.5,
				"status": "complete",
				"filled_quantity": 50,
				"average_price": 145.25,
				"order_timestamp": "2024-06-03 09:31:22",
				"product": "D"
			}]
		}`))
	})

	book, err := client.GetOrderBook()
	require.NoError(t, err)
	require.Len(t, book, 1)
	assert.Equal(t, "240603000001", book[0].OrderID)
	assert.Equal(t, "NIFTY24JUN21500CE", book[0].Symbol)
	require.NotNil(t, book[0].OrderTimestamp)
	assert.Equal(t, 9, book[0].OrderTimestamp.Hour())
}

func TestTransformCandlesRejectsShortRow(t *testing.T) {
	_, err := transformCandles([][]interface{}{{"2024-06-03T00:00:00+05:30", 100.0}})
	assert.Error(t, err)
}

func TestParseBrokerTime(t *testing.T) {
	parsed := parseBrokerTime("2024-06-03 15:29:59")
	require.NotNil(t, parsed)
	assert.Equal(t, 15, parsed.Hour())

	assert.Nil(t, parseBrokerTime(""))
	assert.Nil(t, parseBrokerTime("garbage"))
}
