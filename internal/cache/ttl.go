package cache

import "time"

// TTL constants for different data types.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// Tick-sensitive data (stale quotes are worse than no quotes)
	TTLQuote = 5 * time.Second

	// Books change with every fill, short TTLs keep the dashboard honest
	TTLOrderBook = 10 * time.Second
	TTLTradeBook = 30 * time.Second

	// Positions move with the market but the broker rate-limits reads
	TTLPositions = 30 * time.Second

	// Holdings change on settlement only
	TTLHoldings = 5 * time.Minute

	// Candles: the finer the interval, the shorter the useful cache life
	TTLIntradayCandles = 5 * time.Minute
	TTLDailyCandles    = time.Hour

	// Funds/margin snapshot
	TTLFunds = time.Minute
)

// CandleTTL returns the cache TTL for a candle interval string as used by
// the broker API ("1minute", "30minute", "day", "week", "month").
func CandleTTL(interval string) time.Duration {
	switch interval {
	case "day", "week", "month":
		return TTLDailyCandles
	default:
		return TTLIntradayCandles
	}
}
