// Package marketdata serves quotes and historical candles to the dashboard,
// cache-first over the broker client.
package marketdata

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/karanmehta/quantdesk/internal/cache"
	"github.com/karanmehta/quantdesk/internal/domain"
)

// ValidIntervals are the candle intervals the broker supports.
var ValidIntervals = []string{"1minute", "15minute", "30minute", "day", "week", "month"}

// Service reads market data through the cache, falling back to the last
// successful broker response when the broker is unreachable. The cache never
// originates data; it only absorbs read pressure within the TTL window.
type Service struct {
	broker domain.BrokerClient
	cache  *cache.Store
	log    zerolog.Logger

	// Last good responses, retained past their cache TTL so a broker outage
	// degrades to stale data instead of an empty dashboard.
	mu       sync.RWMutex
	lastGood map[string][]domain.Candle

	now func() time.Time
}

// New creates a market data service.
func New(broker domain.BrokerClient, cacheStore *cache.Store, log zerolog.Logger) *Service {
	return &Service{
		broker:   broker,
		cache:    cacheStore,
		log:      log.With().Str("component", "market_data").Logger(),
		lastGood: make(map[string][]domain.Candle),
		now:      time.Now,
	}
}

// GetQuote returns a real-time quote, served from cache within its TTL.
func (s *Service) GetQuote(instrument string) (*domain.Quote, error) {
	var quote domain.Quote
	key := "quote:" + instrument

	ok := s.cache.GetOrSet(key, &quote, cache.TTLQuote, func() (interface{}, error) {
		q, err := s.broker.GetQuote(instrument)
		if err != nil {
			return nil, err
		}
		return q, nil
	})
	if !ok {
		return nil, fmt.Errorf("failed to fetch quote for %s", instrument)
	}
	return &quote, nil
}

// GetHistoricalCandles returns OHLCV bars for an instrument, cache-first with
// a per-interval TTL. A zero from defaults to 30 days before to; a zero to
// defaults to now. On broker failure the last successful response for the
// same request is returned, if any.
func (s *Service) GetHistoricalCandles(instrument, interval string, from, to time.Time) ([]domain.Candle, error) {
	if !validInterval(interval) {
		return nil, fmt.Errorf("invalid interval %q, valid intervals: %v", interval, ValidIntervals)
	}

	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}

	key := fmt.Sprintf("historical:%s:%s:%s:%s",
		instrument, from.Format("2006-01-02"), to.Format("2006-01-02"), interval)

	var candles []domain.Candle
	if s.cache.Get(key, &candles) {
		return candles, nil
	}

	fetched, err := s.broker.GetHistoricalCandles(instrument, interval, from, to)
	if err != nil {
		s.log.Error().Err(err).Str("instrument", instrument).Msg("Historical fetch failed")
		if stale, ok := s.staleCandles(key); ok {
			s.log.Warn().Str("instrument", instrument).Msg("Serving stale candles after broker failure")
			return stale, nil
		}
		return nil, err
	}

	sort.Slice(fetched, func(i, j int) bool {
		return fetched[i].Timestamp.Before(fetched[j].Timestamp)
	})

	s.cache.Set(key, fetched, cache.CandleTTL(interval))
	s.rememberCandles(key, fetched)

	s.log.Info().
		Str("instrument", instrument).
		Str("interval", interval).
		Int("candles", len(fetched)).
		Msg("Fetched historical candles")
	return fetched, nil
}

// GetIntradayCandles returns today's bars for an instrument.
func (s *Service) GetIntradayCandles(instrument, interval string) ([]domain.Candle, error) {
	today := s.now()
	return s.GetHistoricalCandles(instrument, interval, today, today)
}

// GetDailyCandles returns up to days of daily bars ending today.
func (s *Service) GetDailyCandles(instrument string, days int) ([]domain.Candle, error) {
	if days <= 0 {
		days = 365
	}
	to := s.now()
	return s.GetHistoricalCandles(instrument, "day", to.AddDate(0, 0, -days), to)
}

// LatestCandle returns the most recent bar, or nil when no data exists.
func (s *Service) LatestCandle(instrument, interval string) (*domain.Candle, error) {
	to := s.now()
	candles, err := s.GetHistoricalCandles(instrument, interval, to.AddDate(0, 0, -5), to)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, nil
	}
	latest := candles[len(candles)-1]
	return &latest, nil
}

func (s *Service) rememberCandles(key string, candles []domain.Candle) {
	s.mu.Lock()
	s.lastGood[key] = candles
	s.mu.Unlock()
}

func (s *Service) staleCandles(key string) ([]domain.Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	candles, ok := s.lastGood[key]
	return candles, ok
}

func validInterval(interval string) bool {
	for _, v := range ValidIntervals {
		if v == interval {
			return true
		}
	}
	return false
}
