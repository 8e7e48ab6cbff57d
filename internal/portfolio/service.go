// Package portfolio serves positions, holdings, and P&L rollups to the
// dashboard, cache-first over the broker client.
package portfolio

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/karanmehta/quantdesk/internal/cache"
	"github.com/karanmehta/quantdesk/internal/domain"
	"github.com/karanmehta/quantdesk/internal/state"
)

const (
	positionsCacheKey = "positions:all"
	holdingsCacheKey  = "holdings:all"
	fundsCacheKey     = "funds:account"
)

var errFundsUnavailable = errors.New("funds unavailable")

// PnLBreakdown splits unrealized P&L by direction and instrument class.
type PnLBreakdown struct {
	Total     float64   `json:"total"`
	Long      float64   `json:"long_positions"`
	Short     float64   `json:"short_positions"`
	Options   float64   `json:"options"`
	Futures   float64   `json:"futures"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary is the portfolio rollup the dashboard's overview page renders.
type Summary struct {
	PositionsCount         int          `json:"positions_count"`
	HoldingsCount          int          `json:"holdings_count"`
	TotalPositionValue     float64      `json:"total_position_value"`
	TotalHoldingValue      float64      `json:"total_holding_value"`
	TotalPortfolioValue    float64      `json:"total_portfolio_value"`
	UnrealizedPnL          PnLBreakdown `json:"unrealized_pnl"`
	LongPositions          int          `json:"long_positions"`
	ShortPositions         int          `json:"short_positions"`
	OptionsPositions       int          `json:"options_positions"`
	CapitalUtilizedPercent float64      `json:"capital_utilized_percent"`
	Timestamp              time.Time    `json:"timestamp"`
}

// Service reads portfolio data through the cache with a short TTL, keeping
// the last good broker response for outage fallback. Durable truth (session
// P&L) is written through to the state store, never read back from cache.
type Service struct {
	broker domain.BrokerClient
	cache  *cache.Store
	state  *state.Store
	log    zerolog.Logger

	mu            sync.RWMutex
	lastPositions []domain.Position
	lastHoldings  []domain.Holding

	now func() time.Time
}

// New creates a portfolio service.
func New(broker domain.BrokerClient, cacheStore *cache.Store, stateStore *state.Store, log zerolog.Logger) *Service {
	return &Service{
		broker: broker,
		cache:  cacheStore,
		state:  stateStore,
		log:    log.With().Str("component", "portfolio").Logger(),
		now:    time.Now,
	}
}

// GetPositions returns open positions, from cache unless forceRefresh. On
// broker failure the last successful response is returned.
func (s *Service) GetPositions(forceRefresh bool) []domain.Position {
	if !forceRefresh {
		var cached []domain.Position
		if s.cache.Get(positionsCacheKey, &cached) {
			return cached
		}
	}

	raw, err := s.broker.GetPositions()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to fetch positions")
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.lastPositions
	}

	positions := make([]domain.Position, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, enrichPosition(p))
	}

	s.cache.Set(positionsCacheKey, positions, cache.TTLPositions)
	s.mu.Lock()
	s.lastPositions = positions
	s.mu.Unlock()

	s.log.Info().Int("count", len(positions)).Msg("Fetched positions")
	return positions
}

// GetHoldings returns delivery holdings, from cache unless forceRefresh. On
// broker failure the last successful response is returned.
func (s *Service) GetHoldings(forceRefresh bool) []domain.Holding {
	if !forceRefresh {
		var cached []domain.Holding
		if s.cache.Get(holdingsCacheKey, &cached) {
			return cached
		}
	}

	raw, err := s.broker.GetHoldings()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to fetch holdings")
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.lastHoldings
	}

	holdings := make([]domain.Holding, 0, len(raw))
	for _, h := range raw {
		holdings = append(holdings, enrichHolding(h))
	}

	s.cache.Set(holdingsCacheKey, holdings, cache.TTLHoldings)
	s.mu.Lock()
	s.lastHoldings = holdings
	s.mu.Unlock()

	s.log.Info().Int("count", len(holdings)).Msg("Fetched holdings")
	return holdings
}

// GetFunds returns the account margin snapshot through the cache.
func (s *Service) GetFunds() (*domain.Funds, error) {
	var funds domain.Funds
	ok := s.cache.GetOrSet(fundsCacheKey, &funds, cache.TTLFunds, func() (interface{}, error) {
		f, err := s.broker.GetFunds()
		if err != nil {
			return nil, err
		}
		return f, nil
	})
	if !ok {
		return nil, errFundsUnavailable
	}
	return &funds, nil
}

// UnrealizedPnL aggregates unrealized P&L across open positions.
func (s *Service) UnrealizedPnL() PnLBreakdown {
	breakdown := PnLBreakdown{Timestamp: s.now()}

	for _, pos := range s.GetPositions(false) {
		pnl := pos.UnrealizedPnL
		breakdown.Total += pnl

		if pos.Direction == "LONG" {
			breakdown.Long += pnl
		} else {
			breakdown.Short += pnl
		}

		if pos.OptionType != "" {
			breakdown.Options += pnl
		} else if isFuture(pos.Symbol) {
			breakdown.Futures += pnl
		}
	}
	return breakdown
}

// GetSummary builds the portfolio rollup. capital feeds the utilization
// percentage; pass 0 to skip it.
func (s *Service) GetSummary(capital float64) Summary {
	positions := s.GetPositions(false)
	holdings := s.GetHoldings(false)

	summary := Summary{
		PositionsCount: len(positions),
		HoldingsCount:  len(holdings),
		UnrealizedPnL:  s.UnrealizedPnL(),
		Timestamp:      s.now(),
	}

	for _, p := range positions {
		summary.TotalPositionValue += abs(float64(p.Quantity)) * p.AveragePrice
		switch {
		case p.Direction == "LONG":
			summary.LongPositions++
		default:
			summary.ShortPositions++
		}
		if p.OptionType != "" {
			summary.OptionsPositions++
		}
	}
	for _, h := range holdings {
		summary.TotalHoldingValue += h.CurrentValue
	}

	summary.TotalPortfolioValue = summary.TotalPositionValue + summary.TotalHoldingValue
	if capital > 0 {
		summary.CapitalUtilizedPercent = summary.TotalPositionValue / capital * 100
	}
	return summary
}

// SyncSessionPnL writes the current unrealized P&L through to today's
// session row in the state store. Realized P&L carries over unchanged.
func (s *Service) SyncSessionPnL() bool {
	session := s.state.GetOrCreateSession(time.Time{})
	if session == nil {
		return false
	}

	pnl := s.UnrealizedPnL()
	return s.state.UpdateSessionPnL(session.RealizedPnL, pnl.Total, time.Time{})
}

// RefreshAll force-refreshes positions and holdings, reporting per-source
// success.
func (s *Service) RefreshAll() map[string]bool {
	s.GetPositions(true)
	s.GetHoldings(true)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]bool{
		"positions": s.lastPositions != nil,
		"holdings":  s.lastHoldings != nil,
	}
}

// enrichPosition fills the derived fields the broker payload leaves empty.
func enrichPosition(p domain.Position) domain.Position {
	if p.Symbol == "" {
		p.Symbol = domain.ExtractSymbol(p.Instrument)
	}

	if p.Quantity > 0 {
		p.Direction = "LONG"
	} else {
		p.Direction = "SHORT"
	}

	if p.UnrealizedPnL == 0 {
		p.UnrealizedPnL = positionPnL(p.Quantity, p.AveragePrice, p.LastPrice)
	}
	if p.PnLPercent == 0 {
		p.PnLPercent = pnlPercent(p.Quantity, p.AveragePrice, p.PnL)
	}

	if p.OptionType == "" {
		p.OptionType = optionType(p.Symbol)
	}
	return p
}

func enrichHolding(h domain.Holding) domain.Holding {
	if h.Symbol == "" {
		h.Symbol = domain.ExtractSymbol(h.Instrument)
	}
	if h.InvestmentValue == 0 {
		h.InvestmentValue = float64(h.Quantity) * h.AveragePrice
	}
	if h.CurrentValue == 0 {
		h.CurrentValue = float64(h.Quantity) * h.LastPrice
	}
	if h.PnLPercent == 0 {
		h.PnLPercent = pnlPercent(h.Quantity, h.AveragePrice, h.PnL)
	}
	return h
}

// positionPnL computes mark-to-market P&L with short positions inverted.
func positionPnL(quantity int, avgPrice, lastPrice float64) float64 {
	if quantity == 0 || avgPrice == 0 {
		return 0
	}
	if quantity > 0 {
		return (lastPrice - avgPrice) * float64(quantity)
	}
	return (avgPrice - lastPrice) * abs(float64(quantity))
}

func pnlPercent(quantity int, avgPrice, pnl float64) float64 {
	investment := abs(float64(quantity)) * avgPrice
	if investment == 0 {
		return 0
	}
	return pnl / investment * 100
}

// optionType extracts CE/PE from a symbol like NIFTY25DEC22000CE.
func optionType(symbol string) string {
	if len(symbol) < 2 {
		return ""
	}
	switch symbol[len(symbol)-2:] {
	case "CE":
		return "CE"
	case "PE":
		return "PE"
	}
	return ""
}

func isFuture(symbol string) bool {
	return len(symbol) >= 3 && symbol[len(symbol)-3:] == "FUT"
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
