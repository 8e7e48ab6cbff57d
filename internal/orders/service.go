// Package orders serves the day's order and trade books and maintains the
// compliance audit trail for every order action.
package orders

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/karanmehta/quantdesk/internal/cache"
	"github.com/karanmehta/quantdesk/internal/domain"
	"github.com/karanmehta/quantdesk/internal/state"
)

const (
	orderBookCacheKey = "order_book:today"
	tradeBookCacheKey = "trade_book:today"
)

// Audit log action verbs.
const (
	ActionPlace   = "PLACE"
	ActionModify  = "MODIFY"
	ActionCancel  = "CANCEL"
	ActionExecute = "EXECUTE"
	ActionReject  = "REJECT"
)

// pendingStatuses are the broker order states that still await execution.
var pendingStatuses = map[string]bool{
	"open":            true,
	"pending":         true,
	"trigger_pending": true,
}

// TodaySummary aggregates the day's order activity for the dashboard.
type TodaySummary struct {
	TotalOrders      int       `json:"total_orders"`
	CompletedOrders  int       `json:"completed_orders"`
	RejectedOrders   int       `json:"rejected_orders"`
	PendingOrders    int       `json:"pending_orders"`
	BuyOrders        int       `json:"buy_orders"`
	SellOrders       int       `json:"sell_orders"`
	TotalTrades      int       `json:"total_trades"`
	TotalTradedValue float64   `json:"total_traded_value"`
	SuccessRate      float64   `json:"success_rate"`
	Timestamp        time.Time `json:"timestamp"`
}

// Service reads order data through the cache and writes every order action
// to the durable audit log in the state store.
type Service struct {
	broker domain.BrokerClient
	cache  *cache.Store
	state  *state.Store
	log    zerolog.Logger

	mu         sync.RWMutex
	lastOrders []domain.Order
	lastTrades []domain.Trade

	now func() time.Time
}

// New creates an order service.
func New(broker domain.BrokerClient, cacheStore *cache.Store, stateStore *state.Store, log zerolog.Logger) *Service {
	return &Service{
		broker: broker,
		cache:  cacheStore,
		state:  stateStore,
		log:    log.With().Str("component", "orders").Logger(),
		now:    time.Now,
	}
}

// GetOrderBook returns the day's orders, from cache unless forceRefresh. On
// broker failure the last successful response is returned.
func (s *Service) GetOrderBook(forceRefresh bool) []domain.Order {
	if !forceRefresh {
		var cached []domain.Order
		if s.cache.Get(orderBookCacheKey, &cached) {
			return cached
		}
	}

	raw, err := s.broker.GetOrderBook()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to fetch order book")
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.lastOrders
	}

	orders := make([]domain.Order, 0, len(raw))
	for _, o := range raw {
		if o.Symbol == "" {
			o.Symbol = domain.ExtractSymbol(o.Instrument)
		}
		orders = append(orders, o)
	}

	s.cache.Set(orderBookCacheKey, orders, cache.TTLOrderBook)
	s.mu.Lock()
	s.lastOrders = orders
	s.mu.Unlock()

	s.log.Info().Int("count", len(orders)).Msg("Fetched order book")
	return orders
}

// GetTradeBook returns the day's executed trades, from cache unless
// forceRefresh. On broker failure the last successful response is returned.
func (s *Service) GetTradeBook(forceRefresh bool) []domain.Trade {
	if !forceRefresh {
		var cached []domain.Trade
		if s.cache.Get(tradeBookCacheKey, &cached) {
			return cached
		}
	}

	raw, err := s.broker.GetTradeBook()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to fetch trade book")
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.lastTrades
	}

	trades := make([]domain.Trade, 0, len(raw))
	for _, tr := range raw {
		if tr.Symbol == "" {
			tr.Symbol = domain.ExtractSymbol(tr.Instrument)
		}
		trades = append(trades, tr)
	}

	s.cache.Set(tradeBookCacheKey, trades, cache.TTLTradeBook)
	s.mu.Lock()
	s.lastTrades = trades
	s.mu.Unlock()

	s.log.Info().Int("count", len(trades)).Msg("Fetched trade book")
	return trades
}

// GetOrderStatus returns the order with the given ID from today's book, or
// nil when unknown.
func (s *Service) GetOrderStatus(orderID string) *domain.Order {
	for _, order := range s.GetOrderBook(false) {
		if order.OrderID == orderID {
			o := order
			return &o
		}
	}
	return nil
}

// PendingOrders returns orders still awaiting execution.
func (s *Service) PendingOrders() []domain.Order {
	pending := []domain.Order{}
	for _, order := range s.GetOrderBook(false) {
		if pendingStatuses[strings.ToLower(order.Status)] {
			pending = append(pending, order)
		}
	}
	return pending
}

// OrdersByInstrument returns today's orders for one instrument.
func (s *Service) OrdersByInstrument(instrument string) []domain.Order {
	matched := []domain.Order{}
	for _, order := range s.GetOrderBook(false) {
		if order.Instrument == instrument {
			matched = append(matched, order)
		}
	}
	return matched
}

// TradesByOrder returns the fills belonging to one order.
func (s *Service) TradesByOrder(orderID string) []domain.Trade {
	matched := []domain.Trade{}
	for _, trade := range s.GetTradeBook(false) {
		if trade.OrderID == orderID {
			matched = append(matched, trade)
		}
	}
	return matched
}

// GetTodaySummary aggregates the day's order statistics.
func (s *Service) GetTodaySummary() TodaySummary {
	orders := s.GetOrderBook(false)
	trades := s.GetTradeBook(false)

	summary := TodaySummary{
		TotalOrders: len(orders),
		TotalTrades: len(trades),
		Timestamp:   s.now(),
	}

	for _, o := range orders {
		switch strings.ToLower(o.Status) {
		case "complete":
			summary.CompletedOrders++
		case "rejected":
			summary.RejectedOrders++
		default:
			if pendingStatuses[strings.ToLower(o.Status)] {
				summary.PendingOrders++
			}
		}
		switch o.TransactionType {
		case "BUY":
			summary.BuyOrders++
		case "SELL":
			summary.SellOrders++
		}
	}

	for _, tr := range trades {
		summary.TotalTradedValue += float64(tr.Quantity) * tr.Price
	}

	if summary.TotalOrders > 0 {
		summary.SuccessRate = float64(summary.CompletedOrders) / float64(summary.TotalOrders) * 100
	}
	return summary
}

// LogOrderAction appends an order action to the durable audit log.
// approvedBy defaults to USER.
func (s *Service) LogOrderAction(entry state.OrderAuditEntry) bool {
	if entry.ApprovedBy == "" {
		entry.ApprovedBy = "USER"
	}
	return s.state.LogOrderAction(entry)
}

// OrderHistory returns audit log rows, newest first.
func (s *Service) OrderHistory(limit int) []state.OrderAuditEntry {
	return s.state.GetOrderAuditLog(limit, "")
}

// RefreshAll force-refreshes both books, reporting per-source success.
func (s *Service) RefreshAll() map[string]bool {
	s.GetOrderBook(true)
	s.GetTradeBook(true)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]bool{
		"order_book": s.lastOrders != nil,
		"trade_book": s.lastTrades != nil,
	}
}
