package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/karanmehta/quantdesk/internal/state"
)

// handleOrderBook returns today's order book.
func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "true"

	book := s.orders.GetOrderBook(force)
	if instrument := r.URL.Query().Get("instrument"); instrument != "" {
		book = s.orders.OrdersByInstrument(instrument)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders": book,
		"count":  len(book),
	})
}

// handleTradeBook returns today's executed trades.
func (s *Server) handleTradeBook(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "true"
	trades := s.orders.GetTradeBook(force)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"trades": trades,
		"count":  len(trades),
	})
}

// handlePendingOrders returns orders still working at the exchange.
func (s *Server) handlePendingOrders(w http.ResponseWriter, r *http.Request) {
	pending := s.orders.PendingOrders()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders": pending,
		"count":  len(pending),
	})
}

// handleOrdersSummary returns today's order statistics.
func (s *Server) handleOrdersSummary(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orders.GetTodaySummary())
}

// handleOrderStatus returns a single order by broker order ID.
func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	order := s.orders.GetOrderStatus(orderID)
	if order == nil {
		s.writeError(w, http.StatusNotFound, "Order not found")
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

// handleOrderTrades returns the fills for one order.
func (s *Server) handleOrderTrades(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	trades := s.orders.TradesByOrder(orderID)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"order_id": orderID,
		"trades":   trades,
		"count":    len(trades),
	})
}

// handleLogOrderAction appends an entry to the order audit trail.
func (s *Server) handleLogOrderAction(w http.ResponseWriter, r *http.Request) {
	var entry state.OrderAuditEntry
	if !s.decodeBody(w, r, &entry) {
		return
	}
	if entry.Action == "" || entry.Instrument == "" {
		s.writeError(w, http.StatusBadRequest, "action and instrument are required")
		return
	}

	if !s.orders.LogOrderAction(entry) {
		s.writeError(w, http.StatusInternalServerError, "Failed to record audit entry")
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

// handleOrderHistory returns the persisted audit trail, newest first.
func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	history := s.orders.OrderHistory(limit)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": history,
		"count":   len(history),
	})
}
