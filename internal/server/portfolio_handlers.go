package server

import (
	"net/http"
)

// handlePortfolioSummary returns the aggregate portfolio view.
func (s *Server) handlePortfolioSummary(w http.ResponseWriter, r *http.Request) {
	capital := 0.0
	if cs := s.stateStore.GetCapitalState(); cs != nil {
		capital = cs.CurrentCapital
	}
	s.writeJSON(w, http.StatusOK, s.portfolio.GetSummary(capital))
}

// handlePositions returns intraday and F&O positions.
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "true"
	positions := s.portfolio.GetPositions(force)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"positions": positions,
		"count":     len(positions),
	})
}

// handleHoldings returns delivery holdings.
func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "true"
	holdings := s.portfolio.GetHoldings(force)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"holdings": holdings,
		"count":    len(holdings),
	})
}

// handleFunds returns available margin and balances.
func (s *Server) handleFunds(w http.ResponseWriter, r *http.Request) {
	funds, err := s.portfolio.GetFunds()
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "Funds unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, funds)
}

// handleUnrealizedPnL returns the live P&L breakdown and syncs it into
// today's session row.
func (s *Server) handleUnrealizedPnL(w http.ResponseWriter, r *http.Request) {
	pnl := s.portfolio.UnrealizedPnL()
	s.portfolio.SyncSessionPnL()
	s.writeJSON(w, http.StatusOK, pnl)
}

// handlePortfolioRefresh forces a broker refresh of all portfolio data.
func (s *Server) handlePortfolioRefresh(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"refreshed": s.portfolio.RefreshAll(),
	})
}
