package server

import (
	"net/http"
	"time"

	"github.com/karanmehta/quantdesk/internal/marketdata"
)

const dateLayout = "2006-01-02"

// handleQuote returns a live quote for one instrument.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	instrument := r.URL.Query().Get("instrument")
	if instrument == "" {
		s.writeError(w, http.StatusBadRequest, "instrument is required")
		return
	}

	quote, err := s.marketData.GetQuote(instrument)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "Quote unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

// handleCandles returns OHLC history.
// Query params: instrument (required), interval (default "day"),
// from/to (YYYY-MM-DD, optional).
func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	instrument := r.URL.Query().Get("instrument")
	if instrument == "" {
		s.writeError(w, http.StatusBadRequest, "instrument is required")
		return
	}
	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "day"
	}

	from, ok := s.parseDateParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := s.parseDateParam(w, r, "to")
	if !ok {
		return
	}

	candles, err := s.marketData.GetHistoricalCandles(instrument, interval, from, to)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"instrument": instrument,
		"interval":   interval,
		"candles":    candles,
		"count":      len(candles),
		"gaps":       marketdata.DetectGaps(candles, interval),
	})
}

// handleReturns returns daily/weekly/monthly/yearly return percentages.
func (s *Server) handleReturns(w http.ResponseWriter, r *http.Request) {
	instrument := r.URL.Query().Get("instrument")
	if instrument == "" {
		s.writeError(w, http.StatusBadRequest, "instrument is required")
		return
	}
	periodDays := queryInt(r, "period_days", 365)

	metrics, err := s.marketData.CalculateReturns(instrument, periodDays)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, metrics)
}

// handleVolatility returns realized volatility metrics.
func (s *Server) handleVolatility(w http.ResponseWriter, r *http.Request) {
	instrument := r.URL.Query().Get("instrument")
	if instrument == "" {
		s.writeError(w, http.StatusBadRequest, "instrument is required")
		return
	}
	periodDays := queryInt(r, "period_days", 90)

	metrics, err := s.marketData.CalculateVolatility(instrument, periodDays)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, metrics)
}

// handleIndicators returns SMA/EMA/RSI over daily closes.
func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	instrument := r.URL.Query().Get("instrument")
	if instrument == "" {
		s.writeError(w, http.StatusBadRequest, "instrument is required")
		return
	}
	period := queryInt(r, "period", 14)
	days := queryInt(r, "days", 100)

	candles, err := s.marketData.GetDailyCandles(instrument, days)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	closes := marketdata.Closes(candles)

	response := map[string]interface{}{
		"instrument": instrument,
		"period":     period,
		"samples":    len(closes),
	}
	if sma := marketdata.SMA(closes, period); sma != nil {
		response["sma"] = sma[len(sma)-1]
	}
	if ema := marketdata.EMA(closes, period); ema != nil {
		response["ema"] = ema[len(ema)-1]
	}
	if rsi := marketdata.RSI(closes, period); rsi != nil {
		response["rsi"] = *rsi
	}

	s.writeJSON(w, http.StatusOK, response)
}

// parseDateParam reads an optional YYYY-MM-DD query parameter. The zero time
// means the parameter was absent.
func (s *Server) parseDateParam(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, true
	}
	parsed, err := time.Parse(dateLayout, raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, name+" must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return parsed, true
}
