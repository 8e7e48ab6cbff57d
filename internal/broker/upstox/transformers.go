package upstox

import (
	"fmt"
	"time"

	"github.com/karanmehta/quantdesk/internal/domain"
)

// brokerTimeLayout is the timestamp format the order and trade endpoints use.
const brokerTimeLayout = "2006-01-02 15:04:05"

// istZone is the exchange timezone. Falls back to a fixed offset when the
// tzdata is unavailable.
var istZone = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return time.FixedZone("IST", 5*3600+1800)
	}
	return loc
}()

func transformQuote(instrument string, p quotePayload) *domain.Quote {
	q := &domain.Quote{
		Instrument:   instrument,
		Symbol:       p.Symbol,
		LastPrice:    p.LastPrice,
		Open:         p.OHLC.Open,
		High:         p.OHLC.High,
		Low:          p.OHLC.Low,
		Close:        p.OHLC.Close,
		Volume:       p.Volume,
		OpenInterest: int64(p.OI),
		NetChange:    p.NetChange,
		Timestamp:    time.Now(),
	}
	if q.Symbol == "" {
		q.Symbol = domain.ExtractSymbol(instrument)
	}
	if p.OHLC.Close != 0 {
		q.PercentChange = p.NetChange / p.OHLC.Close * 100
	}
	return q
}

// transformCandles converts positional candle arrays into typed candles.
// Layout: [timestamp, open, high, low, close, volume, oi].
func transformCandles(raw [][]interface{}) ([]domain.Candle, error) {
	candles := make([]domain.Candle, 0, len(raw))
	for i, row := range raw {
		if len(row) < 6 {
			return nil, fmt.Errorf("candle %d has %d fields, expected at least 6", i, len(row))
		}

		ts, ok := row[0].(string)
		if !ok {
			return nil, fmt.Errorf("candle %d has non-string timestamp", i)
		}
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("candle %d has invalid timestamp %q: %w", i, ts, err)
		}

		candle := domain.Candle{
			Timestamp: parsed,
			Open:      toFloat(row[1]),
			High:      toFloat(row[2]),
			Low:       toFloat(row[3]),
			Close:     toFloat(row[4]),
			Volume:    int64(toFloat(row[5])),
		}
		if len(row) > 6 {
			candle.OpenInterest = int64(toFloat(row[6]))
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func transformOrder(o orderPayload) domain.Order {
	symbol := o.TradingSymbol
	if symbol == "" {
		symbol = domain.ExtractSymbol(o.InstrumentToken)
	}
	return domain.Order{
		OrderID:           o.OrderID,
		Instrument:        o.InstrumentToken,
		Symbol:            symbol,
		TransactionType:   o.TransactionType,
		OrderType:         o.OrderType,
		Quantity:          o.Quantity,
		Price:             o.Price,
		TriggerPrice:      o.TriggerPrice,
		Status:            o.Status,
		FilledQuantity:    o.FilledQuantity,
		PendingQuantity:   o.PendingQuantity,
		AveragePrice:      o.AveragePrice,
		OrderTimestamp:    parseBrokerTime(o.OrderTimestamp),
		ExchangeTimestamp: parseBrokerTime(o.ExchangeTimestamp),
		Product:           o.Product,
		Validity:          o.Validity,
		Tag:               o.Tag,
		StatusMessage:     o.StatusMessage,
	}
}

// parseBrokerTime parses an exchange-local timestamp. Nil when absent or
// unparseable.
func parseBrokerTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	parsed, err := time.ParseInLocation(brokerTimeLayout, raw, istZone)
	if err != nil {
		return nil
	}
	return &parsed
}

// toFloat coerces a JSON numeric into a float64. JSON decoding into
// interface{} always yields float64 for numbers, but candle volume sometimes
// arrives as a string.
func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		var parsed float64
		fmt.Sscanf(n, "%f", &parsed)
		return parsed
	default:
		return 0
	}
}
