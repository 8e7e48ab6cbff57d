package domain

import "time"

// Broker-agnostic types for the Upstox data surface.
// These types abstract away broker-specific response shapes so services and
// handlers never touch a broker SDK payload directly.

// Quote is a real-time price snapshot for one instrument.
type Quote struct {
	Instrument    string    `json:"instrument"`
	Symbol        string    `json:"symbol"`
	LastPrice     float64   `json:"last_price"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"` // previous close
	Volume        int64     `json:"volume"`
	OpenInterest  int64     `json:"oi,omitempty"`
	NetChange     float64   `json:"net_change"`
	PercentChange float64   `json:"percent_change"`
	Timestamp     time.Time `json:"timestamp"`
}

// Candle is one OHLCV bar.
type Candle struct {
	Timestamp    time.Time `json:"timestamp"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       int64     `json:"volume"`
	OpenInterest int64     `json:"oi,omitempty"`
}

// Position is an open F&O or intraday position.
type Position struct {
	Instrument    string  `json:"instrument"`
	Symbol        string  `json:"symbol"`
	Quantity      int     `json:"quantity"` // negative for short
	AveragePrice  float64 `json:"average_price"`
	LastPrice     float64 `json:"last_price"`
	PnL           float64 `json:"pnl"`
	Product       string  `json:"product"`
	Direction     string  `json:"direction"` // LONG or SHORT
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	PnLPercent    float64 `json:"pnl_percent"`
	OptionType    string  `json:"option_type,omitempty"` // CE or PE
}

// Holding is a delivery equity holding.
type Holding struct {
	Instrument      string  `json:"instrument"`
	Symbol          string  `json:"symbol"`
	Quantity        int     `json:"quantity"`
	AveragePrice    float64 `json:"average_price"`
	LastPrice       float64 `json:"last_price"`
	PnL             float64 `json:"pnl"`
	PnLPercent      float64 `json:"pnl_percent"`
	InvestmentValue float64 `json:"investment_value"`
	CurrentValue    float64 `json:"current_value"`
}

// Order is one row of the day's order book.
type Order struct {
	OrderID           string     `json:"order_id"`
	Instrument        string     `json:"instrument"`
	Symbol            string     `json:"symbol"`
	TransactionType   string     `json:"transaction_type"` // BUY or SELL
	OrderType         string     `json:"order_type"`       // MARKET, LIMIT, SL, SL-M
	Quantity          int        `json:"quantity"`
	Price             float64    `json:"price"`
	TriggerPrice      float64    `json:"trigger_price,omitempty"`
	Status            string     `json:"status"`
	FilledQuantity    int        `json:"filled_quantity"`
	PendingQuantity   int        `json:"pending_quantity"`
	AveragePrice      float64    `json:"average_price"`
	OrderTimestamp    *time.Time `json:"order_timestamp,omitempty"`
	ExchangeTimestamp *time.Time `json:"exchange_timestamp,omitempty"`
	Product           string     `json:"product"`
	Validity          string     `json:"validity,omitempty"`
	Tag               string     `json:"tag,omitempty"`
	StatusMessage     string     `json:"status_message,omitempty"`
}

// Trade is one executed fill from the day's trade book.
type Trade struct {
	TradeID         string     `json:"trade_id"`
	OrderID         string     `json:"order_id"`
	Instrument      string     `json:"instrument"`
	Symbol          string     `json:"symbol"`
	TransactionType string     `json:"transaction_type"`
	Quantity        int        `json:"quantity"`
	Price           float64    `json:"price"`
	TradeTimestamp  *time.Time `json:"trade_timestamp,omitempty"`
	Product         string     `json:"product"`
}

// Funds is the account margin snapshot.
type Funds struct {
	AvailableMargin float64 `json:"available_margin"`
	UsedMargin      float64 `json:"used_margin"`
	TotalMargin     float64 `json:"total_margin"`
	PayinAmount     float64 `json:"payin_amount,omitempty"`
}

// ExtractSymbol returns the human symbol from an instrument key like
// "NSE_FO|NIFTY25DEC22000CE". Keys without a pipe pass through unchanged.
func ExtractSymbol(instrument string) string {
	for i := len(instrument) - 1; i >= 0; i-- {
		if instrument[i] == '|' {
			return instrument[i+1:]
		}
	}
	return instrument
}
