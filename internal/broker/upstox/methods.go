package upstox

import (
	"fmt"
	"net/url"
	"time"

	"github.com/karanmehta/quantdesk/internal/domain"
)

// quotePayload mirrors one entry of GET /market-quote/quotes.
type quotePayload struct {
	LastPrice float64 `json:"last_price"`
	Volume    int64   `json:"volume"`
	OI        float64 `json:"oi"`
	NetChange float64 `json:"net_change"`
	Symbol    string  `json:"symbol"`
	OHLC      struct {
		Open  float64 `json:"open"`
		High  float64 `json:"high"`
		Low   float64 `json:"low"`
		Close float64 `json:"close"`
	} `json:"ohlc"`
}

// GetQuote fetches a full market quote for one instrument key.
func (c *Client) GetQuote(instrument string) (*domain.Quote, error) {
	query := url.Values{}
	query.Set("instrument_key", instrument)

	var data map[string]quotePayload
	if err := c.get("/market-quote/quotes", query, &data); err != nil {
		return nil, err
	}

	// The response is keyed by "EXCHANGE:SYMBOL", not by the instrument key
	// that was requested, so take the single entry.
	for _, payload := range data {
		return transformQuote(instrument, payload), nil
	}
	return nil, fmt.Errorf("no quote returned for %s", instrument)
}

// candlesPayload mirrors GET /historical-candle. Each candle is a positional
// array: [timestamp, open, high, low, close, volume, oi].
type candlesPayload struct {
	Candles [][]interface{} `json:"candles"`
}

// GetHistoricalCandles fetches OHLC history for an instrument.
func (c *Client) GetHistoricalCandles(instrument, interval string, from, to time.Time) ([]domain.Candle, error) {
	path := fmt.Sprintf("/historical-candle/%s/%s/%s/%s",
		url.PathEscape(instrument), interval,
		to.Format("2006-01-02"), from.Format("2006-01-02"))

	var data candlesPayload
	if err := c.get(path, nil, &data); err != nil {
		return nil, err
	}
	return transformCandles(data.Candles)
}

// positionPayload mirrors GET /portfolio/short-term-positions.
type positionPayload struct {
	InstrumentToken string  `json:"instrument_token"`
	TradingSymbol   string  `json:"trading_symbol"`
	Quantity        int     `json:"quantity"`
	AveragePrice    float64 `json:"average_price"`
	LastPrice       float64 `json:"last_price"`
	PnL             float64 `json:"pnl"`
	Product         string  `json:"product"`
}

// GetPositions fetches current F&O and intraday positions.
func (c *Client) GetPositions() ([]domain.Position, error) {
	var data []positionPayload
	if err := c.get("/portfolio/short-term-positions", nil, &data); err != nil {
		return nil, err
	}

	positions := make([]domain.Position, 0, len(data))
	for _, p := range data {
		positions = append(positions, domain.Position{
			Instrument:   p.InstrumentToken,
			Symbol:       p.TradingSymbol,
			Quantity:     p.Quantity,
			AveragePrice: p.AveragePrice,
			LastPrice:    p.LastPrice,
			PnL:          p.PnL,
			Product:      p.Product,
		})
	}
	return positions, nil
}

// holdingPayload mirrors GET /portfolio/long-term-holdings.
type holdingPayload struct {
	InstrumentToken string  `json:"instrument_token"`
	TradingSymbol   string  `json:"trading_symbol"`
	Quantity        int     `json:"quantity"`
	AveragePrice    float64 `json:"average_price"`
	LastPrice       float64 `json:"last_price"`
	PnL             float64 `json:"pnl"`
}

// GetHoldings fetches delivery holdings.
func (c *Client) GetHoldings() ([]domain.Holding, error) {
	var data []holdingPayload
	if err := c.get("/portfolio/long-term-holdings", nil, &data); err != nil {
		return nil, err
	}

	holdings := make([]domain.Holding, 0, len(data))
	for _, h := range data {
		holdings = append(holdings, domain.Holding{
			Instrument:   h.InstrumentToken,
			Symbol:       h.TradingSymbol,
			Quantity:     h.Quantity,
			AveragePrice: h.AveragePrice,
			LastPrice:    h.LastPrice,
			PnL:          h.PnL,
		})
	}
	return holdings, nil
}

// fundsPayload mirrors GET /user/get-funds-and-margin.
type fundsPayload struct {
	Equity struct {
		AvailableMargin float64 `json:"available_margin"`
		UsedMargin      float64 `json:"used_margin"`
		PayinAmount     float64 `json:"payin_amount"`
	} `json:"equity"`
}

// GetFunds fetches available margin for the equity segment.
func (c *Client) GetFunds() (*domain.Funds, error) {
	var data fundsPayload
	if err := c.get("/user/get-funds-and-margin", nil, &data); err != nil {
		return nil, err
	}

	return &domain.Funds{
		AvailableMargin: data.Equity.AvailableMargin,
		UsedMargin:      data.Equity.UsedMargin,
		TotalMargin:     data.Equity.AvailableMargin + data.Equity.UsedMargin,
		PayinAmount:     data.Equity.PayinAmount,
	}, nil
}

// orderPayload mirrors GET /order/retrieve-all.
type orderPayload struct {
	OrderID           string  `json:"order_id"`
	InstrumentToken   string  `json:"instrument_token"`
	TradingSymbol     string  `json:"trading_symbol"`
	TransactionType   string  `json:"transaction_type"`
	OrderType         string  `json:"order_type"`
	Quantity          int     `json:"quantity"`
	Price             float64 `json:"price"`
	TriggerPrice      float64 `json:"trigger_price"`
	Status            string  `json:"status"`
	FilledQuantity    int     `json:"filled_quantity"`
	PendingQuantity   int     `json:"pending_quantity"`
	AveragePrice      float64 `json:"average_price"`
	OrderTimestamp    string  `json:"order_timestamp"`
	ExchangeTimestamp string  `json:"exchange_timestamp"`
	Product           string  `json:"product"`
	Validity          string  `json:"validity"`
	Tag               string  `json:"tag"`
	StatusMessage     string  `json:"status_message"`
}

// GetOrderBook fetches all orders for the trading day.
func (c *Client) GetOrderBook() ([]domain.Order, error) {
	var data []orderPayload
	if err := c.get("/order/retrieve-all", nil, &data); err != nil {
		return nil, err
	}

	book := make([]domain.Order, 0, len(data))
	for _, o := range data {
		book = append(book, transformOrder(o))
	}
	return book, nil
}

// tradePayload mirrors GET /order/trades/get-trades-for-day.
type tradePayload struct {
	TradeID         string  `json:"trade_id"`
	OrderID         string  `json:"order_id"`
	InstrumentToken string  `json:"instrument_token"`
	TradingSymbol   string  `json:"trading_symbol"`
	TransactionType string  `json:"transaction_type"`
	Quantity        int     `json:"quantity"`
	AveragePrice    float64 `json:"average_price"`
	OrderTimestamp  string  `json:"order_timestamp"`
	Product         string  `json:"product"`
}

// GetTradeBook fetches all executions for the trading day.
func (c *Client) GetTradeBook() ([]domain.Trade, error) {
	var data []tradePayload
	if err := c.get("/order/trades/get-trades-for-day", nil, &data); err != nil {
		return nil, err
	}

	trades := make([]domain.Trade, 0, len(data))
	for _, t := range data {
		trades = append(trades, domain.Trade{
			TradeID:         t.TradeID,
			OrderID:         t.OrderID,
			Instrument:      t.InstrumentToken,
			Symbol:          t.TradingSymbol,
			TransactionType: t.TransactionType,
			Quantity:        t.Quantity,
			Price:           t.AveragePrice,
			TradeTimestamp:  parseBrokerTime(t.OrderTimestamp),
			Product:         t.Product,
		})
	}
	return trades, nil
}
