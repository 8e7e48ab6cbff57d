package domain

import "time"

// BrokerClient defines broker-agnostic market data and account operations.
// All broker reads go through this interface; services never import a broker
// SDK directly, which keeps them testable against a mock.
type BrokerClient interface {
	// Market data
	GetQuote(instrument string) (*Quote, error)
	GetHistoricalCandles(instrument, interval string, from, to time.Time) ([]Candle, error)

	// Portfolio
	GetPositions() ([]Position, error)
	GetHoldings() ([]Holding, error)
	GetFunds() (*Funds, error)

	// Orders
	GetOrderBook() ([]Order, error)
	GetTradeBook() ([]Trade, error)

	// Connection health
	IsConnected() bool
}
