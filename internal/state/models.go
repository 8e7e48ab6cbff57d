package state

import (
	"encoding/json"
	"time"
)

// AdjustmentType classifies a capital ledger entry.
type AdjustmentType string

const (
	AdjustmentDeposit    AdjustmentType = "DEPOSIT"
	AdjustmentWithdrawal AdjustmentType = "WITHDRAWAL"
	AdjustmentManual     AdjustmentType = "MANUAL_ADJUSTMENT"
	AdjustmentProfit     AdjustmentType = "TRADE_PROFIT"
	AdjustmentLoss       AdjustmentType = "TRADE_LOSS"
	AdjustmentInitial    AdjustmentType = "INITIAL_SETUP"
)

// Valid reports whether t is a known adjustment type.
func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustmentDeposit, AdjustmentWithdrawal, AdjustmentManual,
		AdjustmentProfit, AdjustmentLoss, AdjustmentInitial:
		return true
	}
	return false
}

// apply returns the capital after applying amount under this type's sign
// convention. Deposits and profits always add the absolute amount,
// withdrawals and losses always subtract it; manual adjustments apply the
// signed amount as given.
func (t AdjustmentType) apply(previous, amount float64) float64 {
	abs := amount
	if abs < 0 {
		abs = -abs
	}
	switch t {
	case AdjustmentDeposit, AdjustmentProfit:
		return previous + abs
	case AdjustmentWithdrawal, AdjustmentLoss:
		return previous - abs
	default: // MANUAL_ADJUSTMENT, INITIAL_SETUP
		return previous + amount
	}
}

// CapitalState is the singleton row describing current trading capital.
type CapitalState struct {
	CurrentCapital   float64   `json:"current_capital"`
	InitialCapital   float64   `json:"initial_capital"`
	AllocatedCapital float64   `json:"allocated_capital"`
	AvailableCapital float64   `json:"available_capital"`
	LastUpdated      time.Time `json:"last_updated"`
}

// CapitalAdjustment is one immutable row of the capital ledger. Rows are
// never updated or deleted once written; replaying them in timestamp order
// from the INITIAL_SETUP row reproduces the current capital exactly.
type CapitalAdjustment struct {
	ID              int64          `json:"id"`
	Timestamp       time.Time      `json:"timestamp"`
	Type            AdjustmentType `json:"adjustment_type"`
	Amount          float64        `json:"amount"`
	PreviousCapital float64        `json:"previous_capital"`
	NewCapital      float64        `json:"new_capital"`
	Reason          string         `json:"reason"`
	ReferenceID     string         `json:"reference_id,omitempty"`
}

// TokenState is the singleton row persisting broker authentication state.
// The access token is stored obfuscated; the auth package owns the
// transformation, this store only persists and retrieves it.
type TokenState struct {
	AccessToken       string    `json:"access_token"`
	TokenExpiry       time.Time `json:"token_expiry"`
	RefreshToken      string    `json:"refresh_token,omitempty"`
	Broker            string    `json:"broker"`
	LastAuthenticated time.Time `json:"last_authenticated"`
	LastValidated     time.Time `json:"last_validated"`
}

// SessionState is one row per trading day.
type SessionState struct {
	ID                      int64     `json:"id"`
	SessionDate             string    `json:"session_date"` // YYYY-MM-DD
	StartingCapital         float64   `json:"starting_capital"`
	RealizedPnL             float64   `json:"realized_pnl"`
	UnrealizedPnL           float64   `json:"unrealized_pnl"`
	TradesCount             int       `json:"trades_count"`
	WinningTrades           int       `json:"winning_trades"`
	LosingTrades            int       `json:"losing_trades"`
	CircuitBreakerTriggered bool      `json:"circuit_breaker_triggered"`
	SessionNotes            string    `json:"session_notes,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// OrderAuditEntry is one append-only row of the order audit log.
type OrderAuditEntry struct {
	ID              int64                  `json:"id"`
	Timestamp       time.Time              `json:"timestamp"`
	OrderID         string                 `json:"order_id,omitempty"`
	Action          string                 `json:"action"`
	Instrument      string                 `json:"instrument"`
	OrderType       string                 `json:"order_type,omitempty"`
	TransactionType string                 `json:"transaction_type,omitempty"`
	Quantity        int                    `json:"quantity,omitempty"`
	Price           float64                `json:"price,omitempty"`
	Status          string                 `json:"status,omitempty"`
	ApprovedBy      string                 `json:"approved_by,omitempty"`
	RejectionReason string                 `json:"rejection_reason,omitempty"`
	Details         map[string]interface{} `json:"details,omitempty"`
}

// marshalDetails encodes the free-form details blob for storage.
// Nil details are stored as SQL NULL.
func marshalDetails(details map[string]interface{}) (interface{}, error) {
	if details == nil {
		return nil, nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
