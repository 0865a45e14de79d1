// Package oracle defines the strategy oracle boundary. Oracle output is
// untrusted advice: every signal is re-validated by the risk governor
// before execution.
package oracle

import (
	"context"
)

// Signal actions
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

// Signal is one ranked trading proposal from the oracle
type Signal struct {
	Action     string  `json:"action"`
	Symbol     string  `json:"symbol"`
	Quantity   float64 `json:"quantity,omitempty"` // Optional oracle-suggested size
	Price      float64 `json:"price,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	Confidence float64 `json:"confidence"` // 0-100
	Reason     string  `json:"reason,omitempty"`
}

// PoolView is the read-only pool context handed to the oracle
type PoolView struct {
	PoolID           string
	StrategyID       string
	TotalCapital     float64
	AvailableCapital float64
	CurrentNav       float64
	UnrealizedPnl    float64
}

// OpenPositionView describes an open position for the oracle
type OpenPositionView struct {
	Symbol        string
	Side          string
	Quantity      float64
	EntryPrice    float64
	CurrentPrice  float64
	UnrealizedPnl float64
}

// Input is everything the oracle sees for one proposal round
type Input struct {
	Pool      PoolView
	Prices    map[string]float64 // Market snapshot
	Positions []OpenPositionView
}

// StrategyOracle proposes ranked signals for a pool. Implementations must
// be safe for concurrent use across pools.
type StrategyOracle interface {
	ProposeSignals(ctx context.Context, in Input) ([]Signal, error)
}
