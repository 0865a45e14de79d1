// Package venue defines the market venue boundary and its connectors.
// Orders are delivered at-least-once: callers must dedup fills by decision
// id before applying them to any ledger.
package venue

import (
	"context"
	"fmt"
	"time"
)

// Order sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// OrderRequest is one order handed to the venue. DecisionID doubles as the
// client order id so a retried submission is recognizable.
type OrderRequest struct {
	DecisionID string
	Symbol     string
	Side       string
	Quantity   float64
	Price      float64 // 0 for market orders
}

// Fill is the venue's confirmation of an executed order
type Fill struct {
	OrderID    string
	DecisionID string
	FilledQty  float64
	AvgPrice   float64
	ExecutedAt time.Time
}

// Ticker is a price snapshot for one symbol
type Ticker struct {
	Symbol string
	Price  float64
	At     time.Time
}

// Connector executes orders against an external market
type Connector interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*Fill, error)
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
}

// Error wraps a venue failure. An order that fails with a venue error is
// logged against its decision and not retried within the same cycle.
type Error struct {
	Op     string
	Symbol string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("venue %s failed for %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
