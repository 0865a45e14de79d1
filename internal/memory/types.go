// Package memory provides the immutable decision log and the learned
// trade-pattern store used to bias future signal acceptance.
package memory

import (
	"context"
	"time"
)

// Decision actions
const (
	ActionOpenLong  = "open_long"
	ActionOpenShort = "open_short"
	ActionClose     = "close"
	ActionHold      = "hold"
)

// Decision is one considered trading decision. Append-only: outcome fields
// are attached later, nothing else is ever rewritten.
type Decision struct {
	ID         string    `json:"id"`
	PoolID     string    `json:"pool_id"`
	Action     string    `json:"action"`
	Symbol     string    `json:"symbol"`
	Size       float64   `json:"size"`
	Leverage   int       `json:"leverage"`
	Confidence float64   `json:"confidence"` // 0-100 from the oracle
	RiskScore  float64   `json:"risk_score"` // 0-100 from the governor
	Reason     string    `json:"reason,omitempty"`
	Executed   bool      `json:"executed"`
	CreatedAt  time.Time `json:"created_at"`
	// Outcome, attached after execution and settlement
	ExecutionID   *string    `json:"execution_id,omitempty"`
	FillPrice     *float64   `json:"fill_price,omitempty"`
	OutcomePnl    *float64   `json:"outcome_pnl,omitempty"`
	SettledAt     *time.Time `json:"settled_at,omitempty"`
	FailureReason *string    `json:"failure_reason,omitempty"`
}

// Memory types
const (
	TypeTradeOutcome = "trade_outcome"
	TypeMarketNote   = "market_note"
)

// Memory is a learned pattern ranked by importance for recall
type Memory struct {
	ID               string    `json:"id"`
	PoolID           string    `json:"pool_id"`
	Type             string    `json:"type"`
	Symbol           string    `json:"symbol"`
	MarketCondition  string    `json:"market_condition,omitempty"`
	Lesson           string    `json:"lesson"`
	ImportanceWeight float64   `json:"importance_weight"`
	ShouldRepeat     bool      `json:"should_repeat"`
	AccessCount      int       `json:"access_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// Store is the persistence boundary for decisions and memories
type Store interface {
	CreateDecision(ctx context.Context, decision *Decision) error
	UpdateDecisionOutcome(ctx context.Context, decision *Decision) error
	GetDecisionByID(ctx context.Context, decisionID string) (*Decision, error)
	GetDecisionsByPool(ctx context.Context, poolID string, limit int) ([]*Decision, error)

	CreateMemory(ctx context.Context, memory *Memory) error
	GetMemories(ctx context.Context, poolID string) ([]*Memory, error)
	IncrementMemoryAccess(ctx context.Context, memoryIDs []string) error
}
