// Package ledger owns the pooled-fund bookkeeping: pool capital, share
// issuance, NAV, per-stake share accounting, and open positions. All
// mutations for a given pool are serialized through its actor.
package ledger

import (
	"time"
)

// StakeStatus represents the lifecycle state of a stake
type StakeStatus string

const (
	StakeActive            StakeStatus = "active"
	StakePaused            StakeStatus = "paused"
	StakePendingRedemption StakeStatus = "pending_redemption"
	StakeRedeemed          StakeStatus = "redeemed"
	StakeCancelled         StakeStatus = "cancelled"
)

// IsTerminal returns whether the status admits no further transitions
func (s StakeStatus) IsTerminal() bool {
	return s == StakeRedeemed || s == StakeCancelled
}

// HoldsShares returns whether stakes in this status count toward
// pool.TotalShares
func (s StakeStatus) HoldsShares() bool {
	return s == StakeActive || s == StakePaused || s == StakePendingRedemption
}

// PositionStatus represents the lifecycle state of a position
type PositionStatus string

const (
	PositionOpen       PositionStatus = "open"
	PositionClosed     PositionStatus = "closed"
	PositionLiquidated PositionStatus = "liquidated"
	PositionCancelled  PositionStatus = "cancelled"
)

// Position sides
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Pool aggregates multi-participant capital for one strategy.
// Owned exclusively by its actor; never mutate outside an actor job.
type Pool struct {
	ID               string    `json:"id"`
	StrategyID       string    `json:"strategy_id"`
	TotalCapital     float64   `json:"total_capital"`
	AvailableCapital float64   `json:"available_capital"`
	LockedCapital    float64   `json:"locked_capital"`
	CurrentNav       float64   `json:"current_nav"`
	TotalShares      float64   `json:"total_shares"`
	TotalPnl         float64   `json:"total_pnl"`
	UnrealizedPnl    float64   `json:"unrealized_pnl"`
	TradesToday      int       `json:"trades_today"`
	DailyTradeLimit  int       `json:"daily_trade_limit"`
	TradeDay         time.Time `json:"trade_day"` // Day the TradesToday counter belongs to
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Stake is one participant's investment into a pool. Shares are fixed at
// issuance and only reduced by redemption burn.
type Stake struct {
	ID            string      `json:"id"`
	ParticipantID string      `json:"participant_id"`
	PoolID        string      `json:"pool_id"`
	Amount        float64     `json:"amount"`    // Original invested amount
	Shares        float64     `json:"shares"`    // Fixed at issuance
	EntryNav      float64     `json:"entry_nav"` // NAV at the deposit instant
	Status        StakeStatus `json:"status"`
	LockStart     time.Time   `json:"lock_start"`
	LockEnd       time.Time   `json:"lock_end"`
	PausedAt      *time.Time  `json:"paused_at,omitempty"`
	PausedSeconds float64     `json:"paused_seconds"` // Accumulated pause time
	RealizedPnl   float64     `json:"realized_pnl"`
	UnrealizedPnl float64     `json:"unrealized_pnl"`
	PenaltyPaid   float64     `json:"penalty_paid"`
	FeesPaid      float64     `json:"fees_paid"`
	// Redemption quote, populated when the stake enters pending_redemption
	RedemptionAmount *float64   `json:"redemption_amount,omitempty"`
	RedeemedAt       *time.Time `json:"redeemed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CurrentValue values the stake's shares at the given NAV
func (s *Stake) CurrentValue(nav float64) float64 {
	return s.Shares * nav
}

// ActiveSeconds returns the stake's lock-clock elapsed time at now,
// excluding accumulated pause time and any currently running pause.
func (s *Stake) ActiveSeconds(now time.Time) float64 {
	elapsed := now.Sub(s.LockStart).Seconds()
	paused := s.PausedSeconds
	if s.PausedAt != nil {
		paused += now.Sub(*s.PausedAt).Seconds()
	}
	active := elapsed - paused
	if active < 0 {
		return 0
	}
	return active
}

// ShareLedgerEntry is a derived view binding a stake to its share of a pool
// at a point in time.
type ShareLedgerEntry struct {
	StakeID       string      `json:"stake_id"`
	ParticipantID string      `json:"participant_id"`
	PoolID        string      `json:"pool_id"`
	Shares        float64     `json:"shares"`
	SharePct      float64     `json:"share_pct"`
	Status        StakeStatus `json:"status"`
	Value         float64     `json:"value"` // Shares valued at snapshot NAV
	SnapshotAt    time.Time   `json:"snapshot_at"`
}

// Position is an open market position held by a pool. It exists only
// between open and close/liquidate.
type Position struct {
	ID            string         `json:"id"`
	PoolID        string         `json:"pool_id"`
	DecisionID    string         `json:"decision_id"`
	Symbol        string         `json:"symbol"`
	Side          string         `json:"side"` // LONG or SHORT
	EntryPrice    float64        `json:"entry_price"`
	CurrentPrice  float64        `json:"current_price"`
	Quantity      float64        `json:"quantity"`
	Leverage      int            `json:"leverage"`
	MarginUsed    float64        `json:"margin_used"`
	StopLoss      float64        `json:"stop_loss,omitempty"`
	TakeProfit    float64        `json:"take_profit,omitempty"`
	UnrealizedPnl float64        `json:"unrealized_pnl"`
	Status        PositionStatus `json:"status"`
	OpenedAt      time.Time      `json:"opened_at"`
	ClosedAt      *time.Time     `json:"closed_at,omitempty"`
}

// Notional returns the position's notional exposure
func (p *Position) Notional() float64 {
	return p.CurrentPrice * p.Quantity * float64(p.Leverage)
}

// MarkPrice updates the position's current price and recomputes its
// unrealized PnL, returning the delta against the previous mark.
func (p *Position) MarkPrice(price float64) float64 {
	prev := p.UnrealizedPnl
	p.CurrentPrice = price
	diff := price - p.EntryPrice
	if p.Side == SideShort {
		diff = -diff
	}
	p.UnrealizedPnl = diff * p.Quantity * float64(p.Leverage)
	return p.UnrealizedPnl - prev
}
