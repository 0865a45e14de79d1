package ledger

import (
	"time"
)

// NewPool creates a pool for a strategy with an opening NAV and daily
// trade limit.
func NewPool(id, strategyID string, initialNav float64, dailyTradeLimit int, now time.Time) *Pool {
	return &Pool{
		ID:              id,
		StrategyID:      strategyID,
		CurrentNav:      initialNav,
		DailyTradeLimit: dailyTradeLimit,
		TradeDay:        now.Truncate(24 * time.Hour),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// IssueShares converts a deposit into shares at the current NAV and credits
// the pool's capital. Returns the issued share count.
func (p *Pool) IssueShares(amount float64, now time.Time) float64 {
	shares := amount / p.CurrentNav
	p.TotalCapital += amount
	p.AvailableCapital += amount
	p.TotalShares += shares
	p.UpdatedAt = now
	return shares
}

// LockMargin moves capital from available to locked. A rejected lock
// performs no mutation.
func (p *Pool) LockMargin(amount float64, now time.Time) error {
	if amount > p.AvailableCapital {
		return &InsufficientCapitalError{PoolID: p.ID, Requested: amount, Available: p.AvailableCapital}
	}
	p.AvailableCapital -= amount
	p.LockedCapital += amount
	p.UpdatedAt = now
	return nil
}

// ReleaseMargin returns locked capital to available. Releasing more than is
// locked clamps to the locked amount.
func (p *Pool) ReleaseMargin(amount float64, now time.Time) {
	if amount > p.LockedCapital {
		amount = p.LockedCapital
	}
	p.LockedCapital -= amount
	p.AvailableCapital += amount
	p.UpdatedAt = now
}

// ApplyRealizedPnl settles realized profit or loss into the pool
func (p *Pool) ApplyRealizedPnl(delta float64, now time.Time) {
	p.TotalPnl += delta
	p.AvailableCapital += delta
	p.UpdatedAt = now
}

// MarkNav recomputes the pool's NAV from capital and PnL. Invoked after
// every trade settlement and once per calendar day. A pool with no shares
// keeps its current NAV so the next deposit prices correctly.
func (p *Pool) MarkNav(now time.Time) float64 {
	if p.TotalShares > 0 {
		p.CurrentNav = (p.TotalCapital + p.TotalPnl + p.UnrealizedPnl) / p.TotalShares
	}
	p.UpdatedAt = now
	return p.CurrentNav
}

// RecordTrade increments the daily trade counter, rolling it over at the
// day boundary.
func (p *Pool) RecordTrade(now time.Time) {
	p.rollTradeDay(now)
	p.TradesToday++
	p.UpdatedAt = now
}

// TradesRemaining returns how many trades the pool may still open today
func (p *Pool) TradesRemaining(now time.Time) int {
	p.rollTradeDay(now)
	remaining := p.DailyTradeLimit - p.TradesToday
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (p *Pool) rollTradeDay(now time.Time) {
	day := now.Truncate(24 * time.Hour)
	if day.After(p.TradeDay) {
		p.TradeDay = day
		p.TradesToday = 0
	}
}

// EarmarkRedemption reserves a pending redemption's payout at request time.
// The original investment leaves TotalCapital so it is not double-counted
// while the redemption is pending; the difference between payout and
// investment nets out of TotalPnl (the stake's profit leaves, the penalty
// and performance fee are retained for the remaining stakers). Shares stay
// on the books until CompleteRedemption burns them. No mutation happens
// when available capital cannot cover the payout.
func (p *Pool) EarmarkRedemption(amountInvested, finalAmount float64, now time.Time) error {
	if finalAmount > p.AvailableCapital {
		return &InsufficientCapitalError{PoolID: p.ID, Requested: finalAmount, Available: p.AvailableCapital}
	}
	p.AvailableCapital -= finalAmount
	p.TotalCapital -= amountInvested
	p.TotalPnl += amountInvested - finalAmount
	p.UpdatedAt = now
	return nil
}

// BurnShares retires a redeemed stake's shares
func (p *Pool) BurnShares(shares float64, now time.Time) {
	p.TotalShares -= shares
	if p.TotalShares < 0 {
		p.TotalShares = 0
	}
	p.UpdatedAt = now
}

// CurrentCapital is the pool's total equity: capital plus settled and
// unsettled PnL.
func (p *Pool) CurrentCapital() float64 {
	return p.TotalCapital + p.TotalPnl + p.UnrealizedPnl
}
