package risk

import (
	"context"
	"fmt"
	"time"
)

// DaySnapshot is the fixed start-of-day capital baseline for a pool.
// It is captured exactly once per day so mid-day deposits cannot shift the
// daily P&L baseline, and persisted so a restart keeps the same baseline.
type DaySnapshot struct {
	PoolID     string    `json:"pool_id"`
	Day        string    `json:"day"` // YYYY-MM-DD, UTC
	Capital    float64   `json:"capital"`
	CapturedAt time.Time `json:"captured_at"`
}

// SnapshotStore persists start-of-day snapshots. The redis-backed
// implementation lives in internal/database.
type SnapshotStore interface {
	// GetDaySnapshot returns nil with no error when no snapshot exists
	GetDaySnapshot(ctx context.Context, poolID, day string) (*DaySnapshot, error)
	SaveDaySnapshot(ctx context.Context, snap *DaySnapshot) error
}

// Gate close reasons
const (
	ReasonDailyLossLimit   = "daily loss limit reached"
	ReasonDailyProfitTaken = "daily profit target reached"
	ReasonExposureLimit    = "total exposure limit reached"
	ReasonTradeLimit       = "daily trade limit reached"
	ReasonGatePaused       = "trading gate paused"
)

// DailyStatus is the circuit-breaker view of a pool's trading day
type DailyStatus struct {
	PoolID      string  `json:"pool_id"`
	Day         string  `json:"day"`
	StartOfDay  float64 `json:"start_of_day_capital"`
	Capital     float64 `json:"current_capital"`
	DailyPnl    float64 `json:"daily_pnl"`
	DailyPnlPct float64 `json:"daily_pnl_pct"`
	ExposurePct float64 `json:"exposure_pct"`
	CanTrade    bool    `json:"can_trade"`
	Reason      string  `json:"reason,omitempty"`
}

// DayKey formats a time as the governor's day bucket
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// startOfDay loads the stored snapshot for the day, capturing it on first
// call. The capture is what resets the gate at the day boundary.
func (g *Governor) startOfDay(ctx context.Context, poolID string, capital float64, now time.Time) (*DaySnapshot, error) {
	day := DayKey(now)
	snap, err := g.snapshots.GetDaySnapshot(ctx, poolID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to load day snapshot for pool %s: %w", poolID, err)
	}
	if snap != nil {
		return snap, nil
	}

	snap = &DaySnapshot{PoolID: poolID, Day: day, Capital: capital, CapturedAt: now}
	if err := g.snapshots.SaveDaySnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to store day snapshot for pool %s: %w", poolID, err)
	}
	g.logger.Info().Str("pool_id", poolID).Str("day", day).Float64("capital", capital).
		Msg("captured start-of-day snapshot")
	return snap, nil
}

// GetDailyStatus computes the daily gate for a pool from its stored
// start-of-day snapshot. A boundary hit (dailyPnlPct exactly at the loss
// limit) closes the gate.
func (g *Governor) GetDailyStatus(ctx context.Context, poolID string, currentCapital, openNotional float64, tradesRemaining int, now time.Time) (*DailyStatus, error) {
	snap, err := g.startOfDay(ctx, poolID, currentCapital, now)
	if err != nil {
		return nil, err
	}

	status := &DailyStatus{
		PoolID:     poolID,
		Day:        snap.Day,
		StartOfDay: snap.Capital,
		Capital:    currentCapital,
		DailyPnl:   currentCapital - snap.Capital,
		CanTrade:   true,
	}
	if snap.Capital > 0 {
		status.DailyPnlPct = status.DailyPnl / snap.Capital
	}
	if currentCapital > 0 {
		status.ExposurePct = openNotional / currentCapital
	}

	switch {
	case g.paused.Load():
		status.CanTrade = false
		status.Reason = ReasonGatePaused
	case status.DailyPnlPct <= -g.params.MaxDailyLossPct:
		status.CanTrade = false
		status.Reason = ReasonDailyLossLimit
	case status.DailyPnlPct >= g.params.MaxDailyProfitPct:
		status.CanTrade = false
		status.Reason = ReasonDailyProfitTaken
	case status.ExposurePct >= g.params.MaxTotalExposurePct:
		status.CanTrade = false
		status.Reason = ReasonExposureLimit
	case tradesRemaining <= 0:
		status.CanTrade = false
		status.Reason = ReasonTradeLimit
	}

	return status, nil
}

// Pause closes the daily gate manually until Resume or the day boundary
func (g *Governor) Pause() {
	g.paused.Store(true)
	g.logger.Warn().Msg("trading gate paused")
}

// Resume reopens a manually paused gate
func (g *Governor) Resume() {
	g.paused.Store(false)
	g.logger.Info().Msg("trading gate resumed")
}
