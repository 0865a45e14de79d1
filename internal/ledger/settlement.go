package ledger

import (
	"context"
	"time"
)

// DailySettlement is the end-of-day record for one pool
type DailySettlement struct {
	PoolID       string    `json:"pool_id"`
	Day          string    `json:"day"` // YYYY-MM-DD, UTC
	StartCapital float64   `json:"start_capital"`
	EndCapital   float64   `json:"end_capital"`
	DailyPnl     float64   `json:"daily_pnl"`
	Nav          float64   `json:"nav"`
	Trades       int       `json:"trades"`
	SettledAt    time.Time `json:"settled_at"`
}

// SettlementStore persists daily settlement records
type SettlementStore interface {
	CreateDailySettlement(ctx context.Context, s *DailySettlement) error
	// GetDailySettlement returns nil with no error when no record exists
	GetDailySettlement(ctx context.Context, poolID, day string) (*DailySettlement, error)
}
