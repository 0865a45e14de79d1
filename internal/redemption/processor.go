// Package redemption converts a stake's shares back to capital, applying
// the early-exit penalty and performance fee schedules.
package redemption

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"fundpool-engine/internal/ledger"
)

// Config holds redemption fee schedules
type Config struct {
	EarlyPenaltyRate   float64 // Penalty coefficient for early exit, e.g. 0.1
	PerformanceFeeRate float64 // Fee on positive profit, e.g. 0.2
}

// Quote is the computed outcome of a redemption request. The amounts are
// fixed at request time; completion pays exactly this quote.
type Quote struct {
	StakeID        string    `json:"stake_id"`
	PoolID         string    `json:"pool_id"`
	CurrentValue   float64   `json:"current_value"`
	Profit         float64   `json:"profit"`
	IsEarly        bool      `json:"is_early"`
	CompletionRate float64   `json:"completion_rate"`
	PenaltyRate    float64   `json:"penalty_rate"`
	PenaltyAmount  float64   `json:"penalty_amount"`
	PerformanceFee float64   `json:"performance_fee"`
	FinalAmount    float64   `json:"final_amount"`
	RequestedAt    time.Time `json:"requested_at"`
}

// Processor handles stake redemptions. All methods must run inside the
// owning pool's actor.
type Processor struct {
	config Config
	store  ledger.Store
	logger zerolog.Logger
}

// NewProcessor creates a redemption processor
func NewProcessor(config Config, store ledger.Store, logger zerolog.Logger) *Processor {
	return &Processor{
		config: config,
		store:  store,
		logger: logger.With().Str("component", "redemption").Logger(),
	}
}

// ComputeQuote prices a stake's redemption at the current NAV without
// mutating anything. The lock-completion clock excludes accumulated pause
// time.
func (p *Processor) ComputeQuote(stake *ledger.Stake, pool *ledger.Pool, now time.Time) *Quote {
	currentValue := stake.CurrentValue(pool.CurrentNav)
	profit := currentValue - stake.Amount
	isEarly := now.Before(stake.LockEnd)

	lockSeconds := stake.LockEnd.Sub(stake.LockStart).Seconds()
	completionRate := 1.0
	if lockSeconds > 0 {
		completionRate = clamp(stake.ActiveSeconds(now)/lockSeconds, 0, 1)
	}

	penaltyRate := 0.0
	if isEarly {
		penaltyRate = p.config.EarlyPenaltyRate * (1 - completionRate)
	}
	penaltyAmount := currentValue * penaltyRate
	performanceFee := math.Max(profit, 0) * p.config.PerformanceFeeRate

	return &Quote{
		StakeID:        stake.ID,
		PoolID:         pool.ID,
		CurrentValue:   currentValue,
		Profit:         profit,
		IsEarly:        isEarly,
		CompletionRate: completionRate,
		PenaltyRate:    penaltyRate,
		PenaltyAmount:  penaltyAmount,
		PerformanceFee: performanceFee,
		FinalAmount:    currentValue - penaltyAmount - performanceFee,
		RequestedAt:    now,
	}
}

// RequestRedemption transitions a stake to pending_redemption, fixes its
// payout quote, and earmarks the payout in the pool ledger. The stake's
// shares remain on the books until CompleteRedemption.
func (p *Processor) RequestRedemption(ctx context.Context, st *ledger.State, stakeID, participantID string, now time.Time) (*Quote, error) {
	stake, ok := st.Registry.Get(stakeID)
	if !ok {
		return nil, ledger.ErrStakeNotFound
	}
	if participantID != "" && stake.ParticipantID != participantID {
		return nil, &ledger.AuthorizationError{ParticipantID: participantID, StakeID: stakeID}
	}
	if stake.Status.IsTerminal() {
		return nil, ledger.ErrAlreadyTerminal
	}
	if stake.Status == ledger.StakePendingRedemption {
		return nil, &ledger.ValidationError{Field: "stake_id", Reason: "redemption already pending"}
	}

	quote := p.ComputeQuote(stake, st.Pool, now)

	// Check capital before touching any state so a rejection is clean
	if quote.FinalAmount > st.Pool.AvailableCapital {
		return nil, &ledger.InsufficientCapitalError{
			PoolID:    st.Pool.ID,
			Requested: quote.FinalAmount,
			Available: st.Pool.AvailableCapital,
		}
	}

	if _, err := st.Registry.Transition(stakeID, ledger.StakePendingRedemption, now); err != nil {
		return nil, err
	}
	stake.RedemptionAmount = &quote.FinalAmount
	stake.RealizedPnl = quote.Profit - quote.PerformanceFee
	stake.PenaltyPaid += quote.PenaltyAmount
	stake.FeesPaid += quote.PerformanceFee

	if err := st.Pool.EarmarkRedemption(stake.Amount, quote.FinalAmount, now); err != nil {
		return nil, err
	}

	// Stake row first: it carries the durable intent and the fixed quote.
	// A crash before the pool write is detected by reconcile as a pending
	// stake with no matching earmark.
	if err := p.store.UpdateStake(ctx, stake); err != nil {
		return nil, fmt.Errorf("failed to persist pending redemption for stake %s: %w", stakeID, err)
	}
	if err := p.store.UpdatePool(ctx, st.Pool); err != nil {
		return nil, fmt.Errorf("failed to persist redemption earmark for pool %s: %w", st.Pool.ID, err)
	}

	p.logger.Info().Str("stake_id", stakeID).Str("pool_id", st.Pool.ID).
		Float64("current_value", quote.CurrentValue).Float64("final_amount", quote.FinalAmount).
		Bool("early", quote.IsEarly).Msg("redemption requested")
	return quote, nil
}

// CompleteRedemption burns the stake's shares and moves it to its terminal
// state. The payout amount was fixed and earmarked at request time.
func (p *Processor) CompleteRedemption(ctx context.Context, st *ledger.State, stakeID string, now time.Time) (*ledger.Stake, error) {
	stake, ok := st.Registry.Get(stakeID)
	if !ok {
		return nil, ledger.ErrStakeNotFound
	}
	if stake.Status.IsTerminal() {
		return nil, ledger.ErrAlreadyTerminal
	}
	if stake.Status != ledger.StakePendingRedemption {
		return nil, &ledger.InvalidTransitionError{StakeID: stakeID, From: stake.Status, To: ledger.StakeRedeemed}
	}

	shares := stake.Shares
	if _, err := st.Registry.Transition(stakeID, ledger.StakeRedeemed, now); err != nil {
		return nil, err
	}
	st.Pool.BurnShares(shares, now)
	// Shares burned against earmarked value: remark so stored NAV stays
	// recomputable for the remaining stakes.
	st.Pool.MarkNav(now)

	if err := p.store.UpdateStake(ctx, stake); err != nil {
		return nil, fmt.Errorf("failed to persist redeemed stake %s: %w", stakeID, err)
	}
	if err := p.store.UpdatePool(ctx, st.Pool); err != nil {
		return nil, fmt.Errorf("failed to persist share burn for pool %s: %w", st.Pool.ID, err)
	}

	p.logger.Info().Str("stake_id", stakeID).Str("pool_id", st.Pool.ID).
		Float64("shares_burned", shares).Msg("redemption completed")
	return stake, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
