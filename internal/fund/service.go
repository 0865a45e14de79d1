// Package fund is the orchestration layer of the engine: participant
// deposits and redemptions, the trading cycle, and daily settlement.
// Each operation resolves the owning pool actor and runs its ledger
// mutations inside it; venue and oracle I/O stay outside.
package fund

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fundpool-engine/config"
	"fundpool-engine/internal/events"
	"fundpool-engine/internal/execution"
	"fundpool-engine/internal/ledger"
	"fundpool-engine/internal/memory"
	"fundpool-engine/internal/oracle"
	"fundpool-engine/internal/redemption"
	"fundpool-engine/internal/risk"
	"fundpool-engine/internal/venue"
)

// SettlementMarker claims the once-per-day settlement slot for a pool.
// The redis implementation lives in internal/database.
type SettlementMarker interface {
	TryMarkSettled(ctx context.Context, poolID, day string) (bool, error)
}

// Service exposes the fund engine's operations
type Service struct {
	poolConfig  config.PoolConfig
	manager     *ledger.Manager
	governor    *risk.Governor
	coordinator *execution.Coordinator
	redeemer    *redemption.Processor
	oracle      oracle.StrategyOracle
	connector   venue.Connector
	store       ledger.Store
	decisions   *memory.Log
	marker      SettlementMarker
	settlements ledger.SettlementStore
	bus         *events.Bus
	logger      zerolog.Logger
}

// NewService creates the fund service
func NewService(poolConfig config.PoolConfig, manager *ledger.Manager, governor *risk.Governor,
	coordinator *execution.Coordinator, redeemer *redemption.Processor, strategyOracle oracle.StrategyOracle,
	connector venue.Connector, store ledger.Store, decisions *memory.Log,
	marker SettlementMarker, settlements ledger.SettlementStore, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		poolConfig:  poolConfig,
		manager:     manager,
		governor:    governor,
		coordinator: coordinator,
		redeemer:    redeemer,
		oracle:      strategyOracle,
		connector:   connector,
		store:       store,
		decisions:   decisions,
		marker:      marker,
		settlements: settlements,
		bus:         bus,
		logger:      logger.With().Str("component", "fund_service").Logger(),
	}
}

// ============================================================================
// STAKES
// ============================================================================

// CreateStake deposits capital into a strategy's pool, issuing shares at
// the current NAV and starting the stake's lock period.
func (s *Service) CreateStake(ctx context.Context, strategyID, participantID string, amount float64) (*ledger.Stake, error) {
	if participantID == "" {
		return nil, &ledger.ValidationError{Field: "participant_id", Reason: "must not be empty"}
	}
	if amount < s.poolConfig.MinDepositAmount {
		return nil, &ledger.ValidationError{Field: "amount",
			Reason: fmt.Sprintf("below minimum deposit %.2f", s.poolConfig.MinDepositAmount)}
	}
	if s.poolConfig.MaxDepositAmount > 0 && amount > s.poolConfig.MaxDepositAmount {
		return nil, &ledger.ValidationError{Field: "amount",
			Reason: fmt.Sprintf("above maximum deposit %.2f", s.poolConfig.MaxDepositAmount)}
	}

	actor, err := s.manager.GetOrCreatePool(ctx, strategyID)
	if err != nil {
		return nil, err
	}

	var stake *ledger.Stake
	err = actor.Do(ctx, "create_stake", func(jobCtx context.Context, st *ledger.State) error {
		now := time.Now().UTC()
		entryNav := st.Pool.CurrentNav
		shares := st.Pool.IssueShares(amount, now)

		stake = &ledger.Stake{
			ID:            uuid.NewString(),
			ParticipantID: participantID,
			PoolID:        st.Pool.ID,
			Amount:        amount,
			Shares:        shares,
			EntryNav:      entryNav,
			Status:        ledger.StakeActive,
			LockStart:     now,
			LockEnd:       now.AddDate(0, 0, s.poolConfig.LockPeriodDays),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		st.Registry.Put(stake)

		if err := s.store.CreateStake(jobCtx, stake); err != nil {
			// Unwind the issuance so the in-memory ledger matches the store
			st.Registry.Remove(stake.ID)
			st.Pool.TotalCapital -= amount
			st.Pool.AvailableCapital -= amount
			st.Pool.TotalShares -= shares
			return fmt.Errorf("failed to persist stake: %w", err)
		}
		if err := s.store.UpdatePool(jobCtx, st.Pool); err != nil {
			return fmt.Errorf("failed to persist pool %s after deposit: %w", st.Pool.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(events.EventStakeCreated, stake.PoolID, map[string]interface{}{
		"stake_id":       stake.ID,
		"participant_id": stake.ParticipantID,
		"amount":         stake.Amount,
		"shares":         stake.Shares,
		"entry_nav":      stake.EntryNav,
		"lock_end":       stake.LockEnd,
	})
	s.logger.Info().Str("stake_id", stake.ID).Str("pool_id", stake.PoolID).
		Float64("amount", amount).Float64("shares", stake.Shares).Msg("stake created")
	return stake, nil
}

// PauseStake pauses a stake's lock-completion clock
func (s *Service) PauseStake(ctx context.Context, stakeID, participantID string) (*ledger.Stake, error) {
	stake, err := s.transitionStake(ctx, stakeID, participantID, ledger.StakePaused, "pause_stake")
	if err != nil {
		return nil, err
	}
	s.bus.Publish(events.EventStakePaused, stake.PoolID, map[string]interface{}{"stake_id": stakeID})
	return stake, nil
}

// ResumeStake resumes a paused stake, banking the elapsed pause time
func (s *Service) ResumeStake(ctx context.Context, stakeID, participantID string) (*ledger.Stake, error) {
	stake, err := s.transitionStake(ctx, stakeID, participantID, ledger.StakeActive, "resume_stake")
	if err != nil {
		return nil, err
	}
	s.bus.Publish(events.EventStakeResumed, stake.PoolID, map[string]interface{}{"stake_id": stakeID})
	return stake, nil
}

func (s *Service) transitionStake(ctx context.Context, stakeID, participantID string, to ledger.StakeStatus, op string) (*ledger.Stake, error) {
	actor, err := s.manager.FindStakeActor(ctx, stakeID)
	if err != nil {
		return nil, err
	}

	var stake *ledger.Stake
	err = actor.Do(ctx, op, func(jobCtx context.Context, st *ledger.State) error {
		existing, ok := st.Registry.Get(stakeID)
		if !ok {
			return ledger.ErrStakeNotFound
		}
		if participantID != "" && existing.ParticipantID != participantID {
			return &ledger.AuthorizationError{ParticipantID: participantID, StakeID: stakeID}
		}
		transitioned, err := st.Registry.Transition(stakeID, to, time.Now().UTC())
		if err != nil {
			return err
		}
		if err := s.store.UpdateStake(jobCtx, transitioned); err != nil {
			return fmt.Errorf("failed to persist stake %s: %w", stakeID, err)
		}
		stake = transitioned
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stake, nil
}

// ============================================================================
// REDEMPTIONS
// ============================================================================

// GetRedemptionQuote prices a stake's redemption without committing to it
func (s *Service) GetRedemptionQuote(ctx context.Context, stakeID, participantID string) (*redemption.Quote, error) {
	actor, err := s.manager.FindStakeActor(ctx, stakeID)
	if err != nil {
		return nil, err
	}

	var quote *redemption.Quote
	err = actor.Do(ctx, "quote_redemption", func(_ context.Context, st *ledger.State) error {
		stake, ok := st.Registry.Get(stakeID)
		if !ok {
			return ledger.ErrStakeNotFound
		}
		if participantID != "" && stake.ParticipantID != participantID {
			return &ledger.AuthorizationError{ParticipantID: participantID, StakeID: stakeID}
		}
		quote = s.redeemer.ComputeQuote(stake, st.Pool, time.Now().UTC())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quote, nil
}

// RequestRedemption fixes a stake's payout quote and earmarks it in the
// pool. The payout is released by CompleteRedemption.
func (s *Service) RequestRedemption(ctx context.Context, stakeID, participantID string) (*redemption.Quote, error) {
	actor, err := s.manager.FindStakeActor(ctx, stakeID)
	if err != nil {
		return nil, err
	}

	var quote *redemption.Quote
	err = actor.Do(ctx, "request_redemption", func(jobCtx context.Context, st *ledger.State) error {
		q, err := s.redeemer.RequestRedemption(jobCtx, st, stakeID, participantID, time.Now().UTC())
		if err != nil {
			return err
		}
		quote = q
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(events.EventRedemptionRequested, quote.PoolID, map[string]interface{}{
		"stake_id":     stakeID,
		"final_amount": quote.FinalAmount,
		"penalty":      quote.PenaltyAmount,
		"fee":          quote.PerformanceFee,
		"early":        quote.IsEarly,
	})
	return quote, nil
}

// CompleteRedemption burns a pending stake's shares and finalizes payout
func (s *Service) CompleteRedemption(ctx context.Context, stakeID string) (*ledger.Stake, error) {
	actor, err := s.manager.FindStakeActor(ctx, stakeID)
	if err != nil {
		return nil, err
	}

	var stake *ledger.Stake
	err = actor.Do(ctx, "complete_redemption", func(jobCtx context.Context, st *ledger.State) error {
		redeemed, err := s.redeemer.CompleteRedemption(jobCtx, st, stakeID, time.Now().UTC())
		if err != nil {
			return err
		}
		stake = redeemed
		return nil
	})
	if err != nil {
		return nil, err
	}

	payout := 0.0
	if stake.RedemptionAmount != nil {
		payout = *stake.RedemptionAmount
	}
	s.bus.Publish(events.EventRedemptionCompleted, stake.PoolID, map[string]interface{}{
		"stake_id": stakeID,
		"payout":   payout,
	})
	return stake, nil
}

// ============================================================================
// STATUS
// ============================================================================

// PoolStatus is the operational view of one pool
type PoolStatus struct {
	Pool          ledger.Pool       `json:"pool"`
	Daily         *risk.DailyStatus `json:"daily"`
	OpenPositions []ledger.Position `json:"open_positions"`
	StakeCount    int               `json:"stake_count"`
	HeldShares    float64           `json:"held_shares"`
}

// GetPoolStatus reports a pool's ledger figures, daily gate, and positions
func (s *Service) GetPoolStatus(ctx context.Context, strategyID string) (*PoolStatus, error) {
	actor, ok := s.manager.GetPool(strategyID)
	if !ok {
		return nil, ledger.ErrPoolNotFound
	}

	now := time.Now().UTC()
	var status PoolStatus
	err := actor.Do(ctx, "pool_status", func(_ context.Context, st *ledger.State) error {
		status.Pool = *st.Pool
		status.StakeCount = st.Registry.Len()
		status.HeldShares = st.Registry.HeldShares()
		for _, p := range st.OpenPositions() {
			status.OpenPositions = append(status.OpenPositions, *p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	daily, err := s.governor.GetDailyStatus(ctx, status.Pool.ID, status.Pool.TotalCapital+status.Pool.TotalPnl+status.Pool.UnrealizedPnl,
		openNotional(status.OpenPositions), status.Pool.DailyTradeLimit-status.Pool.TradesToday, now)
	if err != nil {
		s.logger.Warn().Str("pool_id", status.Pool.ID).Err(err).Msg("daily status unavailable")
	} else {
		status.Daily = daily
	}
	return &status, nil
}

// StakeView is a stake's status with its live valuation
type StakeView struct {
	Stake        ledger.Stake `json:"stake"`
	CurrentValue float64      `json:"current_value"`
	CurrentNav   float64      `json:"current_nav"`
}

// GetStakeStatus reports a stake and its value at the pool's current NAV
func (s *Service) GetStakeStatus(ctx context.Context, stakeID, participantID string) (*StakeView, error) {
	actor, err := s.manager.FindStakeActor(ctx, stakeID)
	if err != nil {
		return nil, err
	}

	var view StakeView
	err = actor.Do(ctx, "stake_status", func(_ context.Context, st *ledger.State) error {
		stake, ok := st.Registry.Get(stakeID)
		if !ok {
			return ledger.ErrStakeNotFound
		}
		if participantID != "" && stake.ParticipantID != participantID {
			return &ledger.AuthorizationError{ParticipantID: participantID, StakeID: stakeID}
		}
		view.Stake = *stake
		view.CurrentNav = st.Pool.CurrentNav
		view.CurrentValue = stake.CurrentValue(st.Pool.CurrentNav)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

func openNotional(positions []ledger.Position) float64 {
	var total float64
	for i := range positions {
		total += positions[i].Notional()
	}
	return total
}
