// Package execution turns approved decisions into venue orders and applies
// confirmed fills to pool state. Venue I/O always happens outside the pool
// actor; only the post-fill bookkeeping re-enters the serialized section.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fundpool-engine/internal/distribution"
	"fundpool-engine/internal/events"
	"fundpool-engine/internal/ledger"
	"fundpool-engine/internal/memory"
	"fundpool-engine/internal/oracle"
	"fundpool-engine/internal/risk"
	"fundpool-engine/internal/venue"
)

// FillDeduper guards against double-applying a fill for the same decision
// under the venue's at-least-once delivery. The redis implementation lives
// in internal/database.
type FillDeduper interface {
	// MarkFillApplied returns true exactly once per decision id
	MarkFillApplied(ctx context.Context, decisionID string) (bool, error)
}

// Config holds coordinator settings
type Config struct {
	FeeRate         float64 // Fee fraction applied to |pnl| on close
	DefaultLeverage int
}

// Coordinator executes approved decisions for pools
type Coordinator struct {
	config      Config
	store       ledger.Store
	connector   venue.Connector
	governor    *risk.Governor
	distributor *distribution.Engine
	decisions   *memory.Log
	dedup       FillDeduper
	bus         *events.Bus
	logger      zerolog.Logger
}

// NewCoordinator creates an execution coordinator
func NewCoordinator(config Config, store ledger.Store, connector venue.Connector, governor *risk.Governor,
	distributor *distribution.Engine, decisions *memory.Log, dedup FillDeduper, bus *events.Bus, logger zerolog.Logger) *Coordinator {
	if config.DefaultLeverage < 1 {
		config.DefaultLeverage = 1
	}
	return &Coordinator{
		config:      config,
		store:       store,
		connector:   connector,
		governor:    governor,
		distributor: distributor,
		decisions:   decisions,
		dedup:       dedup,
		bus:         bus,
		logger:      logger.With().Str("component", "execution").Logger(),
	}
}

// poolFigures is a consistent read of the figures sizing and assessment need
type poolFigures struct {
	poolID          string
	capital         float64
	available       float64
	openNotional    float64
	tradesRemaining int
}

func (c *Coordinator) readFigures(ctx context.Context, actor *ledger.Actor, now time.Time) (poolFigures, error) {
	var fig poolFigures
	err := actor.Do(ctx, "read_figures", func(_ context.Context, st *ledger.State) error {
		fig = poolFigures{
			poolID:          st.Pool.ID,
			capital:         st.Pool.CurrentCapital(),
			available:       st.Pool.AvailableCapital,
			openNotional:    st.OpenNotional(),
			tradesRemaining: st.Pool.TradesRemaining(now),
		}
		return nil
	})
	return fig, err
}

// Result reports one decision's path through validation and execution
type Result struct {
	Decision   *memory.Decision
	Assessment risk.Assessment
	Position   *ledger.Position
	Executed   bool
}

// ExecuteDecision validates a signal through the governor and, if approved,
// places a single venue order and opens the position once the fill is
// confirmed. Venue failure leaves the ledger untouched and the decision
// logged as unexecuted.
func (c *Coordinator) ExecuteDecision(ctx context.Context, actor *ledger.Actor, signal oracle.Signal) (*Result, error) {
	now := time.Now().UTC()
	fig, err := c.readFigures(ctx, actor, now)
	if err != nil {
		return nil, err
	}

	status, err := c.governor.GetDailyStatus(ctx, fig.poolID, fig.capital, fig.openNotional, fig.tradesRemaining, now)
	if err != nil {
		return nil, err
	}

	sizing := risk.SizingInput{
		PoolCapital:      fig.capital,
		AvailableCapital: fig.available,
		OpenNotional:     fig.openNotional,
		Confidence:       signal.Confidence,
	}
	size := c.governor.CalculatePositionSize(sizing)

	proposal := risk.Proposal{
		Symbol:     signal.Symbol,
		Side:       signal.Action,
		Size:       size,
		Leverage:   c.config.DefaultLeverage,
		Confidence: signal.Confidence,
	}
	assessment := c.governor.AssessTradeRisk(proposal, status, sizing)

	decision, err := c.decisions.LogDecision(ctx, &memory.Decision{
		PoolID:     fig.poolID,
		Action:     actionFor(signal.Action),
		Symbol:     signal.Symbol,
		Size:       assessment.ApprovedSize,
		Leverage:   assessment.ApprovedLeverage,
		Confidence: signal.Confidence,
		RiskScore:  assessment.RiskScore,
		Reason:     signal.Reason,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{Decision: decision, Assessment: assessment}
	if !assessment.Approved {
		c.bus.Publish(events.EventTradeRejected, fig.poolID, map[string]interface{}{
			"decision_id": decision.ID,
			"symbol":      signal.Symbol,
			"reasons":     assessment.Reasons,
			"risk_score":  assessment.RiskScore,
		})
		return result, &risk.RejectedError{Reasons: assessment.Reasons, RiskScore: assessment.RiskScore}
	}

	// Venue calls happen outside the actor so slow I/O never blocks
	// unrelated pool operations. Without a reference price the order
	// quantity cannot be computed, so a ticker failure aborts the order
	// exactly like a failed placement.
	price, err := signalPrice(ctx, c.connector, signal)
	if err != nil {
		c.failUnexecuted(ctx, fig.poolID, decision, signal.Symbol, err)
		return result, err
	}

	quantity := assessment.ApprovedSize / (price * float64(assessment.ApprovedLeverage))
	fill, err := c.connector.PlaceOrder(ctx, venue.OrderRequest{
		DecisionID: decision.ID,
		Symbol:     signal.Symbol,
		Side:       sideFor(signal.Action),
		Quantity:   quantity,
	})
	if err != nil {
		c.failUnexecuted(ctx, fig.poolID, decision, signal.Symbol, err)
		return result, err
	}

	position, err := c.applyFill(ctx, actor, decision, assessment, signal, fill)
	if err != nil {
		return result, err
	}
	result.Position = position
	result.Executed = position != nil
	return result, nil
}

// failUnexecuted records a venue-side failure against the decision and
// announces it. The ledger was never touched.
func (c *Coordinator) failUnexecuted(ctx context.Context, poolID string, decision *memory.Decision, symbol string, cause error) {
	c.logger.Warn().Str("decision_id", decision.ID).Str("symbol", symbol).Err(cause).
		Msg("venue order failed, decision unexecuted")
	if markErr := c.decisions.MarkUnexecuted(ctx, decision.ID, fmt.Sprintf("venue: %v", cause)); markErr != nil {
		c.logger.Error().Str("decision_id", decision.ID).Err(markErr).Msg("failed to mark decision unexecuted")
	}
	c.bus.Publish(events.EventTradeUnexecuted, poolID, map[string]interface{}{
		"decision_id": decision.ID,
		"symbol":      symbol,
		"error":       cause.Error(),
	})
}

// applyFill opens the position for a confirmed fill inside the actor.
// A duplicate delivery of the same fill is recognized and ignored.
func (c *Coordinator) applyFill(ctx context.Context, actor *ledger.Actor, decision *memory.Decision,
	assessment risk.Assessment, signal oracle.Signal, fill *venue.Fill) (*ledger.Position, error) {

	first, err := c.dedup.MarkFillApplied(ctx, decision.ID)
	if err != nil {
		return nil, fmt.Errorf("fill dedup check failed for decision %s: %w", decision.ID, err)
	}
	if !first {
		c.logger.Warn().Str("decision_id", decision.ID).Msg("duplicate fill delivery ignored")
		return nil, nil
	}

	now := time.Now().UTC()
	position := &ledger.Position{
		ID:           uuid.NewString(),
		DecisionID:   decision.ID,
		Symbol:       signal.Symbol,
		Side:         positionSide(signal.Action),
		EntryPrice:   fill.AvgPrice,
		CurrentPrice: fill.AvgPrice,
		Quantity:     fill.FilledQty,
		Leverage:     assessment.ApprovedLeverage,
		MarginUsed:   fill.AvgPrice * fill.FilledQty,
		StopLoss:     signal.StopLoss,
		TakeProfit:   signal.TakeProfit,
		Status:       ledger.PositionOpen,
		OpenedAt:     now,
	}

	err = actor.Do(ctx, "open_position", func(jobCtx context.Context, st *ledger.State) error {
		position.PoolID = st.Pool.ID
		if err := st.OpenPosition(position, now); err != nil {
			return err
		}
		if err := c.store.CreatePosition(jobCtx, position); err != nil {
			st.RetirePosition(position.ID, ledger.PositionCancelled, now)
			st.Pool.ReleaseMargin(position.MarginUsed, now)
			return fmt.Errorf("failed to persist position for decision %s: %w", decision.ID, err)
		}
		if err := c.store.UpdatePool(jobCtx, st.Pool); err != nil {
			return fmt.Errorf("failed to persist pool %s after open: %w", st.Pool.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := c.decisions.UpdateDecisionOutcome(ctx, decision.ID, fill.OrderID, fill.AvgPrice, 0, now); err != nil {
		c.logger.Error().Str("decision_id", decision.ID).Err(err).Msg("failed to record decision outcome")
	}

	c.bus.Publish(events.EventTradeExecuted, position.PoolID, map[string]interface{}{
		"decision_id": decision.ID,
		"position_id": position.ID,
		"symbol":      position.Symbol,
		"side":        position.Side,
		"quantity":    position.Quantity,
		"entry_price": position.EntryPrice,
	})
	c.logger.Info().Str("pool_id", position.PoolID).Str("symbol", position.Symbol).
		Str("side", position.Side).Float64("qty", position.Quantity).
		Float64("price", position.EntryPrice).Msg("position opened")
	return position, nil
}

// ClosePosition exits an open position at market, settles its PnL through
// the distribution engine, and retires it.
func (c *Coordinator) ClosePosition(ctx context.Context, actor *ledger.Actor, positionID string, status ledger.PositionStatus) (*ledger.Position, []*distribution.Allocation, error) {
	var snapshot ledger.Position
	err := actor.Do(ctx, "read_position", func(_ context.Context, st *ledger.State) error {
		p, ok := st.Positions[positionID]
		if !ok {
			return ledger.ErrPositionNotFound
		}
		snapshot = *p
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	// Exit order outside the actor
	closeDecisionID := uuid.NewString()
	fill, err := c.connector.PlaceOrder(ctx, venue.OrderRequest{
		DecisionID: closeDecisionID,
		Symbol:     snapshot.Symbol,
		Side:       exitSide(snapshot.Side),
		Quantity:   snapshot.Quantity,
	})
	if err != nil {
		return nil, nil, err
	}

	pnl := realizedPnl(&snapshot, fill.AvgPrice)
	fee := pnlFee(pnl, c.config.FeeRate)
	now := time.Now().UTC()

	var allocations []*distribution.Allocation
	var closed *ledger.Position
	err = actor.Do(ctx, "settle_close", func(jobCtx context.Context, st *ledger.State) error {
		p, ok := st.Positions[positionID]
		if !ok {
			// Already settled by a competing close; at-least-once safe
			return ledger.ErrPositionNotFound
		}
		// Bring the pool aggregate up to the exit mark so the settlement
		// backs out exactly what the aggregate carries.
		st.Pool.UnrealizedPnl += p.MarkPrice(fill.AvgPrice)

		allocs, err := c.distributor.Settle(jobCtx, st, p, pnl, fee, now)
		if err != nil {
			return err
		}
		allocations = allocs

		st.RetirePosition(positionID, status, now)
		closed = p
		if err := c.store.UpdatePosition(jobCtx, p); err != nil {
			return fmt.Errorf("failed to persist closed position %s: %w", positionID, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ledger.ErrPositionNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("settlement failed for position %s: %w", positionID, err)
	}

	if err := c.decisions.UpdateDecisionOutcome(ctx, snapshot.DecisionID, fill.OrderID, fill.AvgPrice, pnl, now); err != nil {
		c.logger.Error().Str("decision_id", snapshot.DecisionID).Err(err).Msg("failed to record close outcome")
	}
	if snapshot.MarginUsed > 0 {
		pnlPct := pnl / snapshot.MarginUsed * 100
		if _, err := c.decisions.LearnFromTrade(ctx, snapshot.PoolID, snapshot.Symbol, "momentum", pnl, pnlPct); err != nil {
			c.logger.Warn().Err(err).Msg("failed to learn from trade")
		}
	}

	c.bus.Publish(events.EventTradeSettled, snapshot.PoolID, map[string]interface{}{
		"position_id": positionID,
		"symbol":      snapshot.Symbol,
		"pnl":         pnl,
		"fee":         fee,
		"exit_price":  fill.AvgPrice,
		"allocations": len(allocations),
	})
	return closed, allocations, nil
}

// realizedPnl computes close PnL, sign-adjusted by side
func realizedPnl(p *ledger.Position, exitPrice float64) float64 {
	diff := exitPrice - p.EntryPrice
	if p.Side == ledger.SideShort {
		diff = -diff
	}
	return diff * p.Quantity * float64(p.Leverage)
}

// pnlFee charges the fee rate on the PnL magnitude
func pnlFee(pnl, rate float64) float64 {
	if pnl < 0 {
		return -pnl * rate
	}
	return pnl * rate
}

func actionFor(signalAction string) string {
	switch signalAction {
	case oracle.ActionBuy:
		return memory.ActionOpenLong
	case oracle.ActionSell:
		return memory.ActionClose
	default:
		return memory.ActionHold
	}
}

func sideFor(signalAction string) string {
	if signalAction == oracle.ActionSell {
		return venue.SideSell
	}
	return venue.SideBuy
}

func positionSide(signalAction string) string {
	if signalAction == oracle.ActionSell {
		return ledger.SideShort
	}
	return ledger.SideLong
}

func exitSide(positionSide string) string {
	if positionSide == ledger.SideShort {
		return venue.SideBuy
	}
	return venue.SideSell
}

// signalPrice resolves the reference price for sizing: the signal's own
// price when present, otherwise a fresh ticker. An unresolvable price is
// an error; there is no quantity that can be safely submitted without one.
func signalPrice(ctx context.Context, connector venue.Connector, signal oracle.Signal) (float64, error) {
	if signal.Price > 0 {
		return signal.Price, nil
	}
	ticker, err := connector.GetTicker(ctx, signal.Symbol)
	if err != nil {
		return 0, fmt.Errorf("no reference price for %s: %w", signal.Symbol, err)
	}
	if ticker.Price <= 0 {
		return 0, fmt.Errorf("no reference price for %s: ticker returned %.4f", signal.Symbol, ticker.Price)
	}
	return ticker.Price, nil
}
