package fund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fundpool-engine/internal/database"
	"fundpool-engine/internal/events"
	"fundpool-engine/internal/ledger"
	"fundpool-engine/internal/oracle"
	"fundpool-engine/internal/risk"
)

// CycleReport summarizes one trading cycle for a pool
type CycleReport struct {
	PoolID     string   `json:"pool_id"`
	StrategyID string   `json:"strategy_id"`
	GateOpen   bool     `json:"gate_open"`
	GateReason string   `json:"gate_reason,omitempty"`
	Signals    int      `json:"signals"`
	Executed   int      `json:"executed"`
	Rejected   int      `json:"rejected"`
	Closed     int      `json:"closed"`
	Errors     []string `json:"errors,omitempty"`
}

// RunTradingCycle runs one decision round for a strategy's pool: mark
// prices, consult the oracle, and route each signal through the governor
// and coordinator. Exits are processed even when the daily gate is
// closed; entries are not. The gate is re-checked between entries so a
// limit tripped mid-cycle stops further orders.
func (s *Service) RunTradingCycle(ctx context.Context, strategyID string, symbols []string) (*CycleReport, error) {
	actor, err := s.manager.GetOrCreatePool(ctx, strategyID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	prices := s.fetchPrices(ctx, symbols)

	// Mark open positions and read the oracle's view in one serialized pass
	var in oracle.Input
	var tradesRemaining int
	var capital, exposure float64
	err = actor.Do(ctx, "mark_and_read", func(_ context.Context, st *ledger.State) error {
		st.MarkPrices(prices, now)
		in = oracle.Input{
			Pool: oracle.PoolView{
				PoolID:           st.Pool.ID,
				StrategyID:       st.Pool.StrategyID,
				TotalCapital:     st.Pool.TotalCapital,
				AvailableCapital: st.Pool.AvailableCapital,
				CurrentNav:       st.Pool.CurrentNav,
				UnrealizedPnl:    st.Pool.UnrealizedPnl,
			},
			Prices: prices,
		}
		for _, p := range st.OpenPositions() {
			in.Positions = append(in.Positions, oracle.OpenPositionView{
				Symbol:        p.Symbol,
				Side:          p.Side,
				Quantity:      p.Quantity,
				EntryPrice:    p.EntryPrice,
				CurrentPrice:  p.CurrentPrice,
				UnrealizedPnl: p.UnrealizedPnl,
			})
		}
		tradesRemaining = st.Pool.TradesRemaining(now)
		capital = st.Pool.CurrentCapital()
		exposure = st.OpenNotional()
		return nil
	})
	if err != nil {
		return nil, err
	}

	report := &CycleReport{PoolID: in.Pool.PoolID, StrategyID: strategyID}

	status, err := s.governor.GetDailyStatus(ctx, in.Pool.PoolID, capital, exposure, tradesRemaining, now)
	if err != nil {
		return nil, err
	}
	report.GateOpen = status.CanTrade
	report.GateReason = status.Reason
	if !status.CanTrade {
		s.bus.Publish(events.EventGateTripped, in.Pool.PoolID, map[string]interface{}{
			"reason": status.Reason,
			"day":    status.Day,
		})
	}

	signals, err := s.oracle.ProposeSignals(ctx, in)
	if err != nil {
		return report, fmt.Errorf("oracle failed for strategy %s: %w", strategyID, err)
	}
	report.Signals = len(signals)

	for _, signal := range signals {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		switch signal.Action {
		case oracle.ActionSell:
			closed, err := s.closeMatching(ctx, actor, signal.Symbol)
			report.Closed += closed
			if err != nil {
				report.Errors = append(report.Errors, err.Error())
			}
		case oracle.ActionBuy:
			if !report.GateOpen {
				continue
			}
			_, err := s.coordinator.ExecuteDecision(ctx, actor, signal)
			var rejected *risk.RejectedError
			switch {
			case err == nil:
				report.Executed++
			case errors.As(err, &rejected):
				report.Rejected++
				// A gate-reason rejection means the gate closed mid-cycle
				if gateReason(rejected.Reasons) != "" {
					report.GateOpen = false
					report.GateReason = gateReason(rejected.Reasons)
				}
			default:
				report.Errors = append(report.Errors, err.Error())
			}
		}
	}

	s.logger.Info().Str("strategy_id", strategyID).Str("pool_id", report.PoolID).
		Bool("gate_open", report.GateOpen).Int("signals", report.Signals).
		Int("executed", report.Executed).Int("rejected", report.Rejected).
		Int("closed", report.Closed).Msg("trading cycle complete")
	return report, nil
}

// closeMatching exits every open position on a symbol
func (s *Service) closeMatching(ctx context.Context, actor *ledger.Actor, symbol string) (int, error) {
	var ids []string
	err := actor.Do(ctx, "list_positions", func(_ context.Context, st *ledger.State) error {
		for _, p := range st.OpenPositions() {
			if p.Symbol == symbol {
				ids = append(ids, p.ID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, id := range ids {
		if _, _, err := s.coordinator.ClosePosition(ctx, actor, id, ledger.PositionClosed); err != nil {
			if errors.Is(err, ledger.ErrPositionNotFound) {
				continue
			}
			return closed, err
		}
		closed++
	}
	return closed, nil
}

// SettleDaily closes out a pool's trading day: remark NAV and record the
// day's settlement. Idempotent per pool and day; the second caller for
// the same day gets the stored record.
func (s *Service) SettleDaily(ctx context.Context, strategyID string, now time.Time) (*ledger.DailySettlement, error) {
	actor, ok := s.manager.GetPool(strategyID)
	if !ok {
		return nil, ledger.ErrPoolNotFound
	}

	day := risk.DayKey(now)
	poolID := actor.PoolID()

	claimed, err := s.marker.TryMarkSettled(ctx, poolID, day)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return s.settlements.GetDailySettlement(ctx, poolID, day)
	}

	settlement := &ledger.DailySettlement{PoolID: poolID, Day: day, SettledAt: now}
	err = actor.Do(ctx, "settle_daily", func(jobCtx context.Context, st *ledger.State) error {
		settlement.Nav = st.Pool.MarkNav(now)
		settlement.EndCapital = st.Pool.CurrentCapital()
		settlement.Trades = st.Pool.TradesToday

		if err := s.store.UpdatePool(jobCtx, st.Pool); err != nil {
			return fmt.Errorf("failed to persist pool %s after daily mark: %w", poolID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	status, err := s.governor.GetDailyStatus(ctx, poolID, settlement.EndCapital, 0, 0, now)
	if err != nil {
		return nil, err
	}
	settlement.StartCapital = status.StartOfDay
	settlement.DailyPnl = settlement.EndCapital - status.StartOfDay

	err = database.WithRetry(ctx, database.DefaultRetryConfig(), "create_daily_settlement", func(retryCtx context.Context) error {
		return s.settlements.CreateDailySettlement(retryCtx, settlement)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist daily settlement for pool %s: %w", poolID, err)
	}

	s.bus.Publish(events.EventDailySettled, poolID, map[string]interface{}{
		"day":       day,
		"daily_pnl": settlement.DailyPnl,
		"nav":       settlement.Nav,
		"trades":    settlement.Trades,
	})
	s.bus.Publish(events.EventNavMarked, poolID, map[string]interface{}{
		"nav": settlement.Nav,
		"day": day,
	})
	s.logger.Info().Str("pool_id", poolID).Str("day", day).
		Float64("daily_pnl", settlement.DailyPnl).Float64("nav", settlement.Nav).
		Msg("daily settlement complete")
	return settlement, nil
}

// fetchPrices best-effort snapshots the market for the cycle. A symbol
// with no ticker is simply absent; marking skips it.
func (s *Service) fetchPrices(ctx context.Context, symbols []string) map[string]float64 {
	prices := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		ticker, err := s.connector.GetTicker(ctx, symbol)
		if err != nil {
			s.logger.Warn().Str("symbol", symbol).Err(err).Msg("ticker unavailable")
			continue
		}
		if ticker.Price > 0 {
			prices[symbol] = ticker.Price
		}
	}
	return prices
}

func gateReason(reasons []string) string {
	for _, r := range reasons {
		switch r {
		case risk.ReasonDailyLossLimit, risk.ReasonDailyProfitTaken,
			risk.ReasonExposureLimit, risk.ReasonTradeLimit, risk.ReasonGatePaused:
			return r
		}
	}
	return ""
}
