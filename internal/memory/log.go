package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Log records decisions and learned patterns for a fund engine
type Log struct {
	store  Store
	logger zerolog.Logger
}

// NewLog creates a decision and memory log
func NewLog(store Store, logger zerolog.Logger) *Log {
	return &Log{
		store:  store,
		logger: logger.With().Str("component", "memory_log").Logger(),
	}
}

// LogDecision appends a considered decision to the immutable log and
// returns it with its assigned id.
func (l *Log) LogDecision(ctx context.Context, d *Decision) (*Decision, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if err := l.store.CreateDecision(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to log decision for %s: %w", d.Symbol, err)
	}
	return d, nil
}

// UpdateDecisionOutcome attaches the execution id, fill price, and realized
// PnL to a logged decision.
func (l *Log) UpdateDecisionOutcome(ctx context.Context, decisionID, executionID string, fillPrice, pnl float64, now time.Time) error {
	d, err := l.store.GetDecisionByID(ctx, decisionID)
	if err != nil {
		return err
	}
	d.Executed = true
	d.ExecutionID = &executionID
	d.FillPrice = &fillPrice
	d.OutcomePnl = &pnl
	d.SettledAt = &now
	if err := l.store.UpdateDecisionOutcome(ctx, d); err != nil {
		return fmt.Errorf("failed to update outcome for decision %s: %w", decisionID, err)
	}
	return nil
}

// MarkUnexecuted records that a decision was approved but the venue order
// failed. The decision stays in the log with Executed=false; the original
// signal rationale in Reason is never rewritten.
func (l *Log) MarkUnexecuted(ctx context.Context, decisionID, failureReason string) error {
	d, err := l.store.GetDecisionByID(ctx, decisionID)
	if err != nil {
		return err
	}
	d.Executed = false
	if failureReason != "" {
		d.FailureReason = &failureReason
	}
	return l.store.UpdateDecisionOutcome(ctx, d)
}

// StoreMemory appends a learned pattern
func (l *Log) StoreMemory(ctx context.Context, m *Memory) (*Memory, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := l.store.CreateMemory(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to store memory for %s: %w", m.Symbol, err)
	}
	return m, nil
}

// MemoryFilter narrows recall by symbol and/or type
type MemoryFilter struct {
	Symbol string
	Type   string
	Limit  int
}

// GetRelevantMemories returns memories ranked by importance weight, then
// access count, optionally filtered. Returned memories have their access
// count incremented, so frequently recalled lessons rank higher over time.
func (l *Log) GetRelevantMemories(ctx context.Context, poolID string, filter MemoryFilter) ([]*Memory, error) {
	memories, err := l.store.GetMemories(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memories for pool %s: %w", poolID, err)
	}

	filtered := memories[:0]
	for _, m := range memories {
		if filter.Symbol != "" && m.Symbol != filter.Symbol {
			continue
		}
		if filter.Type != "" && m.Type != filter.Type {
			continue
		}
		filtered = append(filtered, m)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].ImportanceWeight != filtered[j].ImportanceWeight {
			return filtered[i].ImportanceWeight > filtered[j].ImportanceWeight
		}
		return filtered[i].AccessCount > filtered[j].AccessCount
	})

	if filter.Limit > 0 && len(filtered) > filter.Limit {
		filtered = filtered[:filter.Limit]
	}

	if len(filtered) > 0 {
		ids := make([]string, len(filtered))
		for i, m := range filtered {
			ids[i] = m.ID
			m.AccessCount++
		}
		if err := l.store.IncrementMemoryAccess(ctx, ids); err != nil {
			// Recall still succeeded; the ranking update is best effort
			l.logger.Warn().Err(err).Int("count", len(ids)).Msg("failed to bump memory access counts")
		}
	}
	return filtered, nil
}

// LearnFromTrade derives a memory from a settled trade. The importance
// weight scales with the magnitude of the PnL percentage, capped at 2.
func (l *Log) LearnFromTrade(ctx context.Context, poolID, symbol, marketCondition string, pnl, pnlPct float64) (*Memory, error) {
	weight := math.Min(math.Abs(pnlPct)/10, 2)
	shouldRepeat := pnl > 0

	lesson := fmt.Sprintf("%s under %s lost %.2f (%.2f%%)", symbol, marketCondition, -pnl, pnlPct)
	if shouldRepeat {
		lesson = fmt.Sprintf("%s under %s earned %.2f (%.2f%%)", symbol, marketCondition, pnl, pnlPct)
	}

	return l.StoreMemory(ctx, &Memory{
		PoolID:           poolID,
		Type:             TypeTradeOutcome,
		Symbol:           symbol,
		MarketCondition:  marketCondition,
		Lesson:           lesson,
		ImportanceWeight: weight,
		ShouldRepeat:     shouldRepeat,
	})
}
