package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fundpool-engine/internal/memory"
)

// ============================================================================
// DECISIONS
// ============================================================================

// CreateDecision appends a decision to the immutable log
func (r *Repository) CreateDecision(ctx context.Context, d *memory.Decision) error {
	query := `
		INSERT INTO decisions (id, pool_id, action, symbol, size, leverage, confidence,
		                       risk_score, reason, executed, execution_id, fill_price,
		                       outcome_pnl, settled_at, failure_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		d.ID, d.PoolID, d.Action, d.Symbol, d.Size, d.Leverage, d.Confidence,
		d.RiskScore, d.Reason, d.Executed, d.ExecutionID, d.FillPrice,
		d.OutcomePnl, d.SettledAt, d.FailureReason, d.CreatedAt,
	)
	return err
}

// UpdateDecisionOutcome attaches outcome fields to a logged decision.
// Only the outcome columns are writable; the decision itself is immutable.
func (r *Repository) UpdateDecisionOutcome(ctx context.Context, d *memory.Decision) error {
	query := `
		UPDATE decisions
		SET executed = $2, execution_id = $3, fill_price = $4, outcome_pnl = $5,
		    settled_at = $6, failure_reason = $7
		WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query,
		d.ID, d.Executed, d.ExecutionID, d.FillPrice, d.OutcomePnl, d.SettledAt, d.FailureReason,
	)
	return err
}

// GetDecisionByID retrieves a decision by id
func (r *Repository) GetDecisionByID(ctx context.Context, decisionID string) (*memory.Decision, error) {
	d, err := r.scanDecision(r.db.Pool.QueryRow(ctx, selectDecision+` WHERE id = $1`, decisionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("decision %s not found", decisionID)
	}
	return d, err
}

// GetDecisionsByPool retrieves a pool's decisions, most recent first
func (r *Repository) GetDecisionsByPool(ctx context.Context, poolID string, limit int) ([]*memory.Decision, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Pool.Query(ctx, selectDecision+` WHERE pool_id = $1 ORDER BY created_at DESC LIMIT $2`, poolID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []*memory.Decision
	for rows.Next() {
		d, err := r.scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

const selectDecision = `
	SELECT id, pool_id, action, symbol, size, leverage, confidence, risk_score,
	       reason, executed, execution_id, fill_price, outcome_pnl, settled_at,
	       failure_reason, created_at
	FROM decisions`

func (r *Repository) scanDecision(row rowScanner) (*memory.Decision, error) {
	d := &memory.Decision{}
	var reason *string
	err := row.Scan(
		&d.ID, &d.PoolID, &d.Action, &d.Symbol, &d.Size, &d.Leverage, &d.Confidence, &d.RiskScore,
		&reason, &d.Executed, &d.ExecutionID, &d.FillPrice, &d.OutcomePnl, &d.SettledAt,
		&d.FailureReason, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if reason != nil {
		d.Reason = *reason
	}
	return d, nil
}

// ============================================================================
// MEMORIES
// ============================================================================

// CreateMemory appends a learned pattern
func (r *Repository) CreateMemory(ctx context.Context, m *memory.Memory) error {
	query := `
		INSERT INTO memories (id, pool_id, type, symbol, market_condition, lesson,
		                      importance_weight, should_repeat, access_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		m.ID, m.PoolID, m.Type, m.Symbol, m.MarketCondition, m.Lesson,
		m.ImportanceWeight, m.ShouldRepeat, m.AccessCount, m.CreatedAt,
	)
	return err
}

// GetMemories retrieves all memories of a pool
func (r *Repository) GetMemories(ctx context.Context, poolID string) ([]*memory.Memory, error) {
	query := `
		SELECT id, pool_id, type, symbol, market_condition, lesson,
		       importance_weight, should_repeat, access_count, created_at
		FROM memories
		WHERE pool_id = $1
	`
	rows, err := r.db.Pool.Query(ctx, query, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []*memory.Memory
	for rows.Next() {
		m := &memory.Memory{}
		var condition *string
		err := rows.Scan(
			&m.ID, &m.PoolID, &m.Type, &m.Symbol, &condition, &m.Lesson,
			&m.ImportanceWeight, &m.ShouldRepeat, &m.AccessCount, &m.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if condition != nil {
			m.MarketCondition = *condition
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// IncrementMemoryAccess bumps access counts for recalled memories
func (r *Repository) IncrementMemoryAccess(ctx context.Context, memoryIDs []string) error {
	if len(memoryIDs) == 0 {
		return nil
	}
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE memories SET access_count = access_count + 1 WHERE id = ANY($1)`, memoryIDs)
	return err
}
