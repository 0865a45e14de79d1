package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ManagerConfig holds pool creation defaults
type ManagerConfig struct {
	InitialNav      float64
	DailyTradeLimit int
}

// Manager owns one actor per pool, keyed by strategy id. Adding, finding,
// and shutting down actors is thread-safe; everything inside an actor is
// serialized by the actor itself.
type Manager struct {
	store  Store
	config ManagerConfig
	logger zerolog.Logger

	mu     sync.Mutex
	actors map[string]*Actor // strategyID -> actor
}

// NewManager creates a pool actor manager
func NewManager(store Store, config ManagerConfig, logger zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		config: config,
		logger: logger.With().Str("component", "pool_manager").Logger(),
		actors: make(map[string]*Actor),
	}
}

// GetOrCreatePool returns the actor for a strategy's pool, creating and
// persisting the pool on first use. Idempotent: a second call for the same
// strategy returns the same actor.
func (m *Manager) GetOrCreatePool(ctx context.Context, strategyID string) (*Actor, error) {
	if strategyID == "" {
		return nil, &ValidationError{Field: "strategy_id", Reason: "must not be empty"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if actor, ok := m.actors[strategyID]; ok {
		return actor, nil
	}

	state, err := m.loadOrCreateState(ctx, strategyID)
	if err != nil {
		return nil, err
	}

	actor := NewActor(state, m.logger)
	m.actors[strategyID] = actor
	m.logger.Info().Str("strategy_id", strategyID).Str("pool_id", state.Pool.ID).
		Float64("nav", state.Pool.CurrentNav).Int("stakes", state.Registry.Len()).
		Msg("pool actor started")
	return actor, nil
}

// GetPool returns the actor for a strategy if it is loaded
func (m *Manager) GetPool(strategyID string) (*Actor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	actor, ok := m.actors[strategyID]
	return actor, ok
}

// FindStakeActor locates the actor owning a stake by scanning loaded pools
func (m *Manager) FindStakeActor(ctx context.Context, stakeID string) (*Actor, error) {
	stake, err := m.store.GetStakeByID(ctx, stakeID)
	if err != nil {
		return nil, err
	}
	pool, err := m.poolByID(stake.PoolID)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// Actors returns all loaded actors
func (m *Manager) Actors() []*Actor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Actor, 0, len(m.actors))
	for _, a := range m.actors {
		out = append(out, a)
	}
	return out
}

// Shutdown stops every actor and waits for in-flight jobs to finish
func (m *Manager) Shutdown() {
	m.mu.Lock()
	actors := make([]*Actor, 0, len(m.actors))
	for _, a := range m.actors {
		actors = append(actors, a)
	}
	m.actors = make(map[string]*Actor)
	m.mu.Unlock()

	for _, a := range actors {
		a.Stop()
	}
	m.logger.Info().Int("count", len(actors)).Msg("pool actors stopped")
}

func (m *Manager) loadOrCreateState(ctx context.Context, strategyID string) (*State, error) {
	pool, err := m.store.GetPoolByStrategy(ctx, strategyID)
	if errors.Is(err, ErrPoolNotFound) {
		now := time.Now().UTC()
		pool = NewPool(uuid.NewString(), strategyID, m.config.InitialNav, m.config.DailyTradeLimit, now)
		if err := m.store.CreatePool(ctx, pool); err != nil {
			return nil, fmt.Errorf("failed to create pool for strategy %s: %w", strategyID, err)
		}
		return NewState(pool, nil, nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pool for strategy %s: %w", strategyID, err)
	}

	stakes, err := m.store.GetStakesByPool(ctx, pool.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stakes for pool %s: %w", pool.ID, err)
	}
	positions, err := m.store.GetOpenPositionsByPool(ctx, pool.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions for pool %s: %w", pool.ID, err)
	}
	return NewState(pool, stakes, positions), nil
}

func (m *Manager) poolByID(poolID string) (*Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.actors {
		if a.PoolID() == poolID {
			return a, nil
		}
	}
	return nil, ErrPoolNotFound
}
