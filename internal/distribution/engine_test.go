package distribution

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fundpool-engine/internal/ledger"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) < tolerance
}

// fakeLedgerStore records persistence calls without a database
type fakeLedgerStore struct {
	poolUpdates  int
	stakeUpdates int
}

func (f *fakeLedgerStore) CreatePool(ctx context.Context, pool *ledger.Pool) error   { return nil }
func (f *fakeLedgerStore) UpdatePool(ctx context.Context, pool *ledger.Pool) error {
	f.poolUpdates++
	return nil
}
func (f *fakeLedgerStore) GetPoolByStrategy(ctx context.Context, strategyID string) (*ledger.Pool, error) {
	return nil, nil
}
func (f *fakeLedgerStore) ListPools(ctx context.Context) ([]*ledger.Pool, error)    { return nil, nil }
func (f *fakeLedgerStore) CreateStake(ctx context.Context, stake *ledger.Stake) error { return nil }
func (f *fakeLedgerStore) UpdateStake(ctx context.Context, stake *ledger.Stake) error {
	f.stakeUpdates++
	return nil
}
func (f *fakeLedgerStore) GetStakeByID(ctx context.Context, stakeID string) (*ledger.Stake, error) {
	return nil, nil
}
func (f *fakeLedgerStore) GetStakesByPool(ctx context.Context, poolID string) ([]*ledger.Stake, error) {
	return nil, nil
}
func (f *fakeLedgerStore) CreatePosition(ctx context.Context, position *ledger.Position) error {
	return nil
}
func (f *fakeLedgerStore) UpdatePosition(ctx context.Context, position *ledger.Position) error {
	return nil
}
func (f *fakeLedgerStore) GetOpenPositionsByPool(ctx context.Context, poolID string) ([]*ledger.Position, error) {
	return nil, nil
}

// fakeAllocStore collects allocations in memory
type fakeAllocStore struct {
	allocations []*Allocation
}

func (f *fakeAllocStore) CreateAllocations(ctx context.Context, allocations []*Allocation) error {
	f.allocations = append(f.allocations, allocations...)
	return nil
}
func (f *fakeAllocStore) GetAllocationsByStake(ctx context.Context, stakeID string) ([]*Allocation, error) {
	return nil, nil
}
func (f *fakeAllocStore) GetAllocationsByPosition(ctx context.Context, positionID string) ([]*Allocation, error) {
	return nil, nil
}

func newTestStake(id string, shares float64) *ledger.Stake {
	return &ledger.Stake{
		ID:            id,
		ParticipantID: "participant-" + id,
		PoolID:        "pool-1",
		Amount:        shares,
		Shares:        shares,
		EntryNav:      1.0,
		Status:        ledger.StakeActive,
		LockStart:     testNow,
		LockEnd:       testNow.AddDate(0, 0, 30),
	}
}

func settleState(shares ...float64) (*ledger.State, *ledger.Pool) {
	pool := ledger.NewPool("pool-1", "strat-1", 1.0, 20, testNow)
	stakes := make([]*ledger.Stake, 0, len(shares))
	for i, s := range shares {
		id := string(rune('a' + i))
		pool.IssueShares(s, testNow)
		stakes = append(stakes, newTestStake(id, s))
	}
	return ledger.NewState(pool, stakes, nil), pool
}

// ============================================================================
// TEST: Pro-rata settlement
// ============================================================================

func TestSettle_ProRataSplit(t *testing.T) {
	st, pool := settleState(600, 400)
	store := &fakeLedgerStore{}
	allocs := &fakeAllocStore{}
	engine := NewEngine(store, allocs, zerolog.Nop())

	position := &ledger.Position{ID: "pos-1", DecisionID: "dec-1", PoolID: "pool-1", MarginUsed: 100}
	pool.LockMargin(100, testNow)

	result, err := engine.Settle(context.Background(), st, position, 100, 10, testNow)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("Expected 2 allocations, got %d", len(result))
	}

	// 60/40 split of both pnl and fee
	if !floatEquals(result[0].Pnl, 60, 1e-8) || !floatEquals(result[0].Fee, 6, 1e-8) {
		t.Errorf("Expected 60/6 for majority stake, got %.9f/%.9f", result[0].Pnl, result[0].Fee)
	}
	if !floatEquals(result[1].Pnl, 40, 1e-8) || !floatEquals(result[1].Fee, 4, 1e-8) {
		t.Errorf("Expected 40/4 for minority stake, got %.9f/%.9f", result[1].Pnl, result[1].Fee)
	}

	// Pool absorbed net pnl and released margin
	if !floatEquals(pool.TotalPnl, 90, 1e-9) {
		t.Errorf("Expected pool TotalPnl 90, got %.2f", pool.TotalPnl)
	}
	if !floatEquals(pool.AvailableCapital, 1090, 1e-9) {
		t.Errorf("Expected available 1090, got %.2f", pool.AvailableCapital)
	}
	if !floatEquals(pool.LockedCapital, 0, 1e-9) {
		t.Errorf("Expected locked 0, got %.2f", pool.LockedCapital)
	}
	if !floatEquals(pool.CurrentNav, 1.09, 1e-9) {
		t.Errorf("Expected NAV 1.09, got %.6f", pool.CurrentNav)
	}

	// Stakes credited net of fees
	a, _ := st.Registry.Get("a")
	if !floatEquals(a.RealizedPnl, 54, 1e-8) {
		t.Errorf("Expected stake a realized 54, got %.9f", a.RealizedPnl)
	}
	if !floatEquals(a.FeesPaid, 6, 1e-8) {
		t.Errorf("Expected stake a fees 6, got %.9f", a.FeesPaid)
	}

	if store.poolUpdates != 1 || store.stakeUpdates != 2 {
		t.Errorf("Expected 1 pool and 2 stake persists, got %d/%d", store.poolUpdates, store.stakeUpdates)
	}
	if len(allocs.allocations) != 2 {
		t.Errorf("Expected 2 persisted allocations, got %d", len(allocs.allocations))
	}
}

func TestSettle_LossDistributes(t *testing.T) {
	st, pool := settleState(500, 500)
	engine := NewEngine(&fakeLedgerStore{}, &fakeAllocStore{}, zerolog.Nop())

	position := &ledger.Position{ID: "pos-1", PoolID: "pool-1", MarginUsed: 200, UnrealizedPnl: -30}
	pool.LockMargin(200, testNow)
	pool.UnrealizedPnl = -30

	result, err := engine.Settle(context.Background(), st, position, -50, 5, testNow)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}

	if !floatEquals(result[0].Pnl, -25, 1e-8) || !floatEquals(result[1].Pnl, -25, 1e-8) {
		t.Errorf("Expected -25 each, got %.9f/%.9f", result[0].Pnl, result[1].Pnl)
	}
	// Unrealized backed out before the realized amount lands
	if !floatEquals(pool.UnrealizedPnl, 0, 1e-9) {
		t.Errorf("Expected unrealized 0 after close, got %.6f", pool.UnrealizedPnl)
	}
	if !floatEquals(pool.TotalPnl, -55, 1e-9) {
		t.Errorf("Expected TotalPnl -55, got %.2f", pool.TotalPnl)
	}
}

func TestSettle_EmptyRegistryNoAllocations(t *testing.T) {
	pool := ledger.NewPool("pool-1", "strat-1", 1.0, 20, testNow)
	st := ledger.NewState(pool, nil, nil)
	allocs := &fakeAllocStore{}
	engine := NewEngine(&fakeLedgerStore{}, allocs, zerolog.Nop())

	result, err := engine.Settle(context.Background(), st, &ledger.Position{ID: "pos-1"}, 100, 0, testNow)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("Expected no allocations for empty registry, got %d", len(result))
	}
	if len(allocs.allocations) != 0 {
		t.Errorf("Expected nothing persisted, got %d", len(allocs.allocations))
	}
}

// ============================================================================
// TEST: Largest-remainder conservation
// ============================================================================

func TestAllocate_SumsExactlyToAmount(t *testing.T) {
	testCases := []struct {
		name   string
		shares []float64
		pnl    float64
	}{
		{"three-way uneven", []float64{333.33, 333.33, 333.34}, 100},
		{"repeating fraction", []float64{1, 1, 1}, 1},
		{"tiny amount", []float64{7, 11, 13}, 0.000000123},
		{"negative pnl", []float64{250, 750}, -99.99},
		{"many stakes", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 12.3456789},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			st, _ := settleState(tc.shares...)
			engine := NewEngine(&fakeLedgerStore{}, &fakeAllocStore{}, zerolog.Nop())
			snapshot := st.Registry.Snapshot(st.Pool, testNow)

			allocations := engine.allocate(snapshot, &ledger.Position{ID: "pos-1"}, tc.pnl, 0, testNow)

			var sum float64
			for _, a := range allocations {
				sum += a.Pnl
			}
			quantized := math.Round(tc.pnl/allocationUnit) * allocationUnit
			if math.Abs(sum-quantized) > allocationUnit/2 {
				t.Errorf("Allocated sum %.12f differs from %.12f", sum, quantized)
			}
		})
	}
}

func TestAllocate_SharePctRecorded(t *testing.T) {
	st, _ := settleState(750, 250)
	engine := NewEngine(&fakeLedgerStore{}, &fakeAllocStore{}, zerolog.Nop())
	snapshot := st.Registry.Snapshot(st.Pool, testNow)

	allocations := engine.allocate(snapshot, &ledger.Position{ID: "pos-1", DecisionID: "dec-9"}, 10, 1, testNow)
	if !floatEquals(allocations[0].SharePct, 0.75, 1e-9) {
		t.Errorf("Expected 75%% share, got %.4f", allocations[0].SharePct)
	}
	if allocations[0].DecisionID != "dec-9" {
		t.Errorf("Expected decision id carried onto allocation, got %q", allocations[0].DecisionID)
	}
}
