package redemption

import (
	"context"
	"errors"
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

// fakeStore satisfies ledger.Store without a database
type fakeStore struct {
	poolUpdates  int
	stakeUpdates int
}

func (f *fakeStore) CreatePool(ctx context.Context, pool *ledger.Pool) error { return nil }
func (f *fakeStore) UpdatePool(ctx context.Context, pool *ledger.Pool) error {
	f.poolUpdates++
	return nil
}
func (f *fakeStore) GetPoolByStrategy(ctx context.Context, strategyID string) (*ledger.Pool, error) {
	return nil, nil
}
func (f *fakeStore) ListPools(ctx context.Context) ([]*ledger.Pool, error)     { return nil, nil }
func (f *fakeStore) CreateStake(ctx context.Context, stake *ledger.Stake) error { return nil }
func (f *fakeStore) UpdateStake(ctx context.Context, stake *ledger.Stake) error {
	f.stakeUpdates++
	return nil
}
func (f *fakeStore) GetStakeByID(ctx context.Context, stakeID string) (*ledger.Stake, error) {
	return nil, nil
}
func (f *fakeStore) GetStakesByPool(ctx context.Context, poolID string) ([]*ledger.Stake, error) {
	return nil, nil
}
func (f *fakeStore) CreatePosition(ctx context.Context, position *ledger.Position) error { return nil }
func (f *fakeStore) UpdatePosition(ctx context.Context, position *ledger.Position) error { return nil }
func (f *fakeStore) GetOpenPositionsByPool(ctx context.Context, poolID string) ([]*ledger.Position, error) {
	return nil, nil
}

func newTestProcessor(store ledger.Store) *Processor {
	return NewProcessor(Config{EarlyPenaltyRate: 0.1, PerformanceFeeRate: 0.2}, store, zerolog.Nop())
}

// profitableState returns a pool where one 1000 deposit at NAV 1.0 has grown
// to NAV 1.1 under a 30-day lock.
func profitableState() (*ledger.State, *ledger.Stake) {
	pool := ledger.NewPool("pool-1", "strat-1", 1.0, 20, testNow)
	pool.IssueShares(1000, testNow)
	pool.ApplyRealizedPnl(100, testNow)
	pool.MarkNav(testNow)

	stake := &ledger.Stake{
		ID:            "stake-1",
		ParticipantID: "participant-1",
		PoolID:        "pool-1",
		Amount:        1000,
		Shares:        1000,
		EntryNav:      1.0,
		Status:        ledger.StakeActive,
		LockStart:     testNow,
		LockEnd:       testNow.AddDate(0, 0, 30),
		CreatedAt:     testNow,
	}
	return ledger.NewState(pool, []*ledger.Stake{stake}, nil), stake
}

// ============================================================================
// TEST: Quote computation
// ============================================================================

func TestComputeQuote_EarlyExitWithProfit(t *testing.T) {
	st, stake := profitableState()
	p := newTestProcessor(&fakeStore{})

	// Redeem halfway through the 30-day lock
	quote := p.ComputeQuote(stake, st.Pool, testNow.AddDate(0, 0, 15))

	if !floatEquals(quote.CurrentValue, 1100, 1e-9) {
		t.Errorf("Expected current value 1100, got %.2f", quote.CurrentValue)
	}
	if !floatEquals(quote.Profit, 100, 1e-9) {
		t.Errorf("Expected profit 100, got %.2f", quote.Profit)
	}
	if !quote.IsEarly {
		t.Error("Expected early exit")
	}
	if !floatEquals(quote.CompletionRate, 0.5, 1e-9) {
		t.Errorf("Expected completion rate 0.5, got %.4f", quote.CompletionRate)
	}
	if !floatEquals(quote.PenaltyAmount, 55, 1e-9) {
		t.Errorf("Expected penalty 55, got %.2f", quote.PenaltyAmount)
	}
	if !floatEquals(quote.PerformanceFee, 20, 1e-9) {
		t.Errorf("Expected performance fee 20, got %.2f", quote.PerformanceFee)
	}
	if !floatEquals(quote.FinalAmount, 1025, 1e-9) {
		t.Errorf("Expected final amount 1025, got %.2f", quote.FinalAmount)
	}
}

func TestComputeQuote_AfterLockNoPenalty(t *testing.T) {
	st, stake := profitableState()
	p := newTestProcessor(&fakeStore{})

	quote := p.ComputeQuote(stake, st.Pool, testNow.AddDate(0, 0, 31))
	if quote.IsEarly {
		t.Error("Expected mature exit")
	}
	if !floatEquals(quote.PenaltyAmount, 0, 1e-9) {
		t.Errorf("Expected no penalty, got %.2f", quote.PenaltyAmount)
	}
	if !floatEquals(quote.FinalAmount, 1080, 1e-9) {
		t.Errorf("Expected final 1080 (value minus fee), got %.2f", quote.FinalAmount)
	}
}

func TestComputeQuote_LossNoPerformanceFee(t *testing.T) {
	st, stake := profitableState()
	st.Pool.TotalPnl = -100
	st.Pool.MarkNav(testNow)
	p := newTestProcessor(&fakeStore{})

	quote := p.ComputeQuote(stake, st.Pool, testNow.AddDate(0, 0, 31))
	if !floatEquals(quote.Profit, -100, 1e-9) {
		t.Errorf("Expected loss of 100, got %.2f", quote.Profit)
	}
	if !floatEquals(quote.PerformanceFee, 0, 1e-9) {
		t.Errorf("Expected no fee on a loss, got %.2f", quote.PerformanceFee)
	}
	if !floatEquals(quote.FinalAmount, 900, 1e-9) {
		t.Errorf("Expected final 900, got %.2f", quote.FinalAmount)
	}
}

func TestComputeQuote_PauseExtendsLockClock(t *testing.T) {
	st, stake := profitableState()
	stake.PausedSeconds = 15 * 24 * 3600 // Half the lock spent paused
	p := newTestProcessor(&fakeStore{})

	// 30 calendar days elapsed, but only 15 active
	quote := p.ComputeQuote(stake, st.Pool, testNow.AddDate(0, 0, 30))
	if !floatEquals(quote.CompletionRate, 0.5, 1e-9) {
		t.Errorf("Expected completion rate 0.5 with banked pause, got %.4f", quote.CompletionRate)
	}
}

// ============================================================================
// TEST: Request and complete
// ============================================================================

func TestRequestRedemption_EarmarksPool(t *testing.T) {
	st, stake := profitableState()
	store := &fakeStore{}
	p := newTestProcessor(store)

	quote, err := p.RequestRedemption(context.Background(), st, "stake-1", "participant-1", testNow.AddDate(0, 0, 15))
	if err != nil {
		t.Fatalf("RequestRedemption failed: %v", err)
	}
	if !floatEquals(quote.FinalAmount, 1025, 1e-9) {
		t.Fatalf("Expected final 1025, got %.2f", quote.FinalAmount)
	}

	// Payout left available, investment left total capital, retained
	// penalty and fee net into pnl: 1100 - 1025 = 75 available remains.
	if !floatEquals(st.Pool.AvailableCapital, 75, 1e-9) {
		t.Errorf("Expected available 75, got %.2f", st.Pool.AvailableCapital)
	}
	if !floatEquals(st.Pool.TotalCapital, 0, 1e-9) {
		t.Errorf("Expected total capital 0, got %.2f", st.Pool.TotalCapital)
	}
	if !floatEquals(st.Pool.TotalPnl, 75, 1e-9) {
		t.Errorf("Expected total pnl 75, got %.2f", st.Pool.TotalPnl)
	}

	// Shares stay on the books until completion
	if !floatEquals(st.Pool.TotalShares, 1000, 1e-9) {
		t.Errorf("Expected shares unburned, got %.2f", st.Pool.TotalShares)
	}
	if stake.Status != ledger.StakePendingRedemption {
		t.Errorf("Expected pending_redemption, got %s", stake.Status)
	}
	if stake.RedemptionAmount == nil || !floatEquals(*stake.RedemptionAmount, 1025, 1e-9) {
		t.Error("Expected quote fixed on the stake")
	}
	if store.stakeUpdates != 1 || store.poolUpdates != 1 {
		t.Errorf("Expected stake and pool persisted once, got %d/%d", store.stakeUpdates, store.poolUpdates)
	}
}

func TestRequestRedemption_WrongParticipant(t *testing.T) {
	st, _ := profitableState()
	p := newTestProcessor(&fakeStore{})

	_, err := p.RequestRedemption(context.Background(), st, "stake-1", "someone-else", testNow)
	var authErr *ledger.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Errorf("Expected AuthorizationError, got %v", err)
	}
}

func TestRequestRedemption_InsufficientCapitalNoMutation(t *testing.T) {
	st, stake := profitableState()
	// Most of the pool's capital is locked in open positions
	st.Pool.LockMargin(1050, testNow)
	store := &fakeStore{}
	p := newTestProcessor(store)

	_, err := p.RequestRedemption(context.Background(), st, "stake-1", "participant-1", testNow.AddDate(0, 0, 15))
	var capErr *ledger.InsufficientCapitalError
	if !errors.As(err, &capErr) {
		t.Fatalf("Expected InsufficientCapitalError, got %v", err)
	}

	if stake.Status != ledger.StakeActive {
		t.Errorf("Expected stake untouched, got %s", stake.Status)
	}
	if stake.RedemptionAmount != nil {
		t.Error("Expected no quote fixed on rejection")
	}
	if !floatEquals(st.Pool.TotalCapital, 1000, 1e-9) {
		t.Errorf("Expected pool untouched, total capital %.2f", st.Pool.TotalCapital)
	}
	if store.stakeUpdates != 0 || store.poolUpdates != 0 {
		t.Error("Expected nothing persisted on rejection")
	}
}

func TestRequestRedemption_DoubleRequestRejected(t *testing.T) {
	st, _ := profitableState()
	p := newTestProcessor(&fakeStore{})

	if _, err := p.RequestRedemption(context.Background(), st, "stake-1", "participant-1", testNow.AddDate(0, 0, 15)); err != nil {
		t.Fatalf("First request failed: %v", err)
	}
	_, err := p.RequestRedemption(context.Background(), st, "stake-1", "participant-1", testNow.AddDate(0, 0, 16))
	var valErr *ledger.ValidationError
	if !errors.As(err, &valErr) {
		t.Errorf("Expected ValidationError on double request, got %v", err)
	}
}

func TestCompleteRedemption_BurnsShares(t *testing.T) {
	st, stake := profitableState()
	p := newTestProcessor(&fakeStore{})

	requestAt := testNow.AddDate(0, 0, 15)
	if _, err := p.RequestRedemption(context.Background(), st, "stake-1", "participant-1", requestAt); err != nil {
		t.Fatalf("RequestRedemption failed: %v", err)
	}

	redeemed, err := p.CompleteRedemption(context.Background(), st, "stake-1", requestAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("CompleteRedemption failed: %v", err)
	}
	if redeemed.Status != ledger.StakeRedeemed {
		t.Errorf("Expected redeemed status, got %s", redeemed.Status)
	}
	if !floatEquals(st.Pool.TotalShares, 0, 1e-9) {
		t.Errorf("Expected all shares burned, got %.2f", st.Pool.TotalShares)
	}
	if !floatEquals(st.Registry.HeldShares(), 0, 1e-9) {
		t.Errorf("Expected registry to hold nothing, got %.2f", st.Registry.HeldShares())
	}
	if stake.RedeemedAt == nil {
		t.Error("Expected redemption timestamp set")
	}

	// The retained penalty and fee stay behind for future stakers
	if !floatEquals(st.Pool.CurrentCapital(), 75, 1e-9) {
		t.Errorf("Expected 75 retained in the pool, got %.2f", st.Pool.CurrentCapital())
	}
}

func TestCompleteRedemption_RequiresPending(t *testing.T) {
	st, _ := profitableState()
	p := newTestProcessor(&fakeStore{})

	_, err := p.CompleteRedemption(context.Background(), st, "stake-1", testNow)
	var transErr *ledger.InvalidTransitionError
	if !errors.As(err, &transErr) {
		t.Errorf("Expected InvalidTransitionError for active stake, got %v", err)
	}
}
