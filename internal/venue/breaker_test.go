package venue

import (
	"context"
	"errors"
	"testing"
	"time"
)

// ============================================================================
// Helpers
// ============================================================================

func newGuardedPaper(t *testing.T, maxFailures int, cooldown time.Duration) (*GuardedConnector, *PaperVenue) {
	t.Helper()
	paper := NewPaperVenue(PaperConfig{
		Slippage: 0.001,
		Seed:     42,
		Prices:   map[string]float64{"BTCUSDT": 50000},
	})
	guarded := NewGuardedConnector(paper, BreakerConfig{
		MaxConsecutiveFailures: maxFailures,
		Cooldown:               cooldown,
	})
	return guarded, paper
}

func buyOrder() OrderRequest {
	return OrderRequest{Symbol: "BTCUSDT", Side: "BUY", Quantity: 0.1}
}

// ============================================================================
// State machine
// ============================================================================

func TestGuardedConnector_OpensAfterConsecutiveFailures(t *testing.T) {
	guarded, paper := newGuardedPaper(t, 3, time.Hour)

	for i := 0; i < 3; i++ {
		paper.FailNext(errors.New("venue timeout"))
		if _, err := guarded.PlaceOrder(context.Background(), buyOrder()); err == nil {
			t.Fatalf("failure %d: expected error", i+1)
		}
	}

	if guarded.State() != StateOpen {
		t.Errorf("expected open after 3 failures, got %s", guarded.State())
	}

	_, err := guarded.PlaceOrder(context.Background(), buyOrder())
	var openErr *ErrBreakerOpen
	if !errors.As(err, &openErr) {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
	if openErr.Remaining <= 0 {
		t.Errorf("expected positive remaining cooldown, got %s", openErr.Remaining)
	}
}

func TestGuardedConnector_SuccessResetsFailureCount(t *testing.T) {
	guarded, paper := newGuardedPaper(t, 3, time.Hour)

	paper.FailNext(errors.New("venue timeout"))
	if _, err := guarded.PlaceOrder(context.Background(), buyOrder()); err == nil {
		t.Fatal("expected injected failure")
	}
	paper.FailNext(errors.New("venue timeout"))
	if _, err := guarded.PlaceOrder(context.Background(), buyOrder()); err == nil {
		t.Fatal("expected injected failure")
	}

	// A success between failures resets the streak
	if _, err := guarded.PlaceOrder(context.Background(), buyOrder()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	paper.FailNext(errors.New("venue timeout"))
	guarded.PlaceOrder(context.Background(), buyOrder())
	paper.FailNext(errors.New("venue timeout"))
	guarded.PlaceOrder(context.Background(), buyOrder())

	if guarded.State() != StateClosed {
		t.Errorf("expected closed after streak reset, got %s", guarded.State())
	}
}

func TestGuardedConnector_HalfOpenProbeCloses(t *testing.T) {
	guarded, paper := newGuardedPaper(t, 1, time.Millisecond)

	paper.FailNext(errors.New("venue down"))
	guarded.PlaceOrder(context.Background(), buyOrder())
	if guarded.State() != StateOpen {
		t.Fatalf("expected open, got %s", guarded.State())
	}

	time.Sleep(5 * time.Millisecond)

	// Cooldown elapsed: the probe passes through and succeeds
	fill, err := guarded.PlaceOrder(context.Background(), buyOrder())
	if err != nil {
		t.Fatalf("probe order failed: %v", err)
	}
	if fill == nil {
		t.Fatal("expected fill from probe order")
	}
	if guarded.State() != StateClosed {
		t.Errorf("expected closed after successful probe, got %s", guarded.State())
	}
}

func TestGuardedConnector_FailedProbeReopens(t *testing.T) {
	guarded, paper := newGuardedPaper(t, 1, time.Millisecond)

	paper.FailNext(errors.New("venue down"))
	guarded.PlaceOrder(context.Background(), buyOrder())

	time.Sleep(5 * time.Millisecond)

	paper.FailNext(errors.New("still down"))
	if _, err := guarded.PlaceOrder(context.Background(), buyOrder()); err == nil {
		t.Fatal("expected probe to fail")
	}
	if guarded.State() != StateOpen {
		t.Errorf("expected reopen after failed probe, got %s", guarded.State())
	}

	// Fresh cooldown applies
	_, err := guarded.PlaceOrder(context.Background(), buyOrder())
	var openErr *ErrBreakerOpen
	if !errors.As(err, &openErr) {
		t.Fatalf("expected ErrBreakerOpen right after reopen, got %v", err)
	}
}

func TestGuardedConnector_TickerBypassesBreaker(t *testing.T) {
	guarded, paper := newGuardedPaper(t, 1, time.Hour)

	paper.FailNext(errors.New("venue down"))
	guarded.PlaceOrder(context.Background(), buyOrder())
	if guarded.State() != StateOpen {
		t.Fatalf("expected open, got %s", guarded.State())
	}

	ticker, err := guarded.GetTicker(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("ticker should bypass open breaker: %v", err)
	}
	if ticker.Price <= 0 {
		t.Errorf("expected positive price, got %f", ticker.Price)
	}
}

func TestGuardedConnector_ForceReset(t *testing.T) {
	guarded, paper := newGuardedPaper(t, 1, time.Hour)

	paper.FailNext(errors.New("venue down"))
	guarded.PlaceOrder(context.Background(), buyOrder())
	if guarded.State() != StateOpen {
		t.Fatalf("expected open, got %s", guarded.State())
	}

	guarded.ForceReset()
	if guarded.State() != StateClosed {
		t.Errorf("expected closed after reset, got %s", guarded.State())
	}
	if _, err := guarded.PlaceOrder(context.Background(), buyOrder()); err != nil {
		t.Errorf("expected order to pass after reset: %v", err)
	}
}
