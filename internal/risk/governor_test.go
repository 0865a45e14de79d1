package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// memorySnapshotStore is an in-memory SnapshotStore for tests
type memorySnapshotStore struct {
	mu    sync.Mutex
	snaps map[string]*DaySnapshot
	saves int
}

func newMemorySnapshotStore() *memorySnapshotStore {
	return &memorySnapshotStore{snaps: make(map[string]*DaySnapshot)}
}

func (m *memorySnapshotStore) GetDaySnapshot(ctx context.Context, poolID, day string) (*DaySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snaps[poolID+":"+day], nil
}

func (m *memorySnapshotStore) SaveDaySnapshot(ctx context.Context, snap *DaySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := snap.PoolID + ":" + snap.Day
	if _, exists := m.snaps[key]; !exists {
		m.snaps[key] = snap
		m.saves++
	}
	return nil
}

func newTestGovernor(level int, store SnapshotStore) *Governor {
	return NewGovernor(Config{RiskLevel: level, MinPositionSize: 10}, store, zerolog.Nop())
}

// ============================================================================
// TEST: Position sizing
// ============================================================================

func TestCalculatePositionSize(t *testing.T) {
	g := newTestGovernor(3, newMemorySnapshotStore())
	// Level 3: maxPosition 21%, maxExposure 62%

	testCases := []struct {
		name     string
		in       SizingInput
		expected float64
	}{
		{
			name: "per-trade cap binds at full confidence",
			in:   SizingInput{PoolCapital: 10000, AvailableCapital: 10000, OpenNotional: 0, Confidence: 100},
			// min(2100, 6200, 8000) * 1.0
			expected: 2100,
		},
		{
			name: "half confidence scales to 75 percent",
			in:   SizingInput{PoolCapital: 10000, AvailableCapital: 10000, OpenNotional: 0, Confidence: 50},
			// 2100 * (0.5 + 0.25)
			expected: 1575,
		},
		{
			name: "exposure capacity binds",
			in:   SizingInput{PoolCapital: 10000, AvailableCapital: 10000, OpenNotional: 5000, Confidence: 100},
			// capacity 6200-5000=1200 < 2100
			expected: 1200,
		},
		{
			name: "available capital buffer binds",
			in:   SizingInput{PoolCapital: 10000, AvailableCapital: 1000, OpenNotional: 0, Confidence: 100},
			// 0.8 * 1000
			expected: 800,
		},
		{
			name: "floored at minimum size",
			in:   SizingInput{PoolCapital: 100, AvailableCapital: 5, OpenNotional: 0, Confidence: 60},
			expected: 10,
		},
		{
			name: "no capacity left still floors",
			in:   SizingInput{PoolCapital: 10000, AvailableCapital: 10000, OpenNotional: 7000, Confidence: 100},
			expected: 10,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			size := g.CalculatePositionSize(tc.in)
			if !floatEquals(size, tc.expected, 1e-6) {
				t.Errorf("Expected size %.2f, got %.2f", tc.expected, size)
			}
		})
	}
}

// ============================================================================
// TEST: Daily gate
// ============================================================================

func TestGetDailyStatus_CapturesBaselineOnce(t *testing.T) {
	store := newMemorySnapshotStore()
	g := newTestGovernor(3, store)
	ctx := context.Background()

	first, err := g.GetDailyStatus(ctx, "pool-1", 10000, 0, 20, testNow)
	if err != nil {
		t.Fatalf("GetDailyStatus failed: %v", err)
	}
	if !floatEquals(first.StartOfDay, 10000, 1e-9) {
		t.Errorf("Expected baseline 10000, got %.2f", first.StartOfDay)
	}

	// A mid-day deposit must not move the baseline
	later, err := g.GetDailyStatus(ctx, "pool-1", 15000, 0, 20, testNow.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("GetDailyStatus failed: %v", err)
	}
	if !floatEquals(later.StartOfDay, 10000, 1e-9) {
		t.Errorf("Expected baseline fixed at 10000, got %.2f", later.StartOfDay)
	}
	if store.saves != 1 {
		t.Errorf("Expected exactly one snapshot save, got %d", store.saves)
	}

	// A new day captures a new baseline
	nextDay, err := g.GetDailyStatus(ctx, "pool-1", 15000, 0, 20, testNow.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("GetDailyStatus failed: %v", err)
	}
	if !floatEquals(nextDay.StartOfDay, 15000, 1e-9) {
		t.Errorf("Expected new-day baseline 15000, got %.2f", nextDay.StartOfDay)
	}
}

func TestGetDailyStatus_GateScenarios(t *testing.T) {
	// Level 3: loss gate at -3.2%, profit gate at +6.8%, exposure gate at 62%
	testCases := []struct {
		name            string
		startCapital    float64
		currentCapital  float64
		openNotional    float64
		tradesRemaining int
		canTrade        bool
		reason          string
	}{
		{
			name:            "healthy day trades",
			startCapital:    10000,
			currentCapital:  10100,
			openNotional:    1000,
			tradesRemaining: 5,
			canTrade:        true,
		},
		{
			name:            "loss beyond limit closes gate",
			startCapital:    10000,
			currentCapital:  9600,
			openNotional:    0,
			tradesRemaining: 5,
			canTrade:        false,
			reason:          ReasonDailyLossLimit,
		},
		{
			name:            "profit target closes gate",
			startCapital:    10000,
			currentCapital:  10700,
			openNotional:    0,
			tradesRemaining: 5,
			canTrade:        false,
			reason:          ReasonDailyProfitTaken,
		},
		{
			name:            "exposure limit closes gate",
			startCapital:    10000,
			currentCapital:  10000,
			openNotional:    6500,
			tradesRemaining: 5,
			canTrade:        false,
			reason:          ReasonExposureLimit,
		},
		{
			name:            "trade limit exhausted closes gate",
			startCapital:    10000,
			currentCapital:  10000,
			openNotional:    0,
			tradesRemaining: 0,
			canTrade:        false,
			reason:          ReasonTradeLimit,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemorySnapshotStore()
			g := newTestGovernor(3, store)
			ctx := context.Background()

			// Seed the baseline, then query at the scenario's capital
			if _, err := g.GetDailyStatus(ctx, "pool-1", tc.startCapital, 0, 20, testNow); err != nil {
				t.Fatalf("Baseline capture failed: %v", err)
			}
			status, err := g.GetDailyStatus(ctx, "pool-1", tc.currentCapital, tc.openNotional, tc.tradesRemaining, testNow.Add(time.Hour))
			if err != nil {
				t.Fatalf("GetDailyStatus failed: %v", err)
			}
			if status.CanTrade != tc.canTrade {
				t.Errorf("Expected CanTrade=%v, got %v (reason: %s)", tc.canTrade, status.CanTrade, status.Reason)
			}
			if tc.reason != "" && status.Reason != tc.reason {
				t.Errorf("Expected reason %q, got %q", tc.reason, status.Reason)
			}
		})
	}
}

func TestGetDailyStatus_LossExactlyAtLimit(t *testing.T) {
	// Level 5 loss limit is 4%: a loss of exactly 400 on 10000 hits the
	// boundary and must close the gate, not squeak past it.
	store := newMemorySnapshotStore()
	g := newTestGovernor(5, store)
	ctx := context.Background()

	if _, err := g.GetDailyStatus(ctx, "pool-1", 10000, 0, 20, testNow); err != nil {
		t.Fatalf("Baseline capture failed: %v", err)
	}
	status, err := g.GetDailyStatus(ctx, "pool-1", 9600, 0, 20, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetDailyStatus failed: %v", err)
	}
	if status.CanTrade {
		t.Error("Expected gate closed at exact loss boundary")
	}
	if status.Reason != ReasonDailyLossLimit {
		t.Errorf("Expected reason %q, got %q", ReasonDailyLossLimit, status.Reason)
	}
}

func TestPauseResume(t *testing.T) {
	store := newMemorySnapshotStore()
	g := newTestGovernor(3, store)
	ctx := context.Background()

	g.Pause()
	status, err := g.GetDailyStatus(ctx, "pool-1", 10000, 0, 20, testNow)
	if err != nil {
		t.Fatalf("GetDailyStatus failed: %v", err)
	}
	if status.CanTrade {
		t.Error("Expected paused gate to block trading")
	}
	if status.Reason != ReasonGatePaused {
		t.Errorf("Expected reason %q, got %q", ReasonGatePaused, status.Reason)
	}

	g.Resume()
	status, err = g.GetDailyStatus(ctx, "pool-1", 10000, 0, 20, testNow)
	if err != nil {
		t.Fatalf("GetDailyStatus failed: %v", err)
	}
	if !status.CanTrade {
		t.Errorf("Expected resumed gate to allow trading, reason: %s", status.Reason)
	}
}

// ============================================================================
// TEST: Trade assessment
// ============================================================================

func openStatus() *DailyStatus {
	return &DailyStatus{CanTrade: true, DailyPnlPct: 0, ExposurePct: 0}
}

func TestAssessTradeRisk(t *testing.T) {
	g := newTestGovernor(3, newMemorySnapshotStore())
	in := SizingInput{PoolCapital: 10000, AvailableCapital: 10000, OpenNotional: 0}

	t.Run("approves and passes size through", func(t *testing.T) {
		a := g.AssessTradeRisk(Proposal{Symbol: "BTCUSDT", Side: "BUY", Size: 1000, Leverage: 3, Confidence: 80}, openStatus(), in)
		if !a.Approved {
			t.Fatalf("Expected approval, reasons: %v", a.Reasons)
		}
		if !floatEquals(a.ApprovedSize, 1000, 1e-9) {
			t.Errorf("Expected size 1000, got %.2f", a.ApprovedSize)
		}
		if a.ApprovedLeverage != 3 {
			t.Errorf("Expected leverage 3, got %d", a.ApprovedLeverage)
		}
	})

	t.Run("rejects below minimum confidence", func(t *testing.T) {
		a := g.AssessTradeRisk(Proposal{Symbol: "BTCUSDT", Side: "BUY", Size: 1000, Leverage: 3, Confidence: 45}, openStatus(), in)
		if a.Approved {
			t.Fatal("Expected rejection for confidence below 50")
		}
	})

	t.Run("rejects when gate is closed", func(t *testing.T) {
		closed := &DailyStatus{CanTrade: false, Reason: ReasonDailyLossLimit}
		a := g.AssessTradeRisk(Proposal{Symbol: "BTCUSDT", Side: "BUY", Size: 1000, Leverage: 3, Confidence: 90}, closed, in)
		if a.Approved {
			t.Fatal("Expected rejection with gate closed")
		}
		if len(a.Reasons) == 0 || a.Reasons[0] != ReasonDailyLossLimit {
			t.Errorf("Expected gate reason first, got %v", a.Reasons)
		}
	})

	t.Run("clamps oversized proposal", func(t *testing.T) {
		// Level 3 per-trade cap is 21% of 10000
		a := g.AssessTradeRisk(Proposal{Symbol: "BTCUSDT", Side: "BUY", Size: 5000, Leverage: 20, Confidence: 90}, openStatus(), in)
		if !a.Approved {
			t.Fatalf("Expected approval after clamping, reasons: %v", a.Reasons)
		}
		if !floatEquals(a.ApprovedSize, 2100, 1e-9) {
			t.Errorf("Expected size clamped to 2100, got %.2f", a.ApprovedSize)
		}
		if a.ApprovedLeverage != 9 {
			t.Errorf("Expected leverage clamped to 9, got %d", a.ApprovedLeverage)
		}
	})

	t.Run("rejects with no exposure capacity", func(t *testing.T) {
		full := SizingInput{PoolCapital: 10000, AvailableCapital: 10000, OpenNotional: 6200}
		a := g.AssessTradeRisk(Proposal{Symbol: "BTCUSDT", Side: "BUY", Size: 1000, Leverage: 3, Confidence: 90}, openStatus(), full)
		if a.Approved {
			t.Fatal("Expected rejection with exposure capacity exhausted")
		}
	})
}

func TestRiskScore_Weighting(t *testing.T) {
	g := newTestGovernor(5, newMemorySnapshotStore())
	// Level 5: exposure cap 0.70, loss cap 0.04, max leverage 13

	status := &DailyStatus{CanTrade: true, ExposurePct: 0.35, DailyPnlPct: -0.02}
	a := g.AssessTradeRisk(Proposal{Symbol: "BTCUSDT", Side: "BUY", Size: 100, Leverage: 13, Confidence: 70}, status, SizingInput{PoolCapital: 10000, AvailableCapital: 10000})

	// 0.3*(0.35/0.70) + 0.3*(0.02/0.04) + 0.2*(30/100) + 0.2*(13/13) = 0.56
	if !floatEquals(a.RiskScore, 56, 1e-6) {
		t.Errorf("Expected risk score 56, got %.2f", a.RiskScore)
	}
}
