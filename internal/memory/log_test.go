package memory

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) < tolerance
}

// memoryStore is an in-memory Store for tests
type memoryStore struct {
	mu        sync.Mutex
	decisions map[string]*Decision
	memories  []*Memory
	bumps     [][]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{decisions: make(map[string]*Decision)}
}

func (m *memoryStore) CreateDecision(ctx context.Context, d *Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[d.ID] = d
	return nil
}

func (m *memoryStore) UpdateDecisionOutcome(ctx context.Context, d *Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[d.ID] = d
	return nil
}

func (m *memoryStore) GetDecisionByID(ctx context.Context, decisionID string) (*Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decisions[decisionID], nil
}

func (m *memoryStore) GetDecisionsByPool(ctx context.Context, poolID string, limit int) ([]*Decision, error) {
	return nil, nil
}

func (m *memoryStore) CreateMemory(ctx context.Context, mem *Memory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memories = append(m.memories, mem)
	return nil
}

func (m *memoryStore) GetMemories(ctx context.Context, poolID string) ([]*Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Memory, 0, len(m.memories))
	for _, mem := range m.memories {
		if mem.PoolID == poolID {
			out = append(out, mem)
		}
	}
	return out, nil
}

func (m *memoryStore) IncrementMemoryAccess(ctx context.Context, memoryIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bumps = append(m.bumps, memoryIDs)
	return nil
}

// ============================================================================
// TEST: Decision log
// ============================================================================

func TestLogDecision_AssignsID(t *testing.T) {
	store := newMemoryStore()
	l := NewLog(store, zerolog.Nop())

	d, err := l.LogDecision(context.Background(), &Decision{
		PoolID: "pool-1", Action: ActionOpenLong, Symbol: "BTCUSDT", Size: 500, Confidence: 80,
	})
	if err != nil {
		t.Fatalf("LogDecision failed: %v", err)
	}
	if d.ID == "" {
		t.Error("Expected an id assigned")
	}
	if d.CreatedAt.IsZero() {
		t.Error("Expected a timestamp assigned")
	}
	if d.Executed {
		t.Error("Expected new decision unexecuted")
	}
}

func TestUpdateDecisionOutcome(t *testing.T) {
	store := newMemoryStore()
	l := NewLog(store, zerolog.Nop())
	ctx := context.Background()

	d, _ := l.LogDecision(ctx, &Decision{PoolID: "pool-1", Action: ActionOpenLong, Symbol: "BTCUSDT"})

	if err := l.UpdateDecisionOutcome(ctx, d.ID, "exec-1", 50123.5, 42.0, d.CreatedAt.Add(time.Minute)); err != nil {
		t.Fatalf("UpdateDecisionOutcome failed: %v", err)
	}

	stored, _ := store.GetDecisionByID(ctx, d.ID)
	if !stored.Executed {
		t.Error("Expected decision marked executed")
	}
	if stored.FillPrice == nil || !floatEquals(*stored.FillPrice, 50123.5, 1e-9) {
		t.Error("Expected fill price attached")
	}
	if stored.OutcomePnl == nil || !floatEquals(*stored.OutcomePnl, 42.0, 1e-9) {
		t.Error("Expected outcome pnl attached")
	}
}

func TestMarkUnexecuted(t *testing.T) {
	store := newMemoryStore()
	l := NewLog(store, zerolog.Nop())
	ctx := context.Background()

	d, _ := l.LogDecision(ctx, &Decision{
		PoolID: "pool-1", Action: ActionOpenLong, Symbol: "BTCUSDT",
		Reason: "3.10% move over lookback window",
	})
	if err := l.MarkUnexecuted(ctx, d.ID, "venue order failed"); err != nil {
		t.Fatalf("MarkUnexecuted failed: %v", err)
	}

	stored, _ := store.GetDecisionByID(ctx, d.ID)
	if stored.Executed {
		t.Error("Expected decision unexecuted")
	}
	if stored.FailureReason == nil || *stored.FailureReason != "venue order failed" {
		t.Errorf("Expected failure reason recorded, got %v", stored.FailureReason)
	}
	// The signal rationale survives the failure record
	if stored.Reason != "3.10% move over lookback window" {
		t.Errorf("Expected original reason preserved, got %q", stored.Reason)
	}
}

// ============================================================================
// TEST: Memory recall
// ============================================================================

func seedMemories(t *testing.T, l *Log) {
	t.Helper()
	ctx := context.Background()
	seeds := []*Memory{
		{PoolID: "pool-1", Type: TypeTradeOutcome, Symbol: "BTCUSDT", Lesson: "btc high", ImportanceWeight: 1.5},
		{PoolID: "pool-1", Type: TypeTradeOutcome, Symbol: "ETHUSDT", Lesson: "eth mid", ImportanceWeight: 1.0},
		{PoolID: "pool-1", Type: TypeMarketNote, Symbol: "BTCUSDT", Lesson: "btc note", ImportanceWeight: 0.5},
		{PoolID: "pool-2", Type: TypeTradeOutcome, Symbol: "BTCUSDT", Lesson: "other pool", ImportanceWeight: 2.0},
	}
	for _, s := range seeds {
		if _, err := l.StoreMemory(ctx, s); err != nil {
			t.Fatalf("StoreMemory failed: %v", err)
		}
	}
}

func TestGetRelevantMemories_RanksAndFilters(t *testing.T) {
	store := newMemoryStore()
	l := NewLog(store, zerolog.Nop())
	seedMemories(t, l)
	ctx := context.Background()

	all, err := l.GetRelevantMemories(ctx, "pool-1", MemoryFilter{})
	if err != nil {
		t.Fatalf("GetRelevantMemories failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 memories for pool-1, got %d", len(all))
	}
	if all[0].Lesson != "btc high" {
		t.Errorf("Expected highest weight first, got %q", all[0].Lesson)
	}

	btc, err := l.GetRelevantMemories(ctx, "pool-1", MemoryFilter{Symbol: "BTCUSDT", Type: TypeTradeOutcome})
	if err != nil {
		t.Fatalf("GetRelevantMemories failed: %v", err)
	}
	if len(btc) != 1 || btc[0].Lesson != "btc high" {
		t.Errorf("Expected single filtered match, got %d", len(btc))
	}

	limited, err := l.GetRelevantMemories(ctx, "pool-1", MemoryFilter{Limit: 2})
	if err != nil {
		t.Fatalf("GetRelevantMemories failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected limit of 2 applied, got %d", len(limited))
	}
}

func TestGetRelevantMemories_BumpsAccessCounts(t *testing.T) {
	store := newMemoryStore()
	l := NewLog(store, zerolog.Nop())
	seedMemories(t, l)
	ctx := context.Background()

	recalled, err := l.GetRelevantMemories(ctx, "pool-1", MemoryFilter{Limit: 1})
	if err != nil {
		t.Fatalf("GetRelevantMemories failed: %v", err)
	}
	if recalled[0].AccessCount != 1 {
		t.Errorf("Expected access count bumped, got %d", recalled[0].AccessCount)
	}
	if len(store.bumps) != 1 || len(store.bumps[0]) != 1 {
		t.Errorf("Expected one bump of one id, got %v", store.bumps)
	}
}

// ============================================================================
// TEST: Learning from trades
// ============================================================================

func TestLearnFromTrade(t *testing.T) {
	testCases := []struct {
		name         string
		pnl          float64
		pnlPct       float64
		weight       float64
		shouldRepeat bool
		wants        string
	}{
		{"profitable trade", 150, 5, 0.5, true, "earned"},
		{"losing trade", -80, -8, 0.8, false, "lost"},
		{"weight capped at two", 900, 45, 2.0, true, "earned"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemoryStore()
			l := NewLog(store, zerolog.Nop())

			m, err := l.LearnFromTrade(context.Background(), "pool-1", "BTCUSDT", "trending", tc.pnl, tc.pnlPct)
			if err != nil {
				t.Fatalf("LearnFromTrade failed: %v", err)
			}
			if !floatEquals(m.ImportanceWeight, tc.weight, 1e-9) {
				t.Errorf("Expected weight %.2f, got %.2f", tc.weight, m.ImportanceWeight)
			}
			if m.ShouldRepeat != tc.shouldRepeat {
				t.Errorf("Expected shouldRepeat=%v", tc.shouldRepeat)
			}
			if !strings.Contains(m.Lesson, tc.wants) {
				t.Errorf("Expected lesson to mention %q, got %q", tc.wants, m.Lesson)
			}
			if m.Type != TypeTradeOutcome {
				t.Errorf("Expected trade outcome type, got %s", m.Type)
			}
		})
	}
}
