// Package database: redis-backed daily trading state.
//
// The DailyStateStore holds the small pieces of state that must survive a
// restart but do not belong in postgres: the start-of-day capital snapshot,
// the per-decision fill markers used for at-least-once fill deduplication,
// and the per-day settlement markers that make SettleDaily idempotent.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fundpool-engine/config"
	"fundpool-engine/internal/risk"
)

// Key prefixes for daily state entries
const (
	prefixDaySnapshot = "fund:day_snapshot:%s:%s" // pool id, day
	prefixFillApplied = "fund:fill:%s"            // decision id
	prefixDaySettled  = "fund:settled:%s:%s"      // pool id, day
)

// TTLs. Snapshots and settlement markers are only meaningful for the
// current day; 72h covers timezone drift and late reconciliation runs.
// Fill markers live for a week so a replayed venue callback long after
// the trade still dedupes.
const (
	daySnapshotTTL = 72 * time.Hour
	fillMarkerTTL  = 7 * 24 * time.Hour
)

// DailyStateStore implements risk.SnapshotStore and the execution
// coordinator's FillDeduper on top of redis.
type DailyStateStore struct {
	client *redis.Client
}

// NewDailyStateStore connects to redis and verifies connectivity.
func NewDailyStateStore(cfg config.RedisConfig) (*DailyStateStore, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &DailyStateStore{client: client}, nil
}

// Close releases the redis connection pool.
func (s *DailyStateStore) Close() error {
	return s.client.Close()
}

// GetDaySnapshot returns the persisted start-of-day snapshot, or nil when
// none has been captured for the given pool and day.
func (s *DailyStateStore) GetDaySnapshot(ctx context.Context, poolID, day string) (*risk.DaySnapshot, error) {
	key := fmt.Sprintf(prefixDaySnapshot, poolID, day)
	data, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var snap risk.DaySnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("corrupt day snapshot for %s: %w", key, err)
	}
	return &snap, nil
}

// SaveDaySnapshot stores a start-of-day snapshot. SetNX keeps the first
// capture authoritative if two processes race at midnight.
func (s *DailyStateStore) SaveDaySnapshot(ctx context.Context, snap *risk.DaySnapshot) error {
	key := fmt.Sprintf(prefixDaySnapshot, snap.PoolID, snap.Day)
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal day snapshot: %w", err)
	}
	if err := s.client.SetNX(ctx, key, data, daySnapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// MarkFillApplied records that a fill for the given decision has been
// applied. Returns true exactly once per decision id; a second call for
// the same id returns false so replayed fills are dropped.
func (s *DailyStateStore) MarkFillApplied(ctx context.Context, decisionID string) (bool, error) {
	key := fmt.Sprintf(prefixFillApplied, decisionID)
	first, err := s.client.SetNX(ctx, key, "1", fillMarkerTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return first, nil
}

// TryMarkSettled claims the daily settlement for a pool and day. Returns
// true for the caller that should run the settlement; false when it has
// already run (or is running) for that day.
func (s *DailyStateStore) TryMarkSettled(ctx context.Context, poolID, day string) (bool, error) {
	key := fmt.Sprintf(prefixDaySettled, poolID, day)
	claimed, err := s.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), daySnapshotTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return claimed, nil
}
