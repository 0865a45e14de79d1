// Package scheduler drives the engine's periodic work: trading cycles for
// every tracked strategy and the once-per-day settlement at the UTC day
// boundary.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"fundpool-engine/internal/fund"
	"fundpool-engine/internal/risk"
)

// Config holds scheduler configuration
type Config struct {
	// CycleInterval is how often each strategy runs a trading cycle
	CycleInterval time.Duration

	// MaxConcurrent is the maximum number of strategies cycled at once
	MaxConcurrent int

	// CycleTimeout bounds one strategy's cycle
	CycleTimeout time.Duration
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() Config {
	return Config{
		CycleInterval: 1 * time.Minute,
		MaxConcurrent: 5,
		CycleTimeout:  2 * time.Minute,
	}
}

// Strategy binds a strategy id to the symbols it trades
type Strategy struct {
	ID      string
	Symbols []string
}

// Scheduler runs trading cycles and daily settlements on a timer
type Scheduler struct {
	service    *fund.Service
	config     Config
	strategies []Strategy

	mu       sync.Mutex
	running  bool
	lastDay  string
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler for the given strategies
func NewScheduler(service *fund.Service, config Config, strategies []Strategy) *Scheduler {
	if config.CycleInterval <= 0 {
		config.CycleInterval = DefaultConfig().CycleInterval
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if config.CycleTimeout <= 0 {
		config.CycleTimeout = DefaultConfig().CycleTimeout
	}
	return &Scheduler{
		service:    service,
		config:     config,
		strategies: strategies,
		stopChan:   make(chan struct{}),
	}
}

// Start starts the scheduler loop
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.lastDay = risk.DayKey(time.Now())
	s.mu.Unlock()

	log.Printf("[SCHEDULER] Starting with %d strategies, interval %v", len(s.strategies), s.config.CycleInterval)

	s.wg.Add(1)
	go s.run()
	return nil
}

// Stop stops the scheduler and waits for in-flight cycles
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not running")
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	log.Println("[SCHEDULER] Stopped")
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CycleInterval)
	defer ticker.Stop()

	s.runCycles()

	for {
		select {
		case <-ticker.C:
			s.checkDayBoundary()
			s.runCycles()
		case <-s.stopChan:
			log.Println("[SCHEDULER] Received stop signal")
			return
		}
	}
}

// runCycles fans trading cycles out across strategies with bounded
// concurrency.
func (s *Scheduler) runCycles() {
	semaphore := make(chan struct{}, s.config.MaxConcurrent)
	var wg sync.WaitGroup

	for _, strategy := range s.strategies {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(strat Strategy) {
			defer wg.Done()
			defer func() { <-semaphore }()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[SCHEDULER] Panic recovered in cycle for strategy %s: %v", strat.ID, r)
				}
			}()

			ctx, cancel := context.WithTimeout(context.Background(), s.config.CycleTimeout)
			defer cancel()

			if _, err := s.service.RunTradingCycle(ctx, strat.ID, strat.Symbols); err != nil {
				log.Printf("[SCHEDULER] Cycle failed for strategy %s: %v", strat.ID, err)
			}
		}(strategy)
	}
	wg.Wait()
}

// checkDayBoundary settles the previous day for every strategy once the
// UTC day rolls over. SettleDaily is idempotent, so a crash between
// strategies is safe to rerun.
func (s *Scheduler) checkDayBoundary() {
	now := time.Now().UTC()
	day := risk.DayKey(now)

	s.mu.Lock()
	if day == s.lastDay {
		s.mu.Unlock()
		return
	}
	s.lastDay = day
	s.mu.Unlock()

	// Settle the elapsed day, stamped at its final instant. Passing now
	// would settle the new, empty day instead.
	prevEnd := now.Truncate(24 * time.Hour).Add(-time.Nanosecond)

	log.Printf("[SCHEDULER] Day boundary crossed, settling %s", risk.DayKey(prevEnd))
	for _, strategy := range s.strategies {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.CycleTimeout)
		if _, err := s.service.SettleDaily(ctx, strategy.ID, prevEnd); err != nil {
			log.Printf("[SCHEDULER] Daily settlement failed for strategy %s: %v", strategy.ID, err)
		}
		cancel()
	}
}
