package venue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BreakerState is the guarded connector's state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Orders flow
	StateOpen     BreakerState = "open"      // Venue considered down
	StateHalfOpen BreakerState = "half_open" // Probing recovery
)

// BreakerConfig tunes the venue circuit breaker
type BreakerConfig struct {
	MaxConsecutiveFailures int           `json:"max_consecutive_failures"`
	Cooldown               time.Duration `json:"cooldown"`
}

// DefaultBreakerConfig returns conservative defaults
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxConsecutiveFailures: 5,
		Cooldown:               time.Minute,
	}
}

// ErrBreakerOpen is returned while the venue is considered down
type ErrBreakerOpen struct {
	Remaining time.Duration
	Reason    string
}

func (e *ErrBreakerOpen) Error() string {
	return fmt.Sprintf("venue breaker open for %s more (%s)", e.Remaining.Round(time.Second), e.Reason)
}

// GuardedConnector wraps a Connector with a circuit breaker. Consecutive
// venue failures open the breaker; after a cooldown a single probe order
// is let through, and its outcome closes or re-opens the breaker. Ticker
// reads always pass: prices are needed for marking even during an outage.
type GuardedConnector struct {
	inner  Connector
	config BreakerConfig

	mu            sync.Mutex
	state         BreakerState
	failures      int
	openedAt      time.Time
	reason        string
	probeInFlight bool
}

// NewGuardedConnector wraps a connector with failure protection
func NewGuardedConnector(inner Connector, config BreakerConfig) *GuardedConnector {
	if config.MaxConsecutiveFailures <= 0 {
		config.MaxConsecutiveFailures = DefaultBreakerConfig().MaxConsecutiveFailures
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &GuardedConnector{
		inner:  inner,
		config: config,
		state:  StateClosed,
	}
}

// PlaceOrder forwards to the wrapped connector when the breaker allows it
func (g *GuardedConnector) PlaceOrder(ctx context.Context, req OrderRequest) (*Fill, error) {
	if err := g.admit(); err != nil {
		return nil, err
	}

	fill, err := g.inner.PlaceOrder(ctx, req)
	g.observe(err)
	return fill, err
}

// GetTicker always passes through; price reads do not trip the breaker
func (g *GuardedConnector) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	return g.inner.GetTicker(ctx, symbol)
}

// State returns the breaker's current state
func (g *GuardedConnector) State() BreakerState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// ForceReset closes the breaker manually
func (g *GuardedConnector) ForceReset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = StateClosed
	g.failures = 0
	g.reason = ""
	g.probeInFlight = false
}

// admit decides whether an order may pass in the current state
func (g *GuardedConnector) admit() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateClosed:
		return nil
	case StateOpen:
		elapsed := time.Since(g.openedAt)
		if elapsed < g.config.Cooldown {
			return &ErrBreakerOpen{Remaining: g.config.Cooldown - elapsed, Reason: g.reason}
		}
		// Cooldown over: admit exactly one probe
		g.state = StateHalfOpen
		g.probeInFlight = true
		return nil
	default: // half-open
		if g.probeInFlight {
			return &ErrBreakerOpen{Remaining: 0, Reason: "recovery probe in flight"}
		}
		g.probeInFlight = true
		return nil
	}
}

// observe applies an admitted order's outcome to the state machine
func (g *GuardedConnector) observe(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err == nil {
		g.state = StateClosed
		g.failures = 0
		g.reason = ""
		g.probeInFlight = false
		return
	}

	g.probeInFlight = false
	if g.state == StateHalfOpen {
		// Probe failed, back to open with a fresh cooldown
		g.state = StateOpen
		g.openedAt = time.Now()
		g.reason = err.Error()
		return
	}

	g.failures++
	if g.failures >= g.config.MaxConsecutiveFailures {
		g.state = StateOpen
		g.openedAt = time.Now()
		g.reason = fmt.Sprintf("%d consecutive venue failures", g.failures)
	}
}
