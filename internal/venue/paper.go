package venue

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PaperConfig tunes the simulated venue
type PaperConfig struct {
	Slippage float64            // Fill slippage fraction, applied against the taker
	Drift    float64            // Per-tick random walk scale, e.g. 0.002
	Seed     int64              // 0 seeds from the clock
	Prices   map[string]float64 // Starting prices per symbol
}

// PaperVenue is an in-process simulated venue: random-walk prices and
// immediate fills with slippage. It also supports failure injection for
// exercising the unexecuted-decision path.
type PaperVenue struct {
	config PaperConfig

	mu       sync.Mutex
	rng      *rand.Rand
	prices   map[string]float64
	failNext error
}

// NewPaperVenue creates a simulated venue connector
func NewPaperVenue(config PaperConfig) *PaperVenue {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if config.Drift <= 0 {
		config.Drift = 0.002
	}
	prices := make(map[string]float64, len(config.Prices))
	for sym, px := range config.Prices {
		prices[sym] = px
	}
	return &PaperVenue{
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
		prices: prices,
	}
}

// FailNext injects an error into the next PlaceOrder call
func (v *PaperVenue) FailNext(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failNext = err
}

// SetPrice pins a symbol's price, for tests and replay
func (v *PaperVenue) SetPrice(symbol string, price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[symbol] = price
}

// PlaceOrder fills immediately at the walked price adjusted by slippage
func (v *PaperVenue) PlaceOrder(_ context.Context, req OrderRequest) (*Fill, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.failNext != nil {
		err := v.failNext
		v.failNext = nil
		return nil, &Error{Op: "place_order", Symbol: req.Symbol, Err: err}
	}
	if req.Quantity <= 0 {
		return nil, &Error{Op: "place_order", Symbol: req.Symbol, Err: fmt.Errorf("quantity must be positive")}
	}

	price, ok := v.prices[req.Symbol]
	if !ok {
		return nil, &Error{Op: "place_order", Symbol: req.Symbol, Err: fmt.Errorf("unknown symbol")}
	}

	fillPrice := price
	if req.Side == SideBuy {
		fillPrice *= 1 + v.config.Slippage
	} else {
		fillPrice *= 1 - v.config.Slippage
	}

	return &Fill{
		OrderID:    uuid.NewString(),
		DecisionID: req.DecisionID,
		FilledQty:  req.Quantity,
		AvgPrice:   fillPrice,
		ExecutedAt: time.Now().UTC(),
	}, nil
}

// GetTicker walks the symbol's price one step and returns it
func (v *PaperVenue) GetTicker(_ context.Context, symbol string) (*Ticker, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	price, ok := v.prices[symbol]
	if !ok {
		return nil, &Error{Op: "get_ticker", Symbol: symbol, Err: fmt.Errorf("unknown symbol")}
	}

	price *= 1 + (v.rng.Float64()*2-1)*v.config.Drift
	v.prices[symbol] = price

	return &Ticker{Symbol: symbol, Price: price, At: time.Now().UTC()}, nil
}
