package oracle

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MomentumConfig tunes the built-in momentum oracle
type MomentumConfig struct {
	Symbols      []string // Empty watches every symbol in the cycle's snapshot
	Lookback     int      // Observations kept per symbol
	EntryMovePct float64  // Minimum move over the lookback to signal, e.g. 0.01
	ExitMovePct  float64  // Adverse move that signals closing, e.g. 0.005
	MaxSignals   int      // Cap on signals returned per round
}

// MomentumOracle is a deterministic trend-following oracle used for paper
// operation. It watches the price snapshots it is fed each cycle and
// proposes entries in the direction of the recent move.
type MomentumOracle struct {
	config  MomentumConfig
	mu      sync.Mutex
	history map[string][]float64
}

// NewMomentumOracle creates the built-in oracle
func NewMomentumOracle(config MomentumConfig) *MomentumOracle {
	if config.Lookback <= 1 {
		config.Lookback = 10
	}
	if config.EntryMovePct <= 0 {
		config.EntryMovePct = 0.01
	}
	if config.ExitMovePct <= 0 {
		config.ExitMovePct = 0.005
	}
	if config.MaxSignals <= 0 {
		config.MaxSignals = 3
	}
	return &MomentumOracle{
		config:  config,
		history: make(map[string][]float64),
	}
}

// ProposeSignals records the snapshot and emits momentum entries plus exits
// for positions the trend has turned against, ranked by confidence.
func (o *MomentumOracle) ProposeSignals(_ context.Context, in Input) ([]Signal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var signals []Signal
	held := make(map[string]OpenPositionView, len(in.Positions))
	for _, p := range in.Positions {
		held[p.Symbol] = p
	}

	for _, symbol := range o.watchlist(in) {
		price, ok := in.Prices[symbol]
		if !ok || price <= 0 {
			continue
		}
		window := o.observe(symbol, price)
		if len(window) < 2 {
			continue
		}

		movePct := (price - window[0]) / window[0]

		if pos, open := held[symbol]; open {
			adverse := -movePct
			if pos.Side == "SHORT" {
				adverse = movePct
			}
			if adverse >= o.config.ExitMovePct {
				signals = append(signals, Signal{
					Action:     ActionSell,
					Symbol:     symbol,
					Confidence: confidenceFor(adverse, o.config.ExitMovePct),
					Reason:     fmt.Sprintf("trend reversed %.2f%% against open position", adverse*100),
				})
			}
			continue
		}

		if math.Abs(movePct) >= o.config.EntryMovePct {
			action := ActionBuy
			if movePct < 0 {
				// Downtrends are skipped instead of shorted; the paper
				// venue models spot fills only.
				continue
			}
			signals = append(signals, Signal{
				Action:     action,
				Symbol:     symbol,
				Price:      price,
				Confidence: confidenceFor(math.Abs(movePct), o.config.EntryMovePct),
				Reason:     fmt.Sprintf("%.2f%% move over lookback window", movePct*100),
			})
		}
	}

	sort.SliceStable(signals, func(i, j int) bool { return signals[i].Confidence > signals[j].Confidence })
	if len(signals) > o.config.MaxSignals {
		signals = signals[:o.config.MaxSignals]
	}
	return signals, nil
}

// watchlist is the configured symbol set, or every symbol the cycle
// snapshotted when none is configured. Sorted so ranking ties break the
// same way every round.
func (o *MomentumOracle) watchlist(in Input) []string {
	if len(o.config.Symbols) > 0 {
		return o.config.Symbols
	}
	symbols := make([]string, 0, len(in.Prices))
	for symbol := range in.Prices {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

func (o *MomentumOracle) observe(symbol string, price float64) []float64 {
	window := append(o.history[symbol], price)
	if len(window) > o.config.Lookback {
		window = window[len(window)-o.config.Lookback:]
	}
	o.history[symbol] = window
	return window
}

// confidenceFor maps move strength to a 50-95 confidence band: a move at
// the threshold is barely actionable, three times the threshold saturates.
func confidenceFor(move, threshold float64) float64 {
	ratio := move / threshold
	conf := 50 + 15*(ratio-1)
	if conf < 50 {
		conf = 50
	}
	if conf > 95 {
		conf = 95
	}
	return conf
}
