// Package risk implements the risk governor: deterministic risk parameters
// per risk level, the daily trading gate, position sizing, and per-trade
// approval. Every signal from the strategy oracle is untrusted advice and
// passes through here before execution.
package risk

import "math"

// Params are the governor limits derived from a risk level. The scaling
// formulas are part of the engine contract and tested exactly.
type Params struct {
	RiskLevel           int     `json:"risk_level"`
	RiskMultiplier      float64 `json:"risk_multiplier"`
	MaxDailyLossPct     float64 `json:"max_daily_loss_pct"`
	MaxDailyProfitPct   float64 `json:"max_daily_profit_pct"`
	MaxPositionPct      float64 `json:"max_position_pct"`
	MaxTotalExposurePct float64 `json:"max_total_exposure_pct"`
	MaxLeverage         int     `json:"max_leverage"`
}

// ComputeRiskParams derives governor limits by linear scaling of the risk
// level. Levels outside 1-5 are clamped.
func ComputeRiskParams(riskLevel int) Params {
	if riskLevel < 1 {
		riskLevel = 1
	}
	if riskLevel > 5 {
		riskLevel = 5
	}
	multiplier := float64(riskLevel) / 5.0

	return Params{
		RiskLevel:           riskLevel,
		RiskMultiplier:      multiplier,
		MaxDailyLossPct:     math.Min(0.02+multiplier*0.02, 0.05),
		MaxDailyProfitPct:   math.Min(0.05+multiplier*0.03, 0.10),
		MaxPositionPct:      math.Min(0.15+multiplier*0.10, 0.30),
		MaxTotalExposurePct: math.Min(0.50+multiplier*0.20, 0.80),
		MaxLeverage:         minInt(3+riskLevel*2, 15),
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
