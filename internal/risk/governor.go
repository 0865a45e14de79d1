package risk

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Config holds governor configuration
type Config struct {
	RiskLevel       int     // 1 (conservative) to 5 (aggressive)
	MinPositionSize float64 // Sizing floor in quote currency
	MinConfidence   float64 // Proposals below this confidence are rejected
}

// Governor enforces sizing and daily trading limits for pools
type Governor struct {
	config    Config
	params    Params
	snapshots SnapshotStore
	paused    atomic.Bool
	logger    zerolog.Logger
}

// NewGovernor creates a risk governor
func NewGovernor(config Config, snapshots SnapshotStore, logger zerolog.Logger) *Governor {
	if config.MinConfidence <= 0 {
		config.MinConfidence = 50
	}
	return &Governor{
		config:    config,
		params:    ComputeRiskParams(config.RiskLevel),
		snapshots: snapshots,
		logger:    logger.With().Str("component", "risk_governor").Logger(),
	}
}

// Params returns the governor's derived limits
func (g *Governor) Params() Params {
	return g.params
}

// SizingInput carries the pool figures needed to size a position
type SizingInput struct {
	PoolCapital      float64 // Total equity of the pool
	AvailableCapital float64
	OpenNotional     float64 // Current exposure across open positions
	Confidence       float64 // Signal confidence, 0-100
}

// CalculatePositionSize recommends a position size bounded by the per-trade
// cap, remaining exposure capacity, and a buffer on available capital, then
// scaled by confidence and floored at the configured minimum.
func (g *Governor) CalculatePositionSize(in SizingInput) float64 {
	capacity := g.params.MaxTotalExposurePct*in.PoolCapital - in.OpenNotional
	if capacity < 0 {
		capacity = 0
	}

	size := math.Min(g.params.MaxPositionPct*in.PoolCapital, capacity)
	size = math.Min(size, 0.8*in.AvailableCapital)
	size *= 0.5 + 0.5*(in.Confidence/100)

	if size < g.config.MinPositionSize {
		size = g.config.MinPositionSize
	}
	return size
}

// Proposal is a sized trade awaiting approval
type Proposal struct {
	Symbol     string
	Side       string
	Size       float64 // Notional size in quote currency
	Leverage   int
	Confidence float64 // 0-100
}

// Assessment is the governor's verdict on a proposal
type Assessment struct {
	Approved         bool     `json:"approved"`
	Reasons          []string `json:"reasons,omitempty"`
	RiskScore        float64  `json:"risk_score"` // 0-100, higher is riskier
	ApprovedSize     float64  `json:"approved_size"`
	ApprovedLeverage int      `json:"approved_leverage"`
}

// RejectedError carries a rejection's reasons and score to the caller
type RejectedError struct {
	Reasons   []string
	RiskScore float64
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("trade rejected (risk score %.1f): %s", e.RiskScore, strings.Join(e.Reasons, "; "))
}

// AssessTradeRisk validates a proposal against the daily gate and the
// governor limits. Rejections never depend on sizing: a closed gate or low
// confidence rejects regardless of size and leverage. Approved proposals
// come back with size and leverage clamped to the limits.
func (g *Governor) AssessTradeRisk(proposal Proposal, status *DailyStatus, in SizingInput) Assessment {
	assessment := Assessment{
		ApprovedSize:     proposal.Size,
		ApprovedLeverage: proposal.Leverage,
	}

	if !status.CanTrade {
		assessment.Reasons = append(assessment.Reasons, status.Reason)
	}
	if proposal.Confidence < g.config.MinConfidence {
		assessment.Reasons = append(assessment.Reasons,
			fmt.Sprintf("confidence %.0f below minimum %.0f", proposal.Confidence, g.config.MinConfidence))
	}

	// Clamp to limits rather than reject
	maxSize := g.params.MaxPositionPct * in.PoolCapital
	if assessment.ApprovedSize > maxSize {
		assessment.ApprovedSize = maxSize
	}
	capacity := g.params.MaxTotalExposurePct*in.PoolCapital - in.OpenNotional
	if capacity < 0 {
		capacity = 0
	}
	if assessment.ApprovedSize > capacity {
		assessment.ApprovedSize = capacity
	}
	if assessment.ApprovedLeverage > g.params.MaxLeverage {
		assessment.ApprovedLeverage = g.params.MaxLeverage
	}
	if assessment.ApprovedLeverage < 1 {
		assessment.ApprovedLeverage = 1
	}
	if assessment.ApprovedSize <= 0 {
		assessment.Reasons = append(assessment.Reasons, "no exposure capacity remaining")
	}

	assessment.RiskScore = g.riskScore(status, proposal.Confidence, assessment.ApprovedLeverage)
	assessment.Approved = len(assessment.Reasons) == 0
	return assessment
}

// riskScore weights exposure, daily drawdown, confidence shortfall, and
// leverage into a 0-100 score.
func (g *Governor) riskScore(status *DailyStatus, confidence float64, leverage int) float64 {
	score := 0.3*(status.ExposurePct/g.params.MaxTotalExposurePct) +
		0.3*math.Abs(status.DailyPnlPct/g.params.MaxDailyLossPct) +
		0.2*((100-confidence)/100) +
		0.2*(float64(leverage)/float64(g.params.MaxLeverage))

	score *= 100
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
