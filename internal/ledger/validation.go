package ledger

import (
	"fmt"
	"math"
)

// ShareTolerance is the numeric tolerance for share conservation checks
const ShareTolerance = 1e-9

// ValidationResult holds the outcome of an invariant check over one pool
type ValidationResult struct {
	PoolID   string   `json:"pool_id"`
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ValidateState checks the pool invariants that must hold at all times:
// share conservation, the capital bound, and NAV recomputability. Run after
// settlement and by the reconcile tool before allowing further mutation of
// a suspect pool.
func ValidateState(st *State) *ValidationResult {
	result := &ValidationResult{
		PoolID:   st.Pool.ID,
		IsValid:  true,
		Errors:   []string{},
		Warnings: []string{},
	}

	// Share conservation: registry shares must equal pool total shares
	held := st.Registry.HeldShares()
	if math.Abs(held-st.Pool.TotalShares) > ShareTolerance {
		result.Errors = append(result.Errors,
			fmt.Sprintf("share conservation violated: registry holds %.12f, pool records %.12f",
				held, st.Pool.TotalShares))
	}

	// Capital bound: available + locked <= total + settled PnL
	bound := st.Pool.TotalCapital + st.Pool.TotalPnl
	deployed := st.Pool.AvailableCapital + st.Pool.LockedCapital
	if deployed-bound > ShareTolerance {
		result.Errors = append(result.Errors,
			fmt.Sprintf("capital bound violated: available+locked %.6f exceeds total+pnl %.6f",
				deployed, bound))
	}

	// NAV recomputability. A pending redemption legitimately shifts the
	// recomputed value until its shares burn, so drift is a warning, not
	// an error.
	if st.Pool.TotalShares > ShareTolerance {
		recomputed := st.Pool.CurrentCapital() / st.Pool.TotalShares
		if math.Abs(recomputed-st.Pool.CurrentNav) > 1e-6 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("NAV drift: stored %.9f, recomputed %.9f", st.Pool.CurrentNav, recomputed))
		}
	}

	// Aggregate unrealized PnL must match the open positions
	var unrealized float64
	for _, p := range st.Positions {
		unrealized += p.UnrealizedPnl
	}
	if math.Abs(unrealized-st.Pool.UnrealizedPnl) > 1e-6 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("unrealized PnL mismatch: positions sum to %.6f, pool records %.6f",
				unrealized, st.Pool.UnrealizedPnl))
	}

	// Negative balances never make sense
	if st.Pool.AvailableCapital < -ShareTolerance {
		result.Errors = append(result.Errors,
			fmt.Sprintf("negative available capital: %.6f", st.Pool.AvailableCapital))
	}
	if st.Pool.LockedCapital < -ShareTolerance {
		result.Errors = append(result.Errors,
			fmt.Sprintf("negative locked capital: %.6f", st.Pool.LockedCapital))
	}

	result.IsValid = len(result.Errors) == 0
	return result
}
