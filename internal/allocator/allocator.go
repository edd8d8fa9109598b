/*

This file contains the debt allocator: it turns governance target weights into
an ordered plan of per-strategy debt changes. Decreases are planned before
increases so recalled liquidity can fund the deposits in the same cycle, and
the aggregate decrease per cycle is capped so the vault never unwinds too much
at once.

*/

package allocator

import (
	"errors"
	"fmt"
	"math"
	"sort"

	sdkmath "cosmossdk.io/math"

	"github.com/strandfi/dvm/internal/logger"
	"github.com/strandfi/dvm/internal/types"
	"github.com/strandfi/dvm/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidWeights    = errors.New("target weights are invalid")
	ErrInvalidStrategies = errors.New("strategy list is invalid")
	ErrInvalidTotals     = errors.New("vault totals are invalid")
)

// weightSumTolerance absorbs float representation noise when checking that
// weights sum to at most 1.
const weightSumTolerance = 1e-9

var allocatorLogger = logger.GetForComponent("allocator")

// StrategyState pairs a strategy ID with its debt record at planning time.
type StrategyState struct {
	ID     types.StrategyID
	Params types.StrategyParams
}

// BuildPlan computes the debt changes needed to move the vault's allocation
// toward the configured target weights. Targets are computed over deployable
// assets (total assets minus the idle floor), clamped to each strategy's max
// debt, and changes smaller than the rebalance threshold are skipped.
func BuildPlan(
	strategies []StrategyState,
	totals types.VaultTotals,
	params types.RebalanceParameters,
) (types.DebtPlan, error) {
	plan := types.DebtPlan{}

	if len(strategies) == 0 {
		return plan, errors.Join(ErrInvalidStrategies, errors.New("no strategies registered"))
	}
	if totals.TotalIdle.IsNil() || totals.TotalDebt.IsNil() ||
		totals.TotalIdle.IsNegative() || totals.TotalDebt.IsNegative() {
		return plan, ErrInvalidTotals
	}
	known := make(map[types.StrategyID]bool, len(strategies))
	for _, s := range strategies {
		if s.ID == "" {
			return plan, errors.Join(ErrInvalidStrategies, errors.New("strategy ID cannot be empty"))
		}
		if known[s.ID] {
			return plan, errors.Join(ErrInvalidStrategies, fmt.Errorf("duplicate strategy %s", s.ID))
		}
		known[s.ID] = true
		if s.Params.CurrentDebt.IsNil() || s.Params.CurrentDebt.IsNegative() ||
			s.Params.MaxDebt.IsNil() || s.Params.MaxDebt.IsNegative() {
			return plan, errors.Join(ErrInvalidStrategies, fmt.Errorf("strategy %s has invalid debt record", s.ID))
		}
	}
	if err := validateWeights(params.TargetWeights, known); err != nil {
		return plan, err
	}

	totalAssets := totals.TotalAssets()
	deployable := totalAssets.Sub(params.MinimumTotalIdle)
	if deployable.IsNegative() {
		deployable = sdkmath.ZeroInt()
	}
	threshold, err := utils.BpsOf(totalAssets, params.RebalanceThresholdBps)
	if err != nil {
		return plan, err
	}

	var decreases, increases []types.DebtChange
	for _, s := range strategies {
		target := weightedTarget(params.TargetWeights[s.ID], deployable)
		if target.GT(s.Params.MaxDebt) {
			target = s.Params.MaxDebt
		}

		delta := target.Sub(s.Params.CurrentDebt)
		if delta.Abs().LT(threshold) || delta.IsZero() {
			continue
		}

		change := types.DebtChange{
			StrategyID:  s.ID,
			CurrentDebt: s.Params.CurrentDebt,
			TargetDebt:  target,
			DeltaAssets: delta.Abs(),
		}
		if delta.IsNegative() {
			change.Direction = types.DebtDecrease
			decreases = append(decreases, change)
		} else {
			change.Direction = types.DebtIncrease
			increases = append(increases, change)
		}
	}

	// Largest moves first within each phase.
	sort.SliceStable(decreases, func(i, j int) bool {
		return decreases[i].DeltaAssets.GT(decreases[j].DeltaAssets)
	})
	sort.SliceStable(increases, func(i, j int) bool {
		return increases[i].DeltaAssets.GT(increases[j].DeltaAssets)
	})

	decreases, err = capDecreases(decreases, totalAssets, params.MaxDecreaseBpsPerCycle)
	if err != nil {
		return plan, err
	}

	plan.Changes = append(plan.Changes, decreases...)
	plan.Changes = append(plan.Changes, increases...)
	plan.GoalDescription = fmt.Sprintf(
		"rebalance toward target weights: %d decreases then %d increases over %s deployable assets",
		len(decreases), len(increases), deployable.String(),
	)

	allocatorLogger.Info().
		Int("decreases", len(decreases)).
		Int("increases", len(increases)).
		Str("totalAssets", totalAssets.String()).
		Msg("Debt plan built")
	return plan, nil
}

// weightedTarget converts a float weight into an integer asset target without
// going through float multiplication.
func weightedTarget(weight float64, deployable sdkmath.Int) sdkmath.Int {
	if weight <= 0 || deployable.IsZero() {
		return sdkmath.ZeroInt()
	}
	dec := sdkmath.LegacyMustNewDecFromStr(fmt.Sprintf("%f", weight))
	return dec.MulInt(deployable).TruncateInt()
}

// capDecreases scales the planned decreases down so their aggregate stays
// within the per-cycle limit. Deposits are never capped; only unwinding is
// throttled. A zero limit disables the cap.
func capDecreases(decreases []types.DebtChange, totalAssets sdkmath.Int, maxDecreaseBps uint32) ([]types.DebtChange, error) {
	if maxDecreaseBps == 0 || len(decreases) == 0 {
		return decreases, nil
	}
	budget, err := utils.BpsOf(totalAssets, maxDecreaseBps)
	if err != nil {
		return nil, err
	}

	capped := make([]types.DebtChange, 0, len(decreases))
	remaining := budget
	for _, c := range decreases {
		if remaining.IsZero() {
			allocatorLogger.Warn().
				Str("strategy", string(c.StrategyID)).
				Str("delta", c.DeltaAssets.String()).
				Msg("Decrease deferred to a later cycle, budget exhausted")
			continue
		}
		if c.DeltaAssets.GT(remaining) {
			allocatorLogger.Warn().
				Str("strategy", string(c.StrategyID)).
				Str("requested", c.DeltaAssets.String()).
				Str("allowed", remaining.String()).
				Msg("Decrease truncated to per-cycle budget")
			c.TargetDebt = c.CurrentDebt.Sub(remaining)
			c.DeltaAssets = remaining
		}
		remaining = remaining.Sub(c.DeltaAssets)
		capped = append(capped, c)
	}
	return capped, nil
}

// validateWeights rejects weight maps the allocator cannot safely act on.
func validateWeights(weights map[types.StrategyID]float64, known map[types.StrategyID]bool) error {
	if len(weights) == 0 {
		return errors.Join(ErrInvalidWeights, errors.New("no target weights configured"))
	}
	sum := 0.0
	for id, w := range weights {
		if !known[id] {
			return errors.Join(ErrInvalidWeights, fmt.Errorf("weight for unregistered strategy %s", id))
		}
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return errors.Join(ErrInvalidWeights, fmt.Errorf("weight for %s is not finite", id))
		}
		if w < 0 || w > 1 {
			return errors.Join(ErrInvalidWeights, fmt.Errorf("weight for %s is %f, must be within [0, 1]", id, w))
		}
		sum += w
	}
	if sum > 1+weightSumTolerance {
		return errors.Join(ErrInvalidWeights, fmt.Errorf("weights sum to %f, must not exceed 1", sum))
	}
	return nil
}
