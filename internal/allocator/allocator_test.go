package allocator

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandfi/dvm/internal/types"
)

func state(id string, currentDebt, maxDebt int64) StrategyState {
	return StrategyState{
		ID: types.StrategyID(id),
		Params: types.StrategyParams{
			CurrentDebt: sdkmath.NewInt(currentDebt),
			MaxDebt:     sdkmath.NewInt(maxDebt),
		},
	}
}

func totals(idle, debt int64) types.VaultTotals {
	return types.VaultTotals{
		TotalIdle: sdkmath.NewInt(idle),
		TotalDebt: sdkmath.NewInt(debt),
	}
}

func baseParams(weights map[types.StrategyID]float64) types.RebalanceParameters {
	return types.RebalanceParameters{
		DefaultMaxLossBps: 0,
		MinimumTotalIdle:  sdkmath.ZeroInt(),
		TargetWeights:     weights,
	}
}

func TestBuildPlanSplitsByWeight(t *testing.T) {
	strategies := []StrategyState{
		state("sim-alpha", 0, 10_000),
		state("sim-beta", 0, 10_000),
	}
	params := baseParams(map[types.StrategyID]float64{
		"sim-alpha": 0.6,
		"sim-beta":  0.4,
	})

	plan, err := BuildPlan(strategies, totals(1000, 0), params)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)

	// Largest increase first.
	assert.Equal(t, types.StrategyID("sim-alpha"), plan.Changes[0].StrategyID)
	assert.Equal(t, "600", plan.Changes[0].TargetDebt.String())
	assert.Equal(t, types.DebtIncrease, plan.Changes[0].Direction)
	assert.Equal(t, "400", plan.Changes[1].TargetDebt.String())
	assert.Equal(t, 0, plan.Decreases())
	assert.Equal(t, 2, plan.Increases())
}

func TestBuildPlanDecreasesPrecedeIncreases(t *testing.T) {
	strategies := []StrategyState{
		state("sim-alpha", 8000, 10_000),
		state("sim-beta", 0, 10_000),
	}
	params := baseParams(map[types.StrategyID]float64{
		"sim-alpha": 0.0,
		"sim-beta":  0.8,
	})

	plan, err := BuildPlan(strategies, totals(2000, 8000), params)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)

	assert.Equal(t, types.DebtDecrease, plan.Changes[0].Direction)
	assert.Equal(t, types.StrategyID("sim-alpha"), plan.Changes[0].StrategyID)
	assert.True(t, plan.Changes[0].TargetDebt.IsZero())
	assert.Equal(t, types.DebtIncrease, plan.Changes[1].Direction)
}

func TestBuildPlanCapsAggregateDecrease(t *testing.T) {
	strategies := []StrategyState{
		state("sim-alpha", 8000, 10_000),
		state("sim-beta", 0, 10_000),
	}
	params := baseParams(map[types.StrategyID]float64{
		"sim-alpha": 0.0,
		"sim-beta":  0.8,
	})
	// 25 percent of total assets per cycle.
	params.MaxDecreaseBpsPerCycle = 2500

	plan, err := BuildPlan(strategies, totals(2000, 8000), params)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)

	// The 8000 unwind is truncated to the 2500 budget; the deposit is not.
	assert.Equal(t, "2500", plan.Changes[0].DeltaAssets.String())
	assert.Equal(t, "5500", plan.Changes[0].TargetDebt.String())
	assert.Equal(t, "8000", plan.Changes[1].DeltaAssets.String())
}

func TestBuildPlanRespectsMaxDebt(t *testing.T) {
	strategies := []StrategyState{state("sim-alpha", 0, 400)}
	params := baseParams(map[types.StrategyID]float64{"sim-alpha": 1.0})

	plan, err := BuildPlan(strategies, totals(1000, 0), params)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "400", plan.Changes[0].TargetDebt.String())
}

func TestBuildPlanSkipsDriftBelowThreshold(t *testing.T) {
	strategies := []StrategyState{state("sim-alpha", 950, 10_000)}
	params := baseParams(map[types.StrategyID]float64{"sim-alpha": 0.1})
	// 1 percent of 10000 total assets = 100; the drift is only 50.
	params.RebalanceThresholdBps = 100

	plan, err := BuildPlan(strategies, totals(9050, 950), params)
	require.NoError(t, err)
	assert.Empty(t, plan.Changes)
}

func TestBuildPlanReservesIdleFloor(t *testing.T) {
	strategies := []StrategyState{state("sim-alpha", 0, 10_000)}
	params := baseParams(map[types.StrategyID]float64{"sim-alpha": 1.0})
	params.MinimumTotalIdle = sdkmath.NewInt(300)

	plan, err := BuildPlan(strategies, totals(1000, 0), params)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "700", plan.Changes[0].TargetDebt.String())
}

func TestBuildPlanRejectsBadWeights(t *testing.T) {
	strategies := []StrategyState{state("sim-alpha", 0, 10_000)}

	tests := []struct {
		name    string
		weights map[types.StrategyID]float64
	}{
		{"unknown strategy", map[types.StrategyID]float64{"sim-ghost": 0.5}},
		{"negative weight", map[types.StrategyID]float64{"sim-alpha": -0.1}},
		{"weight above one", map[types.StrategyID]float64{"sim-alpha": 1.5}},
		{"empty", map[types.StrategyID]float64{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildPlan(strategies, totals(1000, 0), baseParams(tc.weights))
			assert.ErrorIs(t, err, ErrInvalidWeights)
		})
	}
}

func TestBuildPlanRejectsEmptyStrategyList(t *testing.T) {
	_, err := BuildPlan(nil, totals(1000, 0), baseParams(map[types.StrategyID]float64{"a": 0.5}))
	assert.ErrorIs(t, err, ErrInvalidStrategies)
}
