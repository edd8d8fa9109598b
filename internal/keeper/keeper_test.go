package keeper

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandfi/dvm/internal/ledger"
	"github.com/strandfi/dvm/internal/strategy"
	"github.com/strandfi/dvm/internal/types"
	"github.com/strandfi/dvm/internal/vault"
)

func setupVault(t *testing.T, funding int64) (*vault.Book, *ledger.Ledger) {
	t.Helper()
	l, err := ledger.New("USDC", 6)
	require.NoError(t, err)
	b, err := vault.NewBook("vault-main", l)
	require.NoError(t, err)

	for _, id := range []string{"sim-alpha", "sim-beta"} {
		s, err := strategy.NewSimulated(strategy.SimulatedConfig{
			ID:      types.StrategyID(id),
			Address: "strat-" + id,
			Ledger:  l,
		})
		require.NoError(t, err)
		require.NoError(t, b.AddStrategy(s, sdkmath.NewInt(1_000_000)))
	}

	require.NoError(t, l.Mint("vault-main", sdkmath.NewInt(funding)))
	require.NoError(t, b.SyncIdle())
	return b, l
}

func TestRunCycleAllocatesTowardWeights(t *testing.T) {
	b, _ := setupVault(t, 10_000)

	k, err := New(Config{
		Vault: b,
		Params: types.RebalanceParameters{
			MinimumTotalIdle: sdkmath.NewInt(1000),
			TargetWeights: map[types.StrategyID]float64{
				"sim-alpha": 0.5,
				"sim-beta":  0.3,
			},
		},
	})
	require.NoError(t, err)

	require.NoError(t, k.RunCycle())

	alpha, err := b.StrategyParams("sim-alpha")
	require.NoError(t, err)
	beta, err := b.StrategyParams("sim-beta")
	require.NoError(t, err)

	// Weights apply to deployable assets: 10000 total minus the 1000 floor.
	assert.Equal(t, "4500", alpha.CurrentDebt.String())
	assert.Equal(t, "2700", beta.CurrentDebt.String())

	tot := b.Totals()
	assert.Equal(t, "2800", tot.TotalIdle.String())
	assert.Equal(t, "7200", tot.TotalDebt.String())
}

func TestRunCycleIsStableOnTarget(t *testing.T) {
	b, _ := setupVault(t, 10_000)

	k, err := New(Config{
		Vault: b,
		Params: types.RebalanceParameters{
			MinimumTotalIdle: sdkmath.ZeroInt(),
			TargetWeights: map[types.StrategyID]float64{
				"sim-alpha": 0.6,
				"sim-beta":  0.4,
			},
		},
	})
	require.NoError(t, err)

	require.NoError(t, k.RunCycle())
	after := b.Totals()

	// A second cycle on an already balanced vault changes nothing.
	require.NoError(t, k.RunCycle())
	assert.Equal(t, after, b.Totals())
}

func TestRunCycleContinuesPastFailures(t *testing.T) {
	l, err := ledger.New("USDC", 6)
	require.NoError(t, err)
	b, err := vault.NewBook("vault-main", l)
	require.NoError(t, err)

	// sim-alpha shaves every redeem, so the planned unwind fails hard.
	lossy, err := strategy.NewSimulated(strategy.SimulatedConfig{
		ID: "sim-alpha", Address: "strat-alpha", Ledger: l,
		RedeemLossBps: 500,
	})
	require.NoError(t, err)
	clean, err := strategy.NewSimulated(strategy.SimulatedConfig{
		ID: "sim-beta", Address: "strat-beta", Ledger: l,
	})
	require.NoError(t, err)
	require.NoError(t, b.AddStrategy(lossy, sdkmath.NewInt(1_000_000)))
	require.NoError(t, b.AddStrategy(clean, sdkmath.NewInt(1_000_000)))
	require.NoError(t, l.Mint("vault-main", sdkmath.NewInt(10_000)))
	require.NoError(t, b.SyncIdle())

	_, err = b.UpdateDebt("sim-alpha", sdkmath.NewInt(8000), 0)
	require.NoError(t, err)

	k, err := New(Config{
		Vault: b,
		Params: types.RebalanceParameters{
			MinimumTotalIdle: sdkmath.ZeroInt(),
			TargetWeights: map[types.StrategyID]float64{
				"sim-alpha": 0.0,
				"sim-beta":  0.2,
			},
		},
	})
	require.NoError(t, err)

	// The alpha unwind fails on excessive loss, but the beta deposit still runs.
	require.NoError(t, k.RunCycle())

	alpha, err := b.StrategyParams("sim-alpha")
	require.NoError(t, err)
	assert.Equal(t, "8000", alpha.CurrentDebt.String())

	beta, err := b.StrategyParams("sim-beta")
	require.NoError(t, err)
	assert.Equal(t, "2000", beta.CurrentDebt.String())
}
