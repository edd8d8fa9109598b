package rebalancer

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandfi/dvm/internal/ledger"
	"github.com/strandfi/dvm/internal/strategy"
	"github.com/strandfi/dvm/internal/types"
)

const (
	vaultAddr = "vault-treasury"
	stratAddr = "strat-alpha"
)

// stubLossOracle reports a fixed unrealised loss for every assessment.
type stubLossOracle struct {
	loss sdkmath.Int
}

func (o stubLossOracle) AssessUnrealisedLoss(_ types.StrategyID, _, _ sdkmath.Int) (sdkmath.Int, error) {
	if o.loss.IsNil() {
		return sdkmath.ZeroInt(), nil
	}
	return o.loss, nil
}

func noLoss() stubLossOracle {
	return stubLossOracle{loss: sdkmath.ZeroInt()}
}

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.New("USDC", 6)
	require.NoError(t, err)
	return l
}

// newFundedStrategy builds a simulated strategy and seeds it with debt assets
// deposited from the vault, mirroring how debt would have been allocated.
func newFundedStrategy(t *testing.T, l *ledger.Ledger, cfg strategy.SimulatedConfig, debt int64) *strategy.Simulated {
	t.Helper()
	cfg.Ledger = l
	if cfg.ID == "" {
		cfg.ID = "sim-alpha"
	}
	if cfg.Address == "" {
		cfg.Address = stratAddr
	}
	strat, err := strategy.NewSimulated(cfg)
	require.NoError(t, err)

	if debt > 0 {
		amt := sdkmath.NewInt(debt)
		require.NoError(t, l.Mint(vaultAddr, amt))
		require.NoError(t, l.Approve(vaultAddr, strat.Address(), amt))
		require.NoError(t, strat.Deposit(amt, vaultAddr))
	}
	return strat
}

func params(currentDebt, maxDebt int64) types.StrategyParams {
	return types.StrategyParams{
		CurrentDebt: sdkmath.NewInt(currentDebt),
		MaxDebt:     sdkmath.NewInt(maxDebt),
	}
}

func totals(idle, debt int64) types.VaultTotals {
	return types.VaultTotals{
		TotalIdle: sdkmath.NewInt(idle),
		TotalDebt: sdkmath.NewInt(debt),
	}
}

func request(target int64, maxLossBps uint32, minIdle int64) Request {
	return Request{
		TargetDebt:       sdkmath.NewInt(target),
		MaxLossBps:       maxLossBps,
		MinimumTotalIdle: sdkmath.NewInt(minIdle),
	}
}

func TestDecreaseCleanWithdrawalClampedToCapacity(t *testing.T) {
	l := newLedger(t)
	strat := newFundedStrategy(t, l, strategy.SimulatedConfig{
		WithdrawLimit: sdkmath.NewInt(600),
	}, 1000)

	result, err := Execute(strat, l, noLoss(), vaultAddr,
		params(1000, 1000), totals(0, 1000), request(400, 0, 0))
	require.NoError(t, err)

	assert.Equal(t, "400", result.NewDebt.String())
	assert.Equal(t, "600", result.NewTotalIdle.String())
	assert.Equal(t, "400", result.NewTotalDebt.String())

	vaultBal, err := l.BalanceOf(vaultAddr)
	require.NoError(t, err)
	assert.Equal(t, "600", vaultBal.String())
}

func TestDecreaseShortfallExceedsZeroTolerance(t *testing.T) {
	l := newLedger(t)
	// 833 bps of slippage turns a 600 withdrawal into 550.
	strat := newFundedStrategy(t, l, strategy.SimulatedConfig{
		WithdrawLimit: sdkmath.NewInt(600),
		RedeemLossBps: 833,
	}, 1000)

	_, err := Execute(strat, l, noLoss(), vaultAddr,
		params(1000, 1000), totals(0, 1000), request(400, 0, 0))
	require.ErrorIs(t, err, ErrExcessiveLoss)
}

func TestDecreaseShortfallWithinTolerance(t *testing.T) {
	l := newLedger(t)
	strat := newFundedStrategy(t, l, strategy.SimulatedConfig{
		WithdrawLimit: sdkmath.NewInt(600),
		RedeemLossBps: 833,
	}, 1000)

	// Shortfall is 50 of 600 requested, about 8.3 percent, within 10 percent.
	result, err := Execute(strat, l, noLoss(), vaultAddr,
		params(1000, 1000), totals(0, 1000), request(400, 1000, 0))
	require.NoError(t, err)

	// Debt falls by what actually came back; the tolerated shortfall stays
	// on the books until reporting writes it off.
	assert.Equal(t, "450", result.NewDebt.String())
	assert.Equal(t, "550", result.NewTotalIdle.String())
	assert.Equal(t, "450", result.NewTotalDebt.String())
}

func TestNoChangeRequestedFails(t *testing.T) {
	l := newLedger(t)
	strat := newFundedStrategy(t, l, strategy.SimulatedConfig{}, 100)

	_, err := Execute(strat, l, noLoss(), vaultAddr,
		params(100, 1000), totals(0, 100), request(100, 0, 0))
	require.ErrorIs(t, err, ErrNoChangeRequested)
}

func TestShutdownForcesFullRecall(t *testing.T) {
	l := newLedger(t)
	strat := newFundedStrategy(t, l, strategy.SimulatedConfig{}, 300)

	req := request(500, 0, 0)
	req.IsShutdown = true

	result, err := Execute(strat, l, noLoss(), vaultAddr,
		params(300, 1000), totals(0, 300), req)
	require.NoError(t, err)

	assert.True(t, result.NewDebt.IsZero())
	assert.Equal(t, "300", result.NewTotalIdle.String())
	assert.True(t, result.NewTotalDebt.IsZero())
}

func TestIncreaseClampedToDepositCap(t *testing.T) {
	l := newLedger(t)
	strat := newFundedStrategy(t, l, strategy.SimulatedConfig{
		DepositCap: sdkmath.NewInt(800),
	}, 0)
	require.NoError(t, l.Mint(vaultAddr, sdkmath.NewInt(1200)))

	result, err := Execute(strat, l, noLoss(), vaultAddr,
		params(0, 1000), totals(1200, 0), request(1000, 0, 200))
	require.NoError(t, err)

	assert.Equal(t, "800", result.NewDebt.String())
	assert.Equal(t, "400", result.NewTotalIdle.String())
	assert.Equal(t, "800", result.NewTotalDebt.String())
	assert.True(t, l.Allowance(vaultAddr, strat.Address()).IsZero())
}

func TestUnrealisedLossBlocksWithdrawal(t *testing.T) {
	l := newLedger(t)
	strat := newFundedStrategy(t, l, strategy.SimulatedConfig{}, 1000)

	oracle := stubLossOracle{loss: sdkmath.NewInt(37)}
	_, err := Execute(strat, l, oracle, vaultAddr,
		params(1000, 1000), totals(0, 1000), request(400, 0, 0))
	require.ErrorIs(t, err, ErrUnrealisedLoss)

	// Nothing moved.
	vaultBal, err := l.BalanceOf(vaultAddr)
	require.NoError(t, err)
	assert.True(t, vaultBal.IsZero())
}

func TestDecreaseZeroCapacityIsNoOp(t *testing.T) {
	l := newLedger(t)
	strat := newFundedStrategy(t, l, strategy.SimulatedConfig{
		WithdrawLimit: sdkmath.ZeroInt(),
	}, 1000)

	p, tot := params(1000, 1000), totals(0, 1000)
	result, err := Execute(strat, l, noLoss(), vaultAddr, p, tot, request(400, 0, 0))
	require.NoError(t, err)
	assert.True(t, result.Unchanged(p, tot))
}

func TestDecreaseRaisedToLiquidityFloor(t *testing.T) {
	l := newLedger(t)
	strat := newFundedStrategy(t, l, strategy.SimulatedConfig{}, 1000)

	// Target asks for 100 back but the idle floor of 500 demands more.
	result, err := Execute(strat, l, noLoss(), vaultAddr,
		params(1000, 1000), totals(0, 1000), request(900, 0, 500))
	require.NoError(t, err)

	assert.Equal(t, "500", result.NewDebt.String())
	assert.Equal(t, "500", result.NewTotalIdle.String())
	assert.Equal(t, "500", result.NewTotalDebt.String())
}

func TestIncreaseIdleAtFloorIsNoOp(t *testing.T) {
	l := newLedger(t)
	strat := newFundedStrategy(t, l, strategy.SimulatedConfig{}, 0)
	require.NoError(t, l.Mint(vaultAddr, sdkmath.NewInt(200)))

	p, tot := params(0, 1000), totals(200, 0)
	req := request(500, 0, 200)

	first, err := Execute(strat, l, noLoss(), vaultAddr, p, tot, req)
	require.NoError(t, err)
	assert.True(t, first.Unchanged(p, tot))

	// Running the same no-op again accumulates no side effects.
	second, err := Execute(strat, l, noLoss(), vaultAddr, p, tot, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.True(t, l.Allowance(vaultAddr, strat.Address()).IsZero())
}

func TestIncreaseMaxDebtBelowCurrentIsNoOp(t *testing.T) {
	l := newLedger(t)
	strat := newFundedStrategy(t, l, strategy.SimulatedConfig{}, 800)
	require.NoError(t, l.Mint(vaultAddr, sdkmath.NewInt(500)))

	// Governance lowered maxDebt after 800 was already allocated.
	p, tot := params(800, 500), totals(500, 800)
	result, err := Execute(strat, l, noLoss(), vaultAddr, p, tot, request(1000, 0, 0))
	require.NoError(t, err)
	assert.True(t, result.Unchanged(p, tot))
}

func TestIncreasePartialPullKeepsAccountingHonest(t *testing.T) {
	l := newLedger(t)
	// Strategy pulls only 90 percent of the approved amount.
	strat := newFundedStrategy(t, l, strategy.SimulatedConfig{
		DepositShortfallBps: 1000,
	}, 0)
	require.NoError(t, l.Mint(vaultAddr, sdkmath.NewInt(1000)))

	result, err := Execute(strat, l, noLoss(), vaultAddr,
		params(0, 1000), totals(1000, 0), request(500, 0, 0))
	require.NoError(t, err)

	// 450 actually moved, and the unused allowance is revoked.
	assert.Equal(t, "450", result.NewDebt.String())
	assert.Equal(t, "550", result.NewTotalIdle.String())
	assert.Equal(t, "450", result.NewTotalDebt.String())
	assert.True(t, l.Allowance(vaultAddr, strat.Address()).IsZero())
}

func TestDecreasePremiumPayoutNeverGoesNegative(t *testing.T) {
	l := newLedger(t)
	strat := newFundedStrategy(t, l, strategy.SimulatedConfig{
		RedeemPremiumBps: 1000,
	}, 500)
	// Extra yield sitting in the strategy funds the premium.
	require.NoError(t, l.Mint(stratAddr, sdkmath.NewInt(500)))

	result, err := Execute(strat, l, noLoss(), vaultAddr,
		params(500, 1000), totals(0, 500), request(0, 0, 0))
	require.NoError(t, err)

	// Payout exceeds the recorded debt; debt is cut to zero, never below.
	assert.True(t, result.NewDebt.IsZero())
	assert.True(t, result.NewTotalDebt.IsZero())
	assert.True(t, result.NewTotalIdle.GT(sdkmath.NewInt(500)))
}

func TestDecreaseConservation(t *testing.T) {
	l := newLedger(t)
	strat := newFundedStrategy(t, l, strategy.SimulatedConfig{}, 1000)

	before := totals(250, 1000)
	result, err := Execute(strat, l, noLoss(), vaultAddr,
		params(1000, 1000), before, request(300, 0, 0))
	require.NoError(t, err)

	// Idle gained exactly what debt lost.
	gained := result.NewTotalIdle.Sub(before.TotalIdle)
	lost := before.TotalDebt.Sub(result.NewTotalDebt)
	assert.Equal(t, gained.String(), lost.String())
	assert.Equal(t, "700", gained.String())
}

func TestValidationRejectsBadInputs(t *testing.T) {
	l := newLedger(t)
	strat := newFundedStrategy(t, l, strategy.SimulatedConfig{}, 100)

	tests := []struct {
		name   string
		params types.StrategyParams
		totals types.VaultTotals
		req    Request
	}{
		{
			name:   "negative target",
			params: params(100, 1000),
			totals: totals(0, 100),
			req:    request(-5, 0, 0),
		},
		{
			name:   "nil current debt",
			params: types.StrategyParams{MaxDebt: sdkmath.NewInt(1000)},
			totals: totals(0, 100),
			req:    request(50, 0, 0),
		},
		{
			name:   "max loss over 10000 bps",
			params: params(100, 1000),
			totals: totals(0, 100),
			req:    request(50, 10_001, 0),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Execute(strat, l, noLoss(), vaultAddr, tc.params, tc.totals, tc.req)
			assert.ErrorIs(t, err, ErrInvalidInputs)
		})
	}
}
