/*

This file contains the default rebalance parameters for the DVM.

These values are used to seed the database on first start, when no active
parameter set exists yet. After that the database copy is authoritative and
can be versioned independently of the binary.

*/

package config

import (
	sdkmath "cosmossdk.io/math"

	"github.com/strandfi/dvm/internal/types"
)

// DefaultRebalanceParameters provides a baseline set of parameters for the
// DVM's allocation logic.
var DefaultRebalanceParameters = types.RebalanceParameters{
	DefaultMaxLossBps: 100, // Tolerate up to 1% shortfall on any single withdrawal.
	// Strategy exits routinely round against the vault by a few basis points;
	// anything past 1% is treated as a real loss and the rebalance is refused.

	MinimumTotalIdle: sdkmath.NewInt(50_000_000), // Keep 50 USDC (6 decimals) liquid.
	// A buffer for withdrawals and precision errors. Deposits never dip below
	// it and withdrawals refill it first.

	RebalanceThresholdBps: 50, // Ignore drift below 0.5% of total assets.
	// Small drifts are cheaper to leave alone than to chase every cycle.

	MaxDecreaseBpsPerCycle: 2_000, // Unwind at most 20% of total assets per cycle.
	// Decreases crystallise slippage and exit costs, so large reallocations
	// are spread over several cycles. Deposits are not throttled.

	TargetWeights: map[types.StrategyID]float64{
		"sim-stable-yield": 0.45,
		"sim-lending":      0.30,
		"sim-locked-lp":    0.15,
		// The remaining 10% stays idle on top of MinimumTotalIdle.
	},
}
