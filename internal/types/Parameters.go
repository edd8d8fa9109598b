/*

This file contains the configurable rebalance parameters for the DVM. Different
versions of these parameters can exist per config name; exactly one set is
active at a time.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// RebalanceParameters holds all tunable thresholds used by the allocator and
// the keeper when driving debt toward target weights.
type RebalanceParameters struct {
	// DefaultMaxLossBps is the withdrawal shortfall tolerance passed to every
	// keeper-initiated rebalance, in basis points out of 10,000. 10,000 means
	// accept any loss.
	DefaultMaxLossBps uint32 `json:"default_max_loss_bps"`

	// MinimumTotalIdle is the liquidity floor the vault preserves in idle
	// funds across rebalances, in base asset units.
	MinimumTotalIdle sdkmath.Int `json:"minimum_total_idle"`

	// RebalanceThresholdBps is the minimum planned debt delta, as basis points
	// of total vault assets, required before the allocator emits a change for
	// a strategy. Smaller drifts are left alone.
	RebalanceThresholdBps uint32 `json:"rebalance_threshold_bps"`

	// MaxDecreaseBpsPerCycle caps the aggregate debt decrease per cycle, as
	// basis points of total vault assets. Decreases crystallize slippage and
	// strategy exit costs, so they are throttled; increases are not.
	MaxDecreaseBpsPerCycle uint32 `json:"max_decrease_bps_per_cycle"`

	// TargetWeights maps each strategy to its desired share of total vault
	// assets, as fractions in [0, 1]. The weights may sum to less than 1; the
	// remainder stays idle on top of MinimumTotalIdle.
	TargetWeights map[StrategyID]float64 `json:"target_weights"`
}
