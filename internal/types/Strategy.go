/*

This file contains the types for registered strategies which hold all the state
needed for assisting in debt rebalancing.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// StrategyID identifies a registered yield strategy within a vault.
type StrategyID string

// StrategyParams is the per-strategy record the vault keeps for debt accounting.
type StrategyParams struct {
	CurrentDebt sdkmath.Int `json:"current_debt"` // Asset value currently allocated to the strategy. Mutated only by the rebalancer.
	MaxDebt     sdkmath.Int `json:"max_debt"`     // Governance-set allocation ceiling. Read-only to the rebalancer.
	LastReport  time.Time   `json:"last_report"`  // Timestamp of the last report. Mutated by the reporting subsystem, not here.
}

// NewStrategyParams returns the record for a freshly registered strategy.
// Strategies always start with zero debt.
func NewStrategyParams(maxDebt sdkmath.Int) StrategyParams {
	return StrategyParams{
		CurrentDebt: sdkmath.ZeroInt(),
		MaxDebt:     maxDebt,
		LastReport:  time.Now(),
	}
}
