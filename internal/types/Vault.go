/*

This file contains the vault-wide accounting types shared by the rebalancer,
the vault book and the persistence layer.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// VaultTotals is the singleton accounting pair per vault. TotalIdle is asset
// held directly by the vault; TotalDebt is the sum of all strategies'
// CurrentDebt. TotalIdle + TotalDebt approximates total vault assets modulo
// strategy-side gains or losses not yet reported.
type VaultTotals struct {
	TotalIdle sdkmath.Int `json:"total_idle"`
	TotalDebt sdkmath.Int `json:"total_debt"`
}

// NewVaultTotals returns zeroed totals.
func NewVaultTotals() VaultTotals {
	return VaultTotals{
		TotalIdle: sdkmath.ZeroInt(),
		TotalDebt: sdkmath.ZeroInt(),
	}
}

// TotalAssets returns TotalIdle + TotalDebt.
func (t VaultTotals) TotalAssets() sdkmath.Int {
	return t.TotalIdle.Add(t.TotalDebt)
}

// RebalanceResult is the ephemeral output of one rebalance call: the exact
// values the caller must write atomically into the strategy record and the
// vault totals. It has no lifecycle of its own.
type RebalanceResult struct {
	NewDebt      sdkmath.Int `json:"new_debt"`
	NewTotalIdle sdkmath.Int `json:"new_total_idle"`
	NewTotalDebt sdkmath.Int `json:"new_total_debt"`
}

// Unchanged reports whether the result leaves the given state as it was,
// i.e. the rebalance degraded to a no-op.
func (r RebalanceResult) Unchanged(params StrategyParams, totals VaultTotals) bool {
	return r.NewDebt.Equal(params.CurrentDebt) &&
		r.NewTotalIdle.Equal(totals.TotalIdle) &&
		r.NewTotalDebt.Equal(totals.TotalDebt)
}
