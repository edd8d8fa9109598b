/*

This file contains the snapshot types persisted per keeper cycle so the state
of the vault before and after every rebalance pass can be reconstructed.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// StrategyDebtSnapshot captures one strategy's debt position at a point in time.
type StrategyDebtSnapshot struct {
	StrategyID        StrategyID  `json:"strategy_id"`
	CurrentDebt       sdkmath.Int `json:"current_debt"`
	MaxDebt           sdkmath.Int `json:"max_debt"`
	AllocationPercent float64     `json:"allocation_percent"` // Share of total vault assets, 0-100.
}

// CycleSnapshot is the complete record of one keeper cycle: the state before,
// the plan, what each UpdateDebt call did, and the state after.
type CycleSnapshot struct {
	SnapshotID  int64     `json:"snapshot_id,omitempty"`
	CycleNumber int       `json:"cycle_number"`
	Timestamp   time.Time `json:"timestamp"`
	ParamsID    *int64    `json:"params_id,omitempty"` // Active rebalance parameters in force for this cycle.

	// Pre-plan state
	InitialTotalIdle  sdkmath.Int            `json:"initial_total_idle"`
	InitialTotalDebt  sdkmath.Int            `json:"initial_total_debt"`
	InitialStrategies []StrategyDebtSnapshot `json:"initial_strategies"`

	// The plan
	TargetWeights map[StrategyID]float64 `json:"target_weights"`
	Plan          DebtPlan               `json:"plan"`

	// The outcome
	FinalTotalIdle   sdkmath.Int            `json:"final_total_idle"`
	FinalTotalDebt   sdkmath.Int            `json:"final_total_debt"`
	FinalStrategies  []StrategyDebtSnapshot `json:"final_strategies"`
	Receipts         []RebalanceReceipt     `json:"receipts"`
	RebalancedAssets sdkmath.Int            `json:"rebalanced_assets"` // Sum of MovedAssets over successful receipts.
	FailedChanges    int                    `json:"failed_changes"`
}
