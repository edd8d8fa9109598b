/*

This file contains the types for debt plans and rebalance receipts. A plan is a
sequence of per-strategy target-debt changes produced by the allocator; a
receipt records what one UpdateDebt call actually did.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// DebtDirection classifies a debt change.
type DebtDirection string

const (
	DebtDecrease DebtDirection = "DECREASE"
	DebtIncrease DebtDirection = "INCREASE"
	DebtNoOp     DebtDirection = "NO_OP"
)

// DebtChange is a single planned target-debt adjustment for one strategy.
type DebtChange struct {
	StrategyID  StrategyID    `json:"strategy_id"`
	Direction   DebtDirection `json:"direction"`
	CurrentDebt sdkmath.Int   `json:"current_debt"` // Debt at planning time, for traceability.
	TargetDebt  sdkmath.Int   `json:"target_debt"`
	DeltaAssets sdkmath.Int   `json:"delta_assets"` // Magnitude of the planned move.
}

// DebtPlan holds an ordered sequence of DebtChanges. Decreases always precede
// increases so freed liquidity can fund the deposits in the same cycle.
type DebtPlan struct {
	GoalDescription string       `json:"goal_description"`
	Changes         []DebtChange `json:"changes"`
}

// Decreases returns the number of planned decreases.
func (p DebtPlan) Decreases() int {
	n := 0
	for _, c := range p.Changes {
		if c.Direction == DebtDecrease {
			n++
		}
	}
	return n
}

// Increases returns the number of planned increases.
func (p DebtPlan) Increases() int {
	return len(p.Changes) - p.Decreases()
}

// RebalanceReceipt records the outcome of one UpdateDebt call, successful or
// not. MovedAssets is the observed balance delta, never the requested amount.
type RebalanceReceipt struct {
	ReceiptID       int64         `json:"receipt_id,omitempty"` // Auto-incremented by DB.
	StrategyID      StrategyID    `json:"strategy_id"`
	Direction       DebtDirection `json:"direction"`
	RequestedTarget sdkmath.Int   `json:"requested_target"`
	PriorDebt       sdkmath.Int   `json:"prior_debt"`
	NewDebt         sdkmath.Int   `json:"new_debt"`
	MovedAssets     sdkmath.Int   `json:"moved_assets"`
	Success         bool          `json:"success"`
	Message         string        `json:"message,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
}
