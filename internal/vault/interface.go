package vault

import (
	sdkmath "cosmossdk.io/math"

	"github.com/strandfi/dvm/internal/types"
)

// Manager defines the interface for interacting with the vault's debt
// accounting. This interface abstracts away the specific implementation
// details of vault operations, allowing for different vault implementations
// (in-process book, simulation, etc.).
type Manager interface {
	// Totals returns the current idle/debt accounting pair.
	Totals() types.VaultTotals

	// TotalAssets returns TotalIdle + TotalDebt.
	TotalAssets() sdkmath.Int

	// StrategyIDs returns all registered strategy IDs in registration order.
	StrategyIDs() []types.StrategyID

	// StrategyParams returns the debt record for one strategy.
	StrategyParams(id types.StrategyID) (types.StrategyParams, error)

	// UpdateDebt moves one strategy's debt toward the target and returns a
	// receipt of what actually happened. This is the main method for
	// implementing rebalancing decisions.
	UpdateDebt(id types.StrategyID, targetDebt sdkmath.Int, maxLossBps uint32) (types.RebalanceReceipt, error)

	// MinimumTotalIdle returns the idle floor the vault keeps liquid.
	MinimumTotalIdle() sdkmath.Int

	// IsShutdown reports whether the vault is in recall-only mode.
	IsShutdown() bool
}
