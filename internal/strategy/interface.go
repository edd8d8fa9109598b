package strategy

import (
	sdkmath "cosmossdk.io/math"

	"github.com/strandfi/dvm/internal/types"
)

// Unbounded is the capacity returned by strategies that impose no limit of
// their own. Large enough that any realistic clamp happens elsewhere first.
var Unbounded = sdkmath.NewIntWithDecimal(1, 38)

// YieldStrategy defines the capability surface the vault needs from a yield
// strategy. It abstracts away how a strategy generates yield, allowing for
// different implementations (simulated, lossy, liquidity-locked, etc.) behind
// one interface.
type YieldStrategy interface {
	// ID returns the strategy's registry identifier.
	ID() types.StrategyID

	// Address returns the strategy's ledger address, which is also the
	// spender of any deposit allowance the vault grants.
	Address() string

	// TotalAssets returns the current asset value of everything the strategy
	// holds, including unrealised gains or losses.
	TotalAssets() (sdkmath.Int, error)

	// MaxRedeemableShares returns how many of the holder's shares the
	// strategy can currently honor, reflecting strategy-side liquidity locks
	// and redemption caps.
	MaxRedeemableShares(holder string) (sdkmath.Int, error)

	// ConvertSharesToAssets values a share amount at the current share price.
	ConvertSharesToAssets(shares sdkmath.Int) (sdkmath.Int, error)

	// PreviewWithdrawShares returns the share amount needed to withdraw the
	// given assets, rounded up so the requester never receives less than a
	// full-share rounding would allow.
	PreviewWithdrawShares(assets sdkmath.Int) (sdkmath.Int, error)

	// MaxDepositable returns how much the strategy can currently accept.
	MaxDepositable(receiver string) (sdkmath.Int, error)

	// Deposit pulls up to the approved amount from the depositor. Strategies
	// may pull less than requested; callers must measure what actually moved.
	Deposit(assets sdkmath.Int, from string) error

	// Redeem burns the holder's shares and pays out assets. Strategies may
	// apply slippage or rounding; callers must measure what actually moved.
	Redeem(shares sdkmath.Int, holder string) error
}

// Snapshotter is implemented by strategies whose internal state can be
// captured and rolled back, which the vault book uses to keep a failed
// rebalance atomic after its transfer already executed.
type Snapshotter interface {
	Snapshot() any
	Restore(snapshot any)
}
