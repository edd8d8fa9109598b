/*

This file contains the debt rebalancer: the single state transition that moves
one strategy's debt toward a target. It clamps the request against liquidity
floors and strategy capacity, executes the transfer through the ledger, and
derives the actual movement from observed balance deltas rather than trusting
the requested amount.

*/

package rebalancer

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/strandfi/dvm/internal/logger"
	"github.com/strandfi/dvm/internal/strategy"
	"github.com/strandfi/dvm/internal/types"
	"github.com/strandfi/dvm/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidInputs     = errors.New("rebalance inputs are invalid")
	ErrNoChangeRequested = errors.New("target debt equals current debt")
	ErrUnrealisedLoss    = errors.New("unrealised loss blocks withdrawal")
	ErrExcessiveLoss     = errors.New("realised loss exceeds tolerance")
	ErrStrategyCall      = errors.New("strategy call failed")
	ErrLedgerCall        = errors.New("ledger call failed")
)

var rebalancerLogger = logger.GetForComponent("rebalancer")

// AssetLedger is the slice of the ledger the rebalancer needs: balance reads
// to derive actuals and allowance writes to scope deposits.
type AssetLedger interface {
	BalanceOf(holder string) (sdkmath.Int, error)
	Approve(owner, spender string, amount sdkmath.Int) error
}

// LossOracle assesses how much of a requested withdrawal would realise a loss
// that the vault has not yet reported.
type LossOracle interface {
	AssessUnrealisedLoss(id types.StrategyID, currentDebt, requested sdkmath.Int) (sdkmath.Int, error)
}

// Request carries the caller-supplied parameters of one rebalance.
type Request struct {
	TargetDebt       sdkmath.Int
	MaxLossBps       uint32      // Tolerated realised shortfall on a decrease, in basis points.
	MinimumTotalIdle sdkmath.Int // Idle floor the vault must keep liquid.
	IsShutdown       bool        // A shutdown vault only ever recalls debt.
}

// Execute runs one debt rebalance for the given strategy and returns the new
// accounting values the caller must persist atomically. A nil error with an
// unchanged result means the request degraded to a no-op; a non-nil error
// means the rebalance must not be recorded at all.
func Execute(
	strat strategy.YieldStrategy,
	ldgr AssetLedger,
	losses LossOracle,
	vaultAddress string,
	params types.StrategyParams,
	totals types.VaultTotals,
	req Request,
) (types.RebalanceResult, error) {
	unchanged := types.RebalanceResult{
		NewDebt:      params.CurrentDebt,
		NewTotalIdle: totals.TotalIdle,
		NewTotalDebt: totals.TotalDebt,
	}

	if err := validateInputs(strat, ldgr, losses, vaultAddress, params, totals, req); err != nil {
		return unchanged, err
	}

	currentDebt := params.CurrentDebt
	target := req.TargetDebt
	if req.IsShutdown {
		// A shutdown vault recalls everything regardless of the requested target.
		target = sdkmath.ZeroInt()
	}

	if target.Equal(currentDebt) {
		return unchanged, errors.Join(ErrNoChangeRequested,
			fmt.Errorf("strategy %s already at debt %s", strat.ID(), currentDebt))
	}

	if target.LT(currentDebt) {
		return executeDecrease(strat, ldgr, losses, vaultAddress, currentDebt, totals, target, req)
	}
	return executeIncrease(strat, ldgr, vaultAddress, params, totals, target, req)
}

// executeDecrease recalls debt from the strategy back into idle.
func executeDecrease(
	strat strategy.YieldStrategy,
	ldgr AssetLedger,
	losses LossOracle,
	vaultAddress string,
	currentDebt sdkmath.Int,
	totals types.VaultTotals,
	target sdkmath.Int,
	req Request,
) (types.RebalanceResult, error) {
	unchanged := types.RebalanceResult{
		NewDebt:      currentDebt,
		NewTotalIdle: totals.TotalIdle,
		NewTotalDebt: totals.TotalDebt,
	}
	log := rebalancerLogger.With().Str("strategy", string(strat.ID())).Logger()

	toWithdraw := currentDebt.Sub(target)

	// Liquidity floor: if idle sits below the minimum, the recall must at
	// least refill the gap, capped at what the strategy actually owes.
	if totals.TotalIdle.Add(toWithdraw).LT(req.MinimumTotalIdle) {
		toWithdraw = sdkmath.MinInt(req.MinimumTotalIdle.Sub(totals.TotalIdle), currentDebt)
	}

	// Clamp to what the strategy can release right now. Capacity is measured
	// share-first so strategy-side locks are respected exactly.
	maxShares, err := strat.MaxRedeemableShares(vaultAddress)
	if err != nil {
		return unchanged, errors.Join(ErrStrategyCall, fmt.Errorf("max redeemable shares: %w", err))
	}
	capacity, err := strat.ConvertSharesToAssets(maxShares)
	if err != nil {
		return unchanged, errors.Join(ErrStrategyCall, fmt.Errorf("convert shares: %w", err))
	}
	if capacity.IsZero() {
		log.Warn().Str("requested", toWithdraw.String()).Msg("Strategy has no withdrawable liquidity, skipping")
		return unchanged, nil
	}
	if capacity.LT(toWithdraw) {
		log.Debug().
			Str("requested", toWithdraw.String()).
			Str("capacity", capacity.String()).
			Msg("Withdrawal clamped to strategy capacity")
		toWithdraw = capacity
	}

	// A withdrawal that would realise an unreported loss is refused outright;
	// losses must flow through reporting, not be silently crystallised here.
	unrealised, err := losses.AssessUnrealisedLoss(strat.ID(), currentDebt, toWithdraw)
	if err != nil {
		return unchanged, errors.Join(ErrStrategyCall, fmt.Errorf("assess unrealised loss: %w", err))
	}
	if unrealised.IsPositive() {
		return unchanged, errors.Join(ErrUnrealisedLoss,
			fmt.Errorf("withdrawing %s would realise %s of unreported loss", toWithdraw, unrealised))
	}

	shares, err := strat.PreviewWithdrawShares(toWithdraw)
	if err != nil {
		return unchanged, errors.Join(ErrStrategyCall, fmt.Errorf("preview withdraw: %w", err))
	}
	shares = sdkmath.MinInt(shares, maxShares)
	if shares.IsZero() {
		return unchanged, nil
	}

	balanceBefore, err := ldgr.BalanceOf(vaultAddress)
	if err != nil {
		return unchanged, errors.Join(ErrLedgerCall, fmt.Errorf("pre-redeem balance: %w", err))
	}
	if err := strat.Redeem(shares, vaultAddress); err != nil {
		return unchanged, errors.Join(ErrStrategyCall, fmt.Errorf("redeem: %w", err))
	}
	balanceAfter, err := ldgr.BalanceOf(vaultAddress)
	if err != nil {
		return unchanged, errors.Join(ErrLedgerCall, fmt.Errorf("post-redeem balance: %w", err))
	}

	// What moved is what the ledger says moved.
	withdrawn := balanceAfter.Sub(balanceBefore)
	if withdrawn.IsNegative() {
		return unchanged, errors.Join(ErrStrategyCall,
			fmt.Errorf("redeem decreased vault balance by %s", withdrawn.Neg()))
	}

	if withdrawn.LT(toWithdraw) {
		shortfall := toWithdraw.Sub(withdrawn)
		tolerated, err := utils.BpsOf(toWithdraw, req.MaxLossBps)
		if err != nil {
			return unchanged, errors.Join(ErrInvalidInputs, err)
		}
		if shortfall.GT(tolerated) {
			return unchanged, errors.Join(ErrExcessiveLoss,
				fmt.Errorf("shortfall %s exceeds tolerance %s on withdrawal of %s", shortfall, tolerated, toWithdraw))
		}
		log.Warn().
			Str("requested", toWithdraw.String()).
			Str("withdrawn", withdrawn.String()).
			Str("shortfall", shortfall.String()).
			Msg("Withdrawal shortfall within tolerance")
	}

	// Debt is reduced by what actually came back. Any tolerated shortfall
	// stays on the books as debt until the reporting subsystem writes it off.
	debtCut := sdkmath.MinInt(withdrawn, currentDebt)
	result := types.RebalanceResult{
		NewDebt:      currentDebt.Sub(debtCut),
		NewTotalIdle: totals.TotalIdle.Add(withdrawn),
		NewTotalDebt: totals.TotalDebt.Sub(debtCut),
	}

	log.Info().
		Str("priorDebt", currentDebt.String()).
		Str("newDebt", result.NewDebt.String()).
		Str("withdrawn", withdrawn.String()).
		Msg("Debt decreased")
	return result, nil
}

// executeIncrease pushes idle assets into the strategy as new debt.
func executeIncrease(
	strat strategy.YieldStrategy,
	ldgr AssetLedger,
	vaultAddress string,
	params types.StrategyParams,
	totals types.VaultTotals,
	target sdkmath.Int,
	req Request,
) (types.RebalanceResult, error) {
	unchanged := types.RebalanceResult{
		NewDebt:      params.CurrentDebt,
		NewTotalIdle: totals.TotalIdle,
		NewTotalDebt: totals.TotalDebt,
	}
	log := rebalancerLogger.With().Str("strategy", string(strat.ID())).Logger()
	currentDebt := params.CurrentDebt

	if target.GT(params.MaxDebt) {
		target = params.MaxDebt
	}
	if target.LTE(currentDebt) {
		log.Debug().
			Str("maxDebt", params.MaxDebt.String()).
			Str("currentDebt", currentDebt.String()).
			Msg("Max debt ceiling leaves no room to increase, skipping")
		return unchanged, nil
	}
	toDeposit := target.Sub(currentDebt)

	maxDepositable, err := strat.MaxDepositable(vaultAddress)
	if err != nil {
		return unchanged, errors.Join(ErrStrategyCall, fmt.Errorf("max depositable: %w", err))
	}
	if maxDepositable.IsZero() {
		log.Warn().Msg("Strategy accepts no deposits, skipping")
		return unchanged, nil
	}
	toDeposit = sdkmath.MinInt(toDeposit, maxDepositable)

	// Never dip below the idle floor to fund a deposit.
	if totals.TotalIdle.LTE(req.MinimumTotalIdle) {
		log.Debug().
			Str("totalIdle", totals.TotalIdle.String()).
			Str("minimumTotalIdle", req.MinimumTotalIdle.String()).
			Msg("Idle at or below floor, skipping deposit")
		return unchanged, nil
	}
	toDeposit = sdkmath.MinInt(toDeposit, totals.TotalIdle.Sub(req.MinimumTotalIdle))
	if toDeposit.IsZero() {
		return unchanged, nil
	}

	// Scoped allowance: grant exactly what this deposit may pull and revoke
	// whatever is left afterwards, whether the deposit succeeded or not.
	if err := ldgr.Approve(vaultAddress, strat.Address(), toDeposit); err != nil {
		return unchanged, errors.Join(ErrLedgerCall, fmt.Errorf("approve deposit: %w", err))
	}
	revoke := func() {
		if err := ldgr.Approve(vaultAddress, strat.Address(), sdkmath.ZeroInt()); err != nil {
			log.Error().Err(err).Msg("Failed to revoke deposit allowance")
		}
	}

	balanceBefore, err := ldgr.BalanceOf(vaultAddress)
	if err != nil {
		revoke()
		return unchanged, errors.Join(ErrLedgerCall, fmt.Errorf("pre-deposit balance: %w", err))
	}
	depositErr := strat.Deposit(toDeposit, vaultAddress)
	revoke()
	if depositErr != nil {
		return unchanged, errors.Join(ErrStrategyCall, fmt.Errorf("deposit: %w", depositErr))
	}
	balanceAfter, err := ldgr.BalanceOf(vaultAddress)
	if err != nil {
		return unchanged, errors.Join(ErrLedgerCall, fmt.Errorf("post-deposit balance: %w", err))
	}

	deposited := balanceBefore.Sub(balanceAfter)
	if deposited.IsNegative() {
		return unchanged, errors.Join(ErrStrategyCall,
			fmt.Errorf("deposit increased vault balance by %s", deposited.Neg()))
	}
	if deposited.LT(toDeposit) {
		log.Warn().
			Str("requested", toDeposit.String()).
			Str("deposited", deposited.String()).
			Msg("Strategy pulled less than requested")
	}

	result := types.RebalanceResult{
		NewDebt:      currentDebt.Add(deposited),
		NewTotalIdle: totals.TotalIdle.Sub(deposited),
		NewTotalDebt: totals.TotalDebt.Add(deposited),
	}

	log.Info().
		Str("priorDebt", currentDebt.String()).
		Str("newDebt", result.NewDebt.String()).
		Str("deposited", deposited.String()).
		Msg("Debt increased")
	return result, nil
}

// validateInputs checks every rebalance input before any state is touched.
func validateInputs(
	strat strategy.YieldStrategy,
	ldgr AssetLedger,
	losses LossOracle,
	vaultAddress string,
	params types.StrategyParams,
	totals types.VaultTotals,
	req Request,
) error {
	if strat == nil {
		return errors.Join(ErrInvalidInputs, errors.New("strategy cannot be nil"))
	}
	if ldgr == nil {
		return errors.Join(ErrInvalidInputs, errors.New("ledger cannot be nil"))
	}
	if losses == nil {
		return errors.Join(ErrInvalidInputs, errors.New("loss oracle cannot be nil"))
	}
	if vaultAddress == "" {
		return errors.Join(ErrInvalidInputs, errors.New("vault address cannot be empty"))
	}
	if req.MaxLossBps > utils.MaxBps {
		return errors.Join(ErrInvalidInputs, fmt.Errorf("max loss %d bps exceeds %d", req.MaxLossBps, utils.MaxBps))
	}
	for name, v := range map[string]sdkmath.Int{
		"current debt":       params.CurrentDebt,
		"max debt":           params.MaxDebt,
		"total idle":         totals.TotalIdle,
		"total debt":         totals.TotalDebt,
		"target debt":        req.TargetDebt,
		"minimum total idle": req.MinimumTotalIdle,
	} {
		if v.IsNil() {
			return errors.Join(ErrInvalidInputs, fmt.Errorf("%s is nil", name))
		}
		if v.IsNegative() {
			return errors.Join(ErrInvalidInputs, fmt.Errorf("%s is negative: %s", name, v))
		}
	}
	return nil
}
