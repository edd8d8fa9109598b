/*

This file contains the keeper: the cycle driver that periodically plans debt
changes with the allocator and executes them against the vault, persisting a
receipt per change and a snapshot per cycle.

*/

package keeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/strandfi/dvm/internal/allocator"
	"github.com/strandfi/dvm/internal/logger"
	"github.com/strandfi/dvm/internal/state"
	"github.com/strandfi/dvm/internal/types"
	"github.com/strandfi/dvm/internal/utils"
	"github.com/strandfi/dvm/internal/vault"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidConfig = errors.New("keeper configuration is invalid")
)

// Config wires a keeper to its vault and its tunables.
type Config struct {
	Vault          vault.Manager
	Params         types.RebalanceParameters
	ConfigName     string // Parameter config name in the database, defaults to "default".
	AssetPrecision int    // Decimal precision used only for metric display values.
}

// Keeper drives rebalance cycles on one vault.
type Keeper struct {
	vault          vault.Manager
	params         types.RebalanceParameters
	configName     string
	assetPrecision int
	log            zerolog.Logger
}

// New creates a keeper after validating its configuration.
func New(cfg Config) (*Keeper, error) {
	if cfg.Vault == nil {
		return nil, errors.Join(ErrInvalidConfig, errors.New("vault cannot be nil"))
	}
	if len(cfg.Params.TargetWeights) == 0 {
		return nil, errors.Join(ErrInvalidConfig, errors.New("target weights cannot be empty"))
	}
	if cfg.Params.MinimumTotalIdle.IsNil() || cfg.Params.MinimumTotalIdle.IsNegative() {
		return nil, errors.Join(ErrInvalidConfig, errors.New("minimum total idle must be non-negative"))
	}
	if cfg.Params.DefaultMaxLossBps > utils.MaxBps {
		return nil, errors.Join(ErrInvalidConfig, fmt.Errorf("default max loss %d bps exceeds %d", cfg.Params.DefaultMaxLossBps, utils.MaxBps))
	}
	if cfg.AssetPrecision < 0 || cfg.AssetPrecision > 18 {
		return nil, errors.Join(ErrInvalidConfig, fmt.Errorf("asset precision %d out of range", cfg.AssetPrecision))
	}
	if cfg.ConfigName == "" {
		cfg.ConfigName = "default"
	}
	return &Keeper{
		vault:          cfg.Vault,
		params:         cfg.Params,
		configName:     cfg.ConfigName,
		assetPrecision: cfg.AssetPrecision,
		log:            logger.GetForComponent("keeper"),
	}, nil
}

// RunLoop runs cycles until the context is cancelled. The first cycle starts
// immediately; later ones follow the interval.
func (k *Keeper) RunLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.Join(ErrInvalidConfig, fmt.Errorf("interval must be positive, got %s", interval))
	}
	k.log.Info().Dur("interval", interval).Msg("Keeper loop starting")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := k.RunCycle(); err != nil {
		k.log.Error().Err(err).Msg("Cycle failed")
	}
	for {
		select {
		case <-ctx.Done():
			k.log.Info().Msg("Keeper loop stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := k.RunCycle(); err != nil {
				k.log.Error().Err(err).Msg("Cycle failed")
			}
		}
	}
}

// RunCycle plans and executes one full rebalance pass. Individual UpdateDebt
// failures are recorded and skipped; only planning-level problems abort the
// cycle.
func (k *Keeper) RunCycle() error {
	cycleID := uuid.New().String()
	log := k.log.With().Str("cycleID", cycleID).Logger()
	start := time.Now()
	cyclesTotal.Inc()

	cycleNumber := 0
	var paramsID *int64
	if state.DB != nil {
		var err error
		if cycleNumber, err = state.IncrementCycleNumber(); err != nil {
			return fmt.Errorf("failed to advance cycle counter: %w", err)
		}
		if paramsID, err = state.GetActiveRebalanceParametersID(k.configName); err != nil {
			log.Warn().Err(err).Msg("Could not resolve active parameter set for snapshot")
		}
	}
	log.Info().Int("cycle", cycleNumber).Msg("Cycle starting")

	initialTotals := k.vault.Totals()
	states, initialSnapshots, err := k.collectStrategyState()
	if err != nil {
		return err
	}

	plan, err := allocator.BuildPlan(states, initialTotals, k.params)
	if err != nil {
		return fmt.Errorf("failed to build debt plan: %w", err)
	}
	if len(plan.Changes) == 0 {
		log.Info().Msg("Allocation already on target, nothing to do")
	}

	receipts := make([]types.RebalanceReceipt, 0, len(plan.Changes))
	rebalanced := sdkmath.ZeroInt()
	failed := 0
	for _, change := range plan.Changes {
		receipt, err := k.vault.UpdateDebt(change.StrategyID, change.TargetDebt, k.params.DefaultMaxLossBps)
		if err != nil {
			failed++
			rebalancesTotal.WithLabelValues("failure").Inc()
			log.Error().Err(err).
				Str("strategy", string(change.StrategyID)).
				Str("target", change.TargetDebt.String()).
				Msg("Debt change failed, continuing with remaining plan")
		} else {
			rebalancesTotal.WithLabelValues("success").Inc()
			rebalanced = rebalanced.Add(receipt.MovedAssets)
		}
		receipts = append(receipts, receipt)
		if state.DB != nil {
			if _, err := state.SaveRebalanceReceipt(receipt); err != nil {
				log.Error().Err(err).Msg("Failed to persist receipt")
			}
		}
	}

	finalTotals := k.vault.Totals()
	_, finalSnapshots, err := k.collectStrategyState()
	if err != nil {
		return err
	}
	k.updateGauges(finalTotals)

	if state.DB != nil {
		snapshot := types.CycleSnapshot{
			CycleNumber:       cycleNumber,
			Timestamp:         start,
			ParamsID:          paramsID,
			InitialTotalIdle:  initialTotals.TotalIdle,
			InitialTotalDebt:  initialTotals.TotalDebt,
			InitialStrategies: initialSnapshots,
			TargetWeights:     k.params.TargetWeights,
			Plan:              plan,
			FinalTotalIdle:    finalTotals.TotalIdle,
			FinalTotalDebt:    finalTotals.TotalDebt,
			FinalStrategies:   finalSnapshots,
			Receipts:          receipts,
			RebalancedAssets:  rebalanced,
			FailedChanges:     failed,
		}
		if _, err := state.SaveCycleSnapshot(snapshot); err != nil {
			log.Error().Err(err).Msg("Failed to persist cycle snapshot")
		}
	}

	log.Info().
		Int("changes", len(plan.Changes)).
		Int("failed", failed).
		Str("rebalanced", rebalanced.String()).
		Dur("elapsed", time.Since(start)).
		Msg("Cycle complete")
	return nil
}

// collectStrategyState reads every registered strategy's debt record once and
// derives both the allocator input and the snapshot rows from it.
func (k *Keeper) collectStrategyState() ([]allocator.StrategyState, []types.StrategyDebtSnapshot, error) {
	totalAssets := k.vault.TotalAssets()

	ids := k.vault.StrategyIDs()
	states := make([]allocator.StrategyState, 0, len(ids))
	snapshots := make([]types.StrategyDebtSnapshot, 0, len(ids))
	for _, id := range ids {
		params, err := k.vault.StrategyParams(id)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read strategy %s: %w", id, err)
		}
		states = append(states, allocator.StrategyState{ID: id, Params: params})
		snapshots = append(snapshots, types.StrategyDebtSnapshot{
			StrategyID:        id,
			CurrentDebt:       params.CurrentDebt,
			MaxDebt:           params.MaxDebt,
			AllocationPercent: allocationPercent(params.CurrentDebt, totalAssets),
		})
	}
	return states, snapshots, nil
}

func (k *Keeper) updateGauges(totals types.VaultTotals) {
	if idle, err := utils.IntToFloat64(totals.TotalIdle, k.assetPrecision); err == nil {
		totalIdleGauge.Set(idle)
	}
	if debt, err := utils.IntToFloat64(totals.TotalDebt, k.assetPrecision); err == nil {
		totalDebtGauge.Set(debt)
	}
}

func allocationPercent(debt, totalAssets sdkmath.Int) float64 {
	if totalAssets.IsZero() {
		return 0
	}
	return sdkmath.LegacyNewDecFromInt(debt).
		QuoInt(totalAssets).
		MulInt64(100).
		MustFloat64()
}
