// ./internal/state/snapshot_store.go
package state

import (
	"encoding/json"
	"fmt"

	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"

	"github.com/strandfi/dvm/internal/types"
)

// SaveCycleSnapshot saves a complete cycle snapshot to the database.
func SaveCycleSnapshot(snapshot types.CycleSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	// Marshal all JSONB fields
	initialStrategiesJSON, err := json.Marshal(snapshot.InitialStrategies)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal initial_strategies: %w", err)
	}

	finalStrategiesJSON, err := json.Marshal(snapshot.FinalStrategies)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal final_strategies: %w", err)
	}

	targetWeightsJSON, err := json.Marshal(snapshot.TargetWeights)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal target_weights: %w", err)
	}

	debtPlanJSON, err := json.Marshal(snapshot.Plan)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal debt_plan: %w", err)
	}

	receiptsJSON, err := json.Marshal(snapshot.Receipts)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal receipts: %w", err)
	}

	strategyIDs := make([]string, 0, len(snapshot.InitialStrategies))
	for _, s := range snapshot.InitialStrategies {
		strategyIDs = append(strategyIDs, string(s.StrategyID))
	}

	query := `
		INSERT INTO cycle_snapshots (
			cycle_number, snapshot_timestamp, rebalance_params_id,
			initial_total_idle, initial_total_debt, initial_strategies,
			target_weights, debt_plan,
			final_total_idle, final_total_debt, final_strategies,
			receipts, rebalanced_assets, failed_changes, strategy_ids
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRow(
		query,
		snapshot.CycleNumber, snapshot.Timestamp, snapshot.ParamsID,
		snapshot.InitialTotalIdle.String(), snapshot.InitialTotalDebt.String(), initialStrategiesJSON,
		targetWeightsJSON, debtPlanJSON,
		snapshot.FinalTotalIdle.String(), snapshot.FinalTotalDebt.String(), finalStrategiesJSON,
		receiptsJSON, snapshot.RebalancedAssets.String(), snapshot.FailedChanges, pq.Array(strategyIDs),
	).Scan(&snapshotID)

	if err != nil {
		return 0, fmt.Errorf("failed to save cycle snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Int("cycle_number", snapshot.CycleNumber).
		Str("final_total_idle", snapshot.FinalTotalIdle.String()).
		Str("final_total_debt", snapshot.FinalTotalDebt.String()).
		Msg("Cycle snapshot saved to database")

	return snapshotID, nil
}
