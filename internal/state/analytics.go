package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/strandfi/dvm/internal/types"
)

// VaultSummary represents high-level vault statistics
type VaultSummary struct {
	TotalAssets   string `json:"total_assets"`
	TotalIdle     string `json:"total_idle"`
	TotalDebt     string `json:"total_debt"`
	StrategyCount int    `json:"strategy_count"`
	TotalCycles   int    `json:"total_cycles"`
	LastUpdated   string `json:"last_updated"`
}

// PerformanceMetrics represents aggregated rebalancing performance data
type PerformanceMetrics struct {
	TotalRebalancedAssets string  `json:"total_rebalanced_assets"`
	TotalFailedChanges    int     `json:"total_failed_changes"`
	AvgChangesPerCycle    float64 `json:"avg_changes_per_cycle"`
	TotalCycles           int     `json:"total_cycles"`
	CleanCycles           int     `json:"clean_cycles"` // Cycles with zero failed changes.
}

// GetRecentCycles retrieves recent cycle snapshots with pagination
func GetRecentCycles(limit int) ([]types.CycleSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if limit <= 0 || limit > 100 {
		limit = 10 // Default limit
	}

	query := `
		SELECT
			snapshot_id, cycle_number, snapshot_timestamp, rebalance_params_id,
			initial_total_idle, initial_total_debt, initial_strategies,
			target_weights, debt_plan,
			final_total_idle, final_total_debt, final_strategies,
			receipts, rebalanced_assets, failed_changes
		FROM cycle_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT $1
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query recent cycles")
		return nil, fmt.Errorf("failed to query recent cycles: %w", err)
	}
	defer rows.Close()

	var cycles []types.CycleSnapshot
	for rows.Next() {
		cycle, err := scanCycleSnapshot(rows)
		if err != nil {
			log.Error().Err(err).Msg("Failed to scan cycle row")
			continue // Skip this row and continue with others
		}
		cycles = append(cycles, cycle)
	}

	if err := rows.Err(); err != nil {
		log.Error().Err(err).Msg("Error occurred during row iteration")
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	log.Info().Int("count", len(cycles)).Int("limit", limit).Msg("Retrieved recent cycles")
	return cycles, nil
}

// GetCycleByID retrieves a single cycle snapshot by its snapshot ID.
func GetCycleByID(snapshotID int64) (*types.CycleSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT
			snapshot_id, cycle_number, snapshot_timestamp, rebalance_params_id,
			initial_total_idle, initial_total_debt, initial_strategies,
			target_weights, debt_plan,
			final_total_idle, final_total_debt, final_strategies,
			receipts, rebalanced_assets, failed_changes
		FROM cycle_snapshots
		WHERE snapshot_id = $1
	`

	row := DB.QueryRow(query, snapshotID)
	cycle, err := scanCycleSnapshot(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no cycle snapshot found with id %d", snapshotID)
		}
		return nil, fmt.Errorf("failed to get cycle snapshot %d: %w", snapshotID, err)
	}
	return &cycle, nil
}

// GetVaultSummary aggregates the latest cycle snapshot into a dashboard summary.
func GetVaultSummary() (*VaultSummary, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT
			final_total_idle, final_total_debt,
			COALESCE(array_length(strategy_ids, 1), 0),
			snapshot_timestamp
		FROM cycle_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT 1
	`

	summary := &VaultSummary{}
	var idleRaw, debtRaw, lastUpdated string
	err := DB.QueryRow(query).Scan(&idleRaw, &debtRaw, &summary.StrategyCount, &lastUpdated)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no cycle snapshots recorded yet")
		}
		return nil, fmt.Errorf("failed to get vault summary: %w", err)
	}

	idle, err := intFromNumeric(idleRaw)
	if err != nil {
		return nil, err
	}
	debt, err := intFromNumeric(debtRaw)
	if err != nil {
		return nil, err
	}
	summary.TotalIdle = idle.String()
	summary.TotalDebt = debt.String()
	summary.TotalAssets = idle.Add(debt).String()
	summary.LastUpdated = lastUpdated

	if summary.TotalCycles, err = GetCurrentCycleNumber(); err != nil {
		return nil, err
	}
	return summary, nil
}

// GetPerformanceMetrics aggregates rebalancing outcomes across all cycles.
func GetPerformanceMetrics() (*PerformanceMetrics, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT
			COALESCE(SUM(rebalanced_assets), 0)::TEXT,
			COALESCE(SUM(failed_changes), 0),
			COUNT(*),
			COUNT(*) FILTER (WHERE failed_changes = 0)
		FROM cycle_snapshots
	`

	metrics := &PerformanceMetrics{}
	var totalMovedRaw string
	err := DB.QueryRow(query).Scan(
		&totalMovedRaw, &metrics.TotalFailedChanges,
		&metrics.TotalCycles, &metrics.CleanCycles,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get performance metrics: %w", err)
	}

	totalMoved, err := intFromNumeric(totalMovedRaw)
	if err != nil {
		return nil, err
	}
	metrics.TotalRebalancedAssets = totalMoved.String()

	if metrics.TotalCycles > 0 {
		var totalChanges int
		countQuery := `SELECT COALESCE(SUM(jsonb_array_length(COALESCE(receipts, '[]'::jsonb))), 0) FROM cycle_snapshots`
		if err := DB.QueryRow(countQuery).Scan(&totalChanges); err != nil {
			return nil, fmt.Errorf("failed to count receipt entries: %w", err)
		}
		metrics.AvgChangesPerCycle = float64(totalChanges) / float64(metrics.TotalCycles)
	}
	return metrics, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCycleSnapshot(row rowScanner) (types.CycleSnapshot, error) {
	var cycle types.CycleSnapshot
	var initialIdleRaw, initialDebtRaw, finalIdleRaw, finalDebtRaw, rebalancedRaw string
	var initialStrategiesJSON, targetWeightsJSON, debtPlanJSON, finalStrategiesJSON, receiptsJSON []byte

	err := row.Scan(
		&cycle.SnapshotID, &cycle.CycleNumber, &cycle.Timestamp, &cycle.ParamsID,
		&initialIdleRaw, &initialDebtRaw, &initialStrategiesJSON,
		&targetWeightsJSON, &debtPlanJSON,
		&finalIdleRaw, &finalDebtRaw, &finalStrategiesJSON,
		&receiptsJSON, &rebalancedRaw, &cycle.FailedChanges,
	)
	if err != nil {
		return cycle, err
	}

	if cycle.InitialTotalIdle, err = intFromNumeric(initialIdleRaw); err != nil {
		return cycle, err
	}
	if cycle.InitialTotalDebt, err = intFromNumeric(initialDebtRaw); err != nil {
		return cycle, err
	}
	if cycle.FinalTotalIdle, err = intFromNumeric(finalIdleRaw); err != nil {
		return cycle, err
	}
	if cycle.FinalTotalDebt, err = intFromNumeric(finalDebtRaw); err != nil {
		return cycle, err
	}
	if cycle.RebalancedAssets, err = intFromNumeric(rebalancedRaw); err != nil {
		return cycle, err
	}

	for name, pair := range map[string]struct {
		raw []byte
		dst any
	}{
		"initial strategies": {initialStrategiesJSON, &cycle.InitialStrategies},
		"target weights":     {targetWeightsJSON, &cycle.TargetWeights},
		"debt plan":          {debtPlanJSON, &cycle.Plan},
		"final strategies":   {finalStrategiesJSON, &cycle.FinalStrategies},
		"receipts":           {receiptsJSON, &cycle.Receipts},
	} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return cycle, fmt.Errorf("failed to unmarshal %s: %w", name, err)
		}
	}
	return cycle, nil
}
