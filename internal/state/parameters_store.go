// ./internal/state/parameters_store.go
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/strandfi/dvm/internal/types"
)

// SaveRebalanceParameters saves a new version of rebalance parameters.
func SaveRebalanceParameters(params types.RebalanceParameters, configName string, version int, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	weightsJSON, err := json.Marshal(params.TargetWeights)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal target weights: %w", err)
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback() // Rollback if error occurred
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE rebalance_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		_, err = tx.Exec(stmtDeactivate, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	stmt := `
        INSERT INTO rebalance_parameters (
            version, config_name, is_active, activated_at, created_at,
            default_max_loss_bps, minimum_total_idle,
            rebalance_threshold_bps, max_decrease_bps_per_cycle,
            target_weights
        ) VALUES (
            $1, $2, $3, $4, $5,
            $6, $7,
            $8, $9,
            $10
        ) RETURNING params_id;`

	var paramsID int64
	currentTime := time.Now()
	err = tx.QueryRow(
		stmt,
		version, configName, makeActive, currentTime, currentTime,
		params.DefaultMaxLossBps, params.MinimumTotalIdle.String(),
		params.RebalanceThresholdBps, params.MaxDecreaseBpsPerCycle,
		weightsJSON,
	).Scan(&paramsID)

	if err != nil {
		return 0, fmt.Errorf("failed to insert rebalance parameters: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("params_id", paramsID).
		Bool("active", makeActive).
		Msg("Saved rebalance parameters")
	return paramsID, nil
}

// LoadActiveRebalanceParameters loads the currently active rebalance parameters.
func LoadActiveRebalanceParameters(configName string) (*types.RebalanceParameters, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT
            default_max_loss_bps, minimum_total_idle,
            rebalance_threshold_bps, max_decrease_bps_per_cycle,
            target_weights
        FROM rebalance_parameters
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	p := &types.RebalanceParameters{}
	var minIdleRaw string
	var weightsRaw []byte
	row := DB.QueryRow(query, configName)
	err := row.Scan(
		&p.DefaultMaxLossBps, &minIdleRaw,
		&p.RebalanceThresholdBps, &p.MaxDecreaseBpsPerCycle,
		&weightsRaw,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no active rebalance parameters found for config '%s'", configName)
		}
		return nil, fmt.Errorf("failed to scan active rebalance parameters for config '%s': %w", configName, err)
	}

	p.MinimumTotalIdle, err = intFromNumeric(minIdleRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse minimum total idle: %w", err)
	}
	if err := json.Unmarshal(weightsRaw, &p.TargetWeights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal target weights: %w", err)
	}

	log.Info().Str("config", configName).Msg("Loaded active rebalance parameters")
	return p, nil
}

// GetActiveRebalanceParametersID returns the params_id of the currently active rebalance parameters
func GetActiveRebalanceParametersID(configName string) (*int64, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT params_id
        FROM rebalance_parameters
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	var paramsID int64
	row := DB.QueryRow(query, configName)
	err := row.Scan(&paramsID)

	if err != nil {
		if err == sql.ErrNoRows {
			// No active parameters found - this is valid, return nil
			log.Debug().Str("config", configName).Msg("No active rebalance parameters found")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active rebalance parameters ID for config '%s': %w", configName, err)
	}

	log.Debug().
		Str("config", configName).
		Int64("params_id", paramsID).
		Msg("Retrieved active rebalance parameters ID")

	return &paramsID, nil
}
