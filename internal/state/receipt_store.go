// ./internal/state/receipt_store.go
package state

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/strandfi/dvm/internal/types"
)

// SaveRebalanceReceipt persists one UpdateDebt receipt, successful or not.
func SaveRebalanceReceipt(receipt types.RebalanceReceipt) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO rebalance_receipts (
			receipt_timestamp, strategy_id, direction,
			requested_target, prior_debt, new_debt, moved_assets,
			success, message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING receipt_id;
	`

	var receiptID int64
	err := DB.QueryRow(
		query,
		receipt.Timestamp, string(receipt.StrategyID), string(receipt.Direction),
		receipt.RequestedTarget.String(), receipt.PriorDebt.String(),
		receipt.NewDebt.String(), receipt.MovedAssets.String(),
		receipt.Success, receipt.Message,
	).Scan(&receiptID)

	if err != nil {
		return 0, fmt.Errorf("failed to save rebalance receipt: %w", err)
	}

	log.Debug().
		Int64("receipt_id", receiptID).
		Str("strategy", string(receipt.StrategyID)).
		Bool("success", receipt.Success).
		Msg("Rebalance receipt saved")

	return receiptID, nil
}

// GetRecentReceipts returns the most recent rebalance receipts, newest first.
func GetRecentReceipts(limit int) ([]types.RebalanceReceipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT receipt_id, receipt_timestamp, strategy_id, direction,
		       requested_target, prior_debt, new_debt, moved_assets,
		       success, message
		FROM rebalance_receipts
		ORDER BY receipt_timestamp DESC
		LIMIT $1;`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rebalance receipts: %w", err)
	}
	defer rows.Close()

	var receipts []types.RebalanceReceipt
	for rows.Next() {
		var r types.RebalanceReceipt
		var strategyID, direction string
		var requestedTarget, priorDebt, newDebt, movedAssets string
		if err := rows.Scan(
			&r.ReceiptID, &r.Timestamp, &strategyID, &direction,
			&requestedTarget, &priorDebt, &newDebt, &movedAssets,
			&r.Success, &r.Message,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rebalance receipt: %w", err)
		}
		r.StrategyID = types.StrategyID(strategyID)
		r.Direction = types.DebtDirection(direction)
		if r.RequestedTarget, err = intFromNumeric(requestedTarget); err != nil {
			return nil, err
		}
		if r.PriorDebt, err = intFromNumeric(priorDebt); err != nil {
			return nil, err
		}
		if r.NewDebt, err = intFromNumeric(newDebt); err != nil {
			return nil, err
		}
		if r.MovedAssets, err = intFromNumeric(movedAssets); err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rebalance receipts: %w", err)
	}
	return receipts, nil
}
