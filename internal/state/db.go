// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	// Debt amounts are stored as NUMERIC(40, 0): base asset units, no decimals,
	// wide enough for 256-bit integer math done in the application.
	schemaSQL := `
		CREATE TABLE IF NOT EXISTS rebalance_parameters (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			default_max_loss_bps INTEGER NOT NULL,
			minimum_total_idle NUMERIC(40, 0) NOT NULL,
			rebalance_threshold_bps INTEGER NOT NULL,
			max_decrease_bps_per_cycle INTEGER NOT NULL,
			target_weights JSONB NOT NULL,
			CONSTRAINT uq_rebalance_parameters_config_version UNIQUE (config_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_rebalance_parameters_config_active ON rebalance_parameters(config_name, is_active, activated_at DESC);

		CREATE TABLE IF NOT EXISTS rebalance_receipts (
			receipt_id SERIAL PRIMARY KEY,
			receipt_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			strategy_id VARCHAR(255) NOT NULL,
			direction VARCHAR(16) NOT NULL,
			requested_target NUMERIC(40, 0) NOT NULL,
			prior_debt NUMERIC(40, 0) NOT NULL,
			new_debt NUMERIC(40, 0) NOT NULL,
			moved_assets NUMERIC(40, 0) NOT NULL,
			success BOOLEAN NOT NULL,
			message TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_rebalance_receipts_timestamp ON rebalance_receipts(receipt_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_rebalance_receipts_strategy ON rebalance_receipts(strategy_id);

		CREATE TABLE IF NOT EXISTS cycle_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			cycle_number INTEGER NOT NULL,
			snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			rebalance_params_id INTEGER REFERENCES rebalance_parameters(params_id),

			-- Pre-plan state
			initial_total_idle NUMERIC(40, 0) NOT NULL,
			initial_total_debt NUMERIC(40, 0) NOT NULL,
			initial_strategies JSONB,

			-- The plan
			target_weights JSONB,
			debt_plan JSONB,

			-- The outcome
			final_total_idle NUMERIC(40, 0) NOT NULL,
			final_total_debt NUMERIC(40, 0) NOT NULL,
			final_strategies JSONB,
			receipts JSONB,
			rebalanced_assets NUMERIC(40, 0) NOT NULL,
			failed_changes INTEGER NOT NULL DEFAULT 0,
			strategy_ids TEXT[]
		);
		CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_timestamp ON cycle_snapshots(snapshot_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_cycle ON cycle_snapshots(cycle_number DESC);

		-- Cycle counter table for persistent global cycle tracking
		CREATE TABLE IF NOT EXISTS cycle_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_cycle INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		-- Insert initial row if it doesn't exist
		INSERT INTO cycle_counter (id, current_cycle)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}

// intFromNumeric converts a NUMERIC column scanned as string into an sdkmath Int.
func intFromNumeric(raw string) (sdkmath.Int, error) {
	v, ok := sdkmath.NewIntFromString(raw)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("failed to parse numeric value %q", raw)
	}
	return v, nil
}
