package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// VaultName identifies the vault this DVM instance manages; it is also the
	// vault's ledger address.
	VaultName string

	// AssetSymbol is the base asset tracked on the ledger (e.g. "USDC").
	AssetSymbol string
	// AssetPrecision is the asset's decimal precision.
	AssetPrecision int

	// InitialVaultFunding is the amount minted to the vault at startup in
	// simulation mode, in base units.
	InitialVaultFunding uint64

	// StrategyMaxDebt is the per-strategy allocation ceiling in base units.
	StrategyMaxDebt uint64

	// LoopIntervalSeconds is the keeper cycle interval.
	LoopIntervalSeconds uint64

	// Mode selects the execution mode. Only "sim" is supported; the safety
	// switch in main refuses anything else.
	Mode string

	// WebPort is the port for the observability HTTP server.
	WebPort string

	// ParamsConfigName selects which rebalance parameter set is loaded from
	// the database.
	ParamsConfigName string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	VaultName, err = getEnv("DVM_VAULT_NAME")
	if err != nil {
		return err
	}

	AssetSymbol, err = getEnv("DVM_ASSET_SYMBOL")
	if err != nil {
		return err
	}

	precision, err := getEnvAsUint64("DVM_ASSET_PRECISION")
	if err != nil {
		return err
	}
	if precision > 18 {
		return errors.New("environment variable DVM_ASSET_PRECISION must be at most 18")
	}
	AssetPrecision = int(precision)

	InitialVaultFunding, err = getEnvAsUint64("DVM_INITIAL_FUNDING")
	if err != nil {
		return err
	}

	StrategyMaxDebt, err = getEnvAsUint64("DVM_STRATEGY_MAX_DEBT")
	if err != nil {
		return err
	}

	LoopIntervalSeconds, err = getEnvAsUint64("DVM_LOOP_INTERVAL_SECONDS")
	if err != nil {
		return err
	}

	Mode, err = getEnv("DVM_MODE")
	if err != nil {
		return err
	}

	WebPort, err = getEnv("DVM_WEB_PORT")
	if err != nil {
		return err
	}

	ParamsConfigName, err = getEnv("DVM_PARAMS_CONFIG_NAME")
	if err != nil {
		return err
	}

	log.Debug().
		Str("VaultName", VaultName).
		Str("AssetSymbol", AssetSymbol).
		Str("Mode", Mode).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}
