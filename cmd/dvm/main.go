package main

import (
	"context"
	"os"
	"sort"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/strandfi/dvm/internal/config"
	"github.com/strandfi/dvm/internal/keeper"
	"github.com/strandfi/dvm/internal/ledger"
	"github.com/strandfi/dvm/internal/logger"
	"github.com/strandfi/dvm/internal/state"
	"github.com/strandfi/dvm/internal/strategy"
	"github.com/strandfi/dvm/internal/types"
	"github.com/strandfi/dvm/internal/vault"
	"github.com/strandfi/dvm/internal/web"
)

const (
	DEFAULT_PARAMS_CONFIG_VERSION = 1
)

// main is the entry point for the DVM system.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("DVM Core Logic Starting...")

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load Rebalance Parameters
	rebalanceParams, err := state.LoadActiveRebalanceParameters(config.ParamsConfigName)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load active rebalance parameters, using defaults and saving.")
		defaultParams := config.DefaultRebalanceParameters
		if _, err := state.SaveRebalanceParameters(defaultParams, config.ParamsConfigName, DEFAULT_PARAMS_CONFIG_VERSION, true); err != nil {
			log.Fatal().Err(err).Msg("Failed to save initial default rebalance parameters.")
		}
		rebalanceParams = &defaultParams
	}
	log.Info().Msg("Rebalance parameters loaded successfully.")

	// --- 2. Vault Initialization (with Safety Switch) ---
	// Only simulation mode exists today. The switch is here so a future live
	// mode cannot be reached by accident through a stale environment file.
	if config.Mode != "sim" {
		log.Fatal().Msg("DVM_MODE is not set to 'sim'. Halting to prevent accidental execution. Set DVM_MODE=sim to run.")
	}
	log.Info().Msg("Initializing DVM in SIM mode. All assets live on an in-process ledger.")

	assetLedger, err := ledger.New(config.AssetSymbol, config.AssetPrecision)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create asset ledger")
	}
	book, err := vault.NewBook(config.VaultName, assetLedger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create vault book")
	}
	if err := book.SetMinimumTotalIdle(rebalanceParams.MinimumTotalIdle); err != nil {
		log.Fatal().Err(err).Msg("Failed to set minimum total idle")
	}

	// One simulated strategy per configured target weight, registered in a
	// stable order.
	ids := make([]string, 0, len(rebalanceParams.TargetWeights))
	for id := range rebalanceParams.TargetWeights {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		strat, err := strategy.NewSimulated(strategy.SimulatedConfig{
			ID:      types.StrategyID(id),
			Address: "strat-" + id,
			Ledger:  assetLedger,
		})
		if err != nil {
			log.Fatal().Err(err).Str("strategy", id).Msg("Failed to create simulated strategy")
		}
		if err := book.AddStrategy(strat, sdkmath.NewIntFromUint64(config.StrategyMaxDebt)); err != nil {
			log.Fatal().Err(err).Str("strategy", id).Msg("Failed to register strategy")
		}
	}

	if err := assetLedger.Mint(config.VaultName, sdkmath.NewIntFromUint64(config.InitialVaultFunding)); err != nil {
		log.Fatal().Err(err).Msg("Failed to fund vault")
	}
	if err := book.SyncIdle(); err != nil {
		log.Fatal().Err(err).Msg("Failed to sync vault idle balance")
	}

	// --- Start Web Server ---
	webServer := web.NewWebServer(config.WebPort, book, config.ParamsConfigName)
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting DVM web server")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 3. Create Keeper Instance with Dependency Injection ---
	log.Info().Msg("Creating keeper instance with dependency injection...")

	keeperInstance, err := keeper.New(keeper.Config{
		Vault:          book,
		Params:         *rebalanceParams,
		ConfigName:     config.ParamsConfigName,
		AssetPrecision: config.AssetPrecision,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create keeper instance")
	}

	log.Info().Msg("Keeper instance created successfully")

	// --- 4. Start Keeper Main Loop ---
	interval := time.Duration(config.LoopIntervalSeconds) * time.Second
	log.Info().Str("interval", interval.String()).Msg("Starting keeper main loop")

	ctx := context.Background()

	// Start the keeper loop (this will run indefinitely)
	if err := keeperInstance.RunLoop(ctx, interval); err != nil {
		log.Fatal().Err(err).Msg("Keeper loop terminated")
	}
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
