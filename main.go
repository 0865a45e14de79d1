package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fundpool-engine/config"
	"fundpool-engine/internal/api"
	"fundpool-engine/internal/database"
	"fundpool-engine/internal/distribution"
	"fundpool-engine/internal/events"
	"fundpool-engine/internal/execution"
	"fundpool-engine/internal/fund"
	"fundpool-engine/internal/ledger"
	"fundpool-engine/internal/logging"
	"fundpool-engine/internal/memory"
	"fundpool-engine/internal/oracle"
	"fundpool-engine/internal/redemption"
	"fundpool-engine/internal/risk"
	"fundpool-engine/internal/scheduler"
	"fundpool-engine/internal/vault"
	"fundpool-engine/internal/venue"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:      cfg.LoggingConfig.Level,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	})
	logger.Info().Str("venue_mode", cfg.VenueConfig.Mode).Int("risk_level", cfg.RiskConfig.RiskLevel).
		Msg("fund engine starting")

	// Database
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.RunMigrations(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	repo := database.NewRepository(db)

	// Redis-backed daily state: start-of-day snapshots, fill dedup,
	// settlement markers
	dailyState, err := database.NewDailyStateStore(cfg.RedisConfig)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer dailyState.Close()

	// Event bus
	eventBus := events.NewBus(logger)
	defer eventBus.Close()

	// Venue connector, wrapped with the outage circuit breaker
	rawConnector, err := buildConnector(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build venue connector: %v", err)
	}
	connector := venue.NewGuardedConnector(rawConnector, venue.BreakerConfig{
		MaxConsecutiveFailures: cfg.VenueConfig.BreakerMaxFailures,
		Cooldown:               time.Duration(cfg.VenueConfig.BreakerCooldownSec) * time.Second,
	})

	// Core engine
	manager := ledger.NewManager(repo, ledger.ManagerConfig{
		InitialNav:      cfg.PoolConfig.InitialNav,
		DailyTradeLimit: cfg.PoolConfig.DailyTradeLimit,
	}, logger)
	defer manager.Shutdown()

	governor := risk.NewGovernor(risk.Config{
		RiskLevel:       cfg.RiskConfig.RiskLevel,
		MinPositionSize: cfg.RiskConfig.MinPositionSize,
		MinConfidence:   cfg.RiskConfig.MinConfidence,
	}, dailyState, logger)

	distributor := distribution.NewEngine(repo, repo, logger)
	decisions := memory.NewLog(repo, logger)
	redeemer := redemption.NewProcessor(redemption.Config{
		EarlyPenaltyRate:   cfg.PoolConfig.EarlyPenaltyRate,
		PerformanceFeeRate: cfg.PoolConfig.PerformanceFeeRate,
	}, repo, logger)

	coordinator := execution.NewCoordinator(execution.Config{
		FeeRate:         cfg.PoolConfig.TradeFeeRate,
		DefaultLeverage: cfg.RiskConfig.DefaultLeverage,
	}, repo, connector, governor, distributor, decisions, dailyState, eventBus, logger)

	strategyOracle := oracle.NewMomentumOracle(oracle.MomentumConfig{})

	service := fund.NewService(cfg.PoolConfig, manager, governor, coordinator, redeemer,
		strategyOracle, connector, repo, decisions, dailyState, repo, eventBus, logger)

	// Warm up configured pools so their actors are live before the first cycle
	for _, strat := range cfg.CycleConfig.Strategies {
		if _, err := manager.GetOrCreatePool(ctx, strat.ID); err != nil {
			log.Fatalf("Failed to initialize pool for strategy %s: %v", strat.ID, err)
		}
	}

	// Scheduler
	var sched *scheduler.Scheduler
	if cfg.CycleConfig.Enabled {
		strategies := make([]scheduler.Strategy, 0, len(cfg.CycleConfig.Strategies))
		for _, strat := range cfg.CycleConfig.Strategies {
			strategies = append(strategies, scheduler.Strategy{ID: strat.ID, Symbols: strat.Symbols})
		}
		sched = scheduler.NewScheduler(service, scheduler.Config{
			CycleInterval: cfg.CycleConfig.CycleInterval(),
			MaxConcurrent: cfg.CycleConfig.MaxConcurrent,
			CycleTimeout:  time.Duration(cfg.CycleConfig.CycleTimeoutSec) * time.Second,
		}, strategies)
		if err := sched.Start(); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
	}

	// HTTP API
	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = api.NewServer(api.ServerConfig{
			Port:           cfg.ServerConfig.Port,
			Host:           cfg.ServerConfig.Host,
			AllowOrigins:   cfg.ServerConfig.AllowOrigins,
			ProductionMode: cfg.LoggingConfig.JSONFormat,
		}, service, governor, decisions, repo, sched, eventBus)

		go func() {
			if err := server.Start(); err != nil {
				log.Fatalf("Failed to start API server: %v", err)
			}
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down API server: %v", err)
		}
	}
	if sched != nil {
		if err := sched.Stop(); err != nil {
			log.Printf("Error stopping scheduler: %v", err)
		}
	}

	log.Println("Shutdown complete")
}

// buildConnector selects the venue: the in-process paper venue or live
// Binance with vault-held credentials.
func buildConnector(ctx context.Context, cfg *config.Config) (venue.Connector, error) {
	if cfg.VenueConfig.Mode == "paper" {
		return venue.NewPaperVenue(venue.PaperConfig{
			Slippage: cfg.VenueConfig.Slippage,
		}), nil
	}

	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		return nil, err
	}
	creds, err := vaultClient.GetCredentials(ctx, cfg.VenueConfig.CredentialID)
	if err != nil {
		return nil, err
	}
	return venue.NewBinanceConnector(creds.APIKey, creds.SecretKey, creds.IsTestnet), nil
}
