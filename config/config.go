package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerConfig   ServerConfig   `json:"server"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	VaultConfig    VaultConfig    `json:"vault"`
	PoolConfig     PoolConfig     `json:"pool"`
	RiskConfig     RiskConfig     `json:"risk"`
	VenueConfig    VenueConfig    `json:"venue"`
	CycleConfig    CycleConfig    `json:"cycle"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

// ServerConfig holds the operational HTTP API configuration
type ServerConfig struct {
	Enabled      bool     `json:"enabled"`
	Port         int      `json:"port"`
	Host         string   `json:"host"`
	AllowOrigins []string `json:"allow_origins"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// PoolConfig holds pooled-fund accounting configuration
type PoolConfig struct {
	MinDepositAmount   float64 `json:"min_deposit_amount"`
	MaxDepositAmount   float64 `json:"max_deposit_amount"`
	InitialNav         float64 `json:"initial_nav"`
	DailyTradeLimit    int     `json:"daily_trade_limit"`
	LockPeriodDays     int     `json:"lock_period_days"`
	EarlyPenaltyRate   float64 `json:"early_penalty_rate"`
	PerformanceFeeRate float64 `json:"performance_fee_rate"`
	TradeFeeRate       float64 `json:"trade_fee_rate"`
}

// RiskConfig holds risk governor configuration
type RiskConfig struct {
	RiskLevel       int     `json:"risk_level"`        // 1 (conservative) to 5 (aggressive)
	MinPositionSize float64 `json:"min_position_size"` // Floor for sized positions, quote currency
	MinConfidence   float64 `json:"min_confidence"`    // Signals below this are rejected outright
	DefaultLeverage int     `json:"default_leverage"`
}

type VenueConfig struct {
	Mode               string  `json:"mode"`          // "paper" or "live"
	Slippage           float64 `json:"slippage"`      // Paper venue fill slippage fraction
	CredentialID       string  `json:"credential_id"` // Vault key for live connector credentials
	BreakerMaxFailures int     `json:"breaker_max_failures"`
	BreakerCooldownSec int     `json:"breaker_cooldown_sec"`
}

// CycleConfig holds trading cycle scheduler configuration
type CycleConfig struct {
	Enabled         bool             `json:"enabled"`
	IntervalSeconds int              `json:"interval_seconds"`
	MaxConcurrent   int              `json:"max_concurrent"`
	CycleTimeoutSec int              `json:"cycle_timeout_sec"`
	Strategies      []StrategyConfig `json:"strategies"`
}

// StrategyConfig binds a strategy id to the symbols it trades
type StrategyConfig struct {
	ID      string   `json:"id"`
	Symbols []string `json:"symbols"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // JSON output instead of console
}

// Load reads configuration from config.json (if present) and applies
// environment variable overrides on top.
func Load() (*Config, error) {
	cfg := Default()

	path := getEnv("CONFIG_PATH", "config.json")
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the baseline configuration
func Default() *Config {
	return &Config{
		ServerConfig: ServerConfig{
			Enabled:      true,
			Port:         8080,
			Host:         "0.0.0.0",
			AllowOrigins: []string{"*"},
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "fundpool",
			Password: "fundpool",
			Database: "fundpool",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Enabled:  true,
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		VaultConfig: VaultConfig{
			Enabled:   false,
			MountPath: "secret",
		},
		PoolConfig: PoolConfig{
			MinDepositAmount:   10,
			MaxDepositAmount:   1_000_000,
			InitialNav:         1.0,
			DailyTradeLimit:    20,
			LockPeriodDays:     30,
			EarlyPenaltyRate:   0.1,
			PerformanceFeeRate: 0.2,
			TradeFeeRate:       0.001,
		},
		RiskConfig: RiskConfig{
			RiskLevel:       3,
			MinPositionSize: 10,
			MinConfidence:   50,
			DefaultLeverage: 3,
		},
		VenueConfig: VenueConfig{
			Mode:               "paper",
			Slippage:           0.0005,
			BreakerMaxFailures: 5,
			BreakerCooldownSec: 60,
		},
		CycleConfig: CycleConfig{
			Enabled:         true,
			IntervalSeconds: 60,
			MaxConcurrent:   5,
			CycleTimeoutSec: 120,
			Strategies: []StrategyConfig{
				{ID: "momentum-btc", Symbols: []string{"BTCUSDT", "ETHUSDT"}},
			},
		},
		LoggingConfig: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.PoolConfig.MinDepositAmount <= 0 {
		return fmt.Errorf("pool.min_deposit_amount must be positive")
	}
	if c.PoolConfig.MaxDepositAmount < c.PoolConfig.MinDepositAmount {
		return fmt.Errorf("pool.max_deposit_amount must be >= min_deposit_amount")
	}
	if c.PoolConfig.InitialNav <= 0 {
		return fmt.Errorf("pool.initial_nav must be positive")
	}
	if c.RiskConfig.RiskLevel < 1 || c.RiskConfig.RiskLevel > 5 {
		return fmt.Errorf("risk.risk_level must be between 1 and 5")
	}
	if c.VenueConfig.Mode != "paper" && c.VenueConfig.Mode != "live" {
		return fmt.Errorf("venue.mode must be \"paper\" or \"live\"")
	}
	if c.VenueConfig.Mode == "live" && !c.VaultConfig.Enabled {
		return fmt.Errorf("venue.mode \"live\" requires vault to be enabled for credentials")
	}
	return nil
}

// CycleInterval returns the trading cycle interval as a duration
func (c *CycleConfig) CycleInterval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

// CycleTimeout returns the per-cycle timeout as a duration
func (c *CycleConfig) CycleTimeout() time.Duration {
	if c.CycleTimeoutSec <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.CycleTimeoutSec) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	cfg.DatabaseConfig.Host = getEnv("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvInt("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnv("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnv("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnv("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnv("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	cfg.RedisConfig.Address = getEnv("REDIS_ADDR", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnv("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvInt("REDIS_DB", cfg.RedisConfig.DB)

	cfg.VaultConfig.Address = getEnv("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnv("VAULT_TOKEN", cfg.VaultConfig.Token)

	cfg.ServerConfig.Port = getEnvInt("SERVER_PORT", cfg.ServerConfig.Port)
	cfg.VenueConfig.Mode = getEnv("VENUE_MODE", cfg.VenueConfig.Mode)
	cfg.RiskConfig.RiskLevel = getEnvInt("RISK_LEVEL", cfg.RiskConfig.RiskLevel)
	cfg.LoggingConfig.Level = getEnv("LOG_LEVEL", cfg.LoggingConfig.Level)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
