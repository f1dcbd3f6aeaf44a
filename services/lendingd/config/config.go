// Package config loads the lendingd runtime configuration from YAML.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the lending daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Environment   string          `yaml:"environment"`
	DatabasePath  string          `yaml:"database"`
	Oracle        OracleConfig    `yaml:"oracle"`
	Scheduler     SchedulerConfig `yaml:"scheduler"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Protocol      ProtocolConfig  `yaml:"protocol"`
	Markets       []MarketSeed    `yaml:"markets"`
}

// OracleConfig seeds the price oracle and sets its freshness policy.
type OracleConfig struct {
	Timeout     time.Duration     `yaml:"timeout"`
	MaxPriceAge time.Duration     `yaml:"max_price_age"`
	Prices      map[string]string `yaml:"prices"`
}

// SchedulerConfig controls the periodic accrual and health sweeps.
type SchedulerConfig struct {
	RateInterval   time.Duration `yaml:"rate_interval"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

// RateLimitConfig throttles mutation routes per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// ProtocolConfig carries the engine-wide protocol parameters.
type ProtocolConfig struct {
	CloseFactorBps uint64 `yaml:"close_factor_bps"`
}

// MarketSeed provisions a market at startup when it does not already exist.
type MarketSeed struct {
	ID                      string `yaml:"id"`
	AssetSymbol             string `yaml:"asset_symbol"`
	AssetAddress            string `yaml:"asset_address"`
	Decimals                uint8  `yaml:"decimals"`
	BaseRateBps             uint64 `yaml:"base_rate_bps"`
	OptimalUtilizationBps   uint64 `yaml:"optimal_utilization_bps"`
	Slope1Bps               uint64 `yaml:"slope1_bps"`
	Slope2Bps               uint64 `yaml:"slope2_bps"`
	ReserveFactorBps        uint64 `yaml:"reserve_factor_bps"`
	StableRatePremiumBps    uint64 `yaml:"stable_rate_premium_bps"`
	CollateralFactorBps     uint64 `yaml:"collateral_factor_bps"`
	LiquidationThresholdBps uint64 `yaml:"liquidation_threshold_bps"`
	LiquidationPenaltyBps   uint64 `yaml:"liquidation_penalty_bps"`
	CanBeCollateral         bool   `yaml:"can_be_collateral"`
	CanBeBorrowed           bool   `yaml:"can_be_borrowed"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8470"
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	cfg.DatabasePath = strings.TrimSpace(cfg.DatabasePath)
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "lending.db"
	}
	if cfg.Oracle.Timeout <= 0 {
		cfg.Oracle.Timeout = 2 * time.Second
	}
	if cfg.Oracle.MaxPriceAge <= 0 {
		cfg.Oracle.MaxPriceAge = 5 * time.Minute
	}
	if cfg.Scheduler.RateInterval <= 0 {
		cfg.Scheduler.RateInterval = time.Minute
	}
	if cfg.Scheduler.HealthInterval <= 0 {
		cfg.Scheduler.HealthInterval = 30 * time.Second
	}
	if cfg.Protocol.CloseFactorBps == 0 {
		cfg.Protocol.CloseFactorBps = 5_000
	}
	for i := range cfg.Markets {
		cfg.Markets[i].normalize()
	}
}

func (seed *MarketSeed) normalize() {
	seed.ID = strings.TrimSpace(seed.ID)
	seed.AssetSymbol = strings.TrimSpace(seed.AssetSymbol)
	seed.AssetAddress = strings.TrimSpace(seed.AssetAddress)
	if seed.Decimals == 0 {
		seed.Decimals = 18
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.Protocol.CloseFactorBps > 10_000 {
		return fmt.Errorf("protocol: close_factor_bps must not exceed 10000")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit: requests_per_minute must not be negative")
	}
	if cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: burst must not be negative")
	}
	seen := make(map[string]struct{}, len(cfg.Markets))
	for _, seed := range cfg.Markets {
		if err := seed.validate(); err != nil {
			return fmt.Errorf("markets: %w", err)
		}
		if _, dup := seen[seed.ID]; dup {
			return fmt.Errorf("markets: duplicate id %q", seed.ID)
		}
		seen[seed.ID] = struct{}{}
	}
	for asset, price := range cfg.Oracle.Prices {
		if _, err := ParsePrice(price); err != nil {
			return fmt.Errorf("oracle: price for %q: %w", asset, err)
		}
	}
	return nil
}

func (seed MarketSeed) validate() error {
	if seed.ID == "" {
		return fmt.Errorf("id is required")
	}
	if seed.OptimalUtilizationBps > 10_000 {
		return fmt.Errorf("%q: optimal_utilization_bps must not exceed 10000", seed.ID)
	}
	if seed.ReserveFactorBps > 10_000 {
		return fmt.Errorf("%q: reserve_factor_bps must not exceed 10000", seed.ID)
	}
	if seed.CollateralFactorBps > 10_000 || seed.LiquidationThresholdBps > 10_000 {
		return fmt.Errorf("%q: risk factors must not exceed 10000 bps", seed.ID)
	}
	if seed.LiquidationThresholdBps < seed.CollateralFactorBps {
		return fmt.Errorf("%q: liquidation_threshold_bps below collateral_factor_bps", seed.ID)
	}
	return nil
}

// ParsePrice decodes a base-10 WAD-scaled price string.
func ParsePrice(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("price is empty")
	}
	price, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("price %q is not a base-10 integer", raw)
	}
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("price must be positive")
	}
	return price, nil
}
