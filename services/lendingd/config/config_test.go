package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :6000 "
markets:
  - id: " asset-x "
    asset_symbol: "ASX"
    collateral_factor_bps: 7500
    liquidation_threshold_bps: 8000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":6000" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if cfg.Environment != "development" {
		t.Fatalf("unexpected environment: %q", cfg.Environment)
	}
	if cfg.DatabasePath != "lending.db" {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath)
	}
	if cfg.Oracle.MaxPriceAge != 5*time.Minute {
		t.Fatalf("unexpected max price age: %v", cfg.Oracle.MaxPriceAge)
	}
	if cfg.Scheduler.RateInterval != time.Minute || cfg.Scheduler.HealthInterval != 30*time.Second {
		t.Fatalf("unexpected scheduler intervals: %+v", cfg.Scheduler)
	}
	if cfg.Protocol.CloseFactorBps != 5_000 {
		t.Fatalf("unexpected close factor: %d", cfg.Protocol.CloseFactorBps)
	}
	if len(cfg.Markets) != 1 || cfg.Markets[0].ID != "asset-x" {
		t.Fatalf("unexpected market seeds: %+v", cfg.Markets)
	}
	if cfg.Markets[0].Decimals != 18 {
		t.Fatalf("expected decimals to default to 18, got %d", cfg.Markets[0].Decimals)
	}
}

func TestLoadConfigRejectsDuplicateMarkets(t *testing.T) {
	path := writeConfig(t, `
markets:
  - id: asset-x
    liquidation_threshold_bps: 8000
    collateral_factor_bps: 7500
  - id: asset-x
    liquidation_threshold_bps: 8000
    collateral_factor_bps: 7500
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate market ids")
	}
}

func TestLoadConfigRejectsThresholdBelowCollateralFactor(t *testing.T) {
	path := writeConfig(t, `
markets:
  - id: asset-x
    collateral_factor_bps: 8000
    liquidation_threshold_bps: 7500
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when threshold is below collateral factor")
	}
}

func TestLoadConfigValidatesPrices(t *testing.T) {
	path := writeConfig(t, `
oracle:
  prices:
    asset-x: "not-a-number"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for a malformed price")
	}

	path = writeConfig(t, `
oracle:
  prices:
    asset-x: "-5"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for a non-positive price")
	}

	path = writeConfig(t, `
oracle:
  prices:
    asset-x: "1000000000000000000"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	price, err := ParsePrice(cfg.Oracle.Prices["asset-x"])
	if err != nil {
		t.Fatalf("parse price: %v", err)
	}
	if price.String() != "1000000000000000000" {
		t.Fatalf("unexpected price: %s", price)
	}
}

func TestLoadConfigRejectsCloseFactorOverMax(t *testing.T) {
	path := writeConfig(t, `
protocol:
  close_factor_bps: 10001
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when close factor exceeds 10000 bps")
	}
}
