// Package config loads the engine's tunables from a cascading YAML file
// (env.local.yaml > env.yaml > config.yaml, first one found wins), the
// pattern grounded on the multi-service venue pipeline's
// internal/config/config.go in this codebase family — the teacher's own
// service configures itself entirely from bare os.Getenv calls in main,
// which doesn't scale to the parameter count this engine has. The file is
// unmarshaled over Default(), so a missing file or a field the file omits
// keeps its default value; connection strings still come from the
// environment, matching the teacher's cmd/server wiring.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds every tunable named in SPEC_FULL.md §6.
type Config struct {
	TickIntervalMs        int64   `yaml:"tickIntervalMs"`
	WorkerConcurrency     int     `yaml:"workerConcurrency"`
	LockTTLMs             int64   `yaml:"lockTtlMs"`
	LiveRetryLimit        int     `yaml:"liveRetryLimit"`
	MinOrderUSD           float64 `yaml:"minOrderUsd"`
	MinOrderTokens        float64 `yaml:"minOrderTokens"`
	SlippagePctLimitBuy   float64 `yaml:"slippagePctLimitBuy"`
	PriceCapBuy           float64 `yaml:"priceCapBuy"`
	LiveSlippageGuardAbs  float64 `yaml:"liveSlippageGuardAbs"`
	ActivityWindowSecLive int64   `yaml:"activityWindowSecLive"`
	ActivityWindowSecMock int64   `yaml:"activityWindowSecMock"`
	SyncEveryNTicks       int     `yaml:"syncEveryNTicks"`

	SettlementContractAddress string `yaml:"settlementContractAddress"`
	CollateralAddress         string `yaml:"collateralAddress"`

	DataAPIBaseURL      string `yaml:"dataApiBaseUrl"`
	OrderBookAPIBaseURL string `yaml:"orderBookApiBaseUrl"`
	ChainRPCURL         string `yaml:"chainRpcUrl"`

	// Connection strings. Left out of YAML and read from the environment at
	// startup instead, matching cmd/server's own DATABASE_URL/REDIS_URL
	// wiring — a config file checked into a repo is the wrong place for a
	// credentialed connection string.
	DatabaseURL string `yaml:"-"`
	RedisURL    string `yaml:"-"`
	AdminPort   string `yaml:"-"`
}

// Default returns every parameter at the value named in SPEC_FULL.md §6.
func Default() Config {
	return Config{
		TickIntervalMs:        5000,
		WorkerConcurrency:     5,
		LockTTLMs:             600000,
		LiveRetryLimit:        3,
		MinOrderUSD:           1.0,
		MinOrderTokens:        1.0,
		SlippagePctLimitBuy:   5.0,
		PriceCapBuy:           0.99,
		LiveSlippageGuardAbs:  0.05,
		ActivityWindowSecLive: 60,
		ActivityWindowSecMock: 3600,
		SyncEveryNTicks:       30,
		AdminPort:             "8080",
	}
}

// TickInterval returns TickIntervalMs as a time.Duration.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// LockTTL returns LockTTLMs as a time.Duration.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMs) * time.Millisecond
}

// candidatePaths is the cascade order: env.local.yaml > env.yaml > config.yaml.
var candidatePaths = []string{"env.local.yaml", "env.yaml", "config.yaml"}

// Load reads the first candidate config file that exists, unmarshals it
// over a Default(), and then applies the DATABASE_URL/REDIS_URL/PORT
// environment overrides. path overrides the cascade when non-empty. It is
// not an error for no config file to exist — Default()'s values apply.
func Load(path string) (Config, error) {
	cfg := Default()

	resolved := path
	if resolved == "" {
		for _, candidate := range candidatePaths {
			if _, err := os.Stat(candidate); err == nil {
				resolved = candidate
				break
			}
		}
	}

	if resolved != "" {
		buf, err := os.ReadFile(resolved)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", resolved, err)
		}
		if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", resolved, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.AdminPort = v
	}
	if v := os.Getenv("DATA_API_BASE_URL"); v != "" {
		cfg.DataAPIBaseURL = v
	}
	if v := os.Getenv("ORDERBOOK_API_BASE_URL"); v != "" {
		cfg.OrderBookAPIBaseURL = v
	}
	if v := os.Getenv("CHAIN_RPC_URL"); v != "" {
		cfg.ChainRPCURL = v
	}
	if v := os.Getenv("SETTLEMENT_CONTRACT_ADDRESS"); v != "" {
		cfg.SettlementContractAddress = v
	}
	if v := os.Getenv("COLLATERAL_ADDRESS"); v != "" {
		cfg.CollateralAddress = v
	}
}
