// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"robotrader/internal/types"
)

// Config represents the full application configuration.
type Config struct {
	Portfolio   PortfolioConfig   `yaml:"portfolio"`
	Market      MarketConfig      `yaml:"market"`
	Broker      BrokerConfig      `yaml:"broker"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Data        DataConfig        `yaml:"data"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Alerting    AlertingConfig    `yaml:"alerting"`
}

// PortfolioConfig holds portfolio settings.
type PortfolioConfig struct {
	Identity         string  `yaml:"identity"`
	InitialCash      float64 `yaml:"initial_cash"`
	RatchetThreshold float64 `yaml:"ratchet_threshold"`
	AutoSave         bool    `yaml:"autosave"`
}

// MarketConfig holds market settings.
type MarketConfig struct {
	Symbol          string `yaml:"symbol"`
	Interval        string `yaml:"interval"`
	HistoryLimit    int    `yaml:"history_limit"`
	PollIntervalSec int    `yaml:"poll_interval_sec"`
	RateLimitPerSec int    `yaml:"rate_limit_per_sec"`
}

// BrokerConfig holds broker settings.
type BrokerConfig struct {
	Type string `yaml:"type"` // backtest | binance

	// Matching engine parameters, backtest only.
	CostRate          float64 `yaml:"cost_rate"`
	PenaltyRelief     float64 `yaml:"penalty_relief"`
	BackdateOffsetSec int     `yaml:"backdate_offset_sec"`

	// Exchange credentials, binance only.
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// StrategyConfig holds strategy settings.
type StrategyConfig struct {
	Name          string  `yaml:"name"`
	SMAPeriod     int     `yaml:"sma_period"`
	RSIPeriod     int     `yaml:"rsi_period"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	PositionSize  float64 `yaml:"position_size"`
	TrailingStop  float64 `yaml:"trailing_stop"`
}

// DataConfig holds market data source settings.
type DataConfig struct {
	Type string `yaml:"type"` // csv | binance
	Path string `yaml:"path"` // for csv
}

// PersistenceConfig holds persistence settings.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type"` // file | sqlite
	Path    string `yaml:"path"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Channels []string `yaml:"channels"` // console
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes. Environment
// variables in the form $VAR or ${VAR} are expanded before parsing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration, collecting all problems into
// one error.
func (c *Config) Validate() error {
	var errs []string

	if c.Portfolio.Identity == "" {
		errs = append(errs, "portfolio.identity is required")
	}
	if c.Portfolio.InitialCash <= 0 {
		errs = append(errs, "portfolio.initial_cash must be positive")
	}
	if c.Portfolio.RatchetThreshold < 0 {
		errs = append(errs, "portfolio.ratchet_threshold must not be negative")
	}

	if c.Market.Symbol == "" {
		errs = append(errs, "market.symbol is required")
	}

	switch c.Broker.Type {
	case "backtest":
		if c.Broker.CostRate < 0 || c.Broker.CostRate >= 1 {
			errs = append(errs, "broker.cost_rate must be in [0, 1)")
		}
		if c.Broker.PenaltyRelief < 0 || c.Broker.PenaltyRelief > 1 {
			errs = append(errs, "broker.penalty_relief must be in [0, 1]")
		}
	case "binance":
		if c.Broker.APIKey == "" || c.Broker.APISecret == "" {
			errs = append(errs, "broker.api_key and broker.api_secret are required for binance")
		}
	default:
		errs = append(errs, fmt.Sprintf("broker.type '%s' must be 'backtest' or 'binance'", c.Broker.Type))
	}

	switch c.Data.Type {
	case "csv":
		if c.Data.Path == "" {
			errs = append(errs, "data.path is required for csv")
		}
	case "binance", "":
	default:
		errs = append(errs, fmt.Sprintf("data.type '%s' must be 'csv' or 'binance'", c.Data.Type))
	}

	if c.Strategy.PositionSize <= 0 || c.Strategy.PositionSize > 1 {
		errs = append(errs, "strategy.position_size must be between 0 and 1")
	}
	if c.Strategy.TrailingStop <= 0 || c.Strategy.TrailingStop >= 1 {
		errs = append(errs, "strategy.trailing_stop must be between 0 and 1")
	}

	if c.Persistence.Enabled {
		if c.Persistence.Type != "file" && c.Persistence.Type != "sqlite" {
			errs = append(errs, "persistence.type must be 'file' or 'sqlite'")
		}
		if c.Persistence.Path == "" {
			errs = append(errs, "persistence.path is required")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrValidation, strings.Join(errs, "; "))
	}
	return nil
}

// InitialCashDecimal returns the initial cash as decimal.
func (c *Config) InitialCashDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Portfolio.InitialCash)
}

// RatchetThresholdDecimal returns the ratchet threshold as decimal.
func (c *Config) RatchetThresholdDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Portfolio.RatchetThreshold)
}

// PollInterval returns the live polling interval.
func (c *Config) PollInterval() time.Duration {
	if c.Market.PollIntervalSec <= 0 {
		return time.Minute
	}
	return time.Duration(c.Market.PollIntervalSec) * time.Second
}

// BackdateOffset returns the trailing stop backdate offset.
func (c *Config) BackdateOffset() time.Duration {
	if c.Broker.BackdateOffsetSec <= 0 {
		return time.Second
	}
	return time.Duration(c.Broker.BackdateOffsetSec) * time.Second
}
