// Package config provides configuration management for the portfolio report.
package config

import (
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"optroll/internal/enrich"
	"optroll/internal/mail"
	"optroll/internal/rollover"
)

// Config represents the complete application configuration.
type Config struct {
	Schwab       SchwabConfig       `yaml:"schwab"`
	TradeStation TradeStationConfig `yaml:"tradestation"`
	Fidelity     CSVSourceConfig    `yaml:"fidelity"`
	IB           CSVSourceConfig    `yaml:"ib"`
	Earnings     EarningsConfig     `yaml:"earnings"`
	Rollover     RolloverConfig     `yaml:"rollover"`
	Enrich       EnrichConfig       `yaml:"enrich"`
	Mail         mail.Config        `yaml:"mail"`
	Report       ReportConfig       `yaml:"report"`
}

// SchwabConfig defines the Schwab API session. Schwab is both a position
// source and the market-data provider, so its credentials are mandatory.
type SchwabConfig struct {
	AccessToken string `yaml:"access_token"`
	BaseURL     string `yaml:"base_url"`
}

// TradeStationConfig defines the optional TradeStation position source.
type TradeStationConfig struct {
	AccessToken string `yaml:"access_token"`
	AccountID   string `yaml:"account_id"`
	BaseURL     string `yaml:"base_url"`
}

// Enabled reports whether the source is configured.
func (c TradeStationConfig) Enabled() bool {
	return c.AccessToken != "" && c.AccountID != ""
}

// CSVSourceConfig defines a CSV-export position source (Fidelity, IB).
type CSVSourceConfig struct {
	Files []string `yaml:"files"`
}

// Enabled reports whether any export file is configured.
func (c CSVSourceConfig) Enabled() bool { return len(c.Files) > 0 }

// EarningsConfig defines the earnings calendar provider.
type EarningsConfig struct {
	FinnhubToken  string `yaml:"finnhub_token"`
	BaseURL       string `yaml:"base_url"`
	LookaheadDays int    `yaml:"lookahead_days"`
}

// RolloverConfig defines the tiered rollover search parameters. An empty
// tier list uses the built-in strict-then-relaxed defaults.
type RolloverConfig struct {
	Tiers []rollover.Tier `yaml:"tiers"`
}

// EnrichConfig defines the action-flag and volatility thresholds.
type EnrichConfig struct {
	ActionExtrinsicPct float64 `yaml:"action_extrinsic_pct"`
	NearExpiryDays     int     `yaml:"near_expiry_days"`
	VolLookbackDays    int     `yaml:"vol_lookback_days"`
}

// EnricherConfig converts to the enrichment package's config, applying
// defaults for unset fields.
func (c EnrichConfig) EnricherConfig() enrich.Config {
	cfg := enrich.DefaultConfig()
	if c.ActionExtrinsicPct > 0 {
		cfg.ActionExtrinsicPct = c.ActionExtrinsicPct
	}
	if c.NearExpiryDays > 0 {
		cfg.NearExpiryDays = c.NearExpiryDays
	}
	if c.VolLookbackDays > 0 {
		cfg.VolLookbackDays = c.VolLookbackDays
	}
	return cfg
}

// ReportConfig defines report output settings.
type ReportConfig struct {
	OutputPath string `yaml:"output_path"` // write HTML here; empty writes to stdout
	Subject    string `yaml:"subject"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
// Credential problems must surface here, before any position is fetched.
func (c *Config) Validate() error {
	if c.Schwab.AccessToken == "" {
		return fmt.Errorf("schwab.access_token is required")
	}

	for _, path := range append(append([]string{}, c.Fidelity.Files...), c.IB.Files...) {
		if path == "" {
			return fmt.Errorf("csv source file paths must not be empty")
		}
	}

	for i, tier := range c.Rollover.Tiers {
		if tier.WindowDays <= 0 {
			return fmt.Errorf("rollover.tiers[%d].window_days must be > 0", i)
		}
		if tier.MinDistancePct <= 0 {
			return fmt.Errorf("rollover.tiers[%d].min_distance_pct must be > 0", i)
		}
		if tier.MaxDebitPct < 0 || tier.MaxDebitPct > 1 {
			return fmt.Errorf("rollover.tiers[%d].max_debit_pct must be in [0,1]", i)
		}
		if i > 0 && tier.WindowDays <= c.Rollover.Tiers[i-1].WindowDays {
			return fmt.Errorf("rollover.tiers[%d].window_days must widen the previous tier", i)
		}
	}

	if c.Enrich.ActionExtrinsicPct < 0 || c.Enrich.ActionExtrinsicPct > 1 {
		return fmt.Errorf("enrich.action_extrinsic_pct must be in [0,1]")
	}
	if c.Enrich.NearExpiryDays < 0 {
		return fmt.Errorf("enrich.near_expiry_days must be >= 0")
	}
	if c.Earnings.LookaheadDays < 0 {
		return fmt.Errorf("earnings.lookahead_days must be >= 0")
	}

	if c.Mail.Enabled() {
		if c.Mail.Port <= 0 || c.Mail.Port > 65535 {
			return fmt.Errorf("mail.port must be a valid TCP port")
		}
		if c.Mail.From == "" {
			return fmt.Errorf("mail.from is required when mail is enabled")
		}
	}

	return nil
}
