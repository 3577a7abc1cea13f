package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/quanttide/breakout-bot/internal/risk"
)

// ExchangeConfig carries exchange credentials and environment flags.
// Credentials come from the environment, never from the config file.
type ExchangeConfig struct {
	APIKey    string `json:"-"`
	APISecret string `json:"-"`
	Testnet   bool   `json:"testnet"`
	Demo      bool   `json:"demo"`
	Category  string `json:"category"`
}

// DelayConfig holds the per-phase cycle pacing in milliseconds. Zero
// values fall back to the production defaults.
type DelayConfig struct {
	ScanningMs   int `json:"scanning_ms"`
	SignalWaitMs int `json:"signal_wait_ms"`
	ExecutionMs  int `json:"execution_ms"`
	ManagingMs   int `json:"managing_ms"`
}

// Config is the validated top-level configuration supplied to the
// composition root at startup.
type Config struct {
	Symbols   []string       `json:"symbols"`
	LogLevel  string         `json:"log_level"`
	HTTPAddr  string         `json:"http_addr"`
	AuditPath string         `json:"audit_path"`
	Risk      risk.Config    `json:"risk"`
	Delays    DelayConfig    `json:"delays"`
	Exchange  ExchangeConfig `json:"exchange"`

	// Correlations maps symbol to its estimated BTC correlation, used
	// for exposure bucketing. Symbols without an entry count as
	// uncorrelated.
	Correlations map[string]float64 `json:"correlations"`
}

// Load reads a JSON config file, overlays environment credentials (a
// .env file is honored when present), applies defaults, and validates.
func Load(configFile string) (*Config, error) {
	if !strings.ContainsAny(configFile, "/\\") {
		configFile = filepath.Join("configs", configFile)
	}
	if !strings.HasSuffix(configFile, ".json") {
		configFile += ".json"
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Best effort: a missing .env just means the variables are already
	// in the environment.
	_ = godotenv.Load()
	cfg.Exchange.APIKey = os.Getenv("BYBIT_API_KEY")
	cfg.Exchange.APISecret = os.Getenv("BYBIT_API_SECRET")

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":9090"
	}
	if c.AuditPath == "" {
		c.AuditPath = "reports/session.xlsx"
	}
	if c.Exchange.Category == "" {
		c.Exchange.Category = "linear"
	}

	defaults := risk.DefaultConfig()
	if c.Risk.RiskPerTrade == 0 {
		c.Risk.RiskPerTrade = defaults.RiskPerTrade
	}
	if c.Risk.MaxPositionSizeUSD == 0 {
		c.Risk.MaxPositionSizeUSD = defaults.MaxPositionSizeUSD
	}
	if c.Risk.MinNotionalUSD == 0 {
		c.Risk.MinNotionalUSD = defaults.MinNotionalUSD
	}
	if c.Risk.MaxOpenPositions == 0 {
		c.Risk.MaxOpenPositions = defaults.MaxOpenPositions
	}
	if c.Risk.DailyRiskLimit == 0 {
		c.Risk.DailyRiskLimit = defaults.DailyRiskLimit
	}
	if c.Risk.KillSwitchLossLimit == 0 {
		c.Risk.KillSwitchLossLimit = defaults.KillSwitchLossLimit
	}
	if c.Risk.CorrelationLimit == 0 {
		c.Risk.CorrelationLimit = defaults.CorrelationLimit
	}
	if c.Risk.MaxCorrelatedExposurePct == 0 {
		c.Risk.MaxCorrelatedExposurePct = defaults.MaxCorrelatedExposurePct
	}
	if c.Risk.DepthBandPct == 0 {
		c.Risk.DepthBandPct = defaults.DepthBandPct
	}
	if c.Risk.DepthUtilization == 0 {
		c.Risk.DepthUtilization = defaults.DepthUtilization
	}
	if c.Risk.DeescalationThreshold == 0 {
		c.Risk.DeescalationThreshold = defaults.DeescalationThreshold
	}
	if c.Risk.DeescalationFactor == 0 {
		c.Risk.DeescalationFactor = defaults.DeescalationFactor
	}
	if c.Risk.EquityJumpResetPct == 0 {
		c.Risk.EquityJumpResetPct = defaults.EquityJumpResetPct
	}
}

func (c *Config) validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.Risk.RiskPerTrade <= 0 || c.Risk.RiskPerTrade >= 0.1 {
		return fmt.Errorf("risk_per_trade %.4f out of range (0, 0.1)", c.Risk.RiskPerTrade)
	}
	if c.Risk.DailyRiskLimit <= 0 || c.Risk.DailyRiskLimit >= 1 {
		return fmt.Errorf("daily_risk_limit %.4f out of range (0, 1)", c.Risk.DailyRiskLimit)
	}
	if c.Risk.KillSwitchLossLimit <= c.Risk.DailyRiskLimit {
		return fmt.Errorf("kill_switch_loss_limit %.4f must exceed daily_risk_limit %.4f",
			c.Risk.KillSwitchLossLimit, c.Risk.DailyRiskLimit)
	}
	if c.Risk.MaxOpenPositions <= 0 {
		return fmt.Errorf("max_open_positions must be positive")
	}
	switch c.Exchange.Category {
	case "linear", "inverse", "spot":
	default:
		return fmt.Errorf("unsupported exchange category %q", c.Exchange.Category)
	}
	return nil
}

// ScanningDelay returns the configured scanning cooldown.
func (c *Config) ScanningDelay(fallback time.Duration) time.Duration {
	return msOr(c.Delays.ScanningMs, fallback)
}

// SignalWaitDelay returns the configured signal poll interval.
func (c *Config) SignalWaitDelay(fallback time.Duration) time.Duration {
	return msOr(c.Delays.SignalWaitMs, fallback)
}

// ExecutionDelay returns the configured pause between submissions.
func (c *Config) ExecutionDelay(fallback time.Duration) time.Duration {
	return msOr(c.Delays.ExecutionMs, fallback)
}

// ManagingDelay returns the configured position refresh interval.
func (c *Config) ManagingDelay(fallback time.Duration) time.Duration {
	return msOr(c.Delays.ManagingMs, fallback)
}

func msOr(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
