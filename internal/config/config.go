// Package config loads the engine configuration from a JSON file, fills in
// defaults and pulls credentials from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"signal-relay/internal/breaker"
	"signal-relay/internal/executor"
	"signal-relay/internal/logger"
	"signal-relay/internal/risk"
	"signal-relay/internal/symbols"
)

// Config is the full engine configuration
type Config struct {
	AccountID string `json:"account_id"`

	Venue struct {
		Name      string `json:"name"` // "bybit" or "paper"
		APIKey    string `json:"-"`
		APISecret string `json:"-"`
		Demo      bool   `json:"demo"`
	} `json:"venue"`

	Feed struct {
		Path         string  `json:"path"`
		PollInterval float64 `json:"poll_interval_seconds"`
	} `json:"feed"`

	Symbols struct {
		Mode    symbols.Mode      `json:"mode"`
		Aliases map[string]string `json:"aliases,omitempty"`
	} `json:"symbols"`

	Risk     risk.Config     `json:"risk"`
	Executor executor.Config `json:"executor"`
	Breaker  breaker.Config  `json:"circuit_breaker"`

	Notifications struct {
		TelegramToken  string `json:"-"`
		TelegramChatID string `json:"telegram_chat_id"`
	} `json:"notifications"`

	Persistence struct {
		Path string `json:"path"`
	} `json:"persistence"`

	Monitoring struct {
		MetricsPort int `json:"metrics_port"`
		HealthPort  int `json:"health_port"`
	} `json:"monitoring"`

	Journal struct {
		ExportPath string `json:"export_path,omitempty"`
	} `json:"journal"`

	Log logger.Config `json:"log"`
}

// Load reads a config file, applies defaults and environment credentials,
// and validates the result. A bare name is resolved under configs/ with a
// .json extension.
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

	cfg.setDefaults()
	cfg.loadEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults fills in values for missing configuration
func (c *Config) setDefaults() {
	if c.Venue.Name == "" {
		c.Venue.Name = "bybit"
	}
	if c.Feed.PollInterval == 0 {
		c.Feed.PollInterval = 5
	}
	if c.Symbols.Mode == "" {
		c.Symbols.Mode = symbols.ModeAuto
	}

	if c.Risk.LotMode == "" {
		c.Risk.LotMode = risk.LotModeRiskPercent
	}
	if c.Risk.RiskPercent == 0 {
		c.Risk.RiskPercent = 1.0
	}
	if c.Risk.StopMode == "" {
		c.Risk.StopMode = risk.DistanceFixedPips
	}
	if c.Risk.StopPips == 0 {
		c.Risk.StopPips = 50
	}
	if c.Risk.TakeProfitMode == "" {
		c.Risk.TakeProfitMode = risk.DistanceRMultiple
	}
	if c.Risk.RMultiple == 0 {
		c.Risk.RMultiple = 2.0
	}
	if c.Risk.ATRPeriod == 0 {
		c.Risk.ATRPeriod = 14
	}
	if c.Risk.StopBufferPoints == 0 {
		c.Risk.StopBufferPoints = 10
	}
	if c.Risk.FixedLot == 0 {
		c.Risk.FixedLot = 0.01
	}

	if c.Executor.MaxMarginUtilization == 0 {
		c.Executor.MaxMarginUtilization = 50
	}

	if c.Breaker.DailyThresholdPct == 0 {
		c.Breaker.DailyThresholdPct = 4.0
	}
	if c.Breaker.OverallThresholdPct == 0 {
		c.Breaker.OverallThresholdPct = 10.0
	}
	if c.Breaker.CooldownHours == 0 {
		c.Breaker.CooldownHours = 24
	}

	if c.Persistence.Path == "" {
		c.Persistence.Path = "data/state"
	}
	if c.Monitoring.MetricsPort == 0 {
		c.Monitoring.MetricsPort = 9090
	}
	if c.Monitoring.HealthPort == 0 {
		c.Monitoring.HealthPort = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Output == "" {
		c.Log.Output = "console"
	}
}

// loadEnv pulls credentials from the environment. They never live in the
// config file.
func (c *Config) loadEnv() {
	c.Venue.APIKey = os.Getenv("BYBIT_API_KEY")
	c.Venue.APISecret = os.Getenv("BYBIT_API_SECRET")
	c.Notifications.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Notifications.TelegramChatID = v
	}
}

// validate rejects configurations the engine cannot run with
func (c *Config) validate() error {
	if c.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if c.Feed.Path == "" {
		return fmt.Errorf("feed.path is required")
	}
	if c.Feed.PollInterval <= 0 {
		return fmt.Errorf("feed.poll_interval_seconds must be positive")
	}
	switch c.Venue.Name {
	case "bybit":
		if c.Venue.APIKey == "" || c.Venue.APISecret == "" {
			return fmt.Errorf("bybit venue needs BYBIT_API_KEY and BYBIT_API_SECRET")
		}
	case "paper":
	default:
		return fmt.Errorf("unknown venue %q", c.Venue.Name)
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if c.Executor.MaxMarginUtilization <= 0 || c.Executor.MaxMarginUtilization > 100 {
		return fmt.Errorf("executor.max_margin_utilization must be in (0, 100]")
	}
	if c.Executor.SlippageTolerance < 0 {
		return fmt.Errorf("executor.slippage_tolerance cannot be negative")
	}
	if c.Notifications.TelegramToken != "" && c.Notifications.TelegramChatID == "" {
		return fmt.Errorf("telegram token set without a chat id")
	}
	return nil
}
