// Package config handles loading and validation of the YAML configuration
package config

import (
	"fmt"
	"os"
	"regexp"
	"simtrader/internal/core"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Account   AccountConfig   `yaml:"account"`
	Matching  MatchingConfig  `yaml:"matching"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Benchmark BenchmarkConfig `yaml:"benchmark"`
	State     StateConfig     `yaml:"state"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Alert     AlertConfig     `yaml:"alert"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// EngineConfig controls the run mode and the event cadence
type EngineConfig struct {
	Mode                     core.Mode      `yaml:"mode"`
	StrategyName             string         `yaml:"strategy_name"`
	StartDate                string         `yaml:"start_date"`
	EndDate                  string         `yaml:"end_date"`
	Frequency                core.Frequency `yaml:"frequency"`
	TickIntervalSeconds      int            `yaml:"tick_interval_seconds"`
	BlockThresholdSeconds    int            `yaml:"block_threshold_seconds"`
	EnableIntradayStatistics bool           `yaml:"enable_intraday_statistics"`
	IntradayUpdateMinutes    int            `yaml:"intraday_update_minutes"`

	// StrategyParams is passed through to the strategy untouched.
	StrategyParams map[string]string `yaml:"strategy_params"`
}

// AccountConfig describes the simulated account
type AccountConfig struct {
	InitialCash     float64          `yaml:"initial_cash"`
	TradingRule     core.TradingRule `yaml:"trading_rule"`
	TradingMode     core.TradingMode `yaml:"trading_mode"`
	ShortMarginRate float64          `yaml:"short_margin_rate"`
	OrderLotSize    int64            `yaml:"order_lot_size"`
}

// MatchingConfig groups the trading cost models
type MatchingConfig struct {
	Commission CommissionConfig `yaml:"commission"`
	Slippage   SlippageConfig   `yaml:"slippage"`
}

// CommissionConfig holds per-side fee rates
type CommissionConfig struct {
	BuyCommission  float64 `yaml:"buy_commission"`
	SellCommission float64 `yaml:"sell_commission"`
	BuyTax         float64 `yaml:"buy_tax"`
	SellTax        float64 `yaml:"sell_tax"`
	MinCommission  float64 `yaml:"min_commission"`
}

// SlippageConfig holds the slippage model parameters
type SlippageConfig struct {
	Type string  `yaml:"type"`
	Rate float64 `yaml:"rate"`
}

// HookTimes are the intraday anchors for the daily lifecycle events
type HookTimes struct {
	BeforeTrading string `yaml:"before_trading"`
	HandleBar     string `yaml:"handle_bar"`
	AfterTrading  string `yaml:"after_trading"`
	BrokerSettle  string `yaml:"broker_settle"`
}

// LifecycleConfig describes the daily session structure
type LifecycleConfig struct {
	Hooks           HookTimes  `yaml:"hooks"`
	TradingSessions [][]string `yaml:"trading_sessions"`
}

// BenchmarkConfig names the optional benchmark symbol
type BenchmarkConfig struct {
	Symbol string `yaml:"symbol"`
	Name   string `yaml:"name"`
}

// StateConfig controls state persistence and autosave cadence
type StateConfig struct {
	Path             string `yaml:"path"`
	AutoSave         bool   `yaml:"auto_save"`
	AutoSaveInterval int    `yaml:"auto_save_interval"`
	AutoSaveMode     string `yaml:"auto_save_mode"`
}

// MonitorConfig controls the monitor publisher
type MonitorConfig struct {
	Enable        bool    `yaml:"enable"`
	ListenAddr    string  `yaml:"listen_addr"`
	UpdatesPerSec float64 `yaml:"updates_per_sec"`
}

// AlertConfig holds webhook credentials for run notifications. Values are
// usually injected via ${VAR} references.
type AlertConfig struct {
	SlackWebhook     string `yaml:"slack_webhook"`
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s=%v: %s", e.Field, e.Value, e.Message)
}

// LoadConfig reads, expands and validates a YAML configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// expandEnvVars replaces ${VAR} references with environment values
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// DefaultConfig returns a configuration with sane defaults, primarily for tests
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Mode:                  core.ModeBacktest,
			StrategyName:          "UnnamedStrategy",
			Frequency:             core.FrequencyDaily,
			TickIntervalSeconds:   3,
			BlockThresholdSeconds: 5,
			IntradayUpdateMinutes: 5,
		},
		Account: AccountConfig{
			InitialCash:     1000000,
			TradingRule:     core.RuleT1,
			TradingMode:     core.LongOnly,
			ShortMarginRate: 0.2,
			OrderLotSize:    1,
		},
		Matching: MatchingConfig{
			Commission: CommissionConfig{
				BuyCommission:  0.0002,
				SellCommission: 0.0002,
				BuyTax:         0.0,
				SellTax:        0.001,
				MinCommission:  5.0,
			},
			Slippage: SlippageConfig{
				Type: "fixed",
				Rate: 0.001,
			},
		},
		Lifecycle: LifecycleConfig{
			Hooks: HookTimes{
				BeforeTrading: "09:15:00",
				HandleBar:     "14:55:00",
				AfterTrading:  "15:05:00",
				BrokerSettle:  "15:30:00",
			},
			TradingSessions: [][]string{
				{"09:30:00", "11:30:00"},
				{"13:00:00", "15:00:00"},
			},
		},
		State: StateConfig{
			Path:             ".states/simtrader.db",
			AutoSaveInterval: 10,
			AutoSaveMode:     "increment",
		},
		Monitor: MonitorConfig{
			ListenAddr:    ":8050",
			UpdatesPerSec: 5,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}

// Validate checks the configuration section by section
func (c *Config) Validate() error {
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Account.validate(); err != nil {
		return err
	}
	if err := c.Matching.validate(); err != nil {
		return err
	}
	if err := c.Lifecycle.validate(); err != nil {
		return err
	}
	if err := c.State.validate(); err != nil {
		return err
	}
	return nil
}

func (e *EngineConfig) validate() error {
	switch e.Mode {
	case core.ModeBacktest, core.ModeSimulation:
	default:
		return &ValidationError{Field: "engine.mode", Value: e.Mode, Message: "must be backtest or simulation"}
	}
	switch e.Frequency {
	case core.FrequencyDaily, core.FrequencyMinute, core.FrequencyTick:
	default:
		return &ValidationError{Field: "engine.frequency", Value: e.Frequency, Message: "must be daily, minute or tick"}
	}
	if e.Mode == core.ModeBacktest {
		if e.StartDate == "" {
			return &ValidationError{Field: "engine.start_date", Value: e.StartDate, Message: "required in backtest mode"}
		}
		if _, err := time.Parse(core.DateLayout, e.StartDate); err != nil {
			return &ValidationError{Field: "engine.start_date", Value: e.StartDate, Message: "must be YYYY-MM-DD"}
		}
		if e.EndDate == "" {
			return &ValidationError{Field: "engine.end_date", Value: e.EndDate, Message: "required in backtest mode"}
		}
		if _, err := time.Parse(core.DateLayout, e.EndDate); err != nil {
			return &ValidationError{Field: "engine.end_date", Value: e.EndDate, Message: "must be YYYY-MM-DD"}
		}
	}
	if e.TickIntervalSeconds <= 0 {
		return &ValidationError{Field: "engine.tick_interval_seconds", Value: e.TickIntervalSeconds, Message: "must be positive"}
	}
	if e.BlockThresholdSeconds <= 0 {
		return &ValidationError{Field: "engine.block_threshold_seconds", Value: e.BlockThresholdSeconds, Message: "must be positive"}
	}
	return nil
}

func (a *AccountConfig) validate() error {
	if a.InitialCash <= 0 {
		return &ValidationError{Field: "account.initial_cash", Value: a.InitialCash, Message: "must be positive"}
	}
	switch a.TradingRule {
	case core.RuleT1, core.RuleT0:
	default:
		return &ValidationError{Field: "account.trading_rule", Value: a.TradingRule, Message: "must be T+1 or T+0"}
	}
	switch a.TradingMode {
	case core.LongOnly, core.LongShort:
	default:
		return &ValidationError{Field: "account.trading_mode", Value: a.TradingMode, Message: "must be long_only or long_short"}
	}
	if a.ShortMarginRate < 0 || a.ShortMarginRate > 1 {
		return &ValidationError{Field: "account.short_margin_rate", Value: a.ShortMarginRate, Message: "must be within [0, 1]"}
	}
	if a.OrderLotSize < 1 {
		return &ValidationError{Field: "account.order_lot_size", Value: a.OrderLotSize, Message: "must be at least 1"}
	}
	return nil
}

func (m *MatchingConfig) validate() error {
	if m.Commission.MinCommission < 0 {
		return &ValidationError{Field: "matching.commission.min_commission", Value: m.Commission.MinCommission, Message: "must not be negative"}
	}
	if m.Slippage.Rate < 0 {
		return &ValidationError{Field: "matching.slippage.rate", Value: m.Slippage.Rate, Message: "must not be negative"}
	}
	if m.Slippage.Type != "" && m.Slippage.Type != "fixed" && m.Slippage.Type != "none" {
		return &ValidationError{Field: "matching.slippage.type", Value: m.Slippage.Type, Message: "must be fixed or none"}
	}
	return nil
}

func (l *LifecycleConfig) validate() error {
	for field, v := range map[string]string{
		"lifecycle.hooks.before_trading": l.Hooks.BeforeTrading,
		"lifecycle.hooks.handle_bar":     l.Hooks.HandleBar,
		"lifecycle.hooks.after_trading":  l.Hooks.AfterTrading,
		"lifecycle.hooks.broker_settle":  l.Hooks.BrokerSettle,
	} {
		if _, err := core.ParseDayTime(v); err != nil {
			return &ValidationError{Field: field, Value: v, Message: "must be HH:MM:SS"}
		}
	}
	if len(l.TradingSessions) == 0 {
		return &ValidationError{Field: "lifecycle.trading_sessions", Value: l.TradingSessions, Message: "at least one session required"}
	}
	for i, s := range l.TradingSessions {
		if len(s) != 2 {
			return &ValidationError{Field: fmt.Sprintf("lifecycle.trading_sessions[%d]", i), Value: s, Message: "must be a [start, end] pair"}
		}
		start, err := core.ParseDayTime(s[0])
		if err != nil {
			return &ValidationError{Field: fmt.Sprintf("lifecycle.trading_sessions[%d]", i), Value: s[0], Message: "must be HH:MM:SS"}
		}
		end, err := core.ParseDayTime(s[1])
		if err != nil {
			return &ValidationError{Field: fmt.Sprintf("lifecycle.trading_sessions[%d]", i), Value: s[1], Message: "must be HH:MM:SS"}
		}
		if !start.Before(end) {
			return &ValidationError{Field: fmt.Sprintf("lifecycle.trading_sessions[%d]", i), Value: s, Message: "start must precede end"}
		}
	}
	return nil
}

func (s *StateConfig) validate() error {
	if s.AutoSave && s.AutoSaveInterval <= 0 {
		return &ValidationError{Field: "state.auto_save_interval", Value: s.AutoSaveInterval, Message: "must be positive when auto_save is enabled"}
	}
	if s.AutoSaveMode != "" && s.AutoSaveMode != "increment" && s.AutoSaveMode != "overwrite" {
		return &ValidationError{Field: "state.auto_save_mode", Value: s.AutoSaveMode, Message: "must be increment or overwrite"}
	}
	return nil
}

// Sessions parses the configured trading sessions into time-of-day pairs.
// Validate must have succeeded before calling.
func (l *LifecycleConfig) Sessions() [][2]time.Time {
	out := make([][2]time.Time, 0, len(l.TradingSessions))
	for _, s := range l.TradingSessions {
		start, _ := core.ParseDayTime(s[0])
		end, _ := core.ParseDayTime(s[1])
		out = append(out, [2]time.Time{start, end})
	}
	return out
}
