// Package config loads the settlement layer configuration from
// config/settlement.yaml with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so yaml values can use "200ms"/"10m" notation.
type Duration time.Duration

// Duration returns the wrapped standard duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the full configuration tree.
type Config struct {
	HTTPListen  string `yaml:"http_listen"`
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`

	Settlement SettlementConfig `yaml:"settlement"`
	Ledger     LedgerConfig     `yaml:"ledger"`
}

// SettlementConfig configures the conversion arithmetic, the bonus cascade
// and the eligibility window. Decimal values are carried as strings so the
// yaml round-trip never goes through floats.
type SettlementConfig struct {
	FeeRate    string   `yaml:"fee_rate"`
	BonusRates []string `yaml:"bonus_rates"`
	MinPrice   string   `yaml:"min_price"`
	MaxPrice   string   `yaml:"max_price"`
	Tolerance  string   `yaml:"tolerance"`

	WindowWeekday string `yaml:"window_weekday"`
	WindowCutoff  string `yaml:"window_cutoff"`
	Timezone      string `yaml:"timezone"`

	SchedulerSpec    string `yaml:"scheduler_spec"`
	SchedulerEnabled bool   `yaml:"scheduler_enabled"`

	RunLockTTL    Duration `yaml:"run_lock_ttl"`
	SubmitTimeout Duration `yaml:"submit_timeout"`
}

// LedgerConfig configures the external ledger client.
type LedgerConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Timeout   Duration `yaml:"timeout"`

	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
	Multiplier  float64  `yaml:"multiplier"`
	Jitter      float64  `yaml:"jitter"`

	FailureThreshold int      `yaml:"failure_threshold"`
	RecoveryInterval Duration `yaml:"recovery_interval"`

	SubmitRate            float64  `yaml:"submit_rate"`
	RequiredConfirmations int      `yaml:"required_confirmations"`
	ConfirmInterval       Duration `yaml:"confirm_interval"`
}

type envOverrides struct {
	HTTPListen      string `env:"HTTP_LISTEN,default="`
	PostgresDSN     string `env:"POSTGRES_DSN,default="`
	RedisAddr       string `env:"REDIS_ADDR,default="`
	LedgerEndpoints string `env:"LEDGER_ENDPOINTS,default="`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		HTTPListen: ":8080",
		Settlement: SettlementConfig{
			FeeRate:          "0.05",
			BonusRates:       []string{"0.007", "0.005", "0.005"},
			MinPrice:         "10",
			MaxPrice:         "1000",
			Tolerance:        "0.00001",
			WindowWeekday:    "Friday",
			WindowCutoff:     "17:00",
			Timezone:         "UTC",
			SchedulerSpec:    "0 10 * * FRI",
			SchedulerEnabled: false,
			RunLockTTL:       Duration(10 * time.Minute),
			SubmitTimeout:    Duration(60 * time.Second),
		},
		Ledger: LedgerConfig{
			Timeout:               Duration(30 * time.Second),
			MaxAttempts:           3,
			BaseDelay:             Duration(200 * time.Millisecond),
			MaxDelay:              Duration(5 * time.Second),
			Multiplier:            2.0,
			Jitter:                0.1,
			FailureThreshold:      5,
			RecoveryInterval:      Duration(30 * time.Second),
			RequiredConfirmations: 6,
			ConfirmInterval:       Duration(30 * time.Second),
		},
	}
}

// Load reads config/settlement.yaml relative to the working directory.
func Load() (*Config, error) {
	return LoadFromPath(filepath.Join("config", "settlement.yaml"))
}

// LoadFromPath reads a specific configuration file, then applies environment
// overrides.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settlement config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse settlement config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.validate()
}

// LoadOrDefault loads the configuration file or falls back to defaults plus
// environment overrides when the file is absent.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		cfg = Default()
		_ = cfg.applyEnv()
	}
	return cfg
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envdecode.Decode(&env); err != nil {
		return fmt.Errorf("decode environment: %w", err)
	}
	if env.HTTPListen != "" {
		c.HTTPListen = env.HTTPListen
	}
	if env.PostgresDSN != "" {
		c.PostgresDSN = env.PostgresDSN
	}
	if env.RedisAddr != "" {
		c.RedisAddr = env.RedisAddr
	}
	if env.LedgerEndpoints != "" {
		c.Ledger.Endpoints = splitAndTrim(env.LedgerEndpoints)
	}
	return nil
}

func (c *Config) validate() error {
	if _, err := c.FeeRate(); err != nil {
		return err
	}
	if _, err := c.BonusRates(); err != nil {
		return err
	}
	min, err := c.MinPrice()
	if err != nil {
		return err
	}
	max, err := c.MaxPrice()
	if err != nil {
		return err
	}
	if min.Cmp(max) >= 0 {
		return fmt.Errorf("min_price %s must be below max_price %s", min, max)
	}
	if _, _, _, err := c.WindowCutoffTime(); err != nil {
		return err
	}
	if _, err := c.WindowWeekday(); err != nil {
		return err
	}
	return nil
}

// FeeRate parses the structure fee rate.
func (c *Config) FeeRate() (decimal.Decimal, error) {
	return parseDecimal("fee_rate", c.Settlement.FeeRate)
}

// BonusRates parses the per-level referral bonus rates.
func (c *Config) BonusRates() ([]decimal.Decimal, error) {
	rates := make([]decimal.Decimal, 0, len(c.Settlement.BonusRates))
	for i, raw := range c.Settlement.BonusRates {
		rate, err := parseDecimal(fmt.Sprintf("bonus_rates[%d]", i), raw)
		if err != nil {
			return nil, err
		}
		rates = append(rates, rate)
	}
	return rates, nil
}

// MinPrice parses the lower fixing price bound.
func (c *Config) MinPrice() (decimal.Decimal, error) {
	return parseDecimal("min_price", c.Settlement.MinPrice)
}

// MaxPrice parses the upper fixing price bound.
func (c *Config) MaxPrice() (decimal.Decimal, error) {
	return parseDecimal("max_price", c.Settlement.MaxPrice)
}

// Tolerance parses the conservation check tolerance.
func (c *Config) Tolerance() (decimal.Decimal, error) {
	return parseDecimal("tolerance", c.Settlement.Tolerance)
}

// WindowWeekday parses the eligibility weekday.
func (c *Config) WindowWeekday() (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), c.Settlement.WindowWeekday) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown window_weekday %q", c.Settlement.WindowWeekday)
}

// WindowCutoffTime parses the "HH:MM" cutoff and the window timezone.
func (c *Config) WindowCutoffTime() (hour, minute int, loc *time.Location, err error) {
	parsed, err := time.Parse("15:04", c.Settlement.WindowCutoff)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("parse window_cutoff %q: %w", c.Settlement.WindowCutoff, err)
	}
	loc = time.UTC
	if tz := strings.TrimSpace(c.Settlement.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("load timezone %q: %w", tz, err)
		}
	}
	return parsed.Hour(), parsed.Minute(), loc, nil
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s %q: %w", field, raw, err)
	}
	return value, nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
