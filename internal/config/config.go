// Package config provides configuration management for backtest runs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v3"

	"github.com/eddiefleurent/optionlegs/internal/models"
	"github.com/eddiefleurent/optionlegs/internal/pricing"
)

const (
	defaultWorkers  = 4
	defaultTimezone = "Asia/Kolkata"
	defaultOutput   = "output/trades.csv"
	defaultSpot     = 25000.0
	defaultVol      = 0.12
)

// Config represents the complete run configuration.
type Config struct {
	Environment EnvironmentConfig     `yaml:"environment"`
	Backtest    BacktestConfig        `yaml:"backtest"`
	Pricing     pricing.Params        `yaml:"pricing"`
	Storage     StorageConfig         `yaml:"storage"`
	Dashboard   DashboardConfig       `yaml:"dashboard"`
	Strategy    models.StrategyConfig `yaml:"strategy"`
}

// EnvironmentConfig defines logging settings.
type EnvironmentConfig struct {
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
	LogFile  string `yaml:"log_file"`  // rotated copy of the log, optional
}

// BacktestConfig defines the session range and data source.
type BacktestConfig struct {
	DataDir   string          `yaml:"data_dir"`
	From      string          `yaml:"from"` // YYYY-MM-DD
	To        string          `yaml:"to"`   // YYYY-MM-DD, inclusive
	Workers   int             `yaml:"workers"`
	Output    string          `yaml:"output"` // detail CSV path
	Timezone  string          `yaml:"timezone"`
	Synthetic SyntheticConfig `yaml:"synthetic"`
}

// SyntheticConfig switches the data source to generated chains.
type SyntheticConfig struct {
	Enabled bool    `yaml:"enabled"`
	Spot    float64 `yaml:"spot"`
	Vol     float64 `yaml:"vol"`
	Seed    int64   `yaml:"seed"`
}

// StorageConfig defines where finished trade rows are kept.
type StorageConfig struct {
	Driver string `yaml:"driver"` // json | sqlite
	Path   string `yaml:"path"`
}

// DashboardConfig defines the read-only results API.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
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
	return Parse(data)
}

// Parse decodes YAML after environment expansion and validates the result.
func Parse(data []byte) (*Config, error) {
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

// Validate fills defaults and checks every section. Strategy problems are
// returned as *models.ConfigurationError.
func (c *Config) Validate() error {
	c.normalize()

	if _, err := logrus.ParseLevel(c.Environment.LogLevel); err != nil {
		return fmt.Errorf("environment.log_level: %w", err)
	}

	from, to, err := c.DateRange()
	if err != nil {
		return err
	}
	if to.Before(from) {
		return fmt.Errorf("backtest.to (%s) must not be before backtest.from (%s)", c.Backtest.To, c.Backtest.From)
	}
	if c.Backtest.Workers <= 0 {
		return fmt.Errorf("backtest.workers must be > 0")
	}
	if !c.Backtest.Synthetic.Enabled && c.Backtest.DataDir == "" {
		return fmt.Errorf("backtest.data_dir is required unless backtest.synthetic.enabled")
	}
	if s := c.Backtest.Synthetic; s.Enabled && (s.Spot <= 0 || s.Vol <= 0) {
		return fmt.Errorf("backtest.synthetic spot and vol must be > 0")
	}
	if c.Pricing.Rate < 0 || c.Pricing.Dividend < 0 {
		return fmt.Errorf("pricing rates must be >= 0")
	}

	switch c.Storage.Driver {
	case "json", "sqlite":
	default:
		return fmt.Errorf("storage.driver must be 'json' or 'sqlite'")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be in 1..65535")
	}

	if err := c.Strategy.Validate(); err != nil {
		var cfgErr *models.ConfigurationError
		if errors.As(err, &cfgErr) {
			cfgErr.Field = "strategy." + cfgErr.Field
		}
		return err
	}
	return nil
}

// normalize sets default values for optional fields
func (c *Config) normalize() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Backtest.Workers == 0 {
		c.Backtest.Workers = defaultWorkers
	}
	if c.Backtest.Output == "" {
		c.Backtest.Output = defaultOutput
	}
	if c.Backtest.Timezone == "" {
		c.Backtest.Timezone = defaultTimezone
	}
	if c.Backtest.Synthetic.Enabled {
		if c.Backtest.Synthetic.Spot == 0 {
			c.Backtest.Synthetic.Spot = defaultSpot
		}
		if c.Backtest.Synthetic.Vol == 0 {
			c.Backtest.Synthetic.Vol = defaultVol
		}
	}
	if c.Pricing == (pricing.Params{}) {
		c.Pricing = pricing.DefaultParams()
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "json"
	}
}

// DateRange parses backtest.from and backtest.to in the configured timezone.
func (c *Config) DateRange() (from, to time.Time, err error) {
	loc := c.Location()
	from, err = time.ParseInLocation(models.DateLayout, c.Backtest.From, loc)
	if err != nil {
		return from, to, fmt.Errorf("backtest.from invalid: %w", err)
	}
	to, err = time.ParseInLocation(models.DateLayout, c.Backtest.To, loc)
	if err != nil {
		return from, to, fmt.Errorf("backtest.to invalid: %w", err)
	}
	return from, to, nil
}

// Location returns the session timezone.
func (c *Config) Location() *time.Location {
	tz := c.Backtest.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		// Fallback for minimal containers
		return time.FixedZone("IST", 5*60*60+30*60)
	}
	return loc
}

// GetLogLevel returns the configured level, falling back to info.
func (c *Config) GetLogLevel() logrus.Level {
	lvl, err := logrus.ParseLevel(c.Environment.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
