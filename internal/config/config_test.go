package config

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/optionlegs/internal/models"
)

func TestLoad(t *testing.T) {
	t.Setenv("OPTIONLEGS_DASHBOARD_TOKEN", "s3cret")
	configPath := filepath.Join("..", "..", "config.yaml.example")
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Expected config to load successfully from example file, got error: %v", err)
	}
	if cfg.Dashboard.AuthToken != "s3cret" {
		t.Errorf("Expected env expansion of auth_token, got %q", cfg.Dashboard.AuthToken)
	}
	if len(cfg.Strategy.Legs) != 2 {
		t.Fatalf("Expected 2 legs, got %d", len(cfg.Strategy.Legs))
	}
	if got := cfg.Strategy.Legs[1].StrikeCriteria.Params["premium"]; got != "120" {
		t.Errorf("Expected numeric param decoded as text, got %q", got)
	}
	if cfg.Strategy.NoReEntryAfter == nil || cfg.Strategy.NoReEntryAfter.String() != "14:30" {
		t.Errorf("Expected no_reentry_after 14:30, got %v", cfg.Strategy.NoReEntryAfter)
	}
}

func TestLoad_InvalidPath(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent config file, got nil")
	}
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("backtest:\n  frm: 2025-08-04\n"))
	if err == nil || !strings.Contains(err.Error(), "frm") {
		t.Errorf("Expected unknown field error, got %v", err)
	}
}

func validConfig() *Config {
	return &Config{
		Backtest: BacktestConfig{
			From:      "2025-08-04",
			To:        "2025-08-08",
			Synthetic: SyntheticConfig{Enabled: true},
		},
		Storage: StorageConfig{Path: "trades.json"},
		Strategy: models.StrategyConfig{
			EntryTime: models.ClockTime{Hour: 9, Minute: 20},
			ExitTime:  models.ClockTime{Hour: 15, Minute: 15},
			LotSize:   75,
			Legs: []models.LegSpec{{
				Position:   "sell",
				OptionType: "CE",
				QtyLots:    1,
			}},
		},
	}
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected valid config, got error: %v", err)
	}
	if cfg.Backtest.Workers != defaultWorkers {
		t.Errorf("Expected default workers %d, got %d", defaultWorkers, cfg.Backtest.Workers)
	}
	if cfg.Storage.Driver != "json" {
		t.Errorf("Expected default json driver, got %q", cfg.Storage.Driver)
	}
	if cfg.Backtest.Synthetic.Spot != defaultSpot || cfg.Backtest.Synthetic.Vol != defaultVol {
		t.Errorf("Expected synthetic defaults, got %+v", cfg.Backtest.Synthetic)
	}
	if cfg.Pricing.Rate != 0.06 {
		t.Errorf("Expected default risk free 0.06, got %v", cfg.Pricing.Rate)
	}
	if cfg.Strategy.Legs[0].Position != models.Sell {
		t.Errorf("Expected position normalized to Sell, got %q", cfg.Strategy.Legs[0].Position)
	}
	if cfg.GetLogLevel() != logrus.InfoLevel {
		t.Errorf("Expected info level, got %v", cfg.GetLogLevel())
	}

	from, to, err := cfg.DateRange()
	if err != nil {
		t.Fatal(err)
	}
	if to.Sub(from) != 4*24*time.Hour {
		t.Errorf("Expected 4 day range, got %v", to.Sub(from))
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"bad log level", func(c *Config) { c.Environment.LogLevel = "loud" }, "environment.log_level"},
		{"bad from", func(c *Config) { c.Backtest.From = "04/08/2025" }, "backtest.from invalid"},
		{"reversed range", func(c *Config) { c.Backtest.To = "2025-08-01" }, "must not be before"},
		{"negative workers", func(c *Config) { c.Backtest.Workers = -1 }, "backtest.workers"},
		{"no data dir", func(c *Config) { c.Backtest.Synthetic.Enabled = false }, "backtest.data_dir is required"},
		{"bad driver", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.driver"},
		{"no storage path", func(c *Config) { c.Storage.Path = "" }, "storage.path is required"},
		{"bad port", func(c *Config) { c.Dashboard = DashboardConfig{Enabled: true} }, "dashboard.port"},
		{"negative rate", func(c *Config) { c.Pricing.Rate = -0.01 }, "pricing rates"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantMsg)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected error message to contain '%s', got: %v", tt.wantMsg, err)
			}
		})
	}
}

func TestValidate_StrategyConfigurationError(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy.Legs[0].StrikeCriteria.Mode = "NEAREST_GUESS"

	err := cfg.Validate()
	var cfgErr *models.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected *models.ConfigurationError, got %T: %v", err, err)
	}
	if !strings.HasPrefix(cfgErr.Field, "strategy.legs[0]") {
		t.Errorf("Expected field under strategy.legs[0], got %q", cfgErr.Field)
	}
}

func TestLocation_Fallback(t *testing.T) {
	cfg := &Config{Backtest: BacktestConfig{Timezone: "Not/AZone"}}
	_, offset := time.Date(2025, 8, 4, 12, 0, 0, 0, cfg.Location()).Zone()
	if offset != 19800 {
		t.Errorf("Expected IST fallback offset, got %d", offset)
	}
}
