package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/optionlegs/internal/config"
	"github.com/eddiefleurent/optionlegs/internal/models"
	"github.com/eddiefleurent/optionlegs/internal/reporting"
	"github.com/eddiefleurent/optionlegs/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Environment: config.EnvironmentConfig{LogLevel: "error"},
		Backtest: config.BacktestConfig{
			From:      "2025-08-04",
			To:        "2025-08-06",
			Workers:   2,
			Output:    filepath.Join(dir, "trades.csv"),
			Timezone:  "UTC",
			Synthetic: config.SyntheticConfig{Enabled: true, Seed: 5},
		},
		Storage: config.StorageConfig{Driver: "sqlite", Path: filepath.Join(dir, "trades.db")},
		Strategy: models.StrategyConfig{
			Index:     "NIFTY",
			EntryTime: models.ClockTime{Hour: 9, Minute: 20},
			ExitTime:  models.ClockTime{Hour: 15, Minute: 15},
			LotSize:   75,
			Legs: []models.LegSpec{
				{Position: models.Sell, OptionType: models.Call, QtyLots: 1},
				{Position: models.Sell, OptionType: models.Put, QtyLots: 1},
			},
		},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestRun_SyntheticWritesReportsAndResumes(t *testing.T) {
	cfg := testConfig(t)

	require.NoError(t, run(context.Background(), cfg, quietLogger()))

	rows, err := reporting.ReadDetail(cfg.Backtest.Output)
	require.NoError(t, err)
	assert.Len(t, rows, 6, "two legs over three sessions")
	for _, name := range []string{reporting.SummarySuffix, reporting.MetricsSuffix, reporting.EquitySuffix} {
		_, err := os.Stat(reporting.Sidecar(cfg.Backtest.Output, name))
		assert.NoError(t, err, name)
	}

	// a second run finds every session stored and appends nothing
	require.NoError(t, run(context.Background(), cfg, quietLogger()))
	rows, err = reporting.ReadDetail(cfg.Backtest.Output)
	require.NoError(t, err)
	assert.Len(t, rows, 6)
}

func TestApplyOverrides(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, applyOverrides(cfg, "2025-08-05", "", false))
	assert.Equal(t, "2025-08-05", cfg.Backtest.From)
	assert.Equal(t, "2025-08-06", cfg.Backtest.To)

	err := applyOverrides(cfg, "", "2025-08-01", false)
	assert.Error(t, err)
}

func TestStoredRows(t *testing.T) {
	store := storage.NewMockStorage()
	require.NoError(t, store.MarkSession("2025-08-04"))
	rows := []models.TradeRow{{Date: "2025-08-04"}, {Date: "2025-08-05"}}
	assert.Equal(t, rows[:1], storedRows(rows, store))
}

func TestNewLogger_TeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backtest.log")
	logger, closeLog := newLogger(config.EnvironmentConfig{LogFile: path}, logrus.InfoLevel)
	logger.Info("hello")
	closeLog()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}
