package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/eddiefleurent/optionlegs/internal/config"
	"github.com/eddiefleurent/optionlegs/internal/dashboard"
	"github.com/eddiefleurent/optionlegs/internal/engine"
	"github.com/eddiefleurent/optionlegs/internal/marketdata"
	"github.com/eddiefleurent/optionlegs/internal/metrics"
	"github.com/eddiefleurent/optionlegs/internal/mock"
	"github.com/eddiefleurent/optionlegs/internal/models"
	"github.com/eddiefleurent/optionlegs/internal/reporting"
	"github.com/eddiefleurent/optionlegs/internal/retry"
	"github.com/eddiefleurent/optionlegs/internal/storage"
)

func main() {
	var (
		configPath string
		envPath    string
		from, to   string
		synthetic  bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&envPath, "env", ".env", "Optional dotenv file loaded before the config")
	flag.StringVar(&from, "from", "", "First session date (overrides backtest.from)")
	flag.StringVar(&to, "to", "", "Last session date (overrides backtest.to)")
	flag.BoolVar(&synthetic, "synthetic", false, "Use generated chains instead of backtest.data_dir")
	flag.Parse()

	// Missing .env is fine; real environment variables still apply.
	_ = godotenv.Load(envPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := applyOverrides(cfg, from, to, synthetic); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid flags: %v\n", err)
		os.Exit(2)
	}

	logger, closeLog := newLogger(cfg.Environment, cfg.GetLogLevel())
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("Backtest failed")
		closeLog()
		os.Exit(1)
	}
	logger.Info("Backtest finished")
}

// applyOverrides folds command-line values into cfg and revalidates it.
func applyOverrides(cfg *config.Config, from, to string, synthetic bool) error {
	if from == "" && to == "" && !synthetic {
		return nil
	}
	if from != "" {
		cfg.Backtest.From = from
	}
	if to != "" {
		cfg.Backtest.To = to
	}
	if synthetic {
		cfg.Backtest.Synthetic.Enabled = true
	}
	return cfg.Validate()
}

// newLogger builds the process logger. When a log file is configured the
// output is teed to a rotated file.
func newLogger(env config.EnvironmentConfig, level logrus.Level) (*logrus.Logger, func()) {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	if env.LogFile == "" {
		logger.SetOutput(os.Stdout)
		return logger, func() {}
	}
	rotator := &lumberjack.Logger{
		Filename:   env.LogFile,
		MaxSize:    50, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return logger, func() { _ = rotator.Close() }
}

// newProvider returns the market data source guarded by a circuit breaker
// and retries.
func newProvider(cfg *config.Config, days []time.Time, logger logrus.FieldLogger) marketdata.Provider {
	var base marketdata.Provider
	if s := cfg.Backtest.Synthetic; s.Enabled {
		mem := marketdata.NewMemoryProvider()
		gen := mock.NewGenerator(s.Spot, s.Vol, s.Seed,
			mock.WithLocation(cfg.Location()),
			mock.WithPricing(cfg.Pricing))
		gen.Populate(mem, days)
		logger.WithField("sessions", len(days)).Info("Generated synthetic sessions")
		base = mem
	} else {
		base = marketdata.NewCSVProvider(cfg.Backtest.DataDir, cfg.Location(), logger)
	}
	return retry.NewClient(marketdata.NewCircuitBreakerProvider(base, logger), logger)
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	from, to, err := cfg.DateRange()
	if err != nil {
		return err
	}

	store, err := storage.NewStorage(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close storage")
		}
	}()

	recorder := metrics.NewRecorder()
	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		dash = dashboard.NewServer(dashboard.Config{
			Port:      cfg.Dashboard.Port,
			AuthToken: cfg.Dashboard.AuthToken,
			Scope:     reporting.ScopeFor(cfg.Strategy.SquareOffMode),
		}, store, recorder.Handler(), logger)
		go func() {
			if err := dash.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Dashboard server stopped")
			}
		}()
	}

	provider := newProvider(cfg, engine.TradingDays(from, to), logger)
	runner := engine.NewRunner(provider, store, engine.Options{
		Pricing:  cfg.Pricing,
		Logger:   logger,
		Recorder: recorder,
	}, cfg.Backtest.Workers)

	logger.WithFields(logrus.Fields{
		"strategy": cfg.Strategy.Name,
		"from":     cfg.Backtest.From,
		"to":       cfg.Backtest.To,
		"workers":  cfg.Backtest.Workers,
	}).Info("Starting backtest")

	res, runErr := runner.Run(ctx, &cfg.Strategy, from, to)
	if res != nil {
		report(res, store, cfg, logger)
	}
	if runErr != nil {
		return runErr
	}

	if dash != nil {
		logger.Infof("Serving results on :%d until interrupted", cfg.Dashboard.Port)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return dash.Shutdown(shutdownCtx)
	}
	return nil
}

// report writes the rows that reached storage to the detail CSV and logs
// the run outcome.
func report(res *engine.RunResult, store storage.Interface, cfg *config.Config, logger *logrus.Logger) {
	log := logger.WithField("run_id", res.RunID)
	for _, f := range res.Failures {
		log.WithFields(logrus.Fields{"date": f.Date, "reason": f.Reason}).WithError(f.Err).Warn("Session failed")
	}
	if len(res.Skipped) > 0 {
		log.WithField("dates", res.Skipped).Info("Skipped sessions already stored")
	}

	rows := storedRows(res.Rows, store)
	m, err := reporting.Flush(cfg.Backtest.Output, rows, cfg.Strategy.SquareOffMode)
	if err != nil {
		log.WithError(err).Error("Failed to write reports")
		return
	}
	if m == nil {
		log.Info("No new trades")
		return
	}
	log.WithFields(logrus.Fields{
		"rows":           len(rows),
		"trades":         m.NumTrades,
		"overall":        m.OverallProfit,
		"win_pct":        m.WinPct,
		"max_drawdown":   m.MaxDrawdown,
		"reward_risk":    m.RewardToRisk,
		"return_over_dd": m.ReturnOverMaxDD,
		"scope":          m.Scope,
		"output":         cfg.Backtest.Output,
	}).Info("Reports written")
}

// storedRows keeps rows whose session was persisted, so a resumed run does
// not append canceled sessions twice.
func storedRows(rows []models.TradeRow, store storage.Interface) []models.TradeRow {
	out := make([]models.TradeRow, 0, len(rows))
	for _, r := range rows {
		if store.HasSession(r.Date) {
			out = append(out, r)
		}
	}
	return out
}
