package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/optionlegs/internal/marketdata"
	"github.com/eddiefleurent/optionlegs/internal/models"
)

// DefaultWorkers is the number of sessions replayed concurrently.
const DefaultWorkers = 4

// Failure reasons attached to a SessionFailure.
const (
	FailureDataGap = "data_gap"
	FailureError   = "error"
)

// Sink receives completed sessions. Implementations must be safe for
// concurrent use.
type Sink interface {
	AppendTrades(rows []models.TradeRow) error
	// MarkSession records a completed session that produced no rows.
	MarkSession(date string) error
	HasSession(date string) bool
}

// SessionFailure records a day that produced no rows.
type SessionFailure struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

func (f SessionFailure) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.Date, f.Reason, f.Err)
}

// RunResult is the outcome of a backtest over a date range.
type RunResult struct {
	RunID    string
	Rows     []models.TradeRow
	Failures []SessionFailure
	// Skipped lists dates the sink already held.
	Skipped []string
}

// Runner replays a strategy across a range of trading days.
type Runner struct {
	provider marketdata.Provider
	sink     Sink
	opts     Options
	workers  int
}

// NewRunner creates a runner. sink may be nil, in which case rows are only
// returned. workers <= 0 selects DefaultWorkers.
func NewRunner(provider marketdata.Provider, sink Sink, opts Options, workers int) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Runner{
		provider: provider,
		sink:     sink,
		opts:     opts.withDefaults(),
		workers:  workers,
	}
}

// TradingDays returns the weekdays in [from, to].
func TradingDays(from, to time.Time) []time.Time {
	var days []time.Time
	d := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	for !d.After(to) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days = append(days, d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return days
}

type dayOutcome struct {
	rows    []models.TradeRow
	failure *SessionFailure
	skipped bool
}

// Run replays cfg on every weekday in [from, to]. Days already in the sink
// are skipped. A day that fails is recorded in RunResult.Failures and does
// not stop the run; only an invalid config, a sink error or cancellation
// returns an error. Rows are ordered by date and persisted only for days
// that finished.
func (r *Runner) Run(ctx context.Context, cfg *models.StrategyConfig, from, to time.Time) (*RunResult, error) {
	if err := cfg.Clone().Validate(); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, &models.ConfigurationError{Field: "to", Reason: "end date is before start date"}
	}

	runID := uuid.New().String()
	log := r.opts.Logger.WithFields(logrus.Fields{"run_id": runID, "strategy": cfg.Name})
	days := TradingDays(from, to)
	log.WithFields(logrus.Fields{
		"from":    from.Format(models.DateLayout),
		"to":      to.Format(models.DateLayout),
		"days":    len(days),
		"workers": r.workers,
	}).Info("backtest started")

	outcomes := make([]dayOutcome, len(days))
	var sinkMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, day := range days {
		i, day := i, day
		key := day.Format(models.DateLayout)
		if r.sink != nil && r.sink.HasSession(key) {
			outcomes[i].skipped = true
			continue
		}
		g.Go(func() error {
			rows, err := RunSession(gctx, day, cfg, r.provider, r.provider, r.opts)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				outcomes[i].rows = stamp(rows, runID)
				return err
			default:
				outcomes[i].failure = classify(key, err)
				log.WithError(err).WithField("date", key).Warn("session failed")
				return nil
			}
			rows = stamp(rows, runID)
			outcomes[i].rows = rows
			if r.sink == nil {
				return nil
			}
			sinkMu.Lock()
			defer sinkMu.Unlock()
			persist := func() error { return r.sink.AppendTrades(rows) }
			if len(rows) == 0 {
				persist = func() error { return r.sink.MarkSession(key) }
			}
			if err := persist(); err != nil {
				return fmt.Errorf("persist %s: %w", key, err)
			}
			return nil
		})
	}
	waitErr := g.Wait()

	res := &RunResult{RunID: runID}
	for i, o := range outcomes {
		switch {
		case o.skipped:
			res.Skipped = append(res.Skipped, days[i].Format(models.DateLayout))
		case o.failure != nil:
			res.Failures = append(res.Failures, *o.failure)
		default:
			res.Rows = append(res.Rows, o.rows...)
		}
	}
	log.WithFields(logrus.Fields{
		"rows":     len(res.Rows),
		"failures": len(res.Failures),
		"skipped":  len(res.Skipped),
	}).Info("backtest finished")
	if waitErr != nil {
		return res, waitErr
	}
	return res, ctx.Err()
}

func stamp(rows []models.TradeRow, runID string) []models.TradeRow {
	for i := range rows {
		rows[i].RunID = runID
	}
	return rows
}

func classify(date string, err error) *SessionFailure {
	reason := FailureError
	var gap *models.DataGapError
	if errors.As(err, &gap) {
		reason = FailureDataGap
	}
	return &SessionFailure{Date: date, Reason: reason, Err: err}
}
