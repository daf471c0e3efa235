package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/optionlegs/internal/marketdata"
	"github.com/eddiefleurent/optionlegs/internal/models"
	"github.com/eddiefleurent/optionlegs/internal/pricing"
	"github.com/eddiefleurent/optionlegs/internal/risk"
	"github.com/eddiefleurent/optionlegs/internal/strategy"
)

// Session outcomes reported to a Recorder.
const (
	StatusOK       = "ok"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
)

const paramTimeLayout = "2006-01-02 15:04:05"

// Options carries the collaborators shared by every session of a run.
type Options struct {
	Pricing  pricing.Params
	Logger   logrus.FieldLogger
	Recorder Recorder
}

func (o Options) withDefaults() Options {
	if o.Pricing == (pricing.Params{}) {
		o.Pricing = pricing.DefaultParams()
	}
	if o.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.Logger = l
	}
	if o.Recorder == nil {
		o.Recorder = noopRecorder{}
	}
	return o
}

// session owns the live legs and pending re-entries of one trading day.
// It is not safe for concurrent use.
type session struct {
	date    time.Time
	cfg     *models.StrategyConfig
	sel     *strategy.Selector
	log     logrus.FieldLogger
	rec     Recorder
	snaps   []models.Snapshot
	under   *models.PriceSeries
	cutoff  time.Time
	legs    []*models.Leg
	pending []*PendingReEntry
	seq     int
}

// RunSession replays one trading day of cfg and returns a row per leg.
//
// The config is validated on a private copy, so a malformed definition
// fails with *models.ConfigurationError before any leg opens. A day without
// chain or underlying data fails with *models.DataGapError. When ctx is
// canceled between snapshots, open legs are force-closed at the last
// processed snapshot and the rows are returned together with ctx.Err().
func RunSession(ctx context.Context, date time.Time, cfg *models.StrategyConfig,
	chains marketdata.ChainProvider, underlying marketdata.UnderlyingProvider, opts Options) ([]models.TradeRow, error) {
	start := time.Now()
	opts = opts.withDefaults()
	rows, err := runSession(ctx, date, cfg, chains, underlying, opts)
	status := StatusOK
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = StatusCanceled
	default:
		status = StatusFailed
		rows = nil
	}
	opts.Recorder.SessionFinished(status, time.Since(start))
	return rows, err
}

func runSession(ctx context.Context, date time.Time, cfg *models.StrategyConfig,
	chains marketdata.ChainProvider, underlying marketdata.UnderlyingProvider, opts Options) ([]models.TradeRow, error) {
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	day := date.Format(models.DateLayout)
	log := opts.Logger.WithFields(logrus.Fields{"date": day, "strategy": cfg.Name})

	snaps, err := chains.Snapshots(ctx, date)
	if err != nil && !errors.Is(err, marketdata.ErrNoData) {
		return nil, fmt.Errorf("load option chain for %s: %w", day, err)
	}
	if len(snaps) == 0 {
		return nil, &models.DataGapError{Date: day, Instrument: cfg.Index + " options", Reason: "no chain snapshots"}
	}
	snaps = append([]models.Snapshot(nil), snaps...)
	models.SortSnapshots(snaps)

	under, err := marketdata.Underlying(ctx, underlying, date, cfg.UsesFutures())
	if err != nil && !errors.Is(err, marketdata.ErrNoData) {
		return nil, fmt.Errorf("load underlying for %s: %w", day, err)
	}
	if under.Len() == 0 {
		return nil, &models.DataGapError{Date: day, Instrument: cfg.Index + " underlying", Reason: "no price series"}
	}

	s := &session{
		date:  date,
		cfg:   cfg,
		sel:   strategy.NewSelector(opts.Pricing, log),
		log:   log,
		rec:   opts.Recorder,
		snaps: snaps,
		under: under,
	}
	return s.run(ctx)
}

func (s *session) run(ctx context.Context) ([]models.TradeRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entryTS := s.under.NearestTime(s.cfg.EntryTime.On(s.date))
	exitTS := s.under.NearestTime(s.cfg.ExitTime.On(s.date))
	if c := s.cfg.NoReEntryAfter; c != nil && !c.IsZero() {
		s.cutoff = s.under.NearestTime(c.On(s.date))
	}

	entry := models.NearestSnapshot(s.snaps, entryTS)
	if err := s.enter(entry); err != nil {
		return nil, err
	}

	last := entry
	for i := entry + 1; i < len(s.snaps) && !s.snaps[i].Timestamp.After(exitTS); i++ {
		if err := ctx.Err(); err != nil {
			s.log.WithField("at", s.snaps[last].Timestamp).Warn("session canceled, closing open legs")
			s.forceClose(last)
			rows, rowErr := s.rows()
			if rowErr != nil {
				return nil, rowErr
			}
			return rows, err
		}
		last = i
		if s.step(i) {
			return s.rows()
		}
	}

	exit := models.SnapshotAtOrAfter(s.snaps, exitTS)
	if exit < last {
		exit = last
	}
	s.forceClose(exit)
	return s.rows()
}

// enter opens every configured leg at snapshot i. A leg whose strike cannot
// be selected is skipped; a leg whose option type has no rows fails the day.
func (s *session) enter(i int) error {
	snap := s.snaps[i]
	for _, spec := range s.cfg.Legs {
		if len(snap.OfType(spec.OptionType)) == 0 {
			return &models.DataGapError{
				Date:       s.date.Format(models.DateLayout),
				Instrument: fmt.Sprintf("%s %s options", s.cfg.Index, spec.OptionType),
				Reason:     "no chain rows at entry",
			}
		}
	}
	for n, spec := range s.cfg.Legs {
		if _, err := s.openLeg(i, spec, nil); err != nil {
			var serr *models.SelectionError
			if errors.As(err, &serr) {
				s.log.WithError(err).WithField("leg", n).Warn("leg skipped at entry")
				continue
			}
			return err
		}
	}
	return nil
}

// step marks and evaluates every leg open at the start of snapshot i, then
// resolves pending re-entries. It reports whether the session has ended.
func (s *session) step(i int) bool {
	snap := s.snaps[i]
	underlying, _ := s.under.At(snap.Timestamp)
	complete := s.cfg.SquareOffMode == models.SquareOffComplete

	closed := false
	// Legs spawned by this snapshot are first evaluated on the next one.
	n := len(s.legs)
	for _, leg := range s.legs[:n] {
		if !leg.IsOpen() {
			continue
		}
		row, ok := snap.ForExpiry(leg.Expiry).Find(leg.Spec.OptionType, leg.Strike)
		if !ok {
			continue
		}
		leg.Mark(row.Mark)
		reason, hit := risk.Evaluate(leg, row.Mark, underlying)
		if !hit {
			continue
		}
		s.close(leg, snap.Timestamp, row.Mark, reason)
		closed = true
		if !complete && (reason == models.ExitStopLoss || reason == models.ExitTarget) {
			s.onExit(i, leg, reason)
		}
	}

	if complete && closed {
		for _, leg := range s.legs {
			if leg.IsOpen() {
				s.squareOff(leg, i)
			}
		}
		return true
	}
	s.resolvePending(i)
	return false
}

// prepare resolves a spec's expiry and returns the snapshot filtered to it
// together with the underlying price at that snapshot.
func (s *session) prepare(i int, spec models.LegSpec) (time.Time, models.Snapshot, float64, error) {
	expiry, err := strategy.ResolveExpiry(s.date, spec.Expiry)
	if err != nil {
		return time.Time{}, models.Snapshot{}, 0, err
	}
	snap := s.snaps[i].ForExpiry(expiry)
	underlying, _ := s.under.At(snap.Timestamp)
	return expiry, snap, underlying, nil
}

// selectStrike runs the selector with the session context added to the
// criteria params: expiry, valuation time and position.
func (s *session) selectStrike(snap models.Snapshot, spec models.LegSpec, expiry time.Time, underlying float64) (float64, error) {
	params := spec.StrikeCriteria.Params
	if listsExpiry(snap, expiry) {
		params = params.With("expiry", expiry.Format(models.DateLayout))
	}
	params = params.
		With("now_dt", snap.Timestamp.Format(paramTimeLayout)).
		With("position", string(spec.Position))
	return s.sel.Select(snap, spec.OptionType, underlying, models.StrikeCriteria{
		Mode:   spec.StrikeCriteria.Mode,
		Params: params,
	})
}

// listsExpiry reports whether the chain carries expiry or lacks the column
// entirely. A chain listing only other expiries keeps its own.
func listsExpiry(snap models.Snapshot, expiry time.Time) bool {
	listed := false
	for _, r := range snap.Rows {
		if !r.HasExpiry() {
			continue
		}
		if models.SameDay(r.Expiry, expiry) {
			return true
		}
		listed = true
	}
	return !listed
}

// openLeg selects a strike for spec at snapshot i and opens a leg there.
func (s *session) openLeg(i int, spec models.LegSpec, parent *models.Leg) (*models.Leg, error) {
	expiry, snap, underlying, err := s.prepare(i, spec)
	if err != nil {
		return nil, err
	}
	strike, err := s.selectStrike(snap, spec, expiry, underlying)
	if err != nil {
		return nil, err
	}
	row, ok := snap.Find(spec.OptionType, strike)
	if !ok {
		if row, ok = snap.Nearest(spec.OptionType, strike); !ok {
			return nil, &models.SelectionError{Mode: spec.StrikeCriteria.Mode, Reason: "no quote for selected strike", Err: models.ErrNoRows}
		}
	}
	return s.openAt(i, spec, parent, expiry, row)
}

// openAt opens a leg on row at snapshot i. Re-entries inherit the parent's
// lineage counters.
func (s *session) openAt(i int, spec models.LegSpec, parent *models.Leg, expiry time.Time, row models.ChainRow) (*models.Leg, error) {
	ts := s.snaps[i].Timestamp
	underlying, _ := s.under.At(ts)
	s.seq++
	leg := models.NewLeg(strconv.Itoa(s.seq), spec, s.cfg.LotSize)
	if parent != nil {
		leg.ParentID = parent.ID
		leg.ReEntryGen = parent.ReEntryGen + 1
		leg.ReEntriesOnSL = parent.ReEntriesOnSL
		leg.ReEntriesOnTarget = parent.ReEntriesOnTarget
	}
	if err := leg.Open(ts, row.Strike, expiry, row.Mark, underlying); err != nil {
		return nil, err
	}
	s.legs = append(s.legs, leg)
	s.log.WithFields(logrus.Fields{
		"leg_id":      leg.ID,
		"parent":      leg.ParentID,
		"position":    spec.Position,
		"option_type": spec.OptionType,
		"strike":      leg.Strike,
		"entry_price": leg.EntryPrice,
	}).Info("leg opened")
	s.rec.LegOpened(parent != nil)
	return leg, nil
}

func (s *session) close(leg *models.Leg, ts time.Time, price float64, reason models.ExitReason) {
	if err := leg.Close(ts, price, reason, s.cfg.Costs); err != nil {
		s.log.WithError(err).WithField("leg_id", leg.ID).Error("close failed")
		return
	}
	s.logExit(leg)
}

// priceFor returns the leg's mark at snapshot i, falling back to the nearest
// strike of the same type and expiry, then to the last known mark.
func (s *session) priceFor(leg *models.Leg, i int) float64 {
	snap := s.snaps[i].ForExpiry(leg.Expiry)
	if row, ok := snap.Find(leg.Spec.OptionType, leg.Strike); ok {
		return row.Mark
	}
	if row, ok := snap.Nearest(leg.Spec.OptionType, leg.Strike); ok {
		s.log.WithFields(logrus.Fields{"leg_id": leg.ID, "strike": leg.Strike, "proxy": row.Strike}).
			Warn("contract missing at close, using nearest strike")
		return row.Mark
	}
	return leg.LastMark
}

func (s *session) squareOff(leg *models.Leg, i int) {
	s.logOpenMark(leg)
	if err := leg.SquareOff(s.snaps[i].Timestamp, s.priceFor(leg, i), s.cfg.Costs); err != nil {
		s.log.WithError(err).WithField("leg_id", leg.ID).Error("square-off failed")
		return
	}
	s.logExit(leg)
}

// forceClose closes every open leg at snapshot i.
func (s *session) forceClose(i int) {
	for _, leg := range s.legs {
		if !leg.IsOpen() {
			continue
		}
		s.logOpenMark(leg)
		if err := leg.ForceClose(s.snaps[i].Timestamp, s.priceFor(leg, i), s.cfg.Costs); err != nil {
			s.log.WithError(err).WithField("leg_id", leg.ID).Error("force close failed")
			continue
		}
		s.logExit(leg)
	}
}

// logOpenMark records where an open leg stood at its last mark before it is
// closed on time.
func (s *session) logOpenMark(leg *models.Leg) {
	s.log.WithFields(logrus.Fields{
		"leg_id":         leg.ID,
		"last_mark":      leg.LastMark,
		"unrealized_pnl": leg.UnrealizedPnL(),
	}).Debug("closing open leg")
}

func (s *session) logExit(leg *models.Leg) {
	s.log.WithFields(logrus.Fields{
		"leg_id":     leg.ID,
		"strike":     leg.Strike,
		"reason":     leg.ExitReason,
		"exit_price": leg.ExitPrice,
		"pnl":        leg.PnLAfterCost,
	}).Info("leg closed")
	s.rec.LegClosed(leg.ExitReason, leg.PnLAfterCost)
}

// rows emits one trade row per leg in opening order.
func (s *session) rows() ([]models.TradeRow, error) {
	out := make([]models.TradeRow, 0, len(s.legs))
	for _, leg := range s.legs {
		row, err := leg.Row(s.date, s.cfg.Index, s.cfg.LotSize)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}
