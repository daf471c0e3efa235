// Package strategy selects strikes and expiries for option legs.
package strategy

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/optionlegs/internal/models"
	"github.com/eddiefleurent/optionlegs/internal/pricing"
	"github.com/eddiefleurent/optionlegs/internal/util"
)

// DefaultStrikeStep is used when a chain has too few strikes to infer its grid.
const DefaultStrikeStep = 50.0

// Selector picks a strike from a chain snapshot according to a StrikeCriteria.
type Selector struct {
	logger      logrus.FieldLogger
	pricing     pricing.Params
	minPrice    float64
	defaultStep float64
}

// NewSelector creates a selector. A nil logger discards output.
func NewSelector(params pricing.Params, logger logrus.FieldLogger) *Selector {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Selector{
		logger:      logger,
		pricing:     params,
		minPrice:    DefaultMinPrice,
		defaultStep: DefaultStrikeStep,
	}
}

// chainView carries the per-call state shared by all selection modes.
type chainView struct {
	snap       models.Snapshot
	optionType models.OptionType
	rows       []models.ChainRow
	step       float64
	base       float64
	mode       models.StrikeMode
}

func (v *chainView) selectionErr(format string, args ...any) error {
	return &models.SelectionError{Mode: v.mode, Reason: fmt.Sprintf(format, args...)}
}

// nearestStrike returns the listed strike closest to target; ties go to the lower strike.
func (v *chainView) nearestStrike(target float64) float64 {
	best, bestDiff := 0.0, math.Inf(1)
	for _, r := range v.rows {
		d := math.Abs(r.Strike - target)
		if d < bestDiff || (d == bestDiff && r.Strike < best) {
			best, bestDiff = r.Strike, d
		}
	}
	return best
}

// better reports whether a should win a tie against b: closer to ATM, then lower strike.
func (v *chainView) better(a, b models.ChainRow) bool {
	da, db := math.Abs(a.Strike-v.base), math.Abs(b.Strike-v.base)
	if da != db {
		return da < db
	}
	return a.Strike < b.Strike
}

// pick returns the row minimising score, breaking ties toward ATM.
func (v *chainView) pick(rows []models.ChainRow, score func(models.ChainRow) float64) (models.ChainRow, bool) {
	var best models.ChainRow
	bestScore := math.Inf(1)
	found := false
	for _, r := range rows {
		s := score(r)
		if math.IsNaN(s) {
			continue
		}
		if !found || s < bestScore || (s == bestScore && v.better(r, best)) {
			best, bestScore, found = r, s, true
		}
	}
	return best, found
}

// atmPremiums returns the ATM call and put premiums at the base strike.
func (v *chainView) atmPremiums() (ce, pe float64, err error) {
	c, okC := v.snap.Nearest(models.Call, v.base)
	p, okP := v.snap.Nearest(models.Put, v.base)
	if !okC || !okP {
		return 0, 0, v.selectionErr("both CE and PE rows are required")
	}
	return c.Mark, p.Mark, nil
}

// offsetTarget applies ATM/OTMn/ITMn to a base strike.
func (v *chainView) offsetTarget(base float64, params models.StrikeParams) (float64, error) {
	stype := strings.ToUpper(params.Text("ATM", "strike_type"))
	n := 0
	if digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, stype); digits != "" {
		n, _ = strconv.Atoi(digits)
	}
	if n == 0 {
		steps, err := params.Float(0, "otm_steps")
		if err != nil {
			return 0, &models.ConfigurationError{Field: "otm_steps", Reason: err.Error()}
		}
		n = int(steps)
	}
	dir := 1.0
	if v.optionType == models.Put {
		dir = -1
	}
	offset := v.step * float64(n) * dir
	switch {
	case strings.Contains(stype, "OTM"):
		return base + offset, nil
	case strings.Contains(stype, "ITM"):
		return base - offset, nil
	default:
		return base, nil
	}
}

func paramErr(err error) error {
	return &models.ConfigurationError{Field: "strike_criteria.params", Reason: err.Error()}
}

// Select returns the strike chosen by criteria from the rows of optionType
// in snap. underlying anchors ATM. Errors are *models.SelectionError when no
// strike qualifies, or *models.ConfigurationError for malformed params.
func (s *Selector) Select(snap models.Snapshot, optionType models.OptionType, underlying float64, criteria models.StrikeCriteria) (float64, error) {
	mode := criteria.Mode.Normalize()
	if mode == "" {
		mode = models.ModeStrikeType
	}
	params := criteria.Params
	if params == nil {
		params = models.StrikeParams{}
	}

	rows := snap.OfType(optionType)
	if len(rows) == 0 {
		return 0, &models.SelectionError{Mode: mode, Reason: fmt.Sprintf("no %s rows", optionType), Err: models.ErrNoRows}
	}
	strikes := make([]float64, len(rows))
	for i, r := range rows {
		strikes[i] = r.Strike
	}
	step := util.DetectStep(strikes, s.defaultStep)
	v := &chainView{
		snap:       snap,
		optionType: optionType,
		rows:       rows,
		step:       step,
		base:       util.RoundHalfEven(underlying, step),
		mode:       mode,
	}

	strike, err := s.dispatch(v, params, underlying)
	if err != nil {
		return 0, err
	}
	s.logger.WithFields(logrus.Fields{
		"mode":        mode,
		"option_type": optionType,
		"underlying":  underlying,
		"step":        step,
		"strike":      strike,
	}).Debug("strike selected")
	return strike, nil
}

func (s *Selector) dispatch(v *chainView, params models.StrikeParams, underlying float64) (float64, error) {
	switch v.mode {
	case models.ModeStrikeType:
		target, err := v.offsetTarget(v.base, params)
		if err != nil {
			return 0, err
		}
		return v.nearestStrike(target), nil

	case models.ModePremiumRange:
		lower, err := params.Float(math.NaN(), "lower")
		if err != nil {
			return 0, paramErr(err)
		}
		upper, err := params.Float(math.NaN(), "upper")
		if err != nil {
			return 0, paramErr(err)
		}
		if math.IsNaN(lower) || math.IsNaN(upper) {
			return 0, paramErr(fmt.Errorf("PREMIUM_RANGE requires lower and upper"))
		}
		if lower > upper {
			lower, upper = upper, lower
		}
		mid := (lower + upper) / 2
		dist := func(r models.ChainRow) float64 { return math.Abs(r.Mark - mid) }
		var inRange []models.ChainRow
		for _, r := range v.rows {
			if r.Mark >= lower && r.Mark <= upper {
				inRange = append(inRange, r)
			}
		}
		if len(inRange) == 0 {
			inRange = v.rows
		}
		row, _ := v.pick(inRange, dist)
		return row.Strike, nil

	case models.ModeClosestPremium:
		target, err := params.Float(100, "premium", "target")
		if err != nil {
			return 0, paramErr(err)
		}
		row, _ := v.pick(v.rows, func(r models.ChainRow) float64 { return math.Abs(r.Mark - target) })
		return row.Strike, nil

	case models.ModePremiumLE:
		limit, err := params.Float(100, "value", "limit")
		if err != nil {
			return 0, paramErr(err)
		}
		row, ok := v.pick(v.rows, func(r models.ChainRow) float64 {
			if r.Mark > limit {
				return math.NaN()
			}
			return -r.Mark
		})
		if !ok {
			row, _ = v.pick(v.rows, func(r models.ChainRow) float64 { return r.Mark })
		}
		return row.Strike, nil

	case models.ModePremiumGE:
		limit, err := params.Float(100, "value", "limit")
		if err != nil {
			return 0, paramErr(err)
		}
		row, ok := v.pick(v.rows, func(r models.ChainRow) float64 {
			if r.Mark < limit {
				return math.NaN()
			}
			return r.Mark
		})
		if !ok {
			row, _ = v.pick(v.rows, func(r models.ChainRow) float64 { return -r.Mark })
		}
		return row.Strike, nil

	case models.ModeStraddleWidth:
		mult, err := params.Float(1, "multiplier", "k", "value")
		if err != nil {
			return 0, paramErr(err)
		}
		ce, pe, err := v.atmPremiums()
		if err != nil {
			return 0, err
		}
		dir := signOf(params.Text("+", "sign"))
		target := util.RoundHalfEven(v.base+dir*mult*(ce+pe), v.step)
		return v.nearestStrike(target), nil

	case models.ModePctOfATM:
		pct, err := params.Float(0, "pct", "percent")
		if err != nil {
			return 0, paramErr(err)
		}
		dir := 1.0
		if sign, ok := params.Lookup("sign"); ok {
			dir = signOf(sign)
		} else if pct < 0 {
			dir = -1
		}
		target := util.RoundHalfEven(v.base*(1+dir*math.Abs(pct)/100), v.step)
		return v.nearestStrike(target), nil

	case models.ModeSyntheticFuture:
		ce, pe, err := v.atmPremiums()
		if err != nil {
			return 0, err
		}
		synthBase := util.RoundHalfEven(v.base-pe+ce, v.step)
		target, err := v.offsetTarget(synthBase, params)
		if err != nil {
			return 0, err
		}
		return v.nearestStrike(target), nil

	case models.ModeATMPremiumPct:
		pct, err := params.Float(0, "pct", "percent")
		if err != nil {
			return 0, paramErr(err)
		}
		ce, pe, err := v.atmPremiums()
		if err != nil {
			return 0, err
		}
		target := pct / 100 * (ce + pe)
		row, _ := v.pick(v.rows, func(r models.ChainRow) float64 { return math.Abs(r.Mark - target) })
		return row.Strike, nil

	case models.ModeClosestDelta, models.ModeDeltaRange:
		return s.selectByDelta(v, params, underlying)

	default:
		return 0, &models.ConfigurationError{Field: "strike_criteria.mode", Reason: fmt.Sprintf("unsupported strike mode %q", v.mode)}
	}
}

// selectByDelta backfills delta where needed and applies CLOSEST_DELTA or DELTA_RANGE.
func (s *Selector) selectByDelta(v *chainView, params models.StrikeParams, underlying float64) (float64, error) {
	expiry, ok := inferExpiry(v.snap, params)
	if !ok {
		return 0, v.selectionErr("expiry required for delta selection")
	}
	r, err := params.Float(s.pricing.Rate, "risk_free", "r")
	if err != nil {
		return 0, paramErr(err)
	}
	q, err := params.Float(s.pricing.Dividend, "div_yield", "q")
	if err != nil {
		return 0, paramErr(err)
	}
	minPrice, err := params.Float(s.minPrice, "min_price")
	if err != nil {
		return 0, paramErr(err)
	}
	full := EnsureDelta(v.snap.Rows, DeltaInputs{
		Spot:     underlying,
		Expiry:   expiry,
		Now:      snapshotTime(v.snap, params),
		Params:   pricing.Params{Rate: r, Dividend: q},
		MinPrice: minPrice,
	})

	var rows []models.ChainRow
	maxAbs := 0.0
	for _, row := range full {
		if row.OptionType != v.optionType || row.Delta == nil {
			continue
		}
		rows = append(rows, row)
		maxAbs = math.Max(maxAbs, math.Abs(*row.Delta))
	}
	if len(rows) == 0 {
		return 0, v.selectionErr("unable to compute delta")
	}
	scale := 1.0
	if maxAbs > 1 {
		scale = 100
	}
	absDelta := func(row models.ChainRow) float64 { return math.Abs(*row.Delta) / scale }
	unit := func(x float64) float64 {
		if math.Abs(x) > 1 {
			return math.Abs(x) / 100
		}
		return math.Abs(x)
	}

	if v.mode == models.ModeClosestDelta {
		target, err := params.Float(50, "delta", "target")
		if err != nil {
			return 0, paramErr(err)
		}
		t := unit(target)
		row, _ := v.pick(rows, func(row models.ChainRow) float64 { return math.Abs(absDelta(row) - t) })
		return row.Strike, nil
	}

	lo, err := params.Float(0, "lower")
	if err != nil {
		return 0, paramErr(err)
	}
	hi, err := params.Float(100, "upper")
	if err != nil {
		return 0, paramErr(err)
	}
	lo, hi = unit(lo), unit(hi)
	sell := false
	if p, ok := models.ParsePosition(params.Text("BUY", "position")); ok {
		sell = p.IsShort()
	}
	row, ok := v.pick(rows, func(row models.ChainRow) float64 {
		d := absDelta(row)
		if d < lo || d > hi {
			return math.NaN()
		}
		if sell {
			return -d
		}
		return d
	})
	if !ok {
		return 0, v.selectionErr("no strikes within delta range [%.2f, %.2f]", lo, hi)
	}
	return row.Strike, nil
}

// signOf treats "+" and "PLUS" as up, anything else as down.
func signOf(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "+" || strings.EqualFold(s, "plus") {
		return 1
	}
	return -1
}
