// Package mock generates synthetic option chain sessions for runs without
// recorded market data.
package mock

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/eddiefleurent/optionlegs/internal/marketdata"
	"github.com/eddiefleurent/optionlegs/internal/models"
	"github.com/eddiefleurent/optionlegs/internal/pricing"
	"github.com/eddiefleurent/optionlegs/internal/strategy"
	"github.com/eddiefleurent/optionlegs/internal/util"
)

const (
	tick       = 0.05
	minMark    = tick
	smileSlope = 1.5
)

// Generator produces one day of minute snapshots per session date. The
// underlying follows a seeded geometric random walk and every contract is
// priced with Black-Scholes, so the same seed and date always give the
// same session.
type Generator struct {
	spot   float64
	vol    float64
	seed   uint64
	params pricing.Params
	step   float64
	width  int
	loc    *time.Location
	first  models.ClockTime
	last   models.ClockTime
}

// Option customizes a Generator.
type Option func(*Generator)

// WithStrikes sets the strike interval and the number of strikes quoted on
// each side of the opening ATM strike.
func WithStrikes(step float64, width int) Option {
	return func(g *Generator) {
		g.step, g.width = step, width
	}
}

// WithSession sets the first and last snapshot times.
func WithSession(first, last models.ClockTime) Option {
	return func(g *Generator) {
		g.first, g.last = first, last
	}
}

// WithLocation sets the exchange timezone.
func WithLocation(loc *time.Location) Option {
	return func(g *Generator) { g.loc = loc }
}

// WithPricing sets the rates used for marks and deltas.
func WithPricing(p pricing.Params) Option {
	return func(g *Generator) { g.params = p }
}

// NewGenerator creates a generator opening near spot with annualized volatility vol.
func NewGenerator(spot, vol float64, seed int64, opts ...Option) *Generator {
	g := &Generator{
		spot:   spot,
		vol:    vol,
		seed:   uint64(seed),
		params: pricing.DefaultParams(),
		step:   50,
		width:  20,
		loc:    time.UTC,
		first:  models.ClockTime{Hour: 9, Minute: 15},
		last:   models.ClockTime{Hour: 15, Minute: 30},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Day builds the session for date.
func (g *Generator) Day(date time.Time) marketdata.Day {
	y, m, d := date.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, g.loc)
	rng := rand.New(rand.NewPCG(g.seed, uint64(y*10000+int(m)*100+d)))

	expiries := g.expiries(day)
	monthly := g.atClose(strategy.MonthlyExpiry(day))

	// open drifts by up to 1% a day so consecutive sessions differ
	spot := g.spot * (1 + (rng.Float64()-0.5)*0.02)
	atm := util.RoundToTick(spot, g.step)

	start, end := g.first.On(day), g.last.On(day)
	out := marketdata.Day{
		Spot:    &models.PriceSeries{},
		Futures: &models.PriceSeries{},
	}
	for ts := start; !ts.After(end); ts = ts.Add(time.Minute) {
		if ts.After(start) {
			dt := pricing.YearFraction(ts.Add(-time.Minute), ts)
			spot *= math.Exp(g.vol*math.Sqrt(dt)*rng.NormFloat64() - 0.5*g.vol*g.vol*dt)
		}
		s := util.RoundToTick(spot, tick)
		out.Spot.Append(ts, s)
		carry := (g.params.Rate - g.params.Dividend) * pricing.YearFraction(ts, monthly)
		out.Futures.Append(ts, util.RoundToTick(s*math.Exp(carry), tick))
		out.Snapshots = append(out.Snapshots, g.snapshot(ts, s, atm, expiries))
	}
	return out
}

// Populate stores a generated session for every date.
func (g *Generator) Populate(p *marketdata.MemoryProvider, dates []time.Time) {
	for _, date := range dates {
		p.Put(date, g.Day(date))
	}
}

func (g *Generator) snapshot(ts time.Time, spot, atm float64, expiries []time.Time) models.Snapshot {
	snap := models.Snapshot{Timestamp: ts}
	r, q := g.params.Rate, g.params.Dividend
	for _, exp := range expiries {
		t := pricing.YearFraction(ts, exp)
		for i := -g.width; i <= g.width; i++ {
			k := atm + float64(i)*g.step
			if k <= 0 {
				continue
			}
			sigma := g.vol * (1 + smileSlope*math.Abs(math.Log(k/spot)))
			for _, right := range []pricing.Right{pricing.Call, pricing.Put} {
				ot := models.Call
				if right == pricing.Put {
					ot = models.Put
				}
				mark := math.Max(minMark, util.RoundToTick(pricing.Price(spot, k, t, r, q, sigma, right), tick))
				delta := pricing.Delta(spot, k, t, r, q, sigma, right)
				snap.Rows = append(snap.Rows, models.ChainRow{
					Timestamp:  ts,
					Expiry:     exp,
					Delta:      &delta,
					OptionType: ot,
					Strike:     k,
					Mark:       mark,
				})
			}
		}
	}
	return snap
}

// expiries lists the distinct contract expiries quoted on day.
func (g *Generator) expiries(day time.Time) []time.Time {
	var out []time.Time
	seen := map[string]bool{}
	for _, e := range []time.Time{
		strategy.WeeklyExpiry(day),
		strategy.NextWeeklyExpiry(day),
		strategy.MonthlyExpiry(day),
		strategy.NextMonthlyExpiry(day),
	} {
		key := e.Format(models.DateLayout)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, g.atClose(e))
	}
	return out
}

func (g *Generator) atClose(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), g.last.Hour, g.last.Minute, 0, 0, g.loc)
}
