package strategy

import (
	"sort"
	"strings"
	"time"

	"github.com/eddiefleurent/optionlegs/internal/models"
	"github.com/eddiefleurent/optionlegs/internal/pricing"
)

const (
	// DefaultMinPrice is the premium below which a quote is treated as stale.
	DefaultMinPrice = 0.01
	// staleVol is the sigma used for quotes under the minimum price.
	staleVol = 1e-4
	// missingDeltaRatio is the share of rows without delta that triggers backfill.
	missingDeltaRatio = 0.10
	// expiryCloseHour and expiryCloseMinute place date-only expiries at the exchange close.
	expiryCloseHour   = 15
	expiryCloseMinute = 30
)

// DeltaInputs are the market inputs used to backfill delta on a chain.
type DeltaInputs struct {
	Spot     float64
	Expiry   time.Time
	Now      time.Time
	Params   pricing.Params
	MinPrice float64
}

// RightOf maps an exchange option type to a model right.
func RightOf(t models.OptionType) pricing.Right {
	if t == models.Put {
		return pricing.Put
	}
	return pricing.Call
}

// NeedsDelta reports whether more than 10% of rows lack a delta.
func NeedsDelta(rows []models.ChainRow) bool {
	if len(rows) == 0 {
		return false
	}
	missing := 0
	for _, r := range rows {
		if r.Delta == nil {
			missing++
		}
	}
	return float64(missing)/float64(len(rows)) > missingDeltaRatio
}

// EnsureDelta returns a copy of rows with delta populated. When most rows
// already carry a delta they are returned unchanged; otherwise every row is
// recomputed from its implied volatility.
func EnsureDelta(rows []models.ChainRow, in DeltaInputs) []models.ChainRow {
	out := make([]models.ChainRow, len(rows))
	copy(out, rows)
	if !NeedsDelta(rows) {
		return out
	}
	minPrice := in.MinPrice
	if minPrice <= 0 {
		minPrice = DefaultMinPrice
	}
	t := pricing.YearFraction(in.Now, in.Expiry)
	r, q := in.Params.Rate, in.Params.Dividend
	for i := range out {
		right := RightOf(out[i].OptionType)
		sigma := staleVol
		if out[i].Mark >= minPrice {
			sigma = pricing.ImpliedVolatility(in.Spot, out[i].Strike, t, r, q, right, out[i].Mark)
		}
		d := pricing.Delta(in.Spot, out[i].Strike, t, r, q, sigma, right)
		out[i].Delta = &d
	}
	return out
}

var expiryLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	models.DateLayout,
	"02-Jan-2006",
}

// parseExpiry parses an explicit expiry. Values without a clock are placed at 15:30.
func parseExpiry(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range expiryLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			continue
		}
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
			t = atClose(t)
		}
		return t, true
	}
	return time.Time{}, false
}

func atClose(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), expiryCloseHour, expiryCloseMinute, 0, 0, t.Location())
}

// inferExpiry resolves the expiry used for delta computations: explicit
// params first, then the most common expiry in the chain (earliest on ties).
func inferExpiry(snap models.Snapshot, params models.StrikeParams) (time.Time, bool) {
	loc := snap.Timestamp.Location()
	if v, ok := params.Lookup("expiry_dt", "expiry", "expiration"); ok {
		if t, ok := parseExpiry(v, loc); ok {
			return t, true
		}
	}
	counts := make(map[time.Time]int)
	for _, r := range snap.Rows {
		if r.HasExpiry() {
			y, m, d := r.Expiry.Date()
			counts[time.Date(y, m, d, 0, 0, 0, 0, r.Expiry.Location())]++
		}
	}
	if len(counts) == 0 {
		return time.Time{}, false
	}
	keys := make([]time.Time, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	best := keys[0]
	for _, k := range keys[1:] {
		if counts[k] > counts[best] {
			best = k
		}
	}
	return atClose(best), true
}

// snapshotTime picks the valuation time: now_dt param, else the latest row
// timestamp, else the snapshot timestamp.
func snapshotTime(snap models.Snapshot, params models.StrikeParams) time.Time {
	loc := snap.Timestamp.Location()
	if v, ok := params.Lookup("now_dt"); ok {
		for _, layout := range expiryLayouts {
			if t, err := time.ParseInLocation(layout, v, loc); err == nil {
				return t
			}
		}
	}
	latest := snap.Timestamp
	for _, r := range snap.Rows {
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	return latest
}
