package models

import (
	"math"
	"sort"
	"strings"
	"time"
)

// DateLayout is the canonical session date format used in rows and storage keys.
const DateLayout = "2006-01-02"

// TimestampLayout is the entry/exit timestamp format in detail CSVs. The
// offset keeps session-zone times intact on read back.
const TimestampLayout = "2006-01-02 15:04:05-07:00"

// OptionType is the option right as quoted on the exchange.
type OptionType string

const (
	// Call is a call option (CE).
	Call OptionType = "CE"
	// Put is a put option (PE).
	Put OptionType = "PE"
)

// ParseOptionType normalizes CE/PE/CALL/PUT/C/P spellings.
func ParseOptionType(s string) (OptionType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CE", "C", "CALL":
		return Call, true
	case "PE", "P", "PUT":
		return Put, true
	default:
		return "", false
	}
}

// Valid returns true if the option type is CE or PE
func (t OptionType) Valid() bool {
	return t == Call || t == Put
}

// ChainRow is one quoted contract inside a snapshot.
type ChainRow struct {
	Timestamp  time.Time  `json:"timestamp"`
	Expiry     time.Time  `json:"expiry,omitempty"` // zero when the feed omits it
	Delta      *float64   `json:"delta,omitempty"`
	OptionType OptionType `json:"option_type"`
	Strike     float64    `json:"strike"`
	Mark       float64    `json:"mark"`
}

// HasExpiry reports whether the row carries an expiry date.
func (r ChainRow) HasExpiry() bool {
	return !r.Expiry.IsZero()
}

// Snapshot is the full option chain observed at a single timestamp.
type Snapshot struct {
	Timestamp time.Time  `json:"timestamp"`
	Rows      []ChainRow `json:"rows"`
}

// OfType returns the rows for a single option type.
func (s Snapshot) OfType(t OptionType) []ChainRow {
	out := make([]ChainRow, 0, len(s.Rows)/2+1)
	for _, r := range s.Rows {
		if r.OptionType == t {
			out = append(out, r)
		}
	}
	return out
}

// ForExpiry restricts the snapshot to rows expiring on the given date.
// Rows without an expiry are kept; if the filter leaves nothing the
// snapshot is returned unchanged.
func (s Snapshot) ForExpiry(expiry time.Time) Snapshot {
	if expiry.IsZero() {
		return s
	}
	out := Snapshot{Timestamp: s.Timestamp}
	for _, r := range s.Rows {
		if !r.HasExpiry() || SameDay(r.Expiry, expiry) {
			out.Rows = append(out.Rows, r)
		}
	}
	if len(out.Rows) == 0 {
		return s
	}
	return out
}

// Find returns the row for an exact contract.
func (s Snapshot) Find(t OptionType, strike float64) (ChainRow, bool) {
	for _, r := range s.Rows {
		if r.OptionType == t && r.Strike == strike {
			return r, true
		}
	}
	return ChainRow{}, false
}

// Nearest returns the row of the given type whose strike is closest to strike.
// Ties resolve to the lower strike.
func (s Snapshot) Nearest(t OptionType, strike float64) (ChainRow, bool) {
	best := ChainRow{}
	bestDiff := math.MaxFloat64
	found := false
	for _, r := range s.Rows {
		if r.OptionType != t {
			continue
		}
		diff := math.Abs(r.Strike - strike)
		if diff < bestDiff || (diff == bestDiff && r.Strike < best.Strike) {
			best, bestDiff, found = r, diff, true
		}
	}
	return best, found
}

// SameDay compares calendar dates, ignoring clock and location offsets.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// PriceSeries is an underlying (spot or futures) price series ordered by time.
type PriceSeries struct {
	Times  []time.Time `json:"times"`
	Prices []float64   `json:"prices"`
}

// Len returns the number of points in the series.
func (p *PriceSeries) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Times)
}

// Append adds a point; callers must append in timestamp order.
func (p *PriceSeries) Append(ts time.Time, px float64) {
	p.Times = append(p.Times, ts)
	p.Prices = append(p.Prices, px)
}

// NearestIndex returns the index of the point closest in time to ts.
// Equidistant points resolve to the earlier one. Returns -1 for an empty series.
func (p *PriceSeries) NearestIndex(ts time.Time) int {
	n := p.Len()
	if n == 0 {
		return -1
	}
	i := sort.Search(n, func(i int) bool { return !p.Times[i].Before(ts) })
	if i == 0 {
		return 0
	}
	if i == n {
		return n - 1
	}
	if p.Times[i].Sub(ts) < ts.Sub(p.Times[i-1]) {
		return i
	}
	return i - 1
}

// NearestTime snaps ts to the closest timestamp present in the series.
func (p *PriceSeries) NearestTime(ts time.Time) time.Time {
	i := p.NearestIndex(ts)
	if i < 0 {
		return ts
	}
	return p.Times[i]
}

// At returns the price at the timestamp nearest ts.
func (p *PriceSeries) At(ts time.Time) (float64, bool) {
	i := p.NearestIndex(ts)
	if i < 0 {
		return 0, false
	}
	return p.Prices[i], true
}

// SortSnapshots orders snapshots by timestamp in place.
func SortSnapshots(snaps []Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].Timestamp.Before(snaps[j].Timestamp)
	})
}

// NearestSnapshot returns the index of the snapshot closest to ts in a
// timestamp-ordered slice, or -1 when empty.
func NearestSnapshot(snaps []Snapshot, ts time.Time) int {
	n := len(snaps)
	if n == 0 {
		return -1
	}
	i := sort.Search(n, func(i int) bool { return !snaps[i].Timestamp.Before(ts) })
	if i == 0 {
		return 0
	}
	if i == n {
		return n - 1
	}
	if snaps[i].Timestamp.Sub(ts) < ts.Sub(snaps[i-1].Timestamp) {
		return i
	}
	return i - 1
}

// SnapshotAtOrAfter returns the first snapshot index at or after ts, falling
// back to the last snapshot when ts is past the end.
func SnapshotAtOrAfter(snaps []Snapshot, ts time.Time) int {
	n := len(snaps)
	if n == 0 {
		return -1
	}
	i := sort.Search(n, func(i int) bool { return !snaps[i].Timestamp.Before(ts) })
	if i == n {
		return n - 1
	}
	return i
}
