package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPriceSeries_NearestIndex(t *testing.T) {
	base := time.Date(2025, 8, 7, 9, 15, 0, 0, time.UTC)
	var ps PriceSeries
	for i := 0; i < 5; i++ {
		ps.Append(base.Add(time.Duration(i)*time.Minute), 25000+float64(i))
	}

	assert.Equal(t, 0, ps.NearestIndex(base.Add(-time.Hour)))
	assert.Equal(t, 4, ps.NearestIndex(base.Add(time.Hour)))
	assert.Equal(t, 2, ps.NearestIndex(base.Add(2*time.Minute+10*time.Second)))
	// Equidistant resolves to the earlier point.
	assert.Equal(t, 1, ps.NearestIndex(base.Add(90*time.Second)))

	px, ok := ps.At(base.Add(3 * time.Minute))
	assert.True(t, ok)
	assert.Equal(t, 25003.0, px)

	var empty PriceSeries
	assert.Equal(t, -1, empty.NearestIndex(base))
	assert.Equal(t, base, empty.NearestTime(base))
}

func TestSnapshot_Lookups(t *testing.T) {
	ts := time.Date(2025, 8, 7, 9, 20, 0, 0, time.UTC)
	exp := time.Date(2025, 8, 7, 0, 0, 0, 0, time.UTC)
	other := time.Date(2025, 8, 14, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{Timestamp: ts, Rows: []ChainRow{
		{OptionType: Call, Strike: 24950, Mark: 120, Expiry: exp},
		{OptionType: Call, Strike: 25050, Mark: 60, Expiry: exp},
		{OptionType: Put, Strike: 25000, Mark: 80, Expiry: exp},
		{OptionType: Call, Strike: 25000, Mark: 150, Expiry: other},
	}}

	assert.Len(t, snap.OfType(Call), 3)
	assert.Len(t, snap.ForExpiry(exp).Rows, 3)
	assert.Len(t, snap.ForExpiry(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)).Rows, 4,
		"an expiry with no rows leaves the snapshot unfiltered")

	_, ok := snap.Find(Put, 24950)
	assert.False(t, ok)

	row, ok := snap.ForExpiry(exp).Nearest(Call, 25000)
	assert.True(t, ok)
	assert.Equal(t, 24950.0, row.Strike, "ties resolve to the lower strike")
}

func TestSnapshotSearch(t *testing.T) {
	base := time.Date(2025, 8, 7, 9, 15, 0, 0, time.UTC)
	snaps := []Snapshot{
		{Timestamp: base.Add(2 * time.Minute)},
		{Timestamp: base},
		{Timestamp: base.Add(time.Minute)},
	}
	SortSnapshots(snaps)
	assert.Equal(t, base, snaps[0].Timestamp)

	assert.Equal(t, 1, NearestSnapshot(snaps, base.Add(70*time.Second)))
	assert.Equal(t, 2, SnapshotAtOrAfter(snaps, base.Add(70*time.Second)))
	assert.Equal(t, 2, SnapshotAtOrAfter(snaps, base.Add(time.Hour)))
	assert.Equal(t, -1, SnapshotAtOrAfter(nil, base))
}

func TestParseOptionType(t *testing.T) {
	for in, want := range map[string]OptionType{"ce": Call, "CALL": Call, "p": Put, " PE ": Put} {
		got, ok := ParseOptionType(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseOptionType("FUT")
	assert.False(t, ok)
}
