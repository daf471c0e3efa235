package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sellCallSpec() LegSpec {
	return LegSpec{
		Position:   Sell,
		OptionType: Call,
		Expiry:     Weekly,
		QtyLots:    2,
		StrikeCriteria: StrikeCriteria{
			Mode:   ModeStrikeType,
			Params: StrikeParams{"strike_type": "ATM"},
		},
	}
}

func TestLeg_OpenMarkClose(t *testing.T) {
	entry := time.Date(2025, 8, 7, 9, 20, 0, 0, time.UTC)
	leg := NewLeg("L1", sellCallSpec(), 75)
	assert.Equal(t, 150, leg.Qty)
	assert.Equal(t, 2, leg.Lots)

	require.NoError(t, leg.Open(entry, 25000, entry, 100, 24990))
	assert.True(t, leg.IsOpen())
	assert.Equal(t, 100.0, leg.BestFavorable)

	// Short leg: favorable extreme only moves down.
	leg.Mark(90)
	assert.Equal(t, 90.0, leg.BestFavorable)
	leg.Mark(110)
	assert.Equal(t, 90.0, leg.BestFavorable)
	assert.Equal(t, 110.0, leg.LastMark)

	costs := Costs{PerLotRoundtrip: 40, SlippagePerFill: 5}
	require.NoError(t, leg.Close(entry.Add(time.Hour), 75, ExitTarget, costs))
	assert.True(t, leg.IsClosed())
	assert.True(t, leg.HitTarget)
	assert.False(t, leg.HitStopLoss)
	// (75-100) * -1 * 150 = 3750; costs 40*2+5 = 85
	assert.Equal(t, 3750.0, leg.PnL)
	assert.Equal(t, 3665.0, leg.PnLAfterCost)
	require.NoError(t, leg.ValidateState())

	// Closed legs are immutable.
	leg.Mark(10)
	assert.Equal(t, 90.0, leg.BestFavorable)
	assert.Equal(t, 75.0, leg.LastMark)
	assert.Error(t, leg.Close(entry.Add(2*time.Hour), 50, ExitStopLoss, costs))
	assert.Equal(t, 75.0, leg.ExitPrice)
	assert.Equal(t, ExitTarget, leg.ExitReason)
}

func TestLeg_LongFavorableIsMonotonic(t *testing.T) {
	entry := time.Date(2025, 8, 7, 9, 20, 0, 0, time.UTC)
	spec := sellCallSpec()
	spec.Position = Buy
	leg := NewLeg("L1", spec, 50)
	require.NoError(t, leg.Open(entry, 25000, time.Time{}, 100, 25000))

	prev := leg.BestFavorable
	for _, px := range []float64{105, 98, 120, 119, 80, 121} {
		leg.Mark(px)
		assert.GreaterOrEqual(t, leg.BestFavorable, prev)
		prev = leg.BestFavorable
	}
	assert.Equal(t, 121.0, leg.BestFavorable)
}

func TestLeg_SquareOffAndForceCloseUseTime(t *testing.T) {
	entry := time.Date(2025, 8, 7, 9, 20, 0, 0, time.UTC)
	a := NewLeg("A", sellCallSpec(), 75)
	b := NewLeg("B", sellCallSpec(), 75)
	require.NoError(t, a.Open(entry, 25000, time.Time{}, 100, 25000))
	require.NoError(t, b.Open(entry, 25000, time.Time{}, 100, 25000))

	require.NoError(t, a.SquareOff(entry.Add(time.Minute), 101, Costs{}))
	require.NoError(t, b.ForceClose(entry.Add(time.Minute), 99, Costs{}))
	assert.Equal(t, ExitTime, a.ExitReason)
	assert.Equal(t, ExitTime, b.ExitReason)
	assert.False(t, a.HitStopLoss || a.HitTarget || a.HitTrail)
}

func TestLeg_RowRequiresClosed(t *testing.T) {
	entry := time.Date(2025, 8, 7, 9, 20, 0, 0, time.UTC)
	leg := NewLeg("L1", sellCallSpec(), 75)
	require.NoError(t, leg.Open(entry, 25000, time.Date(2025, 8, 7, 0, 0, 0, 0, time.UTC), 100, 25000))
	_, err := leg.Row(entry, "NIFTY", 75)
	assert.Error(t, err)

	require.NoError(t, leg.Close(entry.Add(time.Minute), 130, ExitStopLoss, Costs{}))
	row, err := leg.Row(entry, "NIFTY", 75)
	require.NoError(t, err)
	assert.Equal(t, "2025-08-07", row.Date)
	assert.Equal(t, "2025-08-07", row.Expiry)
	assert.Equal(t, 130.0, row.ExitPrice)
	assert.True(t, row.HitSL)
	assert.Len(t, row.CSVRecord(), len(CSVHeader))
}

func TestLeg_RowRejectsInconsistentLeg(t *testing.T) {
	entry := time.Date(2025, 8, 7, 9, 20, 0, 0, time.UTC)
	leg := NewLeg("L1", sellCallSpec(), 75)
	require.NoError(t, leg.Open(entry, 25000, time.Date(2025, 8, 7, 0, 0, 0, 0, time.UTC), 100, 25000))
	require.NoError(t, leg.Close(entry.Add(time.Minute), 130, ExitStopLoss, Costs{}))

	leg.ExitTS = entry.Add(-time.Minute)
	_, err := leg.Row(entry, "NIFTY", 75)
	assert.ErrorContains(t, err, "before EntryTS")
}

func TestLegPnL_Rounding(t *testing.T) {
	gross, net := LegPnL(Buy, 100.1, 100.3, 3, 1, Costs{PerLotRoundtrip: 0.333})
	assert.Equal(t, 0.6, gross)
	assert.Equal(t, 0.27, net)
}

func TestLeg_ValidateStateFromPersisted(t *testing.T) {
	leg := &Leg{ID: "x", State: StateClosed, Qty: 75}
	assert.Error(t, leg.ValidateState(), "closed leg without timestamps is invalid")

	leg = &Leg{ID: "y", State: StatePending, Qty: 75}
	assert.NoError(t, leg.ValidateState())
}
