package marketdata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/optionlegs/internal/models"
)

var session = time.Date(2025, 8, 4, 0, 0, 0, 0, time.UTC)

func series(start time.Time, prices ...float64) *models.PriceSeries {
	s := &models.PriceSeries{}
	for i, p := range prices {
		s.Append(start.Add(time.Duration(i)*time.Minute), p)
	}
	return s
}

func TestMemoryProvider(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryProvider()
	t0 := session.Add(9*time.Hour + 15*time.Minute)
	m.Put(session, Day{
		Snapshots: []models.Snapshot{{Timestamp: t0.Add(time.Minute)}, {Timestamp: t0}},
		Spot:      series(t0, 25000, 25010),
	})

	snaps, err := m.Snapshots(ctx, session)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, t0, snaps[0].Timestamp, "snapshots are sorted on Put")

	fut, err := m.Futures(ctx, session)
	require.NoError(t, err)
	assert.Nil(t, fut)

	_, err = m.Spot(ctx, session.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, []string{"2025-08-04"}, m.Dates())
}

func TestUnderlying_PrefersFuturesWhenAvailable(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryProvider()
	t0 := session.Add(9 * time.Hour)
	m.Put(session, Day{Spot: series(t0, 25000), Futures: series(t0, 25080)})
	m.Put(session.AddDate(0, 0, 1), Day{Spot: series(t0.AddDate(0, 0, 1), 25100)})

	s, err := Underlying(ctx, m, session, true)
	require.NoError(t, err)
	assert.Equal(t, 25080.0, s.Prices[0])

	s, err = Underlying(ctx, m, session, false)
	require.NoError(t, err)
	assert.Equal(t, 25000.0, s.Prices[0])

	s, err = Underlying(ctx, m, session.AddDate(0, 0, 1), true)
	require.NoError(t, err)
	assert.Equal(t, 25100.0, s.Prices[0], "falls back to spot")
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestCSVProvider(t *testing.T) {
	root := t.TempDir()
	day := filepath.Join(root, "2025-08-04")
	writeFile(t, day, OptionsFile, `Timestamp,OptionType,Strike,Close,Expiry,Delta
2025-08-04 09:16:00,CE,25000,82.5,2025-08-07,
2025-08-04 09:15:00,CE,25000,80,2025-08-07,0.52
2025-08-04 09:15:00,PE,25000,90,2025-08-07 00:00:00,-0.48
2025-08-04 09:15:00,XX,25000,1,2025-08-07,
2025-08-04 09:16:00,PE,25000,not-a-number,2025-08-07,
`)
	writeFile(t, day, SpotFile, "timestamp,close\n2025-08-04 09:16:00,25010\n2025-08-04 09:15:00,25000\n")

	ist := time.FixedZone("IST", 5*3600+1800)
	p := NewCSVProvider(root, ist, nil)
	ctx := context.Background()

	snaps, err := p.Snapshots(ctx, session)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 9, snaps[0].Timestamp.Hour())
	assert.Equal(t, 15, snaps[0].Timestamp.Minute())
	require.Len(t, snaps[0].Rows, 2)
	require.Len(t, snaps[1].Rows, 1)

	ce, ok := snaps[0].Find(models.Call, 25000)
	require.True(t, ok)
	assert.Equal(t, 80.0, ce.Mark)
	require.NotNil(t, ce.Delta)
	assert.Equal(t, 0.52, *ce.Delta)
	assert.True(t, models.SameDay(ce.Expiry, time.Date(2025, 8, 7, 0, 0, 0, 0, time.UTC)))
	pe, ok := snaps[0].Find(models.Put, 25000)
	require.True(t, ok)
	assert.True(t, pe.HasExpiry())
	assert.Nil(t, snaps[1].Rows[0].Delta)

	spot, err := p.Spot(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, []float64{25000, 25010}, spot.Prices)

	fut, err := p.Futures(ctx, session)
	require.NoError(t, err)
	assert.Nil(t, fut)

	_, err = p.Snapshots(ctx, session.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, ErrNoData)
}

func TestCSVProvider_MissingColumns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "2025-08-04"), OptionsFile, "timestamp,option_type,close\n2025-08-04 09:15:00,CE,1\n")
	_, err := NewCSVProvider(root, nil, nil).Snapshots(context.Background(), session)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strike")
}

type flakyProvider struct {
	*MemoryProvider
	fail  bool
	calls int
}

func (f *flakyProvider) Snapshots(ctx context.Context, date time.Time) ([]models.Snapshot, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("connection reset")
	}
	return f.MemoryProvider.Snapshots(ctx, date)
}

func TestCircuitBreakerProvider_Trips(t *testing.T) {
	mem := NewMemoryProvider()
	mem.Put(session, Day{Snapshots: []models.Snapshot{{Timestamp: session}}})
	fp := &flakyProvider{MemoryProvider: mem, fail: true}
	cb := NewCircuitBreakerProviderWithSettings(fp, CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.5,
	}, nil)

	for i := 0; i < 3; i++ {
		_, err := cb.Snapshots(context.Background(), session)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Snapshots(context.Background(), session)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, fp.calls, "open breaker short-circuits the provider")
}

func TestCircuitBreakerProvider_NoDataDoesNotTrip(t *testing.T) {
	cb := NewCircuitBreakerProviderWithSettings(NewMemoryProvider(), CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  1,
		FailureRatio: 0.1,
	}, nil)

	for i := 0; i < 5; i++ {
		_, err := cb.Spot(context.Background(), session)
		assert.ErrorIs(t, err, ErrNoData)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())

	snaps, err := NewCircuitBreakerProvider(NewMemoryProvider(), nil).Snapshots(context.Background(), session)
	assert.ErrorIs(t, err, ErrNoData)
	assert.Nil(t, snaps)
}
