package marketdata

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eddiefleurent/optionlegs/internal/models"
)

// Day is everything a provider knows about one session.
type Day struct {
	Snapshots []models.Snapshot
	Spot      *models.PriceSeries
	Futures   *models.PriceSeries
}

// MemoryProvider serves preloaded sessions. It is safe for concurrent use.
type MemoryProvider struct {
	mu   sync.RWMutex
	days map[string]Day
}

// NewMemoryProvider creates an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{days: make(map[string]Day)}
}

// Put stores the data for a session date, replacing any previous value.
func (m *MemoryProvider) Put(date time.Time, day Day) {
	models.SortSnapshots(day.Snapshots)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.days[dateKey(date)] = day
}

// Dates returns the stored session dates in ascending order.
func (m *MemoryProvider) Dates() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.days))
	for k := range m.days {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *MemoryProvider) day(ctx context.Context, date time.Time) (Day, error) {
	if err := ctx.Err(); err != nil {
		return Day{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.days[dateKey(date)]
	if !ok {
		return Day{}, ErrNoData
	}
	return d, nil
}

// Snapshots returns a copy of the stored snapshot slice.
func (m *MemoryProvider) Snapshots(ctx context.Context, date time.Time) ([]models.Snapshot, error) {
	d, err := m.day(ctx, date)
	if err != nil {
		return nil, err
	}
	return append([]models.Snapshot(nil), d.Snapshots...), nil
}

// Spot returns the stored spot series.
func (m *MemoryProvider) Spot(ctx context.Context, date time.Time) (*models.PriceSeries, error) {
	d, err := m.day(ctx, date)
	if err != nil {
		return nil, err
	}
	if d.Spot.Len() == 0 {
		return nil, ErrNoData
	}
	return d.Spot, nil
}

// Futures returns the stored futures series, or nil when there is none.
func (m *MemoryProvider) Futures(ctx context.Context, date time.Time) (*models.PriceSeries, error) {
	d, err := m.day(ctx, date)
	if err != nil {
		return nil, err
	}
	return d.Futures, nil
}

var _ Provider = (*MemoryProvider)(nil)
