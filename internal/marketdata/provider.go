// Package marketdata supplies option-chain snapshots and underlying price
// series for backtest sessions.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eddiefleurent/optionlegs/internal/models"
)

// ErrNoData is returned when a provider has nothing for the requested date.
var ErrNoData = errors.New("no market data for date")

// ChainProvider returns a session's option chain snapshots.
type ChainProvider interface {
	Snapshots(ctx context.Context, date time.Time) ([]models.Snapshot, error)
}

// UnderlyingProvider returns a session's underlying price series.
// Futures may return (nil, nil) when no futures data exists.
type UnderlyingProvider interface {
	Spot(ctx context.Context, date time.Time) (*models.PriceSeries, error)
	Futures(ctx context.Context, date time.Time) (*models.PriceSeries, error)
}

// Provider serves both chains and underlying prices.
type Provider interface {
	ChainProvider
	UnderlyingProvider
}

// Underlying picks the series a strategy trades against: futures when asked
// for and available, otherwise spot.
func Underlying(ctx context.Context, p UnderlyingProvider, date time.Time, futures bool) (*models.PriceSeries, error) {
	if futures {
		fut, err := p.Futures(ctx, date)
		if err != nil && !errors.Is(err, ErrNoData) {
			return nil, fmt.Errorf("load futures: %w", err)
		}
		if fut.Len() > 0 {
			return fut, nil
		}
	}
	spot, err := p.Spot(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load spot: %w", err)
	}
	return spot, nil
}

func dateKey(t time.Time) string {
	return t.Format(models.DateLayout)
}
