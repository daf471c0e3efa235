package marketdata

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/optionlegs/internal/models"
)

// CircuitBreakerProvider wraps a Provider with circuit breaker functionality.
// ErrNoData and context errors do not count as failures.
type CircuitBreakerProvider struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	provider Provider,
	fn func(Provider) (T, error),
) (T, error) {
	var zero T
	var benign error
	res, err := breaker.Execute(func() (interface{}, error) {
		v, err := fn(provider)
		if err != nil && (errors.Is(err, ErrNoData) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			benign = err
			return v, nil
		}
		return v, err
	})
	if benign != nil {
		return zero, benign
	}
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings trips after 60% of at least 5 loads fail.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// NewCircuitBreakerProvider creates a CircuitBreakerProvider with default settings.
func NewCircuitBreakerProvider(provider Provider, logger logrus.FieldLogger) *CircuitBreakerProvider {
	return NewCircuitBreakerProviderWithSettings(provider, DefaultCircuitBreakerSettings, logger)
}

// NewCircuitBreakerProviderWithSettings creates a CircuitBreakerProvider with custom settings
func NewCircuitBreakerProviderWithSettings(provider Provider, settings CircuitBreakerSettings, logger logrus.FieldLogger) *CircuitBreakerProvider {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	gbSettings := gobreaker.Settings{
		Name:        "MarketDataCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("circuit breaker state changed")
		},
	}

	return &CircuitBreakerProvider{
		provider: provider,
		breaker:  gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// State reports the breaker state.
func (c *CircuitBreakerProvider) State() gobreaker.State {
	return c.breaker.State()
}

// Snapshots wraps the underlying provider call with circuit breaker
func (c *CircuitBreakerProvider) Snapshots(ctx context.Context, date time.Time) ([]models.Snapshot, error) {
	return execCircuitBreaker(c.breaker, c.provider, func(p Provider) ([]models.Snapshot, error) {
		return p.Snapshots(ctx, date)
	})
}

// Spot wraps the underlying provider call with circuit breaker
func (c *CircuitBreakerProvider) Spot(ctx context.Context, date time.Time) (*models.PriceSeries, error) {
	return execCircuitBreaker(c.breaker, c.provider, func(p Provider) (*models.PriceSeries, error) {
		return p.Spot(ctx, date)
	})
}

// Futures wraps the underlying provider call with circuit breaker
func (c *CircuitBreakerProvider) Futures(ctx context.Context, date time.Time) (*models.PriceSeries, error) {
	return execCircuitBreaker(c.breaker, c.provider, func(p Provider) (*models.PriceSeries, error) {
		return p.Futures(ctx, date)
	})
}

var _ Provider = (*CircuitBreakerProvider)(nil)
