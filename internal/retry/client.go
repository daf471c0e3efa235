// Package retry retries market data loads that fail with transient errors.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/optionlegs/internal/marketdata"
	"github.com/eddiefleurent/optionlegs/internal/models"
)

type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client wraps a market data provider and retries transient load failures.
type Client struct {
	provider marketdata.Provider
	logger   logrus.FieldLogger
	config   Config
}

func NewClient(provider marketdata.Provider, logger logrus.FieldLogger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	return &Client{
		provider: provider,
		logger:   logger,
		config:   cfg,
	}
}

// Snapshots loads chain snapshots with retry.
func (c *Client) Snapshots(ctx context.Context, date time.Time) ([]models.Snapshot, error) {
	return withRetry(ctx, c, "snapshots", date, func(ctx context.Context) ([]models.Snapshot, error) {
		return c.provider.Snapshots(ctx, date)
	})
}

// Spot loads the spot series with retry.
func (c *Client) Spot(ctx context.Context, date time.Time) (*models.PriceSeries, error) {
	return withRetry(ctx, c, "spot", date, func(ctx context.Context) (*models.PriceSeries, error) {
		return c.provider.Spot(ctx, date)
	})
}

// Futures loads the futures series with retry.
func (c *Client) Futures(ctx context.Context, date time.Time) (*models.PriceSeries, error) {
	return withRetry(ctx, c, "futures", date, func(ctx context.Context) (*models.PriceSeries, error) {
		return c.provider.Futures(ctx, date)
	})
}

func withRetry[T any](ctx context.Context, c *Client, op string, date time.Time, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	loadCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	log := c.logger.WithFields(logrus.Fields{"op": op, "date": date.Format(models.DateLayout)})
	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		select {
		case <-loadCtx.Done():
			if ctx.Err() != nil {
				return zero, fmt.Errorf("operation canceled: %w", ctx.Err())
			}
			return zero, fmt.Errorf("%s load timed out after %v: %w", op, c.config.Timeout, loadCtx.Err())
		default:
		}

		v, err := fn(loadCtx)
		if err == nil {
			if attempt > 0 {
				log.WithField("attempt", attempt+1).Info("load succeeded after retry")
			}
			return v, nil
		}

		lastErr = err
		if !c.isTransientError(err) || attempt == c.config.MaxRetries {
			break
		}
		log.WithError(err).WithField("attempt", attempt+1).Warnf("transient error, retrying in %v", backoff)
		select {
		case <-time.After(backoff):
			backoff = c.calculateNextBackoff(backoff)
		case <-loadCtx.Done():
			if ctx.Err() != nil {
				return zero, fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
			}
			return zero, fmt.Errorf("%s load timed out during backoff: %w", op, loadCtx.Err())
		}
	}

	if !c.isTransientError(lastErr) {
		return zero, lastErr
	}
	return zero, fmt.Errorf("%s load failed after %d attempts: %w", op, c.config.MaxRetries+1, lastErr)
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.WithError(err).Warn("failed to generate jitter")
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func (c *Client) isTransientError(err error) bool {
	if err == nil || errors.Is(err, marketdata.ErrNoData) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"resource temporarily unavailable",
		"too many open files",
		"circuit breaker is open",
		"server error",
		"rate limit",
		"429", // HTTP 429 Too Many Requests
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

var _ marketdata.Provider = (*Client)(nil)
