package pricing

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestImpliedVolatility_RoundTrip(t *testing.T) {
	const s, r, q = 100.0, 0.06, 0.01
	for _, right := range []Right{Call, Put} {
		for _, k := range []float64{95, 100, 105} {
			for _, tt := range []float64{30.0 / 365, 0.5, 1} {
				for _, sigma := range []float64{0.1, 0.3, 0.8, 1.5, 2.5} {
					name := fmt.Sprintf("%c/K=%.0f/T=%.3f/vol=%.2f", right, k, tt, sigma)
					px := Price(s, k, tt, r, q, sigma, right)
					got := ImpliedVolatility(s, k, tt, r, q, right, px)
					assert.InDelta(t, sigma, got, 1e-4, name)
				}
			}
		}
	}
}

func TestImpliedVolatility_Clamps(t *testing.T) {
	tt := 30.0 / 365
	assert.Equal(t, MinVol, ImpliedVolatility(100, 100, tt, 0.06, 0, Call, 0))
	assert.Equal(t, MinVol, ImpliedVolatility(100, 100, tt, 0.06, 0, Call, -5))
	assert.Equal(t, MaxVol, ImpliedVolatility(100, 100, tt, 0.06, 0, Call, 1000))
}

func TestPrice_PutCallParity(t *testing.T) {
	s, k, tt, r, q, sigma := 25000.0, 25100.0, 7.0/365, 0.065, 0.012, 0.14
	c := Price(s, k, tt, r, q, sigma, Call)
	p := Price(s, k, tt, r, q, sigma, Put)
	parity := s*math.Exp(-q*tt) - k*math.Exp(-r*tt)
	assert.InDelta(t, parity, c-p, 1e-6)
}

func TestPrice_IntrinsicFallback(t *testing.T) {
	assert.Equal(t, 10.0, Price(110, 100, 0, 0.06, 0, 0.2, Call))
	assert.Equal(t, 0.0, Price(90, 100, 0, 0.06, 0, 0.2, Call))
	assert.Equal(t, 10.0, Price(90, 100, 0, 0.06, 0, 0.2, Put))

	// Zero vol with time left discounts both legs.
	tt := 0.5
	want := 100*math.Exp(-0.06*tt) - 90
	assert.InDelta(t, want, Price(90, 100, tt, 0.06, 0, 0, Put), 1e-12)
	assert.Equal(t, 0.0, Price(90, 100, tt, 0.06, 0, -1, Call))
}

func TestDelta_Bounds(t *testing.T) {
	for _, k := range []float64{50, 90, 100, 110, 200} {
		c := Delta(100, k, 0.25, 0.06, 0.02, 0.3, Call)
		p := Delta(100, k, 0.25, 0.06, 0.02, 0.3, Put)
		assert.True(t, c >= 0 && c <= 1, "call delta %f", c)
		assert.True(t, p >= -1 && p <= 0, "put delta %f", p)
	}
	assert.Equal(t, 1.0, Delta(110, 100, 0, 0.06, 0, 0.2, Call))
	assert.Equal(t, 0.0, Delta(100, 100, 0, 0.06, 0, 0.2, Call))
	assert.Equal(t, -1.0, Delta(90, 100, 0.1, 0.06, 0, 0, Put))
	assert.Equal(t, 0.0, Delta(110, 100, 0.1, 0.06, 0, 0, Put))
}

func TestYearFraction(t *testing.T) {
	t0 := time.Date(2025, 8, 7, 9, 15, 0, 0, time.UTC)
	assert.InDelta(t, 1.0, YearFraction(t0, t0.Add(365*24*time.Hour)), 1e-12)
	assert.Equal(t, 0.0, YearFraction(t0, t0.Add(-time.Hour)))
}

func TestNormCDF(t *testing.T) {
	assert.InDelta(t, 0.5, NormCDF(0), 1e-15)
	assert.InDelta(t, 0.975, NormCDF(1.959964), 1e-6)
}
