// Package pricing implements Black-Scholes pricing, delta and implied
// volatility with a continuous dividend yield. All functions are pure and
// clamp at the edges instead of failing.
package pricing

import (
	"math"
	"time"
)

// Right is the option right used by the model.
type Right byte

const (
	// Call option
	Call Right = 'C'
	// Put option
	Put Right = 'P'
)

// Bisection bounds and limits for ImpliedVolatility.
const (
	MinVol         = 1e-6
	MaxVol         = 5.0
	IVTolerance    = 1e-6
	IVMaxIter      = 100
	secondsPerYear = 365.0 * 24 * 3600
)

// Params are the rate inputs shared by a chain.
type Params struct {
	Rate     float64 `yaml:"risk_free" json:"risk_free"`
	Dividend float64 `yaml:"div_yield" json:"div_yield"`
}

// DefaultParams returns r=6%, q=0.
func DefaultParams() Params {
	return Params{Rate: 0.06, Dividend: 0}
}

// NormCDF is the standard normal cumulative distribution.
func NormCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

// YearFraction returns the ACT/365F year fraction between t0 and t1, never negative.
func YearFraction(t0, t1 time.Time) float64 {
	secs := t1.Sub(t0).Seconds()
	if secs < 0 {
		return 0
	}
	return secs / secondsPerYear
}

// intrinsic is the discounted intrinsic value used when T or sigma is not positive.
func intrinsic(s, k, t, r, q float64, right Right) float64 {
	fwdS := s * math.Exp(-q*t)
	pvK := k * math.Exp(-r*t)
	if right == Put {
		return math.Max(0, pvK-fwdS)
	}
	return math.Max(0, fwdS-pvK)
}

func d1(s, k, t, r, q, sigma float64) float64 {
	return (math.Log(s/k) + (r-q+0.5*sigma*sigma)*t) / (sigma * math.Sqrt(t))
}

// Price returns the Black-Scholes premium.
func Price(s, k, t, r, q, sigma float64, right Right) float64 {
	if t <= 0 || sigma <= 0 {
		return intrinsic(s, k, t, r, q, right)
	}
	a := d1(s, k, t, r, q, sigma)
	b := a - sigma*math.Sqrt(t)
	if right == Put {
		return k*math.Exp(-r*t)*NormCDF(-b) - s*math.Exp(-q*t)*NormCDF(-a)
	}
	return s*math.Exp(-q*t)*NormCDF(a) - k*math.Exp(-r*t)*NormCDF(b)
}

// Delta returns the Black-Scholes delta: [0,1] for calls, [-1,0] for puts.
// At or past expiry, or with zero vol, it is +/-1 in the money and 0 otherwise.
func Delta(s, k, t, r, q, sigma float64, right Right) float64 {
	if t <= 0 || sigma <= 0 {
		switch {
		case right == Call && s > k:
			return 1
		case right == Put && s < k:
			return -1
		default:
			return 0
		}
	}
	a := d1(s, k, t, r, q, sigma)
	if right == Put {
		return -math.Exp(-q*t) * NormCDF(-a)
	}
	return math.Exp(-q*t) * NormCDF(a)
}

// ImpliedVolatility solves for sigma by bisection over [MinVol, MaxVol].
// Targets outside the price band clamp to the nearest bound.
func ImpliedVolatility(s, k, t, r, q float64, right Right, target float64) float64 {
	p := math.Max(target, 0)
	if p <= Price(s, k, t, r, q, MinVol, right) {
		return MinVol
	}
	if p >= Price(s, k, t, r, q, MaxVol, right) {
		return MaxVol
	}
	lo, hi := MinVol, MaxVol
	for i := 0; i < IVMaxIter; i++ {
		mid := 0.5 * (lo + hi)
		pm := Price(s, k, t, r, q, mid, right)
		if math.Abs(pm-p) < IVTolerance {
			return clamp(mid)
		}
		if pm > p {
			hi = mid
		} else {
			lo = mid
		}
	}
	return clamp(0.5 * (lo + hi))
}

func clamp(sigma float64) float64 {
	return math.Max(MinVol, math.Min(sigma, MaxVol))
}
