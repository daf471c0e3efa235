// Package util provides common utility functions for price and strike-grid calculations.
package util

import (
	"math"
	"sort"
)

// tickEpsilon absorbs float noise so values a hair off a tick boundary stay on it.
const tickEpsilon = 1e-12

func normalizeTick(x, tick float64) (float64, bool) {
	tick = math.Abs(tick)
	if tick == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, false
	}
	return tick, true
}

// RoundToTick rounds x to the nearest tick increment. Halves round away from zero.
// For example, with tick=0.01, 1.2345 becomes 1.23 and 1.235 becomes 1.24.
func RoundToTick(x, tick float64) float64 {
	tick, ok := normalizeTick(x, tick)
	if !ok {
		return x
	}
	q := x / tick
	if r := math.Round(q); math.Abs(q-r) < tickEpsilon {
		return r * tick
	}
	// Nudge exact halves that float division lands just under.
	return math.Round(q+math.Copysign(tickEpsilon, q)) * tick
}

// RoundHalfEven rounds x to the nearest tick increment with ties going to
// the even multiple, so 24925 on a 50 grid becomes 24900 and 24975 becomes 25000.
func RoundHalfEven(x, tick float64) float64 {
	tick, ok := normalizeTick(x, tick)
	if !ok {
		return x
	}
	q := x / tick
	if f := math.Floor(q); math.Abs(q-f-0.5) < tickEpsilon {
		q = f + 0.5
	}
	return math.RoundToEven(q) * tick
}

// DetectStep returns the most common gap between consecutive distinct
// strikes. Ties pick the smaller gap. Fewer than two strikes yields def.
func DetectStep(strikes []float64, def float64) float64 {
	uniq := make([]float64, 0, len(strikes))
	seen := make(map[float64]struct{}, len(strikes))
	for _, s := range strikes {
		if math.IsNaN(s) {
			continue
		}
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			uniq = append(uniq, s)
		}
	}
	if len(uniq) < 2 {
		return def
	}
	sort.Float64s(uniq)

	counts := make(map[float64]int)
	for i := 1; i < len(uniq); i++ {
		counts[uniq[i]-uniq[i-1]]++
	}
	best, bestN := 0.0, 0
	for gap, n := range counts {
		if n > bestN || (n == bestN && gap < best) {
			best, bestN = gap, n
		}
	}
	if best <= 0 {
		return def
	}
	return best
}
