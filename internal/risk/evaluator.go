// Package risk evaluates per-leg target, stop-loss and trailing-stop rules.
// All predicates are pure; a disabled rule never fires.
package risk

import (
	"github.com/eddiefleurent/optionlegs/internal/models"
)

// ref guards percent bases against a zero reference.
func ref(x float64) float64 {
	if x == 0 {
		return 1
	}
	return x
}

// premiumGain is the favorable premium move: down for shorts, up for longs.
func premiumGain(pos models.Position, entry, mark float64) float64 {
	return (mark - entry) * pos.Sign()
}

// underlyingGain is the favorable underlying move. Calls gain when the
// underlying rises and puts when it falls; shorts invert that.
func underlyingGain(pos models.Position, ot models.OptionType, entryS, s float64) float64 {
	dir := 1.0
	if ot == models.Put {
		dir = -1
	}
	return (s - entryS) * dir * pos.Sign()
}

// gain returns the favorable move and the threshold it is compared with.
// Percent bases yield a return fraction against value/100.
func gain(rule models.RiskRule, pos models.Position, ot models.OptionType, entryPx, entryS, mark, s float64) (float64, float64, bool) {
	switch rule.Basis {
	case models.BasisPremiumPoints:
		return premiumGain(pos, entryPx, mark), rule.Value, true
	case models.BasisPremiumPercent:
		return premiumGain(pos, entryPx, mark) / ref(entryPx), rule.Value / 100, true
	case models.BasisUnderlyingPoints:
		return underlyingGain(pos, ot, entryS, s), rule.Value, true
	case models.BasisUnderlyingPct:
		return underlyingGain(pos, ot, entryS, s) / ref(entryS), rule.Value / 100, true
	default:
		return 0, 0, false
	}
}

// HitTarget reports whether the favorable move has reached rule.Value.
func HitTarget(rule models.RiskRule, pos models.Position, ot models.OptionType, entryPx, entryS, mark, s float64) bool {
	if !rule.Enabled {
		return false
	}
	g, limit, ok := gain(rule, pos, ot, entryPx, entryS, mark, s)
	return ok && g >= limit
}

// HitStop reports whether the adverse move has reached rule.Value.
func HitStop(rule models.RiskRule, pos models.Position, ot models.OptionType, entryPx, entryS, mark, s float64) bool {
	if !rule.Enabled {
		return false
	}
	g, limit, ok := gain(rule, pos, ot, entryPx, entryS, mark, s)
	return ok && -g >= limit
}

// HitTrailingStop reports whether the premium has given back rule.Value
// (points or percent) from the best favorable premium.
func HitTrailingStop(rule models.TrailRule, pos models.Position, bestFav, mark float64) bool {
	if !rule.Enabled {
		return false
	}
	var stop float64
	switch rule.Basis {
	case models.TrailPoints:
		stop = bestFav - rule.Value*pos.Sign()
	case models.TrailPercent:
		stop = bestFav * (1 - pos.Sign()*rule.Value/100)
	default:
		return false
	}
	if pos.IsShort() {
		return mark >= stop
	}
	return mark <= stop
}

// Evaluate runs target, stop and trail in that order against an open leg's
// current mark and underlying. The first rule that fires wins.
func Evaluate(leg *models.Leg, mark, underlying float64) (models.ExitReason, bool) {
	rc := leg.Spec.Risk
	pos, ot := leg.Spec.Position, leg.Spec.OptionType
	switch {
	case HitTarget(rc.Target, pos, ot, leg.EntryPrice, leg.EntryUnderlying, mark, underlying):
		return models.ExitTarget, true
	case HitStop(rc.StopLoss, pos, ot, leg.EntryPrice, leg.EntryUnderlying, mark, underlying):
		return models.ExitStopLoss, true
	case HitTrailingStop(rc.Trail, pos, leg.BestFavorable, mark):
		return models.ExitTrail, true
	default:
		return "", false
	}
}
