package engine

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/optionlegs/internal/models"
)

// PendingReEntry is a queued re-entry waiting for its trigger.
type PendingReEntry struct {
	ParentID  string
	Trigger   models.ExitReason
	Mode      models.ReEntryMode
	Kind      models.ReEntryKind
	CreatedAt time.Time
	Spec      models.LegSpec
	Expiry    time.Time

	// WatchStrike is the contract observed each snapshot. For cost
	// re-entries it is the exited strike, for momentum the re-selected one.
	WatchStrike float64
	// WatchPrice is the reference premium: the exited leg's entry premium
	// for cost re-entries, the watched contract's mark at enqueue for momentum.
	WatchPrice float64
	// Points is the momentum threshold.
	Points float64

	parent *models.Leg
}

// Triggered reports whether the watched contract's mark satisfies the trigger.
func (p *PendingReEntry) Triggered(mark float64) bool {
	switch p.Kind {
	case models.ReEntryCost:
		if p.Spec.Position.IsShort() {
			return mark <= p.WatchPrice
		}
		return mark >= p.WatchPrice
	case models.ReEntryMomentum:
		if p.Points < 0 {
			return mark <= p.WatchPrice+p.Points
		}
		return mark >= p.WatchPrice+p.Points
	default:
		return false
	}
}

// reEntrySpec builds the spec a re-entry opens: a clone of the exited leg
// with the position reversed for _REV modes, or the rule's lazy leg.
func reEntrySpec(parent *models.Leg, rule models.ReEntryRule) models.LegSpec {
	if rule.Mode == models.LazyLeg && rule.LazyLeg != nil {
		return rule.LazyLeg.Clone()
	}
	spec := parent.Spec.Clone()
	if rule.Mode.Reversed() {
		spec.Position = spec.Position.Reverse()
	}
	return spec
}

// onExit applies the exited leg's re-entry rule for reason at snapshot i.
func (s *session) onExit(i int, leg *models.Leg, reason models.ExitReason) {
	rule, ok := leg.Spec.RuleFor(reason)
	if !ok || !rule.Enabled {
		return
	}
	log := s.log.WithFields(logrus.Fields{"leg_id": leg.ID, "reason": reason, "mode": rule.Mode})
	if leg.ReEntries(reason) >= rule.Cap() {
		log.WithField("cap", rule.Cap()).Debug("re-entry cap reached")
		s.rec.ReEntry(rule.Mode, ReEntrySkipped)
		return
	}
	ts := s.snaps[i].Timestamp
	if !s.cutoff.IsZero() && !ts.Before(s.cutoff) {
		log.Debug("past no_reentry_after")
		s.rec.ReEntry(rule.Mode, ReEntrySkipped)
		return
	}
	kind, err := rule.Mode.Kind()
	if err != nil {
		log.WithError(err).Warn("re-entry mode rejected")
		return
	}

	spec := reEntrySpec(leg, rule)
	// Counted up front so an immediate spawn inherits the new count; undone
	// when nothing is spawned or queued.
	s.bump(leg, reason, 1)
	switch kind {
	case models.ReEntryImmediate:
		if _, err := s.openLeg(i, spec, leg); err != nil {
			log.WithError(err).Info("re-entry not spawned")
			s.bump(leg, reason, -1)
			s.rec.ReEntry(rule.Mode, ReEntrySkipped)
			return
		}
		s.rec.ReEntry(rule.Mode, ReEntrySpawned)
	case models.ReEntryCost:
		s.pending = append(s.pending, &PendingReEntry{
			ParentID:    leg.ID,
			Trigger:     reason,
			Mode:        rule.Mode,
			Kind:        kind,
			CreatedAt:   ts,
			Spec:        spec,
			Expiry:      leg.Expiry,
			WatchStrike: leg.Strike,
			WatchPrice:  leg.EntryPrice,
			parent:      leg,
		})
		s.rec.ReEntry(rule.Mode, ReEntryQueued)
	case models.ReEntryMomentum:
		expiry, snap, underlying, err := s.prepare(i, spec)
		var strike float64
		if err == nil {
			strike, err = s.selectStrike(snap, spec, expiry, underlying)
		}
		var row models.ChainRow
		if err == nil {
			var ok bool
			if row, ok = snap.Find(spec.OptionType, strike); !ok {
				err = &models.SelectionError{Mode: spec.StrikeCriteria.Mode, Reason: "selected strike has no quote"}
			}
		}
		if err != nil {
			log.WithError(err).Info("momentum re-entry not queued")
			s.bump(leg, reason, -1)
			s.rec.ReEntry(rule.Mode, ReEntrySkipped)
			return
		}
		s.pending = append(s.pending, &PendingReEntry{
			ParentID:    leg.ID,
			Trigger:     reason,
			Mode:        rule.Mode,
			Kind:        kind,
			CreatedAt:   ts,
			Spec:        spec,
			Expiry:      expiry,
			WatchStrike: strike,
			WatchPrice:  row.Mark,
			Points:      s.cfg.MomentumPoints(),
			parent:      leg,
		})
		s.rec.ReEntry(rule.Mode, ReEntryQueued)
	}
	log.WithField("count", leg.ReEntries(reason)).Info("re-entry scheduled")
}

// bump adjusts the lineage counter for reason by delta.
func (s *session) bump(leg *models.Leg, reason models.ExitReason, delta int) {
	switch reason {
	case models.ExitStopLoss:
		leg.ReEntriesOnSL += delta
	case models.ExitTarget:
		leg.ReEntriesOnTarget += delta
	}
}

// resolvePending checks every queued re-entry against snapshot i and spawns
// the ones whose trigger is met. Unmet ones stay queued.
func (s *session) resolvePending(i int) {
	if len(s.pending) == 0 {
		return
	}
	snap := s.snaps[i]
	kept := s.pending[:0]
	for _, p := range s.pending {
		row, ok := snap.ForExpiry(p.Expiry).Find(p.Spec.OptionType, p.WatchStrike)
		if !ok || !p.Triggered(row.Mark) {
			kept = append(kept, p)
			continue
		}
		if _, err := s.openAt(i, p.Spec, p.parent, p.Expiry, row); err != nil {
			s.log.WithError(err).WithField("leg_id", p.ParentID).Warn("pending re-entry failed to open")
			continue
		}
		s.rec.ReEntry(p.Mode, ReEntrySpawned)
	}
	s.pending = kept
}
