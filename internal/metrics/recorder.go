// Package metrics exposes backtest engine activity as Prometheus metrics:
//
//	optionlegs_legs_opened_total{kind}          - legs opened (entry|reentry)
//	optionlegs_leg_exits_total{reason}          - closed legs by exit reason
//	optionlegs_leg_profit_total                 - summed positive after-cost PnL
//	optionlegs_leg_loss_total                   - summed absolute after-cost losses
//	optionlegs_reentries_total{mode,outcome}    - re-entry decisions
//	optionlegs_sessions_total{status}           - finished sessions by status
//	optionlegs_session_duration_seconds{status} - wall time per session
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eddiefleurent/optionlegs/internal/engine"
	"github.com/eddiefleurent/optionlegs/internal/models"
)

const namespace = "optionlegs"

// Recorder implements engine.Recorder on its own registry.
type Recorder struct {
	registry        *prometheus.Registry
	legsOpened      *prometheus.CounterVec
	legExits        *prometheus.CounterVec
	legPnL          prometheus.Counter
	legLoss         prometheus.Counter
	reEntries       *prometheus.CounterVec
	sessions        *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
}

// NewRecorder creates a recorder with its collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		legsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "legs_opened_total",
			Help:      "Legs opened, split by initial entry and re-entry.",
		}, []string{"kind"}),
		legExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leg_exits_total",
			Help:      "Closed legs by exit reason (SL|TARGET|TRAIL|TIME).",
		}, []string{"reason"}),
		// Counters cannot decrease, so gains and losses are tracked apart.
		legPnL: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leg_profit_total",
			Help:      "Sum of positive after-cost PnL of closed legs.",
		}),
		legLoss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leg_loss_total",
			Help:      "Sum of absolute negative after-cost PnL of closed legs.",
		}),
		reEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reentries_total",
			Help:      "Re-entry decisions by mode and outcome (spawned|queued|skipped).",
		}, []string{"mode", "outcome"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished sessions by status (ok|failed|canceled).",
		}, []string{"status"}),
		sessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time spent replaying one session.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"status"}),
	}
	r.registry.MustRegister(r.legsOpened, r.legExits, r.legPnL, r.legLoss,
		r.reEntries, r.sessions, r.sessionDuration)
	return r
}

// Registry returns the registry the collectors live in.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) LegOpened(reEntry bool) {
	kind := "entry"
	if reEntry {
		kind = "reentry"
	}
	r.legsOpened.WithLabelValues(kind).Inc()
}

func (r *Recorder) LegClosed(reason models.ExitReason, pnl float64) {
	r.legExits.WithLabelValues(string(reason)).Inc()
	if pnl >= 0 {
		r.legPnL.Add(pnl)
	} else {
		r.legLoss.Add(-pnl)
	}
}

func (r *Recorder) ReEntry(mode models.ReEntryMode, outcome string) {
	r.reEntries.WithLabelValues(string(mode), outcome).Inc()
}

func (r *Recorder) SessionFinished(status string, elapsed time.Duration) {
	r.sessions.WithLabelValues(status).Inc()
	r.sessionDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

var _ engine.Recorder = (*Recorder)(nil)
