// Package engine runs option strategy sessions snapshot by snapshot and
// drives multi-day backtests.
package engine

import (
	"time"

	"github.com/eddiefleurent/optionlegs/internal/models"
)

// Re-entry outcomes reported to a Recorder.
const (
	ReEntrySpawned = "spawned"
	ReEntryQueued  = "queued"
	ReEntrySkipped = "skipped"
)

// Recorder observes engine events. Implementations must be safe for
// concurrent use since sessions run in parallel.
type Recorder interface {
	LegOpened(reEntry bool)
	LegClosed(reason models.ExitReason, pnl float64)
	ReEntry(mode models.ReEntryMode, outcome string)
	SessionFinished(status string, elapsed time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) LegOpened(bool)                         {}
func (noopRecorder) LegClosed(models.ExitReason, float64)   {}
func (noopRecorder) ReEntry(models.ReEntryMode, string)     {}
func (noopRecorder) SessionFinished(string, time.Duration) {}
