package models

import (
	"errors"
	"fmt"
)

// ErrNoRows is returned when a chain has no rows for the requested option type
var ErrNoRows = errors.New("no chain rows")

// SelectionError reports that no strike satisfies a selection criterion.
// It is fatal to a single entry or re-entry attempt, never to the session.
type SelectionError struct {
	Mode   StrikeMode
	Reason string
	Err    error
}

func (e *SelectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("strike selection %s: %s: %v", e.Mode, e.Reason, e.Err)
	}
	return fmt.Sprintf("strike selection %s: %s", e.Mode, e.Reason)
}

func (e *SelectionError) Unwrap() error { return e.Err }

// ConfigurationError reports a malformed strategy definition. It is raised
// before any leg opens.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// DataGapError reports that a session lacks the data needed to start.
type DataGapError struct {
	Date       string
	Instrument string
	Reason     string
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("data gap on %s for %s: %s", e.Date, e.Instrument, e.Reason)
}

// configErrorf builds a ConfigurationError with a formatted reason.
func configErrorf(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
