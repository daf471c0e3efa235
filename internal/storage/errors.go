package storage

import "errors"

// ErrNoTrades is returned when no trade rows are stored for a session date.
var ErrNoTrades = errors.New("no trades found")
