package storage

import (
	"fmt"
	"strings"

	"github.com/eddiefleurent/optionlegs/internal/models"
)

// Interface defines the contract for trade row persistence.
//
// Implementations must be safe for concurrent use - the backtest runner
// appends from several session workers while the dashboard reads.
type Interface interface {
	// AppendTrades persists the rows of one or more finished sessions.
	AppendTrades(rows []models.TradeRow) error
	// MarkSession records a completed session that produced no rows.
	MarkSession(date string) error
	// HasSession reports whether date (YYYY-MM-DD) has rows or was marked.
	HasSession(date string) bool

	// Historical data and analytics
	GetHistory() []models.TradeRow
	GetTrades(date string) ([]models.TradeRow, error)
	GetStatistics() *Statistics
	GetDailyPnL(date string) float64

	Close() error
}

// Drivers accepted by NewStorage.
const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

// NewStorage opens the storage backend named by driver at path.
func NewStorage(driver, path string) (Interface, error) {
	switch strings.ToLower(driver) {
	case "", DriverJSON:
		return NewJSONStorage(path)
	case DriverSQLite:
		return NewSQLiteStorage(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// Ensure implementations satisfy Interface
var (
	_ Interface = (*JSONStorage)(nil)
	_ Interface = (*SQLiteStorage)(nil)
	_ Interface = (*MockStorage)(nil)
)
