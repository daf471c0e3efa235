package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/eddiefleurent/optionlegs/internal/models"
)

// MockStorage implements Interface in memory for testing
type MockStorage struct {
	mu          sync.Mutex
	appendError error
	trades      []models.TradeRow
	dailyPnL    map[string]float64
	statistics  *Statistics
	appendCalls int
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{
		dailyPnL:   make(map[string]float64),
		statistics: &Statistics{},
	}
}

func (m *MockStorage) AppendTrades(rows []models.TradeRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendCalls++
	if m.appendError != nil {
		return m.appendError
	}
	for _, r := range rows {
		m.trades = append(m.trades, r)
		m.dailyPnL[r.Date] = addMoney(m.dailyPnL[r.Date], r.PnLAfterCost)
		m.statistics.add(r.PnLAfterCost)
	}
	return nil
}

func (m *MockStorage) HasSession(date string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dailyPnL[date]
	return ok
}

// Historical data and analytics
func (m *MockStorage) GetHistory() []models.TradeRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]models.TradeRow(nil), m.trades...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func (m *MockStorage) GetTrades(date string) ([]models.TradeRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TradeRow
	for _, r := range m.trades {
		if r.Date == date {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", date, ErrNoTrades)
	}
	return out, nil
}

func (m *MockStorage) GetStatistics() *Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := *m.statistics
	return &stats
}

func (m *MockStorage) GetDailyPnL(date string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyPnL[date]
}

func (m *MockStorage) Close() error { return nil }

// Mock control methods for testing
func (m *MockStorage) SetAppendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendError = err
}

func (m *MockStorage) GetAppendCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendCalls
}

func (m *MockStorage) MarkSession(date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendError != nil {
		return m.appendError
	}
	m.dailyPnL[date] += 0
	return nil
}
