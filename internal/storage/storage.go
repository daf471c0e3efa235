package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/optionlegs/internal/models"
)

// JSONStorage keeps every trade row in a single JSON document that is
// rewritten atomically on each append.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *StorageData
}

// StorageData is the on-disk document.
type StorageData struct {
	Trades      []models.TradeRow  `json:"trades"`
	DailyPnL    map[string]float64 `json:"daily_pnl"`
	Statistics  *Statistics        `json:"statistics"`
	LastUpdated time.Time          `json:"last_updated"`
}

// Statistics are running aggregates over stored trade rows, one row per leg.
type Statistics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AverageWin    float64 `json:"average_win"`
	AverageLoss   float64 `json:"average_loss"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	CurrentStreak int     `json:"current_streak"`
	PeakPnL       float64 `json:"peak_pnl"`
}

// NewJSONStorage opens or creates a JSON store at path.
func NewJSONStorage(path string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: path,
		data:     newStorageData(),
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}
	return s, nil
}

func newStorageData() *StorageData {
	return &StorageData{
		DailyPnL:   make(map[string]float64),
		Statistics: &Statistics{},
	}
}

// Load replaces the in-memory state with the file contents.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}
	data := newStorageData()
	if err := json.Unmarshal(raw, data); err != nil {
		return err
	}
	if data.DailyPnL == nil {
		data.DailyPnL = make(map[string]float64)
	}
	if data.Statistics == nil {
		data.Statistics = &Statistics{}
	}
	s.data = data
	return nil
}

// save must be called with the write lock held.
func (s *JSONStorage) save() error {
	s.data.LastUpdated = time.Now()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.filepath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	// Write to temp file first
	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o644); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpFile, s.filepath)
}

// AppendTrades implements Interface.
func (s *JSONStorage) AppendTrades(rows []models.TradeRow) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		s.data.Trades = append(s.data.Trades, r)
		s.data.DailyPnL[r.Date] = addMoney(s.data.DailyPnL[r.Date], r.PnLAfterCost)
		s.data.Statistics.add(r.PnLAfterCost)
	}
	return s.save()
}

// MarkSession implements Interface. An empty session reads as a zero day PnL.
func (s *JSONStorage) MarkSession(date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.DailyPnL[date]; ok {
		return nil
	}
	s.data.DailyPnL[date] = 0
	return s.save()
}

// HasSession implements Interface.
func (s *JSONStorage) HasSession(date string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data.DailyPnL[date]
	return ok
}

// GetHistory returns a copy of every stored row ordered by date.
func (s *JSONStorage) GetHistory() []models.TradeRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]models.TradeRow(nil), s.data.Trades...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// GetTrades returns the rows of one session date.
func (s *JSONStorage) GetTrades(date string) ([]models.TradeRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TradeRow
	for _, r := range s.data.Trades {
		if r.Date == date {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", date, ErrNoTrades)
	}
	return out, nil
}

// GetStatistics returns a copy of the running statistics.
func (s *JSONStorage) GetStatistics() *Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := *s.data.Statistics
	return &stats
}

// GetDailyPnL implements Interface.
func (s *JSONStorage) GetDailyPnL(date string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.DailyPnL[date]
}

// Close implements Interface. The JSON store holds no open handles.
func (s *JSONStorage) Close() error { return nil }

func addMoney(a, b float64) float64 {
	return decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).Round(2).InexactFloat64()
}

// add folds one trade's PnL into the statistics. Breakeven trades count
// toward the total but neither wins nor losses.
func (stats *Statistics) add(pnl float64) {
	stats.TotalTrades++
	stats.TotalPnL = addMoney(stats.TotalPnL, pnl)

	switch {
	case pnl > 0:
		stats.WinningTrades++
		if stats.CurrentStreak >= 0 {
			stats.CurrentStreak++
		} else {
			stats.CurrentStreak = 1
		}
		totalWins := stats.AverageWin*float64(stats.WinningTrades-1) + pnl
		stats.AverageWin = totalWins / float64(stats.WinningTrades)
	case pnl < 0:
		stats.LosingTrades++
		if stats.CurrentStreak <= 0 {
			stats.CurrentStreak--
		} else {
			stats.CurrentStreak = -1
		}
		totalLosses := stats.AverageLoss*float64(stats.LosingTrades-1) + pnl
		stats.AverageLoss = totalLosses / float64(stats.LosingTrades)
	}

	if decided := stats.WinningTrades + stats.LosingTrades; decided > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(decided) * 100
	}

	// Drawdown of cumulative PnL from its running peak.
	if stats.TotalPnL > stats.PeakPnL {
		stats.PeakPnL = stats.TotalPnL
	}
	if dd := stats.TotalPnL - stats.PeakPnL; dd < stats.MaxDrawdown {
		stats.MaxDrawdown = dd
	}
}
