package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/optionlegs/internal/models"
)

func TestJSONStorage_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "trades.json")

	s, err := NewJSONStorage(path)
	require.NoError(t, err)
	require.NoError(t, s.AppendTrades([]models.TradeRow{
		tradeRow("2025-08-04", "1", 100),
		tradeRow("2025-08-04", "2", -40),
	}))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed into place")

	reopened, err := NewJSONStorage(path)
	require.NoError(t, err)
	assert.True(t, reopened.HasSession("2025-08-04"))
	assert.Len(t, reopened.GetHistory(), 2)
	assert.Equal(t, 60.0, reopened.GetDailyPnL("2025-08-04"))
	assert.Equal(t, 2, reopened.GetStatistics().TotalTrades)
}

func TestMarkSession_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	for _, driver := range []string{DriverJSON, DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(dir, "marked."+driver)
			s, err := NewStorage(driver, path)
			require.NoError(t, err)
			require.NoError(t, s.MarkSession("2025-08-04"))
			require.NoError(t, s.Close())

			reopened, err := NewStorage(driver, path)
			require.NoError(t, err)
			t.Cleanup(func() { _ = reopened.Close() })
			assert.True(t, reopened.HasSession("2025-08-04"))
			assert.Empty(t, reopened.GetHistory())
			assert.Zero(t, reopened.GetDailyPnL("2025-08-04"))
		})
	}
}

func TestJSONStorage_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewJSONStorage(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading storage")
}

func TestStatistics_StreakAndDrawdown(t *testing.T) {
	stats := &Statistics{}
	for _, pnl := range []float64{100, 50, -30, -80, 0, 20} {
		stats.add(pnl)
	}
	assert.Equal(t, 6, stats.TotalTrades)
	assert.Equal(t, 3, stats.WinningTrades)
	assert.Equal(t, 2, stats.LosingTrades)
	assert.Equal(t, 1, stats.CurrentStreak)
	assert.Equal(t, 60.0, stats.TotalPnL)
	assert.Equal(t, 150.0, stats.PeakPnL)
	assert.Equal(t, -110.0, stats.MaxDrawdown)
	assert.Equal(t, 60.0, stats.WinRate)
}
