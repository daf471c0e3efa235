package reporting

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/optionlegs/internal/models"
)

func trades(pnls ...float64) []Trade {
	out := make([]Trade, len(pnls))
	for i, p := range pnls {
		out[i] = Trade{Key: time.Date(2025, 8, 4+i, 0, 0, 0, 0, time.UTC).Format(models.DateLayout), PnL: p}
	}
	return out
}

func TestSummarizeTrades_WorkedExample(t *testing.T) {
	m, curve := SummarizeTrades(trades(10, -5, 8, -20, 12), ScopePackage)

	require.Len(t, curve, 5)
	eq := make([]float64, 5)
	dd := make([]float64, 5)
	for i, p := range curve {
		eq[i], dd[i] = p.Equity, p.Drawdown
	}
	assert.Equal(t, []float64{10, 5, 13, -7, 5}, eq)
	assert.Equal(t, []float64{0, -5, 0, -20, -8}, dd)

	assert.Equal(t, 5.0, m.OverallProfit)
	assert.Equal(t, 5, m.NumTrades)
	assert.Equal(t, 1.0, m.AvgProfitPerTrade)
	assert.Equal(t, 10.0, m.AvgProfitOnWinners)
	assert.Equal(t, -12.5, m.AvgLossOnLosers)
	assert.Equal(t, 12.0, m.MaxProfitTrade)
	assert.Equal(t, -20.0, m.MaxLossTrade)
	assert.Equal(t, 60.0, m.WinPct)
	assert.Equal(t, 40.0, m.LossPct)

	assert.Equal(t, -20.0, m.MaxDrawdown)
	assert.Equal(t, 2, m.DrawdownStart)
	assert.Equal(t, 4, m.DrawdownRecovery, "never recovers, so the span runs to the end")
	assert.Equal(t, 3, m.MaxDrawdownTrades)
	require.NotNil(t, m.MaxDrawdownSpan[0])
	assert.Equal(t, "2025-08-06", *m.MaxDrawdownSpan[0])
	assert.Equal(t, "2025-08-08", *m.MaxDrawdownSpan[1])
	assert.Equal(t, 2, m.MaxTradesInDD)

	assert.InDelta(t, 0.25, float64(m.ReturnOverMaxDD), 1e-12)
	assert.InDelta(t, 0.8, float64(m.RewardToRisk), 1e-12)
	assert.InDelta(t, 0.08, float64(m.Expectancy), 1e-12)
	assert.Equal(t, 1, m.MaxWinStreak)
	assert.Equal(t, 1, m.MaxLosingStreak)
}

func TestSummarizeTrades_Recovery(t *testing.T) {
	m, _ := SummarizeTrades(trades(10, -4, -6, 12, -1), ScopeLeg)
	assert.Equal(t, -10.0, m.MaxDrawdown)
	assert.Equal(t, 0, m.DrawdownStart)
	assert.Equal(t, 3, m.DrawdownRecovery)
	assert.Equal(t, 4, m.MaxDrawdownTrades)
	assert.Equal(t, 2, m.MaxLosingStreak)
	assert.Equal(t, 2, m.MaxTradesInDD)
}

func TestSummarizeTrades_UnboundedRatios(t *testing.T) {
	m, _ := SummarizeTrades(trades(5, 7), ScopePackage)
	assert.Zero(t, m.MaxDrawdown)
	assert.Zero(t, m.MaxDrawdownTrades)
	assert.Nil(t, m.MaxDrawdownSpan[0])
	assert.True(t, m.ReturnOverMaxDD.Unbounded())
	assert.True(t, m.RewardToRisk.Unbounded())
	assert.True(t, m.Expectancy.Unbounded())
	assert.Equal(t, 2, m.MaxWinStreak)
	assert.Zero(t, m.LossPct)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Nil(t, decoded["return_over_maxdd"])
	assert.Nil(t, decoded["reward_to_risk_ratio"])
	assert.Equal(t, 12.0, decoded["overall_profit"])
}

func TestSummarizeTrades_Empty(t *testing.T) {
	m, curve := SummarizeTrades(nil, ScopeLeg)
	assert.Zero(t, m.NumTrades)
	assert.Empty(t, curve)
}

func TestRatio_MarshalJSON(t *testing.T) {
	data, err := json.Marshal([]Ratio{Ratio(math.Inf(1)), Ratio(math.NaN()), 1.23456})
	require.NoError(t, err)
	assert.JSONEq(t, `[null, null, 1.23]`, string(data))
}

func row(date, leg string, pnl float64) models.TradeRow {
	d, _ := time.Parse(models.DateLayout, date)
	return models.TradeRow{
		Date: date, Index: "NIFTY", LegID: leg, Position: models.Sell, OptionType: models.Call,
		Expiry: "2025-08-07", Strike: 25000, Qty: 75, LotSize: 75,
		EntryTS: d.Add(9*time.Hour + 20*time.Minute), ExitTS: d.Add(15 * time.Hour),
		EntryPrice: 100, ExitPrice: 90, PnL: pnl, PnLAfterCost: pnl, ExitReason: models.ExitTime,
	}
}

func TestTradesByScope(t *testing.T) {
	rows := []models.TradeRow{
		row("2025-08-05", "1", 10),
		row("2025-08-04", "1", -5),
		row("2025-08-04", "2", 8),
	}
	assert.Equal(t, ScopePackage, ScopeFor(models.SquareOffComplete))
	assert.Equal(t, ScopeLeg, ScopeFor(models.SquareOffPartial))

	pkg := Trades(rows, ScopePackage)
	require.Len(t, pkg, 2)
	assert.Equal(t, Trade{Key: "2025-08-04", PnL: 3}, pkg[0])
	assert.Equal(t, Trade{Key: "2025-08-05", PnL: 10}, pkg[1])

	legs := Trades(rows, ScopeLeg)
	require.Len(t, legs, 3)
	assert.Equal(t, "2025-08-04::1", legs[0].Key)
	assert.Equal(t, "2025-08-04::2", legs[1].Key)
	assert.Equal(t, "2025-08-05::1", legs[2].Key)
}

func TestFlush_WritesReportsAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "trades.csv")

	_, err := Flush(path, []models.TradeRow{row("2025-08-04", "1", 10), row("2025-08-04", "2", -5)}, models.SquareOffComplete)
	require.NoError(t, err)
	m, err := Flush(path, []models.TradeRow{row("2025-08-05", "1", 8)}, models.SquareOffComplete)
	require.NoError(t, err)
	assert.Equal(t, 2, m.NumTrades)
	assert.Equal(t, 13.0, m.OverallProfit)

	all, err := ReadDetail(path)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, row("2025-08-04", "1", 10), all[0])

	summary, err := os.ReadFile(Sidecar(path, SummarySuffix))
	require.NoError(t, err)
	assert.Equal(t, "date,day_pnl,cum_pnl\n2025-08-04,5.00,5.00\n2025-08-05,8.00,13.00\nTOTAL,13.00,\n", string(summary))

	equity, err := os.ReadFile(Sidecar(path, EquitySuffix))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(equity)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "1,2025-08-05,8.00,13.00,0.00", lines[2])

	raw, err := os.ReadFile(Sidecar(path, MetricsSuffix))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "package", decoded["scope"])

	m, err = Flush(path, nil, models.SquareOffComplete)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestReadDetail_KeepsSessionZone(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	r := row("2025-08-04", "1", 10)
	r.EntryTS = time.Date(2025, 8, 4, 9, 20, 0, 0, ist)
	r.ExitTS = time.Date(2025, 8, 4, 15, 15, 0, 0, ist)
	path := filepath.Join(t.TempDir(), "trades.csv")
	_, err := Flush(path, []models.TradeRow{r}, models.SquareOffPartial)
	require.NoError(t, err)

	all, err := ReadDetail(path)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, r.EntryTS.Equal(all[0].EntryTS), "entry %v", all[0].EntryTS)
	assert.True(t, r.ExitTS.Equal(all[0].ExitTS), "exit %v", all[0].ExitTS)
	_, off := all[0].EntryTS.Zone()
	assert.Equal(t, 19800, off)
	assert.Equal(t, "09:20", all[0].EntryTS.Format("15:04"))
}

func TestDecodeDetail_LegacyTimestampsReadAsUTC(t *testing.T) {
	rec := row("2025-08-04", "1", 10).CSVRecord()
	rec[12], rec[13] = "2025-08-04 09:20:00", "2025-08-04 15:00:00"
	data := strings.Join(models.CSVHeader, ",") + "\n" + strings.Join(rec, ",") + "\n"

	rows, err := DecodeDetail(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, row("2025-08-04", "1", 10).EntryTS, rows[0].EntryTS)
}

func TestDecodeDetail_Errors(t *testing.T) {
	rows, err := DecodeDetail(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = DecodeDetail(strings.NewReader("date,index\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing column")
}
