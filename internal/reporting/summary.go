// Package reporting turns trade rows into performance metrics, an equity
// curve and the report files written after a backtest.
package reporting

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/optionlegs/internal/models"
)

// Scope decides what counts as one trade.
type Scope string

const (
	// ScopePackage sums every leg of a session date into one trade.
	ScopePackage Scope = "package"
	// ScopeLeg treats each leg as its own trade.
	ScopeLeg Scope = "leg"
)

// ScopeFor maps a square-off mode to its natural trade scope.
func ScopeFor(mode models.SquareOffMode) Scope {
	if mode == models.SquareOffComplete {
		return ScopePackage
	}
	return ScopeLeg
}

// Ratio is a metric that may be unbounded. Infinite or NaN values encode
// as JSON null.
type Ratio float64

// Unbounded reports whether the ratio had a zero denominator.
func (r Ratio) Unbounded() bool {
	return math.IsInf(float64(r), 0) || math.IsNaN(float64(r))
}

// MarshalJSON implements json.Marshaler.
func (r Ratio) MarshalJSON() ([]byte, error) {
	if r.Unbounded() {
		return []byte("null"), nil
	}
	return json.Marshal(round2(float64(r)))
}

// Trade is one unit of PnL in trade order.
type Trade struct {
	Key string  `json:"trade_key"`
	PnL float64 `json:"trade_pnl"`
}

// EquityPoint is the running equity and drawdown after a trade.
type EquityPoint struct {
	Index    int     `json:"trade_idx"`
	Key      string  `json:"trade_key"`
	PnL      float64 `json:"trade_pnl"`
	Equity   float64 `json:"equity"`
	Drawdown float64 `json:"drawdown"`
}

// Metrics summarizes a series of trades.
type Metrics struct {
	Scope              Scope      `json:"scope"`
	OverallProfit      float64    `json:"overall_profit"`
	NumTrades          int        `json:"num_trades"`
	AvgProfitPerTrade  float64    `json:"avg_profit_per_trade"`
	AvgLossOnLosers    float64    `json:"avg_loss_on_losers"`
	AvgProfitOnWinners float64    `json:"avg_profit_on_winners"`
	MaxProfitTrade     float64    `json:"max_profit_single_trade"`
	MaxLossTrade       float64    `json:"max_loss_single_trade"`
	WinPct             float64    `json:"win_pct"`
	LossPct            float64    `json:"loss_pct"`
	MaxDrawdown        float64    `json:"max_drawdown"`
	MaxDrawdownTrades  int        `json:"duration_of_max_dd_trades"`
	MaxDrawdownSpan    [2]*string `json:"duration_of_max_dd_span"`
	DrawdownStart      int        `json:"max_dd_start_idx"`
	DrawdownRecovery   int        `json:"max_dd_recovery_idx"`
	ReturnOverMaxDD    Ratio      `json:"return_over_maxdd"`
	RewardToRisk       Ratio      `json:"reward_to_risk_ratio"`
	Expectancy         Ratio      `json:"expectancy_ratio"`
	MaxWinStreak       int        `json:"max_win_streak"`
	MaxLosingStreak    int        `json:"max_losing_streak"`
	MaxTradesInDD      int        `json:"max_trades_in_any_drawdown"`
}

func round2(f float64) float64 {
	return decimal.NewFromFloat(f).Round(2).InexactFloat64()
}

func sum(xs []float64) float64 {
	total := decimal.Zero
	for _, x := range xs {
		total = total.Add(decimal.NewFromFloat(x))
	}
	return total.InexactFloat64()
}

// Trades groups rows into trades. Package scope yields one trade per date;
// leg scope one per (date, leg id). Dates are ordered ascending and legs
// keep their row order within a date.
func Trades(rows []models.TradeRow, scope Scope) []Trade {
	sorted := append([]models.TradeRow(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	var out []Trade
	index := map[string]int{}
	for _, r := range sorted {
		key := r.Date
		if scope == ScopeLeg {
			key = r.Date + "::" + r.LegID
			if r.RunID != "" {
				key += "@" + r.RunID
			}
		}
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, Trade{Key: key})
		}
		out[i].PnL = decimal.NewFromFloat(out[i].PnL).Add(decimal.NewFromFloat(r.PnLAfterCost)).InexactFloat64()
	}
	return out
}

// Summarize computes metrics over rows and returns the per-trade equity
// curve alongside them.
func Summarize(rows []models.TradeRow, scope Scope) (*Metrics, []EquityPoint) {
	return SummarizeTrades(Trades(rows, scope), scope)
}

// SummarizeTrades computes metrics over trades already in trade order.
func SummarizeTrades(trades []Trade, scope Scope) (*Metrics, []EquityPoint) {
	m := &Metrics{Scope: scope, NumTrades: len(trades)}
	if len(trades) == 0 {
		return m, nil
	}

	pnls := make([]float64, len(trades))
	var wins, losses []float64
	for i, t := range trades {
		pnls[i] = t.PnL
		switch {
		case t.PnL > 0:
			wins = append(wins, t.PnL)
		case t.PnL < 0:
			losses = append(losses, t.PnL)
		}
	}

	n := float64(len(trades))
	total := sum(pnls)
	avg := total / n
	var avgWin, avgLoss float64
	if len(wins) > 0 {
		avgWin = sum(wins) / float64(len(wins))
	}
	if len(losses) > 0 {
		avgLoss = sum(losses) / float64(len(losses))
	}
	maxP, minP := pnls[0], pnls[0]
	for _, p := range pnls[1:] {
		maxP = math.Max(maxP, p)
		minP = math.Min(minP, p)
	}
	winPct := float64(len(wins)) / n * 100

	curve := equityCurve(trades)
	dd := drawdown(curve)

	m.OverallProfit = round2(total)
	m.AvgProfitPerTrade = round2(avg)
	m.AvgProfitOnWinners = round2(avgWin)
	m.AvgLossOnLosers = round2(avgLoss)
	m.MaxProfitTrade = round2(maxP)
	m.MaxLossTrade = round2(minP)
	m.WinPct = round2(winPct)
	m.LossPct = round2(100 - winPct)
	m.MaxDrawdown = round2(dd.max)
	m.MaxDrawdownTrades = dd.duration
	m.DrawdownStart, m.DrawdownRecovery = dd.start, dd.recovery
	if dd.duration > 0 {
		start, rec := trades[dd.start].Key, trades[dd.recovery].Key
		m.MaxDrawdownSpan = [2]*string{&start, &rec}
	}
	m.ReturnOverMaxDD = ratio(total, math.Abs(dd.max))
	m.RewardToRisk = ratio(math.Abs(avgWin), math.Abs(avgLoss))
	m.Expectancy = ratio(avg, math.Abs(avgLoss))
	m.MaxWinStreak, m.MaxLosingStreak = streaks(pnls)
	m.MaxTradesInDD = longestDrawdown(curve)
	return m, curve
}

func ratio(num, den float64) Ratio {
	if den == 0 {
		return Ratio(math.Inf(1))
	}
	return Ratio(num / den)
}

// equityCurve accumulates PnL and tracks drawdown from the running peak.
// The first trade's equity seeds the peak.
func equityCurve(trades []Trade) []EquityPoint {
	out := make([]EquityPoint, len(trades))
	equity := decimal.Zero
	peak := math.Inf(-1)
	for i, t := range trades {
		equity = equity.Add(decimal.NewFromFloat(t.PnL))
		eq := equity.InexactFloat64()
		peak = math.Max(peak, eq)
		out[i] = EquityPoint{
			Index:    i,
			Key:      t.Key,
			PnL:      t.PnL,
			Equity:   eq,
			Drawdown: equity.Sub(decimal.NewFromFloat(peak)).InexactFloat64(),
		}
	}
	return out
}

type drawdownSpan struct {
	max      float64
	start    int
	trough   int
	recovery int
	duration int
}

// drawdown locates the deepest drawdown. The span starts at the equity
// peak preceding the trough and ends at the first later trade back at zero
// drawdown, or at the last trade when equity never recovers.
func drawdown(curve []EquityPoint) drawdownSpan {
	var s drawdownSpan
	for i, p := range curve {
		if p.Drawdown < s.max {
			s.max, s.trough = p.Drawdown, i
		}
	}
	if s.max == 0 {
		return drawdownSpan{}
	}
	for i := 0; i <= s.trough; i++ {
		if curve[i].Equity > curve[s.start].Equity {
			s.start = i
		}
	}
	s.recovery = len(curve) - 1
	for i := s.trough + 1; i < len(curve); i++ {
		if curve[i].Drawdown == 0 {
			s.recovery = i
			break
		}
	}
	s.duration = s.recovery - s.start + 1
	return s
}

// streaks returns the longest runs of winning and non-winning trades.
func streaks(pnls []float64) (win, loss int) {
	var cw, cl int
	for _, p := range pnls {
		if p > 0 {
			cw++
			cl = 0
			win = max(win, cw)
		} else {
			cl++
			cw = 0
			loss = max(loss, cl)
		}
	}
	return win, loss
}

// longestDrawdown counts the longest consecutive run of trades below peak.
func longestDrawdown(curve []EquityPoint) int {
	var longest, cur int
	for _, p := range curve {
		if p.Drawdown < 0 {
			cur++
			longest = max(longest, cur)
		} else {
			cur = 0
		}
	}
	return longest
}
