package reporting

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/optionlegs/internal/models"
)

// legacyTSLayout is the zoneless timestamp format of older detail files,
// read as UTC.
const legacyTSLayout = "2006-01-02 15:04:05"

// Sidecar file suffixes written next to the detail CSV.
const (
	SummarySuffix = ".__summary.csv"
	MetricsSuffix = ".__metrics.json"
	EquitySuffix  = ".__equity.csv"
)

// Sidecar returns the path of a report file derived from the detail CSV path.
func Sidecar(detail, suffix string) string {
	ext := filepath.Ext(detail)
	return strings.TrimSuffix(detail, ext) + suffix
}

// Flush appends rows to the detail CSV at path, then rewrites the daily
// summary, metrics and equity files over everything the detail file holds.
// Nothing is written when rows is empty.
func Flush(path string, rows []models.TradeRow, mode models.SquareOffMode) (*Metrics, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	if err := AppendDetail(path, rows); err != nil {
		return nil, err
	}
	all, err := ReadDetail(path)
	if err != nil {
		return nil, err
	}
	if err := WriteDailySummary(Sidecar(path, SummarySuffix), all); err != nil {
		return nil, err
	}
	m, curve := Summarize(all, ScopeFor(mode))
	if err := WriteMetrics(Sidecar(path, MetricsSuffix), m); err != nil {
		return nil, err
	}
	if err := WriteEquity(Sidecar(path, EquitySuffix), curve); err != nil {
		return nil, err
	}
	return m, nil
}

// AppendDetail appends rows to a detail CSV, writing the header when the
// file is new.
func AppendDetail(path string, rows []models.TradeRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	info, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open detail csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if statErr != nil || info.Size() == 0 {
		if err := w.Write(models.CSVHeader); err != nil {
			return err
		}
	}
	for _, r := range rows {
		if err := w.Write(r.CSVRecord()); err != nil {
			return fmt.Errorf("write detail row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// ReadDetail loads every row of a detail CSV.
func ReadDetail(path string) ([]models.TradeRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open detail csv: %w", err)
	}
	defer f.Close()
	return DecodeDetail(f)
}

// DecodeDetail parses detail CSV content written by AppendDetail.
func DecodeDetail(r io.Reader) ([]models.TradeRow, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, name := range models.CSVHeader {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("detail csv: missing column %q", name)
		}
	}

	var out []models.TradeRow
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row, err := decodeRow(rec, col)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, row)
	}
}

func decodeRow(rec []string, col map[string]int) (models.TradeRow, error) {
	get := func(name string) string { return rec[col[name]] }
	var firstErr error
	num := func(name string) float64 {
		f, err := strconv.ParseFloat(get(name), 64)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", name, err)
		}
		return f
	}
	integer := func(name string) int {
		n, err := strconv.Atoi(get(name))
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", name, err)
		}
		return n
	}
	ts := func(name string) time.Time {
		t, err := parseTimestamp(get(name))
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", name, err)
		}
		return t
	}
	row := models.TradeRow{
		Date:         get("date"),
		Index:        get("index"),
		RunID:        get("run_id"),
		LegID:        get("leg_id"),
		ParentLegID:  get("parent_leg_id"),
		ReEntryGen:   integer("reentry_gen"),
		Position:     models.Position(get("position")),
		OptionType:   models.OptionType(get("option_type")),
		Expiry:       get("expiry"),
		Strike:       num("strike"),
		Qty:          integer("qty"),
		LotSize:      integer("lotsize"),
		EntryTS:      ts("entry_ts"),
		ExitTS:       ts("exit_ts"),
		EntryPrice:   num("entry_price"),
		ExitPrice:    num("exit_price"),
		PnL:          num("pnl"),
		PnLAfterCost: num("pnl_after_cost"),
		ExitReason:   models.ExitReason(get("exit_reason")),
		HitSL:        get("hit:sl") == "true",
		HitTarget:    get("hit:target") == "true",
		HitTrail:     get("hit:trail") == "true",
	}
	return row, firstErr
}

// DailyPnL is one line of the daily summary.
type DailyPnL struct {
	Date   string  `json:"date"`
	DayPnL float64 `json:"day_pnl"`
	CumPnL float64 `json:"cum_pnl"`
}

// Daily sums after-cost PnL per date in date order with a running total.
func Daily(rows []models.TradeRow) []DailyPnL {
	byDate := map[string]decimal.Decimal{}
	for _, r := range rows {
		byDate[r.Date] = byDate[r.Date].Add(decimal.NewFromFloat(r.PnLAfterCost))
	}
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	out := make([]DailyPnL, len(dates))
	cum := decimal.Zero
	for i, d := range dates {
		cum = cum.Add(byDate[d])
		out[i] = DailyPnL{Date: d, DayPnL: byDate[d].Round(2).InexactFloat64(), CumPnL: cum.Round(2).InexactFloat64()}
	}
	return out
}

// WriteDailySummary writes date, day_pnl, cum_pnl with a closing TOTAL row.
func WriteDailySummary(path string, rows []models.TradeRow) error {
	days := Daily(rows)
	records := [][]string{{"date", "day_pnl", "cum_pnl"}}
	total := decimal.Zero
	for _, d := range days {
		total = total.Add(decimal.NewFromFloat(d.DayPnL))
		records = append(records, []string{d.Date, money(d.DayPnL), money(d.CumPnL)})
	}
	records = append(records, []string{"TOTAL", total.StringFixed(2), ""})
	return writeCSV(path, records)
}

// WriteEquity writes the per-trade equity and drawdown curve.
func WriteEquity(path string, curve []EquityPoint) error {
	records := [][]string{{"trade_idx", "trade_key", "trade_pnl", "equity", "drawdown"}}
	for _, p := range curve {
		records = append(records, []string{
			strconv.Itoa(p.Index), p.Key, money(p.PnL), money(p.Equity), money(p.Drawdown),
		})
	}
	return writeCSV(path, records)
}

// WriteMetrics writes metrics as indented JSON.
func WriteMetrics(path string, m *Metrics) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	return writeAtomic(path, data)
}

func money(f float64) string {
	return decimal.NewFromFloat(f).StringFixed(2)
}

func writeCSV(path string, records [][]string) error {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return writeAtomic(path, []byte(b.String()))
}

// writeAtomic writes to a temp file and renames it into place.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(models.TimestampLayout, s)
	if err != nil {
		if legacy, lerr := time.Parse(legacyTSLayout, s); lerr == nil {
			return legacy, nil
		}
		return time.Time{}, err
	}
	if _, off := t.Zone(); off == 0 {
		t = t.UTC()
	}
	return t, nil
}
