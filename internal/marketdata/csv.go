package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/optionlegs/internal/models"
)

// File names inside a session directory.
const (
	OptionsFile = "options.csv"
	SpotFile    = "spot.csv"
	FuturesFile = "futures.csv"
)

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// CSVProvider reads sessions laid out as <root>/<YYYY-MM-DD>/{options,spot,futures}.csv.
//
// options.csv columns: timestamp, option_type, strike, close (or mark) and
// optionally expiry and delta. spot.csv and futures.csv: timestamp, close (or price).
type CSVProvider struct {
	root   string
	loc    *time.Location
	logger logrus.FieldLogger
}

// NewCSVProvider creates a provider rooted at dir. Timestamps without an
// offset are read in loc (UTC when nil).
func NewCSVProvider(dir string, loc *time.Location, logger logrus.FieldLogger) *CSVProvider {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &CSVProvider{root: dir, loc: loc, logger: logger}
}

func (p *CSVProvider) path(date time.Time, name string) string {
	return filepath.Join(p.root, dateKey(date), name)
}

// Snapshots groups options.csv rows by timestamp.
func (p *CSVProvider) Snapshots(ctx context.Context, date time.Time) ([]models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, cols, err := p.read(p.path(date, OptionsFile))
	if err != nil {
		return nil, err
	}
	tsCol, ok := column(cols, "timestamp", "datetime", "time")
	if !ok {
		return nil, fmt.Errorf("%s: missing column %q", OptionsFile, "timestamp")
	}
	typeCol, ok := column(cols, "option_type", "optiontype", "type")
	if !ok {
		return nil, fmt.Errorf("%s: missing column %q", OptionsFile, "option_type")
	}
	strikeCol, ok := column(cols, "strike")
	if !ok {
		return nil, fmt.Errorf("%s: missing column %q", OptionsFile, "strike")
	}
	markCol, ok := column(cols, "close", "mark", "ltp", "price")
	if !ok {
		return nil, fmt.Errorf("%s: missing price column", OptionsFile)
	}
	expCol, hasExp := column(cols, "expiry", "expiration")
	deltaCol, hasDelta := column(cols, "delta")

	byTS := make(map[time.Time]int)
	var snaps []models.Snapshot
	skipped := 0
	for line, rec := range records {
		ts, err := p.parseTime(rec[tsCol])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", OptionsFile, line+1, err)
		}
		ot, ok := models.ParseOptionType(rec[typeCol])
		if !ok {
			skipped++
			continue
		}
		strike, err1 := parseFloat(rec[strikeCol])
		mark, err2 := parseFloat(rec[markCol])
		if err1 != nil || err2 != nil {
			skipped++
			continue
		}
		row := models.ChainRow{Timestamp: ts, OptionType: ot, Strike: strike, Mark: mark}
		if hasExp && strings.TrimSpace(rec[expCol]) != "" {
			if exp, err := p.parseDate(rec[expCol]); err == nil {
				row.Expiry = exp
			}
		}
		if hasDelta {
			if d, err := parseFloat(rec[deltaCol]); err == nil {
				row.Delta = &d
			}
		}
		i, seen := byTS[ts]
		if !seen {
			i = len(snaps)
			byTS[ts] = i
			snaps = append(snaps, models.Snapshot{Timestamp: ts})
		}
		snaps[i].Rows = append(snaps[i].Rows, row)
	}
	if skipped > 0 {
		p.logger.WithFields(logrus.Fields{"date": dateKey(date), "rows": skipped}).Warn("skipped malformed option rows")
	}
	models.SortSnapshots(snaps)
	return snaps, nil
}

// Spot reads spot.csv.
func (p *CSVProvider) Spot(ctx context.Context, date time.Time) (*models.PriceSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.series(p.path(date, SpotFile))
}

// Futures reads futures.csv, returning nil when the file does not exist.
func (p *CSVProvider) Futures(ctx context.Context, date time.Time) (*models.PriceSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := p.series(p.path(date, FuturesFile))
	if errors.Is(err, ErrNoData) {
		return nil, nil
	}
	return s, err
}

func (p *CSVProvider) series(path string) (*models.PriceSeries, error) {
	records, cols, err := p.read(path)
	if err != nil {
		return nil, err
	}
	tsCol, ok := column(cols, "timestamp", "datetime", "time")
	if !ok {
		return nil, fmt.Errorf("%s: missing timestamp column", filepath.Base(path))
	}
	pxCol, ok := column(cols, "close", "price", "ltp")
	if !ok {
		return nil, fmt.Errorf("%s: missing price column", filepath.Base(path))
	}
	type point struct {
		ts time.Time
		px float64
	}
	points := make([]point, 0, len(records))
	for line, rec := range records {
		ts, err := p.parseTime(rec[tsCol])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", filepath.Base(path), line+1, err)
		}
		px, err := parseFloat(rec[pxCol])
		if err != nil {
			continue
		}
		points = append(points, point{ts, px})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].ts.Before(points[j].ts) })
	out := &models.PriceSeries{}
	for _, pt := range points {
		out.Append(pt.ts, pt.px)
	}
	if out.Len() == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

// read loads a CSV file and indexes its header by lower-cased column name.
func (p *CSVProvider) read(path string) ([][]string, map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrNoData
		}
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(all) == 0 {
		return nil, nil, ErrNoData
	}
	cols := make(map[string]int, len(all[0]))
	for i, name := range all[0] {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	body := all[1:]
	width := len(all[0])
	out := body[:0]
	for _, rec := range body {
		if len(rec) == width {
			out = append(out, rec)
		}
	}
	return out, cols, nil
}

func (p *CSVProvider) parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, p.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// parseDate accepts a bare date or a timestamp and keeps only the date.
func (p *CSVProvider) parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(models.DateLayout) {
		s = s[:len(models.DateLayout)]
	}
	return time.ParseInLocation(models.DateLayout, s, p.loc)
}

func column(cols map[string]int, names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := cols[n]; ok {
			return i, true
		}
	}
	return 0, false
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

var _ Provider = (*CSVProvider)(nil)
