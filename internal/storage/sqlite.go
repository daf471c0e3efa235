package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eddiefleurent/optionlegs/internal/models"
)

const queryTimeout = 10 * time.Second

// SQLiteStorage persists trade rows in a SQLite database.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (creating if needed) the database at path and
// applies the schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS trades (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  date TEXT NOT NULL,
  idx TEXT NOT NULL,
  leg_id TEXT NOT NULL,
  parent_leg_id TEXT NOT NULL DEFAULT '',
  reentry_gen INTEGER NOT NULL DEFAULT 0,
  position TEXT NOT NULL,
  option_type TEXT NOT NULL,
  expiry TEXT NOT NULL DEFAULT '',
  strike REAL NOT NULL,
  qty INTEGER NOT NULL,
  lotsize INTEGER NOT NULL,
  entry_ts TEXT NOT NULL,
  exit_ts TEXT NOT NULL,
  entry_price REAL NOT NULL,
  exit_price REAL NOT NULL,
  pnl REAL NOT NULL,
  pnl_after_cost REAL NOT NULL,
  exit_reason TEXT NOT NULL,
  hit_sl INTEGER NOT NULL,
  hit_target INTEGER NOT NULL,
  hit_trail INTEGER NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_date ON trades(date);`,
		`CREATE TABLE IF NOT EXISTS sessions (date TEXT PRIMARY KEY);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// AppendTrades implements Interface. All rows are inserted in one transaction.
func (s *SQLiteStorage) AppendTrades(rows []models.TradeRow) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO trades (run_id, date, idx, leg_id, parent_leg_id, reentry_gen, position, option_type,
  expiry, strike, qty, lotsize, entry_ts, exit_ts, entry_price, exit_price, pnl, pnl_after_cost,
  exit_reason, hit_sl, hit_target, hit_trail)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.ExecContext(ctx,
			r.RunID, r.Date, r.Index, r.LegID, r.ParentLegID, r.ReEntryGen, string(r.Position), string(r.OptionType),
			r.Expiry, r.Strike, r.Qty, r.LotSize, r.EntryTS.Format(time.RFC3339Nano), r.ExitTS.Format(time.RFC3339Nano),
			r.EntryPrice, r.ExitPrice, r.PnL, r.PnLAfterCost, string(r.ExitReason),
			boolInt(r.HitSL), boolInt(r.HitTarget), boolInt(r.HitTrail))
		if err != nil {
			return fmt.Errorf("insert trade %s/%s: %w", r.Date, r.LegID, err)
		}
	}
	return tx.Commit()
}

// MarkSession implements Interface.
func (s *SQLiteStorage) MarkSession(date string) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO sessions (date) VALUES (?)`, date); err != nil {
		return fmt.Errorf("mark session %s: %w", date, err)
	}
	return nil
}

// HasSession implements Interface. Query errors read as absent.
func (s *SQLiteStorage) HasSession(date string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(1) FROM trades WHERE date=?) + (SELECT COUNT(1) FROM sessions WHERE date=?)`,
		date, date).Scan(&n)
	if err != nil {
		return false
	}
	return n > 0
}

const selectTrades = `
SELECT run_id, date, idx, leg_id, parent_leg_id, reentry_gen, position, option_type, expiry, strike,
  qty, lotsize, entry_ts, exit_ts, entry_price, exit_price, pnl, pnl_after_cost, exit_reason,
  hit_sl, hit_target, hit_trail
FROM trades`

func (s *SQLiteStorage) query(where string, args ...any) ([]models.TradeRow, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, selectTrades+where+` ORDER BY date, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TradeRow
	for rows.Next() {
		var (
			r                       models.TradeRow
			pos, ot, reason         string
			entryTS, exitTS         string
			hitSL, hitTgt, hitTrail int
		)
		if err := rows.Scan(&r.RunID, &r.Date, &r.Index, &r.LegID, &r.ParentLegID, &r.ReEntryGen, &pos, &ot,
			&r.Expiry, &r.Strike, &r.Qty, &r.LotSize, &entryTS, &exitTS, &r.EntryPrice, &r.ExitPrice,
			&r.PnL, &r.PnLAfterCost, &reason, &hitSL, &hitTgt, &hitTrail); err != nil {
			return nil, err
		}
		r.Position, r.OptionType, r.ExitReason = models.Position(pos), models.OptionType(ot), models.ExitReason(reason)
		if r.EntryTS, err = time.Parse(time.RFC3339Nano, entryTS); err != nil {
			return nil, fmt.Errorf("entry_ts: %w", err)
		}
		if r.ExitTS, err = time.Parse(time.RFC3339Nano, exitTS); err != nil {
			return nil, fmt.Errorf("exit_ts: %w", err)
		}
		r.HitSL, r.HitTarget, r.HitTrail = hitSL != 0, hitTgt != 0, hitTrail != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetHistory implements Interface. A query failure yields an empty history.
func (s *SQLiteStorage) GetHistory() []models.TradeRow {
	rows, err := s.query("")
	if err != nil {
		return nil
	}
	return rows
}

// GetTrades implements Interface.
func (s *SQLiteStorage) GetTrades(date string) ([]models.TradeRow, error) {
	rows, err := s.query(` WHERE date=?`, date)
	if err != nil {
		return nil, fmt.Errorf("query trades for %s: %w", date, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", date, ErrNoTrades)
	}
	return rows, nil
}

// GetStatistics folds the stored history in date order.
func (s *SQLiteStorage) GetStatistics() *Statistics {
	stats := &Statistics{}
	for _, r := range s.GetHistory() {
		stats.add(r.PnLAfterCost)
	}
	return stats
}

// GetDailyPnL implements Interface.
func (s *SQLiteStorage) GetDailyPnL(date string) float64 {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	var v sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(pnl_after_cost) FROM trades WHERE date=?`, date).Scan(&v); err != nil || !v.Valid {
		return 0
	}
	return addMoney(v.Float64, 0)
}

// Close implements Interface.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
