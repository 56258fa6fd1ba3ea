package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"CapitalDash/internal/domain/models"
	"CapitalDash/internal/domain/repository"
	"CapitalDash/pkg/util"
)

// SQLiteHistory keeps daily bars in a local SQLite file.
type SQLiteHistory struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteHistory opens (or creates) the database at path. Use ":memory:"
// for a throwaway store.
func NewSQLiteHistory(path string) (*SQLiteHistory, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	return &SQLiteHistory{db: db}, nil
}

var _ repository.HistoryStore = (*SQLiteHistory)(nil)

func (s *SQLiteHistory) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS price_history (
			symbol     TEXT NOT NULL,
			trade_date TEXT NOT NULL,
			open       REAL,
			high       REAL,
			low        REAL,
			close      REAL,
			volume     REAL,
			PRIMARY KEY (symbol, trade_date)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteHistory) Upsert(ctx context.Context, symbol string, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO price_history
		(symbol, trade_date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, trade_date) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, b.Time, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert %s %s: %w", symbol, b.Time, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteHistory) Range(ctx context.Context, symbol string, start, end util.Date) ([]models.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT trade_date, open, high, low, close, volume
		FROM price_history
		WHERE symbol = ? AND trade_date >= ? AND trade_date <= ?
		ORDER BY trade_date`, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("query range: %w", err)
	}
	defer rows.Close()

	var out []models.Bar
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLiteHistory) Coverage(ctx context.Context, symbol string) (util.Date, util.Date, bool, error) {
	var first, last util.Date
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(trade_date), MAX(trade_date) FROM price_history WHERE symbol = ?`, symbol,
	).Scan(&first, &last)
	if err != nil {
		return util.Date{}, util.Date{}, false, fmt.Errorf("coverage: %w", err)
	}
	if first.IsZero() {
		return util.Date{}, util.Date{}, false, nil
	}
	return first, last, true, nil
}

func (s *SQLiteHistory) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteHistory) Close() error {
	return s.db.Close()
}
