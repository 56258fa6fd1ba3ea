package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null/v6"

	"CapitalDash/internal/domain/models"
	"CapitalDash/internal/domain/repository"
	"CapitalDash/pkg/util"
)

// ClickHouseHistory keeps daily bars in a ReplacingMergeTree table, so a
// re-inserted (symbol, trade_date) supersedes the older row on merge.
type ClickHouseHistory struct {
	db    *sql.DB
	table string
}

func NewClickHouseHistory(db *sql.DB, table string) *ClickHouseHistory {
	if table == "" {
		table = "price_history"
	}
	return &ClickHouseHistory{db: db, table: table}
}

var _ repository.HistoryStore = (*ClickHouseHistory)(nil)

// Schema returns the statements Init runs; exposed for pkg/clickhouse.InitSchema.
func (s *ClickHouseHistory) Schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			symbol     LowCardinality(String),
			trade_date Date,
			open       Nullable(Float64),
			high       Nullable(Float64),
			low        Nullable(Float64),
			close      Nullable(Float64),
			volume     Nullable(Float64),
			updated_at DateTime64(3)
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY (symbol, trade_date)`, s.table),
	}
}

func (s *ClickHouseHistory) Init(ctx context.Context) error {
	for _, stmt := range s.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Upsert inserts bars with multi-row VALUES in chunks.
func (s *ClickHouseHistory) Upsert(ctx context.Context, symbol string, bars []models.Bar) error {
	const chunkSize = 2000
	now := time.Now().UTC()
	for start := 0; start < len(bars); start += chunkSize {
		end := min(start+chunkSize, len(bars))

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*8)
		for _, b := range bars[start:end] {
			if b.Time.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, symbol, b.Time.Time(),
				b.Open.Ptr(), b.High.Ptr(), b.Low.Ptr(), b.Close.Ptr(), b.Volume.Ptr(), now)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (symbol, trade_date, open, high, low, close, volume, updated_at) VALUES %s",
			s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert %s: %w", symbol, err)
		}
	}
	return nil
}

func (s *ClickHouseHistory) Range(ctx context.Context, symbol string, start, end util.Date) ([]models.Bar, error) {
	q := fmt.Sprintf(`SELECT trade_date, open, high, low, close, volume FROM %s FINAL
		WHERE symbol = ? AND trade_date >= ? AND trade_date <= ? ORDER BY trade_date`, s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, start.Time(), end.Time())
	if err != nil {
		return nil, fmt.Errorf("query range: %w", err)
	}
	defer rows.Close()

	var out []models.Bar
	for rows.Next() {
		var (
			day           time.Time
			o, h, l, c, v *float64
		)
		if err := rows.Scan(&day, &o, &h, &l, &c, &v); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		out = append(out, models.Bar{
			Time:   util.DateOf(day),
			Open:   null.FloatFromPtr(o),
			High:   null.FloatFromPtr(h),
			Low:    null.FloatFromPtr(l),
			Close:  null.FloatFromPtr(c),
			Volume: null.FloatFromPtr(v),
		})
	}
	return out, rows.Err()
}

func (s *ClickHouseHistory) Coverage(ctx context.Context, symbol string) (util.Date, util.Date, bool, error) {
	var (
		first, last time.Time
		n           uint64
	)
	q := fmt.Sprintf("SELECT min(trade_date), max(trade_date), count() FROM %s WHERE symbol = ?", s.table)
	if err := s.db.QueryRowContext(ctx, q, symbol).Scan(&first, &last, &n); err != nil {
		return util.Date{}, util.Date{}, false, fmt.Errorf("coverage: %w", err)
	}
	if n == 0 {
		return util.Date{}, util.Date{}, false, nil
	}
	return util.DateOf(first), util.DateOf(last), true, nil
}

func (s *ClickHouseHistory) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to pkg/clickhouse.Client.
func (s *ClickHouseHistory) Close() error {
	return nil
}
