package candlecache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"klinesim/internal/market"

	_ "modernc.org/sqlite"
)

// Store is the persistent store contract the cache sits on. Inserts are
// idempotent on (exchange, pair, interval, openTime); queries return candles
// ordered by open time ascending over the half-open range [start, end).
type Store interface {
	QueryCandles(ctx context.Context, exchange string, pair market.Pair, interval market.Interval, start, end time.Time) ([]market.Candle, error)
	QueryOpenTimes(ctx context.Context, exchange string, pair market.Pair, interval market.Interval, start, end time.Time) ([]time.Time, error)
	InsertCandles(ctx context.Context, candles []market.Candle) (int, error)
	Close() error
}

// SQLiteStore keeps one WAL sqlite file per (exchange, pair, interval) under
// a root directory.
type SQLiteStore struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewSQLiteStore(root string) (*SQLiteStore, error) {
	if root == "" {
		return nil, fmt.Errorf("candle store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &SQLiteStore{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *SQLiteStore) db(exchange string, pair market.Pair, interval market.Interval) (*sql.DB, error) {
	if exchange == "" || pair.IsZero() || interval.Duration() == 0 {
		return nil, fmt.Errorf("exchange/pair/interval are required")
	}
	key := strings.ToLower(exchange) + "@" + pair.Symbol() + "@" + interval.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, nil
	}
	path := filepath.Join(s.root, strings.ToLower(exchange), pair.Symbol(), interval.String()+".db")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.dbs[key] = db
	return db, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS candles (
		open_time   INTEGER PRIMARY KEY,
		open        REAL NOT NULL,
		high        REAL NOT NULL,
		low         REAL NOT NULL,
		close       REAL NOT NULL,
		volume      REAL NOT NULL,
		inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
	);`)
	return err
}

// InsertCandles writes candles, skipping rows that already exist. Stored
// candles are never rewritten.
func (s *SQLiteStore) InsertCandles(ctx context.Context, candles []market.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	grouped := make(map[*sql.DB][]market.Candle)
	for _, c := range candles {
		db, err := s.db(c.Exchange, c.Pair, c.Interval)
		if err != nil {
			return 0, err
		}
		grouped[db] = append(grouped[db], c)
	}
	total := 0
	for db, batch := range grouped {
		n, err := insertBatch(ctx, db, batch)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func insertBatch(ctx context.Context, db *sql.DB, candles []market.Candle) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(open_time) DO NOTHING`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, c := range candles {
		res, err := stmt.ExecContext(ctx, c.OpenTime.UnixMilli(), c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if n, err := res.RowsAffected(); err == nil {
			count += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// QueryCandles reads the half-open range [start, end) ordered by open time.
func (s *SQLiteStore) QueryCandles(ctx context.Context, exchange string, pair market.Pair, interval market.Interval, start, end time.Time) ([]market.Candle, error) {
	db, err := s.db(exchange, pair, interval)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT open_time, open, high, low, close, volume
		FROM candles
		WHERE open_time >= ? AND open_time < ?
		ORDER BY open_time ASC`, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []market.Candle
	for rows.Next() {
		var openMillis int64
		c := market.Candle{Exchange: exchange, Pair: pair, Interval: interval}
		if err := rows.Scan(&openMillis, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		c.OpenTime = time.UnixMilli(openMillis).UTC()
		list = append(list, c)
	}
	return list, rows.Err()
}

// QueryOpenTimes returns just the open times present in [start, end).
func (s *SQLiteStore) QueryOpenTimes(ctx context.Context, exchange string, pair market.Pair, interval market.Interval, start, end time.Time) ([]time.Time, error) {
	db, err := s.db(exchange, pair, interval)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT open_time FROM candles
		WHERE open_time >= ? AND open_time < ?
		ORDER BY open_time ASC`, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []time.Time
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, err
		}
		out = append(out, time.UnixMilli(ms).UTC())
	}
	return out, rows.Err()
}
