package tape

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"canarydesk/internal/market"
	"canarydesk/internal/pkg/symbol"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS price_tape (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	ts INTEGER NOT NULL,
	price REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_tape_symbol_ts ON price_tape(symbol, ts);
`

// Tape records observed mid prices and serves them back as candles for
// replay.
type Tape struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens the tape database at path; ":memory:" keeps it in process.
func Open(path string) (*Tape, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("tape path cannot be empty")
	}
	dsn := "file::memory:"
	conns := 1
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
		conns = 2
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("tape schema: %w", err)
	}
	return &Tape{db: db}, nil
}

func (t *Tape) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db == nil {
		return nil
	}
	err := t.db.Close()
	t.db = nil
	return err
}

func (t *Tape) conn() (*sql.DB, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db == nil {
		return nil, errors.New("tape closed")
	}
	return t.db, nil
}

func (t *Tape) Append(ctx context.Context, sym string, ts time.Time, price float64) error {
	if price <= 0 {
		return fmt.Errorf("tape: invalid price %v for %s", price, sym)
	}
	db, err := t.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO price_tape(symbol, ts, price) VALUES(?, ?, ?)`,
		symbol.Normalize(sym), ts.UnixMilli(), price)
	return err
}

// Since returns one close-only candle per recorded point at or after since,
// oldest first.
func (t *Tape) Since(ctx context.Context, sym string, since time.Time) ([]market.Candle, error) {
	db, err := t.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT ts, price FROM price_tape WHERE symbol = ? AND ts >= ? ORDER BY ts ASC, id ASC`,
		symbol.Normalize(sym), since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Candle
	for rows.Next() {
		var (
			ts    int64
			price float64
		)
		if err := rows.Scan(&ts, &price); err != nil {
			return nil, err
		}
		out = append(out, pointCandle(ts, price))
	}
	return out, rows.Err()
}

// FetchHistory buckets the tape into interval candles and returns the
// newest limit of them, oldest first.
func (t *Tape) FetchHistory(ctx context.Context, sym, interval string, limit int) ([]market.Candle, error) {
	step, err := market.ParseInterval(interval)
	if err != nil {
		return nil, fmt.Errorf("tape: %w", err)
	}
	points, err := t.Since(ctx, sym, time.UnixMilli(0))
	if err != nil {
		return nil, err
	}
	candles := bucket(points, step.Milliseconds())
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// Count returns the number of recorded points for sym.
func (t *Tape) Count(ctx context.Context, sym string) (int, error) {
	db, err := t.conn()
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM price_tape WHERE symbol = ?`, symbol.Normalize(sym)).Scan(&n)
	return n, err
}

// Prune deletes points older than before and reports how many went.
func (t *Tape) Prune(ctx context.Context, before time.Time) (int64, error) {
	db, err := t.conn()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM price_tape WHERE ts < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func pointCandle(ts int64, price float64) market.Candle {
	return market.Candle{
		OpenTime:  ts,
		CloseTime: ts,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Trades:    1,
	}
}

func bucket(points []market.Candle, stepMS int64) []market.Candle {
	var out []market.Candle
	for _, p := range points {
		open := p.OpenTime - p.OpenTime%stepMS
		if n := len(out); n > 0 && out[n-1].OpenTime == open {
			c := &out[n-1]
			if p.High > c.High {
				c.High = p.High
			}
			if p.Low < c.Low {
				c.Low = p.Low
			}
			c.Close = p.Close
			c.Trades++
			continue
		}
		c := p
		c.OpenTime = open
		c.CloseTime = open + stepMS - 1
		out = append(out, c)
	}
	return out
}

var _ market.HistorySource = (*Tape)(nil)
