package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// CandleCache 把日线落到单个 sqlite 文件，续跑时避免重复拉取行情。
type CandleCache struct {
	mu sync.Mutex
	db *sql.DB
}

func NewCandleCache(path string) (*CandleCache, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("candle cache path 不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureCandleSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &CandleCache{db: db}, nil
}

func ensureCandleSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS daily_bars (
		ticker TEXT NOT NULL,
		date TEXT NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		PRIMARY KEY (ticker, date)
	);`)
	return err
}

func (c *CandleCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// Put 批量写入日线（重复 (ticker, date) 覆盖）。
func (c *CandleCache) Put(ctx context.Context, ticker string, bars []Bar) error {
	if len(bars) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_bars (ticker, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker, date) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	ticker = strings.ToUpper(ticker)
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, ticker, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Range 返回 [start, end]（含两端）的缓存日线，按日期升序。
func (c *CandleCache) Range(ctx context.Context, ticker, start, end string) ([]Bar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.QueryContext(ctx, `
		SELECT date, open, high, low, close, volume
		FROM daily_bars
		WHERE ticker = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`, strings.ToUpper(ticker), start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bar
	for rows.Next() {
		var b Bar
		if err := rows.Scan(&b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// MaxDate 返回缓存中该标的最新日期，空缓存返回 ""。
func (c *CandleCache) MaxDate(ctx context.Context, ticker string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var max sql.NullString
	err := c.db.QueryRowContext(ctx,
		`SELECT MAX(date) FROM daily_bars WHERE ticker = ?`,
		strings.ToUpper(ticker)).Scan(&max)
	if err != nil {
		return "", err
	}
	if !max.Valid {
		return "", nil
	}
	return max.String, nil
}
