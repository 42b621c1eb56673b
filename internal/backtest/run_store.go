package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// RunStore 管理 backtest_runs / backtest_equity / backtest_benchmarks 表。
type RunStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewRunStore(root string) (*RunStore, error) {
	if root == "" {
		return nil, fmt.Errorf("run store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureRunSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &RunStore{db: db, path: path}, nil
}

func (s *RunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureRunSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			message TEXT,
			config_json TEXT NOT NULL,
			stats_json TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_equity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ticker TEXT NOT NULL,
			date TEXT NOT NULL,
			equity REAL NOT NULL,
			cash REAL NOT NULL,
			shares INTEGER NOT NULL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_equity_run ON backtest_equity(run_id, ticker, date);`,
		`CREATE TABLE IF NOT EXISTS backtest_benchmarks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ticker TEXT NOT NULL,
			strategy TEXT NOT NULL,
			final_value REAL NOT NULL,
			return_pct REAL NOT NULL,
			trades INTEGER NOT NULL,
			sharpe REAL NOT NULL,
			max_drawdown REAL NOT NULL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_benchmark_run ON backtest_benchmarks(run_id, ticker, strategy);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertRun 写入一条 run 记录。
func (s *RunStore) InsertRun(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs (id, status, message, config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Status, run.Message, string(cfgJSON), now, now)
	return err
}

// FinishRun 更新运行状态与汇总统计。
func (s *RunStore) FinishRun(ctx context.Context, id, status, message string, stats RunStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		UPDATE backtest_runs
		SET status = ?, message = ?, stats_json = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`,
		status, message, string(statsJSON), now, now, id)
	return err
}

// AppendEquity 追加一条资金曲线点。
func (s *RunStore) AppendEquity(ctx context.Context, p EquityPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_equity (run_id, ticker, date, equity, cash, shares)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.RunID, p.Ticker, p.Date, p.Equity, p.Cash, p.Shares)
	return err
}

// InsertBenchmark 追加一条基准策略对照结果。
func (s *RunStore) InsertBenchmark(ctx context.Context, r BenchmarkResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_benchmarks (run_id, ticker, strategy, final_value, return_pct, trades, sharpe, max_drawdown)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Ticker, r.Strategy, r.FinalValue, r.ReturnPct, r.Trades, r.Sharpe, r.MaxDrawdown)
	return err
}

// Benchmarks 返回某 run 的全部基准对照结果。
func (s *RunStore) Benchmarks(ctx context.Context, runID string) ([]BenchmarkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, ticker, strategy, final_value, return_pct, trades, sharpe, max_drawdown
		FROM backtest_benchmarks WHERE run_id = ? ORDER BY ticker, strategy`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BenchmarkResult
	for rows.Next() {
		var r BenchmarkResult
		if err := rows.Scan(&r.ID, &r.RunID, &r.Ticker, &r.Strategy,
			&r.FinalValue, &r.ReturnPct, &r.Trades, &r.Sharpe, &r.MaxDrawdown); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun 按 ID 读取 run。
func (s *RunStore) GetRun(ctx context.Context, id string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, COALESCE(message, ''), config_json, COALESCE(stats_json, ''),
			created_at, updated_at, COALESCE(completed_at, 0)
		FROM backtest_runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns 按创建时间倒序列出最近 limit 条 run。
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, COALESCE(message, ''), config_json, COALESCE(stats_json, ''),
			created_at, updated_at, COALESCE(completed_at, 0)
		FROM backtest_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Equity 返回某 run 某标的的资金曲线。
func (s *RunStore) Equity(ctx context.Context, runID, ticker string) ([]EquityPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, ticker, date, equity, cash, shares
		FROM backtest_equity WHERE run_id = ? AND ticker = ? ORDER BY date ASC`,
		runID, ticker)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EquityPoint
	for rows.Next() {
		var p EquityPoint
		if err := rows.Scan(&p.ID, &p.RunID, &p.Ticker, &p.Date, &p.Equity, &p.Cash, &p.Shares); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var cfgJSON, statsJSON string
	var createdAt, updatedAt, completedAt int64
	if err := row.Scan(&run.ID, &run.Status, &run.Message, &cfgJSON, &statsJSON,
		&createdAt, &updatedAt, &completedAt); err != nil {
		return Run{}, err
	}
	if err := json.Unmarshal([]byte(cfgJSON), &run.Config); err != nil {
		return Run{}, fmt.Errorf("config_json 解析失败: %w", err)
	}
	if statsJSON != "" {
		if err := json.Unmarshal([]byte(statsJSON), &run.Stats); err != nil {
			return Run{}, fmt.Errorf("stats_json 解析失败: %w", err)
		}
	}
	run.CreatedAt = time.UnixMilli(createdAt)
	run.UpdatedAt = time.UnixMilli(updatedAt)
	if completedAt > 0 {
		run.CompletedAt = time.UnixMilli(completedAt)
	}
	return run, nil
}
