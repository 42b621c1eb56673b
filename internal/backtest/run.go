// Package backtest 驱动信号回测主循环：逐个交易日解析信号、以 T+1 收盘价
// 全仓进出，并把账务与运行统计持久化。
package backtest

import (
	"encoding/json"
	"time"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunConfig 记录本次回测的参数快照，便于重放。
type RunConfig struct {
	Tickers        []string `json:"tickers"`
	StartDate      string   `json:"start_date"`
	EndDate        string   `json:"end_date"`
	InitialCapital float64  `json:"initial_capital"`
	MarketSource   string   `json:"market_source"`
	Analysts       []string `json:"analysts,omitempty"`
	ShallowThinker string   `json:"shallow_thinker,omitempty"`
	DeepThinker    string   `json:"deep_thinker,omitempty"`
	MaxConcurrent  int      `json:"max_concurrent"`
	Notes          string   `json:"notes,omitempty"`
}

// TickerStats 汇总单个标的的回测结果。
type TickerStats struct {
	Ticker        string  `json:"ticker"`
	Days          int     `json:"days"`    // 本次新处理的分析日
	Skipped       int     `json:"skipped"` // 续跑时跳过的已记账日
	Trades        int     `json:"trades"`  // 实际发生买卖的天数
	CacheHits     int     `json:"cache_hits"`
	Generated     int     `json:"generated"`
	Fallbacks     int     `json:"fallbacks"` // 生成失败降级 HOLD
	PersistErrors int     `json:"persist_errors"`
	FinalValue    float64 `json:"final_value"`
	ReturnPct     float64 `json:"return_pct"`
	Error         string  `json:"error,omitempty"`
}

// RunStats 是整次运行的汇总。
type RunStats struct {
	Tickers    []TickerStats `json:"tickers"`
	Days       int           `json:"days"`
	Trades     int           `json:"trades"`
	CacheHits  int           `json:"cache_hits"`
	Generated  int           `json:"generated"`
	Fallbacks  int           `json:"fallbacks"`
	Failed     int           `json:"failed_tickers"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Run 表示一次回测任务。
type Run struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Config      RunConfig `json:"config"`
	Stats       RunStats  `json:"stats"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// EquityPoint 保存某标的在某分析日的资金曲线点。
type EquityPoint struct {
	ID     int64   `json:"id"`
	RunID  string  `json:"run_id"`
	Ticker string  `json:"ticker"`
	Date   string  `json:"date"`
	Equity float64 `json:"equity"`
	Cash   float64 `json:"cash"`
	Shares int64   `json:"shares"`
}

// BenchmarkResult 保存某 run 某标的在一种基准策略下的表现，
// 与 AI 信号的回测结果对照。
type BenchmarkResult struct {
	ID          int64   `json:"id"`
	RunID       string  `json:"run_id"`
	Ticker      string  `json:"ticker"`
	Strategy    string  `json:"strategy"`
	FinalValue  float64 `json:"final_value"`
	ReturnPct   float64 `json:"return_pct"`
	Trades      int     `json:"trades"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
}

// MarshalConfig 返回 config JSON。
func (r Run) MarshalConfig() ([]byte, error) {
	return json.Marshal(r.Config)
}

// MarshalStats 返回 stats JSON。
func (r Run) MarshalStats() ([]byte, error) {
	return json.Marshal(r.Stats)
}
