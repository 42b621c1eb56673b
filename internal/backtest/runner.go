package backtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"tally/internal/artifact"
	"tally/internal/decisionlog"
	"tally/internal/ledger"
	"tally/internal/logger"
	"tally/internal/marketdata"
	"tally/internal/signal"
)

// ErrNoTradingDays 表示回测区间内该标的没有任何交易日。
var ErrNoTradingDays = errors.New("backtest: 区间内无交易日")

// 提示词里带多少根历史 K 线。
const marketContextBars = 30

// MarketProvider 提供日线序列。
type MarketProvider interface {
	GetSeries(ctx context.Context, ticker, startDate, endDate string) (*marketdata.Series, error)
}

// ReportGenerator 为 (ticker, date) 生成一份决策报告全文。
type ReportGenerator interface {
	GenerateReport(ctx context.Context, ticker, date, marketContext string) (string, error)
}

// DecisionSink 记录每次信号解析的来源与结果。实现可为空。
type DecisionSink interface {
	Record(runID, ticker, date, sig, source, errMsg string, detail any) error
}

// Notifier 在一次运行结束后推送摘要。实现可为空。
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// tickerLocks 防止同一标的被并发回测：账本文件不允许两个写者。
var tickerLocks sync.Map

func lockTicker(ticker string) func() {
	v, _ := tickerLocks.LoadOrStore(ticker, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Runner 把行情、信号来源与账本串成完整的回测循环。
type Runner struct {
	cfg       RunConfig
	market    MarketProvider
	artifacts artifact.Cache
	generator ReportGenerator
	ledgers   ledger.Store
	decisions DecisionSink // 可为 nil
	runs      *RunStore    // 可为 nil
	notifier  Notifier     // 可为 nil
}

func NewRunner(cfg RunConfig, market MarketProvider, artifacts artifact.Cache,
	generator ReportGenerator, ledgers ledger.Store) *Runner {
	return &Runner{
		cfg:       cfg,
		market:    market,
		artifacts: artifacts,
		generator: generator,
		ledgers:   ledgers,
	}
}

// WithDecisionLog 挂接决策日志。
func (r *Runner) WithDecisionLog(sink DecisionSink) *Runner {
	r.decisions = sink
	return r
}

// WithRunStore 挂接运行存储。
func (r *Runner) WithRunStore(store *RunStore) *Runner {
	r.runs = store
	return r
}

// WithNotifier 挂接运行结束通知。
func (r *Runner) WithNotifier(n Notifier) *Runner {
	r.notifier = n
	return r
}

// Run 执行一次完整回测。单个标的失败不拖垮整次运行，
// 只有全部标的失败时才把 run 标记为 failed。
func (r *Runner) Run(ctx context.Context) (Run, error) {
	run := Run{
		ID:        uuid.NewString(),
		Status:    RunStatusRunning,
		Config:    r.cfg,
		CreatedAt: time.Now(),
	}
	if r.runs != nil {
		if err := r.runs.InsertRun(ctx, run); err != nil {
			logger.Warnf("[backtest] run 记录写入失败: %v", err)
		}
	}
	logger.Infof("[backtest] run %s 开始: %v %s ~ %s, 初始资金 %.2f",
		run.ID, r.cfg.Tickers, r.cfg.StartDate, r.cfg.EndDate, r.cfg.InitialCapital)

	limit := r.cfg.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	results := make([]TickerStats, len(r.cfg.Tickers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, ticker := range r.cfg.Tickers {
		i, ticker := i, ticker
		g.Go(func() error {
			stats, err := r.runTicker(gctx, run.ID, ticker)
			if err != nil {
				// 单标的失败记录在案，不中断其它标的。
				stats.Ticker = ticker
				stats.Error = err.Error()
				logger.Errorf("[backtest] %s 回测失败: %v", ticker, err)
			}
			results[i] = stats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// g.Go 从不返回错误，这里只可能是 ctx 取消。
		return run, err
	}

	run.Stats = aggregate(results)
	run.Status = RunStatusDone
	if run.Stats.Failed == len(r.cfg.Tickers) && len(r.cfg.Tickers) > 0 {
		run.Status = RunStatusFailed
		run.Message = "所有标的均失败"
	}
	run.CompletedAt = time.Now()

	if r.runs != nil {
		if err := r.runs.FinishRun(ctx, run.ID, run.Status, run.Message, run.Stats); err != nil {
			logger.Warnf("[backtest] run 统计写入失败: %v", err)
		}
	}
	r.notifySummary(ctx, run)
	logger.Infof("[backtest] run %s 结束: %d 天, %d 笔交易, 缓存命中 %d, 生成 %d, 降级 %d",
		run.ID, run.Stats.Days, run.Stats.Trades,
		run.Stats.CacheHits, run.Stats.Generated, run.Stats.Fallbacks)
	return run, nil
}

func (r *Runner) runTicker(ctx context.Context, runID, ticker string) (TickerStats, error) {
	unlock := lockTicker(ticker)
	defer unlock()

	stats := TickerStats{Ticker: ticker}

	series, err := r.market.GetSeries(ctx, ticker, r.cfg.StartDate, r.cfg.EndDate)
	if err != nil {
		return stats, err
	}
	dates := series.DatesBetween(r.cfg.StartDate, r.cfg.EndDate)
	if len(dates) == 0 {
		return stats, fmt.Errorf("%w: %s", ErrNoTradingDays, ticker)
	}

	state, records, err := r.ledgers.Load(ticker)
	if err != nil {
		return stats, err
	}
	done := make(map[string]struct{}, len(records))
	for _, rec := range records {
		done[rec.Date] = struct{}{}
	}

	lastValue := state.Cash.InexactFloat64()
	var tailDate string
	if len(records) > 0 {
		lastValue = records[len(records)-1].TotalValue.InexactFloat64()
		tailDate = records[len(records)-1].Date
	}
	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if _, ok := done[date]; ok {
			stats.Skipped++
			continue
		}
		if tailDate != "" && date <= tailDate {
			// 账本日期只增不减：start_date 提前到尾记录之前时，
			// 中间的缺口日不能回填，否则记录失去单调性。
			logger.Warnf("[backtest] %s %s 早于账本尾记录 %s，跳过不回填", ticker, date, tailDate)
			stats.Skipped++
			continue
		}
		nextBar, ok := series.NextBar(date)
		if !ok {
			// 序列末端没有 T+1 收盘价，后续日期同样无法执行。
			logger.Infof("[backtest] %s %s 之后无 T+1 行情，提前收尾", ticker, date)
			break
		}

		sig, source, resolveErr, detail := r.resolveSignal(ctx, series, ticker, date)
		switch source {
		case decisionlog.SourceCache:
			stats.CacheHits++
		case decisionlog.SourceGenerated:
			stats.Generated++
		case decisionlog.SourceFallback:
			stats.Fallbacks++
		}

		price := decimal.NewFromFloat(nextBar.Close)
		newState, rec := ledger.Execute(state, sig, date, price)
		if err := r.ledgers.Append(ticker, rec); err != nil {
			// 账本没落盘就不前移状态，这一天下次续跑时重算。
			stats.PersistErrors++
			logger.Errorf("[backtest] %s %s 账本写入失败，跳过该日: %v", ticker, date, err)
			continue
		}
		state = newState
		stats.Days++
		if rec.Action != signal.Hold {
			stats.Trades++
		}
		lastValue = rec.TotalValue.InexactFloat64()

		r.record(runID, ticker, date, sig, source, resolveErr, detail)
		if r.runs != nil {
			point := EquityPoint{
				RunID:  runID,
				Ticker: ticker,
				Date:   date,
				Equity: lastValue,
				Cash:   rec.CashAfter.InexactFloat64(),
				Shares: rec.SharesAfter,
			}
			if err := r.runs.AppendEquity(ctx, point); err != nil {
				logger.Warnf("[backtest] %s 资金曲线写入失败: %v", ticker, err)
			}
		}
		logger.Debugf("[backtest] %s %s: signal=%s action=%s price=%s total=%s",
			ticker, date, sig, rec.Action, price, rec.TotalValue)
	}

	stats.FinalValue = lastValue
	if r.cfg.InitialCapital > 0 {
		stats.ReturnPct = (lastValue - r.cfg.InitialCapital) / r.cfg.InitialCapital * 100
	}
	return stats, nil
}

// resolveSignal 按优先级解析某分析日的信号：
//  1. 报告缓存命中且可解析
//  2. 调用生成器产出新报告并落缓存
//  3. 生成失败降级 HOLD
//
// 返回的 errMsg 仅在降级路径非空。
func (r *Runner) resolveSignal(ctx context.Context, series *marketdata.Series,
	ticker, date string) (signal.Signal, string, string, any) {
	key := artifact.Key{Ticker: ticker, Date: date}
	if r.artifacts.Has(key) {
		content, err := r.artifacts.Get(key)
		if err == nil {
			if sig, perr := signal.ParseReport(content); perr == nil {
				return sig, decisionlog.SourceCache, "", nil
			}
			logger.Warnf("[backtest] %s %s 缓存报告无法解析，按未命中重新生成", ticker, date)
		} else {
			logger.Warnf("[backtest] %s %s 缓存报告不可读，按未命中重新生成: %v", ticker, date, err)
		}
	}

	report, err := r.generator.GenerateReport(ctx, ticker, date, marketContextFor(series, date))
	if err != nil {
		logger.Warnf("[backtest] %s %s 信号生成失败，降级 HOLD: %v", ticker, date, err)
		return signal.Hold, decisionlog.SourceFallback, err.Error(), nil
	}
	if err := r.artifacts.Put(key, report); err != nil {
		// 报告写不进缓存只影响下次续跑的命中率，不影响本次执行。
		logger.Warnf("[backtest] %s %s 报告缓存写入失败: %v", ticker, date, err)
	}
	sig, perr := signal.ParseReport(report)
	if perr != nil {
		logger.Warnf("[backtest] %s %s 生成的报告无信号，降级 HOLD", ticker, date)
		return signal.Hold, decisionlog.SourceFallback, perr.Error(), nil
	}
	var detail any
	if d, derr := signal.ParseDecision(report); derr == nil {
		detail = d
	}
	return sig, decisionlog.SourceGenerated, "", detail
}

func (r *Runner) record(runID, ticker, date string, sig signal.Signal, source, errMsg string, detail any) {
	if r.decisions == nil {
		return
	}
	if err := r.decisions.Record(runID, ticker, date, string(sig), source, errMsg, detail); err != nil {
		logger.Warnf("[backtest] 决策日志写入失败 (%s %s): %v", ticker, date, err)
	}
}

// marketContextFor 取截至 date（含）的最近若干根 K 线，逐行 CSV 给提示词用。
func marketContextFor(series *marketdata.Series, date string) string {
	i, ok := series.LocateIndex(date)
	if !ok {
		return ""
	}
	start := i - marketContextBars + 1
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	for j := start; j <= i; j++ {
		bar, ok := series.At(j)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s,%.4f,%.4f,%.4f,%.4f,%.0f\n",
			bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	}
	return b.String()
}

func aggregate(results []TickerStats) RunStats {
	stats := RunStats{Tickers: results, FinishedAt: time.Now()}
	for _, ts := range results {
		stats.Days += ts.Days
		stats.Trades += ts.Trades
		stats.CacheHits += ts.CacheHits
		stats.Generated += ts.Generated
		stats.Fallbacks += ts.Fallbacks
		if ts.Error != "" {
			stats.Failed++
		}
	}
	return stats
}

func (r *Runner) notifySummary(ctx context.Context, run Run) {
	if r.notifier == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "回测完成 (%s)\n区间: %s ~ %s\n", run.Status, r.cfg.StartDate, r.cfg.EndDate)
	for _, ts := range run.Stats.Tickers {
		if ts.Error != "" {
			fmt.Fprintf(&b, "%s: 失败 (%s)\n", ts.Ticker, ts.Error)
			continue
		}
		fmt.Fprintf(&b, "%s: 终值 %.2f (%+.2f%%), %d 天 %d 笔\n",
			ts.Ticker, ts.FinalValue, ts.ReturnPct, ts.Days, ts.Trades)
	}
	if err := r.notifier.Notify(ctx, b.String()); err != nil {
		logger.Warnf("[backtest] 运行摘要推送失败: %v", err)
	}
}
