// Package app 负责应用级编排：加载配置、组装依赖、启动回测与查询服务。
package app

import (
	"context"
	"fmt"

	"tally/internal/backtest"
	"tally/internal/benchmark"
	"tally/internal/config"
	"tally/internal/logger"
	"tally/internal/marketdata"
)

// App 持有全部已组装的组件。
type App struct {
	cfg *config.Config

	market  *marketdata.Service
	runner  *backtest.Runner
	runs    *backtest.RunStore
	http    *backtest.HTTPServer
	closers []func() error
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 执行一次完整回测。回测结束后若启用了 HTTP 查询接口，
// 进程保持运行直到 ctx 取消，供前端/脚本拉取结果。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	if a.http != nil {
		a.http.Start()
	}

	run, err := a.runner.Run(ctx)
	if err != nil {
		return err
	}

	if a.cfg.Benchmark.Enabled {
		a.runBenchmarks(ctx, run.ID)
	}

	if run.Status == backtest.RunStatusFailed {
		return fmt.Errorf("回测失败: %s", run.Message)
	}
	if a.http != nil {
		logger.Infof("回测完成，查询接口保持运行 (Ctrl-C 退出)")
		<-ctx.Done()
		return a.http.Shutdown(context.Background())
	}
	return nil
}

// runBenchmarks 给每个标的跑一遍指标基准作对照，结果挂在本次 run 下
// 持久化，并通过 /runs/:id/benchmarks 查询。
func (a *App) runBenchmarks(ctx context.Context, runID string) {
	bt := a.cfg.Backtest
	params := benchmark.Params{
		SMAShort:   a.cfg.Benchmark.SMAShort,
		SMALong:    a.cfg.Benchmark.SMALong,
		MACDFast:   a.cfg.Benchmark.MACDFast,
		MACDSlow:   a.cfg.Benchmark.MACDSlow,
		MACDSignal: a.cfg.Benchmark.MACDSignal,
		RSIPeriod:  a.cfg.Benchmark.RSIPeriod,
	}
	for _, ticker := range bt.NormalizedTickers() {
		series, err := a.market.GetSeries(ctx, ticker, bt.StartDate, bt.EndDate)
		if err != nil {
			logger.Warnf("[benchmark] %s 行情不可用: %v", ticker, err)
			continue
		}
		results, err := benchmark.Evaluate(series, bt.StartDate, bt.EndDate, bt.InitialCapital, params)
		if err != nil {
			logger.Warnf("[benchmark] %s 计算失败: %v", ticker, err)
			continue
		}
		for _, r := range results {
			logger.Infof("[benchmark] %s %-12s 终值 %.2f (%+.2f%%), %d 笔, sharpe=%.2f, mdd=%.2f%%",
				ticker, r.Strategy, r.FinalValue, r.ReturnPct, r.Trades, r.Sharpe, r.MaxDrawdown)
			if a.runs == nil {
				continue
			}
			row := backtest.BenchmarkResult{
				RunID:       runID,
				Ticker:      ticker,
				Strategy:    r.Strategy,
				FinalValue:  r.FinalValue,
				ReturnPct:   r.ReturnPct,
				Trades:      r.Trades,
				Sharpe:      r.Sharpe,
				MaxDrawdown: r.MaxDrawdown,
			}
			if err := a.runs.InsertBenchmark(ctx, row); err != nil {
				logger.Warnf("[benchmark] %s %s 结果写入失败: %v", ticker, r.Strategy, err)
			}
		}
	}
}

// Close 释放全部持久化资源，逆序关闭。
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warnf("关闭资源失败: %v", err)
		}
	}
	a.closers = nil
}
