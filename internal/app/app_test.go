package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tally/internal/backtest"
	"tally/internal/config"
	"tally/internal/marketdata"
	"tally/internal/throttle"
)

type staticSource struct {
	bars []marketdata.Bar
}

func (staticSource) Name() string { return "static" }

func (s staticSource) FetchDaily(context.Context, string, time.Time, time.Time) ([]marketdata.Bar, error) {
	return s.bars, nil
}

func TestAppPersistsBenchmarkResults(t *testing.T) {
	cfg := testConfig(t)
	cfg.Benchmark = config.BenchmarkConfig{
		Enabled:  true,
		SMAShort: 2, SMALong: 3,
		MACDFast: 2, MACDSlow: 3, MACDSignal: 2,
		RSIPeriod: 2,
	}
	source := staticSource{bars: []marketdata.Bar{
		{Date: "2025-03-03", Close: 100},
		{Date: "2025-03-04", Close: 110},
		{Date: "2025-03-05", Close: 105},
		{Date: "2025-03-06", Close: 120},
		{Date: "2025-03-07", Close: 125},
	}}
	b := NewAppBuilder(cfg,
		WithMarketService(func(config.MarketConfig) (*marketdata.Service, func() error, error) {
			return marketdata.NewService(source, nil, throttle.New(0)), nil, nil
		}),
		WithGenerator(func(config.AIConfig) (backtest.ReportGenerator, error) {
			return stubGenerator{}, nil
		}),
	)
	app, err := b.Build(context.Background())
	require.NoError(t, err)
	defer app.Close()

	ctx := context.Background()
	require.NoError(t, app.runs.InsertRun(ctx, backtest.Run{
		ID:     "bench-run",
		Status: backtest.RunStatusDone,
		Config: backtest.RunConfig{Tickers: []string{"AMZN"}},
	}))

	app.runBenchmarks(ctx, "bench-run")

	results, err := app.runs.Benchmarks(ctx, "bench-run")
	require.NoError(t, err)
	require.Len(t, results, 4, "每个标的四个基准策略各一行")

	byStrategy := make(map[string]backtest.BenchmarkResult, len(results))
	for _, r := range results {
		assert.Equal(t, "AMZN", r.Ticker)
		byStrategy[r.Strategy] = r
	}
	bh, ok := byStrategy["buy_and_hold"]
	require.True(t, ok)
	// 03-03 买入以 03-04 收盘 110 成交 9 股，期末按 03-07 收盘 125 计。
	assert.Equal(t, 1, bh.Trades)
	assert.InDelta(t, 1135, bh.FinalValue, 0.01)
}
