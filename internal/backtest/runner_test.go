package backtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tally/internal/artifact"
	"tally/internal/decisionlog"
	"tally/internal/ledger"
	"tally/internal/marketdata"
	"tally/internal/signal"
)

type fakeMarket struct {
	bars map[string][]marketdata.Bar
}

func (f *fakeMarket) GetSeries(_ context.Context, ticker, _, _ string) (*marketdata.Series, error) {
	bars, ok := f.bars[ticker]
	if !ok {
		return nil, marketdata.ErrDataUnavailable
	}
	return marketdata.NewSeries(ticker, bars), nil
}

type fakeGenerator struct {
	calls   int
	signals map[string]signal.Signal // date -> 信号，缺省 HOLD
	fail    bool
}

func (f *fakeGenerator) GenerateReport(_ context.Context, ticker, date, _ string) (string, error) {
	f.calls++
	if f.fail {
		return "", fmt.Errorf("status=500: upstream down")
	}
	sig, ok := f.signals[date]
	if !ok {
		sig = signal.Hold
	}
	return fmt.Sprintf("# %s @ %s\n\nFINAL TRANSACTION PROPOSAL: **%s**\n", ticker, date, sig), nil
}

func weekBars() []marketdata.Bar {
	return []marketdata.Bar{
		{Date: "2025-03-03", Close: 100},
		{Date: "2025-03-04", Close: 110},
		{Date: "2025-03-05", Close: 105},
		{Date: "2025-03-06", Close: 120},
		{Date: "2025-03-07", Close: 125},
	}
}

type fixture struct {
	runner    *Runner
	generator *fakeGenerator
	ledgers   *ledger.CSVStore
	artifacts artifact.Cache
}

func newFixture(t *testing.T, ledgerRoot, artifactRoot string, gen *fakeGenerator) fixture {
	t.Helper()
	market := &fakeMarket{bars: map[string][]marketdata.Bar{"AMZN": weekBars()}}
	ledgers, err := ledger.NewCSVStore(ledgerRoot, decimal.NewFromInt(1000))
	require.NoError(t, err)
	artifacts, err := artifact.NewFSCache(artifactRoot)
	require.NoError(t, err)

	cfg := RunConfig{
		Tickers:        []string{"AMZN"},
		StartDate:      "2025-03-03",
		EndDate:        "2025-03-07",
		InitialCapital: 1000,
	}
	runner := NewRunner(cfg, market, artifacts, gen, ledgers)
	return fixture{runner: runner, generator: gen, ledgers: ledgers, artifacts: artifacts}
}

func TestRunnerProcessesDaysWithNextBar(t *testing.T) {
	gen := &fakeGenerator{signals: map[string]signal.Signal{
		"2025-03-03": signal.Buy,
		"2025-03-06": signal.Sell,
	}}
	fx := newFixture(t, t.TempDir(), t.TempDir(), gen)

	run, err := fx.runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, RunStatusDone, run.Status)

	// 03-07 是序列末端，没有 T+1，只处理前 4 天。
	ts := run.Stats.Tickers[0]
	assert.Equal(t, 4, ts.Days)
	assert.Equal(t, 2, ts.Trades)
	assert.Equal(t, 4, ts.Generated)
	assert.Zero(t, ts.CacheHits)

	recs := fx.ledgers.Records("AMZN")
	require.Len(t, recs, 4)
	// 03-03 的 BUY 以 03-04 收盘 110 成交：9 股，余 10。
	assert.Equal(t, signal.Buy, recs[0].Action)
	assert.Equal(t, int64(9), recs[0].SharesDelta)
	assert.Equal(t, "10", recs[0].CashAfter.String())
	// 03-06 的 SELL 以 03-07 收盘 125 清仓。
	assert.Equal(t, signal.Sell, recs[3].Action)
	assert.Equal(t, int64(0), recs[3].SharesAfter)
	assert.Equal(t, "1135", recs[3].CashAfter.String())
	assert.Equal(t, "13.5", recs[3].CumulativeReturnPct.String())
}

func TestRunnerResumeSkipsRecordedDays(t *testing.T) {
	ledgerRoot, artifactRoot := t.TempDir(), t.TempDir()

	gen := &fakeGenerator{signals: map[string]signal.Signal{"2025-03-03": signal.Buy}}
	fx := newFixture(t, ledgerRoot, artifactRoot, gen)
	_, err := fx.runner.Run(context.Background())
	require.NoError(t, err)
	firstCalls := gen.calls
	require.Equal(t, 4, firstCalls)

	// 同一账本重跑：所有已记账日直接跳过，不再解析信号。
	gen2 := &fakeGenerator{}
	fx2 := newFixture(t, ledgerRoot, artifactRoot, gen2)
	run, err := fx2.runner.Run(context.Background())
	require.NoError(t, err)

	ts := run.Stats.Tickers[0]
	assert.Equal(t, 4, ts.Skipped)
	assert.Zero(t, ts.Days)
	assert.Zero(t, gen2.calls)
	assert.Len(t, fx2.ledgers.Records("AMZN"), 4, "续跑不产生重复记录")
}

func TestRunnerEarlierStartDateKeepsLedgerMonotonic(t *testing.T) {
	ledgerRoot, artifactRoot := t.TempDir(), t.TempDir()

	// 首跑从 03-04 开始，账本尾记录落在 03-06。
	gen := &fakeGenerator{signals: map[string]signal.Signal{"2025-03-04": signal.Buy}}
	fx := newFixture(t, ledgerRoot, artifactRoot, gen)
	fx.runner.cfg.StartDate = "2025-03-04"
	_, err := fx.runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, fx.ledgers.Records("AMZN"), 3)

	// 续跑把 start_date 提前到 03-03：缺口日不回填，不能追加到尾记录之后。
	gen2 := &fakeGenerator{}
	fx2 := newFixture(t, ledgerRoot, artifactRoot, gen2)
	run, err := fx2.runner.Run(context.Background())
	require.NoError(t, err)

	ts := run.Stats.Tickers[0]
	assert.Equal(t, 4, ts.Skipped, "已记账 3 天 + 回填拒绝 1 天")
	assert.Zero(t, ts.Days)
	assert.Zero(t, gen2.calls, "被拒绝的缺口日不触发信号解析")

	recs := fx2.ledgers.Records("AMZN")
	require.Len(t, recs, 3)
	assert.Equal(t, "2025-03-04", recs[0].Date)
	for i := 1; i < len(recs); i++ {
		assert.LessOrEqual(t, recs[i-1].Date, recs[i].Date, "记录日期保持单调不减")
	}
}

func TestRunnerUsesArtifactCache(t *testing.T) {
	gen := &fakeGenerator{}
	fx := newFixture(t, t.TempDir(), t.TempDir(), gen)

	// 预置 03-03 的报告，该日不应触发生成。
	require.NoError(t, fx.artifacts.Put(
		artifact.Key{Ticker: "AMZN", Date: "2025-03-03"},
		"FINAL TRANSACTION PROPOSAL: **BUY**\n"))

	run, err := fx.runner.Run(context.Background())
	require.NoError(t, err)

	ts := run.Stats.Tickers[0]
	assert.Equal(t, 1, ts.CacheHits)
	assert.Equal(t, 3, ts.Generated)
	assert.Equal(t, 3, gen.calls)

	recs := fx.ledgers.Records("AMZN")
	assert.Equal(t, signal.Buy, recs[0].Action, "缓存信号正常参与执行")
}

func TestRunnerUnparsableCachedReportRegenerates(t *testing.T) {
	gen := &fakeGenerator{signals: map[string]signal.Signal{"2025-03-03": signal.Sell}}
	fx := newFixture(t, t.TempDir(), t.TempDir(), gen)

	require.NoError(t, fx.artifacts.Put(
		artifact.Key{Ticker: "AMZN", Date: "2025-03-03"},
		"an empty note without any conclusion"))

	run, err := fx.runner.Run(context.Background())
	require.NoError(t, err)

	ts := run.Stats.Tickers[0]
	assert.Zero(t, ts.CacheHits, "无法解析的缓存按未命中处理")
	assert.Equal(t, 4, ts.Generated)

	// 重新生成的报告覆盖了坏缓存。
	content, err := fx.artifacts.Get(artifact.Key{Ticker: "AMZN", Date: "2025-03-03"})
	require.NoError(t, err)
	sig, err := signal.ParseReport(content)
	require.NoError(t, err)
	assert.Equal(t, signal.Sell, sig)
}

func TestRunnerGeneratorFailureFallsBackToHold(t *testing.T) {
	gen := &fakeGenerator{fail: true}
	fx := newFixture(t, t.TempDir(), t.TempDir(), gen)

	run, err := fx.runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, RunStatusDone, run.Status, "生成失败不终止回测")

	ts := run.Stats.Tickers[0]
	assert.Equal(t, 4, ts.Days)
	assert.Equal(t, 4, ts.Fallbacks)
	assert.Zero(t, ts.Trades)

	for _, rec := range fx.ledgers.Records("AMZN") {
		assert.Equal(t, signal.Hold, rec.Action)
		assert.Equal(t, "1000", rec.CashAfter.String())
	}
}

func TestRunnerMarketFailureMarksTicker(t *testing.T) {
	gen := &fakeGenerator{}
	fx := newFixture(t, t.TempDir(), t.TempDir(), gen)
	fx.runner.market = &fakeMarket{bars: map[string][]marketdata.Bar{}}

	run, err := fx.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, run.Status, "唯一标的失败时整次运行失败")
	assert.NotEmpty(t, run.Stats.Tickers[0].Error)
}

func TestRunnerRecordsDecisionsAndEquity(t *testing.T) {
	gen := &fakeGenerator{signals: map[string]signal.Signal{"2025-03-03": signal.Buy}}
	fx := newFixture(t, t.TempDir(), t.TempDir(), gen)

	decisions, err := decisionlog.NewStore(t.TempDir() + "/decisions.db")
	require.NoError(t, err)
	defer decisions.Close()
	runs, err := NewRunStore(t.TempDir())
	require.NoError(t, err)
	defer runs.Close()
	fx.runner.WithDecisionLog(decisions).WithRunStore(runs)

	ctx := context.Background()
	run, err := fx.runner.Run(ctx)
	require.NoError(t, err)

	entries, err := decisions.ByRun(run.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	assert.Equal(t, decisionlog.SourceGenerated, entries[0].Source)

	points, err := runs.Equity(ctx, run.ID, "AMZN")
	require.NoError(t, err)
	require.Len(t, points, 4)
	assert.Equal(t, "2025-03-03", points[0].Date)

	stored, err := runs.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusDone, stored.Status)
	assert.Equal(t, 4, stored.Stats.Days)
}
