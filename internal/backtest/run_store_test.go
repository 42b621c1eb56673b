package backtest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tally/internal/ledger"
)

func seedRun(t *testing.T, ctx context.Context, runs *RunStore, id string) {
	t.Helper()
	require.NoError(t, runs.InsertRun(ctx, Run{
		ID:     id,
		Status: RunStatusRunning,
		Config: RunConfig{Tickers: []string{"AMZN"}, StartDate: "2025-03-03", EndDate: "2025-03-07"},
	}))
}

func TestRunStoreBenchmarkRoundTrip(t *testing.T) {
	runs, err := NewRunStore(t.TempDir())
	require.NoError(t, err)
	defer runs.Close()

	ctx := context.Background()
	seedRun(t, ctx, runs, "run-1")

	require.NoError(t, runs.InsertBenchmark(ctx, BenchmarkResult{
		RunID: "run-1", Ticker: "AMZN", Strategy: "sma_cross",
		FinalValue: 1080, ReturnPct: 8, Trades: 3, Sharpe: 1.2, MaxDrawdown: 4.5,
	}))
	require.NoError(t, runs.InsertBenchmark(ctx, BenchmarkResult{
		RunID: "run-1", Ticker: "AMZN", Strategy: "buy_and_hold",
		FinalValue: 1135, ReturnPct: 13.5, Trades: 1, Sharpe: 1.8, MaxDrawdown: 2.1,
	}))

	results, err := runs.Benchmarks(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	// 按 ticker+strategy 排序返回。
	assert.Equal(t, "buy_and_hold", results[0].Strategy)
	assert.Equal(t, 1135.0, results[0].FinalValue)
	assert.Equal(t, "sma_cross", results[1].Strategy)
	assert.Equal(t, 3, results[1].Trades)

	other, err := runs.Benchmarks(ctx, "run-2")
	require.NoError(t, err)
	assert.Empty(t, other, "不同 run 的结果互不串台")
}

func TestHTTPServesRunBenchmarks(t *testing.T) {
	runs, err := NewRunStore(t.TempDir())
	require.NoError(t, err)
	defer runs.Close()
	ledgers, err := ledger.NewCSVStore(t.TempDir(), decimal.NewFromInt(1000))
	require.NoError(t, err)
	defer ledgers.Close()

	ctx := context.Background()
	seedRun(t, ctx, runs, "run-1")
	require.NoError(t, runs.InsertBenchmark(ctx, BenchmarkResult{
		RunID: "run-1", Ticker: "AMZN", Strategy: "macd",
		FinalValue: 990, ReturnPct: -1, Trades: 5, Sharpe: -0.2, MaxDrawdown: 6.3,
	}))

	srv, err := NewHTTPServer(HTTPConfig{Addr: "127.0.0.1:0", Runs: runs, Ledgers: ledgers})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/backtest/runs/run-1/benchmarks", nil)
	srv.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Benchmarks []BenchmarkResult `json:"benchmarks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Benchmarks, 1)
	assert.Equal(t, "macd", body.Benchmarks[0].Strategy)
	assert.Equal(t, 990.0, body.Benchmarks[0].FinalValue)
}
