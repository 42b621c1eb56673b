package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
backtest:
  tickers: ["amzn", "TSLA", "amzn"]
  start_date: "2025-01-01"
  end_date: "2025-12-31"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"AMZN", "TSLA"}, cfg.Backtest.NormalizedTickers())
	assert.Equal(t, float64(defaultInitialCapital), cfg.Backtest.InitialCapital)
	assert.Equal(t, defaultResultsRoot, cfg.Backtest.ResultsRoot)
	assert.Equal(t, cfg.Backtest.ResultsRoot, cfg.Backtest.ArtifactRoot)
	assert.Equal(t, "yahoo", cfg.Market.Source)
	assert.Equal(t, defaultYahooREST, cfg.Market.RESTBaseURL)
	assert.Equal(t, defaultMarketThrottle, cfg.Market.ThrottleSeconds)
	assert.Equal(t, []string{"market", "social", "news", "fundamentals"}, cfg.AI.NormalizedAnalysts())
	assert.Equal(t, defaultSMAShort, cfg.Benchmark.SMAShort)
	assert.Equal(t, defaultRSIPeriod, cfg.Benchmark.RSIPeriod)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
backtest:
  tickers: ["AAPL"]
  start_date: "2025-01-01"
  end_date: "2025-06-30"
  initial_capital: 50000
market:
  source: yahoo
`)
	main := writeFile(t, dir, "config.yaml", `
include:
  - base.yaml
backtest:
  initial_capital: 200000
`)

	cfg, err := Load(main)
	require.NoError(t, err)

	// 主文件后合并，覆盖 include 中的同名键。
	assert.Equal(t, float64(200000), cfg.Backtest.InitialCapital)
	assert.Equal(t, []string{"AAPL"}, cfg.Backtest.NormalizedTickers())
}

func TestLoadRejectsBadDates(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
backtest:
  tickers: ["AAPL"]
  start_date: "2025-12-31"
  end_date: "2025-01-01"
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "end_date")
}

func TestLoadRejectsUnknownMarketSource(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
backtest:
  tickers: ["AAPL"]
  start_date: "2025-01-01"
  end_date: "2025-06-30"
market:
  source: bloomberg
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "market.source")
}

func TestBinanceSourceGetsBinanceBaseURL(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
backtest:
  tickers: ["BTCUSDT"]
  start_date: "2025-01-01"
  end_date: "2025-06-30"
market:
  source: binance
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, defaultBinanceREST, cfg.Market.RESTBaseURL)
}
