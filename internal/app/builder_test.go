package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tally/internal/backtest"
	"tally/internal/config"
	"tally/internal/marketdata"
	"tally/internal/throttle"
)

type stubGenerator struct{}

func (stubGenerator) GenerateReport(context.Context, string, string, string) (string, error) {
	return "FINAL TRANSACTION PROPOSAL: **HOLD**\n", nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		App: config.AppConfig{LogLevel: "error"},
		Backtest: config.BacktestConfig{
			Tickers:        []string{"amzn"},
			StartDate:      "2025-03-03",
			EndDate:        "2025-03-07",
			InitialCapital: 1000,
			ResultsRoot:    filepath.Join(root, "results"),
			ArtifactRoot:   filepath.Join(root, "artifacts"),
		},
		Market: config.MarketConfig{Source: "yahoo", ThrottleSeconds: 0.01},
		AI: config.AIConfig{
			DecisionLogPath: filepath.Join(root, "decisions.db"),
		},
	}
}

func TestBuilderAssemblesApp(t *testing.T) {
	cfg := testConfig(t)
	b := NewAppBuilder(cfg,
		WithMarketService(func(config.MarketConfig) (*marketdata.Service, func() error, error) {
			return marketdata.NewService(marketdata.NewYahooSource("", 0), nil, throttle.New(0)), nil, nil
		}),
		WithGenerator(func(config.AIConfig) (backtest.ReportGenerator, error) {
			return stubGenerator{}, nil
		}),
	)
	app, err := b.Build(context.Background())
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.runner)
	assert.NotNil(t, app.market)
	assert.Nil(t, app.http, "未配置 http_addr 时不启动查询服务")
}

func TestBuilderEnablesHTTPWhenConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.App.HTTPAddr = "127.0.0.1:0"
	b := NewAppBuilder(cfg,
		WithMarketService(func(config.MarketConfig) (*marketdata.Service, func() error, error) {
			return marketdata.NewService(marketdata.NewYahooSource("", 0), nil, throttle.New(0)), nil, nil
		}),
		WithGenerator(func(config.AIConfig) (backtest.ReportGenerator, error) {
			return stubGenerator{}, nil
		}),
	)
	app, err := b.Build(context.Background())
	require.NoError(t, err)
	defer app.Close()
	assert.NotNil(t, app.http)
}

func TestBuilderNilConfig(t *testing.T) {
	_, err := NewAppBuilder(nil).Build(context.Background())
	assert.Error(t, err)
}
