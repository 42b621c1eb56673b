package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/artifact"
	"tally/internal/backtest"
	"tally/internal/config"
	"tally/internal/decisionlog"
	"tally/internal/ledger"
	"tally/internal/logger"
	"tally/internal/marketdata"
	"tally/internal/notifier"
	"tally/internal/signal"
	"tally/internal/throttle"
)

// AppBuilder 把配置逐段翻译成组件。字段均可在测试中替换。
type AppBuilder struct {
	cfg *config.Config

	marketFn    func(config.MarketConfig) (*marketdata.Service, func() error, error)
	generatorFn func(config.AIConfig) (backtest.ReportGenerator, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		marketFn:    buildMarketService,
		generatorFn: nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithMarketService 测试注入行情服务。
func WithMarketService(fn func(config.MarketConfig) (*marketdata.Service, func() error, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.marketFn = fn }
}

// WithGenerator 测试注入信号生成器。
func WithGenerator(fn func(config.AIConfig) (backtest.ReportGenerator, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.generatorFn = fn }
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	app := &App{cfg: cfg}

	market, closeMarket, err := b.marketFn(cfg.Market)
	if err != nil {
		return nil, fmt.Errorf("构建行情服务失败: %w", err)
	}
	app.market = market
	if closeMarket != nil {
		app.closers = append(app.closers, closeMarket)
	}

	var generator backtest.ReportGenerator
	if b.generatorFn != nil {
		generator, err = b.generatorFn(cfg.AI)
	} else {
		generator, err = buildGenerator(cfg.AI)
	}
	if err != nil {
		return nil, fmt.Errorf("构建信号生成器失败: %w", err)
	}

	artifacts, err := artifact.NewFSCache(cfg.Backtest.ArtifactRoot)
	if err != nil {
		return nil, fmt.Errorf("构建报告缓存失败: %w", err)
	}

	ledgers, err := ledger.NewCSVStore(cfg.Backtest.ResultsRoot,
		decimal.NewFromFloat(cfg.Backtest.InitialCapital))
	if err != nil {
		return nil, fmt.Errorf("构建账本失败: %w", err)
	}
	app.closers = append(app.closers, ledgers.Close)

	runCfg := backtest.RunConfig{
		Tickers:        cfg.Backtest.NormalizedTickers(),
		StartDate:      cfg.Backtest.StartDate,
		EndDate:        cfg.Backtest.EndDate,
		InitialCapital: cfg.Backtest.InitialCapital,
		MarketSource:   cfg.Market.Source,
		Analysts:       cfg.AI.NormalizedAnalysts(),
		ShallowThinker: cfg.AI.ShallowThinker,
		DeepThinker:    cfg.AI.DeepThinker,
		MaxConcurrent:  cfg.Backtest.MaxConcurrent,
	}
	runner := backtest.NewRunner(runCfg, market, artifacts, generator, ledgers)

	runs, err := backtest.NewRunStore(cfg.Backtest.ResultsRoot)
	if err != nil {
		return nil, fmt.Errorf("构建 run store 失败: %w", err)
	}
	app.closers = append(app.closers, runs.Close)
	app.runs = runs
	runner.WithRunStore(runs)

	var decisions *decisionlog.Store
	if cfg.AI.DecisionLogPath != "" {
		decisions, err = decisionlog.NewStore(cfg.AI.DecisionLogPath)
		if err != nil {
			return nil, fmt.Errorf("构建决策日志失败: %w", err)
		}
		app.closers = append(app.closers, decisions.Close)
		runner.WithDecisionLog(decisions)
	}

	if tg := cfg.Notify.Telegram; tg.Enabled {
		runner.WithNotifier(notifier.NewTelegram(tg.BotToken, tg.ChatID))
		logger.Infof("✓ Telegram 通知已启用")
	}
	app.runner = runner

	if cfg.App.HTTPAddr != "" {
		httpSrv, err := backtest.NewHTTPServer(backtest.HTTPConfig{
			Addr:      cfg.App.HTTPAddr,
			Runs:      runs,
			Ledgers:   ledgers,
			Decisions: decisions,
		})
		if err != nil {
			return nil, fmt.Errorf("构建 HTTP 服务失败: %w", err)
		}
		app.http = httpSrv
	}

	logger.Infof("✓ 标的: %v, 区间 %s ~ %s, 初始资金 %.2f",
		runCfg.Tickers, runCfg.StartDate, runCfg.EndDate, runCfg.InitialCapital)
	return app, nil
}

func buildMarketService(cfg config.MarketConfig) (*marketdata.Service, func() error, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	var source marketdata.Source
	switch cfg.Source {
	case "binance":
		source = marketdata.NewBinanceSource(cfg.RESTBaseURL, timeout)
	default:
		source = marketdata.NewYahooSource(cfg.RESTBaseURL, timeout)
	}

	var cache *marketdata.CandleCache
	var closeFn func() error
	if cfg.CachePath != "" {
		var err error
		cache, err = marketdata.NewCandleCache(cfg.CachePath)
		if err != nil {
			return nil, nil, err
		}
		closeFn = cache.Close
	}

	gate := throttle.New(time.Duration(cfg.ThrottleSeconds * float64(time.Second)))
	return marketdata.NewService(source, cache, gate), closeFn, nil
}

func buildGenerator(cfg config.AIConfig) (backtest.ReportGenerator, error) {
	profiles, err := signal.NewProfileLoader(cfg.ProfilesPath)
	if err != nil {
		return nil, err
	}
	client := &signal.ChatClient{
		Provider: cfg.Provider,
		BaseURL:  cfg.BackendURL,
		APIKey:   cfg.APIKey,
	}
	gate := throttle.New(time.Duration(cfg.ThrottleSeconds * float64(time.Second)))
	return signal.NewGenerator(client, profiles, gate,
		cfg.NormalizedAnalysts(), cfg.ShallowThinker, cfg.DeepThinker, cfg.ResearchDepth), nil
}
