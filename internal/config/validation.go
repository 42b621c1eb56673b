package config

import (
	"fmt"
	"strings"
	"time"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.AI.validate(); err != nil {
		return err
	}
	if err := c.Benchmark.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if len(b.NormalizedTickers()) == 0 {
		return fmt.Errorf("backtest.tickers requires at least one ticker")
	}
	if b.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital must be > 0")
	}
	start, err := time.Parse("2006-01-02", b.StartDate)
	if err != nil {
		return fmt.Errorf("backtest.start_date invalid (want YYYY-MM-DD): %w", err)
	}
	end, err := time.Parse("2006-01-02", b.EndDate)
	if err != nil {
		return fmt.Errorf("backtest.end_date invalid (want YYYY-MM-DD): %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("backtest.end_date must not precede start_date")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(m.Source)) {
	case "yahoo", "binance":
	default:
		return fmt.Errorf("market.source must be yahoo or binance, got %q", m.Source)
	}
	if m.ThrottleSeconds < 0 {
		return fmt.Errorf("market.throttle_seconds must be >= 0")
	}
	return nil
}

func (a *AIConfig) validate() error {
	if strings.TrimSpace(a.BackendURL) == "" {
		return fmt.Errorf("ai.backend_url cannot be empty")
	}
	if strings.TrimSpace(a.ShallowThinker) == "" || strings.TrimSpace(a.DeepThinker) == "" {
		return fmt.Errorf("ai.shallow_thinker/deep_thinker cannot be empty")
	}
	if a.ResearchDepth < 1 {
		return fmt.Errorf("ai.research_depth must be >= 1")
	}
	if a.ThrottleSeconds < 0 {
		return fmt.Errorf("ai.throttle_seconds must be >= 0")
	}
	if len(a.NormalizedAnalysts()) == 0 {
		return fmt.Errorf("ai.analysts requires at least one analyst")
	}
	return nil
}

func (b *BenchmarkConfig) validate() error {
	if !b.Enabled {
		return nil
	}
	if b.SMAShort >= b.SMALong {
		return fmt.Errorf("benchmark.sma_short must be < sma_long")
	}
	if b.MACDFast >= b.MACDSlow {
		return fmt.Errorf("benchmark.macd_fast must be < macd_slow")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	tg := n.Telegram
	if tg.Enabled && (strings.TrimSpace(tg.BotToken) == "" || strings.TrimSpace(tg.ChatID) == "") {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	return nil
}
