package config

import "strings"

// 默认值常量
const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":9982"
	defaultAppLogPath       = "/data/logs/tally.log"
	defaultAppLLMLogPath    = "/data/logs/tally-llm.log"
	defaultInitialCapital   = 100000
	defaultResultsRoot      = "results"
	defaultMaxConcurrent    = 2
	defaultMarketSource     = "yahoo"
	defaultYahooREST        = "https://query1.finance.yahoo.com"
	defaultBinanceREST      = "https://fapi.binance.com"
	defaultMarketTimeout    = 15
	defaultMarketThrottle   = 2.0
	defaultMarketCachePath  = "results/candles.db"
	defaultAIProvider       = "openai"
	defaultAIBackendURL     = "https://api.openai.com/v1"
	defaultAIShallowThinker = "gpt-4o-mini"
	defaultAIDeepThinker    = "gpt-4o"
	defaultAIResearchDepth  = 3
	defaultAIThrottle       = 2.0
	defaultProfilesPath     = "configs/analysts.yaml"
	defaultDecisionLogPath  = "results/decisions.db"
	defaultSMAShort         = 5
	defaultSMALong          = 20
	defaultMACDFast         = 12
	defaultMACDSlow         = 26
	defaultMACDSignal       = 9
	defaultRSIPeriod        = 14
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.AI.applyDefaults(keys)
	c.Benchmark.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.llm_log_path", &a.LLMLog, defaultAppLLMLogPath),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "backtest.initial_capital",
			need:  func() bool { return b.InitialCapital <= 0 },
			apply: func() { b.InitialCapital = defaultInitialCapital },
		},
		stringFieldDefault("backtest.results_root", &b.ResultsRoot, defaultResultsRoot),
		fieldDefault{
			key:   "backtest.max_concurrent",
			need:  func() bool { return b.MaxConcurrent <= 0 },
			apply: func() { b.MaxConcurrent = defaultMaxConcurrent },
		},
	)
	// 报告缓存默认与账本同根，保持与历史目录布局兼容。
	if strings.TrimSpace(b.ArtifactRoot) == "" {
		b.ArtifactRoot = b.ResultsRoot
	}
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.source", &m.Source, defaultMarketSource),
		fieldDefault{
			key:   "market.timeout_seconds",
			need:  func() bool { return m.TimeoutSeconds <= 0 },
			apply: func() { m.TimeoutSeconds = defaultMarketTimeout },
		},
		fieldDefault{
			key:   "market.throttle_seconds",
			need:  func() bool { return m.ThrottleSeconds <= 0 },
			apply: func() { m.ThrottleSeconds = defaultMarketThrottle },
		},
		stringFieldDefault("market.cache_path", &m.CachePath, defaultMarketCachePath),
	)
	if strings.TrimSpace(m.RESTBaseURL) == "" {
		switch strings.ToLower(strings.TrimSpace(m.Source)) {
		case "binance":
			m.RESTBaseURL = defaultBinanceREST
		default:
			m.RESTBaseURL = defaultYahooREST
		}
	}
}

func (a *AIConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("ai.provider", &a.Provider, defaultAIProvider),
		stringFieldDefault("ai.backend_url", &a.BackendURL, defaultAIBackendURL),
		stringFieldDefault("ai.shallow_thinker", &a.ShallowThinker, defaultAIShallowThinker),
		stringFieldDefault("ai.deep_thinker", &a.DeepThinker, defaultAIDeepThinker),
		fieldDefault{
			key:   "ai.research_depth",
			need:  func() bool { return a.ResearchDepth <= 0 },
			apply: func() { a.ResearchDepth = defaultAIResearchDepth },
		},
		fieldDefault{
			key:   "ai.throttle_seconds",
			need:  func() bool { return a.ThrottleSeconds <= 0 },
			apply: func() { a.ThrottleSeconds = defaultAIThrottle },
		},
		stringFieldDefault("ai.profiles_path", &a.ProfilesPath, defaultProfilesPath),
		stringFieldDefault("ai.decision_log_path", &a.DecisionLogPath, defaultDecisionLogPath),
	)
	if len(a.Analysts) == 0 {
		a.Analysts = []string{"market", "social", "news", "fundamentals"}
	}
}

func (b *BenchmarkConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "benchmark.sma_short",
			need:  func() bool { return b.SMAShort <= 0 },
			apply: func() { b.SMAShort = defaultSMAShort },
		},
		fieldDefault{
			key:   "benchmark.sma_long",
			need:  func() bool { return b.SMALong <= 0 },
			apply: func() { b.SMALong = defaultSMALong },
		},
		fieldDefault{
			key:   "benchmark.macd_fast",
			need:  func() bool { return b.MACDFast <= 0 },
			apply: func() { b.MACDFast = defaultMACDFast },
		},
		fieldDefault{
			key:   "benchmark.macd_slow",
			need:  func() bool { return b.MACDSlow <= 0 },
			apply: func() { b.MACDSlow = defaultMACDSlow },
		},
		fieldDefault{
			key:   "benchmark.macd_signal",
			need:  func() bool { return b.MACDSignal <= 0 },
			apply: func() { b.MACDSignal = defaultMACDSignal },
		},
		fieldDefault{
			key:   "benchmark.rsi_period",
			need:  func() bool { return b.RSIPeriod <= 0 },
			apply: func() { b.RSIPeriod = defaultRSIPeriod },
		},
	)
}

// Helper functions

type keySet map[string]struct{}

func (k keySet) mark(key string) {
	if k == nil {
		return
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return
	}
	k[key] = struct{}{}
}

func (k keySet) isSet(key string) bool {
	if k == nil {
		return false
	}
	key = strings.ToLower(strings.TrimSpace(key))
	_, ok := k[key]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
