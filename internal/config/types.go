package config

import "strings"

// Config 是 tally 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Backtest  BacktestConfig  `toml:"backtest"`
	Market    MarketConfig    `toml:"market"`
	AI        AIConfig        `toml:"ai"`
	Benchmark BenchmarkConfig `toml:"benchmark"`
	Notify    NotifyConfig    `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
	LLMLog   string `toml:"llm_log_path"`
	LLMDump  bool   `toml:"llm_dump_payload"`
}

// BacktestConfig 描述一次回测任务：标的、日期区间与初始资金。
type BacktestConfig struct {
	Tickers        []string `toml:"tickers"`
	StartDate      string   `toml:"start_date"` // YYYY-MM-DD
	EndDate        string   `toml:"end_date"`
	InitialCapital float64  `toml:"initial_capital"`
	ResultsRoot    string   `toml:"results_root"`  // 账本 CSV 与 runs.db
	ArtifactRoot   string   `toml:"artifact_root"` // 决策报告缓存
	MaxConcurrent  int      `toml:"max_concurrent"`
}

// MarketConfig 描述行情来源与限流参数。
type MarketConfig struct {
	Source          string  `toml:"source"` // "yahoo" | "binance"
	RESTBaseURL     string  `toml:"rest_base_url"`
	TimeoutSeconds  int     `toml:"timeout_seconds"`
	ThrottleSeconds float64 `toml:"throttle_seconds"`
	CachePath       string  `toml:"cache_path"` // 日线缓存 sqlite
}

// AIConfig 包含信号生成器（LLM 多分析员流水线）的全部设置。
type AIConfig struct {
	Provider        string   `toml:"provider"` // "openai" | "azure" | "deepseek" 等
	BackendURL      string   `toml:"backend_url"`
	APIKey          string   `toml:"api_key"`
	ShallowThinker  string   `toml:"shallow_thinker"`
	DeepThinker     string   `toml:"deep_thinker"`
	ResearchDepth   int      `toml:"research_depth"`
	Analysts        []string `toml:"analysts"`
	ThrottleSeconds float64  `toml:"throttle_seconds"`
	ProfilesPath    string   `toml:"profiles_path"`
	DecisionLogPath string   `toml:"decision_log_path"`
}

// BenchmarkConfig 控制基准策略窗口参数。
type BenchmarkConfig struct {
	Enabled    bool `toml:"enabled"`
	SMAShort   int  `toml:"sma_short"`
	SMALong    int  `toml:"sma_long"`
	MACDFast   int  `toml:"macd_fast"`
	MACDSlow   int  `toml:"macd_slow"`
	MACDSignal int  `toml:"macd_signal"`
	RSIPeriod  int  `toml:"rsi_period"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// NormalizedTickers 返回去重、去空白并统一大写后的标的列表（保持配置顺序）。
func (b BacktestConfig) NormalizedTickers() []string {
	seen := make(map[string]struct{}, len(b.Tickers))
	out := make([]string, 0, len(b.Tickers))
	for _, t := range b.Tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// NormalizedAnalysts 返回小写、去重后的分析员集合。
func (a AIConfig) NormalizedAnalysts() []string {
	seen := make(map[string]struct{}, len(a.Analysts))
	out := make([]string, 0, len(a.Analysts))
	for _, name := range a.Analysts {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
