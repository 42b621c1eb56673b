package signal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tally/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// AnalystProfile 描述单个分析员：system 提示词与关注领域。
type AnalystProfile struct {
	Name   string `mapstructure:"-"`
	Role   string `mapstructure:"role"`
	Prompt string `mapstructure:"prompt"`
	Focus  string `mapstructure:"focus"`
}

type profileFile struct {
	Analysts map[string]AnalystProfile `mapstructure:"analysts"`
}

// ProfileSnapshot 对外暴露的只读快照。
type ProfileSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Analysts map[string]AnalystProfile
}

// ProfileLoader 从 YAML 文件加载分析员提示词，并监听热更新。
// 文件不存在时使用内置分析员，不报错。
type ProfileLoader struct {
	path string
	v    *viper.Viper

	mu       sync.RWMutex
	snapshot ProfileSnapshot
}

func NewProfileLoader(path string) (*ProfileLoader, error) {
	loader := &ProfileLoader{path: strings.TrimSpace(path)}
	if loader.path == "" {
		loader.install(defaultAnalysts())
		return loader, nil
	}
	if _, err := os.Stat(loader.path); err != nil {
		logger.Warnf("[profiles] %s 不存在，使用内置分析员", loader.path)
		loader.install(defaultAnalysts())
		return loader, nil
	}

	v := viper.New()
	v.SetConfigFile(loader.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取分析员配置失败: %w", err)
	}
	loader.v = v
	if err := loader.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := loader.reload(); err != nil {
			logger.Errorf("[profiles] 重载失败 (%s): %v", evt.Name, err)
		}
	})
	v.WatchConfig()
	return loader, nil
}

func (l *ProfileLoader) reload() error {
	var fileCfg profileFile
	if err := l.v.Unmarshal(&fileCfg); err != nil {
		return fmt.Errorf("解析分析员配置失败: %w", err)
	}
	merged := defaultAnalysts()
	for name, p := range fileCfg.Analysts {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		p.Name = name
		if strings.TrimSpace(p.Prompt) == "" {
			if def, ok := merged[name]; ok {
				p.Prompt = def.Prompt
			}
		}
		merged[name] = p
	}
	l.install(merged)
	logger.Infof("[profiles] 已加载 %d 个分析员 (%s)", len(merged), filepath.Base(l.path))
	return nil
}

func (l *ProfileLoader) install(analysts map[string]AnalystProfile) {
	l.mu.Lock()
	l.snapshot = ProfileSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Analysts: analysts,
	}
	l.mu.Unlock()
}

// Snapshot 返回当前配置快照（浅拷贝即可，AnalystProfile 无引用字段）。
func (l *ProfileLoader) Snapshot() ProfileSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := ProfileSnapshot{
		Version:  l.snapshot.Version,
		LoadedAt: l.snapshot.LoadedAt,
		Analysts: make(map[string]AnalystProfile, len(l.snapshot.Analysts)),
	}
	for name, p := range l.snapshot.Analysts {
		out.Analysts[name] = p
	}
	return out
}

// Lookup 返回指定分析员；未配置时回退到通用市场分析员。
func (l *ProfileLoader) Lookup(name string) AnalystProfile {
	snap := l.Snapshot()
	if p, ok := snap.Analysts[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p
	}
	return snap.Analysts["market"]
}

func defaultAnalysts() map[string]AnalystProfile {
	return map[string]AnalystProfile{
		"market": {
			Name:  "market",
			Role:  "技术面分析员",
			Focus: "价格走势、均线形态、动量与波动",
			Prompt: "You are a market technician. Analyze the recent daily price action " +
				"for the given ticker and date. Discuss trend, momentum and notable levels. " +
				"Be concise and conclude with your directional lean.",
		},
		"news": {
			Name:  "news",
			Role:  "新闻面分析员",
			Focus: "公司公告、行业事件与宏观新闻",
			Prompt: "You are a news analyst. Based on what is publicly known up to the given " +
				"date, summarize the news backdrop for the ticker and how it should bias a " +
				"one-day-ahead trading decision.",
		},
		"fundamentals": {
			Name:  "fundamentals",
			Role:  "基本面分析员",
			Focus: "盈利、估值与资产负债状况",
			Prompt: "You are a fundamentals analyst. Assess the company's earnings trend, " +
				"valuation and balance sheet as of the given date, and state whether the " +
				"fundamentals argue for accumulating, trimming or holding.",
		},
		"social": {
			Name:  "social",
			Role:  "情绪面分析员",
			Focus: "社媒与市场情绪",
			Prompt: "You are a sentiment analyst. Gauge investor mood around the ticker as " +
				"of the given date and describe whether crowd positioning supports or opposes " +
				"a new position.",
		},
	}
}
