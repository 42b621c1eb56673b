package signal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tally/internal/logger"
	"tally/internal/throttle"
)

// Caller 抽象一次模型调用，便于测试替换。
type Caller interface {
	Chat(ctx context.Context, tag, model, systemPrompt, userPrompt string) (string, error)
}

// Generator 把多分析员流水线串成一次信号生成：
// 浅层模型逐个产出分析员小节，深层模型汇总并给出结构化决策，
// 最终拼成一份自包含的决策报告（含结论行，可被 ParseReport 还原）。
type Generator struct {
	caller   Caller
	profiles *ProfileLoader
	gate     *throttle.Gate

	analysts     []string
	shallowModel string
	deepModel    string
	// researchDepth 控制汇总阶段的轮数，>=2 时增加一轮自我复核。
	researchDepth int
}

func NewGenerator(caller Caller, profiles *ProfileLoader, gate *throttle.Gate,
	analysts []string, shallowModel, deepModel string, researchDepth int) *Generator {
	if len(analysts) == 0 {
		analysts = []string{"market"}
	}
	if researchDepth <= 0 {
		researchDepth = 1
	}
	return &Generator{
		caller:        caller,
		profiles:      profiles,
		gate:          gate,
		analysts:      analysts,
		shallowModel:  shallowModel,
		deepModel:     deepModel,
		researchDepth: researchDepth,
	}
}

type analystSection struct {
	Name string
	Role string
	Body string
}

// GenerateReport 为 (ticker, date) 生成一份决策报告。
// marketContext 是调用方准备的行情摘要（截至分析日的日线片段）。
// 任何一步失败都整体失败，由调用方决定降级策略。
func (g *Generator) GenerateReport(ctx context.Context, ticker, date, marketContext string) (string, error) {
	started := time.Now()
	sections := make([]analystSection, 0, len(g.analysts))
	for _, name := range g.analysts {
		profile := g.profiles.Lookup(name)
		tag := fmt.Sprintf("%s/%s/%s", ticker, date, profile.Name)
		user := analystUserPrompt(ticker, date, profile, marketContext)
		body, err := throttle.DoValue(ctx, g.gate, func() (string, error) {
			return g.caller.Chat(ctx, tag, g.shallowModel, profile.Prompt, user)
		})
		if err != nil {
			return "", fmt.Errorf("分析员 %s 调用失败: %w", profile.Name, err)
		}
		sections = append(sections, analystSection{Name: profile.Name, Role: profile.Role, Body: body})
	}

	decision, raw, err := g.decide(ctx, ticker, date, sections)
	if err != nil {
		return "", err
	}
	sig := Normalize(decision.Signal)

	logger.Infof("[signal] %s %s => %s (confidence=%.0f, 耗时 %s)",
		ticker, date, sig, decision.Confidence, time.Since(started).Round(time.Millisecond))
	return composeReport(ticker, date, sections, decision, raw, sig), nil
}

func (g *Generator) decide(ctx context.Context, ticker, date string, sections []analystSection) (*Decision, string, error) {
	system := "You are the head trader. Synthesize the analyst reports and commit to one " +
		"trading decision for the next session. Respond with a JSON object " +
		`{"signal": "BUY"|"SELL"|"HOLD", "confidence": 0-100, "rationale": "..."} ` +
		"followed by a short justification."
	user := decisionUserPrompt(ticker, date, sections)

	var lastErr error
	for round := 0; round < g.researchDepth; round++ {
		tag := fmt.Sprintf("%s/%s/decision", ticker, date)
		if round > 0 {
			tag = fmt.Sprintf("%s#%d", tag, round+1)
		}
		raw, err := throttle.DoValue(ctx, g.gate, func() (string, error) {
			return g.caller.Chat(ctx, tag, g.deepModel, system, user)
		})
		if err != nil {
			return nil, "", fmt.Errorf("决策调用失败: %w", err)
		}
		decision, derr := ParseDecision(raw)
		if derr == nil {
			return decision, raw, nil
		}
		lastErr = derr
		// 下一轮把校验错误喂回去，要求修正格式。
		user = user + "\n\nYour previous answer was rejected: " + derr.Error() +
			"\nAnswer again with a valid JSON decision object."
	}
	return nil, "", fmt.Errorf("决策输出不可用: %w", lastErr)
}

func analystUserPrompt(ticker, date string, profile AnalystProfile, marketContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticker: %s\nAnalysis date: %s\n", ticker, date)
	if profile.Focus != "" {
		fmt.Fprintf(&b, "Focus: %s\n", profile.Focus)
	}
	if strings.TrimSpace(marketContext) != "" {
		b.WriteString("\nRecent daily bars (date, open, high, low, close, volume):\n")
		b.WriteString(marketContext)
		b.WriteString("\n")
	}
	b.WriteString("\nOnly use information available up to the analysis date.")
	return b.String()
}

func decisionUserPrompt(ticker, date string, sections []analystSection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticker: %s\nAnalysis date: %s\n\nAnalyst reports:\n", ticker, date)
	for _, sec := range sections {
		fmt.Fprintf(&b, "\n## %s (%s)\n%s\n", sec.Name, sec.Role, strings.TrimSpace(sec.Body))
	}
	return b.String()
}

// composeReport 生成落盘的 markdown 报告。结论行放在末尾，
// 保证缓存命中路径上 ParseReport 一定能还原同一信号。
func composeReport(ticker, date string, sections []analystSection, decision *Decision, raw string, sig Signal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Trade Decision: %s @ %s\n", ticker, date)
	for _, sec := range sections {
		fmt.Fprintf(&b, "\n## Analyst: %s (%s)\n\n%s\n", sec.Name, sec.Role, strings.TrimSpace(sec.Body))
	}
	b.WriteString("\n## Final Decision\n\n")
	b.WriteString(strings.TrimSpace(raw))
	b.WriteString("\n\n")
	if decision.Rationale != "" {
		fmt.Fprintf(&b, "Rationale: %s\n\n", decision.Rationale)
	}
	fmt.Fprintf(&b, "FINAL TRANSACTION PROPOSAL: **%s**\n", sig)
	return b.String()
}
