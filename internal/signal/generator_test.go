package signal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tally/internal/throttle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	calls    []string // tag 序列
	decision string
	failFor  string // 匹配该子串的 tag 返回错误
}

func (f *fakeCaller) Chat(_ context.Context, tag, model, _, user string) (string, error) {
	f.calls = append(f.calls, tag)
	if f.failFor != "" && strings.Contains(tag, f.failFor) {
		return "", fmt.Errorf("status=429: rate limited")
	}
	if strings.Contains(tag, "/decision") {
		return f.decision, nil
	}
	return "analysis for " + tag + " (model " + model + ", prompt " +
		fmt.Sprint(len(user)) + " bytes)", nil
}

func newTestGenerator(t *testing.T, caller Caller, analysts []string) *Generator {
	t.Helper()
	profiles, err := NewProfileLoader("")
	require.NoError(t, err)
	gate := throttle.New(time.Millisecond)
	return NewGenerator(caller, profiles, gate, analysts, "shallow-model", "deep-model", 2)
}

func TestGeneratorComposesParsableReport(t *testing.T) {
	caller := &fakeCaller{
		decision: `{"signal": "BUY", "confidence": 70, "rationale": "momentum confirmed"}`,
	}
	g := newTestGenerator(t, caller, []string{"market", "news"})

	report, err := g.GenerateReport(context.Background(), "AMZN", "2025-03-03", "2025-03-03,1,2,3,4,5")
	require.NoError(t, err)

	// 两个分析员 + 一次决策
	require.Len(t, caller.calls, 3)
	assert.Equal(t, "AMZN/2025-03-03/market", caller.calls[0])
	assert.Equal(t, "AMZN/2025-03-03/news", caller.calls[1])
	assert.Equal(t, "AMZN/2025-03-03/decision", caller.calls[2])

	// 报告必须能被解析回同一信号（缓存命中路径依赖这一点）。
	sig, err := ParseReport(report)
	require.NoError(t, err)
	assert.Equal(t, Buy, sig)
	assert.Contains(t, report, "momentum confirmed")
}

func TestGeneratorRetriesInvalidDecision(t *testing.T) {
	caller := &fakeCaller{decision: "I refuse to answer in JSON"}
	g := newTestGenerator(t, caller, []string{"market"})

	_, err := g.GenerateReport(context.Background(), "TSLA", "2025-06-02", "")
	require.Error(t, err)
	// researchDepth=2：决策阶段应重试一轮后才放弃。
	decisions := 0
	for _, tag := range caller.calls {
		if strings.Contains(tag, "/decision") {
			decisions++
		}
	}
	assert.Equal(t, 2, decisions)
}

func TestGeneratorAnalystFailureAborts(t *testing.T) {
	caller := &fakeCaller{failFor: "/news", decision: `{"signal": "HOLD", "rationale": "n/a"}`}
	g := newTestGenerator(t, caller, []string{"market", "news"})

	_, err := g.GenerateReport(context.Background(), "NVDA", "2025-01-02", "")
	assert.ErrorContains(t, err, "news")
}

func TestProfileLoaderReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analysts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
analysts:
  market:
    role: "chartist"
    prompt: "custom market prompt"
  quant:
    role: "quant"
    prompt: "count things"
`), 0o644))

	loader, err := NewProfileLoader(path)
	require.NoError(t, err)

	p := loader.Lookup("market")
	assert.Equal(t, "chartist", p.Role)
	assert.Equal(t, "custom market prompt", p.Prompt)

	// 文件里新增的分析员与内置分析员共存。
	assert.Equal(t, "quant", loader.Lookup("quant").Name)
	assert.Equal(t, "news", loader.Lookup("news").Name)

	// 未知名字回退到 market。
	assert.Equal(t, "market", loader.Lookup("mystery").Name)
}

func TestProfileLoaderMissingFileUsesDefaults(t *testing.T) {
	loader, err := NewProfileLoader(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	snap := loader.Snapshot()
	assert.Len(t, snap.Analysts, 4)
	assert.NotEmpty(t, loader.Lookup("fundamentals").Prompt)
}
