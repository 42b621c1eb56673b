package signal

import (
	"errors"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNoSignal 表示报告里找不到任何可识别的交易信号。
var ErrNoSignal = errors.New("报告中未找到交易信号")

// 报告末尾的结论行形如：
//   FINAL TRANSACTION PROPOSAL: **BUY**
var finalProposalRe = regexp.MustCompile(`(?i)FINAL\s+TRANSACTION\s+PROPOSAL\s*:?\s*\**\s*(BUY|SELL|HOLD|LONG|SHORT)\b`)

var bareTokenRe = regexp.MustCompile(`\*\*\s*(BUY|SELL|HOLD)\s*\**`)

// ParseReport 从决策报告全文中提取交易信号。优先级：
//  1. 报告内嵌的 JSON 决策块（signal/action/final_decision 字段）
//  2. "FINAL TRANSACTION PROPOSAL: **XXX**" 结论行（取最后一处）
//  3. 加粗的 **BUY**/**SELL**/**HOLD** 标记（取最后一处）
//
// 全部落空时返回 ErrNoSignal，由调用方决定降级策略。
func ParseReport(content string) (Signal, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrNoSignal
	}

	if obj, ok := ExtractJSONObject(content); ok && gjson.Valid(obj) {
		for _, field := range []string{"signal", "action", "final_decision", "decision"} {
			if v := gjson.Get(obj, field); v.Exists() && v.Type == gjson.String {
				sig := Normalize(v.String())
				if strings.EqualFold(v.String(), string(sig)) || isKnownAlias(v.String()) {
					return sig, nil
				}
			}
		}
	}

	if ms := finalProposalRe.FindAllStringSubmatch(content, -1); len(ms) > 0 {
		return Normalize(ms[len(ms)-1][1]), nil
	}
	if ms := bareTokenRe.FindAllStringSubmatch(content, -1); len(ms) > 0 {
		return Normalize(ms[len(ms)-1][1]), nil
	}
	return "", ErrNoSignal
}

// isKnownAlias 限定 JSON 字段里可接受的写法，避免把任意字符串当 HOLD。
func isKnownAlias(raw string) bool {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "SELL", "HOLD", "LONG", "SHORT":
		return true
	}
	return false
}
