// Package signal 定义上游决策流程产出的交易信号，以及从自由文本
// 报告中提取信号的解析逻辑。
package signal

import "strings"

// Signal 是上游（人或 LLM 流水线）给出的分类建议。
type Signal string

const (
	Buy  Signal = "BUY"
	Sell Signal = "SELL"
	Hold Signal = "HOLD"
)

// Normalize 统一信号写法：大小写不敏感，无法识别的内容一律视为 HOLD。
func Normalize(raw string) Signal {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "LONG":
		return Buy
	case "SELL", "SHORT":
		return Sell
	default:
		return Hold
	}
}

// Valid 判断 s 是否为三种已知信号之一。
func (s Signal) Valid() bool {
	switch s {
	case Buy, Sell, Hold:
		return true
	}
	return false
}
