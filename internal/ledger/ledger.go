// Package ledger 维护每个标的的持久化账本：现金、持股与完整交易记录。
package ledger

import (
	"github.com/shopspring/decimal"

	"tally/internal/signal"
)

// State 是账本的活动状态。不变量：Cash >= 0、Shares >= 0（不做空）。
type State struct {
	Ticker         string
	Cash           decimal.Decimal
	Shares         int64
	InitialCapital decimal.Decimal
}

// NewState 返回冷启动状态：全部资金为现金，零持股。
func NewState(ticker string, initialCapital decimal.Decimal) State {
	return State{
		Ticker:         ticker,
		Cash:           initialCapital,
		Shares:         0,
		InitialCapital: initialCapital,
	}
}

// Record 是一条不可变的成交记录，每个交易日恰好产生一条。
// 尾部记录的 CashAfter/SharesAfter 即账本活动状态，账本可由记录序列完整重建。
type Record struct {
	Date                string // 分析日 YYYY-MM-DD，执行价取 T+1 收盘
	Ticker              string
	Signal              signal.Signal // 上游建议
	Action              signal.Signal // 实际执行动作，前置条件不满足时降级为 HOLD
	ExecutionPrice      decimal.Decimal
	SharesDelta         int64
	TransactionAmount   decimal.Decimal
	CashAfter           decimal.Decimal
	SharesAfter         int64
	TotalValue          decimal.Decimal
	CumulativeReturnPct decimal.Decimal // 两位小数
}

// RestoreState 由最后一条记录重建活动状态。records 为空时返回冷启动状态。
func RestoreState(ticker string, initialCapital decimal.Decimal, records []Record) State {
	if len(records) == 0 {
		return NewState(ticker, initialCapital)
	}
	tail := records[len(records)-1]
	return State{
		Ticker:         ticker,
		Cash:           tail.CashAfter,
		Shares:         tail.SharesAfter,
		InitialCapital: initialCapital,
	}
}
