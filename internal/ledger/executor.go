package ledger

import (
	"github.com/shopspring/decimal"

	"tally/internal/signal"
)

// 中文说明：
// Execute 是账本的唯一状态迁移函数：全仓进出，无部分调仓。
// 纯函数，不做任何持久化，落盘由调用方负责。

var hundred = decimal.NewFromInt(100)

// Execute 将 (当前状态, 信号, 执行价) 映射为 (新状态, 成交记录)。
// price 必须 > 0；对 BUY/SELL/HOLD 全集是全函数，永不失败：
//   - BUY 且有现金：买入 floor(cash/price) 股；买不起一股时降级为 HOLD；
//   - SELL 且有持股：清仓；
//   - 其余情况：HOLD，状态不变。
func Execute(state State, sig signal.Signal, date string, price decimal.Decimal) (State, Record) {
	action := signal.Hold
	var sharesDelta int64
	amount := decimal.Zero

	switch {
	case sig == signal.Buy && state.Cash.IsPositive():
		buyShares := state.Cash.Div(price).Floor().IntPart()
		if buyShares > 0 {
			cost := price.Mul(decimal.NewFromInt(buyShares))
			state.Cash = state.Cash.Sub(cost)
			state.Shares += buyShares
			action = signal.Buy
			sharesDelta = buyShares
			amount = cost
		}
	case sig == signal.Sell && state.Shares > 0:
		revenue := price.Mul(decimal.NewFromInt(state.Shares))
		state.Cash = state.Cash.Add(revenue)
		action = signal.Sell
		sharesDelta = -state.Shares
		amount = revenue
		state.Shares = 0
	}

	totalValue := state.Cash.Add(price.Mul(decimal.NewFromInt(state.Shares)))
	returnPct := totalValue.Sub(state.InitialCapital).
		Div(state.InitialCapital).
		Mul(hundred).
		Round(2)

	rec := Record{
		Date:                date,
		Ticker:              state.Ticker,
		Signal:              sig,
		Action:              action,
		ExecutionPrice:      price,
		SharesDelta:         sharesDelta,
		TransactionAmount:   amount,
		CashAfter:           state.Cash,
		SharesAfter:         state.Shares,
		TotalValue:          totalValue,
		CumulativeReturnPct: returnPct,
	}
	return state, rec
}
