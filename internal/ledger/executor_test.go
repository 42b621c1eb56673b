package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tally/internal/signal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestExecuteBuyAllIn(t *testing.T) {
	state := NewState("AMZN", d("1000"))

	next, rec := Execute(state, signal.Buy, "2025-03-04", d("300"))

	// floor(1000/300)=3 股，花费 900。
	assert.Equal(t, signal.Buy, rec.Action)
	assert.EqualValues(t, 3, rec.SharesDelta)
	assert.True(t, rec.TransactionAmount.Equal(d("900")), rec.TransactionAmount.String())
	assert.True(t, next.Cash.Equal(d("100")), next.Cash.String())
	assert.EqualValues(t, 3, next.Shares)
	assert.True(t, rec.TotalValue.Equal(d("1000")))
	assert.True(t, rec.CumulativeReturnPct.Equal(d("0")))
}

func TestExecuteBuyPriceExceedsCash(t *testing.T) {
	state := NewState("AMZN", d("50"))

	next, rec := Execute(state, signal.Buy, "2025-03-04", d("300"))

	// 一股都买不起：降级为 HOLD，状态不变。
	assert.Equal(t, signal.Buy, rec.Signal)
	assert.Equal(t, signal.Hold, rec.Action)
	assert.EqualValues(t, 0, rec.SharesDelta)
	assert.True(t, next.Cash.Equal(d("50")))
	assert.EqualValues(t, 0, next.Shares)
}

func TestExecuteSellLiquidatesEverything(t *testing.T) {
	state := State{
		Ticker:         "TSLA",
		Cash:           d("120"),
		Shares:         10,
		InitialCapital: d("500"),
	}

	next, rec := Execute(state, signal.Sell, "2025-03-04", d("50"))

	assert.Equal(t, signal.Sell, rec.Action)
	assert.EqualValues(t, -10, rec.SharesDelta)
	assert.True(t, rec.TransactionAmount.Equal(d("500")))
	assert.True(t, next.Cash.Equal(d("620")))
	assert.EqualValues(t, 0, next.Shares)
	assert.True(t, rec.TotalValue.Equal(d("620")))
	assert.True(t, rec.CumulativeReturnPct.Equal(d("24")), rec.CumulativeReturnPct.String())
}

func TestExecuteSellWithoutShares(t *testing.T) {
	state := NewState("TSLA", d("1000"))

	next, rec := Execute(state, signal.Sell, "2025-03-04", d("50"))

	assert.Equal(t, signal.Hold, rec.Action)
	assert.True(t, next.Cash.Equal(d("1000")))
	assert.EqualValues(t, 0, next.Shares)
}

func TestExecuteHoldKeepsState(t *testing.T) {
	state := State{
		Ticker:         "AMZN",
		Cash:           d("100"),
		Shares:         3,
		InitialCapital: d("1000"),
	}

	next, rec := Execute(state, signal.Hold, "2025-03-05", d("350"))

	assert.Equal(t, signal.Hold, rec.Action)
	assert.True(t, next.Cash.Equal(d("100")))
	assert.EqualValues(t, 3, next.Shares)
	// 总值 1150 = 100 现金 + 3*350 持仓
	assert.True(t, rec.TotalValue.Equal(d("1150")))
	assert.True(t, rec.CumulativeReturnPct.Equal(d("15")))
}

func TestExecuteLedgerConservation(t *testing.T) {
	// 任意序列下 total_value == cash_after + shares_after*price，decimal 精确成立。
	state := NewState("NVDA", d("100000"))
	prices := []string{"123.45", "130.01", "99.99", "150.5", "151"}
	signals := []signal.Signal{signal.Buy, signal.Hold, signal.Sell, signal.Buy, signal.Sell}

	for i := range prices {
		var rec Record
		price := d(prices[i])
		state, rec = Execute(state, signals[i], "2025-01-02", price)

		expect := rec.CashAfter.Add(price.Mul(decimal.NewFromInt(rec.SharesAfter)))
		require.True(t, rec.TotalValue.Equal(expect),
			"day %d: total=%s want %s", i, rec.TotalValue, expect)
		require.False(t, rec.CashAfter.IsNegative())
		require.GreaterOrEqual(t, rec.SharesAfter, int64(0))
	}
}
