// Package benchmark 用经典技术指标策略给 AI 信号回测提供对照组：
// 买入持有、双均线、MACD 与 RSI，全部以 T+1 收盘价全仓进出，
// 口径与主回测一致，结果才可比。
package benchmark

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"tally/internal/marketdata"
	"tally/internal/signal"
)

// Params 是各基准策略的窗口参数。
type Params struct {
	SMAShort   int
	SMALong    int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	RSIPeriod  int
}

// Result 是单个基准策略在区间上的表现。
type Result struct {
	Strategy    string  `json:"strategy"`
	FinalValue  float64 `json:"final_value"`
	ReturnPct   float64 `json:"return_pct"`
	Trades      int     `json:"trades"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown_pct"`
}

// Evaluate 在 [startDate, endDate] 上跑全部基准策略。
// series 需要比区间多出足够的前置数据供指标预热。
func Evaluate(series *marketdata.Series, startDate, endDate string, initialCapital float64, p Params) ([]Result, error) {
	dates := series.DatesBetween(startDate, endDate)
	if len(dates) == 0 {
		return nil, fmt.Errorf("benchmark: %w", marketdata.ErrDataUnavailable)
	}
	closes := series.Closes()

	strategies := []struct {
		name    string
		signals map[string]signal.Signal
	}{
		{"buy_and_hold", buyAndHoldSignals(dates)},
		{"sma_cross", smaCrossSignals(series, closes, p.SMAShort, p.SMALong)},
		{"macd", macdSignals(series, closes, p.MACDFast, p.MACDSlow, p.MACDSignal)},
		{"rsi", rsiSignals(series, closes, p.RSIPeriod)},
	}

	out := make([]Result, 0, len(strategies))
	for _, st := range strategies {
		out = append(out, simulate(st.name, series, dates, st.signals, initialCapital))
	}
	return out, nil
}

// simulate 按与主回测相同的口径重放信号序列：
// 分析日 date 的信号以 NextBar(date).Close 成交，整数股，全仓进出。
func simulate(name string, series *marketdata.Series, dates []string,
	signals map[string]signal.Signal, initialCapital float64) Result {
	cash := initialCapital
	shares := 0.0
	trades := 0
	equity := make([]float64, 0, len(dates))

	for _, date := range dates {
		next, ok := series.NextBar(date)
		if !ok {
			break
		}
		price := next.Close
		switch signals[date] {
		case signal.Buy:
			if n := math.Floor(cash / price); n > 0 {
				cash -= n * price
				shares += n
				trades++
			}
		case signal.Sell:
			if shares > 0 {
				cash += shares * price
				shares = 0
				trades++
			}
		}
		equity = append(equity, cash+shares*price)
	}

	final := initialCapital
	if len(equity) > 0 {
		final = equity[len(equity)-1]
	}
	return Result{
		Strategy:    name,
		FinalValue:  final,
		ReturnPct:   (final - initialCapital) / initialCapital * 100,
		Trades:      trades,
		Sharpe:      sharpe(equity),
		MaxDrawdown: maxDrawdown(equity),
	}
}

func buyAndHoldSignals(dates []string) map[string]signal.Signal {
	if len(dates) == 0 {
		return nil
	}
	return map[string]signal.Signal{dates[0]: signal.Buy}
}

// smaCrossSignals 短均线上穿长均线买入，下穿卖出。
func smaCrossSignals(series *marketdata.Series, closes []float64, short, long int) map[string]signal.Signal {
	if len(closes) <= long {
		return nil
	}
	fast := talib.Sma(closes, short)
	slow := talib.Sma(closes, long)
	out := make(map[string]signal.Signal)
	for i := long; i < len(closes); i++ {
		bar, ok := series.At(i)
		if !ok {
			continue
		}
		above := fast[i] > slow[i]
		wasAbove := fast[i-1] > slow[i-1]
		switch {
		case above && !wasAbove:
			out[bar.Date] = signal.Buy
		case !above && wasAbove:
			out[bar.Date] = signal.Sell
		}
	}
	return out
}

// macdSignals 柱状图由负转正买入，由正转负卖出。
func macdSignals(series *marketdata.Series, closes []float64, fast, slow, sig int) map[string]signal.Signal {
	if len(closes) <= slow+sig {
		return nil
	}
	_, _, hist := talib.Macd(closes, fast, slow, sig)
	out := make(map[string]signal.Signal)
	for i := slow + sig; i < len(closes); i++ {
		bar, ok := series.At(i)
		if !ok {
			continue
		}
		switch {
		case hist[i] > 0 && hist[i-1] <= 0:
			out[bar.Date] = signal.Buy
		case hist[i] < 0 && hist[i-1] >= 0:
			out[bar.Date] = signal.Sell
		}
	}
	return out
}

// rsiSignals 超卖(<30)买入，超买(>70)卖出。
func rsiSignals(series *marketdata.Series, closes []float64, period int) map[string]signal.Signal {
	if len(closes) <= period {
		return nil
	}
	rsi := talib.Rsi(closes, period)
	out := make(map[string]signal.Signal)
	for i := period; i < len(closes); i++ {
		bar, ok := series.At(i)
		if !ok {
			continue
		}
		switch {
		case rsi[i] < 30:
			out[bar.Date] = signal.Buy
		case rsi[i] > 70:
			out[bar.Date] = signal.Sell
		}
	}
	return out
}

// sharpe 以日收益计算年化夏普（无风险利率按 0）。
func sharpe(equity []float64) float64 {
	if len(equity) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		returns = append(returns, equity[i]/equity[i-1]-1)
	}
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(252)
}

// maxDrawdown 返回资金曲线最大回撤百分比（正数）。
func maxDrawdown(equity []float64) float64 {
	peak := math.Inf(-1)
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak * 100; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
