// Package marketdata 提供日线行情的获取、缓存与日期索引查询。
package marketdata

import (
	"errors"
	"sort"
)

// ErrDataUnavailable 表示标的在请求区间内没有任何日线。
var ErrDataUnavailable = errors.New("marketdata: no daily bars available")

// Bar 是一根日 K 线。Date 为 YYYY-MM-DD；非交易日没有对应条目，
// 缺口体现为索引缺失而不是零值行。
type Bar struct {
	Date   string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Series 是按日期升序排列、可按日期定位下标的日线序列。
type Series struct {
	Ticker string
	bars   []Bar
	index  map[string]int
}

// NewSeries 构造序列：按日期排序、同日去重（保留后者）并建立索引。
func NewSeries(ticker string, bars []Bar) *Series {
	sorted := append([]Bar(nil), bars...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	dedup := sorted[:0]
	for _, b := range sorted {
		if n := len(dedup); n > 0 && dedup[n-1].Date == b.Date {
			dedup[n-1] = b
			continue
		}
		dedup = append(dedup, b)
	}

	idx := make(map[string]int, len(dedup))
	for i, b := range dedup {
		idx[b.Date] = i
	}
	return &Series{Ticker: ticker, bars: dedup, index: idx}
}

func (s *Series) Len() int { return len(s.bars) }

// At 返回第 i 根 K 线，越界返回 false。
func (s *Series) At(i int) (Bar, bool) {
	if i < 0 || i >= len(s.bars) {
		return Bar{}, false
	}
	return s.bars[i], true
}

// LocateIndex 返回 date 在序列中的下标；date 非交易日时返回 false。
func (s *Series) LocateIndex(date string) (int, bool) {
	i, ok := s.index[date]
	return i, ok
}

// NextBar 返回 date 的 T+1 根 K 线。date 非交易日，或已是序列末端
// （没有 T+1）时返回 false。
func (s *Series) NextBar(date string) (Bar, bool) {
	i, ok := s.index[date]
	if !ok {
		return Bar{}, false
	}
	return s.At(i + 1)
}

// DatesBetween 返回 [start, end]（含两端）内的交易日列表。
func (s *Series) DatesBetween(start, end string) []string {
	out := make([]string, 0, len(s.bars))
	for _, b := range s.bars {
		if b.Date < start || b.Date > end {
			continue
		}
		out = append(out, b.Date)
	}
	return out
}

// Closes 返回全序列收盘价，供基准策略计算指标。
func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.bars))
	for i, b := range s.bars {
		out[i] = b.Close
	}
	return out
}

// Bars 返回底层 K 线副本。
func (s *Series) Bars() []Bar {
	return append([]Bar(nil), s.bars...)
}
