package marketdata

import (
	"context"
	"fmt"
	"time"

	"tally/internal/logger"
	"tally/internal/throttle"
)

// Source 是日线行情提供方。实现必须把 end 视为开区间上界。
type Source interface {
	Name() string
	FetchDaily(ctx context.Context, ticker string, start, end time.Time) ([]Bar, error)
}

// 行情接口通常对免费配额限速，下载窗口在区间末尾多留 10 个自然日，
// 保证最后一个分析日仍能查到 T+1 根 K 线（沿用既有数据布局）。
const fetchEndPadding = 10 * 24 * time.Hour

// Service 组合行情源、限流闸门与本地缓存。
type Service struct {
	source Source
	cache  *CandleCache
	gate   *throttle.Gate
}

func NewService(source Source, cache *CandleCache, gate *throttle.Gate) *Service {
	return &Service{source: source, cache: cache, gate: gate}
}

// GetSeries 返回 [startDate, endDate+10d) 的日线序列。
// 缓存已覆盖 endDate 时直接使用缓存；否则经限流闸门拉取并回填缓存；
// 拉取失败但缓存有部分数据时降级使用缓存。
func (s *Service) GetSeries(ctx context.Context, ticker, startDate, endDate string) (*Series, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, fmt.Errorf("start date 无效: %w", err)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, fmt.Errorf("end date 无效: %w", err)
	}
	extEnd := end.Add(fetchEndPadding)
	extEndDate := extEnd.Format("2006-01-02")

	if s.cache != nil {
		maxDate, cerr := s.cache.MaxDate(ctx, ticker)
		if cerr != nil {
			logger.Warnf("[market] %s 缓存查询失败: %v", ticker, cerr)
		} else if maxDate >= endDate {
			bars, rerr := s.cache.Range(ctx, ticker, startDate, extEndDate)
			if rerr == nil && len(bars) > 0 {
				logger.Debugf("[market] %s 命中缓存 %d 条", ticker, len(bars))
				return NewSeries(ticker, bars), nil
			}
		}
	}

	bars, err := throttle.DoValue(ctx, s.gate, func() ([]Bar, error) {
		logger.Infof("[market] 下载 %s 日线 (%s ~ %s, source=%s)",
			ticker, startDate, extEndDate, s.source.Name())
		return s.source.FetchDaily(ctx, ticker, start, extEnd)
	})
	if err != nil {
		if s.cache != nil {
			if cached, cerr := s.cache.Range(ctx, ticker, startDate, extEndDate); cerr == nil && len(cached) > 0 {
				logger.Warnf("[market] %s 下载失败，降级使用缓存 %d 条: %v", ticker, len(cached), err)
				return NewSeries(ticker, cached), nil
			}
		}
		return nil, fmt.Errorf("下载 %s 行情失败: %w", ticker, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: %w", ticker, ErrDataUnavailable)
	}

	if s.cache != nil {
		if cerr := s.cache.Put(ctx, ticker, bars); cerr != nil {
			logger.Warnf("[market] %s 写缓存失败: %v", ticker, cerr)
		}
	}
	return NewSeries(ticker, bars), nil
}
