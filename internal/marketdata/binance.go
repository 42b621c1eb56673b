package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
)

// BinanceSource 基于 go-binance SDK 的 USDT 合约日线，用于加密标的回测。
type BinanceSource struct {
	client *futures.Client
}

func NewBinanceSource(base string, timeout time.Duration) *BinanceSource {
	client := futures.NewClient("", "")
	if strings.TrimSpace(base) != "" {
		client.BaseURL = strings.TrimRight(base, "/")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &BinanceSource{client: client}
}

func (b *BinanceSource) Name() string { return "binance" }

func (b *BinanceSource) FetchDaily(ctx context.Context, ticker string, start, end time.Time) ([]Bar, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, fmt.Errorf("ticker 不能为空")
	}
	klines, err := b.client.NewKlinesService().
		Symbol(ticker).
		Interval("1d").
		StartTime(start.UnixMilli()).
		EndTime(end.UnixMilli()).
		Limit(1500).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	bars := make([]Bar, 0, len(klines))
	for _, k := range klines {
		bars = append(bars, Bar{
			Date:   time.UnixMilli(k.OpenTime).UTC().Format("2006-01-02"),
			Open:   parsePrice(k.Open),
			High:   parsePrice(k.High),
			Low:    parsePrice(k.Low),
			Close:  parsePrice(k.Close),
			Volume: parsePrice(k.Volume),
		})
	}
	return bars, nil
}

func parsePrice(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
