package marketdata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// YahooSource 基于 Yahoo Finance chart JSON 接口（/v8/finance/chart）。
type YahooSource struct {
	baseURL string
	client  *http.Client
}

func NewYahooSource(base string, timeout time.Duration) *YahooSource {
	if base == "" {
		base = "https://query1.finance.yahoo.com"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &YahooSource{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (y *YahooSource) Name() string { return "yahoo" }

// FetchDaily 拉取 [start, end) 的日线。end 为开区间，与上游接口语义一致。
func (y *YahooSource) FetchDaily(ctx context.Context, ticker string, start, end time.Time) ([]Bar, error) {
	if strings.TrimSpace(ticker) == "" {
		return nil, fmt.Errorf("ticker 不能为空")
	}
	u, err := url.Parse(y.baseURL + "/v8/finance/chart/" + url.PathEscape(strings.ToUpper(ticker)))
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("period1", strconv.FormatInt(start.Unix(), 10))
	q.Set("period2", strconv.FormatInt(end.Unix(), 10))
	q.Set("interval", "1d")
	q.Set("events", "history")
	u.RawQuery = q.Encode()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (tally backtest)")
	resp, err := y.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("yahoo 返回状态码 %d", resp.StatusCode)
	}
	return parseChartJSON(body)
}

// parseChartJSON 解析 chart 响应。字段名大小写不敏感（历史上出现过
// Close/close 两种导出形态）。
func parseChartJSON(body []byte) ([]Bar, error) {
	root := gjson.ParseBytes(body)
	if errMsg := root.Get("chart.error.description"); errMsg.Exists() && errMsg.String() != "" {
		return nil, fmt.Errorf("yahoo: %s", errMsg.String())
	}
	result := root.Get("chart.result.0")
	if !result.Exists() {
		return nil, fmt.Errorf("yahoo: 响应缺少 chart.result")
	}
	timestamps := result.Get("timestamp").Array()
	quote := result.Get("indicators.quote.0")
	if !quote.Exists() {
		return nil, fmt.Errorf("yahoo: 响应缺少 indicators.quote")
	}

	opens := quoteField(quote, "open").Array()
	highs := quoteField(quote, "high").Array()
	lows := quoteField(quote, "low").Array()
	closes := quoteField(quote, "close").Array()
	volumes := quoteField(quote, "volume").Array()
	if len(closes) == 0 {
		return nil, fmt.Errorf("yahoo: 响应缺少 close 序列")
	}

	bars := make([]Bar, 0, len(timestamps))
	for i, ts := range timestamps {
		if i >= len(closes) || closes[i].Type == gjson.Null {
			continue // 停牌日：跳过而不是补零
		}
		bar := Bar{
			Date:  time.Unix(ts.Int(), 0).UTC().Format("2006-01-02"),
			Close: closes[i].Float(),
		}
		if i < len(opens) {
			bar.Open = opens[i].Float()
		}
		if i < len(highs) {
			bar.High = highs[i].Float()
		}
		if i < len(lows) {
			bar.Low = lows[i].Float()
		}
		if i < len(volumes) {
			bar.Volume = volumes[i].Float()
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func quoteField(quote gjson.Result, name string) gjson.Result {
	if v := quote.Get(name); v.Exists() {
		return v
	}
	return quote.Get(strings.ToUpper(name[:1]) + name[1:])
}
