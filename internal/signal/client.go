package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tally/internal/logger"
)

// Azure 的部署式接口需要显式 api-version。
const azureAPIVersion = "2024-02-15-preview"

// ChatClient 兼容 OpenAI / DeepSeek / Qwen 的聊天补全接口（/v1/chat/completions）。
// Provider 为 "azure" 时走部署式路径并改用 api-key 头，其余 OpenAI 兼容
// 后端只需把 BaseURL 指向对应地址。
type ChatClient struct {
	Provider string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	// 429/5xx 的有限重试次数，0 表示默认 2 次。
	MaxRetries int

	httpc *http.Client
}

func (c *ChatClient) client() *http.Client {
	if c.httpc == nil {
		timeout := c.Timeout
		if timeout == 0 {
			timeout = 120 * time.Second
		}
		c.httpc = &http.Client{Timeout: timeout}
	}
	return c.httpc
}

func (c *ChatClient) endpoint(model string) string {
	url := c.BaseURL
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	// 容忍用户把完整的 /chat/completions 写进配置。
	url = strings.TrimRight(url, "/")
	url = strings.TrimSuffix(url, "/chat/completions")
	if c.isAzure() {
		return url + "/openai/deployments/" + model + "/chat/completions?api-version=" + azureAPIVersion
	}
	return url + "/chat/completions"
}

func (c *ChatClient) isAzure() bool {
	return strings.EqualFold(strings.TrimSpace(c.Provider), "azure")
}

// authorize 按 provider 设置鉴权头。
func (c *ChatClient) authorize(req *http.Request) {
	if c.APIKey == "" {
		return
	}
	if c.isAzure() {
		req.Header.Set("api-key", c.APIKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
}

func (c *ChatClient) maskedAuth() string {
	if c.APIKey == "" {
		return ""
	}
	tail := c.APIKey
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	if c.isAzure() {
		return "api-key ****" + tail
	}
	return "Bearer ****" + tail
}

// Chat 调用一次聊天补全。tag 用于 LLM 日志定位，形如 "AMZN/2025-03-03/market"。
func (c *ChatClient) Chat(ctx context.Context, tag, model, systemPrompt, userPrompt string) (string, error) {
	maxRetries := c.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	url := c.endpoint(model)

	messages := []map[string]string{}
	if systemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": systemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": userPrompt})
	body := map[string]any{"model": model, "messages": messages, "temperature": 0.5}
	b, _ := json.Marshal(body)

	logger.LogLLMRequest(tag, systemPrompt, userPrompt, string(b))

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt == 0 {
			logger.Debugf("[AI] 请求: POST %s, model=%s, auth=%s, tag=%s", url, model, c.maskedAuth(), tag)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		c.authorize(req)

		resp, err := c.client().Do(req)
		if err != nil {
			lastErr = err
			break
		}
		if resp.StatusCode/100 == 2 {
			var r struct {
				Choices []struct {
					Message struct {
						Content string `json:"content"`
					} `json:"message"`
				} `json:"choices"`
			}
			derr := json.NewDecoder(resp.Body).Decode(&r)
			resp.Body.Close()
			if derr != nil {
				lastErr = derr
				break
			}
			if len(r.Choices) == 0 {
				lastErr = fmt.Errorf("empty choices")
				break
			}
			out := r.Choices[0].Message.Content
			logger.LogLLMResponse(tag, out)
			return out, nil
		}

		var eresp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&eresp)
		resp.Body.Close()
		msg := strings.TrimSpace(eresp.Error.Message)
		if msg == "" {
			msg = resp.Status
		}
		lastErr = fmt.Errorf("status=%d: %s", resp.StatusCode, msg)
		if retriableStatus(resp.StatusCode) && attempt < maxRetries {
			wait := retryAfter(resp.Header.Get("Retry-After"))
			if wait == 0 {
				// 指数退避：0.8s, 1.6s, 3.2s ...
				wait = 800 * time.Millisecond << attempt
				if wait > 8*time.Second {
					wait = 8 * time.Second
				}
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			continue
		}
		break
	}
	return "", lastErr
}

func retriableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func retryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
