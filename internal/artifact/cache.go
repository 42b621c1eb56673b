// Package artifact 管理信号生成器产出的决策报告缓存。
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Key 定位一份决策报告：按 (ticker, 分析日) 寻址。
type Key struct {
	Ticker string // 大写
	Date   string // YYYY-MM-DD
}

func (k Key) String() string {
	return k.Ticker + "@" + k.Date
}

// Cache 是键寻址的报告缓存。Has 为真即视为该日信号已计算完毕，
// 回测不再触发生成（这是续跑与省配额的关键约定）。
// 报告由信号生成器写入一次，之后对回测只读。
type Cache interface {
	Has(key Key) bool
	Get(key Key) (string, error)
	Put(key Key, content string) error
}

const reportFileName = "final_trade_decision.md"

// FSCache 按 <root>/<ticker>/<date>/reports/final_trade_decision.md
// 的既有目录约定存放报告（与历史产出的数据布局兼容）。
type FSCache struct {
	root string
}

func NewFSCache(root string) (*FSCache, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("artifact root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FSCache{root: root}, nil
}

func (c *FSCache) path(key Key) string {
	return filepath.Join(c.root, strings.ToUpper(key.Ticker), key.Date, "reports", reportFileName)
}

func (c *FSCache) Has(key Key) bool {
	info, err := os.Stat(c.path(key))
	return err == nil && !info.IsDir()
}

func (c *FSCache) Get(key Key) (string, error) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return "", fmt.Errorf("读取报告失败 (%s): %w", key, err)
	}
	return string(data), nil
}

func (c *FSCache) Put(key Key, content string) error {
	path := c.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
