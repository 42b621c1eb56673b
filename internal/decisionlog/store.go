// Package decisionlog 用 SQLite 记录每个 (ticker, date) 的信号解析结果，
// 包含来源（缓存命中 / 新生成 / 降级）与出错详情，供复盘与 HTTP 查询。
package decisionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// 信号来源。
const (
	SourceCache     = "cache"     // 命中已有报告
	SourceGenerated = "generated" // 本次调用生成器产出
	SourceFallback  = "fallback"  // 生成失败，降级 HOLD
)

// Entry 是一条信号解析记录。
type Entry struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	RunID     string `gorm:"index" json:"run_id"`
	Ticker    string `gorm:"index:idx_ticker_date" json:"ticker"`
	Date      string `gorm:"index:idx_ticker_date" json:"date"`
	Signal    string `json:"signal"`
	Source    string `json:"source"`
	Error     string `json:"error,omitempty"`
	// Detail 存放结构化决策（confidence、rationale 等），原样保留。
	Detail    datatypes.JSON `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (Entry) TableName() string { return "decision_entries" }

// Store 基于 Gorm + SQLite 的决策日志。
type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("decision log: 路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	// CGO_ENABLED=0 环境下 mattn/go-sqlite3 是 stub，DSN 的 _pragma 语法
	// 也是 modernc 驱动的写法，这里显式走纯 Go 的 modernc 驱动。
	db, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：给并发 HTTP 读留一点余量，同时压低锁竞争。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record 写入一条解析记录。detail 为 nil 时不落 Detail 字段。
func (s *Store) Record(runID, ticker, date, sig, source, errMsg string, detail any) error {
	entry := Entry{
		RunID:     runID,
		Ticker:    strings.ToUpper(ticker),
		Date:      date,
		Signal:    sig,
		Source:    source,
		Error:     errMsg,
		CreatedAt: time.Now(),
	}
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("decision detail 序列化失败: %w", err)
		}
		entry.Detail = datatypes.JSON(raw)
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry).Error
}

// ByTicker 按时间顺序返回某标的的全部记录。
func (s *Store) ByTicker(ticker string) ([]Entry, error) {
	var out []Entry
	err := s.db.
		Where("ticker = ?", strings.ToUpper(ticker)).
		Order("date asc, id asc").
		Find(&out).Error
	return out, err
}

// ByRun 返回某次回测运行的全部记录。
func (s *Store) ByRun(runID string) ([]Entry, error) {
	var out []Entry
	err := s.db.Where("run_id = ?", runID).Order("id asc").Find(&out).Error
	return out, err
}

// CountBySource 统计一次运行里各来源的条数（cache/generated/fallback）。
func (s *Store) CountBySource(runID string) (map[string]int64, error) {
	type row struct {
		Source string
		N      int64
	}
	var rows []row
	err := s.db.Model(&Entry{}).
		Select("source, count(*) as n").
		Where("run_id = ?", runID).
		Group("source").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Source] = r.N
	}
	return out, nil
}
