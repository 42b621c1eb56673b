package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"tally/internal/logger"
	"tally/internal/signal"
)

// Store 是账本的持久化接口。Load 在存储缺失或不可读时必须返回冷启动
// 状态且不报错（记一条日志），保证回测总能启动。
type Store interface {
	Load(ticker string) (State, []Record, error)
	Append(ticker string, rec Record) error
	Records(ticker string) []Record
	Close() error
}

var csvHeader = []string{
	"date", "ticker", "signal", "action", "execution_price",
	"shares_delta", "transaction_amount", "cash_after", "shares_after",
	"total_value", "cumulative_return_pct",
}

// CSVStore 以每个标的一个 CSV 文件的方式持久化账本。
// 每次 Append 全量重写（先写临时文件再 rename）：崩溃后磁盘上
// 要么是完整的新快照，要么是完整的旧快照，不存在半条记录。
type CSVStore struct {
	root           string
	initialCapital decimal.Decimal

	mu      sync.Mutex
	records map[string][]Record
}

// NewCSVStore 在 root 下管理账本文件，目录不存在时创建。
func NewCSVStore(root string, initialCapital decimal.Decimal) (*CSVStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("ledger root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &CSVStore{
		root:           root,
		initialCapital: initialCapital,
		records:        make(map[string][]Record),
	}, nil
}

func (s *CSVStore) path(ticker string) string {
	return filepath.Join(s.root, strings.ToUpper(ticker)+"_ledger.csv")
}

// Load 反序列化最近一次持久化的记录集，并由尾部记录重建活动状态。
// 文件缺失或不可读按冷启动处理（非致命，落日志）。
func (s *CSVStore) Load(ticker string) (State, []Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(ticker)
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("[ledger] %s 账本不可读，按冷启动处理: %v", ticker, err)
		}
		s.records[ticker] = nil
		return NewState(ticker, s.initialCapital), nil, nil
	}
	defer f.Close()

	recs, err := readRecords(f)
	if err != nil {
		logger.Warnf("[ledger] %s 账本解析失败，按冷启动处理: %v", ticker, err)
		s.records[ticker] = nil
		return NewState(ticker, s.initialCapital), nil, nil
	}

	s.records[ticker] = recs
	state := RestoreState(ticker, s.initialCapital, recs)
	if len(recs) > 0 {
		logger.Infof("[ledger] %s 载入历史账务 %d 条，现金=%s 持股=%d",
			ticker, len(recs), state.Cash.String(), state.Shares)
	}
	return state, append([]Record(nil), recs...), nil
}

// Append 追加记录并全量重写持久化文件。
func (s *CSVStore) Append(ticker string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := append(s.records[ticker], rec)
	if err := s.rewrite(ticker, next); err != nil {
		return err
	}
	s.records[ticker] = next
	return nil
}

// Records 返回内存中已持久化的记录副本。
func (s *CSVStore) Records(ticker string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records[ticker]...)
}

func (s *CSVStore) Close() error { return nil }

func (s *CSVStore) rewrite(ticker string, recs []Record) error {
	path := s.path(ticker)
	tmp, err := os.CreateTemp(s.root, "."+strings.ToUpper(ticker)+"-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(csvHeader); err != nil {
		tmp.Close()
		return err
	}
	for _, r := range recs {
		row := []string{
			r.Date,
			r.Ticker,
			string(r.Signal),
			string(r.Action),
			r.ExecutionPrice.String(),
			strconv.FormatInt(r.SharesDelta, 10),
			r.TransactionAmount.String(),
			r.CashAfter.String(),
			strconv.FormatInt(r.SharesAfter, 10),
			r.TotalValue.String(),
			r.CumulativeReturnPct.StringFixed(2),
		}
		if err := w.Write(row); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readRecords(f *os.File) ([]Record, error) {
	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if len(rows[0]) != len(csvHeader) {
		return nil, fmt.Errorf("表头列数不符: %d", len(rows[0]))
	}
	recs := make([]Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("第 %d 行: %w", i+2, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func parseRow(row []string) (Record, error) {
	if len(row) != len(csvHeader) {
		return Record{}, fmt.Errorf("列数不符: %d", len(row))
	}
	price, err := decimal.NewFromString(row[4])
	if err != nil {
		return Record{}, fmt.Errorf("execution_price: %w", err)
	}
	sharesDelta, err := strconv.ParseInt(row[5], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("shares_delta: %w", err)
	}
	amount, err := decimal.NewFromString(row[6])
	if err != nil {
		return Record{}, fmt.Errorf("transaction_amount: %w", err)
	}
	cash, err := decimal.NewFromString(row[7])
	if err != nil {
		return Record{}, fmt.Errorf("cash_after: %w", err)
	}
	shares, err := strconv.ParseInt(row[8], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("shares_after: %w", err)
	}
	total, err := decimal.NewFromString(row[9])
	if err != nil {
		return Record{}, fmt.Errorf("total_value: %w", err)
	}
	retPct, err := decimal.NewFromString(row[10])
	if err != nil {
		return Record{}, fmt.Errorf("cumulative_return_pct: %w", err)
	}
	return Record{
		Date:                row[0],
		Ticker:              row[1],
		Signal:              signal.Normalize(row[2]),
		Action:              signal.Normalize(row[3]),
		ExecutionPrice:      price,
		SharesDelta:         sharesDelta,
		TransactionAmount:   amount,
		CashAfter:           cash,
		SharesAfter:         shares,
		TotalValue:          total,
		CumulativeReturnPct: retPct,
	}, nil
}
