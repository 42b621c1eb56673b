package backtest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tally/internal/decisionlog"
	"tally/internal/ledger"
	"tally/internal/logger"
)

// HTTPServer 提供只读查询接口：运行列表、账本、资金曲线、基准对照与决策日志。
// 回测由进程启动时触发，接口不提供写操作。
type HTTPServer struct {
	addr      string
	runs      *RunStore
	ledgers   ledger.Store
	decisions *decisionlog.Store // 可为 nil
	router    *gin.Engine
	srv       *http.Server
}

type HTTPConfig struct {
	Addr      string
	Runs      *RunStore
	Ledgers   ledger.Store
	Decisions *decisionlog.Store
}

func NewHTTPServer(cfg HTTPConfig) (*HTTPServer, error) {
	if cfg.Runs == nil || cfg.Ledgers == nil {
		return nil, errors.New("run store 与 ledger store 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9982"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &HTTPServer{
		addr:      cfg.Addr,
		runs:      cfg.Runs,
		ledgers:   cfg.Ledgers,
		decisions: cfg.Decisions,
		router:    router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *HTTPServer) registerRoutes() {
	api := s.router.Group("/api/backtest")
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/equity", s.handleRunEquity)
	api.GET("/runs/:id/benchmarks", s.handleRunBenchmarks)
	api.GET("/ledger/:ticker", s.handleLedger)
	api.GET("/decisions/:ticker", s.handleDecisions)
}

func (s *HTTPServer) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *HTTPServer) handleRunDetail(c *gin.Context) {
	run, err := s.runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *HTTPServer) handleRunEquity(c *gin.Context) {
	ticker := strings.ToUpper(strings.TrimSpace(c.Query("ticker")))
	if ticker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 ticker 参数"})
		return
	}
	points, err := s.runs.Equity(c.Request.Context(), c.Param("id"), ticker)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"equity": points})
}

func (s *HTTPServer) handleRunBenchmarks(c *gin.Context) {
	results, err := s.runs.Benchmarks(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"benchmarks": results})
}

func (s *HTTPServer) handleLedger(c *gin.Context) {
	ticker := strings.ToUpper(c.Param("ticker"))
	// Store 的内存视图只在 Load 过的标的上有数据，HTTP 读之前补一次 Load。
	if _, _, err := s.ledgers.Load(ticker); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticker": ticker, "records": s.ledgers.Records(ticker)})
}

func (s *HTTPServer) handleDecisions(c *gin.Context) {
	if s.decisions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "决策日志未启用"})
		return
	}
	entries, err := s.decisions.ByTicker(c.Param("ticker"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": entries})
}

// Start 非阻塞启动 HTTP 服务。
func (s *HTTPServer) Start() {
	s.srv = &http.Server{Addr: s.addr, Handler: s.router}
	go func() {
		logger.Infof("[http] 监听 %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("[http] 服务退出: %v", err)
		}
	}()
}

// Shutdown 优雅关闭。
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
