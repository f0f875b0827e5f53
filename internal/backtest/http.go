package backtest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"volna/internal/store/model"
	"volna/internal/universe"
)

// DecisionRepo 实盘决策记录的查询接口，由 store/sqlite 实现。
type DecisionRepo interface {
	ListLiveDecisions(ctx context.Context, symbol string, limit int) ([]model.LiveDecisionModel, error)
}

// HTTPServer 提供回测控制面：数据回补、任务提交、结果查询、报表，
// 以及实盘决策记录的只读查询。
type HTTPServer struct {
	addr      string
	fetch     *FetchService
	sim       *Simulator
	registry  *universe.Registry
	decisions DecisionRepo
	router    *gin.Engine
}

type HTTPConfig struct {
	Addr      string
	Fetch     *FetchService
	Simulator *Simulator
	Registry  *universe.Registry
	Decisions DecisionRepo
}

func NewHTTPServer(cfg HTTPConfig) (*HTTPServer, error) {
	if cfg.Simulator == nil {
		return nil, errors.New("http server requires simulator")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &HTTPServer{
		addr:      cfg.Addr,
		fetch:     cfg.Fetch,
		sim:       cfg.Simulator,
		registry:  cfg.Registry,
		decisions: cfg.Decisions,
		router:    router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *HTTPServer) registerRoutes() {
	api := s.router.Group("/api/backtest")
	api.POST("/fetch", s.handleFetch)
	api.GET("/fetch/:id", s.handleFetchStatus)
	api.GET("/jobs", s.handleJobs)
	api.GET("/data", s.handleCoverage)
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/trades", s.handleRunTrades)
	api.GET("/runs/:id/report", s.handleRunReport)
	api.POST("/sweeps", s.handleSweepStart)
	api.GET("/sweeps/:id", s.handleSweepDetail)
	s.router.GET("/api/universe", s.handleUniverse)
	s.router.GET("/api/live/decisions", s.handleLiveDecisions)
}

func (s *HTTPServer) handleFetch(c *gin.Context) {
	if s.fetch == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "fetch service disabled"})
		return
	}
	var req FetchParams
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.fetch.Submit(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *HTTPServer) handleFetchStatus(c *gin.Context) {
	if s.fetch == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "fetch service disabled"})
		return
	}
	job, ok := s.fetch.Job(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *HTTPServer) handleJobs(c *gin.Context) {
	if s.fetch == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "fetch service disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": s.fetch.Jobs()})
}

func (s *HTTPServer) handleCoverage(c *gin.Context) {
	if s.fetch == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "fetch service disabled"})
		return
	}
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and timeframe are required"})
		return
	}
	cov, err := s.fetch.store.Coverage(c.Request.Context(), symbol, tf)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"coverage": cov})
}

func (s *HTTPServer) handleRunStart(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.sim.StartRun(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *HTTPServer) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.sim.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *HTTPServer) handleRunDetail(c *gin.Context) {
	run, ok := s.sim.Run(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *HTTPServer) handleRunTrades(c *gin.Context) {
	res, err := s.sim.Result(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": res.Trades})
}

func (s *HTTPServer) handleRunReport(c *gin.Context) {
	res, err := s.sim.Result(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	html, err := RenderReport(res)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func (s *HTTPServer) handleSweepStart(c *gin.Context) {
	var req SweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.sim.StartSweep(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sweep": job})
}

func (s *HTTPServer) handleSweepDetail(c *gin.Context) {
	job, ok := s.sim.Sweep(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "sweep not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sweep": job})
}

func (s *HTTPServer) handleLiveDecisions(c *gin.Context) {
	if s.decisions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision log disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	rows, err := s.decisions.ListLiveDecisions(c.Request.Context(), c.Query("symbol"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": rows})
}

func (s *HTTPServer) handleUniverse(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "universe registry disabled"})
		return
	}
	snap := s.registry.Snapshot()
	c.JSON(http.StatusOK, gin.H{"version": snap.Version, "instruments": snap.Ordered()})
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出错。
func (s *HTTPServer) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
