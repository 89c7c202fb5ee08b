package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"klinesim/internal/candlecache"
	"klinesim/internal/exchange"
	"klinesim/internal/logger"
	"klinesim/internal/market"

	"github.com/gin-gonic/gin"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gorm.io/gorm"
)

const runRequestSchema = `{
	"type": "object",
	"required": ["pair", "strategy", "interval", "start_ts", "end_ts", "portfolio"],
	"properties": {
		"pair": {"type": "string", "minLength": 1},
		"strategy": {"type": "string", "minLength": 1},
		"interval": {"type": "string", "minLength": 1},
		"base_interval": {"type": "string"},
		"start_ts": {"type": "integer", "minimum": 1},
		"end_ts": {"type": "integer", "minimum": 1},
		"portfolio": {
			"type": "object",
			"minProperties": 1,
			"additionalProperties": {"type": "number", "minimum": 0}
		},
		"params": {"type": "object"}
	},
	"additionalProperties": false
}`

// HTTPServer exposes the cache and run lifecycle over a small JSON API.
type HTTPServer struct {
	addr      string
	svc       *Service
	store     *ResultStore
	cache     *candlecache.Cache
	venue     exchange.Handler
	router    *gin.Engine
	srv       *http.Server
	runSchema *jsonschema.Schema
}

type HTTPConfig struct {
	Addr  string
	Svc   *Service
	Store *ResultStore
	Cache *candlecache.Cache
	Venue exchange.Handler
}

func NewHTTPServer(cfg HTTPConfig) (*HTTPServer, error) {
	if cfg.Svc == nil || cfg.Store == nil || cfg.Cache == nil || cfg.Venue == nil {
		return nil, errors.New("service, store, cache and venue are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("run_request.json", strings.NewReader(runRequestSchema)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("run_request.json")
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &HTTPServer{
		addr:      cfg.Addr,
		svc:       cfg.Svc,
		store:     cfg.Store,
		cache:     cfg.Cache,
		venue:     cfg.Venue,
		router:    router,
		runSchema: schema,
	}
	s.registerRoutes()
	return s, nil
}

func (s *HTTPServer) registerRoutes() {
	api := s.router.Group("/api")
	api.GET("/candles", s.handleCandles)
	api.GET("/gaps", s.handleGaps)
	api.POST("/runs", s.handleRunSubmit)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/orders", s.handleRunOrders)
	api.GET("/runs/:id/snapshots", s.handleRunSnapshots)
	api.GET("/runs/:id/report", s.handleRunReport)
}

// Start serves until ctx is cancelled, then drains with a short timeout.
func (s *HTTPServer) Start(ctx context.Context) error {
	s.srv = &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[http] listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

// Router exposes the handler for tests.
func (s *HTTPServer) Router() http.Handler { return s.router }

type windowQuery struct {
	pair     market.Pair
	interval market.Interval
	start    time.Time
	end      time.Time
}

func parseWindowQuery(c *gin.Context) (windowQuery, error) {
	pair, err := market.ParsePair(c.Query("pair"))
	if err != nil {
		return windowQuery{}, err
	}
	interval, err := market.ParseInterval(c.Query("interval"))
	if err != nil {
		return windowQuery{}, err
	}
	startTS, err := strconv.ParseInt(c.Query("start_ts"), 10, 64)
	if err != nil {
		return windowQuery{}, fmt.Errorf("start_ts must be unix milliseconds")
	}
	endTS, err := strconv.ParseInt(c.Query("end_ts"), 10, 64)
	if err != nil {
		return windowQuery{}, fmt.Errorf("end_ts must be unix milliseconds")
	}
	q := windowQuery{
		pair:     pair,
		interval: interval,
		start:    time.UnixMilli(startTS).UTC(),
		end:      time.UnixMilli(endTS).UTC(),
	}
	if !q.start.Before(q.end) {
		return windowQuery{}, fmt.Errorf("start_ts must precede end_ts")
	}
	return q, nil
}

func (s *HTTPServer) handleCandles(c *gin.Context) {
	q, err := parseWindowQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	candles, err := s.venue.HistoricalKlines(c.Request.Context(), q.pair, q.interval, q.start, q.end)
	if err != nil {
		var integrity *exchange.DataIntegrityError
		if errors.As(err, &integrity) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "gaps": integrity.Gaps})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": candles, "count": len(candles)})
}

func (s *HTTPServer) handleGaps(c *gin.Context) {
	q, err := parseWindowQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	gaps, err := s.cache.FindMissingPeriods(c.Request.Context(), s.venue.Name(), q.pair, q.interval, q.start, q.end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"gaps": gaps, "count": len(gaps)})
}

func (s *HTTPServer) handleRunSubmit(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body is not valid JSON"})
		return
	}
	if err := s.runSchema.Validate(generic); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var cfg RunConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.svc.Submit(c.Request.Context(), cfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *HTTPServer) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (s *HTTPServer) loadRun(c *gin.Context) (Run, bool) {
	run, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return Run{}, false
	}
	return run, true
}

func (s *HTTPServer) handleRunDetail(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *HTTPServer) handleRunOrders(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	orders, err := s.store.RunOrders(c.Request.Context(), run.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (s *HTTPServer) handleRunSnapshots(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	snapshots, err := s.store.RunSnapshots(c.Request.Context(), run.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snapshots, "count": len(snapshots)})
}

func (s *HTTPServer) handleRunReport(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	snapshots, err := s.store.RunSnapshots(c.Request.Context(), run.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	orders, err := s.store.RunOrders(c.Request.Context(), run.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := RenderReport(c.Writer, run, snapshots, orders); err != nil {
		logger.Errorf("[http] render report for run %s: %v", run.ID, err)
	}
}
