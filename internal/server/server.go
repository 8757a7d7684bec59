// Package server exposes the scenario catalog, the run history and on-demand
// runs over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gotrs-io/recipe-e2e/internal/report"
	"github.com/gotrs-io/recipe-e2e/internal/scenario"
	"github.com/gotrs-io/recipe-e2e/internal/store"
)

// Catalog lists and selects scenarios.
type Catalog interface {
	List() []scenario.Scenario
	Filter(ids, tags []string) ([]scenario.Scenario, error)
}

// Executor runs one scenario under a given run id.
type Executor interface {
	NewRunID() string
	RunWithID(ctx context.Context, runID string, sc scenario.Scenario) *scenario.Result
}

// History reads stored runs.
type History interface {
	List(ctx context.Context, q store.Query) ([]*scenario.Result, error)
	Get(ctx context.Context, runID string) (*scenario.Result, error)
	Stats(ctx context.Context) ([]store.ScenarioStats, error)
}

// Options wires the server's collaborators. History, Metrics and Feed may
// be nil.
type Options struct {
	Catalog  Catalog
	Executor Executor
	History  History
	Metrics  http.Handler
	Feed     Feed
	Target   string
	Logger   *zap.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// FinishedTTL and MaxFinished bound how long and how many finished
	// triggered runs are kept in memory.
	FinishedTTL time.Duration
	MaxFinished int
}

const (
	defaultFinishedTTL = 30 * time.Minute
	defaultMaxFinished = 200
)

type pendingRun struct {
	RunID      string           `json:"run_id"`
	ScenarioID string           `json:"scenario_id"`
	Status     string           `json:"status"`
	Result     *scenario.Result `json:"result,omitempty"`

	updated time.Time
}

// Server is the dashboard HTTP handler.
type Server struct {
	opts   Options
	engine *gin.Engine
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	jobs   sync.WaitGroup
	// one batch drives a browser at a time
	slot chan struct{}

	hub      *hub
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.RWMutex
	pending map[string]*pendingRun
	// ids of finished runs, oldest first
	finished []string
}

// New builds the router.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.FinishedTTL <= 0 {
		opts.FinishedTTL = defaultFinishedTTL
	}
	if opts.MaxFinished <= 0 {
		opts.MaxFinished = defaultMaxFinished
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:     opts,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		slot:     make(chan struct{}, 1),
		hub:      newHub(ctx.Done()),
		upgrader: newUpgrader(),
		now:      time.Now,
		pending:  make(map[string]*pendingRun),
	}
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		s.hub.run()
	}()
	if opts.Feed != nil {
		s.jobs.Add(1)
		go s.relayFeed()
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.GET("/healthz", s.health)
	r.GET("/report", s.htmlReport)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	api := r.Group("/api")
	{
		api.GET("/scenarios", s.listScenarios)
		api.GET("/runs", s.listRuns)
		api.GET("/runs/live", s.liveRuns)
		api.GET("/runs/:id", s.getRun)
		api.POST("/runs", s.triggerRuns)
	}
	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Close cancels triggered runs, disconnects live clients and waits for the
// background work to finish.
func (s *Server) Close() {
	s.cancel()
	s.jobs.Wait()
}

// ListenAndServe serves on addr until ctx is done, then shuts down within
// shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"scenarios": len(s.opts.Catalog.List()),
		"history":   s.opts.History != nil,
	})
}

type scenarioView struct {
	ID              string               `json:"id"`
	Title           string               `json:"title"`
	Tags            []string             `json:"tags"`
	ExpectedOutcome string               `json:"expected_outcome"`
	Steps           int                  `json:"steps"`
	Assertions      int                  `json:"assertions"`
	Stats           *store.ScenarioStats `json:"stats,omitempty"`
}

func (s *Server) listScenarios(c *gin.Context) {
	stats := map[string]store.ScenarioStats{}
	if s.opts.History != nil {
		list, err := s.opts.History.Stats(c.Request.Context())
		if err != nil {
			s.logger.Warn("history stats unavailable", zap.Error(err))
		}
		for _, st := range list {
			stats[st.ScenarioID] = st
		}
	}

	views := []scenarioView{}
	for _, sc := range s.opts.Catalog.List() {
		v := scenarioView{
			ID:              sc.ID,
			Title:           sc.Title,
			Tags:            sc.Tags,
			ExpectedOutcome: sc.ExpectedOutcome,
			Steps:           len(sc.Steps),
			Assertions:      len(sc.Assertions),
		}
		if st, ok := stats[sc.ID]; ok {
			v.Stats = &st
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"scenarios": views})
}

func (s *Server) query(c *gin.Context) (store.Query, error) {
	q := store.Query{
		ScenarioID: c.Query("scenario"),
		Status:     scenario.Status(c.Query("status")),
		Limit:      50,
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return q, errors.New("limit must be a positive integer")
		}
		q.Limit = n
	}
	return q, nil
}

func (s *Server) listRuns(c *gin.Context) {
	if s.opts.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history is disabled"})
		return
	}
	q, err := s.query(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	runs, err := s.opts.History.List(c.Request.Context(), q)
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	if runs == nil {
		runs = []*scenario.Result{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "summary": scenario.Summarize(runs)})
}

func (s *Server) getRun(c *gin.Context) {
	id := c.Param("id")

	s.mu.RLock()
	p, ok := s.pending[id]
	var snapshot pendingRun
	if ok {
		snapshot = *p
	}
	s.mu.RUnlock()
	if ok && snapshot.Result == nil {
		c.JSON(http.StatusOK, snapshot)
		return
	}

	if s.opts.History != nil {
		res, err := s.opts.History.Get(c.Request.Context(), id)
		if err == nil {
			c.JSON(http.StatusOK, res)
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("failed to load run", zap.String("run_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
			return
		}
	}
	if ok {
		c.JSON(http.StatusOK, snapshot.Result)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
}

type triggerRequest struct {
	Scenarios []string `json:"scenarios"`
	Tags      []string `json:"tags"`
}

func (s *Server) triggerRuns(c *gin.Context) {
	var req triggerRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	selected, err := s.opts.Catalog.Filter(req.Scenarios, req.Tags)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(selected) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no scenarios selected"})
		return
	}

	queued := make([]pendingRun, 0, len(selected))
	now := s.now()
	s.mu.Lock()
	s.pruneLocked(now)
	for _, sc := range selected {
		p := &pendingRun{RunID: s.opts.Executor.NewRunID(), ScenarioID: sc.ID, Status: "queued", updated: now}
		s.pending[p.RunID] = p
		queued = append(queued, *p)
	}
	s.mu.Unlock()
	for _, p := range queued {
		s.hub.publish(RunEvent{RunID: p.RunID, ScenarioID: p.ScenarioID, Status: p.Status, Source: sourceDashboard, At: now})
	}

	s.jobs.Add(1)
	go s.execute(selected, queued)

	c.JSON(http.StatusAccepted, gin.H{"runs": queued})
}

func (s *Server) execute(selected []scenario.Scenario, queued []pendingRun) {
	defer s.jobs.Done()
	select {
	case s.slot <- struct{}{}:
		defer func() { <-s.slot }()
	case <-s.ctx.Done():
		s.forget(queued)
		return
	}

	for i, sc := range selected {
		id := queued[i].RunID
		s.setStatus(id, "running", nil)
		res := s.opts.Executor.RunWithID(s.ctx, id, sc)
		s.setStatus(id, string(res.Status), res)
	}
}

func (s *Server) setStatus(id, status string, res *scenario.Result) {
	now := s.now()
	s.mu.Lock()
	p, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	p.Status = status
	p.Result = res
	p.updated = now
	ev := RunEvent{RunID: id, ScenarioID: p.ScenarioID, Status: status, Source: sourceDashboard, At: now}
	if res != nil {
		s.finished = append(s.finished, id)
		s.pruneLocked(now)
		ev.Error = res.Error
		ev.DurationMS = res.Duration.Milliseconds()
	}
	s.mu.Unlock()
	s.hub.publish(ev)
}

// pruneLocked drops finished runs past their TTL or beyond the retention
// cap, oldest first. Callers hold s.mu.
func (s *Server) pruneLocked(now time.Time) {
	for len(s.finished) > 0 {
		id := s.finished[0]
		p, ok := s.pending[id]
		if ok && len(s.finished) <= s.opts.MaxFinished && now.Sub(p.updated) < s.opts.FinishedTTL {
			return
		}
		delete(s.pending, id)
		s.finished = s.finished[1:]
	}
}

func (s *Server) forget(runs []pendingRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range runs {
		delete(s.pending, r.RunID)
	}
}

func (s *Server) htmlReport(c *gin.Context) {
	if s.opts.History == nil {
		c.String(http.StatusServiceUnavailable, "run history is disabled")
		return
	}
	q, err := s.query(c)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.opts.History.List(c.Request.Context(), q)
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		c.String(http.StatusInternalServerError, "failed to list runs")
		return
	}
	page, err := report.HTML(report.New("", s.opts.Target, runs, time.Now()))
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}
