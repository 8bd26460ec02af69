package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gabe/crew/internal/budget"
	"github.com/gabe/crew/internal/logging"
	"github.com/gabe/crew/internal/mission"
	"github.com/gabe/crew/internal/models"
	"github.com/gabe/crew/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Missions is the read side of the coordinator
type Missions interface {
	Snapshot(ctx context.Context, missionID string) (mission.Snapshot, error)
	Tasks(ctx context.Context, missionID string) ([]*models.Task, error)
}

// Options configures the status server
type Options struct {
	Listen   string
	Missions Missions
	Store    storage.MissionStore // optional, enables GET /missions
	Rules    budget.RuleStore     // optional, enables GET /alerts
	Gatherer prometheus.Gatherer  // defaults to the global registry
	Logger   *slog.Logger
}

// Server is the read-only status API
type Server struct {
	opts       Options
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
	started    time.Time
}

// NewServer builds the gin engine and routes
func NewServer(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		opts:    opts,
		logger:  logging.OrDiscard(opts.Logger),
		engine:  gin.New(),
		started: time.Now(),
	}
	s.engine.Use(gin.Recovery(), s.accessLog())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	s.engine.GET("/missions", s.listMissions)
	s.engine.GET("/missions/:id", s.getMission)
	s.engine.GET("/missions/:id/tasks", s.getTasks)
	s.engine.GET("/alerts", s.listAlerts)
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status api listening", "addr", s.opts.Listen)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) listMissions(c *gin.Context) {
	if s.opts.Store == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "mission store not configured"})
		return
	}

	filter := storage.MissionFilter{
		UserID: c.Query("user"),
		State:  models.MissionState(c.Query("state")),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		filter.Limit = limit
	}

	missions, err := s.opts.Store.List(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	if missions == nil {
		missions = []*models.Mission{}
	}
	c.JSON(http.StatusOK, gin.H{"missions": missions})
}

func (s *Server) getMission(c *gin.Context) {
	snap, err := s.opts.Missions.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getTasks(c *gin.Context) {
	tasks, err := s.opts.Missions.Tasks(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) listAlerts(c *gin.Context) {
	if s.opts.Rules == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "alert store not configured"})
		return
	}
	user := c.Query("user")
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user query parameter required"})
		return
	}

	ctx := c.Request.Context()
	rules, err := s.opts.Rules.ListRules(ctx, user)
	if err != nil {
		s.fail(c, err)
		return
	}
	firings, err := s.opts.Rules.ListFirings(ctx, user)
	if err != nil {
		s.fail(c, err)
		return
	}
	if rules == nil {
		rules = []*models.AlertRule{}
	}
	if firings == nil {
		firings = []*models.AlertFiring{}
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "firings": firings})
}

func (s *Server) fail(c *gin.Context, err error) {
	if errors.Is(err, mission.ErrMissionNotFound) || errors.Is(err, storage.ErrMissionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.logger.Warn("api request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
