// Package httpapi exposes the JSON control surface: plan preview/commit,
// post lifecycle actions and scheduler status.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"postpilot/internal/dispatch"
	"postpilot/internal/metrics"
	"postpilot/internal/planner"
	"postpilot/internal/post"
	"postpilot/internal/store"
	logx "postpilot/pkg/logx"
)

type Config struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type Server struct {
	mu   sync.Mutex
	cfg  Config
	log  logx.Logger
	plan *planner.Planner
	st   store.Store
	disp *dispatch.Service
	met  *metrics.Metrics

	srv *http.Server
}

func New(cfg Config, plan *planner.Planner, st store.Store, disp *dispatch.Service, met *metrics.Metrics, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		cfg:  cfg,
		log:  log.With(logx.String("comp", "httpapi")),
		plan: plan,
		st:   st,
		disp: disp,
		met:  met,
	}
}

// Router builds the gin engine. Split out so tests can drive handlers
// through httptest without binding a socket.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.met != nil {
		r.GET("/metrics", gin.WrapH(s.met.Handler()))
	}

	v1 := r.Group("/api/v1")
	v1.POST("/plan/preview", s.handlePreview)
	v1.POST("/plan/commit", s.handleCommit)
	v1.GET("/posts", s.handleListPosts)
	v1.GET("/posts/:id", s.handleGetPost)
	v1.POST("/posts/:id/trigger", s.handleTrigger)
	v1.POST("/posts/:id/cancel", s.handleCancel)
	v1.POST("/posts/:id/retry", s.handleRetry)
	v1.GET("/scheduler/status", s.handleSchedulerStatus)
	return r
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", logx.Err(err))
		}
	}()
	s.log.Info("http api listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	shutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		s.log.Warn("http shutdown", logx.Err(err))
	}
}

func (s *Server) handlePreview(c *gin.Context) {
	var cfg planner.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	plan, err := s.plan.Preview(c.Request.Context(), cfg)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (s *Server) handleCommit(c *gin.Context) {
	var cfg planner.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	plan, summary, err := s.plan.Commit(c.Request.Context(), cfg)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"totalPosts":       summary.TotalPosts,
		"destinationCount": summary.DestinationCount,
		"matches":          plan.Matches,
		"diagnostics":      plan.Diagnostics,
	})
}

func (s *Server) handleListPosts(c *gin.Context) {
	posts, err := s.st.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if posts == nil {
		posts = []post.ScheduledPost{}
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

func (s *Server) handleGetPost(c *gin.Context) {
	p, err := s.st.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleTrigger(c *gin.Context) {
	if err := s.disp.TriggerNow(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "posted"})
}

func (s *Server) handleCancel(c *gin.Context) {
	if err := s.disp.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) handleRetry(c *gin.Context) {
	if err := s.disp.Retry(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "scheduled"})
}

func (s *Server) handleSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.disp.Status())
}

// writeError maps domain errors to HTTP statuses: bad config 400, unknown
// post 404, illegal lifecycle transition 409, anything else 500.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case planner.IsConfigError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, post.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
	case post.IsIllegalTransition(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.log.Error("request failed", logx.String("path", c.FullPath()), logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
