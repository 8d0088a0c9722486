// Package api exposes the HTTP surface: session, agent, link and run CRUD
// plus the SSE run stream.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentcanvas/agentcanvas/pkg/config"
	"github.com/agentcanvas/agentcanvas/pkg/database"
	"github.com/agentcanvas/agentcanvas/pkg/run"
	"github.com/agentcanvas/agentcanvas/pkg/store"
	"github.com/agentcanvas/agentcanvas/pkg/treecache"
	"github.com/agentcanvas/agentcanvas/pkg/version"
)

// Server wires the HTTP layer to the store, the tree cache and the run
// coordinator.
type Server struct {
	store  store.Store
	cache  *treecache.Cache
	coord  *run.Coordinator
	db     *sql.DB
	cfg    config.Config
	logger *slog.Logger

	engine *gin.Engine
	http   *http.Server
}

// NewServer creates the server and registers all routes. db may be nil when
// running against the in-memory store; the health endpoint then skips the
// database probe.
func NewServer(s store.Store, cache *treecache.Cache, coord *run.Coordinator, db *sql.DB, cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		store:  s,
		cache:  cache,
		coord:  coord,
		db:     db,
		cfg:    cfg,
		logger: logger.With("component", "api"),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(srv.logger))
	engine.Use(securityHeaders())
	engine.Use(corsMiddleware(cfg.CORSOrigins))

	engine.GET("/healthz", srv.health)

	api := engine.Group("/api")
	api.POST("/sessions", srv.createSession)
	api.GET("/sessions", srv.listSessions)
	api.GET("/sessions/:id", srv.getSession)
	api.DELETE("/sessions/:id", srv.deleteSession)

	scoped := api.Group("", srv.requireSession())
	scoped.POST("/agents", srv.createAgent)
	scoped.GET("/agents", srv.listAgents)
	scoped.GET("/agents/:id", srv.getAgent)
	scoped.PUT("/agents/:id", srv.updateAgent)
	scoped.DELETE("/agents/:id", srv.deleteAgent)

	scoped.POST("/links", srv.createLink)
	scoped.GET("/links", srv.listLinks)
	scoped.DELETE("/links/:id", srv.deleteLink)

	scoped.POST("/runs", srv.createRun)
	scoped.GET("/runs", srv.listRuns)
	scoped.GET("/runs/:id", srv.getRun)
	scoped.GET("/runs/:id/stream", srv.streamRun)
	scoped.POST("/runs/:id/cancel", srv.cancelRun)

	api.GET("/debug/tree-cache", srv.treeCacheStats)

	srv.engine = engine
	srv.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: engine,
	}
	return srv
}

// Handler returns the underlying HTTP handler, used by tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests. Active run producers keep going; they
// persist terminal state on their own contexts.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// health reports process and database liveness.
func (s *Server) health(c *gin.Context) {
	resp := gin.H{"status": "healthy", "version": version.Full()}
	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		dbHealth, err := database.Health(ctx, s.db)
		resp["database"] = dbHealth
		if err != nil {
			resp["status"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}

// treeCacheStats exposes cached snapshot statistics for debugging.
func (s *Server) treeCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"snapshots": s.cache.Stats()})
}
