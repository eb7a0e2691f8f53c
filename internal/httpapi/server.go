// Package httpapi exposes the worker's admin HTTP surface: liveness,
// Prometheus scraping, and a convenience JSON stats summary, per
// SPEC_FULL.md §D.3. Grounded on the teacher's gin-based API routers.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessChecker reports whether the worker has finished its initial
// identity cache load and is actively processing.
type ReadinessChecker interface {
	Ready() bool
}

// StatsFunc produces the plain-value metrics snapshot served at /stats.
type StatsFunc func() interface{}

// Server wraps a gin engine and an http.Server for graceful shutdown.
type Server struct {
	engine *gin.Engine
	srv    *http.Server
}

// New builds the admin HTTP surface. addr is e.g. ":8080".
func New(addr string, readiness ReadinessChecker, stats StatsFunc) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		if !readiness.Ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	engine.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, stats())
	})

	return &Server{
		engine: engine,
		srv: &http.Server{
			Addr:         addr,
			Handler:      engine,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Run starts the server and blocks until it stops; ErrServerClosed is
// suppressed since that's the expected outcome of a graceful Shutdown.
func (s *Server) Run() error {
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
