// Package bridge exposes a Directory over HTTP with JSON bodies.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gezibash/arc-contacts/internal/directory"
	"github.com/gezibash/arc-contacts/internal/observability"
)

// Server serves the contact routes on its own listener.
type Server struct {
	http     *http.Server
	listener net.Listener
	engine   *gin.Engine
}

// New listens on addr and prepares the routes. Call Serve to accept requests.
func New(addr string, obs *observability.Observability, dir *directory.Directory) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	var metrics *observability.Metrics
	if obs != nil {
		metrics = obs.Metrics
	}
	engine := NewEngine(dir, metrics)
	return &Server{
		http: &http.Server{
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		listener: lis,
		engine:   engine,
	}, nil
}

// NewEngine returns the gin engine with every route registered.
func NewEngine(dir *directory.Directory, metrics *observability.Metrics) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), observability.GinMiddleware(metrics))
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	newHandler(dir).register(engine.Group("/v1/contacts"))
	return engine
}

// Serve blocks until the server is stopped.
func (s *Server) Serve() error {
	slog.Info("bridge listening", "addr", s.Addr())
	if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Stop drains in-flight requests, closing them outright once ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		slog.Warn("graceful stop timed out, forcing")
		return s.http.Close()
	}
	return nil
}
