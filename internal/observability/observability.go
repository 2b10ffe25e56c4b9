// Package observability wires structured logging, Prometheus metrics and
// OpenTelemetry tracing for the contacts service and its commands.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ObsConfig is the config subset needed by the observability package.
type ObsConfig struct {
	LogLevel       string
	LogFormat      string
	OTLPEndpoint   string
	OTLPProtocol   string
	ServiceName    string
	ServiceVersion string
}

// Observability bundles the process logger, metrics and shutdown handlers.
// Tracing is exported only when an OTLP endpoint is configured; otherwise
// spans go to the global no-op provider.
type Observability struct {
	Logger   *slog.Logger
	Metrics  *Metrics
	Shutdown *ShutdownCoordinator
	Tracing  bool

	service string
	version string
}

// New sets up logging to w, a fresh metrics registry and, when configured,
// OTLP tracing. Close runs the shutdown handlers.
func New(ctx context.Context, cfg ObsConfig, w io.Writer) (*Observability, error) {
	o := &Observability{
		Logger:   SetupLogger(cfg.LogLevel, cfg.LogFormat, w),
		Metrics:  NewMetrics(),
		Shutdown: &ShutdownCoordinator{},
		service:  cfg.ServiceName,
		version:  cfg.ServiceVersion,
	}

	if cfg.OTLPEndpoint == "" {
		slog.DebugContext(ctx, "tracing disabled (no otlp_endpoint configured)")
		return o, nil
	}
	tp, err := InitTracer(ctx, TracerConfig{
		Endpoint:       cfg.OTLPEndpoint,
		Protocol:       cfg.OTLPProtocol,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	o.Tracing = true
	o.Shutdown.Register("tracer", tp.Shutdown)
	return o, nil
}

// Close runs the shutdown handlers, flushing spans last.
func (o *Observability) Close(ctx context.Context) error {
	return o.Shutdown.Shutdown(ctx)
}

// MetricsHandler serves GET /metrics from the registry and GET /health with
// the service name and version.
func (o *Observability) MetricsHandler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(o.Metrics.Registry, promhttp.HandlerOpts{})))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": o.service, "version": o.version})
	})
	return r
}

// ServeMetrics serves MetricsHandler on addr in the background and registers
// its shutdown. An empty addr disables it and returns nil.
func (o *Observability) ServeMetrics(ctx context.Context, addr string) *http.Server {
	if addr == "" {
		return nil
	}
	srv := &http.Server{Addr: addr, Handler: o.MetricsHandler()}

	go func() {
		slog.InfoContext(ctx, "metrics server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()

	o.Shutdown.Register("metrics-server", srv.Shutdown)
	return srv
}
