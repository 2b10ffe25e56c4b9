package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware returns a gin middleware that continues the caller's trace,
// creates a server span per request, and records route metrics.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := extractTraceContext(c)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		name := c.Request.Method + " " + route
		ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		start := time.Now()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		duration := time.Since(start).Seconds()

		code := c.Writer.Status()
		span.SetAttributes(
			attribute.Int("http.response.status_code", code),
			attribute.Int("http.response.body.size", c.Writer.Size()),
		)
		if err := c.Errors.Last(); err != nil {
			span.RecordError(err)
		}
		if code >= 500 {
			span.SetStatus(codes.Error, strconv.Itoa(code))
		}

		if m == nil {
			return
		}
		status := strconv.Itoa(code)
		m.OperationDuration.WithLabelValues(name, status).Observe(duration)
		m.OperationTotal.WithLabelValues(name, status).Inc()
	}
}

func extractTraceContext(c *gin.Context) context.Context {
	prop := otel.GetTextMapPropagator()
	if prop == nil {
		prop = propagation.TraceContext{}
	}
	return prop.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
}
