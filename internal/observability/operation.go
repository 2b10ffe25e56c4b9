package observability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/gezibash/arc-contacts"

// Operation status labels.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusCanceled = "canceled"
)

// Operation tracks one directory call: a span, a duration and a counter
// labelled by status, and a log line when it fails.
type Operation struct {
	ctx     context.Context
	span    trace.Span
	metrics *Metrics
	name    string
	start   time.Time
}

// StartOperation starts a span named name under ctx. Directory reads are
// frequent, so success is only logged at debug.
func StartOperation(ctx context.Context, m *Metrics, name string, attrs ...attribute.KeyValue) (*Operation, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
	return &Operation{
		ctx:     ctx,
		span:    span,
		metrics: m,
		name:    name,
		start:   time.Now(),
	}, ctx
}

// SetAttributes annotates the operation span.
func (o *Operation) SetAttributes(attrs ...attribute.KeyValue) {
	o.span.SetAttributes(attrs...)
}

// End finishes the operation. A context error counts as canceled rather than
// failed and is logged at warn.
func (o *Operation) End(err error) {
	elapsed := time.Since(o.start)
	status := Status(err)

	switch status {
	case StatusOK:
		slog.DebugContext(o.ctx, "operation completed", "operation", o.name, "duration", elapsed)
	case StatusCanceled:
		o.span.AddEvent("canceled")
		slog.WarnContext(o.ctx, "operation canceled", "operation", o.name, "error", err, "duration", elapsed)
	default:
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
		slog.ErrorContext(o.ctx, "operation failed", "operation", o.name, "error", err, "duration", elapsed)
	}
	o.span.End()

	if o.metrics == nil {
		return
	}
	o.metrics.OperationDuration.WithLabelValues(o.name, status).Observe(elapsed.Seconds())
	o.metrics.OperationTotal.WithLabelValues(o.name, status).Inc()
}

// Status maps an operation result to its metric label.
func Status(err error) string {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusCanceled
	default:
		return StatusError
	}
}
