package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestShutdownOrder(t *testing.T) {
	var order []string
	s := &ShutdownCoordinator{}
	for _, name := range []string{"backend", "directory", "bridge"} {
		s.Register(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(order, ","); got != "bridge,directory,backend" {
		t.Errorf("order = %s", got)
	}

	// A second shutdown has nothing left to run.
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(order) != 3 {
		t.Errorf("handlers ran %d times, want 3", len(order))
	}
}

func TestShutdownJoinsErrors(t *testing.T) {
	errBackend := errors.New("backend busy")
	errBridge := errors.New("bridge stuck")
	ran := 0
	s := &ShutdownCoordinator{}
	s.Register("backend", func(context.Context) error { ran++; return errBackend })
	s.Register("directory", func(context.Context) error { ran++; return nil })
	s.Register("bridge", func(context.Context) error { ran++; return errBridge })

	err := s.Shutdown(context.Background())
	if !errors.Is(err, errBackend) || !errors.Is(err, errBridge) {
		t.Errorf("error = %v, want both failures", err)
	}
	if !strings.Contains(err.Error(), "close bridge") {
		t.Errorf("error %q does not name the component", err)
	}
	if ran != 3 {
		t.Errorf("ran %d handlers, want 3", ran)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info+2", slog.LevelInfo + 2},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger("warn", "json", &buf)

	logger.Info("dropped")
	logger.Warn("page cache refresh failed", "error", "store closed")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if rec["msg"] != "page cache refresh failed" || rec["error"] != "store closed" {
		t.Errorf("record = %v", rec)
	}
	if slog.Default() != logger {
		t.Error("SetupLogger did not install the default logger")
	}
}

func TestPrettyHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	if h.color {
		t.Error("color enabled for a non-terminal writer")
	}

	logger := slog.New(h).With("backend", "sqlite").WithGroup("cache")
	logger.Debug("page cache filled",
		"contacts", 200,
		"display_name", "Ada Lovelace",
		slog.Group("refresh", "took", 1500*time.Millisecond),
	)

	line := buf.String()
	for _, want := range []string{
		" DBG page cache filled",
		" backend=sqlite",
		" cache.contacts=200",
		` cache.display_name="Ada Lovelace"`,
		" cache.refresh.took=1.5s",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if !strings.HasSuffix(line, "\n") {
		t.Errorf("line %q not newline terminated", line)
	}
}

func TestPrettyHandlerLevels(t *testing.T) {
	h := NewPrettyHandler(io.Discard, nil)
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug enabled by default")
	}
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info disabled by default")
	}

	for l, want := range map[slog.Level]string{
		slog.LevelDebug - 4: "DBG",
		slog.LevelDebug:     "DBG",
		slog.LevelInfo:      "INF",
		slog.LevelWarn + 1:  "WRN",
		slog.LevelError:     "ERR",
	} {
		if got := h.levelLabel(l); got != want {
			t.Errorf("label(%v) = %q, want %q", l, got, want)
		}
	}
	h.color = true
	if got := h.levelLabel(slog.LevelError); !strings.Contains(got, "ERR") || got == "ERR" {
		t.Errorf("colored label = %q", got)
	}
}

func TestTraceHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(&TraceHandler{Handler: slog.NewJSONHandler(&buf, nil)}).With("component", "index")

	traceID, _ := trace.TraceIDFromHex("0af7651916cd43dd8448eb211c80319c")
	spanID, _ := trace.SpanIDFromHex("b7ad6b7169203331")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))
	logger.InfoContext(ctx, "identifier index built")
	logger.Info("no span")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines", len(lines))
	}
	var withSpan, without map[string]any
	_ = json.Unmarshal([]byte(lines[0]), &withSpan)
	_ = json.Unmarshal([]byte(lines[1]), &without)
	if withSpan["trace_id"] != traceID.String() || withSpan["span_id"] != spanID.String() || withSpan["component"] != "index" {
		t.Errorf("record with span = %v", withSpan)
	}
	if _, ok := without["trace_id"]; ok {
		t.Errorf("record without span has a trace id: %v", without)
	}
}

func TestOperation(t *testing.T) {
	m := NewMetrics()
	for _, err := range []error{nil, nil, errors.New("store closed"), fmt.Errorf("page: %w", context.Canceled)} {
		op, ctx := StartOperation(context.Background(), m, "directory.page")
		if ctx == nil {
			t.Fatal("nil context")
		}
		op.End(err)
	}

	for status, want := range map[string]float64{StatusOK: 2, StatusError: 1, StatusCanceled: 1} {
		if got := testutil.ToFloat64(m.OperationTotal.WithLabelValues("directory.page", status)); got != want {
			t.Errorf("%s operations = %v, want %v", status, got, want)
		}
	}
	if n := testutil.CollectAndCount(m.OperationDuration); n != 3 {
		t.Errorf("duration series = %d, want 3", n)
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, StatusOK},
		{errors.New("x"), StatusError},
		{context.Canceled, StatusCanceled},
		{fmt.Errorf("fetch: %w", context.DeadlineExceeded), StatusCanceled},
	}
	for _, tt := range tests {
		if got := Status(tt.err); got != tt.want {
			t.Errorf("Status(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestNewWithoutTracing(t *testing.T) {
	obs, err := New(context.Background(), ObsConfig{LogLevel: "info", ServiceName: "contacts", ServiceVersion: "test"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if obs.Tracing {
		t.Error("tracing enabled without an endpoint")
	}
	if obs.Logger == nil || obs.Metrics == nil {
		t.Fatal("logger or metrics missing")
	}

	closed := false
	obs.Shutdown.Register("directory", func(context.Context) error { closed = true; return nil })
	if err := obs.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !closed {
		t.Error("Close did not run the shutdown handlers")
	}
}

func TestNewWithTracing(t *testing.T) {
	for _, protocol := range []string{"http", "grpc"} {
		t.Run(protocol, func(t *testing.T) {
			obs, err := New(context.Background(), ObsConfig{
				OTLPEndpoint: "127.0.0.1:4318",
				OTLPProtocol: protocol,
				ServiceName:  "contacts",
			}, io.Discard)
			if err != nil {
				t.Fatal(err)
			}
			if !obs.Tracing {
				t.Error("tracing not enabled")
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			// Nothing listens on the endpoint; the flush may fail but must return.
			_ = obs.Close(ctx)
		})
	}
}

func TestInitTracerUnknownProtocol(t *testing.T) {
	if _, err := InitTracer(context.Background(), TracerConfig{Endpoint: "x:1", Protocol: "carrier-pigeon"}); err == nil {
		t.Error("expected an error for an unknown protocol")
	}
}

func TestMetricsHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	obs, err := New(context.Background(), ObsConfig{ServiceName: "contacts", ServiceVersion: "1.2.3"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	obs.Metrics.ObservePageCache(CacheHit)
	h := obs.MetricsHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || health["status"] != "ok" || health["version"] != "1.2.3" {
		t.Errorf("health = %d %v", rec.Code, health)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `contacts_page_cache_total{result="hit"} 1`) {
		t.Errorf("metrics output missing the cache counter:\n%s", rec.Body.String())
	}
}

func TestServeMetricsDisabled(t *testing.T) {
	obs, err := New(context.Background(), ObsConfig{}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if srv := obs.ServeMetrics(context.Background(), ""); srv != nil {
		t.Errorf("ServeMetrics(\"\") = %v, want nil", srv)
	}
}

// --- Directory meters ---

func TestDirectoryMeters(t *testing.T) {
	m := NewMetrics()
	m.ObservePageCache(CacheHit)
	m.ObservePageCache(CacheHit)
	m.ObservePageCache(CacheMiss)
	m.ObserveRefresh(RefreshFilled)
	m.ObserveRangeQuery("ids", 42)
	m.ObserveRangeQuery("scan", 8)
	m.SetIndexSize(1200)
	m.ObserveError("page", "invalid_window")

	if got := testutil.ToFloat64(m.PageCache.WithLabelValues(CacheHit)); got != 2 {
		t.Errorf("cache hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CacheRefresh.WithLabelValues(RefreshFilled)); got != 1 {
		t.Errorf("refreshes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RowsRead); got != 50 {
		t.Errorf("rows read = %v, want 50", got)
	}
	if got := testutil.ToFloat64(m.IndexSize); got != 1200 {
		t.Errorf("index size = %v, want 1200", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("page", "invalid_window")); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObservePageCache(CacheMiss)
	m.ObserveRefresh(RefreshSkipped)
	m.ObserveRangeQuery("scan", 1)
	m.SetIndexSize(1)
	m.ObserveError("op", "x")

	op, _ := StartOperation(context.Background(), nil, "nil_metrics")
	op.End(errors.New("still fine"))
}

// --- Gin middleware ---

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	m := NewMetrics()
	r := gin.New()
	r.Use(GinMiddleware(m))

	var sawRemoteParent bool
	r.GET("/v1/contacts/:id", func(c *gin.Context) {
		sc := trace.SpanContextFromContext(c.Request.Context())
		sawRemoteParent = sc.TraceID().String() == "00000000000000000000000000000001"
		c.Status(http.StatusOK)
	})
	r.GET("/boom", func(c *gin.Context) {
		_ = c.Error(errors.New("boom"))
		c.Status(http.StatusInternalServerError)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/contacts/abc", nil)
	req.Header.Set("traceparent", "00-00000000000000000000000000000001-0000000000000001-01")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	if got := testutil.ToFloat64(m.OperationTotal.WithLabelValues("GET /v1/contacts/:id", "200")); got != 1 {
		t.Errorf("route count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.OperationTotal.WithLabelValues("GET /boom", "500")); got != 1 {
		t.Errorf("error route count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.OperationTotal.WithLabelValues("GET unmatched", "404")); got != 1 {
		t.Errorf("unmatched count = %v, want 1", got)
	}
	if !sawRemoteParent {
		t.Error("handler span did not continue the incoming trace")
	}
}
