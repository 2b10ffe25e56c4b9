package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gezibash/arc-contacts/internal/contacts"
	"github.com/gezibash/arc-contacts/internal/directory"
	"github.com/gezibash/arc-contacts/internal/directory/physical"
	"github.com/gezibash/arc-contacts/internal/directory/physical/backendtest"
	_ "github.com/gezibash/arc-contacts/internal/directory/physical/memory"
	"github.com/gezibash/arc-contacts/internal/observability"
)

type fixture struct {
	t       *testing.T
	handler http.Handler
	dir     *directory.Directory
	metrics *observability.Metrics
}

func newFixture(t *testing.T, seed int) *fixture {
	t.Helper()
	ctx := context.Background()
	metrics := observability.NewMetrics()
	be, err := physical.New(ctx, "memory", nil, metrics)
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	t.Cleanup(func() { _ = be.Close() })
	if seed > 0 {
		backendtest.Seed(t, be, seed, 2)
	}
	opts := directory.DefaultOptions()
	opts.Metrics = metrics
	dir, err := directory.New(be, opts)
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	t.Cleanup(func() { _ = dir.Close() })
	return &fixture{t: t, handler: NewEngine(dir, metrics), dir: dir, metrics: metrics}
}

func (f *fixture) do(method, target string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			f.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func ids(cs []*contacts.Contact) []contacts.ID {
	out := make([]contacts.ID, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestPage(t *testing.T) {
	f := newFixture(t, 30)

	rec := f.do(http.MethodGet, "/v1/contacts?offset=5&limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	got := decode[PageResponse](t, rec)
	want, err := f.dir.Page(context.Background(), directory.Window{Offset: 5, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(ids(want), ids(got.Contacts)); diff != "" {
		t.Errorf("ids (-want +got):\n%s", diff)
	}
	if got.Offset != 5 || got.Limit != 10 {
		t.Errorf("window = %d/%d", got.Offset, got.Limit)
	}

	rec = f.do(http.MethodGet, "/v1/contacts", nil)
	if got := decode[PageResponse](t, rec); len(got.Contacts) != 30 || got.Limit != DefaultLimit {
		t.Errorf("default page = %d contacts, limit %d", len(got.Contacts), got.Limit)
	}
}

func TestPageBadRequests(t *testing.T) {
	f := newFixture(t, 3)
	for _, target := range []string{
		"/v1/contacts?offset=-1",
		"/v1/contacts?limit=ten",
		"/v1/contacts?where=kind%20%3D%3D",
	} {
		rec := f.do(http.MethodGet, target, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
		if body := decode[map[string]string](t, rec); body["error"] == "" {
			t.Errorf("%s: no error message", target)
		}
	}
}

func TestCountAndFilter(t *testing.T) {
	f := newFixture(t, 0)
	be := []struct{ id, name string }{{"1", "Alice"}, {"2", "Bob"}, {"3", "Malice"}}
	for _, c := range be {
		contact := contacts.New(contacts.ID(c.id))
		contact.DisplayName = c.name
		if rec := f.do(http.MethodPost, "/v1/contacts", contact); rec.Code != http.StatusCreated {
			t.Fatalf("create %s: status %d: %s", c.name, rec.Code, rec.Body)
		}
	}

	rec := f.do(http.MethodGet, "/v1/contacts/count?match=ali", nil)
	if got := decode[map[string]int](t, rec)["count"]; got != 2 {
		t.Errorf("count(ali) = %d, want 2", got)
	}
	rec = f.do(http.MethodGet, "/v1/contacts/count", nil)
	if got := decode[map[string]int](t, rec)["count"]; got != 3 {
		t.Errorf("count = %d, want 3", got)
	}

	match := "bob"
	if rec := f.do(http.MethodPut, "/v1/contacts/filter", FilterRequest{Match: &match}); rec.Code != http.StatusNoContent {
		t.Errorf("filter status = %d", rec.Code)
	}
	rec = f.do(http.MethodGet, "/v1/contacts", nil)
	if diff := cmp.Diff([]contacts.ID{"2"}, ids(decode[PageResponse](t, rec).Contacts)); diff != "" {
		t.Errorf("page under filter (-want +got):\n%s", diff)
	}
	rec = f.do(http.MethodGet, "/v1/contacts/count", nil)
	if got := decode[map[string]int](t, rec)["count"]; got != 1 {
		t.Errorf("count under filter = %d, want 1", got)
	}
	rec = f.do(http.MethodGet, "/v1/contacts?match=", nil)
	if got := len(decode[PageResponse](t, rec).Contacts); got != 3 {
		t.Errorf("page with empty match = %d contacts, want 3", got)
	}

	if rec := f.do(http.MethodPut, "/v1/contacts/filter", FilterRequest{}); rec.Code != http.StatusNoContent {
		t.Errorf("clear filter status = %d", rec.Code)
	}
	rec = f.do(http.MethodGet, "/v1/contacts/count", nil)
	if got := decode[map[string]int](t, rec)["count"]; got != 3 {
		t.Errorf("count after clearing filter = %d, want 3", got)
	}
}

func TestLookup(t *testing.T) {
	f := newFixture(t, 10)

	rec := f.do(http.MethodPost, "/v1/contacts/lookup", LookupRequest{IDs: []contacts.ID{"c0000003", "c0000001", "nope"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	got := decode[PageResponse](t, rec)
	if diff := cmp.Diff([]contacts.ID{"c0000003", "c0000001"}, ids(got.Contacts)); diff != "" {
		t.Errorf("ids (-want +got):\n%s", diff)
	}

	if rec := f.do(http.MethodPost, "/v1/contacts/lookup", map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing ids: status = %d, want 400", rec.Code)
	}
}

func TestCreate(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(http.MethodPost, "/v1/contacts", map[string]any{
		"identity": map[string]string{"given_name": "Grace", "family_name": "Hopper"},
		"fields":   map[string]any{"email": []map[string]string{{"value": "grace@example.com"}}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	id := decode[map[string]string](t, rec)["id"]
	if id == "" {
		t.Fatal("no id returned")
	}

	rec = f.do(http.MethodPost, "/v1/contacts/lookup", LookupRequest{IDs: []contacts.ID{contacts.ID(id)}})
	got := decode[PageResponse](t, rec)
	if len(got.Contacts) != 1 || got.Contacts[0].DisplayName != "Grace Hopper" || got.Contacts[0].First(contacts.KindEmail) != "grace@example.com" {
		t.Errorf("created contact = %+v", got.Contacts)
	}

	if rec := f.do(http.MethodPost, "/v1/contacts", map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Errorf("nameless contact: status = %d, want 400", rec.Code)
	}
}

func TestCacheRoutes(t *testing.T) {
	f := newFixture(t, 5)

	rec := f.do(http.MethodGet, "/v1/contacts/cache", nil)
	stats := decode[directory.CacheStats](t, rec)
	if !stats.Enabled || stats.Capacity != directory.DefaultCacheCapacity || stats.Threshold != directory.DefaultCacheThreshold {
		t.Errorf("stats = %+v", stats)
	}

	if rec := f.do(http.MethodDelete, "/v1/contacts/cache", nil); rec.Code != http.StatusNoContent {
		t.Errorf("reset status = %d", rec.Code)
	}
}

func TestRouteMetrics(t *testing.T) {
	f := newFixture(t, 1)
	f.do(http.MethodGet, "/health", nil)
	f.do(http.MethodGet, "/v1/contacts/count", nil)

	if got := testutil.ToFloat64(f.metrics.OperationTotal.WithLabelValues("GET /v1/contacts/count", "200")); got != 1 {
		t.Errorf("count route total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(f.metrics.OperationTotal.WithLabelValues("GET /health", "200")); got != 1 {
		t.Errorf("health route total = %v, want 1", got)
	}
}

func TestServerLifecycle(t *testing.T) {
	f := newFixture(t, 0)
	srv, err := New("127.0.0.1:0", &observability.Observability{Metrics: f.metrics}, f.dir)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	if err := srv.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Serve: %v", err)
	}
}
