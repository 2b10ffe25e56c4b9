package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/gezibash/arc-contacts/internal/cli"
	"github.com/gezibash/arc-contacts/internal/directory"
	"github.com/gezibash/arc-contacts/internal/directory/physical"
)

type envelope[T any] struct {
	Meta cli.Meta `json:"meta"`
	Data T        `json:"data"`
}

// contactsCLI runs commands against one sqlite store in a temp data dir.
type contactsCLI struct {
	t       *testing.T
	dataDir string
}

func newContactsCLI(t *testing.T) *contactsCLI {
	t.Helper()
	return &contactsCLI{t: t, dataDir: t.TempDir()}
}

func (c *contactsCLI) exec(stdin string, args ...string) (string, error) {
	c.t.Helper()
	cmd := newRootCmd(viper.New())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--backend", "sqlite", "--data-dir", c.dataDir, "-o", "json"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func runJSON[T any](c *contactsCLI, args ...string) envelope[T] {
	c.t.Helper()
	out, err := c.exec("", args...)
	if err != nil {
		c.t.Fatalf("%v: %v\n%s", args, err, out)
	}
	var env envelope[T]
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		c.t.Fatalf("%v: decode %q: %v", args, out, err)
	}
	return env
}

func TestCreatePageGet(t *testing.T) {
	c := newContactsCLI(t)

	created := runJSON[map[string]string](c, "create", "--given", "Ada", "--family", "Lovelace", "--phone", "home=+44 20 7946 0001", "--email", "ada@example.com")
	id := created.Data["id"]
	if id == "" {
		t.Fatalf("no id in %+v", created)
	}
	runJSON[map[string]string](c, "create", "--id", "turing", "--name", "Alan Turing")

	page := runJSON[[]map[string]string](c, "page", "--limit", "10")
	if len(page.Data) != 2 || page.Data[0]["id"] != id || page.Data[0]["phone"] != "+44 20 7946 0001" {
		t.Errorf("page = %+v", page.Data)
	}
	if page.Meta.HasMore {
		t.Errorf("meta = %+v, want no more pages", page.Meta)
	}

	count := runJSON[map[string]any](c, "count", "--match", "TURING")
	if count.Data["count"] != float64(1) {
		t.Errorf("count = %v", count.Data)
	}

	got := runJSON[[]map[string]any](c, "get", "turing", id)
	if len(got.Data) != 2 || got.Data[0]["id"] != "turing" || got.Data[1]["display_name"] != "Ada Lovelace" {
		t.Errorf("get = %+v", got.Data)
	}
}

func TestCreateFromStdin(t *testing.T) {
	c := newContactsCLI(t)
	doc := `{"id": "grace", "identity": {"given_name": "Grace", "family_name": "Hopper"}}`
	out, err := c.exec(doc, "create", "--file", "-", "--email", "grace@example.com")
	if err != nil {
		t.Fatalf("create: %v\n%s", err, out)
	}

	got := runJSON[[]map[string]any](c, "get", "grace")
	if len(got.Data) != 1 || got.Data[0]["display_name"] != "Grace Hopper" {
		t.Errorf("get = %+v", got.Data)
	}
}

func TestCreateRejectsNamelessContact(t *testing.T) {
	c := newContactsCLI(t)
	if _, err := c.exec("", "create", "--phone", "123"); err == nil {
		t.Error("expected an error for a contact without a name")
	}
}

func TestSeedThenPage(t *testing.T) {
	c := newContactsCLI(t)

	seeded := runJSON[map[string]any](c, "seed", "--count", "30", "--fields", "3", "--batch", "7", "--workers", "2")
	if seeded.Data["rows"] != float64(90) {
		t.Errorf("seed = %+v", seeded.Data)
	}

	page := runJSON[[]map[string]string](c, "page", "--limit", "10")
	if len(page.Data) != 10 || !page.Meta.HasMore || page.Meta.NextOffset != 10 || page.Meta.Total != 30 {
		t.Errorf("meta = %+v, rows %d", page.Meta, len(page.Data))
	}
	last := runJSON[[]map[string]string](c, "page", "--offset", "25", "--limit", "10")
	if len(last.Data) != 5 || last.Meta.HasMore {
		t.Errorf("last page meta = %+v, rows %d", last.Meta, len(last.Data))
	}

	emails := runJSON[[]map[string]string](c, "page", "--limit", "0", "--where", `kind == "email"`)
	if len(emails.Data) != 30 {
		t.Errorf("contacts with email = %d, want 30", len(emails.Data))
	}
}

func TestPageInvalidWindow(t *testing.T) {
	c := newContactsCLI(t)
	if _, err := c.exec("", "page", "--offset", "-1"); err == nil {
		t.Error("expected an error for a negative offset")
	}
}

func TestBackends(t *testing.T) {
	c := newContactsCLI(t)
	got := runJSON[[]map[string]string](c, "backends")
	var names []string
	for _, row := range got.Data {
		names = append(names, row["name"])
	}
	for _, want := range []string{"badger", "memory", "redis", "sqlite"} {
		if !strings.Contains(strings.Join(names, ","), want) {
			t.Errorf("backends %v missing %s", names, want)
		}
	}
}

func TestVersion(t *testing.T) {
	c := newContactsCLI(t)
	got := runJSON[map[string]string](c, "version")
	if got.Data["version"] != version {
		t.Errorf("version = %+v", got.Data)
	}
}

func TestSeedContacts(t *testing.T) {
	be, err := physical.New(context.Background(), "memory", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = be.Close() })

	rows, err := seedContacts(context.Background(), be, seedOptions{count: 100, fields: 4, batch: 50, workers: 3})
	if err != nil {
		t.Fatal(err)
	}
	if rows != 400 {
		t.Errorf("rows = %d, want 400", rows)
	}
	if n, _ := be.Count(context.Background(), nil); n != 400 {
		t.Errorf("stored rows = %d, want 400", n)
	}

	if _, err := seedContacts(context.Background(), be, seedOptions{count: 1, fields: 0, batch: 1, workers: 1}); err == nil {
		t.Error("expected error for zero fields")
	}
}

type failingStore struct{ physical.Backend }

func (failingStore) ApplyBatch(context.Context, []physical.Op) error { return errors.New("read-only") }

func TestSeedContactsStopsOnWriteError(t *testing.T) {
	be, err := physical.New(context.Background(), "memory", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = be.Close() })

	_, err = seedContacts(context.Background(), failingStore{be}, seedOptions{count: 10, fields: 1, batch: 2, workers: 2})
	if err == nil || !strings.Contains(err.Error(), "read-only") {
		t.Errorf("error = %v", err)
	}
}

func TestSyntheticContact(t *testing.T) {
	c := syntheticContact(19, 5)
	if c.DisplayName != "alan Turing" {
		t.Errorf("display name = %q", c.DisplayName)
	}
	if rows := c.Rows(); len(rows) != 5 {
		t.Errorf("rows = %d, want 5", len(rows))
	}
}

type countingCompactor struct{ runs atomic.Int32 }

func (c *countingCompactor) RunGC(float64) error {
	c.runs.Add(1)
	return nil
}

func TestStartCompaction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &countingCompactor{}
	startCompaction(ctx, c, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for c.runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if c.runs.Load() < 2 {
		t.Errorf("RunGC ran %d times", c.runs.Load())
	}
}

func TestErrorCode(t *testing.T) {
	c := newContactsCLI(t)
	_, pageErr := c.exec("", "page", "--where", "kind ==")
	_, createErr := c.exec("", "create", "--email", "x@example.com")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"bad where", pageErr, "invalid_expression"},
		{"nameless contact", createErr, "invalid_contact"},
		{"window", fmt.Errorf("page: %w", directory.ErrInvalidWindow), "invalid_window"},
		{"write", &directory.MutationError{ContactID: "c1", Err: errors.New("disk full")}, "store_write"},
		{"timeout", context.DeadlineExceeded, "timeout"},
		{"other", errors.New("boom"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorCode(tt.err); got != tt.want {
				t.Errorf("errorCode(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestReportError(t *testing.T) {
	var buf bytes.Buffer
	err := &directory.MutationError{ContactID: "c1", Err: errors.New("disk full")}
	if rerr := reportError(cli.NewOutput(cli.FormatJSON, &buf), "create", err); rerr != nil {
		t.Fatal(rerr)
	}

	var env envelope[map[string]string]
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Meta.Type != "create-error" || env.Data["code"] != "store_write" || env.Data["contact_id"] != "c1" {
		t.Errorf("envelope = %+v", env)
	}
	if !strings.Contains(env.Data["error"], "disk full") {
		t.Errorf("error = %q", env.Data["error"])
	}
}
