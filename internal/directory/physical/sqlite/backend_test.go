package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/gezibash/arc-contacts/internal/directory/physical"
	"github.com/gezibash/arc-contacts/internal/directory/physical/backendtest"
	"github.com/gezibash/arc-contacts/internal/storage"
)

func newTestBackend(tb testing.TB) physical.Backend {
	tb.Helper()
	cfg := map[string]string{"path": filepath.Join(tb.TempDir(), "test.db")}
	be, err := NewFactory(context.Background(), cfg)
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() { be.Close() })
	return be
}

func TestBackend(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) physical.Backend { return newTestBackend(t) })
}

func TestNewFactoryConfigErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name  string
		cfg   map[string]string
		field string
	}{
		{"empty path", map[string]string{"path": ""}, KeyPath},
		{"bad conns", map[string]string{"path": filepath.Join(dir, "a.db"), KeyMaxOpenConns: "many"}, KeyMaxOpenConns},
		{"zero conns", map[string]string{"path": filepath.Join(dir, "b.db"), KeyMaxOpenConns: "0"}, KeyMaxOpenConns},
		{"bad locale", map[string]string{"path": filepath.Join(dir, "c.db"), physical.KeyLocale: "?!"}, physical.KeyLocale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFactory(context.Background(), tt.cfg)
			var cfgErr *storage.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("err = %v, want *storage.ConfigError", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	cfg := map[string]string{"path": filepath.Join(t.TempDir(), "reopen.db")}

	be, err := NewFactory(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	backendtest.Seed(t, be, 10, 2)
	if err := be.Close(); err != nil {
		t.Fatal(err)
	}

	be, err = NewFactory(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer be.Close()
	if n, err := be.Count(ctx, nil); err != nil || n != 20 {
		t.Errorf("Count after reopen = %d, %v", n, err)
	}
}

func TestLikeWildcardsAreLiteral(t *testing.T) {
	be := newTestBackend(t)
	backendtest.Insert(t, be,
		&physical.Row{ContactID: "1", Kind: "name", DisplayName: "100% Cotton"},
		&physical.Row{ContactID: "2", Kind: "name", DisplayName: "1000 Cranes"},
		&physical.Row{ContactID: "3", Kind: "name", DisplayName: "snake_case"},
		&physical.Row{ContactID: "4", Kind: "name", DisplayName: "snakeXcase"},
	)
	for match, want := range map[string]string{"0%": "1", "e_c": "3"} {
		rows := backendtest.Collect(t, be, &physical.QueryOptions{Selection: physical.Selection{NameContains: match}})
		if len(rows) != 1 || rows[0].ContactID != want {
			t.Errorf("match %q = %+v, want contact %s", match, rows, want)
		}
	}
}

func TestExpressionCount(t *testing.T) {
	be := newTestBackend(t)
	backendtest.Seed(t, be, 6, 3)
	n, err := be.Count(context.Background(), &physical.QueryOptions{
		Selection:  physical.Selection{IDs: []string{backendtest.ContactID(1), backendtest.ContactID(4)}},
		Expression: `kind == "phone"`,
	})
	if err != nil || n != 4 {
		t.Errorf("Count = %d, %v, want 4", n, err)
	}
}

func BenchmarkQuery(b *testing.B) {
	backendtest.RunQueryBenchmark(b, func(b *testing.B) physical.Backend { return newTestBackend(b) }, 10_000)
}
