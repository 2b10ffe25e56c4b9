package badger

import (
	"context"
	"testing"

	"github.com/gezibash/arc-contacts/internal/directory/physical"
	"github.com/gezibash/arc-contacts/internal/directory/physical/backendtest"
)

func newTestBackend(tb testing.TB) physical.Backend {
	tb.Helper()
	be, err := NewFactory(context.Background(), map[string]string{KeyInMemory: "true"})
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() { be.Close() })
	return be
}

func TestBackend(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) physical.Backend { return newTestBackend(t) })
}

func TestOnDisk(t *testing.T) {
	ctx := context.Background()
	cfg := map[string]string{KeyPath: t.TempDir()}

	be, err := NewFactory(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	backendtest.Seed(t, be, 25, 2)
	if err := be.Close(); err != nil {
		t.Fatal(err)
	}

	be, err = NewFactory(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer be.Close()

	if n, err := be.Count(ctx, nil); err != nil || n != 50 {
		t.Errorf("Count after reopen = %d, %v", n, err)
	}
	// The row id counter survives a reopen.
	backendtest.Insert(t, be, &physical.Row{ContactID: "new", Kind: "name", DisplayName: "Zed"})
	rows := backendtest.Collect(t, be, &physical.QueryOptions{Selection: physical.Selection{IDs: []string{"new"}}})
	if len(rows) != 1 || rows[0].RowID != 51 {
		t.Errorf("rows = %+v, want one row with id 51", rows)
	}
}

func TestNewFactoryInvalidConfig(t *testing.T) {
	for _, cfg := range []map[string]string{
		{KeyInMemory: "maybe"},
		{KeyPath: ""},
		{KeyPath: t.TempDir(), KeySyncWrites: "sometimes"},
		{KeyInMemory: "true", physical.KeyLocale: "??"},
	} {
		if _, err := NewFactory(context.Background(), cfg); err == nil {
			t.Errorf("NewFactory(%v): expected error", cfg)
		}
	}
}

func TestRunGCInMemory(t *testing.T) {
	be := newTestBackend(t).(*Backend)
	if err := be.RunGC(0.5); err != nil {
		t.Errorf("RunGC: %v", err)
	}
}

func TestScanStopsAtClose(t *testing.T) {
	be := newTestBackend(t)
	backendtest.Seed(t, be, 10, 1)
	rows, err := be.Query(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !rows.Next() {
		t.Fatal("expected a row")
	}
	if err := rows.Close(); err != nil {
		t.Fatal(err)
	}
	if rows.Next() {
		t.Error("Next after Close returned true")
	}
}

func BenchmarkQuery(b *testing.B) {
	backendtest.RunQueryBenchmark(b, func(b *testing.B) physical.Backend { return newTestBackend(b) }, 10_000)
}
