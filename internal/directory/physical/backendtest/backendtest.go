// Package backendtest holds the behaviour every contact store backend must
// share, plus seeding helpers for tests and benchmarks.
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/gezibash/arc-contacts/internal/directory/physical"
)

var (
	GivenNames  = []string{"Ada", "alan", "Barbara", "Claude", "Dennis", "Edsger", "Émilie", "frances", "Grace", "Hedy", "Ken", "Linus", "Margaret", "Niklaus", "Radia", "Tim"}
	FamilyNames = []string{"Lovelace", "Turing", "Liskov", "Shannon", "Ritchie", "Dijkstra", "du Châtelet", "Allen", "Hopper", "Lamarr", "Thompson", "Torvalds", "Hamilton", "Wirth", "Perlman", "Berners-Lee"}
)

// ContactID returns the id used for the i-th seeded contact.
func ContactID(i int) string { return fmt.Sprintf("c%07d", i) }

// DisplayName returns the display name of the i-th seeded contact.
func DisplayName(i int) string {
	return fmt.Sprintf("%s %s", GivenNames[i%len(GivenNames)], FamilyNames[(i/len(GivenNames))%len(FamilyNames)])
}

// ContactRows returns the rows of the i-th seeded contact: a name row followed
// by fields-1 phone rows.
func ContactRows(i, fields int) []*physical.Row {
	id, name := ContactID(i), DisplayName(i)
	rows := []*physical.Row{{ContactID: id, Kind: "name", DisplayName: name, Data: map[string]string{"given": GivenNames[i%len(GivenNames)]}}}
	for f := 1; f < fields; f++ {
		rows = append(rows, &physical.Row{
			ContactID:   id,
			Kind:        "phone",
			DisplayName: name,
			Data:        map[string]string{"value": fmt.Sprintf("+1 555 %04d %02d", i%10000, f)},
		})
	}
	return rows
}

// Seed inserts n contacts with fields rows each, in batches.
func Seed(tb testing.TB, be physical.Backend, n, fields int) {
	tb.Helper()
	const batch = 5000
	ctx := context.Background()
	ops := make([]physical.Op, 0, batch)
	for i := range n {
		for _, r := range ContactRows(i, fields) {
			ops = append(ops, physical.Op{Type: physical.OpInsert, Row: r})
		}
		if len(ops) >= batch || i == n-1 {
			if err := be.ApplyBatch(ctx, ops); err != nil {
				tb.Fatalf("seed: %v", err)
			}
			ops = ops[:0]
		}
	}
}

// Insert applies the given rows as one batch.
func Insert(tb testing.TB, be physical.Backend, rows ...*physical.Row) {
	tb.Helper()
	ops := make([]physical.Op, len(rows))
	for i, r := range rows {
		ops[i] = physical.Op{Type: physical.OpInsert, Row: r}
	}
	if err := be.ApplyBatch(context.Background(), ops); err != nil {
		tb.Fatalf("insert: %v", err)
	}
}

// Collect drains a query into a slice.
func Collect(tb testing.TB, be physical.Backend, opts *physical.QueryOptions) []*physical.Row {
	tb.Helper()
	rows, err := be.Query(context.Background(), opts)
	if err != nil {
		tb.Fatalf("query: %v", err)
	}
	defer rows.Close()

	var out []*physical.Row
	for rows.Next() {
		out = append(out, rows.Row())
	}
	if err := rows.Err(); err != nil {
		tb.Fatalf("rows: %v", err)
	}
	return out
}

// ContactOrder returns the distinct contact ids of rows in first-seen order.
func ContactOrder(rows []*physical.Row) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, r := range rows {
		if _, ok := seen[r.ContactID]; ok {
			continue
		}
		seen[r.ContactID] = struct{}{}
		ids = append(ids, r.ContactID)
	}
	return ids
}

// Run exercises the Backend contract against backends created by newBackend.
// Each subtest gets a fresh, empty backend.
func Run(t *testing.T, newBackend func(t *testing.T) physical.Backend) {
	ctx := context.Background()

	t.Run("Empty", func(t *testing.T) {
		be := newBackend(t)
		if rows := Collect(t, be, nil); len(rows) != 0 {
			t.Errorf("rows = %d, want 0", len(rows))
		}
		if n, err := be.Count(ctx, nil); err != nil || n != 0 {
			t.Errorf("Count = %d, %v", n, err)
		}
	})

	t.Run("DisplayNameOrder", func(t *testing.T) {
		be := newBackend(t)
		Insert(t, be,
			&physical.Row{ContactID: "1", Kind: "name", DisplayName: "bob"},
			&physical.Row{ContactID: "2", Kind: "name", DisplayName: "Émile"},
			&physical.Row{ContactID: "3", Kind: "name", DisplayName: "Alice"},
			&physical.Row{ContactID: "4", Kind: "name", DisplayName: "zoë"},
			&physical.Row{ContactID: "5", Kind: "name", DisplayName: "charlie"},
		)
		got := ContactOrder(Collect(t, be, nil))
		want := []string{"3", "1", "5", "2", "4"}
		if !slices.Equal(got, want) {
			t.Errorf("order = %v, want %v", got, want)
		}
	})

	t.Run("RowsOfAContactStayTogether", func(t *testing.T) {
		be := newBackend(t)
		Insert(t, be,
			&physical.Row{ContactID: "b", Kind: "name", DisplayName: "Sam"},
			&physical.Row{ContactID: "a", Kind: "name", DisplayName: "Sam"},
			&physical.Row{ContactID: "b", Kind: "phone", DisplayName: "Sam", Data: map[string]string{"value": "2"}},
			&physical.Row{ContactID: "a", Kind: "phone", DisplayName: "Sam", Data: map[string]string{"value": "1"}},
		)
		rows := Collect(t, be, nil)
		var ids []string
		for _, r := range rows {
			ids = append(ids, r.ContactID)
			if r.RowID == 0 {
				t.Errorf("row %+v has no row id", r)
			}
		}
		if want := []string{"a", "a", "b", "b"}; !slices.Equal(ids, want) {
			t.Errorf("contact sequence = %v, want %v", ids, want)
		}
	})

	t.Run("SelectIDs", func(t *testing.T) {
		be := newBackend(t)
		Seed(t, be, 40, 2)
		want := []string{ContactID(3), ContactID(17), ContactID(30)}
		opts := &physical.QueryOptions{Selection: physical.Selection{IDs: want}}

		rows := Collect(t, be, opts)
		if len(rows) != 6 {
			t.Fatalf("rows = %d, want 6", len(rows))
		}
		got := ContactOrder(rows)
		slices.Sort(got)
		if !slices.Equal(got, want) {
			t.Errorf("ids = %v, want %v", got, want)
		}
		if n, err := be.Count(ctx, opts); err != nil || n != 6 {
			t.Errorf("Count = %d, %v", n, err)
		}
	})

	t.Run("NameContainsIgnoresASCIICase", func(t *testing.T) {
		be := newBackend(t)
		Insert(t, be,
			&physical.Row{ContactID: "1", Kind: "name", DisplayName: "Grace Hopper"},
			&physical.Row{ContactID: "2", Kind: "name", DisplayName: "Alan Turing"},
			&physical.Row{ContactID: "3", Kind: "name", DisplayName: "graham"},
		)
		opts := &physical.QueryOptions{Selection: physical.Selection{NameContains: "GRA"}}
		got := ContactOrder(Collect(t, be, opts))
		if want := []string{"1", "3"}; !slices.Equal(got, want) {
			t.Errorf("ids = %v, want %v", got, want)
		}
		if n, err := be.Count(ctx, opts); err != nil || n != 2 {
			t.Errorf("Count = %d, %v", n, err)
		}
	})

	t.Run("Expression", func(t *testing.T) {
		be := newBackend(t)
		Seed(t, be, 5, 3)
		rows := Collect(t, be, &physical.QueryOptions{Expression: `kind == "phone"`})
		if len(rows) != 10 {
			t.Fatalf("rows = %d, want 10", len(rows))
		}
		for _, r := range rows {
			if r.Kind != "phone" {
				t.Errorf("unexpected kind %q", r.Kind)
			}
		}
		if _, err := be.Query(ctx, &physical.QueryOptions{Expression: "kind +"}); err == nil {
			t.Error("invalid expression: expected error")
		}
	})

	t.Run("Projection", func(t *testing.T) {
		be := newBackend(t)
		Seed(t, be, 3, 2)
		for _, r := range Collect(t, be, &physical.QueryOptions{Columns: physical.ProjectionIDs}) {
			if r.ContactID == "" || r.DisplayName == "" {
				t.Errorf("projected row missing id or name: %+v", r)
			}
			if r.Data != nil || r.Kind != "" {
				t.Errorf("projected row carries extra columns: %+v", r)
			}
		}
	})

	t.Run("PredicateCeiling", func(t *testing.T) {
		be := newBackend(t)
		ids := make([]string, physical.MaxPredicateArgs+1)
		for i := range ids {
			ids[i] = ContactID(i)
		}
		_, err := be.Query(ctx, &physical.QueryOptions{Selection: physical.Selection{IDs: ids}})
		if !errors.Is(err, physical.ErrPredicateTooLarge) {
			t.Errorf("Query = %v, want ErrPredicateTooLarge", err)
		}
		if _, err := be.Query(ctx, &physical.QueryOptions{Selection: physical.Selection{IDs: ids[:physical.MaxPredicateArgs]}}); err != nil {
			t.Errorf("Query at the ceiling: %v", err)
		}
	})

	t.Run("DeleteContact", func(t *testing.T) {
		be := newBackend(t)
		Seed(t, be, 4, 3)
		if err := be.ApplyBatch(ctx, []physical.Op{{Type: physical.OpDeleteContact, ContactID: ContactID(2)}}); err != nil {
			t.Fatalf("ApplyBatch: %v", err)
		}
		if n, _ := be.Count(ctx, nil); n != 9 {
			t.Errorf("Count = %d, want 9", n)
		}
		for _, r := range Collect(t, be, nil) {
			if r.ContactID == ContactID(2) {
				t.Fatalf("deleted contact still present: %+v", r)
			}
		}
	})

	t.Run("InvalidBatchAppliesNothing", func(t *testing.T) {
		be := newBackend(t)
		err := be.ApplyBatch(ctx, []physical.Op{
			{Type: physical.OpInsert, Row: &physical.Row{ContactID: "1", Kind: "name", DisplayName: "One"}},
			{Type: physical.OpInsert, Row: &physical.Row{Kind: "name", DisplayName: "No id"}},
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if n, _ := be.Count(ctx, nil); n != 0 {
			t.Errorf("Count = %d after failed batch, want 0", n)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		be := newBackend(t)
		Seed(t, be, 2, 2)
		st, err := be.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if st.Rows != 4 || st.BackendType == "" {
			t.Errorf("Stats = %+v", st)
		}
	})

	t.Run("Closed", func(t *testing.T) {
		be := newBackend(t)
		if err := be.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := be.Close(); err != nil {
			t.Errorf("second Close: %v", err)
		}
		if _, err := be.Query(ctx, nil); !errors.Is(err, physical.ErrClosed) {
			t.Errorf("Query after Close = %v, want ErrClosed", err)
		}
	})
}

// RunQueryBenchmark measures a full ordered scan over n seeded contacts.
func RunQueryBenchmark(b *testing.B, newBackend func(b *testing.B) physical.Backend, n int) {
	be := newBackend(b)
	Seed(b, be, n, 2)
	ctx := context.Background()

	b.ResetTimer()
	for b.Loop() {
		rows, err := be.Query(ctx, &physical.QueryOptions{Columns: physical.ProjectionIDs})
		if err != nil {
			b.Fatal(err)
		}
		for rows.Next() {
		}
		rows.Close()
	}
}
