package contacts

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gezibash/arc-contacts/internal/directory/physical"
)

func row(id, kind, name string, data map[string]string) *physical.Row {
	return &physical.Row{ContactID: id, Kind: kind, DisplayName: name, Data: data}
}

func TestFieldReaderHydrate(t *testing.T) {
	r := NewFieldReader()

	c := r.Hydrate(row("7", "name", "Ada Lovelace", map[string]string{
		DataGiven: "Ada", DataFamily: "Lovelace",
	}), nil)
	c = r.Hydrate(row("7", "phone", "Ada Lovelace", map[string]string{
		DataValue: "+44 20 7946 0000", DataLabel: "work",
	}), c)
	c = r.Hydrate(row("7", "address", "Ada Lovelace", map[string]string{
		DataValue: "12 St James's Square", "city": "London",
	}), c)
	c = r.Hydrate(row("7", "x-custom", "Ada Lovelace", map[string]string{DataValue: "ignored"}), c)

	want := &Contact{
		ID:          "7",
		DisplayName: "Ada Lovelace",
		Identity:    Identity{GivenName: "Ada", FamilyName: "Lovelace"},
		Fields: map[Kind][]Field{
			KindPhone:   {{Label: "work", Value: "+44 20 7946 0000"}},
			KindAddress: {{Value: "12 St James's Square", Attrs: map[string]string{"city": "London"}}},
		},
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("Hydrate mismatch (-want +got):\n%s", diff)
	}
}

func TestFieldReaderSkipsDuplicatesAndEmptyValues(t *testing.T) {
	r := NewFieldReader()
	email := map[string]string{DataValue: "ada@example.org"}

	c := r.Hydrate(row("1", "email", "Ada", email), nil)
	c = r.Hydrate(row("1", "email", "Ada", email), c)
	c = r.Hydrate(row("1", "phone", "Ada", map[string]string{DataLabel: "home"}), c)

	if got := len(c.Fields[KindEmail]); got != 1 {
		t.Errorf("emails = %d, want 1", got)
	}
	if _, ok := c.Fields[KindPhone]; ok {
		t.Errorf("phone without value should be skipped: %v", c.Fields[KindPhone])
	}
}

func TestBuilderDeduplicatesInFirstSeenOrder(t *testing.T) {
	b := NewBuilder(NewFieldReader())

	rows := []*physical.Row{
		row("b", "name", "Bea", nil),
		row("a", "name", "Abe", nil),
		row("b", "phone", "Bea", map[string]string{DataValue: "1"}),
		row("a", "email", "Abe", map[string]string{DataValue: "abe@example.org"}),
		row("b", "email", "Bea", map[string]string{DataValue: "bea@example.org"}),
	}
	var fresh int
	for _, r := range rows {
		if _, isNew := b.Add(r); isNew {
			fresh++
		}
	}
	if fresh != 2 || b.Len() != 2 {
		t.Fatalf("fresh = %d, Len = %d, want 2, 2", fresh, b.Len())
	}

	got := b.Contacts()
	if got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("order = %s,%s, want b,a", got[0].ID, got[1].ID)
	}
	if got[0].First(KindPhone) != "1" || got[0].First(KindEmail) != "bea@example.org" {
		t.Errorf("b not fully hydrated: %+v", got[0])
	}
	if b.Len() != 0 {
		t.Error("Contacts should reset the builder")
	}
}

func TestBuilderPutSkipsLaterRows(t *testing.T) {
	b := NewBuilder(NewFieldReader())
	cached := &Contact{ID: "c", DisplayName: "Cached", Fields: map[Kind][]Field{KindNote: {{Value: "from cache"}}}}

	if !b.Put(cached) {
		t.Fatal("Put should accept a new id")
	}
	if b.Put(cached) {
		t.Fatal("Put should reject a seen id")
	}
	if _, isNew := b.Add(row("c", "note", "Stale", map[string]string{DataValue: "from store"})); isNew {
		t.Fatal("row for a complete contact must not count as new")
	}

	got := b.Contacts()
	if len(got) != 1 || got[0].DisplayName != "Cached" || len(got[0].Fields[KindNote]) != 1 {
		t.Errorf("Contacts = %+v", got)
	}
}

func TestRowsHydrateBack(t *testing.T) {
	in := &Contact{
		ID:       "42",
		Identity: Identity{Prefix: "Dr.", GivenName: "Grace", FamilyName: "Hopper"},
		Fields: map[Kind][]Field{
			KindEmail:        {{Label: "work", Value: "grace@navy.mil"}},
			KindOrganization: {{Value: "US Navy", Attrs: map[string]string{"title": "Rear Admiral"}}},
		},
	}
	if err := in.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if in.DisplayName != "Dr. Grace Hopper" {
		t.Fatalf("DisplayName = %q", in.DisplayName)
	}

	rows := in.Rows()
	if len(rows) != 3 || rows[0].Kind != string(KindName) {
		t.Fatalf("Rows = %d, first kind %q", len(rows), rows[0].Kind)
	}

	b := NewBuilder(NewFieldReader())
	for _, r := range rows {
		b.Add(r)
	}
	out := b.Contacts()
	if diff := cmp.Diff(in, out[0]); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeRequiresName(t *testing.T) {
	c := New("x")
	if err := c.Normalize(); !errors.Is(err, ErrNoDisplayName) {
		t.Errorf("Normalize = %v, want ErrNoDisplayName", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	c := New("1")
	c.DisplayName = "One"
	c.Add(KindPhone, Field{Value: "1", Attrs: map[string]string{"type": "mobile"}})

	cp := c.Clone()
	cp.Fields[KindPhone][0].Attrs["type"] = "home"
	cp.Add(KindPhone, Field{Value: "2"})

	if c.Fields[KindPhone][0].Attrs["type"] != "mobile" || len(c.Fields[KindPhone]) != 1 {
		t.Errorf("original mutated through clone: %+v", c.Fields)
	}
}
