package contacts

import "github.com/gezibash/arc-contacts/internal/directory/physical"

// Builder assembles contacts from rows in first-seen order. Contacts are only
// handed out by Contacts, after the last row has been added.
type Builder struct {
	reader Reader
	order  []ID
	byID   map[ID]*Contact
	// complete holds contacts taken whole from elsewhere; their rows are skipped.
	complete map[ID]struct{}
}

// NewBuilder returns a builder that hydrates rows with reader.
func NewBuilder(reader Reader) *Builder {
	return &Builder{
		reader:   reader,
		byID:     make(map[ID]*Contact),
		complete: make(map[ID]struct{}),
	}
}

// Add hydrates one row and reports whether it introduced a new contact.
func (b *Builder) Add(row *physical.Row) (ID, bool) {
	id := b.reader.ExtractID(row)
	if _, done := b.complete[id]; done {
		return id, false
	}
	existing, seen := b.byID[id]
	b.byID[id] = b.reader.Hydrate(row, existing)
	if !seen {
		b.order = append(b.order, id)
	}
	return id, !seen
}

// Put adds an already complete contact. Later rows for its id are ignored.
// It reports false when the id was already present.
func (b *Builder) Put(c *Contact) bool {
	if _, seen := b.byID[c.ID]; seen {
		return false
	}
	b.byID[c.ID] = c
	b.complete[c.ID] = struct{}{}
	b.order = append(b.order, c.ID)
	return true
}

// Has reports whether id has been seen.
func (b *Builder) Has(id ID) bool {
	_, ok := b.byID[id]
	return ok
}

// Len returns the number of distinct contacts seen.
func (b *Builder) Len() int { return len(b.order) }

// Contacts returns the assembled contacts in first-seen order and resets the builder.
func (b *Builder) Contacts() []*Contact {
	out := make([]*Contact, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.byID[id])
	}
	b.order = nil
	b.byID = make(map[ID]*Contact)
	b.complete = make(map[ID]struct{})
	return out
}
