package directory

import (
	"fmt"

	"github.com/gezibash/arc-contacts/internal/contacts"
	"github.com/gezibash/arc-contacts/internal/directory/physical"
)

// Window selects one page. Non-empty IDs are fetched as given and take
// precedence over index paging: Offset and Limit then window the id list and
// Match and Where are ignored. A Limit of 0 reads to the end.
type Window struct {
	Offset int
	Limit  int
	IDs    []contacts.ID
	// Match keeps contacts whose display name contains it, ASCII
	// case-insensitively. Nil uses the filter set by Directory.SetFilter; an
	// empty string reads every contact.
	Match *string
	// Where keeps contacts with at least one row matching this CEL expression.
	Where string
}

func (w Window) validate() error {
	if w.Offset < 0 || w.Limit < 0 {
		return fmt.Errorf("%w: offset %d, limit %d", ErrInvalidWindow, w.Offset, w.Limit)
	}
	return nil
}

// slice returns the part of ids the window covers. An offset at or past the
// end yields nothing.
func slice[T any](ids []T, offset, limit int) []T {
	if offset >= len(ids) {
		return nil
	}
	end := len(ids)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return ids[offset:end]
}

// chunks splits ids into runs of at most physical.MaxPredicateArgs.
func chunks(ids []contacts.ID) [][]contacts.ID {
	var out [][]contacts.ID
	for start := 0; start < len(ids); start += physical.MaxPredicateArgs {
		out = append(out, ids[start:min(start+physical.MaxPredicateArgs, len(ids))])
	}
	return out
}

// filter is the restriction the identifier index was built for.
type filter struct {
	match string
	where string
}

func newFilter(match *string, where string) filter {
	f := filter{where: where}
	if match != nil {
		f.match = *match
	}
	return f
}

func (f filter) empty() bool { return f == filter{} }

func (f filter) options() *physical.QueryOptions {
	return &physical.QueryOptions{
		Columns:    physical.ProjectionIDs,
		Selection:  physical.Selection{NameContains: f.match},
		Expression: f.where,
	}
}
