// Package physical defines the range-query provider the directory pages over:
// a store of contact data rows kept in display-name order that can only be read
// through sorted, lazily consumed queries.
package physical

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// MaxPredicateArgs is the most contact ids a single query may restrict on.
const MaxPredicateArgs = 990

var (
	// ErrNotFound indicates the requested row or contact does not exist.
	ErrNotFound = errors.New("not found")

	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("backend closed")

	// ErrPredicateTooLarge indicates a selection exceeded MaxPredicateArgs ids.
	ErrPredicateTooLarge = errors.New("predicate exceeds argument limit")
)

// Column names understood by Columns projections.
const (
	ColumnRowID       = "row_id"
	ColumnContactID   = "contact_id"
	ColumnKind        = "kind"
	ColumnDisplayName = "display_name"
	ColumnData        = "data"
)

// ProjectionIDs reads only what is needed to order and deduplicate contacts.
var ProjectionIDs = []string{ColumnContactID, ColumnDisplayName}

// ProjectionAll reads every column.
var ProjectionAll = []string{ColumnRowID, ColumnContactID, ColumnKind, ColumnDisplayName, ColumnData}

// Row is one stored field of one contact. Several rows share a ContactID.
type Row struct {
	RowID       int64             `json:"row_id"`
	ContactID   string            `json:"contact_id"`
	Kind        string            `json:"kind"`
	DisplayName string            `json:"display_name"`
	Data        map[string]string `json:"data,omitempty"`
}

// Clone returns a deep copy of the row.
func (r *Row) Clone() *Row {
	c := *r
	if r.Data != nil {
		c.Data = maps.Clone(r.Data)
	}
	return &c
}

// Project returns a copy of the row carrying only the requested columns.
// A nil projection keeps everything.
func (r *Row) Project(columns []string) *Row {
	if columns == nil {
		return r.Clone()
	}
	out := &Row{}
	for _, c := range columns {
		switch c {
		case ColumnRowID:
			out.RowID = r.RowID
		case ColumnContactID:
			out.ContactID = r.ContactID
		case ColumnKind:
			out.Kind = r.Kind
		case ColumnDisplayName:
			out.DisplayName = r.DisplayName
		case ColumnData:
			if r.Data != nil {
				out.Data = maps.Clone(r.Data)
			}
		}
	}
	return out
}

// Selection restricts which rows a query returns. The zero value selects all rows.
type Selection struct {
	// IDs limits rows to these contacts ("contact_id IN (...)").
	IDs []string
	// NameContains keeps rows whose display name contains the value, ASCII case-insensitively.
	NameContains string
}

// Empty reports whether the selection matches every row.
func (s Selection) Empty() bool {
	return len(s.IDs) == 0 && s.NameContains == ""
}

// QueryOptions describes one range query. Results are always ordered by
// display name (locale collation, ascending), then contact id, then row id.
type QueryOptions struct {
	Columns   []string
	Selection Selection
	// Expression is an optional CEL predicate over contact_id, display_name, kind and data.
	Expression string
}

// Validate checks the options against the provider limits.
func (o *QueryOptions) Validate() error {
	if o == nil {
		return nil
	}
	if n := len(o.Selection.IDs); n > MaxPredicateArgs {
		return fmt.Errorf("%w: %d ids (max %d)", ErrPredicateTooLarge, n, MaxPredicateArgs)
	}
	return nil
}

// WantsColumn reports whether the projection includes column.
func (o *QueryOptions) WantsColumn(column string) bool {
	if o == nil || o.Columns == nil {
		return true
	}
	return slices.Contains(o.Columns, column)
}

// Rows is a lazily consumed, ordered result set. Callers must Close it.
type Rows interface {
	Next() bool
	Row() *Row
	Err() error
	Close() error
}

// OpType identifies a mutation in a batch.
type OpType int

const (
	// OpInsert adds Op.Row. A zero RowID is assigned by the backend.
	OpInsert OpType = iota + 1
	// OpDeleteContact removes every row of Op.ContactID.
	OpDeleteContact
)

// Op is one mutation applied by Backend.ApplyBatch.
type Op struct {
	Type      OpType
	Row       *Row
	ContactID string
}

// Stats contains storage statistics.
type Stats struct {
	Rows        int64
	SizeBytes   int64
	BackendType string
}

// Backend is the range-query provider. All implementations must be thread-safe.
type Backend interface {
	// Query returns matching rows in display-name order.
	Query(ctx context.Context, opts *QueryOptions) (Rows, error)
	// Count returns the number of matching rows.
	Count(ctx context.Context, opts *QueryOptions) (int64, error)
	// ApplyBatch applies all ops atomically.
	ApplyBatch(ctx context.Context, ops []Op) error
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}
