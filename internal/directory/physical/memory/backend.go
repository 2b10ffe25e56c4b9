// Package memory provides an in-process contact store backend, used for tests
// and as the default when no persistent store is configured.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	celeval "github.com/gezibash/arc-contacts/internal/directory/cel"
	"github.com/gezibash/arc-contacts/internal/directory/physical"
	"github.com/gezibash/arc-contacts/internal/storage"
)

func init() {
	physical.Register("memory", NewFactory, Defaults)
}

// Defaults returns the default configuration for the memory backend.
func Defaults() map[string]string {
	return map[string]string{
		physical.KeyLocale: physical.DefaultLocale,
	}
}

// NewFactory creates a memory backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (physical.Backend, error) {
	collator, err := physical.CollatorFor(storage.NewSettings("memory", config))
	if err != nil {
		return nil, err
	}
	eval, err := celeval.NewEvaluator()
	if err != nil {
		return nil, err
	}
	return &Backend{
		collator:  collator,
		eval:      eval,
		byContact: make(map[string][]*entry),
	}, nil
}

type entry struct {
	key []byte
	row *physical.Row
}

func compareEntries(a, b *entry) int { return bytes.Compare(a.key, b.key) }

// Backend keeps rows in a slice sorted by collation key.
type Backend struct {
	collator *physical.Collator
	eval     *celeval.Evaluator

	mu        sync.RWMutex
	rows      []*entry
	byContact map[string][]*entry
	nextRowID int64

	closed atomic.Bool
}

// Query returns matching rows. The result is a snapshot taken at call time.
func (b *Backend) Query(ctx context.Context, opts *physical.QueryOptions) (physical.Rows, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	sel, err := b.eval.Selector(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("memory query: %w", err)
	}

	var out []*physical.Row
	b.scan(ctx, sel, func(e *entry) bool {
		out = append(out, e.row.Project(columns(opts)))
		return true
	})
	return physical.NewSliceRows(out), nil
}

// Count returns the number of matching rows.
func (b *Backend) Count(ctx context.Context, opts *physical.QueryOptions) (int64, error) {
	if b.closed.Load() {
		return 0, physical.ErrClosed
	}
	sel, err := b.eval.Selector(ctx, opts)
	if err != nil {
		return 0, fmt.Errorf("memory count: %w", err)
	}
	if sel.MatchAll() {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return int64(len(b.rows)), nil
	}

	var n int64
	b.scan(ctx, sel, func(*entry) bool {
		n++
		return true
	})
	return n, nil
}

func (b *Backend) scan(ctx context.Context, sel *celeval.Selector, fn func(*entry) bool) {
	b.mu.RLock()
	var candidates []*entry
	if ids := sel.IDs(); ids != nil {
		for id := range ids {
			candidates = append(candidates, b.byContact[id]...)
		}
		slices.SortFunc(candidates, compareEntries)
	} else {
		candidates = slices.Clone(b.rows)
	}
	b.mu.RUnlock()

	for _, e := range candidates {
		if !sel.Match(ctx, e.row) {
			continue
		}
		if !fn(e) {
			return
		}
	}
}

func columns(opts *physical.QueryOptions) []string {
	if opts == nil {
		return nil
	}
	return opts.Columns
}

// ApplyBatch applies all ops under one write lock.
func (b *Backend) ApplyBatch(_ context.Context, ops []physical.Op) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	if err := validateOps(ops); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	deleted := make(map[string]struct{})
	var added []*entry
	for _, op := range ops {
		switch op.Type {
		case physical.OpDeleteContact:
			deleted[op.ContactID] = struct{}{}
			delete(b.byContact, op.ContactID)
			added = slices.DeleteFunc(added, func(e *entry) bool { return e.row.ContactID == op.ContactID })
		case physical.OpInsert:
			row := op.Row.Clone()
			if row.RowID == 0 {
				b.nextRowID++
				row.RowID = b.nextRowID
			} else if row.RowID > b.nextRowID {
				b.nextRowID = row.RowID
			}
			e := &entry{key: b.collator.SortKey(row), row: row}
			added = append(added, e)
			b.byContact[row.ContactID] = append(b.byContact[row.ContactID], e)
		}
	}

	if len(deleted) > 0 {
		b.rows = slices.DeleteFunc(b.rows, func(e *entry) bool {
			_, gone := deleted[e.row.ContactID]
			return gone
		})
	}
	b.rows = append(b.rows, added...)
	slices.SortFunc(b.rows, compareEntries)
	return nil
}

func validateOps(ops []physical.Op) error {
	for i, op := range ops {
		switch op.Type {
		case physical.OpInsert:
			if op.Row == nil || op.Row.ContactID == "" {
				return fmt.Errorf("memory apply batch: op %d: insert needs a row with a contact id", i)
			}
		case physical.OpDeleteContact:
			if op.ContactID == "" {
				return fmt.Errorf("memory apply batch: op %d: delete needs a contact id", i)
			}
		default:
			return fmt.Errorf("memory apply batch: op %d: unknown op type %d", i, op.Type)
		}
	}
	return nil
}

// Stats returns storage statistics.
func (b *Backend) Stats(_ context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return &physical.Stats{Rows: int64(len(b.rows)), BackendType: "memory"}, nil
}

// Close marks the backend closed and drops its rows.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	b.rows = nil
	b.byContact = nil
	b.mu.Unlock()
	return nil
}
