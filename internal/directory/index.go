package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/gezibash/arc-contacts/internal/contacts"
	"github.com/gezibash/arc-contacts/internal/directory/physical"
	"github.com/gezibash/arc-contacts/internal/observability"
)

// identifierIndex holds the ordered, de-duplicated contact ids of the filter
// it was last built for. It is built lazily on first use and dropped whenever
// that filter changes or the directory is reset.
type identifierIndex struct {
	backend physical.Backend
	reader  contacts.Reader
	metrics *observability.Metrics

	mu sync.Mutex
	// match is the name filter chosen by setFilter. Reads that bring no
	// match of their own use it.
	match  string
	filter filter
	gen    uint64
	ids    []contacts.ID
	built  bool

	group singleflight.Group
}

func newIdentifierIndex(backend physical.Backend, reader contacts.Reader, metrics *observability.Metrics) *identifierIndex {
	return &identifierIndex{backend: backend, reader: reader, metrics: metrics}
}

// setFilter selects the name filter for later reads and always drops the index.
func (x *identifierIndex) setFilter(match string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.match = match
	x.filter = filter{match: match}
	x.clearLocked()
}

// selected returns the name filter chosen by setFilter.
func (x *identifierIndex) selected() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.match
}

func (x *identifierIndex) reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.clearLocked()
}

func (x *identifierIndex) clearLocked() {
	x.ids = nil
	x.built = false
	x.gen++
}

// ensure returns the ids for f, scanning the store when the index is not
// built for it. The returned slice is shared and must not be modified.
// Concurrent callers of one generation share a single scan, which outlives
// the caller that started it. A scan that finishes after the index moved on
// is returned to its callers but not kept.
func (x *identifierIndex) ensure(ctx context.Context, f filter) ([]contacts.ID, error) {
	x.mu.Lock()
	if x.filter != f {
		x.filter = f
		x.clearLocked()
	}
	if x.built {
		ids := x.ids
		x.mu.Unlock()
		return ids, nil
	}
	gen := x.gen
	x.mu.Unlock()

	v, err, _ := x.group.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		ids, err := x.scan(context.WithoutCancel(ctx), f)
		if err != nil {
			return nil, err
		}
		x.mu.Lock()
		defer x.mu.Unlock()
		if x.gen == gen {
			x.ids = ids
			x.built = true
			x.metrics.SetIndexSize(len(ids))
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]contacts.ID), nil
}

func (x *identifierIndex) scan(ctx context.Context, f filter) ([]contacts.ID, error) {
	rows, err := x.backend.Query(ctx, f.options())
	if err != nil {
		return nil, fmt.Errorf("scan identifiers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		ids  []contacts.ID
		seen = make(map[contacts.ID]struct{})
		read int
	)
	for rows.Next() {
		read++
		id := x.reader.ExtractID(rows.Row())
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan identifiers: %w", err)
	}
	x.metrics.ObserveRangeQuery("index", read)
	slog.DebugContext(ctx, "identifier index built", "contacts", len(ids), "rows", read, "match", f.match, "where", f.where)
	return ids, nil
}
