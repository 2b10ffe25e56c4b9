package directory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/gezibash/arc-contacts/internal/contacts"
	celeval "github.com/gezibash/arc-contacts/internal/directory/cel"
	"github.com/gezibash/arc-contacts/internal/directory/physical"
	"github.com/gezibash/arc-contacts/internal/observability"
)

const (
	// DefaultCacheThreshold is the row count above which the first page is cached.
	DefaultCacheThreshold = 50_000
	// DefaultCacheCapacity is the number of contacts the first-page cache holds.
	DefaultCacheCapacity = 200
)

// PageCacheOptions configures the first-page cache. The zero value enables it
// with a threshold of 0 and the default capacity.
type PageCacheOptions struct {
	Disabled  bool
	Threshold int
	Capacity  int
}

// Options configures a Directory.
type Options struct {
	// Reader turns rows into contacts. Defaults to contacts.NewFieldReader.
	Reader    contacts.Reader
	Metrics   *observability.Metrics
	PageCache PageCacheOptions
	// OnRefreshState is called when a cache refresh starts and finishes.
	OnRefreshState func(RefreshState)
}

// DefaultOptions returns options with the default cache settings.
func DefaultOptions() Options {
	return Options{
		PageCache: PageCacheOptions{
			Threshold: DefaultCacheThreshold,
			Capacity:  DefaultCacheCapacity,
		},
	}
}

// Directory pages through the contacts of one backend.
type Directory struct {
	backend physical.Backend
	reader  contacts.Reader
	metrics *observability.Metrics
	eval    *celeval.Evaluator
	index   *identifierIndex
	cache   *pageCache
}

// New creates a Directory over backend. The caller keeps ownership of the
// backend and closes it after the Directory.
func New(backend physical.Backend, opts Options) (*Directory, error) {
	eval, err := celeval.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("create CEL evaluator: %w", err)
	}
	reader := opts.Reader
	if reader == nil {
		reader = contacts.NewFieldReader()
	}
	return &Directory{
		backend: backend,
		reader:  reader,
		metrics: opts.Metrics,
		eval:    eval,
		index:   newIdentifierIndex(backend, reader, opts.Metrics),
		cache:   newPageCache(backend, reader, opts.Metrics, opts),
	}, nil
}

// Page returns the contacts in w, in store order. Store failures are logged
// and degrade to an empty or partial page; only an invalid window, an
// invalid Where expression or a done context is returned as an error.
func (d *Directory) Page(ctx context.Context, w Window) (_ []*contacts.Contact, err error) {
	op, ctx := observability.StartOperation(ctx, d.metrics, "directory.page",
		attribute.Int("offset", w.Offset), attribute.Int("limit", w.Limit))
	defer func() { op.End(err) }()

	if err = w.validate(); err != nil {
		d.metrics.ObserveError("directory.page", "invalid_window")
		return nil, err
	}
	if w.Where != "" {
		if err = d.eval.ValidateExpression(ctx, w.Where); err != nil {
			d.metrics.ObserveError("directory.page", "invalid_expression")
			return nil, err
		}
	}
	if len(w.IDs) > 0 {
		op.SetAttributes(attribute.Int("ids", len(w.IDs)))
		// Explicit ids are read as given and the index is not consulted.
		// It is still built for the selected filter, which costs a full scan
		// when it is missing.
		if _, err := d.index.ensure(ctx, d.filterFor(nil, "")); err != nil {
			_ = d.degrade(ctx, "directory.page", err)
		}
		return d.fetch(ctx, slice(dedupe(w.IDs), w.Offset, w.Limit))
	}

	f := d.filterFor(w.Match, w.Where)
	all, err := d.index.ensure(ctx, f)
	if err != nil {
		return []*contacts.Contact{}, d.degrade(ctx, "directory.page", err)
	}
	ids := slice(all, w.Offset, w.Limit)
	op.SetAttributes(attribute.Int("ids", len(ids)), attribute.Bool("filtered", !f.empty()))
	if len(ids) == 0 {
		return []*contacts.Contact{}, nil
	}

	head := w.Offset == 0
	if head && f.empty() {
		if cached, ok := d.cache.lookup(len(ids)); ok {
			slog.DebugContext(ctx, "first page served from cache", "contacts", len(cached))
			d.cache.trigger(ctx)
			return cached, nil
		}
	} else if head {
		d.metrics.ObservePageCache(observability.CacheBypass)
	}

	out, err := d.fetch(ctx, ids)
	if err != nil {
		return nil, err
	}
	if head {
		d.cache.trigger(ctx)
	}
	return out, nil
}

// PageByIDs returns the given contacts, windowed by offset and limit over the
// de-duplicated id list. A limit of 0 returns all of them.
func (d *Directory) PageByIDs(ctx context.Context, ids []contacts.ID, offset, limit int) ([]*contacts.Contact, error) {
	if len(ids) == 0 {
		if err := (Window{Offset: offset, Limit: limit}).validate(); err != nil {
			return nil, err
		}
		return []*contacts.Contact{}, nil
	}
	return d.Page(ctx, Window{Offset: offset, Limit: limit, IDs: ids})
}

// Count returns the number of contacts whose display name contains match.
// A nil match counts under the filter set by SetFilter. It builds the index
// for that filter.
func (d *Directory) Count(ctx context.Context, match *string) (_ int, err error) {
	op, ctx := observability.StartOperation(ctx, d.metrics, "directory.count")
	defer func() { op.End(err) }()

	ids, err := d.index.ensure(ctx, d.filterFor(match, ""))
	if err != nil {
		return 0, d.degrade(ctx, "directory.count", err)
	}
	return len(ids), nil
}

// SetFilter makes match the name filter of every later read that does not
// bring its own, and discards the identifier index, which is rebuilt on the
// next read. A nil match clears the filter.
func (d *Directory) SetFilter(match *string) {
	var m string
	if match != nil {
		m = *match
	}
	d.index.setFilter(m)
}

// filterFor resolves the filter of one read. A nil match falls back to the
// one set by SetFilter.
func (d *Directory) filterFor(match *string, where string) filter {
	if match == nil {
		return filter{match: d.index.selected(), where: where}
	}
	return newFilter(match, where)
}

// Reset discards the identifier index and the cached first page. The next
// read rescans the store.
func (d *Directory) Reset() {
	d.index.reset()
	d.cache.reset()
}

// CreateContact writes c as a new contact and returns its id. An empty id is
// replaced by a random UUID. On success the directory is reset so the
// contact shows up on the next read.
func (d *Directory) CreateContact(ctx context.Context, c *contacts.Contact) (_ contacts.ID, err error) {
	op, ctx := observability.StartOperation(ctx, d.metrics, "directory.create")
	defer func() { op.End(err) }()

	if c == nil {
		return "", fmt.Errorf("%w: nil contact", ErrInvalidContact)
	}
	c = c.Clone()
	if c.ID == "" {
		c.ID = contacts.ID(uuid.NewString())
	}
	if err = c.Normalize(); err != nil {
		d.metrics.ObserveError("directory.create", "invalid_contact")
		return "", fmt.Errorf("%w: %w", ErrInvalidContact, err)
	}
	op.SetAttributes(attribute.String("contact_id", string(c.ID)))

	rows := c.Rows()
	ops := make([]physical.Op, len(rows))
	for i, row := range rows {
		ops[i] = physical.Op{Type: physical.OpInsert, Row: row}
	}
	if err = d.backend.ApplyBatch(ctx, ops); err != nil {
		d.metrics.ObserveError("directory.create", "store")
		return "", &MutationError{ContactID: c.ID, Err: err}
	}

	d.Reset()
	slog.InfoContext(ctx, "contact created", "contact_id", c.ID, "rows", len(rows))
	return c.ID, nil
}

// CacheStats reports the state of the first-page cache.
func (d *Directory) CacheStats() CacheStats {
	return d.cache.statsSnapshot()
}

// Close waits for a running cache refresh and refuses new ones.
func (d *Directory) Close() error {
	d.cache.close()
	return nil
}

// fetch reads ids in chunks of at most physical.MaxPredicateArgs, in order.
// Every chunk is queried; a contact the store returned that is also held by
// the page cache is served from the cache. A failed chunk is logged and left
// out.
func (d *Directory) fetch(ctx context.Context, ids []contacts.ID) ([]*contacts.Contact, error) {
	cached := d.cache.snapshot()
	out := make([]*contacts.Contact, 0, len(ids))
	for _, chunk := range chunks(ids) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, d.readChunk(ctx, chunk, cached)...)
	}
	return out, nil
}

func (d *Directory) readChunk(ctx context.Context, chunk []contacts.ID, cached map[contacts.ID]*contacts.Contact) []*contacts.Contact {
	query := make([]string, len(chunk))
	for i, id := range chunk {
		query[i] = string(id)
	}
	b := contacts.NewBuilder(d.reader)
	if err := d.readRows(ctx, query, cached, b); err != nil {
		slog.WarnContext(ctx, "contact chunk unavailable", "ids", len(query), "error", err)
		d.metrics.ObserveError("directory.page", "store_unavailable")
	}

	byID := make(map[contacts.ID]*contacts.Contact, b.Len())
	for _, c := range b.Contacts() {
		byID[c.ID] = c
	}
	out := make([]*contacts.Contact, 0, len(byID))
	for _, id := range chunk {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (d *Directory) readRows(ctx context.Context, ids []string, cached map[contacts.ID]*contacts.Contact, b *contacts.Builder) error {
	rows, err := d.backend.Query(ctx, &physical.QueryOptions{Selection: physical.Selection{IDs: ids}})
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	read := 0
	for rows.Next() {
		read++
		row := rows.Row()
		if c, ok := cached[d.reader.ExtractID(row)]; ok {
			if !b.Has(c.ID) {
				b.Put(c.Clone())
			}
			continue
		}
		b.Add(row)
	}
	d.metrics.ObserveRangeQuery("ids", read)
	return rows.Err()
}

// degrade turns a store failure into an empty result. A done context is
// reported instead.
func (d *Directory) degrade(ctx context.Context, operation string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	slog.WarnContext(ctx, "contact store unavailable", "operation", operation, "error", err)
	d.metrics.ObserveError(operation, "store_unavailable")
	return nil
}

func dedupe(ids []contacts.ID) []contacts.ID {
	seen := make(map[contacts.ID]struct{}, len(ids))
	out := make([]contacts.ID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
