package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/gezibash/arc-contacts/internal/contacts"
	"github.com/gezibash/arc-contacts/internal/directory/physical"
	"github.com/gezibash/arc-contacts/internal/observability"
)

// RefreshState is reported to Options.OnRefreshState when a cache refresh
// starts and when it finishes.
type RefreshState int

const (
	RefreshIdle RefreshState = iota
	RefreshRunning
)

func (s RefreshState) String() string {
	if s == RefreshRunning {
		return "running"
	}
	return "idle"
}

// CacheStats is a point-in-time view of the first-page cache.
type CacheStats struct {
	Enabled    bool      `json:"enabled"`
	Threshold  int       `json:"threshold"`
	Capacity   int       `json:"capacity"`
	Entries    int       `json:"entries"`
	Refreshing bool      `json:"refreshing"`
	Hits       uint64    `json:"hits"`
	Misses     uint64    `json:"misses"`
	Started    uint64    `json:"refreshes_started"`
	Filled     uint64    `json:"refreshes_filled"`
	Skipped    uint64    `json:"refreshes_skipped"`
	Failed     uint64    `json:"refreshes_failed"`
	Ignored    uint64    `json:"triggers_ignored"`
	LastFilled time.Time `json:"last_filled,omitzero"`
}

// pageCache holds up to capacity contacts from the head of the unfiltered
// store. It is only filled once the store holds more than threshold rows,
// and at most one refresh runs at a time.
type pageCache struct {
	backend   physical.Backend
	reader    contacts.Reader
	metrics   *observability.Metrics
	onState   func(RefreshState)
	enabled   bool
	threshold int
	capacity  int

	mu         sync.Mutex
	entries    []*contacts.Contact
	byID       map[contacts.ID]*contacts.Contact
	gen        uint64
	refreshing bool
	closed     bool
	stats      CacheStats

	wg sync.WaitGroup
}

func newPageCache(backend physical.Backend, reader contacts.Reader, metrics *observability.Metrics, opts Options) *pageCache {
	capacity := opts.PageCache.Capacity
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	threshold := max(opts.PageCache.Threshold, 0)
	return &pageCache{
		backend:   backend,
		reader:    reader,
		metrics:   metrics,
		onState:   opts.OnRefreshState,
		enabled:   !opts.PageCache.Disabled,
		threshold: threshold,
		capacity:  capacity,
	}
}

// lookup serves a first page of n contacts when the cache holds exactly n.
// The caller gets its own copies.
func (c *pageCache) lookup(n int) ([]*contacts.Contact, bool) {
	if !c.enabled {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n == 0 || len(c.entries) != n {
		c.stats.Misses++
		c.metrics.ObservePageCache(observability.CacheMiss)
		return nil, false
	}
	out := make([]*contacts.Contact, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Clone()
	}
	c.stats.Hits++
	c.metrics.ObservePageCache(observability.CacheHit)
	return out, true
}

// snapshot returns the cached contacts by id. The map and its values are
// shared; callers clone what they hand out.
func (c *pageCache) snapshot() map[contacts.ID]*contacts.Contact {
	if !c.enabled {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byID
}

// trigger starts a background refresh unless one is already running.
// The refresh is detached from ctx cancellation but keeps its values.
func (c *pageCache) trigger(ctx context.Context) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	if c.refreshing || c.closed {
		c.stats.Ignored++
		c.mu.Unlock()
		c.metrics.ObserveRefresh(observability.RefreshBusy)
		return
	}
	c.refreshing = true
	c.stats.Started++
	gen := c.gen
	c.wg.Add(1)
	c.mu.Unlock()

	c.notify(RefreshRunning)
	go c.run(context.WithoutCancel(ctx), gen)
}

func (c *pageCache) run(ctx context.Context, gen uint64) {
	defer c.wg.Done()

	var (
		outcome string
		err     error
		catcher panics.Catcher
	)
	catcher.Try(func() { outcome, err = c.refresh(ctx, gen) })
	if r := catcher.Recovered(); r != nil {
		outcome, err = observability.RefreshFailed, r.AsError()
	}
	if err != nil {
		slog.WarnContext(ctx, "page cache refresh failed", "error", err)
	}

	c.mu.Lock()
	c.refreshing = false
	switch outcome {
	case observability.RefreshFilled:
		c.stats.Filled++
	case observability.RefreshSkipped:
		c.stats.Skipped++
	default:
		c.stats.Failed++
	}
	c.mu.Unlock()

	c.metrics.ObserveRefresh(outcome)
	c.notify(RefreshIdle)
}

// refresh reads the head of the unfiltered store and replaces the entries.
// Below the threshold the current entries are left alone.
func (c *pageCache) refresh(ctx context.Context, gen uint64) (string, error) {
	total, err := c.backend.Count(ctx, nil)
	if err != nil {
		return observability.RefreshFailed, fmt.Errorf("count rows: %w", err)
	}
	if total <= int64(c.threshold) {
		slog.DebugContext(ctx, "page cache refresh skipped", "rows", total, "threshold", c.threshold)
		return observability.RefreshSkipped, nil
	}

	rows, err := c.backend.Query(ctx, &physical.QueryOptions{})
	if err != nil {
		return observability.RefreshFailed, fmt.Errorf("query head: %w", err)
	}
	defer func() { _ = rows.Close() }()

	b := contacts.NewBuilder(c.reader)
	read := 0
	for rows.Next() {
		row := rows.Row()
		if !b.Has(c.reader.ExtractID(row)) && b.Len() >= c.capacity {
			break
		}
		read++
		b.Add(row)
	}
	if err := rows.Err(); err != nil {
		return observability.RefreshFailed, fmt.Errorf("query head: %w", err)
	}
	c.metrics.ObserveRangeQuery("refresh", read)

	entries := b.Contacts()
	byID := make(map[contacts.ID]*contacts.Contact, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		// Reset while reading; the head may be stale.
		return observability.RefreshSkipped, nil
	}
	c.entries = entries
	c.byID = byID
	c.stats.LastFilled = time.Now()
	slog.DebugContext(ctx, "page cache filled", "contacts", len(entries), "rows", read)
	return observability.RefreshFilled, nil
}

func (c *pageCache) notify(s RefreshState) {
	if c.onState != nil {
		c.onState(s)
	}
}

// reset drops the entries. A refresh in flight will not publish.
func (c *pageCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.byID = nil
	c.gen++
}

func (c *pageCache) statsSnapshot() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Enabled = c.enabled
	s.Threshold = c.threshold
	s.Capacity = c.capacity
	s.Entries = len(c.entries)
	s.Refreshing = c.refreshing
	return s
}

// wait blocks until no refresh is running.
func (c *pageCache) wait() { c.wg.Wait() }

// close refuses new refreshes and waits for the running one.
func (c *pageCache) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
}
