// Package redis provides a Redis-backed contact store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	celeval "github.com/gezibash/arc-contacts/internal/directory/cel"
	"github.com/gezibash/arc-contacts/internal/directory/physical"
	"github.com/gezibash/arc-contacts/internal/storage"
)

const (
	KeyAddr         = "addr"
	KeyPassword     = "password"
	KeyDB           = "db"
	KeyMaxRetries   = "max_retries"
	KeyDialTimeout  = "dial_timeout"
	KeyReadTimeout  = "read_timeout"
	KeyWriteTimeout = "write_timeout"
	KeyPoolSize     = "pool_size"
	KeyKeyPrefix    = "key_prefix"
	KeyScanBatch    = "scan_batch"

	defaultPrefix    = "contacts:"
	defaultScanBatch = 500
)

func init() {
	physical.Register("redis", NewFactory, Defaults)
}

// Defaults returns the default configuration for the Redis backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyAddr:            "localhost:6379",
		KeyPassword:        "",
		KeyDB:              "1",
		KeyMaxRetries:      "3",
		KeyDialTimeout:     "5s",
		KeyReadTimeout:     "3s",
		KeyWriteTimeout:    "3s",
		KeyPoolSize:        "0",
		KeyKeyPrefix:       defaultPrefix,
		KeyScanBatch:       strconv.Itoa(defaultScanBatch),
		physical.KeyLocale: physical.DefaultLocale,
	}
}

// NewFactory creates a new Redis backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (physical.Backend, error) {
	s := storage.NewSettings("redis", config)
	addr, err := s.Required(KeyAddr)
	if err != nil {
		return nil, err
	}
	db, err := s.Int(KeyDB, 1, 0)
	if err != nil {
		return nil, err
	}
	// -1 disables retries in go-redis.
	maxRetries, err := s.Int(KeyMaxRetries, 3, -1)
	if err != nil {
		return nil, err
	}
	poolSize, err := s.Int(KeyPoolSize, 0, 0)
	if err != nil {
		return nil, err
	}
	scanBatch, err := s.Int(KeyScanBatch, defaultScanBatch, 1)
	if err != nil {
		return nil, err
	}

	var dialTimeout, readTimeout, writeTimeout time.Duration
	for _, d := range []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{KeyDialTimeout, 5 * time.Second, &dialTimeout},
		{KeyReadTimeout, 3 * time.Second, &readTimeout},
		{KeyWriteTimeout, 3 * time.Second, &writeTimeout},
	} {
		if *d.dst, err = s.Duration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	collator, err := physical.CollatorFor(s)
	if err != nil {
		return nil, err
	}
	password := s.String(KeyPassword, "")
	keyPrefix := s.String(KeyKeyPrefix, defaultPrefix)

	opts := &redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   maxRetries,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, s.Error(KeyAddr, "failed to connect", err)
	}

	slog.Info("redis contact store initialized", "addr", addr, "db", db, "key_prefix", keyPrefix, "locale", collator.Locale())

	be, err := NewWithClient(client, keyPrefix, collator)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	be.scanBatch = int64(scanBatch)
	return be, nil
}

// Backend is a Redis implementation of physical.Backend.
//
// Rows live in a sorted set scored 0 whose members are sort keys, so
// ZRANGE BYLEX walks them in display-name order. Each member's row JSON is
// stored under row:<row id>, and contact:<id> holds the members of a contact.
type Backend struct {
	client    *redis.Client
	prefix    string
	collator  *physical.Collator
	eval      *celeval.Evaluator
	scanBatch int64
	closed    atomic.Bool
}

// NewWithClient creates a new backend with an existing Redis client.
func NewWithClient(client *redis.Client, prefix string, collator *physical.Collator) (*Backend, error) {
	if prefix == "" {
		prefix = defaultPrefix
	}
	eval, err := celeval.NewEvaluator()
	if err != nil {
		return nil, err
	}
	return &Backend{
		client:    client,
		prefix:    prefix,
		collator:  collator,
		eval:      eval,
		scanBatch: defaultScanBatch,
	}, nil
}

func (b *Backend) orderKey() string            { return b.prefix + "order" }
func (b *Backend) rowIDKey() string            { return b.prefix + "rowid" }
func (b *Backend) rowKey(id int64) string      { return b.prefix + "row:" + strconv.FormatInt(id, 10) }
func (b *Backend) contactKey(id string) string { return b.prefix + "contact:" + id }

func (b *Backend) rowKeyFor(member string) (string, error) {
	id, err := physical.RowIDFromSortKey([]byte(member))
	if err != nil {
		return "", err
	}
	return b.rowKey(id), nil
}

// Query returns matching rows. Unrestricted scans page through the sorted
// set lazily, scan_batch members at a time.
func (b *Backend) Query(ctx context.Context, opts *physical.QueryOptions) (physical.Rows, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	sel, err := b.eval.Selector(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("redis query: %w", err)
	}
	var columns []string
	if opts != nil {
		columns = opts.Columns
	}

	if ids := sel.IDs(); ids != nil {
		rows, err := b.rowsForContacts(ctx, ids, sel, columns)
		if err != nil {
			return nil, fmt.Errorf("redis query: %w", err)
		}
		return physical.NewSliceRows(rows), nil
	}
	return &scanner{ctx: ctx, b: b, sel: sel, columns: columns, start: "-"}, nil
}

func (b *Backend) rowsForContacts(ctx context.Context, ids map[string]struct{}, sel *celeval.Selector, columns []string) ([]*physical.Row, error) {
	pipe := b.client.Pipeline()
	cmds := make([]*redis.StringSliceCmd, 0, len(ids))
	for id := range ids {
		cmds = append(cmds, pipe.SMembers(ctx, b.contactKey(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	var members []string
	for _, cmd := range cmds {
		members = append(members, cmd.Val()...)
	}
	slices.Sort(members)

	rows, err := b.load(ctx, members)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, row := range rows {
		if sel.Match(ctx, row) {
			out = append(out, project(row, columns))
		}
	}
	return out, nil
}

// load fetches the rows for the given members, skipping members whose row
// disappeared in between.
func (b *Backend) load(ctx context.Context, members []string) ([]*physical.Row, error) {
	if len(members) == 0 {
		return nil, nil
	}
	keys := make([]string, len(members))
	for i, m := range members {
		k, err := b.rowKeyFor(m)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}
	vals, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	rows := make([]*physical.Row, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var row physical.Row
		if err := json.Unmarshal([]byte(s), &row); err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		rows = append(rows, &row)
	}
	return rows, nil
}

func project(row *physical.Row, columns []string) *physical.Row {
	if columns == nil {
		return row
	}
	return row.Project(columns)
}

// scanner pages through the order set with ZRANGE BYLEX.
type scanner struct {
	ctx     context.Context
	b       *Backend
	sel     *celeval.Selector
	columns []string

	start string
	buf   []*physical.Row
	done  bool
	cur   *physical.Row
	err   error
}

func (s *scanner) fill() {
	members, err := s.b.client.ZRangeArgs(s.ctx, redis.ZRangeArgs{
		Key:   s.b.orderKey(),
		Start: s.start,
		Stop:  "+",
		ByLex: true,
		Count: s.b.scanBatch,
	}).Result()
	if err != nil {
		s.err = fmt.Errorf("redis query: %w", err)
		return
	}
	if int64(len(members)) < s.b.scanBatch {
		s.done = true
	}
	if len(members) == 0 {
		return
	}
	s.start = "(" + members[len(members)-1]

	rows, err := s.b.load(s.ctx, members)
	if err != nil {
		s.err = fmt.Errorf("redis query: %w", err)
		return
	}
	for _, row := range rows {
		if s.sel.Match(s.ctx, row) {
			s.buf = append(s.buf, project(row, s.columns))
		}
	}
}

func (s *scanner) Next() bool {
	for len(s.buf) == 0 {
		if s.err != nil || s.done {
			s.cur = nil
			return false
		}
		s.fill()
	}
	s.cur, s.buf = s.buf[0], s.buf[1:]
	return true
}

func (s *scanner) Row() *physical.Row { return s.cur }

func (s *scanner) Err() error { return s.err }

func (s *scanner) Close() error {
	s.done = true
	s.buf = nil
	return nil
}

// Count returns the number of matching rows.
func (b *Backend) Count(ctx context.Context, opts *physical.QueryOptions) (int64, error) {
	if b.closed.Load() {
		return 0, physical.ErrClosed
	}
	sel, err := b.eval.Selector(ctx, opts)
	if err != nil {
		return 0, fmt.Errorf("redis count: %w", err)
	}
	if sel.MatchAll() {
		n, err := b.client.ZCard(ctx, b.orderKey()).Result()
		if err != nil {
			return 0, fmt.Errorf("redis count: %w", err)
		}
		return n, nil
	}

	rows, err := b.Query(ctx, opts)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var n int64
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}

// ApplyBatch applies all ops in one MULTI/EXEC transaction. The members of
// deleted contacts are read before the transaction starts.
func (b *Backend) ApplyBatch(ctx context.Context, ops []physical.Op) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	var inserts int64
	for i, op := range ops {
		switch op.Type {
		case physical.OpInsert:
			if op.Row == nil || op.Row.ContactID == "" {
				return fmt.Errorf("redis apply batch: op %d: insert needs a row with a contact id", i)
			}
			if op.Row.RowID == 0 {
				inserts++
			}
		case physical.OpDeleteContact:
			if op.ContactID == "" {
				return fmt.Errorf("redis apply batch: op %d: delete needs a contact id", i)
			}
		default:
			return fmt.Errorf("redis apply batch: op %d: unknown op type %d", i, op.Type)
		}
	}

	var next int64
	if inserts > 0 {
		last, err := b.client.IncrBy(ctx, b.rowIDKey(), inserts).Result()
		if err != nil {
			return fmt.Errorf("redis apply batch: allocate row ids: %w", err)
		}
		next = last - inserts
	}

	pipe := b.client.TxPipeline()
	for _, op := range ops {
		switch op.Type {
		case physical.OpDeleteContact:
			members, err := b.client.SMembers(ctx, b.contactKey(op.ContactID)).Result()
			if err != nil {
				return fmt.Errorf("redis apply batch: delete %s: %w", op.ContactID, err)
			}
			if err := b.deleteInPipe(ctx, pipe, op.ContactID, members); err != nil {
				return fmt.Errorf("redis apply batch: delete %s: %w", op.ContactID, err)
			}
		case physical.OpInsert:
			row := op.Row.Clone()
			if row.RowID == 0 {
				next++
				row.RowID = next
			}
			if err := b.insertInPipe(ctx, pipe, row); err != nil {
				return fmt.Errorf("redis apply batch: %w", err)
			}
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis apply batch: %w", err)
	}
	return nil
}

func (b *Backend) insertInPipe(ctx context.Context, pipe redis.Pipeliner, row *physical.Row) error {
	val, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	member := string(b.collator.SortKey(row))
	pipe.Set(ctx, b.rowKey(row.RowID), val, 0)
	pipe.ZAdd(ctx, b.orderKey(), redis.Z{Score: 0, Member: member})
	pipe.SAdd(ctx, b.contactKey(row.ContactID), member)
	return nil
}

func (b *Backend) deleteInPipe(ctx context.Context, pipe redis.Pipeliner, id string, members []string) error {
	if len(members) > 0 {
		keys := make([]string, len(members))
		zmembers := make([]any, len(members))
		for i, m := range members {
			k, err := b.rowKeyFor(m)
			if err != nil {
				return err
			}
			keys[i] = k
			zmembers[i] = m
		}
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, b.orderKey(), zmembers...)
	}
	pipe.Del(ctx, b.contactKey(id))
	return nil
}

// Stats returns storage statistics.
func (b *Backend) Stats(ctx context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	n, err := b.client.ZCard(ctx, b.orderKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis stats: %w", err)
	}
	return &physical.Stats{Rows: n, BackendType: "redis"}, nil
}

// Close closes the Redis client.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.client.Close()
}
