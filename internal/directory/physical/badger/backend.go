// Package badger provides a BadgerDB-backed contact store.
package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	celeval "github.com/gezibash/arc-contacts/internal/directory/cel"
	"github.com/gezibash/arc-contacts/internal/directory/physical"
	"github.com/gezibash/arc-contacts/internal/storage"
)

// Key layout:
//
//	row/<sort key>                 -> JSON row
//	cid/<contact id>\x00<row id>   -> sort key
//	meta/rowid                     -> last assigned row id
const (
	prefixRow     = "row/"
	prefixContact = "cid/"
	keyRowID      = "meta/rowid"
)

const (
	KeyPath             = "path"
	KeySyncWrites       = "sync_writes"
	KeyValueLogFileSize = "value_log_file_size"
	KeyMemTableSize     = "mem_table_size"
	KeyInMemory         = "in_memory"
)

func init() {
	physical.Register("badger", NewFactory, Defaults)
}

// Defaults returns the default configuration for the BadgerDB backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:             "~/.contacts/badger",
		KeySyncWrites:       "false",
		KeyValueLogFileSize: strconv.FormatInt(1<<30, 10),
		KeyMemTableSize:     strconv.FormatInt(64<<20, 10),
		KeyInMemory:         "false",
		physical.KeyLocale:  physical.DefaultLocale,
	}
}

// NewFactory creates a new BadgerDB backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (physical.Backend, error) {
	s := storage.NewSettings("badger", config)
	collator, err := physical.CollatorFor(s)
	if err != nil {
		return nil, err
	}

	inMemory, err := s.Bool(KeyInMemory, false)
	if err != nil {
		return nil, err
	}
	if inMemory {
		db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
		if err != nil {
			return nil, s.Error(KeyInMemory, "failed to open in-memory database", err)
		}
		slog.Info("badger contact store initialized (in-memory)", "locale", collator.Locale())
		return NewWithDB(db, collator)
	}

	path, err := s.Path(KeyPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, s.Error(KeyPath, "failed to create directory", err)
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)
	if opts.SyncWrites, err = s.Bool(KeySyncWrites, false); err != nil {
		return nil, err
	}
	valueLogSize, err := s.Int64(KeyValueLogFileSize, 0, 0)
	if err != nil {
		return nil, err
	}
	memTableSize, err := s.Int64(KeyMemTableSize, 0, 0)
	if err != nil {
		return nil, err
	}
	// Zero keeps badger's own default.
	if valueLogSize > 0 {
		opts.ValueLogFileSize = valueLogSize
	}
	if memTableSize > 0 {
		opts.MemTableSize = memTableSize
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, s.Error(KeyPath, "failed to open database", err)
	}

	slog.Info("badger contact store initialized", "path", path, "sync_writes", opts.SyncWrites, "locale", collator.Locale())
	return NewWithDB(db, collator)
}

// Backend is a BadgerDB implementation of physical.Backend.
type Backend struct {
	db       *badger.DB
	collator *physical.Collator
	eval     *celeval.Evaluator

	// writeMu serializes batches so the row id counter never conflicts.
	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewWithDB creates a new backend with an existing BadgerDB instance.
func NewWithDB(db *badger.DB, collator *physical.Collator) (*Backend, error) {
	eval, err := celeval.NewEvaluator()
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Backend{db: db, collator: collator, eval: eval}, nil
}

func rowKey(sortKey []byte) []byte {
	return append([]byte(prefixRow), sortKey...)
}

func contactPrefix(id string) []byte {
	k := make([]byte, 0, len(prefixContact)+len(id)+1)
	k = append(k, prefixContact...)
	k = append(k, id...)
	return append(k, 0)
}

func contactKey(id string, rowID int64) []byte {
	return binary.BigEndian.AppendUint64(contactPrefix(id), uint64(rowID)) //nolint:gosec
}

// Query returns matching rows. Unrestricted scans read lazily from a
// read-only transaction that lives until the Rows is closed.
func (b *Backend) Query(ctx context.Context, opts *physical.QueryOptions) (physical.Rows, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	sel, err := b.eval.Selector(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("badger query: %w", err)
	}
	var columns []string
	if opts != nil {
		columns = opts.Columns
	}

	if ids := sel.IDs(); ids != nil {
		rows, err := b.rowsForContacts(ctx, ids, sel, columns)
		if err != nil {
			return nil, fmt.Errorf("badger query: %w", err)
		}
		return physical.NewSliceRows(rows), nil
	}

	txn := b.db.NewTransaction(false)
	iterOpts := badger.DefaultIteratorOptions
	iterOpts.Prefix = []byte(prefixRow)
	it := txn.NewIterator(iterOpts)
	it.Seek(iterOpts.Prefix)
	return &scanner{ctx: ctx, txn: txn, it: it, sel: sel, columns: columns}, nil
}

// rowsForContacts loads every row of the given contacts in sort key order.
func (b *Backend) rowsForContacts(ctx context.Context, ids map[string]struct{}, sel *celeval.Selector, columns []string) ([]*physical.Row, error) {
	var out []*physical.Row
	err := b.db.View(func(txn *badger.Txn) error {
		var keys [][]byte
		for id := range ids {
			prefix := contactPrefix(id)
			iterOpts := badger.DefaultIteratorOptions
			iterOpts.Prefix = prefix
			it := txn.NewIterator(iterOpts)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				sk, err := it.Item().ValueCopy(nil)
				if err != nil {
					it.Close()
					return err
				}
				keys = append(keys, sk)
			}
			it.Close()
		}
		slices.SortFunc(keys, bytes.Compare)

		for _, sk := range keys {
			item, err := txn.Get(rowKey(sk))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			row, err := decodeRow(item)
			if err != nil {
				return err
			}
			if sel.Match(ctx, row) {
				out = append(out, project(row, columns))
			}
		}
		return nil
	})
	return out, err
}

func decodeRow(item *badger.Item) (*physical.Row, error) {
	var row physical.Row
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &row)
	})
	if err != nil {
		return nil, fmt.Errorf("decode row %x: %w", item.Key(), err)
	}
	return &row, nil
}

func project(row *physical.Row, columns []string) *physical.Row {
	if columns == nil {
		return row
	}
	return row.Project(columns)
}

// scanner walks the row/ prefix in key order.
type scanner struct {
	ctx     context.Context
	txn     *badger.Txn
	it      *badger.Iterator
	sel     *celeval.Selector
	columns []string

	cur    *physical.Row
	err    error
	closed bool
}

func (s *scanner) Next() bool {
	if s.closed || s.err != nil {
		return false
	}
	for ; s.it.ValidForPrefix([]byte(prefixRow)); s.it.Next() {
		if err := s.ctx.Err(); err != nil {
			s.err = err
			return false
		}
		row, err := decodeRow(s.it.Item())
		if err != nil {
			s.err = err
			return false
		}
		if !s.sel.Match(s.ctx, row) {
			continue
		}
		s.cur = project(row, s.columns)
		s.it.Next()
		return true
	}
	s.cur = nil
	return false
}

func (s *scanner) Row() *physical.Row { return s.cur }

func (s *scanner) Err() error { return s.err }

func (s *scanner) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.it.Close()
	s.txn.Discard()
	return nil
}

// Count returns the number of matching rows.
func (b *Backend) Count(ctx context.Context, opts *physical.QueryOptions) (int64, error) {
	if b.closed.Load() {
		return 0, physical.ErrClosed
	}
	sel, err := b.eval.Selector(ctx, opts)
	if err != nil {
		return 0, fmt.Errorf("badger count: %w", err)
	}
	if sel.MatchAll() {
		return b.countKeys()
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

func (b *Backend) countKeys() (int64, error) {
	var n int64
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		iterOpts.Prefix = []byte(prefixRow)
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(iterOpts.Prefix); it.ValidForPrefix(iterOpts.Prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger count: %w", err)
	}
	return n, nil
}

// ApplyBatch applies all ops in a single transaction.
func (b *Backend) ApplyBatch(_ context.Context, ops []physical.Op) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	for i, op := range ops {
		switch op.Type {
		case physical.OpInsert:
			if op.Row == nil || op.Row.ContactID == "" {
				return fmt.Errorf("badger apply batch: op %d: insert needs a row with a contact id", i)
			}
		case physical.OpDeleteContact:
			if op.ContactID == "" {
				return fmt.Errorf("badger apply batch: op %d: delete needs a contact id", i)
			}
		default:
			return fmt.Errorf("badger apply batch: op %d: unknown op type %d", i, op.Type)
		}
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	err := b.db.Update(func(txn *badger.Txn) error {
		last, err := lastRowID(txn)
		if err != nil {
			return err
		}
		for _, op := range ops {
			switch op.Type {
			case physical.OpDeleteContact:
				if err := deleteContactInTxn(txn, op.ContactID); err != nil {
					return err
				}
			case physical.OpInsert:
				row := op.Row.Clone()
				if row.RowID == 0 {
					last++
					row.RowID = last
				} else if row.RowID > last {
					last = row.RowID
				}
				if err := b.insertInTxn(txn, row); err != nil {
					return err
				}
			}
		}
		return txn.Set([]byte(keyRowID), binary.BigEndian.AppendUint64(nil, uint64(last))) //nolint:gosec
	})
	if err != nil {
		return fmt.Errorf("badger apply batch: %w", err)
	}
	return nil
}

func lastRowID(txn *badger.Txn) (int64, error) {
	item, err := txn.Get([]byte(keyRowID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var last int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("row id counter: bad length %d", len(val))
		}
		last = int64(binary.BigEndian.Uint64(val)) //nolint:gosec
		return nil
	})
	return last, err
}

func (b *Backend) insertInTxn(txn *badger.Txn, row *physical.Row) error {
	val, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	sk := b.collator.SortKey(row)
	if err := txn.Set(rowKey(sk), val); err != nil {
		return err
	}
	return txn.Set(contactKey(row.ContactID, row.RowID), sk)
}

func deleteContactInTxn(txn *badger.Txn, id string) error {
	prefix := contactPrefix(id)
	iterOpts := badger.DefaultIteratorOptions
	iterOpts.Prefix = prefix
	it := txn.NewIterator(iterOpts)

	var keys, sortKeys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		sk, err := it.Item().ValueCopy(nil)
		if err != nil {
			it.Close()
			return err
		}
		keys = append(keys, it.Item().KeyCopy(nil))
		sortKeys = append(sortKeys, sk)
	}
	it.Close()

	for i := range keys {
		if err := txn.Delete(rowKey(sortKeys[i])); err != nil {
			return err
		}
		if err := txn.Delete(keys[i]); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns storage statistics.
func (b *Backend) Stats(_ context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	rows, err := b.countKeys()
	if err != nil {
		return nil, err
	}
	lsm, vlog := b.db.Size()
	return &physical.Stats{
		Rows:        rows,
		SizeBytes:   lsm + vlog,
		BackendType: "badger",
	}, nil
}

// RunGC triggers value log garbage collection.
func (b *Backend) RunGC(discardRatio float64) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	for {
		if err := b.db.RunValueLogGC(discardRatio); err != nil {
			if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
				return nil
			}
			return fmt.Errorf("value log gc: %w", err)
		}
	}
}

// Close closes the BadgerDB database.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}
