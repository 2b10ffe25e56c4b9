// Package sqlite provides a SQLite-backed contact store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"modernc.org/sqlite"

	celeval "github.com/gezibash/arc-contacts/internal/directory/cel"
	"github.com/gezibash/arc-contacts/internal/directory/physical"
	"github.com/gezibash/arc-contacts/internal/storage"
)

const (
	KeyPath         = "path"
	KeyJournalMode  = "journal_mode"
	KeyBusyTimeout  = "busy_timeout"
	KeyCacheSize    = "cache_size"
	KeyMaxOpenConns = "max_open_conns"
)

func init() {
	physical.Register("sqlite", NewFactory, Defaults)
}

// Defaults returns the default configuration for the SQLite backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:            "~/.contacts/contacts.db",
		KeyJournalMode:     "wal",
		KeyBusyTimeout:     "5000",
		KeyCacheSize:       "-64000",
		KeyMaxOpenConns:    "4",
		physical.KeyLocale: physical.DefaultLocale,
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS data (
    row_id        INTEGER PRIMARY KEY AUTOINCREMENT,
    contact_id    TEXT NOT NULL,
    kind          TEXT NOT NULL,
    display_name  TEXT NOT NULL,
    data          TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_data_contact ON data(contact_id);
`

var (
	collationsMu sync.Mutex
	collations   = map[string]string{}
)

// collationFor registers a SQLite collation for the locale once per process
// and returns its name.
func collationFor(c *physical.Collator) (string, error) {
	collationsMu.Lock()
	defer collationsMu.Unlock()

	if name, ok := collations[c.Locale()]; ok {
		return name, nil
	}
	name := "LOCALIZED_" + strings.NewReplacer("-", "_").Replace(c.Locale())
	if err := sqlite.RegisterCollationUtf8(name, c.Compare); err != nil {
		return "", err
	}
	collations[c.Locale()] = name
	return name, nil
}

// NewFactory creates a new SQLite backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (physical.Backend, error) {
	s := storage.NewSettings("sqlite", config)
	path, err := s.Path(KeyPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, s.Error(KeyPath, "failed to create directory", err)
	}

	maxConns, err := s.Int(KeyMaxOpenConns, 4, 1)
	if err != nil {
		return nil, err
	}

	collator, err := physical.CollatorFor(s)
	if err != nil {
		return nil, err
	}
	collation, err := collationFor(collator)
	if err != nil {
		return nil, s.Error(physical.KeyLocale, "failed to register collation", err)
	}

	journalMode := s.String(KeyJournalMode, "wal")
	busyTimeout := s.String(KeyBusyTimeout, "5000")
	cacheSize := s.String(KeyCacheSize, "-64000")

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(%s)&_pragma=cache_size(%s)",
		path, journalMode, busyTimeout, cacheSize)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, s.Error(KeyPath, "failed to open database", err)
	}

	db.SetMaxOpenConns(maxConns)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, s.Error(KeyPath, "failed to initialize schema", err)
	}

	eval, err := celeval.NewEvaluator()
	if err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("sqlite contact store initialized", "path", path, "journal_mode", journalMode, "locale", collator.Locale())
	return &Backend{db: db, eval: eval, collation: collation}, nil
}

// Backend is a SQLite implementation of physical.Backend.
type Backend struct {
	db        *sql.DB
	eval      *celeval.Evaluator
	collation string
	closed    atomic.Bool
}

// where renders the selection as a WHERE clause.
func where(sel physical.Selection) (string, []any) {
	var qb strings.Builder
	var args []any

	qb.WriteString(" WHERE 1=1")
	if len(sel.IDs) > 0 {
		qb.WriteString(" AND contact_id IN (")
		for i, id := range sel.IDs {
			if i > 0 {
				qb.WriteString(",")
			}
			qb.WriteString("?")
			args = append(args, id)
		}
		qb.WriteString(")")
	}
	if sel.NameContains != "" {
		// LIKE is ASCII case-insensitive in SQLite.
		qb.WriteString(` AND display_name LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(sel.NameContains)+"%")
	}
	return qb.String(), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func optsOrEmpty(opts *physical.QueryOptions) *physical.QueryOptions {
	if opts == nil {
		return &physical.QueryOptions{}
	}
	return opts
}

// Query streams matching rows straight from the database cursor.
func (b *Backend) Query(ctx context.Context, opts *physical.QueryOptions) (physical.Rows, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	opts = optsOrEmpty(opts)
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var post *celeval.Selector
	if opts.Expression != "" {
		sel, err := b.eval.Selector(ctx, &physical.QueryOptions{Expression: opts.Expression})
		if err != nil {
			return nil, fmt.Errorf("sqlite query: %w", err)
		}
		post = sel
	}

	// The expression sees whole rows; projection happens after it.
	full := post != nil
	cols := []string{"row_id", "contact_id", "display_name", "NULL", "NULL"}
	if full || opts.WantsColumn(physical.ColumnKind) {
		cols[3] = "kind"
	}
	if full || opts.WantsColumn(physical.ColumnData) {
		cols[4] = "data"
	}

	clause, args := where(opts.Selection)
	q := "SELECT " + strings.Join(cols, ", ") + " FROM data" + clause +
		" ORDER BY display_name COLLATE " + b.collation + ", contact_id, row_id"

	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query: %w", err)
	}
	return &cursor{ctx: ctx, rows: rows, post: post, columns: opts.Columns}, nil
}

// cursor adapts *sql.Rows to physical.Rows.
type cursor struct {
	ctx     context.Context
	rows    *sql.Rows
	post    *celeval.Selector
	columns []string

	cur *physical.Row
	err error
}

func (c *cursor) Next() bool {
	for c.err == nil && c.rows.Next() {
		row, err := scanRow(c.rows)
		if err != nil {
			c.err = err
			return false
		}
		if c.post != nil {
			if !c.post.Match(c.ctx, row) {
				continue
			}
			row = row.Project(c.columns)
		} else if c.columns != nil {
			if !slices.Contains(c.columns, physical.ColumnRowID) {
				row.RowID = 0
			}
			if !slices.Contains(c.columns, physical.ColumnContactID) {
				row.ContactID = ""
			}
			if !slices.Contains(c.columns, physical.ColumnDisplayName) {
				row.DisplayName = ""
			}
		}
		c.cur = row
		return true
	}
	c.cur = nil
	return false
}

func (c *cursor) Row() *physical.Row { return c.cur }

func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	if err := c.rows.Err(); err != nil {
		return fmt.Errorf("sqlite query: rows: %w", err)
	}
	return nil
}

func (c *cursor) Close() error { return c.rows.Close() }

func scanRow(rows *sql.Rows) (*physical.Row, error) {
	var (
		row  physical.Row
		kind sql.NullString
		data sql.NullString
	)
	if err := rows.Scan(&row.RowID, &row.ContactID, &row.DisplayName, &kind, &data); err != nil {
		return nil, fmt.Errorf("sqlite query: scan: %w", err)
	}
	row.Kind = kind.String
	if data.Valid && data.String != "" && data.String != "{}" {
		if err := json.Unmarshal([]byte(data.String), &row.Data); err != nil {
			return nil, fmt.Errorf("sqlite query: decode data of row %d: %w", row.RowID, err)
		}
	}
	return &row, nil
}

// Count returns the number of matching rows.
func (b *Backend) Count(ctx context.Context, opts *physical.QueryOptions) (int64, error) {
	if b.closed.Load() {
		return 0, physical.ErrClosed
	}
	opts = optsOrEmpty(opts)
	if err := opts.Validate(); err != nil {
		return 0, err
	}

	if opts.Expression != "" {
		rows, err := b.Query(ctx, &physical.QueryOptions{
			Columns:    []string{physical.ColumnRowID},
			Selection:  opts.Selection,
			Expression: opts.Expression,
		})
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

	clause, args := where(opts.Selection)
	var n int64
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM data"+clause, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite count: %w", err)
	}
	return n, nil
}

// ApplyBatch applies all ops in a single transaction.
func (b *Backend) ApplyBatch(ctx context.Context, ops []physical.Op) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite apply batch: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	insert, err := tx.PrepareContext(ctx,
		`INSERT INTO data (row_id, contact_id, kind, display_name, data) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite apply batch: prepare insert: %w", err)
	}
	defer insert.Close()

	for i, op := range ops {
		switch op.Type {
		case physical.OpInsert:
			if op.Row == nil || op.Row.ContactID == "" {
				return fmt.Errorf("sqlite apply batch: op %d: insert needs a row with a contact id", i)
			}
			if err := b.insertInTx(ctx, insert, op.Row); err != nil {
				return fmt.Errorf("sqlite apply batch: op %d: %w", i, err)
			}
		case physical.OpDeleteContact:
			if op.ContactID == "" {
				return fmt.Errorf("sqlite apply batch: op %d: delete needs a contact id", i)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM data WHERE contact_id = ?`, op.ContactID); err != nil {
				return fmt.Errorf("sqlite apply batch: op %d: delete: %w", i, err)
			}
		default:
			return fmt.Errorf("sqlite apply batch: op %d: unknown op type %d", i, op.Type)
		}
	}
	return tx.Commit()
}

func (b *Backend) insertInTx(ctx context.Context, stmt *sql.Stmt, row *physical.Row) error {
	data := []byte("{}")
	if len(row.Data) > 0 {
		var err error
		if data, err = json.Marshal(row.Data); err != nil {
			return fmt.Errorf("encode data: %w", err)
		}
	}
	var rowID any
	if row.RowID != 0 {
		rowID = row.RowID
	}
	if _, err := stmt.ExecContext(ctx, rowID, row.ContactID, row.Kind, row.DisplayName, string(data)); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

// Stats returns storage statistics.
func (b *Backend) Stats(ctx context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	var sizeBytes, rows int64
	err := b.db.QueryRowContext(ctx,
		`SELECT page_count * page_size FROM pragma_page_count, pragma_page_size`).Scan(&sizeBytes)
	if err != nil {
		return nil, fmt.Errorf("sqlite stats: %w", err)
	}
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM data`).Scan(&rows); err != nil {
		return nil, fmt.Errorf("sqlite stats: %w", err)
	}

	return &physical.Stats{
		Rows:        rows,
		SizeBytes:   sizeBytes,
		BackendType: "sqlite",
	}, nil
}

// Close closes the SQLite database.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}
