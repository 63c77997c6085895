// Package sqlstore implements docstore.Store on a single SQL table, for
// SQLite (modernc.org/sqlite) and PostgreSQL (pgx). The schema is managed by
// goose migrations embedded in the binary.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/etnz/debstore/docstore"
	"github.com/etnz/debstore/docstore/sqlstore/migrations"
)

// Dialect selects the SQL backend.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ParseDialect accepts the dialect names used in configuration files.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	}
	return "", fmt.Errorf("unknown sql dialect %q", s)
}

func (d Dialect) driverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite"
}

func (d Dialect) gooseDialect() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite3"
}

// getManyBatch bounds the number of placeholders of a single IN clause.
const getManyBatch = 500

const (
	columns         = `doc_key, kind, idx, body`
	getQuery        = `SELECT ` + columns + ` FROM documents WHERE doc_key = ?`
	createQuery     = `INSERT INTO documents (` + columns + `) VALUES (?, ?, ?, ?) ON CONFLICT (doc_key) DO NOTHING`
	rangeQuery      = `SELECT ` + columns + ` FROM documents WHERE doc_key >= ? AND doc_key < ? ORDER BY doc_key`
	rangeOpenQuery  = `SELECT ` + columns + ` FROM documents WHERE doc_key >= ? ORDER BY doc_key`
	lookupQuery     = `SELECT ` + columns + ` FROM documents WHERE kind = ? AND idx = ? ORDER BY doc_key`
	indexRangeQuery = `SELECT ` + columns + ` FROM documents WHERE kind = ? AND idx >= ? AND idx < ? ORDER BY idx, doc_key`
	indexOpenQuery  = `SELECT ` + columns + ` FROM documents WHERE kind = ? AND idx >= ? ORDER BY idx, doc_key`
)

// Store is a docstore.Store backed by database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to dsn, checks the connection and applies pending migrations.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		// sqlite serializes writers anyway; a single connection avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, unavailable("ping", err)
	}
	s := New(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened database. The schema must be migrated.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

// Migrate brings the schema up to date with the embedded migrations.
func (s *Store) Migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(s.dialect.gooseDialect()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := gooseUpContext(ctx, s.db, string(s.dialect)); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (docstore.Document, error) {
	var d docstore.Document
	var body string
	err := s.db.QueryRowContext(ctx, s.rebind(getQuery), key).Scan(&d.Key, &d.Kind, &d.Index, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, unavailable("get", err)
	}
	d.Body = []byte(body)
	return d, nil
}

func (s *Store) GetMany(ctx context.Context, keys []string) ([]docstore.Document, error) {
	out := make([]docstore.Document, 0, len(keys))
	for start := 0; start < len(keys); start += getManyBatch {
		batch := keys[start:min(start+getManyBatch, len(keys))]
		q := `SELECT ` + columns + ` FROM documents WHERE doc_key IN (` +
			strings.TrimSuffix(strings.Repeat("?, ", len(batch)), ", ") + `)`
		args := make([]any, len(batch))
		for i, k := range batch {
			args[i] = k
		}
		docs, err := s.query(ctx, "get many", q, args...)
		if err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}
	return out, nil
}

func (s *Store) Range(ctx context.Context, lo, hi string) ([]docstore.Document, error) {
	if hi == "" {
		return s.query(ctx, "range", rangeOpenQuery, lo)
	}
	return s.query(ctx, "range", rangeQuery, lo, hi)
}

func (s *Store) Create(ctx context.Context, doc docstore.Document) error {
	res, err := s.db.ExecContext(ctx, s.rebind(createQuery), doc.Key, doc.Kind, doc.Index, string(doc.Body))
	if err != nil {
		return unavailable("create", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("create", err)
	}
	if n == 0 {
		return docstore.ErrExists
	}
	return nil
}

func (s *Store) Lookup(ctx context.Context, kind, index string) ([]docstore.Document, error) {
	return s.query(ctx, "lookup", lookupQuery, kind, index)
}

func (s *Store) IndexRange(ctx context.Context, kind, lo, hi string) ([]docstore.Document, error) {
	if hi == "" {
		return s.query(ctx, "index range", indexOpenQuery, kind, lo)
	}
	return s.query(ctx, "index range", indexRangeQuery, kind, lo, hi)
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) query(ctx context.Context, op, q string, args ...any) ([]docstore.Document, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	var out []docstore.Document
	for rows.Next() {
		var d docstore.Document
		var body string
		if err := rows.Scan(&d.Key, &d.Kind, &d.Index, &body); err != nil {
			return nil, unavailable(op, err)
		}
		d.Body = []byte(body)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return out, nil
}

// rebind turns '?' placeholders into the dialect's own.
func (s *Store) rebind(q string) string {
	if s.dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("db error: %s: %w: %w", op, docstore.ErrUnavailable, err)
}
