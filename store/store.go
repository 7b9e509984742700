// Package store keeps uploaded CSV data in a SQLite database and runs ad-hoc
// queries against it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/darianmavgo/claridad/converters"
	"github.com/darianmavgo/claridad/converters/common"
	_ "github.com/darianmavgo/claridad/converters/csv"

	_ "modernc.org/sqlite"
)

// ErrNoColumns is returned by Query for statements that produce no result set.
var ErrNoColumns = errors.New("the query did not return any columns")

// ErrMultipleStatements is returned by Query when the text holds more than
// one SQL statement.
var ErrMultipleStatements = errors.New("only one SQL statement can be run at a time")

// TableMode selects where an upload's rows go.
type TableMode string

const (
	// SharedTable appends every upload to Options.Table.
	SharedTable TableMode = "shared"
	// PerFileTable stores each upload in a table named after the file.
	PerFileTable TableMode = "per_file"
)

// Options configures a Store.
type Options struct {
	TableMode       TableMode
	Table           string
	RequiredColumns []string
	// HiddenColumns are removed from query results, compared case-insensitively.
	HiddenColumns []string
	BatchSize     int
	SkipBadRows   bool
	ScanTimeout   time.Duration
	Logger        *slog.Logger
}

// DefaultOptions stores every upload in one csv_files table.
func DefaultOptions() Options {
	return Options{
		TableMode:     SharedTable,
		Table:         "csv_files",
		HiddenColumns: []string{common.RowIDColumn},
	}
}

// Store is a SQLite database holding uploaded rows.
type Store struct {
	db *sql.DB
	// reader runs queries. Open points it at a read-only connection.
	reader *sql.DB
	opts   Options
	hidden map[string]bool
	log    *slog.Logger
}

// Result is the column/row payload of a query.
type Result struct {
	Columns []string                 `json:"columns"`
	Data    []map[string]interface{} `json:"data"`
}

// IngestResult describes a completed upload.
type IngestResult struct {
	Table        string   `json:"table"`
	Rows         int      `json:"rows"`
	Rejected     int      `json:"rejected,omitempty"`
	AddedColumns []string `json:"added_columns,omitempty"`
}

// Open opens (creating if needed) the SQLite database at path.
// An empty path or ":memory:" keeps the data in memory.
//
// Uploads are written through one connection; queries go through a
// separate read-only one.
func Open(path string, opts Options) (*Store, error) {
	writerDSN, readerDSN := path, ""
	if path == "" || path == ":memory:" {
		name := "claridad-" + uuid.NewString()
		writerDSN = "file:" + name + "?mode=memory&cache=shared"
		readerDSN = "file:" + name + "?mode=memory&cache=shared&_pragma=query_only(1)"
	} else {
		readerDSN = fileURI(path) + "?mode=ro&_pragma=busy_timeout(5000)&_pragma=query_only(1)"
	}

	db, err := sql.Open("sqlite", writerDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit to 1 connection to avoid locking issues; a shared in-memory
	// database lives as long as this connection does.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMAs: %w", err)
	}

	reader, err := sql.Open("sqlite", readerDSN)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open read-only connection: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetConnMaxIdleTime(0)
	reader.SetConnMaxLifetime(0)
	if err := reader.Ping(); err != nil {
		reader.Close()
		db.Close()
		return nil, fmt.Errorf("failed to open read-only connection: %w", err)
	}

	s := New(db, opts)
	s.reader = reader
	return s, nil
}

// fileURI turns a filesystem path into a SQLite "file:" URI.
func fileURI(path string) string {
	p := filepath.ToSlash(path)
	if filepath.IsAbs(path) && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if strings.HasPrefix(p, "/") {
		return (&url.URL{Scheme: "file", Path: p}).String()
	}
	return "file:" + (&url.URL{Path: p}).EscapedPath()
}

// New wraps an existing database handle.
func New(db *sql.DB, opts Options) *Store {
	if opts.TableMode == "" {
		opts.TableMode = SharedTable
	}
	if opts.Table == "" {
		opts.Table = DefaultOptions().Table
	}
	hidden := make(map[string]bool, len(opts.HiddenColumns))
	for _, c := range opts.HiddenColumns {
		hidden[strings.ToLower(c)] = true
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, reader: db, opts: opts, hidden: hidden, log: log}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	var err error
	if s.reader != s.db {
		err = s.reader.Close()
	}
	return errors.Join(err, s.db.Close())
}

// TableFor returns the table an upload named filename is stored in.
func (s *Store) TableFor(filename string) string {
	if s.opts.TableMode == PerFileTable {
		base := filepath.Base(filename)
		return common.GenTableName(strings.TrimSuffix(base, filepath.Ext(base)))
	}
	return s.opts.Table
}

// Ingest reads a CSV upload from r and appends its rows.
func (s *Store) Ingest(ctx context.Context, filename string, r io.Reader) (*IngestResult, error) {
	driver, err := converters.DriverForFile(filename)
	if err != nil {
		return nil, err
	}

	table := s.TableFor(filename)
	provider, err := converters.Open(driver, r, &common.ConversionConfig{
		TableName:   table,
		ScanTimeout: s.opts.ScanTimeout,
	})
	if err != nil {
		return nil, err
	}

	stats, err := converters.Populate(ctx, s.db, provider, &converters.ImportOptions{
		BatchSize:       s.opts.BatchSize,
		LogErrors:       s.opts.SkipBadRows,
		RequiredColumns: s.opts.RequiredColumns,
		Logger:          s.log,
	})
	if err != nil {
		return nil, err
	}

	res := &IngestResult{Table: table}
	for _, st := range stats {
		res.Rows += st.Rows
		res.Rejected += st.Rejected
		res.AddedColumns = append(res.AddedColumns, st.AddedColumns...)
	}
	s.log.Info("ingested upload", "file", filename, "table", table, "rows", res.Rows, "rejected", res.Rejected)
	return res, nil
}

// Query runs a single statement and returns its columns and rows with hidden
// columns removed. The statement runs on a connection with query_only set,
// inside a transaction that is always rolled back, so queries never change
// stored data.
func (s *Store) Query(ctx context.Context, query string) (*Result, error) {
	switch countStatements(query) {
	case 0:
		return nil, ErrNoColumns
	case 1:
	default:
		return nil, ErrMultipleStatements
	}

	conn, err := s.reader.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	// A previous statement may have switched query_only off.
	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, fmt.Errorf("failed to set query_only: %w", err)
	}
	if s.reader == s.db {
		defer func() { _, _ = conn.ExecContext(context.Background(), "PRAGMA query_only = OFF") }()
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, ErrNoColumns
	}

	res := &Result{Columns: make([]string, 0, len(cols)), Data: []map[string]interface{}{}}
	keep := make([]bool, len(cols))
	for i, c := range cols {
		if s.hidden[strings.ToLower(c)] {
			continue
		}
		keep[i] = true
		res.Columns = append(res.Columns, c)
	}

	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(res.Columns))
		for i, c := range cols {
			if !keep[i] {
				continue
			}
			row[c] = cellValue(values[i])
		}
		res.Data = append(res.Data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Tables lists the user tables, skipping SQLite and import bookkeeping tables.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name != ?
		ORDER BY name`, converters.ErrorLogTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func cellValue(v interface{}) interface{} {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return x
	}
}
