package converters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/darianmavgo/claridad/converters/common"
)

var (
	// ErrScanTimeout is returned when the source stalls longer than the scan timeout.
	ErrScanTimeout = common.ErrScanTimeout
	// ErrMissingColumns wraps the list of required columns a source lacks.
	ErrMissingColumns = errors.New("CSV file must contain the following columns")
)

// ErrorLogTable receives rows that failed to import when ImportOptions.LogErrors is set.
const ErrorLogTable = "_claridad_errors"

// ImportOptions defines configuration for the import process.
type ImportOptions struct {
	// BatchSize is the number of rows inserted per transaction. When it is
	// zero or less the whole import is one transaction and a failure leaves
	// the database untouched.
	BatchSize int
	// LogErrors records bad rows in ErrorLogTable instead of aborting.
	LogErrors bool
	// RequiredColumns must all be present (after name sanitization).
	RequiredColumns []string
	// Logger receives progress messages. Nil disables them.
	Logger *slog.Logger
}

// TableStats summarizes what an import did to one table.
type TableStats struct {
	Table        string
	Created      bool
	AddedColumns []string
	Rows         int
	Rejected     int
}

func (o *ImportOptions) logger() *slog.Logger {
	if o == nil || o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// Populate creates or extends the provider's tables in db and appends its rows.
// Every table gets a surrogate id key; a source column that sanitizes to "id"
// is not imported since the key is assigned by SQLite.
func Populate(ctx context.Context, db *sql.DB, provider common.RowProvider, opts *ImportOptions) ([]TableStats, error) {
	if opts == nil {
		opts = &ImportOptions{}
	}
	log := opts.logger()

	var stats []TableStats
	for _, tableName := range provider.GetTableNames() {
		headers := provider.GetHeaders(tableName)
		if len(headers) == 0 {
			continue // Skip tables without headers
		}

		if missing := missingColumns(headers, opts.RequiredColumns); len(missing) > 0 {
			return stats, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
		}

		st, err := populateTable(ctx, db, provider, tableName, headers, opts, log)
		stats = append(stats, st)
		if err != nil {
			return stats, err
		}
		log.Debug("finished table", "table", tableName, "rows", st.Rows, "rejected", st.Rejected)
	}
	return stats, nil
}

func missingColumns(headers, required []string) []string {
	have := make(map[string]bool, len(headers))
	for _, h := range headers {
		have[h] = true
	}
	var missing []string
	for i, name := range common.GenColumnNames(required) {
		if !have[name] {
			missing = append(missing, required[i])
		}
	}
	return missing
}

// batch is the transaction currently receiving rows.
type batch struct {
	tx     *sql.Tx
	insert *sql.Stmt
	logRow *sql.Stmt
}

func beginBatch(ctx context.Context, db *sql.DB, insertSQL string, logErrors bool) (*batch, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return prepareBatch(ctx, tx, insertSQL, logErrors)
}

// prepareBatch prepares the statements of a batch on tx, rolling tx back on failure.
func prepareBatch(ctx context.Context, tx *sql.Tx, insertSQL string, logErrors bool) (*batch, error) {
	b := &batch{tx: tx}
	var err error
	if b.insert, err = tx.PrepareContext(ctx, insertSQL); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	if logErrors {
		b.logRow, err = tx.PrepareContext(ctx, `INSERT INTO `+ErrorLogTable+` (message, table_name, row_data) VALUES (?, ?, ?)`)
		if err != nil {
			b.insert.Close()
			tx.Rollback()
			return nil, fmt.Errorf("failed to prepare log statement: %w", err)
		}
	}
	return b, nil
}

func (b *batch) close() {
	b.insert.Close()
	if b.logRow != nil {
		b.logRow.Close()
	}
}

func (b *batch) commit() error {
	b.close()
	return b.tx.Commit()
}

func (b *batch) rollback() {
	b.close()
	b.tx.Rollback()
}

func populateTable(ctx context.Context, db *sql.DB, provider common.RowProvider, tableName string, headers []string, opts *ImportOptions, log *slog.Logger) (TableStats, error) {
	st := TableStats{Table: tableName}
	colTypes := provider.GetColumnTypes(tableName)

	// Columns to insert, skipping a source "id" that would clash with the key.
	var fields []string
	var fieldIdx []int
	for i, h := range headers {
		if h == common.RowIDColumn {
			continue
		}
		fields = append(fields, h)
		fieldIdx = append(fieldIdx, i)
	}
	if len(fields) == 0 {
		return st, fmt.Errorf("table %s has no importable columns", tableName)
	}

	insertSQL, err := common.GenInsertSQL(tableName, fields)
	if err != nil {
		return st, fmt.Errorf("failed to generate insert statement for table %s: %w", tableName, err)
	}

	// Schema changes share the first transaction so a failed atomic import
	// does not leave an empty table behind.
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return st, fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := ensureSchema(ctx, tx, tableName, headers, colTypes, opts.LogErrors, &st); err != nil {
		tx.Rollback()
		return st, err
	}
	if st.Created {
		log.Debug("created table", "table", tableName, "columns", fields)
	}
	if len(st.AddedColumns) > 0 {
		log.Info("added columns", "table", tableName, "columns", st.AddedColumns)
	}
	cur, err := prepareBatch(ctx, tx, insertSQL, opts.LogErrors)
	if err != nil {
		return st, fmt.Errorf("table %s: %w", tableName, err)
	}

	args := make([]interface{}, len(fields))
	inBatch := 0

	err = provider.ScanRows(ctx, tableName, func(row []interface{}, rowErr error) error {
		if rowErr != nil {
			if opts.LogErrors {
				st.Rejected++
				if _, err := cur.logRow.ExecContext(ctx, rowErr.Error(), tableName, fmt.Sprintf("%v", row)); err != nil {
					return fmt.Errorf("failed to log error: %w", err)
				}
				return nil
			}
			return rowErr
		}

		for i, idx := range fieldIdx {
			if idx < len(row) {
				args[i] = row[idx]
			} else {
				args[i] = nil
			}
		}

		if _, err := cur.insert.ExecContext(ctx, args...); err != nil {
			if opts.LogErrors {
				st.Rejected++
				if _, err := cur.logRow.ExecContext(ctx, err.Error(), tableName, fmt.Sprintf("%v", row)); err != nil {
					return fmt.Errorf("failed to log insert error: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to insert row in table %s: %w", tableName, err)
		}

		st.Rows++
		inBatch++
		if opts.BatchSize > 0 && inBatch >= opts.BatchSize {
			if err := cur.commit(); err != nil {
				return fmt.Errorf("failed to commit transaction for table %s: %w", tableName, err)
			}
			next, err := beginBatch(ctx, db, insertSQL, opts.LogErrors)
			if err != nil {
				cur = nil
				return err
			}
			cur = next
			inBatch = 0
		}
		return nil
	})

	if err != nil {
		if cur == nil {
			return st, err
		}
		stopped := errors.Is(err, ErrScanTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		if stopped && opts.BatchSize > 0 {
			// Batched imports keep what already arrived.
			log.Warn("import stopped, committing partial batch", "table", tableName, "err", err)
			if commitErr := cur.commit(); commitErr != nil {
				log.Error("failed to commit on stop", "table", tableName, "err", commitErr)
			}
			return st, err
		}
		cur.rollback()
		if opts.BatchSize <= 0 {
			st.Rows = 0
		}
		return st, fmt.Errorf("failed to scan rows for table %s: %w", tableName, err)
	}

	if err := cur.commit(); err != nil {
		return st, fmt.Errorf("failed to commit transaction for table %s: %w", tableName, err)
	}
	return st, nil
}

// ensureSchema creates tableName or adds the headers it does not have yet.
func ensureSchema(ctx context.Context, tx *sql.Tx, tableName string, headers, colTypes []string, logErrors bool, st *TableStats) error {
	if logErrors {
		_, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+ErrorLogTable+` (
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
			message TEXT,
			table_name TEXT,
			row_data TEXT
		)`)
		if err != nil {
			return fmt.Errorf("failed to create error log table: %w", err)
		}
	}

	existing, err := tableColumns(ctx, tx, tableName)
	if err != nil {
		return err
	}

	typeOf := func(i int) string {
		if i < len(colTypes) {
			return colTypes[i]
		}
		return common.TypeText
	}

	if len(existing) == 0 {
		var cols, types []string
		for i, h := range headers {
			if h == common.RowIDColumn {
				continue
			}
			cols = append(cols, h)
			types = append(types, typeOf(i))
		}
		if _, err := tx.ExecContext(ctx, common.GenCreateTableSQLWithTypes(tableName, cols, types)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", tableName, err)
		}
		st.Created = true
		return nil
	}

	for i, h := range headers {
		if existing[h] {
			continue
		}
		if _, err := tx.ExecContext(ctx, common.GenAddColumnSQL(tableName, h, typeOf(i))); err != nil {
			return fmt.Errorf("failed to add column %s to table %s: %w", h, tableName, err)
		}
		st.AddedColumns = append(st.AddedColumns, h)
	}
	return nil
}

func tableColumns(ctx context.Context, tx *sql.Tx, tableName string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", tableName, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to inspect table %s: %w", tableName, err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
