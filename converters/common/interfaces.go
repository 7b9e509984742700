package common

import (
	"context"
	"io"
)

// RowProvider defines the interface for providing data to be inserted into SQLite
type RowProvider interface {
	GetTableNames() []string
	GetHeaders(tableName string) []string
	// GetColumnTypes returns one SQLite type per header, inferred from a sample.
	GetColumnTypes(tableName string) []string
	// ScanRows iterates over rows for the given table.
	// It calls the yield function for each row, or with a non-nil error for a row
	// that could not be read. If yield returns an error, iteration stops and that
	// error is returned.
	ScanRows(ctx context.Context, tableName string, yield func(row []interface{}, rowErr error) error) error
}

// Driver defines the interface that must be implemented by a converter package.
type Driver interface {
	// Open returns a new RowProvider for the given input.
	Open(source io.Reader, config *ConversionConfig) (RowProvider, error)
}
