package csv

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/darianmavgo/claridad/converters"
	"github.com/darianmavgo/claridad/converters/common"
)

const (
	CSVTB = "tb0"
)

func init() {
	converters.Register("csv", &csvDriver{})
}

type csvDriver struct{}

func (d *csvDriver) Open(source io.Reader, config *common.ConversionConfig) (common.RowProvider, error) {
	return NewCSVConverterWithConfig(source, config)
}

// CSVConverter streams CSV rows into SQLite tables
type CSVConverter struct {
	headers      []string
	rawHeaders   []string
	colTypes     []string
	bufferedRows [][]string
	csvReader    *csv.Reader
	Config       common.ConversionConfig
}

// Ensure CSVConverter implements RowProvider
var _ common.RowProvider = (*CSVConverter)(nil)

// NewCSVConverter creates a new CSVConverter from an io.Reader.
// This allows streaming data from a source (e.g. an HTTP upload) without a local file.
// Note: ScanRows can only be called once.
func NewCSVConverter(r io.Reader) (*CSVConverter, error) {
	return NewCSVConverterWithConfig(r, nil)
}

// NewCSVConverterWithConfig creates a new CSVConverter from an io.Reader with optional config.
func NewCSVConverterWithConfig(r io.Reader, config *common.ConversionConfig) (*CSVConverter, error) {
	cfg := common.ConversionConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.TableName == "" {
		cfg.TableName = CSVTB
	}
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = common.DefaultSampleRows
	}

	br := bufio.NewReaderSize(r, 65536)

	// Detect delimiter if not set
	if cfg.Delimiter == 0 {
		peekBytes, _ := br.Peek(2048)
		sample := string(peekBytes)
		if idx := strings.IndexAny(sample, "\r\n"); idx != -1 {
			sample = sample[:idx]
		}
		cfg.Delimiter = common.DetectDelimiter(sample)
	}

	reader := csv.NewReader(br)
	reader.Comma = cfg.Delimiter
	reader.FieldsPerRecord = -1 // Allow variable number of fields

	var headers []string
	var bufferedRows [][]string

	if cfg.AdvancedHeaderDetection {
		var scanRows [][]string
		for i := 0; i < 10; i++ {
			row, err := reader.Read()
			if err != nil {
				if err == io.EOF {
					break
				}
				return nil, fmt.Errorf("failed to read CSV row for assessment: %w", err)
			}
			scanRows = append(scanRows, row)
		}
		if len(scanRows) == 0 {
			return nil, fmt.Errorf("CSV file is empty")
		}
		idx := common.AssessHeaderRow(scanRows, 10)
		headers = scanRows[idx]
		bufferedRows = append(bufferedRows, scanRows[idx+1:]...)
	} else {
		// Default behavior: First row is header
		h, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("CSV file is empty")
			}
			return nil, fmt.Errorf("failed to read CSV headers: %w", err)
		}
		headers = h
	}
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	}

	// Buffer a sample for type inference
	for len(bufferedRows) < cfg.SampleRows {
		row, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		bufferedRows = append(bufferedRows, row)
	}

	sanitized := common.GenColumnNames(headers)

	return &CSVConverter{
		headers:      sanitized,
		rawHeaders:   headers,
		colTypes:     common.InferColumnTypes(bufferedRows, len(sanitized)),
		bufferedRows: bufferedRows,
		csvReader:    reader,
		Config:       cfg,
	}, nil
}

// GetTableNames implements RowProvider
func (c *CSVConverter) GetTableNames() []string {
	return []string{c.Config.TableName}
}

// GetHeaders implements RowProvider
func (c *CSVConverter) GetHeaders(tableName string) []string {
	if tableName == c.Config.TableName {
		return c.headers
	}
	return nil
}

// RawHeaders returns the header row as it appeared in the file.
func (c *CSVConverter) RawHeaders() []string {
	return c.rawHeaders
}

// GetColumnTypes implements RowProvider
func (c *CSVConverter) GetColumnTypes(tableName string) []string {
	if tableName != c.Config.TableName {
		return nil
	}
	return c.colTypes
}

// padRow pads or truncates the row to match the target length.
func padRow(row []string, targetLen int) []string {
	if len(row) < targetLen {
		row = append(row, make([]string, targetLen-len(row))...)
	} else if len(row) > targetLen {
		row = row[:targetLen]
	}
	return row
}

func (c *CSVConverter) toValues(row []string) []interface{} {
	row = padRow(row, len(c.headers))
	values := make([]interface{}, len(row))
	for i, val := range row {
		values[i] = common.ConvertValue(val, c.colTypes[i])
	}
	return values
}

// ScanRows implements RowProvider. Reading runs in a producer goroutine so
// parsing overlaps with inserts; the scan stops when ctx is done or when no
// row arrives within Config.ScanTimeout.
func (c *CSVConverter) ScanRows(ctx context.Context, tableName string, yield func([]interface{}, error) error) error {
	if tableName != c.Config.TableName {
		return nil
	}

	if c.csvReader == nil {
		return fmt.Errorf("CSV reader is not initialized")
	}

	watchdog, ctx := common.NewWatchdog(ctx, c.Config.ScanTimeout)
	defer watchdog.Stop()

	type rowOrError struct {
		row []interface{}
		err error
	}

	rowsCh := make(chan rowOrError, 100)

	go func() {
		defer close(rowsCh)

		send := func(item rowOrError) bool {
			select {
			case rowsCh <- item:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for _, row := range c.bufferedRows {
			if !send(rowOrError{row: c.toValues(row)}) {
				return
			}
		}

		for {
			row, err := c.csvReader.Read()
			if err != nil {
				if err == io.EOF {
					return
				}
				var parseErr *csv.ParseError
				if !errors.As(err, &parseErr) {
					// the underlying reader failed, nothing more will come
					send(rowOrError{err: fmt.Errorf("failed to read CSV: %w", err)})
					return
				}
				if !send(rowOrError{err: fmt.Errorf("failed to read CSV row: %w", err)}) {
					return
				}
				continue
			}
			watchdog.Kick()
			if !send(rowOrError{row: c.toValues(row)}) {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			if watchdog.Fired() {
				return common.ErrScanTimeout
			}
			return ctx.Err()
		case item, ok := <-rowsCh:
			if !ok {
				return nil
			}
			if err := yield(item.row, item.err); err != nil {
				return err
			}
		}
	}
}
