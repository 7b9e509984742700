package converters

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/darianmavgo/claridad/converters/common"

	_ "modernc.org/sqlite"
)

// MockProvider implements common.RowProvider for testing
type MockProvider struct {
	tableNames []string
	headers    map[string][]string
	types      map[string][]string
	rows       map[string][][]interface{}
	rowErrs    map[int]error
	stopErr    error
}

// Ensure MockProvider implements common.RowProvider
var _ common.RowProvider = (*MockProvider)(nil)

func (m *MockProvider) GetTableNames() []string {
	return m.tableNames
}

func (m *MockProvider) GetHeaders(tableName string) []string {
	return m.headers[tableName]
}

func (m *MockProvider) GetColumnTypes(tableName string) []string {
	return m.types[tableName]
}

func (m *MockProvider) ScanRows(ctx context.Context, tableName string, yield func([]interface{}, error) error) error {
	for i, row := range m.rows[tableName] {
		if err := yield(row, m.rowErrs[i]); err != nil {
			return err
		}
	}
	return m.stopErr
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + common.QuoteIdent(table)).Scan(&n); err != nil {
		t.Fatalf("failed to count rows in %s: %v", table, err)
	}
	return n
}

func companiesProvider() *MockProvider {
	return &MockProvider{
		tableNames: []string{"csv_files"},
		headers: map[string][]string{
			"csv_files": {"id", "company_name", "employees"},
		},
		types: map[string][]string{
			"csv_files": {common.TypeInteger, common.TypeText, common.TypeInteger},
		},
		rows: map[string][][]interface{}{
			"csv_files": {
				{int64(10), "Acme", int64(120)},
				{int64(11), "Globex", nil},
			},
		},
	}
}

func TestPopulateCreatesTable(t *testing.T) {
	db := openTestDB(t)

	stats, err := Populate(context.Background(), db, companiesProvider(), nil)
	if err != nil {
		t.Fatalf("Populate failed: %v", err)
	}
	if len(stats) != 1 || !stats[0].Created || stats[0].Rows != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	// the source id is dropped in favour of the surrogate key
	var id int
	var name string
	if err := db.QueryRow(`SELECT id, company_name FROM csv_files ORDER BY id LIMIT 1`).Scan(&id, &name); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if id != 1 || name != "Acme" {
		t.Errorf("got id=%d name=%s", id, name)
	}
}

func TestPopulateAppendsAndAddsColumns(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := Populate(ctx, db, companiesProvider(), nil); err != nil {
		t.Fatalf("first Populate failed: %v", err)
	}

	second := &MockProvider{
		tableNames: []string{"csv_files"},
		headers:    map[string][]string{"csv_files": {"company_name", "city"}},
		types:      map[string][]string{"csv_files": {common.TypeText, common.TypeText}},
		rows: map[string][][]interface{}{
			"csv_files": {{"Initech", "Rome"}},
		},
	}
	stats, err := Populate(ctx, db, second, nil)
	if err != nil {
		t.Fatalf("second Populate failed: %v", err)
	}
	if stats[0].Created {
		t.Error("table should have been reused")
	}
	if len(stats[0].AddedColumns) != 1 || stats[0].AddedColumns[0] != "city" {
		t.Errorf("expected city to be added, got %v", stats[0].AddedColumns)
	}
	if n := countRows(t, db, "csv_files"); n != 3 {
		t.Errorf("expected 3 rows, got %d", n)
	}
}

func TestPopulateRequiredColumns(t *testing.T) {
	db := openTestDB(t)

	_, err := Populate(context.Background(), db, companiesProvider(), &ImportOptions{
		RequiredColumns: []string{"company_name", "City", "revenue"},
	})
	if !errors.Is(err, ErrMissingColumns) {
		t.Fatalf("expected ErrMissingColumns, got %v", err)
	}
	want := "CSV file must contain the following columns: City, revenue"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'csv_files'`).Scan(&n); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if n != 0 {
		t.Error("rejected import must not create the table")
	}
}

func TestPopulateAtomicRollback(t *testing.T) {
	db := openTestDB(t)

	p := companiesProvider()
	p.rowErrs = map[int]error{1: errors.New("bad quote")}

	_, err := Populate(context.Background(), db, p, nil)
	if err == nil {
		t.Fatal("expected error")
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'csv_files'`).Scan(&n); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if n != 0 {
		t.Error("failed atomic import left the table behind")
	}
}

func TestPopulateLogErrors(t *testing.T) {
	db := openTestDB(t)

	p := companiesProvider()
	p.rowErrs = map[int]error{1: errors.New("bad quote")}

	stats, err := Populate(context.Background(), db, p, &ImportOptions{LogErrors: true})
	if err != nil {
		t.Fatalf("Populate failed: %v", err)
	}
	if stats[0].Rows != 1 || stats[0].Rejected != 1 {
		t.Errorf("unexpected stats %+v", stats[0])
	}
	if n := countRows(t, db, ErrorLogTable); n != 1 {
		t.Errorf("expected 1 logged error, got %d", n)
	}
}

func TestPopulateBatchedKeepsPartialOnTimeout(t *testing.T) {
	db := openTestDB(t)

	p := companiesProvider()
	p.stopErr = ErrScanTimeout

	stats, err := Populate(context.Background(), db, p, &ImportOptions{BatchSize: 1})
	if !errors.Is(err, ErrScanTimeout) {
		t.Fatalf("expected ErrScanTimeout, got %v", err)
	}
	if stats[0].Rows != 2 {
		t.Errorf("expected 2 rows reported, got %d", stats[0].Rows)
	}
	if n := countRows(t, db, "csv_files"); n != 2 {
		t.Errorf("expected committed rows to survive, got %d", n)
	}
}
