package page

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// DefaultPageSize is the number of rows shown per table page.
const DefaultPageSize = 10

// Column describes one result column.
type Column struct {
	Name     string
	Accessor func(row map[string]interface{}) interface{}
}

// Columns derives one descriptor per result column, in order.
func Columns(r *QueryResult) []Column {
	if r == nil {
		return nil
	}
	cols := make([]Column, len(r.Columns))
	for i, name := range r.Columns {
		cols[i] = Column{
			Name:     name,
			Accessor: func(row map[string]interface{}) interface{} { return row[name] },
		}
	}
	return cols
}

// View selects the sort order and page of a table.
type View struct {
	SortBy   string
	Desc     bool
	Page     int
	PageSize int
}

// Table is a sorted, paginated rendering model of a QueryResult.
type Table struct {
	Columns  []Column
	Rows     [][]string
	SortBy   string
	Desc     bool
	Page     int
	Pages    int
	PageSize int
	Total    int
}

// BuildTable sorts and paginates r according to v. It returns nil when r is
// nil. An unknown sort column leaves the rows in response order; the page
// is clamped to the valid range.
func BuildTable(r *QueryResult, v View) *Table {
	if r == nil {
		return nil
	}
	cols := Columns(r)
	size := v.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}

	rows := slices.Clone(r.Data)
	t := &Table{Columns: cols, PageSize: size, Total: len(rows)}

	if i := slices.IndexFunc(cols, func(c Column) bool { return c.Name == v.SortBy }); i >= 0 {
		acc := cols[i].Accessor
		t.SortBy, t.Desc = v.SortBy, v.Desc
		slices.SortStableFunc(rows, func(a, b map[string]interface{}) int {
			c := compareCells(acc(a), acc(b))
			if v.Desc {
				return -c
			}
			return c
		})
	}

	t.Pages = max(1, (len(rows)+size-1)/size)
	t.Page = min(max(v.Page, 1), t.Pages)

	start := (t.Page - 1) * size
	end := min(start+size, len(rows))
	for _, row := range rows[start:end] {
		cells := make([]string, len(cols))
		for j, c := range cols {
			cells[j] = FormatCell(c.Accessor(row))
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}

// FormatCell renders a cell value as text. Missing values render empty.
func FormatCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

// compareCells orders nil first, numbers numerically, everything else as text.
func compareCells(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	fa, aok := numeric(a)
	fb, bok := numeric(b)
	switch {
	case aok && bok:
		return cmp.Compare(fa, fb)
	case aok:
		return -1
	case bok:
		return 1
	}
	return strings.Compare(FormatCell(a), FormatCell(b))
}

func numeric(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	}
	return 0, false
}
