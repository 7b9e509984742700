package common

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	TBPRE = "tb"
	CLPRE = "cl"

	// RowIDColumn is the surrogate key every created table starts with.
	RowIDColumn = "id"

	TypeInteger = "INTEGER"
	TypeReal    = "REAL"
	TypeText    = "TEXT"
)

var (
	space = regexp.MustCompile(`\s+`)
	reg   = regexp.MustCompile(`[^a-zA-Z0-9 _]+`)
)

/*
GenCompliantNames generates names that can be used in sqlite.

Column names and table names follow the same rules, so one function takes the
prefix as input: lower case, snake case, disallowed characters stripped,
keywords suffixed with an underscore. If a name ends up empty it becomes
{prefix}{idx}; a name starting with a digit becomes {prefix}{idx}{name}.
Duplicates get a numeric suffix.
*/
func GenCompliantNames(rawnames []string, prefix string) []string {
	gorgeous := make([]string, len(rawnames))

	used := make(map[string]bool, len(rawnames))
	for idx, item := range rawnames {
		item = strings.TrimSpace(item)
		item = reg.ReplaceAllString(item, "")
		item = space.ReplaceAllString(item, "_")
		item = strings.ToLower(item)

		switch {
		case item == "":
			item = fmt.Sprintf("%s%d", prefix, idx)
		case IsKeyword(item):
			item += "_"
		case item[0] >= '0' && item[0] <= '9':
			item = fmt.Sprintf("%s%d%s", prefix, idx, item)
		}

		name := item
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s%d", item, n)
		}
		used[name] = true
		gorgeous[idx] = name
	}
	return gorgeous
}

// GenColumnNames generates sanitized SQL column names from raw headers
// if columns are complete junk it will return cl0, cl1, cl2, etc.
func GenColumnNames(rawheaders []string) []string {
	return GenCompliantNames(rawheaders, CLPRE)
}

// GenTableNames generates sanitized SQL table names from raw table names.
// if table names are complete junk it will return tb0, tb1, tb2, etc.
func GenTableNames(rawtables []string) []string {
	return GenCompliantNames(rawtables, TBPRE)
}

// GenTableName sanitizes a single table name.
func GenTableName(raw string) string {
	return GenTableNames([]string{raw})[0]
}

// InferColumnTypes picks INTEGER, REAL or TEXT for each of width columns from
// the sampled rows. A column with no non-empty sample value is TEXT.
func InferColumnTypes(rows [][]string, width int) []string {
	types := make([]string, width)
	for col := 0; col < width; col++ {
		seen := false
		isInt, isReal := true, true
		for _, row := range rows {
			if col >= len(row) {
				continue
			}
			val := strings.TrimSpace(row[col])
			if val == "" {
				continue
			}
			seen = true
			if _, err := strconv.ParseInt(val, 10, 64); err != nil {
				isInt = false
			}
			if _, err := strconv.ParseFloat(val, 64); err != nil {
				isReal = false
			}
			if !isInt && !isReal {
				break
			}
		}
		switch {
		case !seen:
			types[col] = TypeText
		case isInt:
			types[col] = TypeInteger
		case isReal:
			types[col] = TypeReal
		default:
			types[col] = TypeText
		}
	}
	return types
}

// ConvertValue turns a raw cell into the value bound for a column of colType.
// Empty cells become NULL; values that do not parse are stored as text.
func ConvertValue(raw, colType string) interface{} {
	val := strings.TrimSpace(raw)
	if val == "" {
		return nil
	}
	switch colType {
	case TypeInteger:
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	case TypeReal:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return raw
}

// AssessHeaderRow scans up to maxScan rows and returns the index of the best candidate for the header row.
func AssessHeaderRow(rows [][]string, maxScan int) int {
	if len(rows) == 0 {
		return 0
	}

	limit := len(rows)
	if limit > maxScan {
		limit = maxScan
	}

	bestScore := -1.0
	bestIndex := 0

	for i := 0; i < limit; i++ {
		row := rows[i]
		if len(row) == 0 {
			continue
		}

		score := 0.0

		// all (or most) cells filled
		nonEmpty := 0
		for _, val := range row {
			if strings.TrimSpace(val) != "" {
				nonEmpty++
			}
		}
		if nonEmpty == len(row) {
			score += 2.0
		} else if nonEmpty > len(row)/2 {
			score += 1.0
		}

		// headers are unique and rarely numeric
		seen := make(map[string]bool, len(row))
		unique := true
		numeric := 0
		for _, val := range row {
			if seen[val] {
				unique = false
			}
			seen[val] = true
			if _, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
				numeric++
			}
		}
		if unique {
			score += 2.0
		}
		score -= float64(numeric)

		if i+1 < len(rows) && len(row) == len(rows[i+1]) {
			score += 1.0
		}

		// wider rows beat one-cell metadata rows, earlier rows win ties
		score += float64(len(row)) * 0.5
		score -= float64(i) * 0.1

		if score > bestScore {
			bestScore = score
			bestIndex = i
		}
	}

	return bestIndex
}

// QuoteIdent quotes a SQLite identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// GenInsertSQL generates a prepared INSERT statement for table and fields.
func GenInsertSQL(table string, fields []string) (string, error) {
	if table == "" || len(fields) == 0 {
		return "", fmt.Errorf("table name and fields are required")
	}

	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = QuoteIdent(f)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdent(table),
		strings.Join(quoted, ", "),
		strings.Repeat("?, ", len(fields)-1)+"?",
	), nil
}

// GenCreateTableSQLWithTypes generates a CREATE TABLE statement with a
// surrogate id key followed by columnNames typed as colTypes.
func GenCreateTableSQLWithTypes(tableName string, columnNames, colTypes []string) string {
	var builder strings.Builder
	builder.Grow(len(tableName) + 48 + len(columnNames)*20)

	builder.WriteString("CREATE TABLE IF NOT EXISTS ")
	builder.WriteString(QuoteIdent(tableName))
	builder.WriteString(" (")
	builder.WriteString(RowIDColumn)
	builder.WriteString(" INTEGER PRIMARY KEY AUTOINCREMENT")
	for i, name := range columnNames {
		builder.WriteString(", ")
		builder.WriteString(QuoteIdent(name))
		builder.WriteByte(' ')
		if i < len(colTypes) && colTypes[i] != "" {
			builder.WriteString(colTypes[i])
		} else {
			builder.WriteString(TypeText)
		}
	}
	builder.WriteByte(')')
	return builder.String()
}

// GenAddColumnSQL generates the ALTER TABLE statement adding one column.
func GenAddColumnSQL(tableName, column, colType string) string {
	if colType == "" {
		colType = TypeText
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", QuoteIdent(tableName), QuoteIdent(column), colType)
}
