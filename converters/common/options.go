package common

import (
	"strings"
	"time"
)

// ConversionConfig stores configuration options for the conversion process.
type ConversionConfig struct {
	Delimiter               rune   // Delimiter used for CSV parsing, detected when zero
	TableName               string // Name of the table the provider reports
	AdvancedHeaderDetection bool
	// ScanTimeout aborts a scan when no row arrives for this long. Zero disables it.
	ScanTimeout time.Duration
	// SampleRows is how many leading rows are buffered for type inference.
	SampleRows int
}

// DefaultSampleRows is used when ConversionConfig.SampleRows is zero.
const DefaultSampleRows = 100

// DetectDelimiter attempts to detect the delimiter from a raw line of text.
// It checks common delimiters and returns the one that produces the most fields.
// Defaults to comma if line is empty or no clear winner.
func DetectDelimiter(line string) rune {
	if line == "" {
		return ','
	}

	delimiters := []rune{',', '\t', ';', '|'}
	maxCount := 0
	winner := ','

	for _, delim := range delimiters {
		count := strings.Count(line, string(delim))
		if count > maxCount {
			maxCount = count
			winner = delim
		}
	}

	return winner
}

// ColumnCount calculates the number of columns based on a line and delimiter.
// It assumes the delimiter splits the line directly (ignoring quotes for estimation).
func ColumnCount(line string, delimiter rune) int {
	if line == "" {
		return 0
	}
	return strings.Count(line, string(delimiter)) + 1
}
