package store

import "strings"

// countStatements reports how many non-empty SQL statements text holds.
// Semicolons inside string literals, quoted identifiers and comments do not
// end a statement.
func countStatements(text string) int {
	n := 0
	content := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '\'' || c == '"' || c == '`' || c == '[':
			end := c
			if c == '[' {
				end = ']'
			}
			content = true
			i = skipQuoted(text, i+1, end)
		case c == '-' && strings.HasPrefix(text[i:], "--"):
			if j := strings.IndexByte(text[i:], '\n'); j >= 0 {
				i += j
			} else {
				i = len(text)
			}
		case c == '/' && strings.HasPrefix(text[i:], "/*"):
			if j := strings.Index(text[i+2:], "*/"); j >= 0 {
				i += j + 3
			} else {
				i = len(text)
			}
		case c == ';':
			if content {
				n++
			}
			content = false
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
		default:
			content = true
		}
	}
	if content {
		n++
	}
	return n
}

// skipQuoted returns the index of the quote closing a literal that starts at
// i. A doubled quote character is an escaped quote.
func skipQuoted(text string, i int, end byte) int {
	for ; i < len(text); i++ {
		if text[i] != end {
			continue
		}
		if end != ']' && i+1 < len(text) && text[i+1] == end {
			i++
			continue
		}
		return i
	}
	return len(text)
}
