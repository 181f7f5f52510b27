// Package csvsheet turns published spreadsheet exports into rows and maps their loosely named
// header columns onto logical fields.
package csvsheet

import (
	"bytes"
	"encoding/csv"
	"strings"
)

// Parse splits comma-delimited text into rows of trimmed fields.
//
// Double quotes open a quoted section in which commas and line breaks are literal and a doubled
// quote stands for one quote character. Rows end at "\n" or "\r\n" outside quotes. Rows whose
// fields are all blank are skipped, and a final row without a trailing newline is kept.
//
// Malformed quoting is not reported: an unterminated quote swallows the remainder of the input
// into a single field.
func Parse(text string) [][]string {
	var (
		rows     [][]string
		row      []string
		field    strings.Builder
		inQuotes bool
	)

	endField := func() {
		row = append(row, strings.TrimSpace(field.String()))
		field.Reset()
	}
	endRow := func() {
		endField()
		if !blankRow(row) {
			rows = append(rows, row)
		}
		row = nil
	}

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inQuotes {
			if c == '"' {
				if i+1 < len(text) && text[i+1] == '"' {
					field.WriteByte('"')
					i++
					continue
				}
				inQuotes = false
				continue
			}
			field.WriteByte(c)
			continue
		}

		switch c {
		case '"':
			inQuotes = true
		case ',':
			endField()
		case '\r':
			if i+1 < len(text) && text[i+1] == '\n' {
				i++
				endRow()
				continue
			}
			field.WriteByte(c)
		case '\n':
			endRow()
		default:
			field.WriteByte(c)
		}
	}

	if field.Len() > 0 || len(row) > 0 {
		endRow()
	}

	return rows
}

// Write serialises rows as comma-delimited text, quoting fields that contain a comma, quote or
// line break. Each row ends with "\n".
func Write(rows [][]string) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	// Rows are well-formed string slices, so the writer cannot fail on a bytes.Buffer.
	_ = w.WriteAll(rows)
	return buf.String()
}

// Field returns the value at idx, or "" when idx is -1 or beyond the end of the row.
func Field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func blankRow(row []string) bool {
	for _, f := range row {
		if f != "" {
			return false
		}
	}
	return true
}
