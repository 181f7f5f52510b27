package csvsheet

import "strings"

// Synonyms maps a logical field to the header names that may carry it, most preferred first.
type Synonyms map[string][]string

// FindColumnIndex returns the index of the first header cell matching a candidate name, or -1.
//
// Header cells are compared lowercased with surrounding quotes and whitespace removed. Candidates
// are tried in order; for each candidate the header is scanned left to right and a cell matches
// when it equals the candidate or contains it. So with candidates ["id", "company_id"] a header
// "Company_ID" matches on the first candidate through containment.
func FindColumnIndex(header []string, candidates []string) int {
	normalized := make([]string, len(header))
	for i, cell := range header {
		normalized[i] = normalizeHeader(cell)
	}

	for _, candidate := range candidates {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		if candidate == "" {
			continue
		}
		for i, cell := range normalized {
			if cell == candidate || strings.Contains(cell, candidate) {
				return i
			}
		}
	}
	return -1
}

// MapColumns resolves every field of table against header. Absent fields map to -1.
func MapColumns(header []string, table Synonyms) map[string]int {
	indexes := make(map[string]int, len(table))
	for field, candidates := range table {
		indexes[field] = FindColumnIndex(header, candidates)
	}
	return indexes
}

// Missing lists the required fields that resolved to -1, in the order given.
func Missing(indexes map[string]int, required ...string) []string {
	var missing []string
	for _, field := range required {
		if idx, ok := indexes[field]; !ok || idx < 0 {
			missing = append(missing, field)
		}
	}
	return missing
}

func normalizeHeader(cell string) string {
	cell = strings.TrimSpace(cell)
	cell = strings.Trim(cell, `"'`)
	return strings.ToLower(strings.TrimSpace(cell))
}
