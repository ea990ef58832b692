package vote

import "strings"

// actionIDLabel is the table column label that introduces a vote marker.
const actionIDLabel = "Action ID"

// markerLength is the number of trailing characters that form a marker.
const markerLength = 4

// ParseMarkerLine extracts the marker from a single markdown table row.
// The row is split on '|', fields are trimmed and empty ones dropped; a row
// with at least three fields whose second field is "Action ID" yields the
// last four characters of the third field.
func ParseMarkerLine(line string) (string, bool) {
	var fields []string
	for _, f := range strings.Split(line, "|") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}

	if len(fields) < 3 || fields[1] != actionIDLabel {
		return "", false
	}

	value := []rune(fields[2])
	if len(value) > markerLength {
		value = value[len(value)-markerLength:]
	}
	return string(value), true
}

// ParseMarkers returns every marker found in a voting-history document, in
// document order. Duplicates are kept.
func ParseMarkers(doc string) []string {
	var markers []string
	for _, line := range strings.Split(doc, "\n") {
		if m, ok := ParseMarkerLine(strings.TrimRight(line, "\r")); ok {
			markers = append(markers, m)
		}
	}
	return markers
}
