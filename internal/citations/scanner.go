package citations

import (
	"regexp"
	"strings"
)

// Marker is one bracketed citation occurrence found in a text fragment:
// the byte span it covers and the valid keys it references, in authored
// order. Markers are transient; they are recomputed on every scan.
type Marker struct {
	Start int
	End   int
	Raw   string
	Keys  []Key
}

// markerPattern matches a bracketed, comma-separated list of candidate
// keys. Per-entry validation happens in ParseKey so that entries like
// "R0" or "007" are dropped individually rather than rejecting the
// whole marker at the regex level.
var markerPattern = regexp.MustCompile(`\[([RMW]?[0-9]+(?:\s*,\s*[RMW]?[0-9]+)*)\]`)

// Scan extracts citation markers from one text fragment. Scanning is
// stateless and re-entrant: the compiled pattern carries no cursor and
// concurrent scans of different fragments are safe. Markers whose every
// entry fails key validation are omitted; the caller leaves that span
// as literal text.
func Scan(text string) []Marker {
	if !strings.Contains(text, "[") {
		return nil
	}

	var markers []Marker
	for _, loc := range markerPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		inner := text[loc[2]:loc[3]]

		var keys []Key
		for _, entry := range strings.Split(inner, ",") {
			if key, ok := ParseKey(entry); ok {
				keys = append(keys, key)
			}
		}
		if len(keys) == 0 {
			continue
		}
		markers = append(markers, Marker{
			Start: start,
			End:   end,
			Raw:   text[start:end],
			Keys:  keys,
		})
	}
	return markers
}
