package citations

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/loomchat/beacon/internal/evidence"
)

// Key is the canonical string form of one cited position: the partition
// prefix (empty for web) followed by the 1-based position, e.g. "R1",
// "M2", "3". It joins a marker to an evidence record and is the lookup
// key into the per-message registry. The explicit "W" prefix accepted on
// input canonicalizes to the empty prefix, so "W2" and "2" are one key.
type Key string

// keyPattern matches one well-formed key: optional prefix, positive
// integer with no leading zero.
var keyPattern = regexp.MustCompile(`^([RMW]?)([1-9][0-9]*)$`)

// ParseKey validates and canonicalizes a raw comma-separated marker
// entry. Returns false for anything that is not a positive integer with
// an optional known prefix; callers drop such entries.
func ParseKey(raw string) (Key, bool) {
	m := keyPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", false
	}
	kind, ok := evidence.ParseKind(m[1])
	if !ok {
		return "", false
	}
	return Key(kind.Prefix() + m[2]), true
}

// Kind returns the provenance partition the key indexes into.
func (k Key) Kind() evidence.Kind {
	switch {
	case strings.HasPrefix(string(k), "R"):
		return evidence.KindRetrieval
	case strings.HasPrefix(string(k), "M"):
		return evidence.KindMemory
	default:
		return evidence.KindWeb
	}
}

// Position returns the 1-based position within the key's partition.
// A canonical key always carries a valid positive integer.
func (k Key) Position() int {
	s := string(k)
	if len(s) > 0 && (s[0] == 'R' || s[0] == 'M') {
		s = s[1:]
	}
	n, _ := strconv.Atoi(s)
	return n
}
