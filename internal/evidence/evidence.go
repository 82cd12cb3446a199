package evidence

import "strings"

// Kind identifies the provenance of an evidence record: where it was
// obtained, which decides both its citation prefix and which partition
// its marker numbers index into.
type Kind string

const (
	KindWeb       Kind = "web"       // web search hit
	KindRetrieval Kind = "retrieval" // RAG file chunk
	KindMemory    Kind = "memory"    // long-term memory fact
)

// Prefix returns the marker prefix for the kind. Web citations carry no
// prefix; "W" is accepted on input as a synonym (see ParseKind).
func (k Kind) Prefix() string {
	switch k {
	case KindRetrieval:
		return "R"
	case KindMemory:
		return "M"
	default:
		return ""
	}
}

// Valid reports whether k is one of the three known kinds.
func (k Kind) Valid() bool {
	return k == KindWeb || k == KindRetrieval || k == KindMemory
}

// ParseKind maps a marker prefix to its kind. "" and "W" are both web.
func ParseKind(prefix string) (Kind, bool) {
	switch strings.ToUpper(prefix) {
	case "", "W":
		return KindWeb, true
	case "R":
		return KindRetrieval, true
	case "M":
		return KindMemory, true
	default:
		return "", false
	}
}

// Record is one citable item attached to a message. Records are owned by
// the message that cites them and are immutable once attached.
type Record struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"provenance_kind,omitempty"`
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
	FileName string `json:"file_name,omitempty"`
	Snippet  string `json:"snippet,omitempty"`

	// RelevanceRank orders records within their partition, ascending.
	// Nil means the upstream provider supplied no rank; such records
	// sort after every ranked record in the partition.
	RelevanceRank *int `json:"relevance_rank,omitempty"`
}

// EffectiveKind resolves the record's kind, defaulting to web when the
// upstream provider omitted or mangled the field.
func (r Record) EffectiveKind() Kind {
	if r.Kind.Valid() {
		return r.Kind
	}
	return KindWeb
}

// Label returns the human-facing name for the record: title if present,
// otherwise file name, otherwise URL.
func (r Record) Label() string {
	if r.Title != "" {
		return r.Title
	}
	if r.FileName != "" {
		return r.FileName
	}
	return r.URL
}
