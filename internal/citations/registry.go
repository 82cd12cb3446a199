package citations

import (
	"github.com/loomchat/beacon/internal/evidence"
)

// Registry is the per-message source of truth for citation numbering.
// It is built once from the complete message text (all fragments
// concatenated in render order) and is read-only afterward; every
// fragment-level resolve consults the same registry so the same key
// gets the same number everywhere in the message.
//
// Because streaming appends fragments at the end, rebuilding from the
// longer text yields the previous order as a strict prefix: keys
// already assigned never renumber, new keys only append.
type Registry struct {
	grouped evidence.Grouped

	// order lists keys by first textual appearance across the whole
	// message; index is each key's 0-based position in order.
	order []Key
	index map[Key]int

	// groupOrder tracks first-appearance order within each partition,
	// which is what display numbering ("2 of 3 memory sources") uses.
	groupOrder map[evidence.Kind][]Key
	groupIndex map[Key]int
}

// Build scans the full message text against the grouped evidence and
// produces the canonical registry. Keys citing a position beyond their
// partition's size (hallucinated citations) are skipped: never added,
// never rendered. Each key is admitted at most once, at its first
// appearance.
func Build(fullText string, grouped evidence.Grouped) *Registry {
	r := &Registry{
		grouped:    grouped,
		index:      make(map[Key]int),
		groupOrder: make(map[evidence.Kind][]Key),
		groupIndex: make(map[Key]int),
	}

	for _, marker := range Scan(fullText) {
		for _, key := range marker.Keys {
			if _, seen := r.index[key]; seen {
				continue
			}
			kind := key.Kind()
			if _, ok := grouped.At(kind, key.Position()); !ok {
				continue
			}
			r.index[key] = len(r.order)
			r.order = append(r.order, key)
			r.groupOrder[kind] = append(r.groupOrder[kind], key)
			r.groupIndex[key] = len(r.groupOrder[kind])
		}
	}
	return r
}

// UsedOrder returns the keys in first-appearance order. The returned
// slice is shared; callers must not modify it.
func (r *Registry) UsedOrder() []Key {
	return r.order
}

// Index returns the key's 0-based position in the first-appearance
// order, or false when the key never resolved.
func (r *Registry) Index(key Key) (int, bool) {
	i, ok := r.index[key]
	return i, ok
}

// Len returns the number of distinct resolved keys in the message.
func (r *Registry) Len() int {
	return len(r.order)
}

// Lookup resolves a key against the registry. The returned citation
// carries the evidence record plus the key's 1-based position among the
// resolved keys of its own partition and that partition's resolved
// total: a memory citation reports "1 of 3" when three memory sources
// are cited, regardless of how many web sources are.
func (r *Registry) Lookup(key Key) (Resolved, bool) {
	if _, ok := r.index[key]; !ok {
		return Resolved{}, false
	}
	kind := key.Kind()
	rec, _ := r.grouped.At(kind, key.Position())
	idx := r.groupIndex[key]
	return Resolved{
		Key:          key,
		Evidence:     rec,
		IndexInGroup: idx,
		TotalInGroup: len(r.groupOrder[kind]),
		DisplayKey:   displayKey(kind, idx),
	}, true
}
