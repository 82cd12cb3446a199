package evidence

import "sort"

// Grouped holds the three provenance partitions of a message's evidence
// list, each sorted by relevance rank ascending. Marker numbers are
// 1-based positions within these slices.
type Grouped struct {
	Web       []Record
	Retrieval []Record
	Memory    []Record
}

// Classify partitions records by provenance kind and rank-sorts each
// partition. The sort is stable: rank ties and unranked records keep
// their input order. Pure function; the input slice is not modified.
func Classify(records []Record) Grouped {
	var g Grouped
	for _, r := range records {
		switch r.EffectiveKind() {
		case KindRetrieval:
			g.Retrieval = append(g.Retrieval, r)
		case KindMemory:
			g.Memory = append(g.Memory, r)
		default:
			g.Web = append(g.Web, r)
		}
	}
	sortByRank(g.Web)
	sortByRank(g.Retrieval)
	sortByRank(g.Memory)
	return g
}

// sortByRank orders records by relevance rank ascending, unranked last,
// preserving input order on ties.
func sortByRank(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		ri, rj := records[i].RelevanceRank, records[j].RelevanceRank
		switch {
		case ri == nil:
			return false
		case rj == nil:
			return true
		default:
			return *ri < *rj
		}
	})
}

// Partition returns the slice for the given kind.
func (g Grouped) Partition(kind Kind) []Record {
	switch kind {
	case KindRetrieval:
		return g.Retrieval
	case KindMemory:
		return g.Memory
	default:
		return g.Web
	}
}

// At returns the record at the 1-based position within the kind's
// partition, or false when the position is out of range (the marker
// cites a source that does not exist).
func (g Grouped) At(kind Kind, position int) (Record, bool) {
	p := g.Partition(kind)
	if position < 1 || position > len(p) {
		return Record{}, false
	}
	return p[position-1], true
}

// Total returns the size of the kind's partition.
func (g Grouped) Total(kind Kind) int {
	return len(g.Partition(kind))
}
