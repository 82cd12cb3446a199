package citations

import (
	"sort"
	"strconv"
	"strings"

	"github.com/loomchat/beacon/internal/evidence"
)

// Resolved is one citation chip: the evidence record a key landed on,
// its 1-based display position within its own provenance partition, and
// that partition's cited total.
type Resolved struct {
	Key          Key             `json:"key"`
	Evidence     evidence.Record `json:"evidence"`
	IndexInGroup int             `json:"index_in_group"`
	TotalInGroup int             `json:"total_in_group"`
	DisplayKey   string          `json:"display_key"`
}

// Segment is one piece of a resolved fragment: either literal text or a
// chip group produced from one marker. A fragment resolves to an
// alternating sequence of segments in document order.
type Segment struct {
	Text      string     `json:"text,omitempty"`
	Citations []Resolved `json:"citations,omitempty"`
}

// Resolve renders one text fragment against the message's registry.
//
// Markers where at least one key resolves become a chip group holding
// the resolved citations sorted ascending by index-in-group (not
// authored order); keys that never made the registry are dropped from
// the group. Markers where no key resolves stay as literal text;
// graceful degradation, never an error.
func Resolve(fragment string, reg *Registry) []Segment {
	markers := Scan(fragment)
	if len(markers) == 0 {
		if fragment == "" {
			return nil
		}
		return []Segment{{Text: fragment}}
	}

	var segments []Segment
	cursor := 0
	for _, marker := range markers {
		resolved := resolveMarker(marker, reg)
		if len(resolved) == 0 {
			// Unresolvable marker: leave the literal span in place by
			// letting it fold into the surrounding text.
			continue
		}
		if marker.Start > cursor {
			segments = append(segments, Segment{Text: fragment[cursor:marker.Start]})
		}
		segments = append(segments, Segment{Citations: resolved})
		cursor = marker.End
	}
	if cursor < len(fragment) {
		segments = append(segments, Segment{Text: fragment[cursor:]})
	}
	return segments
}

// resolveMarker looks up each key of one marker, deduplicates repeats,
// and orders the chips by display index.
func resolveMarker(marker Marker, reg *Registry) []Resolved {
	seen := make(map[Key]struct{}, len(marker.Keys))
	var resolved []Resolved
	for _, key := range marker.Keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if c, ok := reg.Lookup(key); ok {
			resolved = append(resolved, c)
		}
	}
	sort.SliceStable(resolved, func(i, j int) bool {
		if resolved[i].IndexInGroup != resolved[j].IndexInGroup {
			return resolved[i].IndexInGroup < resolved[j].IndexInGroup
		}
		gi, _ := reg.Index(resolved[i].Key)
		gj, _ := reg.Index(resolved[j].Key)
		return gi < gj
	})
	return resolved
}

// RenderPlain renders a fragment to plain text with markers rewritten
// to their renumbered display keys, e.g. "[2, 1]" -> "[1, 2]". Used by
// logs and the validation harness; clients render Segments directly.
func RenderPlain(fragment string, reg *Registry) string {
	var b strings.Builder
	for _, seg := range Resolve(fragment, reg) {
		if len(seg.Citations) == 0 {
			b.WriteString(seg.Text)
			continue
		}
		parts := make([]string, len(seg.Citations))
		for i, c := range seg.Citations {
			parts[i] = c.DisplayKey
		}
		b.WriteString("[" + strings.Join(parts, ", ") + "]")
	}
	return b.String()
}

// displayKey builds the renumbered human-facing key for a resolved
// citation: partition prefix plus display index.
func displayKey(kind evidence.Kind, indexInGroup int) string {
	return kind.Prefix() + strconv.Itoa(indexInGroup)
}
