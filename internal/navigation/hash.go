package navigation

import (
	"regexp"
	"sync"
)

// Fragment and element addressing share one contract: a rendered
// message exposes element id "message-<stableUuid>" and deep links use
// the address-bar fragment "#message-<stableUuid>".

var fragmentPattern = regexp.MustCompile(`^#?message-(.+)$`)

// ElementIDFor returns the element id for a message uuid.
func ElementIDFor(uuid string) string {
	return "message-" + uuid
}

// FragmentFor returns the address-bar fragment for a message uuid,
// including the leading "#".
func FragmentFor(uuid string) string {
	return "#" + ElementIDFor(uuid)
}

// ParseFragment extracts the message uuid from a fragment, with or
// without the leading "#". Returns false for fragments that are not
// message deep links.
func ParseFragment(fragment string) (string, bool) {
	m := fragmentPattern.FindStringSubmatch(fragment)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// AddressBar abstracts the location fragment. Replace semantics only:
// updates never push a history entry.
type AddressBar interface {
	// ReplaceFragment sets the fragment, replacing the current entry.
	ReplaceFragment(fragment string)

	// Fragment returns the current fragment ("" when none).
	Fragment() string
}

// MemoryBar is the in-process AddressBar used by the service, tests,
// and the harness. A browser-embedded deployment substitutes its own.
type MemoryBar struct {
	mu       sync.RWMutex
	fragment string
}

func NewMemoryBar() *MemoryBar {
	return &MemoryBar{}
}

func (b *MemoryBar) ReplaceFragment(fragment string) {
	b.mu.Lock()
	b.fragment = fragment
	b.mu.Unlock()
}

func (b *MemoryBar) Fragment() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fragment
}
