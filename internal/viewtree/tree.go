// Package viewtree models the rendered conversation view: which message
// elements currently exist, where they sit, and a change-notification
// feed over mutations. Long conversations are virtualized, so an
// element for a message that exists upstream may not exist here yet.
package viewtree

import (
	"sync"
)

// Op is the kind of mutation a change records.
type Op string

const (
	OpMount   Op = "mount"
	OpUnmount Op = "unmount"
	OpUpdate  Op = "update"
)

// Change is one view mutation. Subscribers receive changes in batches;
// a batch boundary carries no meaning beyond delivery granularity.
type Change struct {
	Op Op     `json:"op"`
	ID string `json:"id"`
}

// Element is one rendered message element. ID follows the addressing
// contract "message-<stableUuid>"; Top/Height are layout offsets within
// the scrollable content, in pixels.
type Element struct {
	ID          string  `json:"id"`
	MessageUUID string  `json:"message_uuid"`
	Top         float64 `json:"top"`
	Height      float64 `json:"height"`

	// Visual state the highlight controller saves and restores.
	Background  string `json:"background,omitempty"`
	Highlighted bool   `json:"highlighted,omitempty"`
}

// Index is the minimal read surface of a rendered view. The locator
// depends on nothing else, which keeps it portable across rendering
// targets.
type Index interface {
	Lookup(id string) (Element, bool)
}

// Tree is an in-memory rendered view with change notification.
type Tree struct {
	mu       sync.RWMutex
	elements map[string]*Element
	subs     map[chan []Change]struct{}
}

// NewTree returns an empty view tree.
func NewTree() *Tree {
	return &Tree{
		elements: make(map[string]*Element),
		subs:     make(map[chan []Change]struct{}),
	}
}

// Mount adds or replaces an element and notifies subscribers.
func (t *Tree) Mount(el Element) {
	t.mu.Lock()
	copied := el
	t.elements[el.ID] = &copied
	t.mu.Unlock()
	t.notify(Change{Op: OpMount, ID: el.ID})
}

// Unmount removes an element (virtualization evicting it, or the
// message leaving the conversation) and notifies subscribers.
func (t *Tree) Unmount(id string) {
	t.mu.Lock()
	_, existed := t.elements[id]
	delete(t.elements, id)
	t.mu.Unlock()
	if existed {
		t.notify(Change{Op: OpUnmount, ID: id})
	}
}

// Lookup returns a snapshot of the element, if rendered.
func (t *Tree) Lookup(id string) (Element, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	el, ok := t.elements[id]
	if !ok {
		return Element{}, false
	}
	return *el, true
}

// Apply mutates an element under the tree lock and notifies
// subscribers. Returns false when the element is not rendered.
func (t *Tree) Apply(id string, fn func(*Element)) bool {
	t.mu.Lock()
	el, ok := t.elements[id]
	if ok {
		fn(el)
	}
	t.mu.Unlock()
	if ok {
		t.notify(Change{Op: OpUpdate, ID: id})
	}
	return ok
}

// Len returns the number of rendered elements.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.elements)
}

// Subscribe registers a change-batch channel; the caller must drain it
// and call Unsubscribe when done.
func (t *Tree) Subscribe(buffer int) chan []Change {
	ch := make(chan []Change, buffer)
	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (t *Tree) Unsubscribe(ch chan []Change) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[ch]; ok {
		delete(t.subs, ch)
		close(ch)
	}
}

// notify fans a batch out to subscribers without blocking. A slow
// subscriber drops the batch; consumers that must not miss state (the
// locator) re-check the index on every batch and keep a polling leg, so
// a dropped batch delays them at most one poll interval.
func (t *Tree) notify(changes ...Change) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for ch := range t.subs {
		select {
		case ch <- changes:
		default:
		}
	}
}
