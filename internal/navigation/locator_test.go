package navigation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/loomchat/beacon/internal/viewtree"
)

func TestLocateFastPath(t *testing.T) {
	tree := viewtree.NewTree()
	tree.Mount(viewtree.Element{ID: "message-a", MessageUUID: "a", Top: 10})
	loc := NewLocator(tree, zap.NewNop())

	el, err := loc.Locate(t.Context(), "message-a", time.Second)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if el.Top != 10 {
		t.Errorf("element = %+v", el)
	}
}

func TestLocateWaitsForLateMount(t *testing.T) {
	tree := viewtree.NewTree()
	loc := NewLocator(tree, zap.NewNop())

	go func() {
		time.Sleep(50 * time.Millisecond)
		tree.Mount(viewtree.Element{ID: "message-late", MessageUUID: "late"})
	}()

	started := time.Now()
	el, err := loc.Locate(t.Context(), "message-late", 3*time.Second)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if el.ID != "message-late" {
		t.Errorf("element = %+v", el)
	}
	if waited := time.Since(started); waited > 2*time.Second {
		t.Errorf("took %v, should resolve promptly after mount", waited)
	}
}

func TestLocateTimesOut(t *testing.T) {
	tree := viewtree.NewTree()
	loc := NewLocator(tree, zap.NewNop())

	started := time.Now()
	_, err := loc.Locate(t.Context(), "message-never", 100*time.Millisecond)
	if !errors.Is(err, ErrElementNotFound) {
		t.Fatalf("err = %v, want ErrElementNotFound", err)
	}
	if waited := time.Since(started); waited < 100*time.Millisecond {
		t.Errorf("returned after %v, before the timeout", waited)
	}
}

func TestLocateHonorsContextCancel(t *testing.T) {
	tree := viewtree.NewTree()
	loc := NewLocator(tree, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := loc.Locate(ctx, "message-never", 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// pollView exposes only Lookup, forcing the locator onto its polling
// fallback.
type pollView struct {
	mu       sync.Mutex
	elements map[string]viewtree.Element
}

func (v *pollView) Lookup(id string) (viewtree.Element, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	el, ok := v.elements[id]
	return el, ok
}

func (v *pollView) mount(el viewtree.Element) {
	v.mu.Lock()
	v.elements[el.ID] = el
	v.mu.Unlock()
}

func TestLocateViaPollingFallback(t *testing.T) {
	view := &pollView{elements: make(map[string]viewtree.Element)}
	loc := NewLocator(view, zap.NewNop())

	go func() {
		time.Sleep(150 * time.Millisecond)
		view.mount(viewtree.Element{ID: "message-polled", MessageUUID: "polled"})
	}()

	el, err := loc.Locate(t.Context(), "message-polled", 5*time.Second)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if el.ID != "message-polled" {
		t.Errorf("element = %+v", el)
	}
}

// A locate that already timed out must stay failed even if the element
// appears immediately afterward.
func TestLocateLateMountAfterTimeoutHasNoEffect(t *testing.T) {
	tree := viewtree.NewTree()
	loc := NewLocator(tree, zap.NewNop())

	_, err := loc.Locate(t.Context(), "message-x", 50*time.Millisecond)
	if !errors.Is(err, ErrElementNotFound) {
		t.Fatalf("err = %v, want ErrElementNotFound", err)
	}

	tree.Mount(viewtree.Element{ID: "message-x", MessageUUID: "x"})

	// A fresh request sees it; the earlier request already returned.
	if _, err := loc.Locate(t.Context(), "message-x", time.Second); err != nil {
		t.Fatalf("second Locate: %v", err)
	}
}
