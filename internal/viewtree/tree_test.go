package viewtree

import (
	"testing"
	"time"
)

func TestTreeMountLookupUnmount(t *testing.T) {
	tree := NewTree()
	el := Element{ID: "message-abc", MessageUUID: "abc", Top: 120, Height: 80}

	if _, ok := tree.Lookup(el.ID); ok {
		t.Fatal("lookup hit before mount")
	}

	tree.Mount(el)
	got, ok := tree.Lookup(el.ID)
	if !ok {
		t.Fatal("lookup missed after mount")
	}
	if got.Top != 120 || got.Height != 80 {
		t.Errorf("element = %+v", got)
	}

	// Lookup returns a snapshot; mutating it must not leak into the tree.
	got.Top = 999
	again, _ := tree.Lookup(el.ID)
	if again.Top != 120 {
		t.Errorf("snapshot mutation leaked: Top = %v", again.Top)
	}

	tree.Unmount(el.ID)
	if _, ok := tree.Lookup(el.ID); ok {
		t.Error("lookup hit after unmount")
	}
	if tree.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tree.Len())
	}
}

func TestTreeNotifiesSubscribers(t *testing.T) {
	tree := NewTree()
	ch := tree.Subscribe(8)
	defer tree.Unsubscribe(ch)

	tree.Mount(Element{ID: "message-1", MessageUUID: "1"})
	tree.Apply("message-1", func(el *Element) { el.Height = 50 })
	tree.Unmount("message-1")

	wantOps := []Op{OpMount, OpUpdate, OpUnmount}
	for _, want := range wantOps {
		select {
		case batch := <-ch:
			if len(batch) != 1 || batch[0].Op != want || batch[0].ID != "message-1" {
				t.Errorf("batch = %+v, want op %s", batch, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("no batch for op %s", want)
		}
	}
}

func TestTreeUnmountAbsentIsSilent(t *testing.T) {
	tree := NewTree()
	ch := tree.Subscribe(1)
	defer tree.Unsubscribe(ch)

	tree.Unmount("message-missing")
	select {
	case batch := <-ch:
		t.Errorf("unexpected batch %+v", batch)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTreeSlowSubscriberDropsBatches(t *testing.T) {
	tree := NewTree()
	ch := tree.Subscribe(1)
	defer tree.Unsubscribe(ch)

	// Second mount must not block even though the buffer is full.
	done := make(chan struct{})
	go func() {
		tree.Mount(Element{ID: "message-1"})
		tree.Mount(Element{ID: "message-2"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notify blocked on a slow subscriber")
	}
}

func TestApplyReturnsFalseForMissing(t *testing.T) {
	tree := NewTree()
	if tree.Apply("message-x", func(el *Element) {}) {
		t.Error("Apply on absent element returned true")
	}
}

func TestDetectPrefersNativeFeed(t *testing.T) {
	tree := NewTree()
	if w := Detect(tree); !w.Native() {
		t.Error("tree-backed watcher should be native")
	}
	if w := Detect(lookupOnly{}); w.Native() {
		t.Error("lookup-only view should fall back to polling")
	}
}

type lookupOnly struct{}

func (lookupOnly) Lookup(id string) (Element, bool) { return Element{}, false }

func TestPollWatcherSignalsAndStops(t *testing.T) {
	w := &PollWatcher{Interval: 10 * time.Millisecond}
	ch, cancel := w.Subscribe(1)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("poll watcher never signaled")
	}

	cancel()
	cancel() // must be idempotent
}

func TestViewportClampsScroll(t *testing.T) {
	v := NewViewport(900, 3000)

	tests := []struct {
		name     string
		target   float64
		expected float64
	}{
		{"negative clamps to zero", -50, 0},
		{"in range", 1000, 1000},
		{"past end clamps to max", 5000, 2100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v.ScrollTo(tt.target)
			if got := v.ScrollTop(); got != tt.expected {
				t.Errorf("ScrollTop() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestViewportShortContentNeverScrolls(t *testing.T) {
	v := NewViewport(900, 500)
	v.ScrollTo(200)
	if got := v.ScrollTop(); got != 0 {
		t.Errorf("ScrollTop() = %v, want 0", got)
	}
}

func TestSmoothScrollLandsExactly(t *testing.T) {
	v := NewViewport(900, 3000)
	ctx := t.Context()

	if err := v.SmoothScrollTo(ctx, 777, 20*time.Millisecond); err != nil {
		t.Fatalf("SmoothScrollTo: %v", err)
	}
	if got := v.ScrollTop(); got != 777 {
		t.Errorf("ScrollTop() = %v, want 777", got)
	}

	// Zero duration jumps immediately.
	if err := v.SmoothScrollTo(ctx, 100, 0); err != nil {
		t.Fatalf("SmoothScrollTo: %v", err)
	}
	if got := v.ScrollTop(); got != 100 {
		t.Errorf("ScrollTop() = %v, want 100", got)
	}
}
