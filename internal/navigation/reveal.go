package navigation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loomchat/beacon/internal/viewtree"
)

// Position is the logical viewport placement a reveal targets.
type Position string

const (
	PositionStart  Position = "start"
	PositionCenter Position = "center"
)

// DefaultHighlight is how long the transient highlight lasts when the
// caller does not say otherwise.
const DefaultHighlight = 2 * time.Second

// highlightBackground is the background applied while an element is
// highlighted. The element's prior background is restored exactly when
// the highlight expires.
const highlightBackground = "highlight"

// RevealOptions controls one reveal.
type RevealOptions struct {
	Position       Position
	Highlight      time.Duration
	ScrollDuration time.Duration
}

// Revealer scrolls located elements into position and applies a
// time-boxed highlight.
type Revealer struct {
	tree     *viewtree.Tree
	viewport *viewtree.Viewport
	logger   *zap.Logger

	mu     sync.Mutex
	saved  map[string]string      // element id -> background before highlight
	timers map[string]*time.Timer // element id -> pending restore
}

// NewRevealer builds a revealer over the tree and its viewport.
func NewRevealer(tree *viewtree.Tree, viewport *viewtree.Viewport, logger *zap.Logger) *Revealer {
	return &Revealer{
		tree:     tree,
		viewport: viewport,
		logger:   logger,
		saved:    make(map[string]string),
		timers:   make(map[string]*time.Timer),
	}
}

// Reveal scrolls the element to the requested position with smooth
// motion, then highlights it for the configured duration. The highlight
// restore runs on its own timer; Reveal does not block on it.
func (r *Revealer) Reveal(ctx context.Context, el viewtree.Element, opts RevealOptions) error {
	target := el.Top
	if opts.Position == PositionCenter {
		target = el.Top - (r.viewport.Height()-el.Height)/2
	}
	if err := r.viewport.SmoothScrollTo(ctx, target, opts.ScrollDuration); err != nil {
		return err
	}

	highlight := opts.Highlight
	if highlight <= 0 {
		highlight = DefaultHighlight
	}
	r.highlight(el.ID, highlight)
	return nil
}

// highlight marks the element and schedules the restore. A reveal
// landing on an already-highlighted element keeps the originally saved
// background and just extends the timer, so the eventual restore still
// returns the element to its pre-highlight state exactly.
func (r *Revealer) highlight(id string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if timer, ok := r.timers[id]; ok {
		timer.Stop()
	} else {
		r.tree.Apply(id, func(el *viewtree.Element) {
			r.saved[id] = el.Background
			el.Background = highlightBackground
			el.Highlighted = true
		})
	}

	r.timers[id] = time.AfterFunc(d, func() {
		r.restore(id)
	})
}

// restore returns the element to its saved visual state and forgets the
// bookkeeping. Safe when the element was unmounted in the meantime.
func (r *Revealer) restore(id string) {
	r.mu.Lock()
	prior, had := r.saved[id]
	delete(r.saved, id)
	delete(r.timers, id)
	r.mu.Unlock()

	if !had {
		return
	}
	r.tree.Apply(id, func(el *viewtree.Element) {
		el.Background = prior
		el.Highlighted = false
	})
}
