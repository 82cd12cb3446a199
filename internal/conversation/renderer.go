package conversation

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/loomchat/beacon/internal/navigation"
	"github.com/loomchat/beacon/internal/viewtree"
)

// Renderer projects the active conversation into the view tree. It
// models a virtualized message list: only a window of recent messages
// is mounted eagerly, older elements materialize on demand, which is
// exactly when the locator has to wait for them.
type Renderer struct {
	svc    *Service
	tree   *viewtree.Tree
	nav    *navigation.Navigator
	logger *zap.Logger

	// window is the number of most recent messages mounted eagerly;
	// <= 0 mounts everything.
	window int

	mu      sync.Mutex
	active  string
	mounted map[string]struct{} // element ids currently mounted by this renderer
}

// NewRenderer builds a renderer over the tree for the given service.
func NewRenderer(svc *Service, tree *viewtree.Tree, nav *navigation.Navigator, window int, logger *zap.Logger) *Renderer {
	return &Renderer{
		svc:     svc,
		tree:    tree,
		nav:     nav,
		logger:  logger,
		window:  window,
		mounted: make(map[string]struct{}),
	}
}

// ActiveConversation returns the conversation currently projected.
func (r *Renderer) ActiveConversation() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Activate switches the view to another conversation. The address-bar
// fragment is cleared before any of the new conversation's messages
// mount, so a stale fragment can never match the new elements.
func (r *Renderer) Activate(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == conversationID {
		return nil
	}
	r.nav.LeaveConversation()

	views, err := r.svc.Messages(ctx, conversationID)
	if err != nil {
		return err
	}

	// Unmount the outgoing conversation only after the incoming one is
	// known to exist.
	r.unmountAllLocked()
	r.active = conversationID

	start := 0
	if r.window > 0 && len(views) > r.window {
		start = len(views) - r.window
	}
	tops := layoutTops(views)
	for i := start; i < len(views); i++ {
		r.mountLocked(views[i], tops[i])
	}

	r.logger.Debug("Activated conversation",
		zap.String("conversation_id", conversationID),
		zap.Int("messages", len(views)),
		zap.Int("mounted", len(views)-start),
	)
	return nil
}

// SyncMessage refreshes a mounted element after its content changed.
// Layout offsets of later messages shift with the new height.
func (r *Renderer) SyncMessage(ctx context.Context, messageUUID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == "" {
		return nil
	}

	views, err := r.svc.Messages(ctx, r.active)
	if err != nil {
		return err
	}
	tops := layoutTops(views)
	for i, view := range views {
		id := navigation.ElementIDFor(view.StableUUID)
		if _, mounted := r.tree.Lookup(id); !mounted {
			if view.StableUUID != messageUUID {
				continue
			}
			// The changed message itself mounts even if it was outside
			// the window.
		}
		r.mountLocked(view, tops[i])
	}
	return nil
}

// EnsureMounted materializes the element for a message that the window
// excluded. Returns false when the message is not in the active
// conversation at all.
func (r *Renderer) EnsureMounted(ctx context.Context, messageUUID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == "" {
		return false
	}
	if _, ok := r.tree.Lookup(navigation.ElementIDFor(messageUUID)); ok {
		return true
	}

	views, err := r.svc.Messages(ctx, r.active)
	if err != nil {
		return false
	}
	tops := layoutTops(views)
	for i, view := range views {
		if view.StableUUID == messageUUID {
			r.mountLocked(view, tops[i])
			return true
		}
	}
	return false
}

// mountLocked mounts one message element; callers hold r.mu.
func (r *Renderer) mountLocked(view MessageView, top float64) {
	id := navigation.ElementIDFor(view.StableUUID)
	r.tree.Mount(viewtree.Element{
		ID:          id,
		MessageUUID: view.StableUUID,
		Top:         top,
		Height:      heightOf(view),
	})
	r.mounted[id] = struct{}{}
}

// unmountAllLocked clears every element this renderer mounted; callers
// hold r.mu.
func (r *Renderer) unmountAllLocked() {
	for id := range r.mounted {
		r.tree.Unmount(id)
	}
	r.mounted = make(map[string]struct{})
}

// layoutTops computes each message's offset from the full list, mounted
// or not, so element positions stay stable under virtualization.
func layoutTops(views []MessageView) []float64 {
	tops := make([]float64, len(views))
	var y float64
	for i, view := range views {
		tops[i] = y
		y += heightOf(view)
	}
	return tops
}

// heightOf estimates a message element's rendered height from its
// content length. The exact number only needs to be stable and
// monotonic with content size.
func heightOf(view MessageView) float64 {
	lines := 1 + len(view.Content)/80
	return float64(48 + 24*lines)
}
