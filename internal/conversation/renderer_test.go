package conversation

import (
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/loomchat/beacon/internal/navigation"
	"github.com/loomchat/beacon/internal/viewtree"
)

func newTestRenderer(t *testing.T, window int) (*Renderer, *Service, *viewtree.Tree, *navigation.MemoryBar) {
	t.Helper()
	svc := newMemoryService(t)
	tree := viewtree.NewTree()
	viewport := viewtree.NewViewport(900, 1<<20)
	bar := navigation.NewMemoryBar()
	logger := zap.NewNop()
	nav := navigation.NewNavigator(
		navigation.NewLocator(tree, logger),
		navigation.NewRevealer(tree, viewport, logger),
		bar,
		logger,
	)
	return NewRenderer(svc, tree, nav, window, logger), svc, tree, bar
}

func seedConversation(t *testing.T, svc *Service, messages int) (string, []string) {
	t.Helper()
	ctx := t.Context()
	convID, err := svc.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	uuids := make([]string, 0, messages)
	for i := 0; i < messages; i++ {
		view, err := svc.AttachMessage(ctx, convID, nil)
		if err != nil {
			t.Fatalf("AttachMessage: %v", err)
		}
		if _, err := svc.AppendFragment(ctx, convID, view.StableUUID, fmt.Sprintf("Message %d", i)); err != nil {
			t.Fatalf("AppendFragment: %v", err)
		}
		uuids = append(uuids, view.StableUUID)
	}
	return convID, uuids
}

func TestActivateMountsOnlyWindow(t *testing.T) {
	r, svc, tree, _ := newTestRenderer(t, 3)
	convID, uuids := seedConversation(t, svc, 10)

	if err := r.Activate(t.Context(), convID); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if tree.Len() != 3 {
		t.Fatalf("mounted = %d, want window of 3", tree.Len())
	}
	// The last three messages are mounted, the older ones are not.
	for _, uuid := range uuids[7:] {
		if _, ok := tree.Lookup(navigation.ElementIDFor(uuid)); !ok {
			t.Errorf("recent message %s not mounted", uuid)
		}
	}
	if _, ok := tree.Lookup(navigation.ElementIDFor(uuids[0])); ok {
		t.Error("oldest message mounted despite window")
	}
}

func TestActivateClearsFragmentBeforeSwitch(t *testing.T) {
	r, svc, _, bar := newTestRenderer(t, 0)
	convA, uuidsA := seedConversation(t, svc, 2)
	convB, _ := seedConversation(t, svc, 2)

	if err := r.Activate(t.Context(), convA); err != nil {
		t.Fatalf("Activate A: %v", err)
	}
	bar.ReplaceFragment(navigation.FragmentFor(uuidsA[0]))

	if err := r.Activate(t.Context(), convB); err != nil {
		t.Fatalf("Activate B: %v", err)
	}
	if bar.Fragment() != "" {
		t.Errorf("fragment = %q after switching conversations", bar.Fragment())
	}
	if r.ActiveConversation() != convB {
		t.Errorf("active = %s, want %s", r.ActiveConversation(), convB)
	}
}

func TestActivateUnknownConversationKeepsCurrent(t *testing.T) {
	r, svc, tree, _ := newTestRenderer(t, 0)
	convID, _ := seedConversation(t, svc, 2)

	if err := r.Activate(t.Context(), convID); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	before := tree.Len()

	if err := r.Activate(t.Context(), "missing"); err == nil {
		t.Fatal("Activate of unknown conversation succeeded")
	}
	if tree.Len() != before {
		t.Errorf("mounted = %d after failed switch, want %d", tree.Len(), before)
	}
}

func TestEnsureMountedMaterializesOldMessage(t *testing.T) {
	r, svc, tree, _ := newTestRenderer(t, 2)
	convID, uuids := seedConversation(t, svc, 8)

	if err := r.Activate(t.Context(), convID); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	target := uuids[0]
	if _, ok := tree.Lookup(navigation.ElementIDFor(target)); ok {
		t.Fatal("target already mounted")
	}
	if !r.EnsureMounted(t.Context(), target) {
		t.Fatal("EnsureMounted returned false")
	}
	el, ok := tree.Lookup(navigation.ElementIDFor(target))
	if !ok {
		t.Fatal("target still unmounted")
	}
	if el.Top != 0 {
		t.Errorf("first message Top = %v, want 0", el.Top)
	}

	if r.EnsureMounted(t.Context(), "not-a-message") {
		t.Error("EnsureMounted succeeded for unknown uuid")
	}
}

func TestSyncMessageUpdatesHeightAndOffsets(t *testing.T) {
	r, svc, tree, _ := newTestRenderer(t, 0)
	convID, uuids := seedConversation(t, svc, 3)
	ctx := t.Context()

	if err := r.Activate(ctx, convID); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	secondBefore, _ := tree.Lookup(navigation.ElementIDFor(uuids[1]))

	// Grow the first message; everything below it shifts down.
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := svc.AppendFragment(ctx, convID, uuids[0], string(long)); err != nil {
		t.Fatalf("AppendFragment: %v", err)
	}
	if err := r.SyncMessage(ctx, uuids[0]); err != nil {
		t.Fatalf("SyncMessage: %v", err)
	}

	secondAfter, _ := tree.Lookup(navigation.ElementIDFor(uuids[1]))
	if secondAfter.Top <= secondBefore.Top {
		t.Errorf("second message Top %v -> %v, expected shift down", secondBefore.Top, secondAfter.Top)
	}
}
