package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/loomchat/beacon/internal/conversation"
	"github.com/loomchat/beacon/internal/events"
	"github.com/loomchat/beacon/internal/navigation"
	"github.com/loomchat/beacon/internal/viewtree"
)

type testAPI struct {
	mux *http.ServeMux
	bar *navigation.MemoryBar
}

func newTestAPI(t *testing.T, limiter *rate.Limiter) *testAPI {
	t.Helper()
	logger := zap.NewNop()
	ev := events.NewManager(16)
	svc, err := conversation.NewService("", ev, logger)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	tree := viewtree.NewTree()
	viewport := viewtree.NewViewport(900, 1<<20)
	bar := navigation.NewMemoryBar()
	nav := navigation.NewNavigator(
		navigation.NewLocator(tree, logger),
		navigation.NewRevealer(tree, viewport, logger),
		bar,
		logger,
	)
	renderer := conversation.NewRenderer(svc, tree, nav, 5, logger)

	mux := http.NewServeMux()
	NewHandler(svc, renderer, nav, 2*time.Second, limiter, logger).Register(mux)
	NewStreamHandler(ev).Register(mux)
	return &testAPI{mux: mux, bar: bar}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) createConversation(t *testing.T) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/conversations", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create conversation: %d %s", rec.Code, rec.Body)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp["conversation_id"]
}

func (a *testAPI) attachMessage(t *testing.T, convID string) string {
	t.Helper()
	rank := 1
	rec := a.do(t, http.MethodPost, "/conversations/"+convID+"/messages", map[string]interface{}{
		"sources": []map[string]interface{}{
			{"id": "w1", "provenance_kind": "web", "title": "Source", "relevance_rank": rank},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("attach message: %d %s", rec.Code, rec.Body)
	}
	var view conversation.MessageView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return view.StableUUID
}

func TestConversationFlow(t *testing.T) {
	api := newTestAPI(t, nil)
	convID := api.createConversation(t)
	uuid := api.attachMessage(t, convID)

	rec := api.do(t, http.MethodPost,
		fmt.Sprintf("/conversations/%s/messages/%s/fragments", convID, uuid),
		map[string]string{"text": "A fact [1]."})
	if rec.Code != http.StatusOK {
		t.Fatalf("append fragment: %d %s", rec.Code, rec.Body)
	}

	rec = api.do(t, http.MethodPost,
		fmt.Sprintf("/conversations/%s/messages/%s/complete", convID, uuid), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("complete: %d %s", rec.Code, rec.Body)
	}

	rec = api.do(t, http.MethodGet,
		fmt.Sprintf("/conversations/%s/messages/%s/rendered", convID, uuid), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rendered: %d %s", rec.Code, rec.Body)
	}
	var resp struct {
		Segments []struct {
			Text      string `json:"text"`
			Citations []struct {
				DisplayKey string `json:"display_key"`
			} `json:"citations"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode rendered: %v", err)
	}
	var chips int
	for _, seg := range resp.Segments {
		chips += len(seg.Citations)
	}
	if chips != 1 {
		t.Errorf("chips = %d, want 1: %s", chips, rec.Body)
	}
}

func TestAppendToCompletedMessageConflicts(t *testing.T) {
	api := newTestAPI(t, nil)
	convID := api.createConversation(t)
	uuid := api.attachMessage(t, convID)

	api.do(t, http.MethodPost, fmt.Sprintf("/conversations/%s/messages/%s/complete", convID, uuid), nil)
	rec := api.do(t, http.MethodPost,
		fmt.Sprintf("/conversations/%s/messages/%s/fragments", convID, uuid),
		map[string]string{"text": "late"})
	if rec.Code != http.StatusConflict {
		t.Errorf("append after complete: %d, want 409", rec.Code)
	}
}

func TestUnknownResourcesReturn404(t *testing.T) {
	api := newTestAPI(t, nil)
	convID := api.createConversation(t)

	rec := api.do(t, http.MethodGet, "/conversations/missing/messages/x/rendered", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown conversation: %d, want 404", rec.Code)
	}
	rec = api.do(t, http.MethodGet, "/conversations/"+convID+"/messages/missing/rendered", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown message: %d, want 404", rec.Code)
	}
}

func TestNavigateEndToEnd(t *testing.T) {
	api := newTestAPI(t, nil)
	convID := api.createConversation(t)
	uuid := api.attachMessage(t, convID)
	api.do(t, http.MethodPost,
		fmt.Sprintf("/conversations/%s/messages/%s/fragments", convID, uuid),
		map[string]string{"text": "hello"})

	rec := api.do(t, http.MethodPost, "/conversations/"+convID+"/activate", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("activate: %d %s", rec.Code, rec.Body)
	}

	rec = api.do(t, http.MethodPost, "/navigate/"+uuid, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("navigate: %d %s", rec.Code, rec.Body)
	}
	var resp struct {
		State    string `json:"state"`
		TimedOut bool   `json:"timed_out"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State != "done" {
		t.Errorf("state = %q: %s", resp.State, rec.Body)
	}
	if api.bar.Fragment() != navigation.FragmentFor(uuid) {
		t.Errorf("fragment = %q", api.bar.Fragment())
	}
}

func TestNavigateRateLimited(t *testing.T) {
	api := newTestAPI(t, rate.NewLimiter(rate.Limit(0.001), 1))
	convID := api.createConversation(t)
	uuid := api.attachMessage(t, convID)
	api.do(t, http.MethodPost, "/conversations/"+convID+"/activate", nil)

	first := api.do(t, http.MethodPost, "/navigate/"+uuid, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("first navigate: %d %s", first.Code, first.Body)
	}
	second := api.do(t, http.MethodPost, "/navigate/"+uuid, nil)
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second navigate: %d, want 429", second.Code)
	}
}
