// Package httpapi exposes the conversation and navigation engine over
// HTTP: message ingest for upstream assistant transports, rendered
// segment reads for thin clients, and deep-link navigation.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/loomchat/beacon/internal/conversation"
	"github.com/loomchat/beacon/internal/evidence"
	"github.com/loomchat/beacon/internal/navigation"
)

// Handler serves the conversation/navigation API.
type Handler struct {
	svc      *conversation.Service
	renderer *conversation.Renderer
	nav      *navigation.Navigator
	logger   *zap.Logger

	// navTimeout holds nanoseconds; atomic so config hot reload can
	// retune it under live traffic.
	navTimeout atomic.Int64
	limiter    *rate.Limiter
}

// NewHandler wires the API handler. navTimeout bounds each navigation
// request; limiter bounds the navigation request rate (nil disables).
func NewHandler(svc *conversation.Service, renderer *conversation.Renderer, nav *navigation.Navigator, navTimeout time.Duration, limiter *rate.Limiter, logger *zap.Logger) *Handler {
	h := &Handler{
		svc:      svc,
		renderer: renderer,
		nav:      nav,
		logger:   logger,
		limiter:  limiter,
	}
	h.SetNavTimeout(navTimeout)
	return h
}

// SetNavTimeout retunes the per-request navigation timeout.
func (h *Handler) SetNavTimeout(d time.Duration) {
	if d <= 0 {
		d = navigation.DefaultTimeout
	}
	h.navTimeout.Store(int64(d))
}

// Register mounts all routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /conversations", h.handleCreateConversation)
	mux.HandleFunc("POST /conversations/{id}/activate", h.handleActivate)
	mux.HandleFunc("DELETE /conversations/{id}", h.handleDeleteConversation)
	mux.HandleFunc("POST /conversations/{id}/messages", h.handleAttachMessage)
	mux.HandleFunc("POST /conversations/{id}/messages/{uuid}/fragments", h.handleAppendFragment)
	mux.HandleFunc("POST /conversations/{id}/messages/{uuid}/complete", h.handleCompleteMessage)
	mux.HandleFunc("PUT /conversations/{id}/messages/{uuid}/sources", h.handleUpdateSources)
	mux.HandleFunc("GET /conversations/{id}/messages/{uuid}/rendered", h.handleRendered)
	mux.HandleFunc("POST /navigate/{uuid}", h.handleNavigate)
}

func (h *Handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.CreateConversation(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"conversation_id": id})
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	if err := h.renderer.Activate(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RemoveConversation(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAttachMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sources []evidence.Record `json:"sources"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := h.svc.AttachMessage(r.Context(), r.PathValue("id"), req.Sources)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *Handler) handleAppendFragment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	convID, msgUUID := r.PathValue("id"), r.PathValue("uuid")
	view, err := h.svc.AppendFragment(r.Context(), convID, msgUUID, req.Text)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if h.renderer.ActiveConversation() == convID {
		if err := h.renderer.SyncMessage(r.Context(), msgUUID); err != nil {
			h.logger.Warn("Failed to sync message element",
				zap.String("message_uuid", msgUUID),
				zap.Error(err),
			)
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleCompleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CompleteMessage(r.Context(), r.PathValue("id"), r.PathValue("uuid")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUpdateSources(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sources []evidence.Record `json:"sources"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.svc.UpdateSources(r.Context(), r.PathValue("id"), r.PathValue("uuid"), req.Sources); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRendered(w http.ResponseWriter, r *http.Request) {
	segments, err := h.svc.Rendered(r.Context(), r.PathValue("id"), r.PathValue("uuid"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"segments": segments})
}

// handleNavigate resolves a citation click server-side: mounts the
// target if virtualization excluded it, then drives the navigator.
func (h *Handler) handleNavigate(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, errors.New("navigation rate limit exceeded"))
		return
	}

	uuid := r.PathValue("uuid")
	updateURL := r.URL.Query().Get("update_url") != "false"

	// Materialize the element asynchronously, the way a client's
	// virtualized list renders it after the scroll intent; the locator
	// waits for it.
	go h.renderer.EnsureMounted(r.Context(), uuid)

	outcome := h.nav.NavigateToMessage(r.Context(), uuid, navigation.Options{
		UpdateURL: updateURL,
		Timeout:   time.Duration(h.navTimeout.Load()),
		Trigger:   navigation.TriggerClick,
	})
	status := http.StatusOK
	if outcome.State == navigation.StateFailed {
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]interface{}{
		"state":     string(outcome.State),
		"timed_out": outcome.TimedOut,
	})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrConversationNotFound),
		errors.Is(err, conversation.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, conversation.ErrMessageCompleted):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
