// Package conversation owns MessageView lifecycle: attaching messages,
// streaming fragments into them, and keeping each message's citation
// registry current. The service is an explicit dependency of the
// citation and navigation layers, never ambient global state.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/loomchat/beacon/internal/citations"
	"github.com/loomchat/beacon/internal/events"
	"github.com/loomchat/beacon/internal/evidence"
	"github.com/loomchat/beacon/internal/metrics"
)

const redisKeyPrefix = "beacon:conversation:"

// messageState pairs a message view with its published citation state.
// The registry is rebuilt from scratch on every content or source
// change and swapped in atomically: readers always see a complete
// registry, never a partially built one.
type messageState struct {
	view    MessageView
	grouped evidence.Grouped
	reg     atomic.Pointer[citations.Registry]
}

type conversationState struct {
	id        string
	createdAt time.Time
	updatedAt time.Time
	order     []string // stable uuids in render order
	messages  map[string]*messageState
}

// Service manages conversations with an optional Redis backend for
// reconnect recovery, fronted by a local cache.
type Service struct {
	rdb    *redis.Client
	events *events.Manager
	logger *zap.Logger
	ttl    time.Duration

	mu            sync.RWMutex
	conversations map[string]*conversationState
	cacheAccess   map[string]time.Time
	maxCached     int
}

// NewService creates the conversation service. An empty redisAddr runs
// memory-only, which is how tests and the harness use it.
func NewService(redisAddr string, ev *events.Manager, logger *zap.Logger) (*Service, error) {
	s := &Service{
		events:        ev,
		logger:        logger,
		ttl:           24 * time.Hour,
		conversations: make(map[string]*conversationState),
		cacheAccess:   make(map[string]time.Time),
		maxCached:     1000,
	}

	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:         redisAddr,
			Password:     os.Getenv("REDIS_PASSWORD"),
			DB:           0,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		s.rdb = rdb
	}

	return s, nil
}

// Close releases the Redis connection if one was opened.
func (s *Service) Close() error {
	if s.rdb != nil {
		return s.rdb.Close()
	}
	return nil
}

// CreateConversation starts an empty conversation.
func (s *Service) CreateConversation(ctx context.Context) (string, error) {
	id := uuid.New().String()
	now := time.Now()
	cs := &conversationState{
		id:        id,
		createdAt: now,
		updatedAt: now,
		messages:  make(map[string]*messageState),
	}

	s.mu.Lock()
	s.conversations[id] = cs
	s.cacheAccess[id] = now
	s.evictLocked()
	metrics.ConversationCacheSize.Set(float64(len(s.conversations)))
	s.mu.Unlock()

	if err := s.persist(ctx, cs); err != nil {
		return "", err
	}
	s.logger.Info("Created conversation", zap.String("conversation_id", id))
	return id, nil
}

// AttachMessage adds a new (still streaming) assistant message with its
// evidence list and returns the view. The evidence is classified once
// here; markers in later fragments index into these partitions.
func (s *Service) AttachMessage(ctx context.Context, conversationID string, sources []evidence.Record) (MessageView, error) {
	now := time.Now()
	view := MessageView{
		ID:         uuid.New().String(),
		StableUUID: uuid.New().String(),
		Sources:    sources,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	ms := &messageState{view: view, grouped: evidence.Classify(sources)}
	ms.reg.Store(citations.Build("", ms.grouped))

	err := s.withConversation(ctx, conversationID, func(cs *conversationState) error {
		cs.messages[view.StableUUID] = ms
		cs.order = append(cs.order, view.StableUUID)
		cs.updatedAt = now
		return nil
	})
	if err != nil {
		return MessageView{}, err
	}

	metrics.MessagesAttached.Inc()
	s.logger.Debug("Attached message",
		zap.String("conversation_id", conversationID),
		zap.String("message_uuid", view.StableUUID),
		zap.Int("sources", len(sources)),
	)
	return view, nil
}

// AppendFragment appends streamed text to a message and rebuilds its
// citation registry from the full accumulated content. Rebuilding from
// the longer text keeps earlier display indices stable: new keys append
// to the used order, they never renumber existing ones.
func (s *Service) AppendFragment(ctx context.Context, conversationID, messageUUID, fragment string) (MessageView, error) {
	var view MessageView
	err := s.withConversation(ctx, conversationID, func(cs *conversationState) error {
		ms, ok := cs.messages[messageUUID]
		if !ok {
			return ErrMessageNotFound
		}
		if ms.view.Completed {
			return ErrMessageCompleted
		}
		ms.view.Content += fragment
		ms.view.UpdatedAt = time.Now()
		cs.updatedAt = ms.view.UpdatedAt

		// Build-then-publish: the new registry becomes visible in one
		// pointer swap.
		ms.reg.Store(citations.Build(ms.view.Content, ms.grouped))
		metrics.RegistryRebuilds.Inc()

		view = ms.view
		return nil
	})
	if err != nil {
		return MessageView{}, err
	}

	s.events.Publish(conversationID, events.Event{
		ConversationID: conversationID,
		Type:           events.TypeFragmentAppended,
		MessageUUID:    messageUUID,
		Fragment:       fragment,
		Timestamp:      time.Now(),
	})
	return view, nil
}

// UpdateSources replaces a message's evidence list (late-arriving
// retrieval results) and rebuilds the registry against the new
// partitions.
func (s *Service) UpdateSources(ctx context.Context, conversationID, messageUUID string, sources []evidence.Record) error {
	return s.withConversation(ctx, conversationID, func(cs *conversationState) error {
		ms, ok := cs.messages[messageUUID]
		if !ok {
			return ErrMessageNotFound
		}
		ms.view.Sources = sources
		ms.view.UpdatedAt = time.Now()
		ms.grouped = evidence.Classify(sources)
		ms.reg.Store(citations.Build(ms.view.Content, ms.grouped))
		metrics.RegistryRebuilds.Inc()
		cs.updatedAt = ms.view.UpdatedAt
		return nil
	})
}

// CompleteMessage marks the end of streaming for a message.
func (s *Service) CompleteMessage(ctx context.Context, conversationID, messageUUID string) error {
	err := s.withConversation(ctx, conversationID, func(cs *conversationState) error {
		ms, ok := cs.messages[messageUUID]
		if !ok {
			return ErrMessageNotFound
		}
		ms.view.Completed = true
		ms.view.UpdatedAt = time.Now()
		cs.updatedAt = ms.view.UpdatedAt
		return nil
	})
	if err != nil {
		return err
	}

	s.events.Publish(conversationID, events.Event{
		ConversationID: conversationID,
		Type:           events.TypeMessageCompleted,
		MessageUUID:    messageUUID,
		Timestamp:      time.Now(),
	})
	return nil
}

// RemoveMessage drops a message from the conversation. Its evidence
// records die with it.
func (s *Service) RemoveMessage(ctx context.Context, conversationID, messageUUID string) error {
	err := s.withConversation(ctx, conversationID, func(cs *conversationState) error {
		if _, ok := cs.messages[messageUUID]; !ok {
			return ErrMessageNotFound
		}
		delete(cs.messages, messageUUID)
		for i, id := range cs.order {
			if id == messageUUID {
				cs.order = append(cs.order[:i], cs.order[i+1:]...)
				break
			}
		}
		cs.updatedAt = time.Now()
		return nil
	})
	if err != nil {
		return err
	}

	s.events.Publish(conversationID, events.Event{
		ConversationID: conversationID,
		Type:           events.TypeMessageRemoved,
		MessageUUID:    messageUUID,
		Timestamp:      time.Now(),
	})
	return nil
}

// Message returns a snapshot of one message view.
func (s *Service) Message(ctx context.Context, conversationID, messageUUID string) (MessageView, error) {
	var view MessageView
	err := s.readConversation(ctx, conversationID, func(cs *conversationState) error {
		ms, ok := cs.messages[messageUUID]
		if !ok {
			return ErrMessageNotFound
		}
		view = ms.view
		return nil
	})
	return view, err
}

// Messages returns snapshots of the conversation's messages in render
// order.
func (s *Service) Messages(ctx context.Context, conversationID string) ([]MessageView, error) {
	var views []MessageView
	err := s.readConversation(ctx, conversationID, func(cs *conversationState) error {
		views = make([]MessageView, 0, len(cs.order))
		for _, id := range cs.order {
			views = append(views, cs.messages[id].view)
		}
		return nil
	})
	return views, err
}

// Registry returns the message's current citation registry. The
// registry is immutable; a later fragment append publishes a new one.
func (s *Service) Registry(ctx context.Context, conversationID, messageUUID string) (*citations.Registry, error) {
	var reg *citations.Registry
	err := s.readConversation(ctx, conversationID, func(cs *conversationState) error {
		ms, ok := cs.messages[messageUUID]
		if !ok {
			return ErrMessageNotFound
		}
		reg = ms.reg.Load()
		return nil
	})
	return reg, err
}

// Rendered resolves the message's full content against its registry and
// returns the segment list a client renders: text spans interleaved
// with citation chip groups.
func (s *Service) Rendered(ctx context.Context, conversationID, messageUUID string) ([]citations.Segment, error) {
	var segments []citations.Segment
	var content string
	var reg *citations.Registry
	err := s.readConversation(ctx, conversationID, func(cs *conversationState) error {
		ms, ok := cs.messages[messageUUID]
		if !ok {
			return ErrMessageNotFound
		}
		content = ms.view.Content
		reg = ms.reg.Load()
		segments = citations.Resolve(content, reg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, seg := range segments {
		for _, c := range seg.Citations {
			metrics.CitationsResolved.WithLabelValues(string(c.Key.Kind())).Inc()
		}
	}
	for _, marker := range citations.Scan(content) {
		for _, key := range marker.Keys {
			if _, ok := reg.Index(key); !ok {
				metrics.CitationsDropped.Inc()
			}
		}
	}
	return segments, nil
}

// RemoveConversation deletes the conversation everywhere: local cache,
// Redis, and the event replay ring.
func (s *Service) RemoveConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	delete(s.conversations, conversationID)
	delete(s.cacheAccess, conversationID)
	metrics.ConversationCacheSize.Set(float64(len(s.conversations)))
	s.mu.Unlock()

	s.events.Forget(conversationID)
	if s.rdb != nil {
		if err := s.rdb.Del(ctx, redisKeyPrefix+conversationID).Err(); err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
	}
	return nil
}

// withConversation runs fn with the conversation state under the write
// lock, loading from Redis on a cache miss, then persists the result.
func (s *Service) withConversation(ctx context.Context, id string, fn func(*conversationState) error) error {
	s.mu.Lock()
	cs, err := s.lookupLocked(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := fn(cs); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cacheAccess[id] = time.Now()
	s.mu.Unlock()

	return s.persist(ctx, cs)
}

// readConversation runs fn with the conversation state under the write
// lock (a cache miss may populate the cache) without persisting after.
func (s *Service) readConversation(ctx context.Context, id string, fn func(*conversationState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, err := s.lookupLocked(ctx, id)
	if err != nil {
		return err
	}
	s.cacheAccess[id] = time.Now()
	return fn(cs)
}

// lookupLocked finds the conversation in the cache or restores it from
// Redis. Callers hold s.mu.
func (s *Service) lookupLocked(ctx context.Context, id string) (*conversationState, error) {
	if cs, ok := s.conversations[id]; ok {
		return cs, nil
	}
	if s.rdb == nil {
		return nil, ErrConversationNotFound
	}

	data, err := s.rdb.Get(ctx, redisKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	var stored Conversation
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}

	cs := &conversationState{
		id:        stored.ID,
		createdAt: stored.CreatedAt,
		updatedAt: stored.UpdatedAt,
		messages:  make(map[string]*messageState, len(stored.Messages)),
	}
	for _, view := range stored.Messages {
		ms := &messageState{view: view, grouped: evidence.Classify(view.Sources)}
		ms.reg.Store(citations.Build(view.Content, ms.grouped))
		cs.messages[view.StableUUID] = ms
		cs.order = append(cs.order, view.StableUUID)
	}

	s.conversations[id] = cs
	s.evictLocked()
	metrics.ConversationCacheSize.Set(float64(len(s.conversations)))
	s.logger.Debug("Restored conversation from Redis", zap.String("conversation_id", id))
	return cs, nil
}

// persist writes the conversation snapshot to Redis, best effort when
// running memory-only.
func (s *Service) persist(ctx context.Context, cs *conversationState) error {
	if s.rdb == nil {
		return nil
	}

	s.mu.RLock()
	stored := Conversation{
		ID:        cs.id,
		CreatedAt: cs.createdAt,
		UpdatedAt: cs.updatedAt,
		Messages:  make([]MessageView, 0, len(cs.order)),
	}
	for _, id := range cs.order {
		stored.Messages = append(stored.Messages, cs.messages[id].view)
	}
	s.mu.RUnlock()

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}
	if err := s.rdb.Set(ctx, redisKeyPrefix+cs.id, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// evictLocked trims the least recently used conversations when the
// cache grows past maxCached. Callers hold s.mu.
func (s *Service) evictLocked() {
	for len(s.conversations) > s.maxCached {
		oldestID := ""
		var oldest time.Time
		for id, at := range s.cacheAccess {
			if oldestID == "" || at.Before(oldest) {
				oldestID, oldest = id, at
			}
		}
		if oldestID == "" {
			return
		}
		delete(s.conversations, oldestID)
		delete(s.cacheAccess, oldestID)
	}
}
