// Package events provides in-memory pub/sub for conversation events:
// fragment appends, message completion, and navigation outcomes. The
// websocket API fans these out to clients driving progressive renders.
package events

import (
	"sync"
	"time"

	"github.com/loomchat/beacon/internal/metrics"
)

// Event types published by the conversation service and navigator.
const (
	TypeFragmentAppended  = "fragment_appended"
	TypeMessageCompleted  = "message_completed"
	TypeMessageRemoved    = "message_removed"
	TypeNavigationOutcome = "navigation_outcome"
)

// Event is one conversation event.
type Event struct {
	ConversationID string    `json:"conversation_id"`
	Type           string    `json:"type"`
	MessageUUID    string    `json:"message_uuid,omitempty"`
	Fragment       string    `json:"fragment,omitempty"`
	Status         string    `json:"status,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Seq            uint64    `json:"seq"`
}

// Manager fans events out per conversation and keeps a bounded replay
// ring so reconnecting subscribers can resume from a last-seen seq.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
}

// NewManager returns a manager whose per-conversation replay rings hold
// capacity events each.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = 256
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe adds a subscriber channel for a conversation; the caller
// must drain it and call Unsubscribe.
func (m *Manager) Subscribe(conversationID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[conversationID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[conversationID] = subs
	}
	subs[ch] = struct{}{}
	metrics.StreamSubscribers.Inc()
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(conversationID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[conversationID]; ok {
		if _, member := subs[ch]; member {
			delete(subs, ch)
			close(ch)
			metrics.StreamSubscribers.Dec()
		}
		if len(subs) == 0 {
			delete(m.subscribers, conversationID)
		}
	}
}

// Publish assigns a sequence number, records the event for replay, and
// sends it to all subscribers of the conversation without blocking.
// Slow subscribers drop events; replay covers the gap.
func (m *Manager) Publish(conversationID string, evt Event) {
	m.mu.Lock()
	rg := m.history[conversationID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[conversationID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	m.mu.Unlock()

	// Deliver under the read lock: Subscribe and Unsubscribe take the
	// write lock, so the map cannot change mid-iteration and a channel
	// cannot be closed mid-send. Sends never block, so the lock is held
	// only briefly.
	m.mu.RLock()
	for ch := range m.subscribers[conversationID] {
		select {
		case ch <- evt:
		default:
		}
	}
	m.mu.RUnlock()
}

// ReplaySince returns events with Seq > since, best effort within the
// ring capacity.
func (m *Manager) ReplaySince(conversationID string, since uint64) []Event {
	m.mu.RLock()
	rg := m.history[conversationID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops the replay history of a conversation that was removed.
func (m *Manager) Forget(conversationID string) {
	m.mu.Lock()
	delete(m.history, conversationID)
	m.mu.Unlock()
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
