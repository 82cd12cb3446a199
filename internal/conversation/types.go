package conversation

import (
	"errors"
	"time"

	"github.com/loomchat/beacon/internal/evidence"
)

var (
	// ErrConversationNotFound is returned when a conversation doesn't exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound is returned when a message doesn't exist in the
	// conversation.
	ErrMessageNotFound = errors.New("message not found")

	// ErrMessageCompleted is returned when a fragment is appended to a
	// message that already finished streaming.
	ErrMessageCompleted = errors.New("message already completed")
)

// MessageView is one assistant message as the render layer sees it:
// the full text accumulated so far and the evidence list it may cite.
// StableUUID is the deep-link addressing key and never changes across
// re-renders; render-transient identifiers must not be used for links.
type MessageView struct {
	ID         string            `json:"id"`
	StableUUID string            `json:"stable_uuid"`
	Content    string            `json:"content"`
	Sources    []evidence.Record `json:"sources"`
	Completed  bool              `json:"completed"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Conversation is the ordered list of message views.
type Conversation struct {
	ID        string        `json:"id"`
	Messages  []MessageView `json:"messages"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
