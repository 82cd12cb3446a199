package navigation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/loomchat/beacon/internal/metrics"
	"github.com/loomchat/beacon/internal/viewtree"
)

// State tracks one navigation request through its lifecycle:
// Idle -> AddressUpdated -> Locating -> Found -> Revealing -> Done, or
// Locating -> TimedOut -> Failed. Done and Failed are terminal.
type State string

const (
	StateIdle           State = "idle"
	StateAddressUpdated State = "address_updated"
	StateLocating       State = "locating"
	StateFound          State = "found"
	StateRevealing      State = "revealing"
	StateDone           State = "done"
	StateTimedOut       State = "timed_out"
	StateFailed         State = "failed"
)

// DefaultTimeout bounds a navigation request end to end.
const DefaultTimeout = 10 * time.Second

// Trigger labels what started a navigation, for logs and metrics.
type Trigger string

const (
	TriggerClick    Trigger = "click"
	TriggerFragment Trigger = "fragment"
)

// Options controls one navigation request.
type Options struct {
	// UpdateURL sets the address-bar fragment optimistically, before
	// the element is confirmed to exist.
	UpdateURL bool

	// Timeout is the hard upper bound; DefaultTimeout when zero.
	Timeout time.Duration

	// Position is the viewport placement on reveal; start when empty.
	Position Position

	// Highlight overrides the highlight duration; default when zero.
	Highlight time.Duration

	Trigger Trigger
}

// Outcome reports how a navigation request ended. Found carries the
// element; a timeout yields State Failed with TimedOut set and the
// fragment left in place so a later retry or manual scroll still lands
// on the right anchor.
type Outcome struct {
	State    State
	TimedOut bool
	Element  viewtree.Element
	Err      error
}

// Navigator orchestrates deep-link navigation: address-bar update, then
// locate, then reveal, strictly in that order within one request.
//
// Concurrent requests are independent: a new navigation does not cancel
// a prior in-flight one, so two rapid clicks can reveal in completion
// order rather than issue order. Callers that need most-recent-wins
// must serialize or cancel via context themselves.
type Navigator struct {
	locator  *Locator
	revealer *Revealer
	bar      AddressBar
	logger   *zap.Logger
}

// NewNavigator wires the orchestrator from its parts.
func NewNavigator(locator *Locator, revealer *Revealer, bar AddressBar, logger *zap.Logger) *Navigator {
	return &Navigator{
		locator:  locator,
		revealer: revealer,
		bar:      bar,
		logger:   logger,
	}
}

// NavigateToMessage drives one navigation request for the message with
// the given stable uuid.
func (n *Navigator) NavigateToMessage(ctx context.Context, uuid string, opts Options) Outcome {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Position == "" {
		opts.Position = PositionStart
	}
	trigger := opts.Trigger
	if trigger == "" {
		trigger = TriggerClick
	}
	metrics.NavigationsStarted.WithLabelValues(string(trigger)).Inc()

	if opts.UpdateURL {
		// Optimistic: the fragment is correct even if the element never
		// appears, and it stays set on failure.
		n.bar.ReplaceFragment(FragmentFor(uuid))
	}

	elementID := ElementIDFor(uuid)
	el, err := n.locator.Locate(ctx, elementID, opts.Timeout)
	if err != nil {
		timedOut := errors.Is(err, ErrElementNotFound)
		if timedOut {
			metrics.NavigationsCompleted.WithLabelValues(string(trigger), "timed_out").Inc()
		} else {
			metrics.NavigationsCompleted.WithLabelValues(string(trigger), "cancelled").Inc()
		}
		n.logger.Warn("Navigation failed",
			zap.String("message_uuid", uuid),
			zap.String("trigger", string(trigger)),
			zap.Bool("timed_out", timedOut),
			zap.Error(err),
		)
		return Outcome{State: StateFailed, TimedOut: timedOut, Err: err}
	}

	if err := n.revealer.Reveal(ctx, el, RevealOptions{
		Position:  opts.Position,
		Highlight: opts.Highlight,
	}); err != nil {
		metrics.NavigationsCompleted.WithLabelValues(string(trigger), "cancelled").Inc()
		return Outcome{State: StateFailed, Element: el, Err: err}
	}

	metrics.NavigationsCompleted.WithLabelValues(string(trigger), "done").Inc()
	n.logger.Debug("Navigation done",
		zap.String("message_uuid", uuid),
		zap.String("trigger", string(trigger)),
	)
	return Outcome{State: StateDone, Element: el}
}

// HandleFragmentOnLoad runs the single page-load navigation attempt: a
// fragment matching "#message-<uuid>" triggers one navigation with the
// URL left untouched (it is already correct). Call it once the
// conversation's messages have loaded. Returns false when the fragment
// is not a message deep link.
func (n *Navigator) HandleFragmentOnLoad(ctx context.Context, fragment string) (Outcome, bool) {
	uuid, ok := ParseFragment(fragment)
	if !ok {
		return Outcome{State: StateIdle}, false
	}
	return n.NavigateToMessage(ctx, uuid, Options{
		UpdateURL: false,
		Trigger:   TriggerFragment,
	}), true
}

// LeaveConversation clears the fragment. Mandatory before a new
// conversation's messages render, so a stale fragment is never matched
// against the new conversation's elements.
func (n *Navigator) LeaveConversation() {
	n.bar.ReplaceFragment("")
}
