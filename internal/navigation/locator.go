// Package navigation resolves deep links into a rendered conversation
// view: it locates message elements that may not exist yet, scrolls
// them into position, applies a transient highlight, and keeps the
// address-bar fragment in sync.
package navigation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/loomchat/beacon/internal/metrics"
	"github.com/loomchat/beacon/internal/viewtree"
)

// ErrElementNotFound is returned when the target element did not appear
// within the locate timeout. Callers decide the retry policy; the
// locator never retries past its deadline.
var ErrElementNotFound = errors.New("element not found within timeout")

// Fallback polling schedule: exponential backoff from 100ms by 1.5x,
// capped at 500ms.
const (
	pollInitial = 100 * time.Millisecond
	pollFactor  = 1.5
	pollMax     = 500 * time.Millisecond
)

// Locator waits for an element to exist in a mutating view. It rides
// the view's change-notification feed when one is available and always
// keeps a backoff polling leg: notification batches may be dropped
// under subscriber backpressure, and the poll bounds how long a drop
// can stall a pending locate.
type Locator struct {
	view    viewtree.Index
	watcher viewtree.Watcher
	logger  *zap.Logger
}

// NewLocator builds a locator over the view, detecting the best
// available change-notification backend.
func NewLocator(view viewtree.Index, logger *zap.Logger) *Locator {
	return &Locator{
		view:    view,
		watcher: viewtree.Detect(view),
		logger:  logger,
	}
}

// Locate resolves elementID to a rendered element, waiting up to
// timeout for it to appear. Subscription and timers are released on
// every exit path; after the deadline the element appearing later has
// no effect on this request.
func (l *Locator) Locate(ctx context.Context, elementID string, timeout time.Duration) (viewtree.Element, error) {
	// Fast path: already rendered.
	if el, ok := l.view.Lookup(elementID); ok {
		return el, nil
	}

	started := time.Now()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	changes, cancel := l.watcher.Subscribe(64)
	defer cancel()

	// Re-check after subscribing: the element may have mounted between
	// the fast path and the subscription.
	if el, ok := l.view.Lookup(elementID); ok {
		metrics.LocateDuration.Observe(float64(time.Since(started).Milliseconds()))
		return el, nil
	}

	interval := pollInitial
	poll := time.NewTimer(interval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return viewtree.Element{}, ctx.Err()

		case <-deadline.C:
			l.logger.Debug("Locate timed out",
				zap.String("element_id", elementID),
				zap.Duration("timeout", timeout),
				zap.Bool("native_watcher", l.watcher.Native()),
			)
			return viewtree.Element{}, ErrElementNotFound

		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if el, found := l.view.Lookup(elementID); found {
				metrics.LocateDuration.Observe(float64(time.Since(started).Milliseconds()))
				return el, nil
			}

		case <-poll.C:
			metrics.LocateFallbackPolls.Inc()
			if el, found := l.view.Lookup(elementID); found {
				metrics.LocateDuration.Observe(float64(time.Since(started).Milliseconds()))
				return el, nil
			}
			interval = time.Duration(float64(interval) * pollFactor)
			if interval > pollMax {
				interval = pollMax
			}
			poll.Reset(interval)
		}
	}
}
