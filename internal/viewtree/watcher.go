package viewtree

import (
	"sync"
	"time"
)

// Watcher abstracts change notification over a rendered view so the
// locator's algorithm stays portable: one backend rides the view's
// native notification feed, the other polls. Detect picks the backend
// by runtime capability.
type Watcher interface {
	// Subscribe returns a channel signaled on view changes and a cancel
	// function. Cancel must be safe to call more than once.
	Subscribe(buffer int) (<-chan []Change, func())

	// Native reports whether the backend receives real change
	// notifications (as opposed to synthesizing them by polling).
	Native() bool
}

// subscriber is the optional capability a view exposes when it supports
// native change notification.
type subscriber interface {
	Subscribe(buffer int) chan []Change
	Unsubscribe(chan []Change)
}

// Detect returns the best watcher the view supports: the native feed
// when the view exposes one, a polling backend otherwise. Polling is a
// degraded-but-correct path, not a failure.
func Detect(view Index) Watcher {
	if s, ok := view.(subscriber); ok {
		return &notifyWatcher{source: s}
	}
	return &PollWatcher{Interval: 100 * time.Millisecond}
}

// notifyWatcher rides the view's native change feed.
type notifyWatcher struct {
	source subscriber
}

func (w *notifyWatcher) Native() bool { return true }

func (w *notifyWatcher) Subscribe(buffer int) (<-chan []Change, func()) {
	ch := w.source.Subscribe(buffer)
	var once sync.Once
	cancel := func() {
		once.Do(func() { w.source.Unsubscribe(ch) })
	}
	return ch, cancel
}

// PollWatcher synthesizes change batches on a fixed interval for views
// that only expose Lookup. The batches are empty; consumers re-check
// the index on every signal.
type PollWatcher struct {
	Interval time.Duration
}

func (w *PollWatcher) Native() bool { return false }

func (w *PollWatcher) Subscribe(buffer int) (<-chan []Change, func()) {
	interval := w.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ch := make(chan []Change, buffer)
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case ch <- nil:
				default:
				}
			}
		}
	}()
	var once sync.Once
	cancel := func() {
		once.Do(func() { close(stop) })
	}
	return ch, cancel
}
