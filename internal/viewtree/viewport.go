package viewtree

import (
	"context"
	"sync"
	"time"
)

// Viewport models the scrollable region over the rendered view. Scroll
// offsets are pixels from the top of the content.
type Viewport struct {
	mu            sync.RWMutex
	scrollTop     float64
	height        float64
	contentHeight float64
}

// NewViewport returns a viewport of the given height over content of
// the given total height.
func NewViewport(height, contentHeight float64) *Viewport {
	return &Viewport{height: height, contentHeight: contentHeight}
}

// ScrollTop returns the current scroll offset.
func (v *Viewport) ScrollTop() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.scrollTop
}

// Height returns the viewport height.
func (v *Viewport) Height() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.height
}

// SetContentHeight updates the scrollable content height, clamping the
// current offset if the content shrank.
func (v *Viewport) SetContentHeight(h float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.contentHeight = h
	v.scrollTop = clamp(v.scrollTop, 0, v.maxScrollLocked())
}

// ScrollTo jumps to the target offset immediately, clamped to the
// scrollable range.
func (v *Viewport) ScrollTo(target float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scrollTop = clamp(target, 0, v.maxScrollLocked())
}

// SmoothScrollTo animates toward the target offset in fixed steps,
// stopping early when the context is cancelled. The final position is
// exact regardless of step rounding.
func (v *Viewport) SmoothScrollTo(ctx context.Context, target float64, duration time.Duration) error {
	v.mu.RLock()
	start := v.scrollTop
	target = clamp(target, 0, v.maxScrollLocked())
	v.mu.RUnlock()

	const steps = 12
	if duration <= 0 || start == target {
		v.ScrollTo(target)
		return nil
	}

	interval := duration / steps
	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		v.ScrollTo(start + (target-start)*float64(i)/steps)
	}
	return nil
}

// maxScrollLocked returns the largest valid offset; callers hold v.mu.
func (v *Viewport) maxScrollLocked() float64 {
	if v.contentHeight <= v.height {
		return 0
	}
	return v.contentHeight - v.height
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
