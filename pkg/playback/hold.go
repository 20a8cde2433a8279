// ABOUTME: Cancellable deferred-start timer
// ABOUTME: Holds output silent until the first chunk's scheduled play time
package playback

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Hold keeps the output goroutine waiting until a deferred start expires.
// The gate only arms it; nothing ever sleeps.
type Hold struct {
	clock clockwork.Clock

	mu     sync.Mutex
	timer  clockwork.Timer
	gen    uint64
	active bool
	done   chan struct{}
}

// NewHold creates a released hold. A nil clock uses the real clock.
func NewHold(clock clockwork.Clock) *Hold {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	done := make(chan struct{})
	close(done)
	return &Hold{clock: clock, done: done}
}

// Arm holds output for d. Re-arming an active hold replaces its deadline.
func (h *Hold) Arm(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopTimer()
	h.gen++

	if d <= 0 {
		h.release()
		return
	}

	if !h.active {
		h.done = make(chan struct{})
		h.active = true
	}

	gen := h.gen
	h.timer = h.clock.AfterFunc(d, func() { h.fire(gen) })
}

// Cancel stops a pending hold and releases any waiters
func (h *Hold) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopTimer()
	h.gen++
	h.release()
}

// Active reports whether output is currently held
func (h *Hold) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// Done returns a channel closed once the current hold is released
func (h *Hold) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

func (h *Hold) fire(gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// a stale timer from before a re-arm or cancel
	if gen != h.gen {
		return
	}
	h.timer = nil
	h.release()
}

// release must be called with mu held
func (h *Hold) release() {
	if !h.active {
		return
	}
	h.active = false
	close(h.done)
}

// stopTimer must be called with mu held
func (h *Hold) stopTimer() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}
