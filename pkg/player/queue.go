// ABOUTME: Output queue bounded by buffered audio duration
// ABOUTME: Lets a deferred start hold as much audio as the gate may schedule ahead
package player

import (
	"context"
	"sync"

	"github.com/Resonate-Protocol/snapsync-go/pkg/audio"
)

// queued is a decoded buffer tagged with the session it was submitted in
type queued struct {
	buf     audio.Buffer
	session uint64
}

func (q queued) durationMs() float64 {
	f := q.buf.Format
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := len(q.buf.Samples) / f.Channels
	return float64(frames) * 1000 / float64(f.SampleRate)
}

// bufferQueue is a FIFO holding at most limitMs of audio
type bufferQueue struct {
	limitMs float64

	mu    sync.Mutex
	items []queued
	ms    float64
	ready chan struct{}
}

func newBufferQueue(limitMs int64) *bufferQueue {
	return &bufferQueue{
		limitMs: float64(limitMs),
		ready:   make(chan struct{}, 1),
	}
}

// push appends q unless it would exceed the limit. An empty queue always
// accepts, so a single oversized buffer cannot wedge playback.
func (b *bufferQueue) push(q queued) bool {
	d := q.durationMs()

	b.mu.Lock()
	if len(b.items) > 0 && b.ms+d > b.limitMs {
		b.mu.Unlock()
		return false
	}
	b.items = append(b.items, q)
	b.ms += d
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
	return true
}

// pop waits for the oldest buffer or for ctx to end
func (b *bufferQueue) pop(ctx context.Context) (queued, bool) {
	for {
		b.mu.Lock()
		if len(b.items) > 0 {
			q := b.items[0]
			b.items[0] = queued{}
			b.items = b.items[1:]
			b.ms -= q.durationMs()
			if len(b.items) == 0 {
				b.ms = 0
			}
			b.mu.Unlock()
			return q, true
		}
		b.mu.Unlock()

		select {
		case <-b.ready:
		case <-ctx.Done():
			return queued{}, false
		}
	}
}

// drain discards everything and returns how many buffers were dropped
func (b *bufferQueue) drain() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.items)
	b.items = nil
	b.ms = 0
	return n
}

func (b *bufferQueue) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// bufferedMs returns the audio duration waiting in the queue
func (b *bufferQueue) bufferedMs() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ms
}
