// ABOUTME: Independent playback rate measurement
// ABOUTME: Compares local elapsed time with server time spanned by chunk headers
package playback

import (
	"sync"
	"time"

	"github.com/Resonate-Protocol/snapsync-go/pkg/audio"
	log "github.com/sirupsen/logrus"
)

// DefaultRateWindow is the number of output buffers per measurement
const DefaultRateWindow = 100

// RateObserver measures how fast the local output consumes server time.
// A factor above 1.0 means local time runs faster than the stream.
// It is telemetry only and never feeds the controller.
type RateObserver struct {
	window int

	mu          sync.Mutex
	count       int
	firstHeader audio.ChunkHeader
	firstLocal  time.Time
	factor      float64
	windows     int
}

// NewRateObserver measures over window buffers (DefaultRateWindow if <= 1)
func NewRateObserver(window int) *RateObserver {
	if window <= 1 {
		window = DefaultRateWindow
	}
	return &RateObserver{window: window}
}

// Observe records that the buffer with header h reached the output at local.
// When a window completes it returns the measured factor and true.
func (r *RateObserver) Observe(h audio.ChunkHeader, local time.Time) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		r.firstHeader = h
		r.firstLocal = local
		r.count = 1
		return 0, false
	}

	r.count++
	if r.count < r.window {
		return 0, false
	}

	serverSpan := h.Sub(r.firstHeader)
	localSpan := local.Sub(r.firstLocal).Microseconds()
	r.count = 0

	if serverSpan <= 0 || localSpan <= 0 {
		log.Debugf("Discarding rate window: server span %dµs, local span %dµs", serverSpan, localSpan)
		return 0, false
	}

	r.factor = float64(localSpan) / float64(serverSpan)
	r.windows++
	if r.windows <= 3 {
		log.Debugf("Observed playback rate %.6f over %d buffers", r.factor, r.window)
	}
	return r.factor, true
}

// Factor returns the last completed measurement, 0 if none
func (r *RateObserver) Factor() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.factor
}

// Reset discards the current window
func (r *RateObserver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count = 0
}
