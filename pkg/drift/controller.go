// ABOUTME: Playback speed controller interface and shared configuration
// ABOUTME: Turns measured playback delays into a bounded speed correction factor
package drift

import (
	"errors"
	"sync/atomic"
)

// ErrNotStarted is the panic value when delays are submitted before Begin
var ErrNotStarted = errors.New("drift: UpdateActualDelay called before Begin")

// Controller computes a playback speed factor from measured delays.
// Implementations are driven by a single goroutine (the playback gate).
type Controller interface {
	// Begin (re)initializes filter state for a new session
	Begin(sampleRate int)

	// UpdateActualDelay records one delay observation in milliseconds
	UpdateActualDelay(delayMs int64)

	// IsSync reports whether the correction can be trusted
	IsSync() bool

	// Factor returns the current speed correction, clamped to bounds
	Factor() float64

	// StartDelay returns extra buffering (ms) added before first playback
	StartDelay() int64
}

// BufferDelaySetter is implemented by controllers whose start delay follows
// the server's buffer and latency settings
type BufferDelaySetter interface {
	SetBufferDelay(ms int64)
}

// Config tunes the controllers
type Config struct {
	// StartDelayMs is added to the server buffer delay before first playback
	StartDelayMs int64
	// ProcessingLagMs is subtracted to account for local decode/output latency
	ProcessingLagMs int64

	FactorMin float64
	FactorMax float64
	// MaxFactorStep limits how far the factor may move per update
	MaxFactorStep float64

	Kp        float64 // per ms of error
	Ki        float64 // per ms of accumulated error
	Smoothing float64 // EMA weight of a new sample

	WarmupSamples     int
	SettleSamples     int
	StableSamples     int
	StableThresholdMs float64
	// StableJitter scales the stable threshold with measured jitter, in
	// standard deviations; zero keeps StableThresholdMs fixed
	StableJitter    float64
	JumpThresholdMs float64
}

// DefaultConfig returns the tuning used by the player
func DefaultConfig() Config {
	return Config{
		StartDelayMs:      0,
		ProcessingLagMs:   0,
		FactorMin:         0.9,
		FactorMax:         1.1,
		MaxFactorStep:     0.0005,
		Kp:                2e-4,
		Ki:                1e-6,
		Smoothing:         0.1,
		WarmupSamples:     10,
		SettleSamples:     10,
		StableSamples:     20,
		StableThresholdMs: 0.5,
		StableJitter:      3,
		JumpThresholdMs:   500,
	}
}

// startDelay is shared by the controllers
type startDelay struct {
	bufferMs atomic.Int64
	extraMs  int64
	lagMs    int64
}

// SetBufferDelay sets the server-provided buffer (buffer_ms + latency)
func (s *startDelay) SetBufferDelay(ms int64) {
	s.bufferMs.Store(ms)
}

// StartDelay implements Controller
func (s *startDelay) StartDelay() int64 {
	return s.bufferMs.Load() + s.extraMs - s.lagMs
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
