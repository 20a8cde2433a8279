// ABOUTME: Per-chunk playback decisions
// ABOUTME: Decides whether a timestamped chunk is played, deferred or dropped
package playback

import (
	"errors"
	"sync"
	"time"

	"github.com/Resonate-Protocol/snapsync-go/pkg/audio"
	"github.com/Resonate-Protocol/snapsync-go/pkg/drift"
	clocksync "github.com/Resonate-Protocol/snapsync-go/pkg/sync"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrExpiredChunk means the chunk's play time passed before the session started
	ErrExpiredChunk = errors.New("chunk expired before playback")
	// ErrImplausibleTimestamp means the header cannot describe a real play time
	ErrImplausibleTimestamp = errors.New("implausible chunk timestamp")
)

// DefaultMaxDelayMs bounds how far in the future a chunk may be scheduled
const DefaultMaxDelayMs = 100000

// State is the synchronization state of a session
type State int

const (
	Unsynced State = iota
	Starting
	Synced
)

func (s State) String() string {
	switch s {
	case Unsynced:
		return "unsynced"
	case Starting:
		return "starting"
	case Synced:
		return "synced"
	default:
		return "unknown"
	}
}

// Action is what the caller must do with a chunk
type Action int

const (
	Accept Action = iota
	Defer
	Drop
)

func (a Action) String() string {
	switch a {
	case Accept:
		return "accept"
	case Defer:
		return "defer"
	default:
		return "drop"
	}
}

// Decision is the gate's verdict on one chunk
type Decision struct {
	Action  Action
	DelayMs int64
	// Err explains a Drop
	Err error
}

// Pipeline is the decode/output side the gate steers
type Pipeline interface {
	// ArmDeferredStart holds output silent for d before releasing audio
	ArmDeferredStart(d time.Duration)
	// CancelDeferredStart drops a pending hold
	CancelDeferredStart()
	// SpeedFactor returns the factor the resampler currently runs at
	SpeedFactor() float64
	// SetSpeedFactor retunes the resampler
	SetSpeedFactor(f float64)
}

// GateConfig tunes the gate
type GateConfig struct {
	MaxDelayMs int64
}

// Stats counts decisions since the gate was created
type Stats struct {
	Received    int64
	Accepted    int64
	Deferred    int64
	Expired     int64
	Implausible int64
	LastDelayMs int64
}

// Gate is the playback state machine. OnChunk is driven by the output
// goroutine; the read accessors may be called from anywhere.
type Gate struct {
	clock clocksync.ServerClock
	ctrl  drift.Controller
	pipe  Pipeline
	cfg   GateConfig

	mu         sync.Mutex
	state      State
	sampleRate int
	stats      Stats
}

// NewGate creates a gate in the Unsynced state
func NewGate(clock clocksync.ServerClock, ctrl drift.Controller, pipe Pipeline, cfg GateConfig) *Gate {
	if cfg.MaxDelayMs <= 0 {
		cfg.MaxDelayMs = DefaultMaxDelayMs
	}
	return &Gate{
		clock: clock,
		ctrl:  ctrl,
		pipe:  pipe,
		cfg:   cfg,
		state: Unsynced,
	}
}

// SessionStart begins a new session, discarding any previous one
func (g *Gate) SessionStart(sampleRate int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.sampleRate = sampleRate
	g.reset()
	log.Debugf("Session started at %dHz", sampleRate)
}

// SessionEnd tears down the session. Safe while a deferred start is pending.
func (g *Gate) SessionEnd() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.reset()
	log.Debugf("Session ended")
}

// reset must be called with mu held
func (g *Gate) reset() {
	g.pipe.CancelDeferredStart()
	g.ctrl.Begin(g.sampleRate)
	g.pipe.SetSpeedFactor(1.0)
	g.state = Unsynced
}

// OnChunk decides what happens to the chunk with header h
func (g *Gate) OnChunk(h audio.ChunkHeader) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stats.Received++

	if !h.Valid() {
		g.stats.Implausible++
		log.Warnf("Dropping chunk with malformed header: sec=%d usec=%d", h.Sec, h.Usec)
		return Decision{Action: Drop, Err: ErrImplausibleTimestamp}
	}

	delay := g.clock.ToMillis(h.Sec, h.Usec) - g.clock.ServerMillis() + g.ctrl.StartDelay()
	g.stats.LastDelayMs = delay

	if g.state == Unsynced {
		return g.start(delay)
	}
	return g.track(delay)
}

// start handles the first chunk of a session
func (g *Gate) start(delay int64) Decision {
	if delay < 0 {
		g.stats.Expired++
		log.Warnf("Dropping expired chunk: %dms late", -delay)
		return Decision{Action: Drop, DelayMs: delay, Err: ErrExpiredChunk}
	}
	if delay > g.cfg.MaxDelayMs {
		g.stats.Implausible++
		log.Warnf("Dropping chunk scheduled %dms ahead (limit %dms)", delay, g.cfg.MaxDelayMs)
		return Decision{Action: Drop, DelayMs: delay, Err: ErrImplausibleTimestamp}
	}

	g.ctrl.Begin(g.sampleRate)
	g.pipe.ArmDeferredStart(time.Duration(delay) * time.Millisecond)
	g.state = Starting
	g.stats.Deferred++

	log.Printf("Starting playback in %dms", delay)
	return Decision{Action: Defer, DelayMs: delay}
}

// track feeds a running session's delay to the controller
func (g *Gate) track(delay int64) Decision {
	if delay > g.cfg.MaxDelayMs {
		g.stats.Implausible++
		log.Warnf("Dropping chunk scheduled %dms ahead (limit %dms)", delay, g.cfg.MaxDelayMs)
		return Decision{Action: Drop, DelayMs: delay, Err: ErrImplausibleTimestamp}
	}

	g.ctrl.UpdateActualDelay(delay)
	g.stats.Accepted++

	if g.ctrl.IsSync() {
		if g.state != Synced {
			log.Infof("Playback synced (delay %dms, factor %.6f)", delay, g.ctrl.Factor())
		}
		g.state = Synced
	} else if g.state == Synced {
		log.Warnf("Playback lost sync (delay %dms)", delay)
		g.state = Starting
	}

	if f := g.ctrl.Factor(); f != g.pipe.SpeedFactor() {
		g.pipe.SetSpeedFactor(f)
	}

	return Decision{Action: Accept, DelayMs: delay}
}

// State returns the current session state
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// CurrentSpeedFactor returns the controller's factor
func (g *Gate) CurrentSpeedFactor() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ctrl.Factor()
}

// Stats returns a snapshot of the decision counters
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}
