// ABOUTME: Integration tests for Player API
// ABOUTME: Drives the gate and pipeline with a fake clock and a recording output
package player

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/snapsync-go/pkg/audio"
	"github.com/Resonate-Protocol/snapsync-go/pkg/audio/decode"
	"github.com/Resonate-Protocol/snapsync-go/pkg/drift"
	"github.com/Resonate-Protocol/snapsync-go/pkg/playback"
	"github.com/Resonate-Protocol/snapsync-go/pkg/protocol"
	"github.com/jonboulle/clockwork"
)

type recordingOutput struct {
	mu      sync.Mutex
	opened  bool
	writes  [][]int32
	volume  int
	muted   bool
	closed  bool
	openErr error
}

func (o *recordingOutput) Open(sampleRate, channels, bitDepth int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.openErr != nil {
		return o.openErr
	}
	o.opened = true
	return nil
}

func (o *recordingOutput) Write(samples []int32) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes = append(o.writes, samples)
	return nil
}

func (o *recordingOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

func (o *recordingOutput) SetVolume(v int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.volume = v
}

func (o *recordingOutput) SetMuted(m bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.muted = m
}

func (o *recordingOutput) writeCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.writes)
}

var pcmFormat = audio.Format{
	Codec:      audio.CodecPCM,
	SampleRate: 48000,
	Channels:   2,
	BitDepth:   16,
}

// 20ms of 16-bit stereo at 48kHz
var pcmPayload = make([]byte, 960*4)

func newTestPlayer(t *testing.T, ctrl drift.Controller) (*Player, *recordingOutput, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	out := &recordingOutput{}

	p, err := New(Config{
		PlayerName: "Test Player",
		Clock:      fc,
		Output:     out,
		Controller: ctrl,
	})
	if err != nil {
		t.Fatalf("failed to create player: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p, out, fc
}

// chunkIn returns a header scheduled d after the fake clock's now
func chunkIn(fc *clockwork.FakeClock, d time.Duration) audio.ChunkHeader {
	return audio.HeaderFromMicros(fc.Now().Add(d).UnixMicro(), len(pcmPayload), audio.CodecPCM)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewPlayerDefaults(t *testing.T) {
	p, out, _ := newTestPlayer(t, nil)

	if p.config.Volume != 100 {
		t.Errorf("expected default volume=100, got %d", p.config.Volume)
	}
	if p.config.DeviceInfo.ProductName == "" || p.config.DeviceInfo.Manufacturer == "" || p.config.DeviceInfo.SoftwareVersion == "" {
		t.Errorf("expected device info defaults, got %+v", p.config.DeviceInfo)
	}
	if _, ok := p.ctrl.(*drift.Dynamic); !ok {
		t.Errorf("expected Dynamic controller by default, got %T", p.ctrl)
	}

	state := p.Status()
	if state.State != "idle" || state.Connected {
		t.Errorf("unexpected initial state %+v", state)
	}
	if out.volume != 100 {
		t.Errorf("expected output volume 100, got %d", out.volume)
	}
}

func TestWriteChunkBeforeStream(t *testing.T) {
	p, _, fc := newTestPlayer(t, nil)

	n, err := p.WriteChunk(chunkIn(fc, 500*time.Millisecond), pcmPayload)
	if !errors.Is(err, ErrNoStream) || n != 0 {
		t.Errorf("expected ErrNoStream, got %d %v", n, err)
	}
	if p.Stats().Gate.Received != 0 {
		t.Error("chunk without a stream must not reach the gate")
	}
}

func TestDeferredStart(t *testing.T) {
	p, out, fc := newTestPlayer(t, nil)

	if err := p.StartStream(pcmFormat); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !out.opened {
		t.Fatal("expected output to be opened")
	}

	n, err := p.WriteChunk(chunkIn(fc, 500*time.Millisecond), pcmPayload)
	if err != nil || n != len(pcmPayload) {
		t.Fatalf("unexpected write result %d %v", n, err)
	}

	waitFor(t, "deferred start", func() bool { return p.Stats().Holding })
	stats := p.Stats()
	if stats.Gate.Deferred != 1 || stats.SyncState != playback.Starting {
		t.Fatalf("unexpected stats after first chunk: %+v", stats)
	}

	time.Sleep(20 * time.Millisecond)
	if out.writeCount() != 0 {
		t.Fatal("audio released before the deferred start")
	}

	fc.Advance(500 * time.Millisecond)
	waitFor(t, "first output write", func() bool { return out.writeCount() > 0 })

	if p.Stats().Holding {
		t.Error("expected hold to be released")
	}
}

func TestDroppedChunkAcknowledged(t *testing.T) {
	p, _, fc := newTestPlayer(t, nil)
	p.StartStream(pcmFormat)

	n, err := p.WriteChunk(chunkIn(fc, -time.Second), pcmPayload)
	if err != nil || n != len(pcmPayload) {
		t.Errorf("expected dropped chunk to be acknowledged, got %d %v", n, err)
	}

	waitFor(t, "gate decision", func() bool { return p.Stats().Pipeline.Dropped == 1 })
	stats := p.Stats()
	if stats.Gate.Expired != 1 || stats.Pipeline.Played != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.SyncState != playback.Unsynced {
		t.Errorf("expected Unsynced, got %v", stats.SyncState)
	}
}

func TestSyncStateReported(t *testing.T) {
	var mu sync.Mutex
	var states []string

	fc := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	p, err := New(Config{
		Clock:      fc,
		Output:     &recordingOutput{},
		Controller: drift.NewFixed(1.0, drift.DefaultConfig()),
		OnStateChange: func(s State) {
			mu.Lock()
			states = append(states, s.State)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("failed to create player: %v", err)
	}
	defer p.Close()

	p.StartStream(pcmFormat)
	p.WriteChunk(chunkIn(fc, 200*time.Millisecond), pcmPayload)
	p.WriteChunk(chunkIn(fc, 220*time.Millisecond), pcmPayload)

	waitFor(t, "deferred start", func() bool { return p.Stats().Holding })
	if p.Status().State != "starting" {
		t.Errorf("expected starting during the hold, got %s", p.Status().State)
	}
	fc.Advance(200 * time.Millisecond)
	waitFor(t, "synchronized", func() bool { return p.Status().State == "synchronized" })

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 || states[0] != "starting" || states[len(states)-1] != "synchronized" {
		t.Errorf("unexpected state sequence %v", states)
	}
}

func TestApplySettings(t *testing.T) {
	p, out, fc := newTestPlayer(t, nil)
	p.StartStream(pcmFormat)

	p.ApplySettings(protocol.ServerSettings{BufferMs: 1000, Latency: 20, Volume: 40, Muted: true})

	if got := p.Stats().StartDelayMs; got != 1020 {
		t.Errorf("expected start delay 1020ms, got %d", got)
	}
	if out.volume != 40 || !out.muted {
		t.Errorf("expected volume 40 muted, got %d %v", out.volume, out.muted)
	}
	if s := p.Status(); s.Volume != 40 || !s.Muted {
		t.Errorf("unexpected status %+v", s)
	}

	// a chunk 500ms late is still playable inside a 1020ms buffer
	d := p.gate.OnChunk(chunkIn(fc, -500*time.Millisecond))
	if d.Action != playback.Defer || d.DelayMs != 520 {
		t.Errorf("expected Defer(520), got %v(%d)", d.Action, d.DelayMs)
	}
}

func TestEndStreamResets(t *testing.T) {
	p, _, fc := newTestPlayer(t, nil)
	p.StartStream(pcmFormat)
	p.WriteChunk(chunkIn(fc, 500*time.Millisecond), pcmPayload)
	waitFor(t, "deferred start", func() bool { return p.Stats().Holding })

	p.EndStream()

	stats := p.Stats()
	if stats.Holding {
		t.Error("expected pending start to be cancelled")
	}
	if stats.SyncState != playback.Unsynced || stats.SpeedFactor != 1.0 {
		t.Errorf("expected reset session, got %v factor %f", stats.SyncState, stats.SpeedFactor)
	}
	if p.Status().State != "idle" {
		t.Errorf("expected idle, got %s", p.Status().State)
	}
}

func TestClearStreamRestartsSession(t *testing.T) {
	p, out, fc := newTestPlayer(t, drift.NewFixed(1.0, drift.DefaultConfig()))
	p.StartStream(pcmFormat)
	p.WriteChunk(chunkIn(fc, 100*time.Millisecond), pcmPayload)
	p.WriteChunk(chunkIn(fc, 120*time.Millisecond), pcmPayload)
	waitFor(t, "deferred start", func() bool { return p.Stats().Holding })

	p.ClearStream()

	if p.Stats().SyncState != playback.Unsynced {
		t.Errorf("expected Unsynced after clear, got %v", p.Stats().SyncState)
	}
	if p.Status().State != "starting" {
		t.Errorf("expected starting, got %s", p.Status().State)
	}

	// the next chunk starts a fresh session
	n, err := p.WriteChunk(chunkIn(fc, 300*time.Millisecond), pcmPayload)
	if err != nil || n != len(pcmPayload) {
		t.Fatalf("unexpected write result %d %v", n, err)
	}
	waitFor(t, "second deferred start", func() bool { return p.Stats().Gate.Deferred == 2 })
	if out.writeCount() != 0 {
		t.Errorf("expected cleared audio never to play, got %d writes", out.writeCount())
	}
}

func TestStartStreamErrors(t *testing.T) {
	p, out, _ := newTestPlayer(t, nil)

	if err := p.StartStream(audio.Format{Codec: audio.CodecVorbis, SampleRate: 48000, Channels: 2}); err == nil {
		t.Error("expected error for unsupported codec")
	}

	out.openErr = errors.New("no device")
	if err := p.StartStream(pcmFormat); err == nil {
		t.Error("expected error when output cannot open")
	}
}

func TestFailedStartStreamDropsPreviousStream(t *testing.T) {
	p, _, fc := newTestPlayer(t, nil)

	if err := p.StartStream(pcmFormat); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	p.WriteChunk(chunkIn(fc, 500*time.Millisecond), pcmPayload)
	waitFor(t, "deferred start", func() bool { return p.Stats().Holding })

	vorbis := audio.Format{Codec: audio.CodecVorbis, SampleRate: 48000, Channels: 2}
	if err := p.StartStream(vorbis); err == nil {
		t.Fatal("expected error for unsupported codec")
	}

	if p.pipeline.Ready() {
		t.Error("expected no decoder after a failed start")
	}
	if n, err := p.WriteChunk(chunkIn(fc, 500*time.Millisecond), pcmPayload); !errors.Is(err, ErrNoStream) || n != 0 {
		t.Errorf("expected ErrNoStream, got %d %v", n, err)
	}

	stats := p.Stats()
	if stats.Holding || stats.SyncState != playback.Unsynced || stats.QueueDepth != 0 {
		t.Errorf("expected the old session torn down, got %+v", stats)
	}
	if s := p.Status(); s.State != "idle" || s.Codec != "" {
		t.Errorf("expected idle without codec, got %+v", s)
	}
}

func TestQueueHoldsLongDeferredStart(t *testing.T) {
	p, _, fc := newTestPlayer(t, nil)
	p.StartStream(pcmFormat)
	p.ApplySettings(protocol.ServerSettings{BufferMs: 30000, Volume: 100})

	// 30s of audio arrives before the first chunk is due
	t0 := fc.Now()
	for k := 0; k < 1500; k++ {
		h := audio.HeaderFromMicros(t0.Add(time.Duration(k)*20*time.Millisecond).UnixMicro(), len(pcmPayload), audio.CodecPCM)
		if _, err := p.WriteChunk(h, pcmPayload); err != nil {
			t.Fatalf("chunk %d: %v", k, err)
		}
	}
	waitFor(t, "deferred start", func() bool { return p.Stats().Holding })

	stats := p.Stats()
	if stats.Pipeline.Overflows != 0 {
		t.Errorf("expected no overflows during the hold, got %d", stats.Pipeline.Overflows)
	}
	if stats.QueueDepth != 1499 || stats.QueuedMs < 29900 {
		t.Errorf("expected the rest of the 30s queued, got %d buffers %.0fms", stats.QueueDepth, stats.QueuedMs)
	}
}

func TestSmallQueueLimitsStartDelay(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	p, err := New(Config{Clock: fc, Output: &recordingOutput{}, QueueMs: 10000})
	if err != nil {
		t.Fatalf("failed to create player: %v", err)
	}
	defer p.Close()

	if p.config.MaxDelayMs != 10000-queueHeadroomMs {
		t.Errorf("expected max delay lowered to %d, got %d", 10000-queueHeadroomMs, p.config.MaxDelayMs)
	}

	p.StartStream(pcmFormat)
	p.ApplySettings(protocol.ServerSettings{BufferMs: 8000, Volume: 100})
	p.WriteChunk(chunkIn(fc, 0), pcmPayload)

	waitFor(t, "gate decision", func() bool { return p.Stats().Gate.Received == 1 })
	if stats := p.Stats(); stats.Gate.Implausible != 1 || stats.Holding {
		t.Errorf("expected a start beyond the queue to be refused, got %+v", stats.Gate)
	}
}

func TestQueueLimits(t *testing.T) {
	tests := []struct {
		name               string
		maxDelay, queue    int64
		wantDelay, wantCap int64
	}{
		{"defaults", 0, 0, playback.DefaultMaxDelayMs, playback.DefaultMaxDelayMs + queueHeadroomMs},
		{"queue follows delay", 20000, 0, 20000, 20000 + queueHeadroomMs},
		{"large queue", 20000, 60000, 20000, 60000},
		{"small queue caps delay", 20000, 15000, 15000 - queueHeadroomMs, 15000},
		{"tiny queue", 20000, 100, queueHeadroomMs, 2 * queueHeadroomMs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay, capacity := queueLimits(tt.maxDelay, tt.queue)
			if delay != tt.wantDelay || capacity != tt.wantCap {
				t.Errorf("expected (%d, %d), got (%d, %d)", tt.wantDelay, tt.wantCap, delay, capacity)
			}
		})
	}
}

// driftingOutput consumes audio against the fake clock at rate times the
// server's pace and reports each write's frame count
type driftingOutput struct {
	clock    *clockwork.FakeClock
	rate     float64
	channels int
	written  chan int
	stop     chan struct{}
}

func (o *driftingOutput) Open(sampleRate, channels, bitDepth int) error { return nil }

func (o *driftingOutput) Write(samples []int32) error {
	frames := len(samples) / o.channels
	o.clock.Advance(time.Duration(float64(frames) / (48000 * o.rate) * float64(time.Second)))
	select {
	case o.written <- frames:
	case <-o.stop:
	}
	return nil
}

func (o *driftingOutput) Close() error {
	select {
	case <-o.stop:
	default:
		close(o.stop)
	}
	return nil
}

func TestSpeedFactorFollowsOutputClock(t *testing.T) {
	tests := []struct {
		name string
		rate float64
	}{
		{"fast device 500ppm", 1.0005},
		{"slow device 500ppm", 0.9995},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
			out := &driftingOutput{clock: fc, rate: tt.rate, channels: 2, written: make(chan int), stop: make(chan struct{})}
			p, err := New(Config{Clock: fc, Output: out})
			if err != nil {
				t.Fatalf("failed to create player: %v", err)
			}
			defer p.Close()

			p.StartStream(pcmFormat)
			p.ApplySettings(protocol.ServerSettings{BufferMs: 200, Volume: 100})

			t0 := fc.Now()
			next := 0
			push := func(n int) {
				for i := 0; i < n; i++ {
					h := audio.HeaderFromMicros(t0.Add(time.Duration(next)*20*time.Millisecond).UnixMicro(), len(pcmPayload), audio.CodecPCM)
					if _, err := p.WriteChunk(h, pcmPayload); err != nil {
						t.Fatalf("chunk %d: %v", next, err)
					}
					next++
				}
			}

			// chunks arrive in bursts that have nothing to do with the
			// device's pace
			push(250)
			waitFor(t, "deferred start", func() bool { return p.Stats().Holding })
			fc.Advance(200 * time.Millisecond)

			const writes, window = 5000, 1000
			frames := 0
			for w := 0; w < writes; w++ {
				select {
				case n := <-out.written:
					if w >= writes-window {
						frames += n
					}
				case <-time.After(2 * time.Second):
					t.Fatalf("output stalled after %d writes", w)
				}
				if p.pipeline.QueueDepth() < 50 {
					push(200)
				}
			}

			// frames in per frame out over the last window
			effective := float64(window*960) / float64(frames)
			if math.Abs(effective*tt.rate-1) > 2e-4 {
				t.Errorf("expected playback speed near %f, got %f", 1/tt.rate, effective)
			}

			stats := p.Stats()
			if stats.SyncState != playback.Synced {
				t.Errorf("expected Synced, got %v", stats.SyncState)
			}
			cfg := drift.DefaultConfig()
			if stats.SpeedFactor < cfg.FactorMin+0.01 || stats.SpeedFactor > cfg.FactorMax-0.01 {
				t.Errorf("speed factor %f pinned near its clamp", stats.SpeedFactor)
			}
			if stats.Pipeline.Overflows != 0 || stats.Pipeline.Dropped != 0 {
				t.Errorf("unexpected losses %+v", stats.Pipeline)
			}
		})
	}
}

func TestSupportedFormatsAreDecodable(t *testing.T) {
	formats := supportedFormats()
	if len(formats) == 0 {
		t.Fatal("expected at least one advertised format")
	}
	for _, f := range formats {
		c, err := audio.ParseCodec(f.Codec)
		if err != nil || !decode.Supported(c) {
			t.Errorf("advertised %s without a decoder", f.Codec)
		}
		if c == audio.CodecOGG || c == audio.CodecVorbis {
			t.Errorf("advertised %s", f.Codec)
		}
	}
}

func TestVolumeClamped(t *testing.T) {
	p, out, _ := newTestPlayer(t, nil)

	p.SetVolume(150)
	if out.volume != 100 || p.Status().Volume != 100 {
		t.Errorf("expected volume clamped to 100, got %d", out.volume)
	}
	p.SetVolume(-1)
	if out.volume != 0 {
		t.Errorf("expected volume clamped to 0, got %d", out.volume)
	}
}

func TestClose(t *testing.T) {
	fc := clockwork.NewFakeClock()
	out := &recordingOutput{}
	p, err := New(Config{Clock: fc, Output: out})
	if err != nil {
		t.Fatalf("failed to create player: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if !out.closed {
		t.Error("expected output to be closed")
	}
}
