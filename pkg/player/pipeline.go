// ABOUTME: Decode, resample and output stages behind the playback gate
// ABOUTME: Runs the playback gate per buffer on the output goroutine
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/snapsync-go/pkg/audio"
	"github.com/Resonate-Protocol/snapsync-go/pkg/audio/decode"
	"github.com/Resonate-Protocol/snapsync-go/pkg/audio/output"
	"github.com/Resonate-Protocol/snapsync-go/pkg/audio/resample"
	"github.com/Resonate-Protocol/snapsync-go/pkg/playback"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// ErrNoStream is returned when audio arrives before stream/start
var ErrNoStream = errors.New("no active stream")

var _ playback.Pipeline = (*Pipeline)(nil)

// queueHeadroomMs is queue capacity beyond the longest deferred start
const queueHeadroomMs = 5000

// Gatekeeper rules on a buffer when the output is ready to consume it
type Gatekeeper interface {
	OnChunk(h audio.ChunkHeader) playback.Decision
}

// PipelineStats counts pipeline activity
type PipelineStats struct {
	Decoded      int64
	DecodeErrors int64
	Played       int64
	Dropped      int64
	Overflows    int64
	Flushed      int64
}

// Pipeline decodes chunks and plays them once the gate lets them through.
// Submit never blocks. The gate is consulted from the output goroutine as
// each buffer comes up, so the measured delay follows the device's pace.
type Pipeline struct {
	clock    clockwork.Clock
	out      output.Output
	hold     *playback.Hold
	observer *playback.RateObserver
	queue    *bufferQueue
	onError  func(error)

	gate     Gatekeeper
	onAccept func()

	// runMu serializes session changes against gate decisions
	runMu sync.Mutex

	mu        sync.Mutex
	session   uint64
	format    audio.Format
	decoder   decode.Decoder
	resampler *resample.Resampler
	speed     float64
	stats     PipelineStats
}

// NewPipeline creates a pipeline writing to out. queueMs bounds the audio
// held for output and must cover the longest deferred start.
func NewPipeline(clock clockwork.Clock, out output.Output, queueMs int64, rateWindow int, onError func(error)) *Pipeline {
	if queueMs <= 0 {
		queueMs = playback.DefaultMaxDelayMs + queueHeadroomMs
	}
	return &Pipeline{
		clock:    clock,
		out:      out,
		hold:     playback.NewHold(clock),
		observer: playback.NewRateObserver(rateWindow),
		queue:    newBufferQueue(queueMs),
		onError:  onError,
		speed:    1.0,
	}
}

// Attach sets the gate consulted per buffer and the callback run after an
// accepted buffer is played. Call before Run.
func (p *Pipeline) Attach(gate Gatekeeper, onAccept func()) {
	p.gate = gate
	p.onAccept = onAccept
}

// Start prepares decoder, resampler and device for format. On failure the
// previous stream is torn down and Ready reports false.
func (p *Pipeline) Start(format audio.Format) error {
	dec, err := decode.New(format)
	if err != nil {
		err = fmt.Errorf("failed to create decoder: %w", err)
	} else if openErr := p.out.Open(format.SampleRate, format.Channels, format.BitDepth); openErr != nil {
		dec.Close()
		dec = nil
		err = fmt.Errorf("failed to initialize output: %w", openErr)
	}

	p.runMu.Lock()
	defer p.runMu.Unlock()

	p.mu.Lock()
	p.session++
	if p.decoder != nil {
		p.decoder.Close()
	}
	if err != nil {
		p.format = audio.Format{}
		p.decoder = nil
		p.resampler = nil
	} else {
		p.format = format
		p.decoder = dec
		p.resampler = resample.New(format.SampleRate, format.SampleRate, format.Channels)
		p.resampler.SetSpeed(p.speed)
	}
	p.mu.Unlock()

	p.drain()
	p.observer.Reset()
	return err
}

// Submit decodes payload and queues it for output
func (p *Pipeline) Submit(h audio.ChunkHeader, payload []byte) error {
	p.mu.Lock()
	dec, format, session := p.decoder, p.format, p.session
	p.mu.Unlock()

	if dec == nil {
		return ErrNoStream
	}

	samples, err := dec.Decode(payload)
	if err != nil {
		p.mu.Lock()
		p.stats.DecodeErrors++
		p.mu.Unlock()
		return fmt.Errorf("decode error: %w", err)
	}

	ok := p.queue.push(queued{
		buf: audio.Buffer{
			Header:  h,
			Samples: samples,
			Format:  format,
		},
		session: session,
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Decoded++
	if !ok {
		p.stats.Overflows++
		log.Warnf("Output queue full (%.0fms), dropping chunk at %d.%06d", p.queue.limitMs, h.Sec, h.Usec)
	}
	return nil
}

// Run plays queued buffers until ctx is done. Each buffer is put to the gate
// when it reaches the head of the queue, i.e. once the previous write has been
// taken by the device.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		q, ok := p.queue.pop(ctx)
		if !ok {
			return
		}

		d, live := p.decide(q)
		if !live {
			continue
		}
		if d.Action == playback.Drop {
			p.mu.Lock()
			p.stats.Dropped++
			p.mu.Unlock()
			continue
		}

		select {
		case <-p.hold.Done():
		case <-ctx.Done():
			return
		}

		// a cancelled hold releases buffers of a session that has since ended
		p.mu.Lock()
		rs, stale := p.resampler, q.session != p.session
		if stale {
			p.stats.Flushed++
		}
		p.mu.Unlock()
		if stale || rs == nil {
			continue
		}

		samples := rs.Resample(q.buf.Samples)
		if err := p.out.Write(samples); err != nil {
			p.reportError(fmt.Errorf("playback error: %w", err))
			continue
		}

		q.buf.PlayAt = p.clock.Now()
		p.observer.Observe(q.buf.Header, q.buf.PlayAt)

		p.mu.Lock()
		p.stats.Played++
		p.mu.Unlock()

		if d.Action == playback.Accept && p.onAccept != nil {
			p.onAccept()
		}
	}
}

// decide asks the gate about q unless its session is gone
func (p *Pipeline) decide(q queued) (playback.Decision, bool) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	p.mu.Lock()
	stale := q.session != p.session
	if stale {
		p.stats.Flushed++
	}
	p.mu.Unlock()
	if stale {
		return playback.Decision{}, false
	}

	if p.gate == nil {
		return playback.Decision{Action: playback.Accept}, true
	}
	return p.gate.OnChunk(q.buf.Header), true
}

// Flush discards queued audio, e.g. on stream/clear
func (p *Pipeline) Flush() {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	p.mu.Lock()
	p.session++
	if p.resampler != nil {
		p.resampler.Reset()
	}
	p.mu.Unlock()

	p.drain()
	p.observer.Reset()
}

// drain must be called with runMu held
func (p *Pipeline) drain() {
	n := p.queue.drain()
	if n == 0 {
		return
	}
	p.mu.Lock()
	p.stats.Flushed += int64(n)
	p.mu.Unlock()
	log.Debugf("Flushed %d queued buffers", n)
}

// ArmDeferredStart implements playback.Pipeline
func (p *Pipeline) ArmDeferredStart(d time.Duration) {
	p.hold.Arm(d)
}

// CancelDeferredStart implements playback.Pipeline
func (p *Pipeline) CancelDeferredStart() {
	p.hold.Cancel()
}

// SpeedFactor implements playback.Pipeline
func (p *Pipeline) SpeedFactor() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed
}

// SetSpeedFactor implements playback.Pipeline
func (p *Pipeline) SetSpeedFactor(f float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speed = f
	if p.resampler != nil {
		p.resampler.SetSpeed(f)
	}
}

// Ready reports whether a stream has been started
func (p *Pipeline) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.decoder != nil
}

// Holding reports whether a deferred start is pending
func (p *Pipeline) Holding() bool {
	return p.hold.Active()
}

// ObservedRate returns the last local/server rate measurement
func (p *Pipeline) ObservedRate() float64 {
	return p.observer.Factor()
}

// QueueDepth returns the number of decoded buffers waiting for output
func (p *Pipeline) QueueDepth() int {
	return p.queue.len()
}

// QueuedMs returns the duration of audio waiting for output
func (p *Pipeline) QueuedMs() float64 {
	return p.queue.bufferedMs()
}

// Stats returns a snapshot of the counters
func (p *Pipeline) Stats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close releases the decoder and output
func (p *Pipeline) Close() error {
	p.hold.Cancel()
	p.Flush()

	p.mu.Lock()
	if p.decoder != nil {
		p.decoder.Close()
		p.decoder = nil
	}
	p.mu.Unlock()

	return p.out.Close()
}

func (p *Pipeline) reportError(err error) {
	if p.onError != nil {
		p.onError(err)
		return
	}
	log.Errorf("Pipeline error: %v", err)
}
