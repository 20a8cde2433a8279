// ABOUTME: High-level Player API for snapsync streaming
// ABOUTME: Wires transport, clock sync, playback gate and audio pipeline together
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/snapsync-go/internal/version"
	"github.com/Resonate-Protocol/snapsync-go/pkg/audio"
	"github.com/Resonate-Protocol/snapsync-go/pkg/audio/decode"
	"github.com/Resonate-Protocol/snapsync-go/pkg/audio/output"
	"github.com/Resonate-Protocol/snapsync-go/pkg/drift"
	"github.com/Resonate-Protocol/snapsync-go/pkg/playback"
	"github.com/Resonate-Protocol/snapsync-go/pkg/protocol"
	clocksync "github.com/Resonate-Protocol/snapsync-go/pkg/sync"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

const (
	initialSyncRounds  = 5
	initialSyncTimeout = 500 * time.Millisecond
	syncInterval       = time.Second
)

// Config holds player configuration
type Config struct {
	// ServerAddr is the server address (host:port)
	ServerAddr string

	// PlayerName is the display name for this player
	PlayerName string

	// Volume is the initial volume (0-100)
	Volume int

	DeviceInfo DeviceInfo

	// Drift tunes the default controller; ignored when Controller is set
	Drift drift.Config

	// MaxDelayMs bounds how far ahead a first chunk may be scheduled
	MaxDelayMs int64

	// RateWindow is the number of buffers per observed-rate measurement
	RateWindow int

	// QueueMs is the audio held for output. It defaults to MaxDelayMs plus
	// headroom; a smaller queue lowers MaxDelayMs to what it can hold.
	QueueMs int64

	// Optional collaborators; defaults are the real clock, oto and a Dynamic controller
	Clock      clockwork.Clock
	Output     output.Output
	Controller drift.Controller

	// OnStateChange is called when playback state changes
	OnStateChange func(State)

	// OnError is called when errors occur
	OnError func(error)
}

// DeviceInfo describes the player device
type DeviceInfo struct {
	ProductName     string
	Manufacturer    string
	SoftwareVersion string
}

// State describes the current player state
type State struct {
	State      string // "idle", "starting", "synchronized"
	Volume     int
	Muted      bool
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
	Connected  bool
}

// Stats contains playback statistics
type Stats struct {
	Gate         playback.Stats
	SyncState    playback.State
	SpeedFactor  float64
	ObservedRate float64
	StartDelayMs int64
	Holding      bool
	QueueDepth   int
	QueuedMs     float64
	Pipeline     PipelineStats
	SyncOffset   int64
	SyncRTT      int64
	SyncQuality  clocksync.Quality
}

// Player provides synchronized audio playback from a snapsync server
type Player struct {
	config Config

	clock     clockwork.Clock
	client    *protocol.Client
	clockSync *clocksync.ClockSync
	ctrl      drift.Controller
	gate      *playback.Gate
	pipeline  *Pipeline

	mu    sync.Mutex
	state State

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a player. Nothing touches the network until Connect.
func New(config Config) (*Player, error) {
	if config.Volume == 0 {
		config.Volume = 100
	}
	if config.DeviceInfo.ProductName == "" {
		config.DeviceInfo.ProductName = version.Product
	}
	if config.DeviceInfo.Manufacturer == "" {
		config.DeviceInfo.Manufacturer = version.Manufacturer
	}
	if config.DeviceInfo.SoftwareVersion == "" {
		config.DeviceInfo.SoftwareVersion = version.Version
	}
	if config.Drift == (drift.Config{}) {
		config.Drift = drift.DefaultConfig()
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Output == nil {
		config.Output = output.NewOto()
	}
	if config.Controller == nil {
		config.Controller = drift.NewDynamic(config.Drift)
	}
	config.MaxDelayMs, config.QueueMs = queueLimits(config.MaxDelayMs, config.QueueMs)

	ctx, cancel := context.WithCancel(context.Background())

	p := &Player{
		config:    config,
		clock:     config.Clock,
		clockSync: clocksync.NewClockSync(config.Clock),
		ctrl:      config.Controller,
		ctx:       ctx,
		cancel:    cancel,
		state: State{
			State:  "idle",
			Volume: config.Volume,
		},
	}

	p.pipeline = NewPipeline(config.Clock, config.Output, config.QueueMs, config.RateWindow, p.notifyError)
	p.gate = playback.NewGate(p.clockSync, p.ctrl, p.pipeline, playback.GateConfig{MaxDelayMs: config.MaxDelayMs})
	p.pipeline.Attach(p.gate, p.reportSyncState)

	if vc, ok := config.Output.(output.VolumeControl); ok {
		vc.SetVolume(config.Volume)
	}

	go p.pipeline.Run(ctx)

	return p, nil
}

// preferredFormats is the hello format list in order of preference
var preferredFormats = []protocol.AudioFormat{
	{Codec: "flac", Channels: 2, SampleRate: 48000, BitDepth: 24},
	{Codec: "flac", Channels: 2, SampleRate: 44100, BitDepth: 16},
	{Codec: "pcm", Channels: 2, SampleRate: 48000, BitDepth: 24},
	{Codec: "pcm", Channels: 2, SampleRate: 48000, BitDepth: 16},
	{Codec: "pcm", Channels: 2, SampleRate: 44100, BitDepth: 16},
	{Codec: "opus", Channels: 2, SampleRate: 48000, BitDepth: 16},
	{Codec: "vorbis", Channels: 2, SampleRate: 48000, BitDepth: 16},
	{Codec: "ogg", Channels: 2, SampleRate: 48000, BitDepth: 16},
}

// supportedFormats keeps the preferred formats this build can decode
func supportedFormats() []protocol.AudioFormat {
	var formats []protocol.AudioFormat
	for _, f := range preferredFormats {
		if c, err := audio.ParseCodec(f.Codec); err == nil && decode.Supported(c) {
			formats = append(formats, f)
		}
	}
	return formats
}

// queueLimits sizes the output queue so a deferred start never outgrows it
func queueLimits(maxDelayMs, queueMs int64) (int64, int64) {
	if maxDelayMs <= 0 {
		maxDelayMs = playback.DefaultMaxDelayMs
	}
	if queueMs <= 0 {
		return maxDelayMs, maxDelayMs + queueHeadroomMs
	}
	if queueMs < 2*queueHeadroomMs {
		queueMs = 2 * queueHeadroomMs
	}
	if limit := queueMs - queueHeadroomMs; maxDelayMs > limit {
		log.Warnf("Output queue of %dms limits deferred starts to %dms", queueMs, limit)
		maxDelayMs = limit
	}
	return maxDelayMs, queueMs
}

// Connect establishes connection to the server and performs initial setup
func (p *Player) Connect() error {
	p.client = protocol.NewClient(protocol.Config{
		ServerAddr: p.config.ServerAddr,
		ClientID:   uuid.New().String(),
		Name:       p.config.PlayerName,
		Version:    1,
		DeviceInfo: protocol.DeviceInfo{
			ProductName:     p.config.DeviceInfo.ProductName,
			Manufacturer:    p.config.DeviceInfo.Manufacturer,
			SoftwareVersion: p.config.DeviceInfo.SoftwareVersion,
		},
		SupportedFormats:  supportedFormats(),
		BufferCapacity:    1048576,
		SupportedCommands: []string{"volume", "mute"},
	})

	if err := p.client.Connect(); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	log.Printf("Connected to server: %s", p.config.ServerAddr)
	p.updateState(func(s *State) { s.Connected = true })

	p.performInitialSync()

	go p.handleMessages()
	go p.clockSyncLoop()

	return nil
}

// performInitialSync does several sync rounds before audio starts
func (p *Player) performInitialSync() {
	log.Printf("Performing initial clock synchronization...")

	for i := 0; i < initialSyncRounds; i++ {
		if err := p.client.SendTimeSync(p.clockSync.ClientMicros()); err != nil {
			log.Warnf("Initial sync round %d failed: %v", i+1, err)
			return
		}

		select {
		case resp := <-p.client.TimeSyncResp:
			p.processTimeSync(resp)
		case <-p.clock.After(initialSyncTimeout):
			log.Warnf("Initial sync round %d timeout", i+1)
		case <-p.ctx.Done():
			return
		}
	}

	offset, rtt, quality := p.clockSync.GetStats()
	log.Printf("Initial clock sync complete: offset=%dμs rtt=%dμs quality=%v", offset, rtt, quality)
}

func (p *Player) processTimeSync(resp protocol.ServerTime) {
	t4 := p.clockSync.ClientMicros()
	p.clockSync.ProcessSyncResponse(resp.ClientTransmitted, resp.ServerReceived, resp.ServerTransmitted, t4)
}

// clockSyncLoop keeps the server clock estimate fresh
func (p *Player) clockSyncLoop() {
	ticker := p.clock.NewTicker(syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			// stale responses would pair with the wrong t1
			drainStale(p.client.TimeSyncResp)
			if err := p.client.SendTimeSync(p.clockSync.ClientMicros()); err != nil {
				log.Debugf("Time sync request failed: %v", err)
			}
			if p.clockSync.CheckQuality() == clocksync.QualityLost {
				log.Warnf("Clock sync lost")
			}

		case resp := <-p.client.TimeSyncResp:
			p.processTimeSync(resp)

		case <-p.client.Done():
			return
		case <-p.ctx.Done():
			return
		}
	}
}

func drainStale(ch chan protocol.ServerTime) {
	for {
		select {
		case <-ch:
			log.Debugf("Discarded stale time sync response")
		default:
			return
		}
	}
}

// handleMessages is the single goroutine that feeds the pipeline
func (p *Player) handleMessages() {
	for {
		select {
		case start := <-p.client.StreamStart:
			format, err := start.Format()
			if err != nil {
				p.notifyError(fmt.Errorf("invalid stream/start: %w", err))
				continue
			}
			if err := p.StartStream(format); err != nil {
				p.notifyError(err)
			}

		case chunk := <-p.client.AudioChunks:
			if _, err := p.WriteChunk(chunk.Header, chunk.Data); err != nil && !errors.Is(err, ErrNoStream) {
				p.notifyError(err)
			}

		case <-p.client.StreamClear:
			p.ClearStream()

		case <-p.client.StreamEnd:
			p.EndStream()

		case settings := <-p.client.Settings:
			p.ApplySettings(settings)

		case cmd := <-p.client.Commands:
			switch cmd.Command {
			case "volume":
				p.SetVolume(cmd.Volume)
			case "mute":
				p.Mute(cmd.Mute)
			default:
				log.Debugf("Ignoring unknown command %q", cmd.Command)
			}

		case <-p.client.Done():
			p.EndStream()
			p.updateState(func(s *State) { s.Connected = false })
			return

		case <-p.ctx.Done():
			return
		}
	}
}

// StartStream begins a playback session for format
func (p *Player) StartStream(format audio.Format) error {
	log.Printf("Stream starting: %s %dHz %dch %dbit",
		format.Codec, format.SampleRate, format.Channels, format.BitDepth)

	if err := p.pipeline.Start(format); err != nil {
		p.gate.SessionEnd()
		p.updateState(func(s *State) {
			s.State = "idle"
			s.Codec = ""
			s.SampleRate = 0
			s.Channels = 0
			s.BitDepth = 0
		})
		return err
	}
	p.gate.SessionStart(format.SampleRate)

	p.updateState(func(s *State) {
		s.State = "starting"
		s.Codec = format.Codec.String()
		s.SampleRate = format.SampleRate
		s.Channels = format.Channels
		s.BitDepth = format.BitDepth
	})
	return nil
}

// WriteChunk decodes one chunk and queues it. The gate rules on it when the
// output reaches it; chunks it drops still count as written.
func (p *Player) WriteChunk(h audio.ChunkHeader, payload []byte) (int, error) {
	if !p.pipeline.Ready() {
		return 0, ErrNoStream
	}
	if err := p.pipeline.Submit(h, payload); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// ClearStream drops buffered audio and restarts synchronization
func (p *Player) ClearStream() {
	log.Printf("Stream cleared")
	p.pipeline.Flush()

	p.mu.Lock()
	rate := p.state.SampleRate
	p.mu.Unlock()

	p.gate.SessionStart(rate)
	p.updateState(func(s *State) {
		if s.State != "idle" {
			s.State = "starting"
		}
	})
}

// EndStream tears the session down
func (p *Player) EndStream() {
	p.pipeline.Flush()
	p.gate.SessionEnd()
	p.updateState(func(s *State) { s.State = "idle" })
}

// ApplySettings takes the server's buffer, latency and volume settings
func (p *Player) ApplySettings(s protocol.ServerSettings) {
	if setter, ok := p.ctrl.(drift.BufferDelaySetter); ok {
		setter.SetBufferDelay(s.StartDelayMs())
	}
	p.SetVolume(s.Volume)
	p.Mute(s.Muted)
}

// reportSyncState moves the reported state to follow the gate
func (p *Player) reportSyncState() {
	want := "starting"
	if p.gate.State() == playback.Synced {
		want = "synchronized"
	}

	p.mu.Lock()
	changed := p.state.State != want && p.state.State != "idle"
	p.mu.Unlock()

	if changed {
		p.updateState(func(s *State) { s.State = want })
	}
}

// SetVolume sets the volume (0-100)
func (p *Player) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}

	if vc, ok := p.config.Output.(output.VolumeControl); ok {
		vc.SetVolume(volume)
	}
	p.updateState(func(s *State) { s.Volume = volume })
}

// Mute sets the mute state
func (p *Player) Mute(muted bool) {
	if vc, ok := p.config.Output.(output.VolumeControl); ok {
		vc.SetMuted(muted)
	}
	p.updateState(func(s *State) { s.Muted = muted })
}

// Status returns the current player state
func (p *Player) Status() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns playback statistics
func (p *Player) Stats() Stats {
	offset, rtt, quality := p.clockSync.GetStats()
	return Stats{
		Gate:         p.gate.Stats(),
		SyncState:    p.gate.State(),
		SpeedFactor:  p.gate.CurrentSpeedFactor(),
		ObservedRate: p.pipeline.ObservedRate(),
		StartDelayMs: p.ctrl.StartDelay(),
		Holding:      p.pipeline.Holding(),
		QueueDepth:   p.pipeline.QueueDepth(),
		QueuedMs:     p.pipeline.QueuedMs(),
		Pipeline:     p.pipeline.Stats(),
		SyncOffset:   offset,
		SyncRTT:      rtt,
		SyncQuality:  quality,
	}
}

// Close closes the player and releases all resources
func (p *Player) Close() error {
	if p.client != nil {
		if p.client.IsConnected() {
			p.client.SendGoodbye("shutdown")
		}
		p.client.Close()
	}

	p.gate.SessionEnd()
	p.cancel()
	err := p.pipeline.Close()

	p.updateState(func(s *State) {
		s.Connected = false
		s.State = "idle"
	})
	return err
}

// updateState applies fn, notifies listeners and reports to the server
func (p *Player) updateState(fn func(*State)) {
	p.mu.Lock()
	before := p.state
	fn(&p.state)
	after := p.state
	p.mu.Unlock()

	if before == after {
		return
	}

	if p.config.OnStateChange != nil {
		p.config.OnStateChange(after)
	}

	if p.client != nil && p.client.IsConnected() {
		if err := p.client.SendState(protocol.ClientState{
			State:  after.State,
			Volume: after.Volume,
			Muted:  after.Muted,
		}); err != nil {
			log.Debugf("Failed to report state: %v", err)
		}
	}
}

// notifyError calls the OnError callback if set
func (p *Player) notifyError(err error) {
	if p.config.OnError != nil {
		p.config.OnError(err)
	} else {
		log.Errorf("Player error: %v", err)
	}
}
