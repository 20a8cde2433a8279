// ABOUTME: Audio engine for the reference tone server
// ABOUTME: Encodes the tone in fixed chunks and broadcasts timestamped audio to clients
package toneserver

import (
	"sync"
	"time"

	"github.com/Resonate-Protocol/snapsync-go/pkg/audio"
	"github.com/Resonate-Protocol/snapsync-go/pkg/audio/encode"
	"github.com/Resonate-Protocol/snapsync-go/pkg/protocol"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// ChunkDuration is the audio carried by one binary message
const ChunkDuration = 20 * time.Millisecond

// Engine generates one chunk per tick and fans it out to every client
type Engine struct {
	clock   clockwork.Clock
	now     func() int64 // server clock, µs
	format  audio.Format
	tone    *Tone
	encoder encode.Encoder
	samples []int32

	clients   map[string]*Client
	clientsMu sync.RWMutex

	chunks int64

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewEngine creates an engine producing format from a tone at frequency
func NewEngine(clock clockwork.Clock, now func() int64, format audio.Format, frequency float64) (*Engine, error) {
	encoder, err := encode.New(format)
	if err != nil {
		return nil, err
	}

	return &Engine{
		clock:    clock,
		now:      now,
		format:   format,
		tone:     NewTone(frequency, format.SampleRate, format.Channels),
		encoder:  encoder,
		samples:  make([]int32, format.FrameSize(ChunkDuration)),
		clients:  make(map[string]*Client),
		stopChan: make(chan struct{}),
	}, nil
}

// Run produces chunks until Stop
func (e *Engine) Run() {
	log.Printf("Audio engine starting: %s %dHz %dch",
		e.format.Codec, e.format.SampleRate, e.format.Channels)

	ticker := e.clock.NewTicker(ChunkDuration)
	defer ticker.Stop()
	defer func() {
		if err := e.encoder.Close(); err != nil {
			log.Warnf("Encoder close failed: %v", err)
		}
	}()

	for {
		select {
		case <-ticker.Chan():
			e.generateAndSendChunk()
		case <-e.stopChan:
			log.Printf("Audio engine stopping")
			return
		}
	}
}

// Stop ends Run, which releases the encoder
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
	})
}

// StreamStart is the announcement sent to each new client
func (e *Engine) StreamStart() protocol.StreamStart {
	return protocol.StreamStart{
		Codec:      e.format.Codec.String(),
		SampleRate: e.format.SampleRate,
		Channels:   e.format.Channels,
		BitDepth:   e.format.BitDepth,
	}
}

// AddClient starts streaming to client
func (e *Engine) AddClient(client *Client) {
	e.clientsMu.Lock()
	e.clients[client.ID] = client
	e.clientsMu.Unlock()

	log.Printf("Audio engine: added client %s", client.Name)
}

// RemoveClient stops streaming to client
func (e *Engine) RemoveClient(client *Client) {
	e.clientsMu.Lock()
	delete(e.clients, client.ID)
	e.clientsMu.Unlock()

	log.Printf("Audio engine: removed client %s", client.Name)
}

// generateAndSendChunk stamps the chunk with its capture time; clients add
// their own buffer delay before playing it
func (e *Engine) generateAndSendChunk() {
	captured := e.now()

	n := e.tone.Read(e.samples)
	payload, err := e.encoder.Encode(e.samples[:n])
	if err != nil {
		log.Errorf("Encode failed: %v", err)
		return
	}

	e.chunks++
	if e.chunks%500 == 0 {
		log.Debugf("Generated %d chunks, server_time=%d", e.chunks, captured)
	}

	msg := protocol.EncodeAudioChunk(captured, payload)

	e.clientsMu.RLock()
	defer e.clientsMu.RUnlock()

	for _, client := range e.clients {
		if err := client.sendBinary(msg); err != nil {
			log.Debugf("Dropping chunk for %s: %v", client.Name, err)
		}
	}
}
