// ABOUTME: Oto-based audio output implementation
// ABOUTME: Streams 16-bit PCM to the sound card with software volume
package output

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Resonate-Protocol/snapsync-go/pkg/audio"
	"github.com/ebitengine/oto/v3"
	log "github.com/sirupsen/logrus"
)

// ErrNotOpen is returned by Write before Open succeeds
var ErrNotOpen = errors.New("output not initialized")

// Oto output implementation using oto library.
// oto allows one context per process, so the first format opened sticks.
type Oto struct {
	otoCtx     *oto.Context
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	sampleRate int
	channels   int

	mu     sync.Mutex
	volume int
	muted  bool
}

// NewOto creates a new Oto output at full volume
func NewOto() *Oto {
	return &Oto{volume: 100}
}

// Open initializes the output device
func (o *Oto) Open(sampleRate, channels, bitDepth int) error {
	if bitDepth != 16 {
		log.Debugf("oto plays 16-bit output, converting from %d-bit", bitDepth)
	}

	if o.otoCtx != nil {
		if o.sampleRate != sampleRate || o.channels != channels {
			log.Warnf("Format change %dHz %dch -> %dHz %dch not supported by oto, keeping current device",
				o.sampleRate, o.channels, sampleRate, channels)
		}
		if o.pipeWriter == nil {
			o.startPlayer()
		}
		return nil
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	o.otoCtx = ctx
	o.sampleRate = sampleRate
	o.channels = channels
	o.startPlayer()

	log.Printf("Audio output initialized: %dHz, %d channels", sampleRate, channels)
	return nil
}

func (o *Oto) startPlayer() {
	o.pipeReader, o.pipeWriter = io.Pipe()
	o.player = o.otoCtx.NewPlayer(o.pipeReader)
	o.player.Play()
}

// Write outputs audio samples (blocks until the device accepts them)
func (o *Oto) Write(samples []int32) error {
	if o.pipeWriter == nil {
		return ErrNotOpen
	}

	o.mu.Lock()
	gain := volumeGain(o.volume, o.muted)
	o.mu.Unlock()

	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(audio.SampleToInt16(scaleSample(s, gain))))
	}

	if _, err := o.pipeWriter.Write(buf); err != nil {
		return fmt.Errorf("pipe write failed: %w", err)
	}
	return nil
}

// Buffered returns how much audio is queued inside the device player
func (o *Oto) Buffered() time.Duration {
	if o.player == nil || o.sampleRate == 0 || o.channels == 0 {
		return 0
	}
	frames := o.player.BufferedSize() / (2 * o.channels)
	return time.Duration(frames) * time.Second / time.Duration(o.sampleRate)
}

// Close stops playback. The oto context stays suspended for a later Open.
func (o *Oto) Close() error {
	if o.pipeWriter != nil {
		o.pipeWriter.Close()
		o.pipeWriter = nil
	}
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.pipeReader != nil {
		o.pipeReader.Close()
		o.pipeReader = nil
	}
	if o.otoCtx != nil {
		return o.otoCtx.Suspend()
	}
	return nil
}

// SetVolume sets the volume (0-100)
func (o *Oto) SetVolume(volume int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.volume = clampVolume(volume)
	log.Debugf("Volume set to %d", o.volume)
}

// SetMuted sets mute state
func (o *Oto) SetMuted(muted bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.muted = muted
	log.Debugf("Muted: %v", muted)
}

// Volume returns current volume and mute state
func (o *Oto) Volume() (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume, o.muted
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func volumeGain(volume int, muted bool) float64 {
	if muted {
		return 0
	}
	return float64(clampVolume(volume)) / 100
}

// scaleSample applies gain and clips to the 24-bit range
func scaleSample(s int32, gain float64) int32 {
	v := int64(float64(s) * gain)
	if v > audio.Max24Bit {
		return audio.Max24Bit
	}
	if v < audio.Min24Bit {
		return audio.Min24Bit
	}
	return int32(v)
}
