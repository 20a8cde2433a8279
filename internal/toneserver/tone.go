// ABOUTME: Sine tone generator for the reference server
// ABOUTME: Produces interleaved int32 samples in the 24-bit range
package toneserver

import (
	"math"
)

// toneAmplitude is half of 24-bit full scale
const toneAmplitude = 0.5 * (1 << 23)

// Tone generates a continuous sine wave across calls to Read
type Tone struct {
	frequency   float64
	sampleRate  int
	channels    int
	sampleIndex uint64
}

// NewTone creates a tone generator
func NewTone(frequency float64, sampleRate, channels int) *Tone {
	return &Tone{
		frequency:  frequency,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// Read fills samples with whole frames and returns the number of samples written
func (t *Tone) Read(samples []int32) int {
	frames := len(samples) / t.channels

	for i := 0; i < frames; i++ {
		at := float64(t.sampleIndex+uint64(i)) / float64(t.sampleRate)
		v := int32(math.Sin(2*math.Pi*t.frequency*at) * toneAmplitude)
		for ch := 0; ch < t.channels; ch++ {
			samples[i*t.channels+ch] = v
		}
	}

	t.sampleIndex += uint64(frames)
	return frames * t.channels
}
