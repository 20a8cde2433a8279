// ABOUTME: Linear resampler with a variable playback speed
// ABOUTME: Applies the drift correction factor to decoded PCM
package resample

import (
	"math"
	"sync"
)

// Resampler performs linear interpolation between consecutive frames.
// The last frame of each call is carried over so chunk boundaries are seamless.
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int

	mu        sync.Mutex
	baseRatio float64 // input frames per output frame at speed 1.0
	speed     float64
	position  float64 // index into [lastFrame, input...]
	lastFrame []int32
}

// New creates a resampler; equal rates give a pure speed adjuster
func New(inputRate, outputRate, channels int) *Resampler {
	if channels < 1 {
		channels = 1
	}
	r := &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		baseRatio:  float64(inputRate) / float64(outputRate),
		speed:      1.0,
		lastFrame:  make([]int32, channels),
	}
	r.position = 1.0
	return r
}

// SetSpeed sets the playback speed. Below 1.0 stretches audio, above compresses.
func (r *Resampler) SetSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	r.mu.Lock()
	r.speed = speed
	r.mu.Unlock()
}

// Speed returns the current playback speed
func (r *Resampler) Speed() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speed
}

// Resample converts interleaved input frames and returns the output frames
func (r *Resampler) Resample(input []int32) []int32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(input) / r.channels
	if frames == 0 {
		return nil
	}

	step := r.baseRatio * r.speed
	out := make([]int32, 0, (int(float64(frames)/step)+2)*r.channels)

	// frame i of the virtual sequence: 0 is the carried frame, i>0 is input[i-1]
	frame := func(i, ch int) int32 {
		if i == 0 {
			return r.lastFrame[ch]
		}
		return input[(i-1)*r.channels+ch]
	}

	for {
		idx := int(r.position)
		if idx >= frames {
			break
		}
		frac := r.position - float64(idx)
		for ch := 0; ch < r.channels; ch++ {
			s1 := float64(frame(idx, ch))
			s2 := float64(frame(idx+1, ch))
			out = append(out, int32(math.Round(s1+(s2-s1)*frac)))
		}
		r.position += step
	}

	// the last input frame becomes frame 0 of the next call
	r.position -= float64(frames)
	copy(r.lastFrame, input[(frames-1)*r.channels:frames*r.channels])

	return out
}

// Reset forgets the carried frame; the next call starts on its first frame
func (r *Resampler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.position = 1.0
	for i := range r.lastFrame {
		r.lastFrame[i] = 0
	}
}

// OutputSamplesNeeded estimates the output size for inputSamples at the current speed
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames) / (r.baseRatio * r.speed))
	return outputFrames * r.channels
}
