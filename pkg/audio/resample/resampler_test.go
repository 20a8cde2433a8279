// ABOUTME: Tests for the variable-speed resampler
// ABOUTME: Tests output length at different speeds and chunk-boundary continuity
package resample

import (
	"testing"
)

func ramp(frames, channels, start int) []int32 {
	out := make([]int32, frames*channels)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			out[i*channels+ch] = int32((start + i) * 100)
		}
	}
	return out
}

func TestResampleSpeed(t *testing.T) {
	tests := []struct {
		name  string
		speed float64
	}{
		{"nominal", 1.0},
		{"faster", 1.1},
		{"slower", 0.9},
		{"slight drift", 0.999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(48000, 48000, 2)
			r.SetSpeed(tt.speed)

			totalIn, totalOut := 0, 0
			for c := 0; c < 50; c++ {
				in := ramp(480, 2, c*480)
				out := r.Resample(in)
				totalIn += len(in) / 2
				totalOut += len(out) / 2
			}

			want := float64(totalIn) / tt.speed
			if diff := float64(totalOut) - want; diff < -2 || diff > 2 {
				t.Errorf("expected ~%.0f frames, got %d", want, totalOut)
			}
		})
	}
}

func TestResampleNominalIsIdentity(t *testing.T) {
	r := New(48000, 48000, 2)

	first := r.Resample(ramp(100, 2, 0))
	if len(first) != 99*2 {
		t.Fatalf("expected first call to hold back one frame, got %d samples", len(first))
	}

	second := r.Resample(ramp(100, 2, 100))
	if len(second) != 100*2 {
		t.Fatalf("expected 200 samples, got %d", len(second))
	}

	// frame 0 of the second call is the last frame of the first
	if second[0] != 99*100 || second[2] != 100*100 {
		t.Errorf("expected seamless continuation, got %d, %d", second[0], second[2])
	}
}

func TestResampleInterpolates(t *testing.T) {
	r := New(48000, 48000, 1)
	r.SetSpeed(0.5)

	out := r.Resample([]int32{0, 100, 200})

	// starts at frame 1 of [carried, 0, 100, 200] and steps half a frame
	want := []int32{0, 50, 100, 150}
	if len(out) != len(want) {
		t.Fatalf("expected %v, got %v", want, out)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], out[i])
		}
	}
}

func TestResampleRateConversion(t *testing.T) {
	r := New(44100, 48000, 2)

	totalOut := 0
	for c := 0; c < 10; c++ {
		totalOut += len(r.Resample(ramp(441, 2, c*441))) / 2
	}

	// 4410 input frames at 44.1kHz is 100ms, 4800 frames at 48kHz
	if totalOut < 4795 || totalOut > 4801 {
		t.Errorf("expected ~4800 frames, got %d", totalOut)
	}
}

func TestResampleReset(t *testing.T) {
	r := New(48000, 48000, 1)
	r.SetSpeed(1.05)
	r.Resample(ramp(100, 1, 0))
	r.Reset()

	out := r.Resample([]int32{7, 8})
	if len(out) == 0 || out[0] != 7 {
		t.Errorf("expected output to restart at first frame, got %v", out)
	}
	if r.Speed() != 1.05 {
		t.Errorf("reset must keep speed, got %f", r.Speed())
	}
}

func TestSetSpeedIgnoresInvalid(t *testing.T) {
	r := New(48000, 48000, 2)
	r.SetSpeed(0)
	r.SetSpeed(-1)
	if r.Speed() != 1.0 {
		t.Errorf("expected speed 1.0, got %f", r.Speed())
	}
	if r.Resample(nil) != nil {
		t.Error("expected nil output for empty input")
	}
	if n := r.OutputSamplesNeeded(960); n != 960 {
		t.Errorf("expected 960, got %d", n)
	}
}
