// ABOUTME: Audio output tests
// ABOUTME: Verifies interfaces and software volume without opening a device
package output

import (
	"errors"
	"testing"

	"github.com/Resonate-Protocol/snapsync-go/pkg/audio"
)

func TestOtoImplementsInterfaces(t *testing.T) {
	var _ Output = (*Oto)(nil)
	var _ VolumeControl = (*Oto)(nil)
}

func TestOtoWriteBeforeOpen(t *testing.T) {
	o := NewOto()
	if err := o.Write([]int32{1, 2}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen, got %v", err)
	}
	if o.Buffered() != 0 {
		t.Errorf("expected nothing buffered, got %v", o.Buffered())
	}
}

func TestOtoVolume(t *testing.T) {
	o := NewOto()

	o.SetVolume(150)
	if v, _ := o.Volume(); v != 100 {
		t.Errorf("expected volume clamped to 100, got %d", v)
	}

	o.SetVolume(-5)
	if v, _ := o.Volume(); v != 0 {
		t.Errorf("expected volume clamped to 0, got %d", v)
	}

	o.SetMuted(true)
	if _, m := o.Volume(); !m {
		t.Error("expected muted")
	}
}

func TestScaleSample(t *testing.T) {
	tests := []struct {
		name   string
		sample int32
		gain   float64
		want   int32
	}{
		{"unity", 1000, 1.0, 1000},
		{"half", 1000, 0.5, 500},
		{"muted", audio.Max24Bit, 0, 0},
		{"clip high", audio.Max24Bit, 2.0, audio.Max24Bit},
		{"clip low", audio.Min24Bit, 2.0, audio.Min24Bit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scaleSample(tt.sample, tt.gain); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestVolumeGain(t *testing.T) {
	if volumeGain(80, false) != 0.8 {
		t.Errorf("expected 0.8, got %f", volumeGain(80, false))
	}
	if volumeGain(80, true) != 0 {
		t.Error("expected 0 when muted")
	}
}
