// ABOUTME: Unit tests for the PCM and Opus encoders
// ABOUTME: Checks constructor validation and round trips through the decoders
package encode

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/Resonate-Protocol/snapsync-go/pkg/audio"
	"github.com/Resonate-Protocol/snapsync-go/pkg/audio/decode"
)

func format(codec audio.Codec, bitDepth int) audio.Format {
	return audio.Format{Codec: codec, SampleRate: 48000, Channels: 2, BitDepth: bitDepth}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		format      audio.Format
		errContains string
	}{
		{"pcm 16-bit", format(audio.CodecPCM, 16), ""},
		{"pcm 24-bit", format(audio.CodecPCM, 24), ""},
		{"opus", format(audio.CodecOpus, 16), ""},
		{"pcm 32-bit", format(audio.CodecPCM, 32), "unsupported bit depth"},
		{"flac", format(audio.CodecFLAC, 16), "unsupported codec"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := New(tt.format)
			if tt.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("expected error containing %q, got %v", tt.errContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			enc.Close()
		})
	}

	if _, err := New(format(audio.CodecVorbis, 16)); !errors.Is(err, ErrUnsupportedCodec) {
		t.Errorf("expected ErrUnsupportedCodec, got %v", err)
	}
}

func TestConstructorsRejectWrongCodec(t *testing.T) {
	if _, err := NewPCM(format(audio.CodecOpus, 16)); err == nil {
		t.Error("expected NewPCM to reject opus")
	}
	if _, err := NewOpus(format(audio.CodecPCM, 16)); err == nil {
		t.Error("expected NewOpus to reject pcm")
	}
}

func TestPCMRoundTrip(t *testing.T) {
	tests := []struct {
		bitDepth int
		samples  []int32
	}{
		{16, []int32{0, 0x7FFF00, -0x800000, 0x123400, -0x567800, 256}},
		{24, []int32{0, 0x7FFFFF, -0x800000, 0x123456, -0x567890, 1}},
	}

	for _, tt := range tests {
		f := format(audio.CodecPCM, tt.bitDepth)
		enc, _ := NewPCM(f)
		dec, _ := decode.NewPCM(f)

		data, err := enc.Encode(tt.samples)
		if err != nil {
			t.Fatalf("%d-bit encode failed: %v", tt.bitDepth, err)
		}
		if len(data) != len(tt.samples)*tt.bitDepth/8 {
			t.Errorf("%d-bit: expected %d bytes, got %d", tt.bitDepth, len(tt.samples)*tt.bitDepth/8, len(data))
		}

		got, err := dec.Decode(data)
		if err != nil {
			t.Fatalf("%d-bit decode failed: %v", tt.bitDepth, err)
		}
		for i := range tt.samples {
			if got[i] != tt.samples[i] {
				t.Errorf("%d-bit sample %d: got %#x, want %#x", tt.bitDepth, i, got[i], tt.samples[i])
			}
		}
	}
}

func TestOpusEncodeFrame(t *testing.T) {
	f := format(audio.CodecOpus, 16)
	enc, err := NewOpus(f)
	if err != nil {
		t.Fatalf("NewOpus failed: %v", err)
	}
	defer enc.Close()

	// 20ms of a 440Hz tone
	samples := make([]int32, 960*2)
	for i := 0; i < 960; i++ {
		v := int32(math.Sin(2*math.Pi*440*float64(i)/48000) * 0x200000)
		samples[i*2], samples[i*2+1] = v, v
	}

	first, err := enc.Encode(samples)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if len(first) == 0 || len(first) > maxPacketSize {
		t.Fatalf("unexpected packet size %d", len(first))
	}

	// packets must not alias the encoder's scratch buffer
	kept := append([]byte(nil), first...)
	if _, err := enc.Encode(make([]int32, 960*2)); err != nil {
		t.Fatalf("second encode failed: %v", err)
	}
	if string(first) != string(kept) {
		t.Error("earlier packet was overwritten by a later encode")
	}

	dec, err := decode.NewOpus(f)
	if err != nil {
		t.Fatalf("NewOpus decoder failed: %v", err)
	}
	defer dec.Close()

	pcm, err := dec.Decode(first)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(pcm) != len(samples) {
		t.Errorf("expected %d decoded samples, got %d", len(samples), len(pcm))
	}
}
