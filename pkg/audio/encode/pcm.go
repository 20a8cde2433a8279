// ABOUTME: PCM audio encoder
// ABOUTME: Packs int32 samples as little-endian 16-bit or 24-bit PCM
package encode

import (
	"encoding/binary"
	"fmt"

	"github.com/Resonate-Protocol/snapsync-go/pkg/audio"
)

// PCMEncoder encodes PCM audio
type PCMEncoder struct {
	bytesPerSample int
}

// NewPCM creates a new PCM encoder
func NewPCM(format audio.Format) (Encoder, error) {
	if format.Codec != audio.CodecPCM {
		return nil, fmt.Errorf("invalid codec for PCM encoder: %s", format.Codec)
	}
	if format.BitDepth != 16 && format.BitDepth != 24 {
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", format.BitDepth)
	}

	return &PCMEncoder{bytesPerSample: format.BitDepth / 8}, nil
}

// Encode converts int32 samples to PCM bytes
func (e *PCMEncoder) Encode(samples []int32) ([]byte, error) {
	out := make([]byte, len(samples)*e.bytesPerSample)

	if e.bytesPerSample == 3 {
		for i, sample := range samples {
			b := audio.SampleTo24Bit(sample)
			copy(out[i*3:], b[:])
		}
		return out, nil
	}

	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(audio.SampleToInt16(sample)))
	}
	return out, nil
}

// Close releases resources
func (e *PCMEncoder) Close() error {
	return nil
}
