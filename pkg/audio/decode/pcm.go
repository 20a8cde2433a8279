// ABOUTME: PCM audio decoder
// ABOUTME: Unpacks little-endian 16-bit and 24-bit PCM into int32 samples
package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/Resonate-Protocol/snapsync-go/pkg/audio"
)

// PCMDecoder decodes raw interleaved PCM
type PCMDecoder struct {
	bytesPerSample int
	frameBytes     int
}

// NewPCM creates a new PCM decoder
func NewPCM(format audio.Format) (Decoder, error) {
	if format.Codec != audio.CodecPCM {
		return nil, fmt.Errorf("invalid codec for PCM decoder: %s", format.Codec)
	}
	if format.BitDepth != 16 && format.BitDepth != 24 {
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", format.BitDepth)
	}

	channels := format.Channels
	if channels < 1 {
		channels = 1
	}
	bps := format.BitDepth / 8
	return &PCMDecoder{
		bytesPerSample: bps,
		frameBytes:     bps * channels,
	}, nil
}

// Decode converts PCM bytes to int32 samples. A trailing partial frame is an error.
func (d *PCMDecoder) Decode(data []byte) ([]int32, error) {
	if len(data)%d.frameBytes != 0 {
		return nil, fmt.Errorf("pcm chunk of %d bytes is not a whole number of %d-byte frames", len(data), d.frameBytes)
	}

	n := len(data) / d.bytesPerSample
	samples := make([]int32, n)

	switch d.bytesPerSample {
	case 3:
		for i := range samples {
			o := i * 3
			samples[i] = audio.SampleFrom24Bit([3]byte{data[o], data[o+1], data[o+2]})
		}
	default:
		for i := range samples {
			samples[i] = audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(data[i*2:])))
		}
	}
	return samples, nil
}

// Close releases resources
func (d *PCMDecoder) Close() error {
	return nil
}
