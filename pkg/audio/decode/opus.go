// ABOUTME: Opus audio decoder
// ABOUTME: Decodes Opus packets to int32 samples via libopus
package decode

import (
	"fmt"

	"github.com/Resonate-Protocol/snapsync-go/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusFrameMs is the longest frame an Opus packet can carry
const maxOpusFrameMs = 120

// OpusDecoder decodes one Opus packet per chunk
type OpusDecoder struct {
	decoder  *opus.Decoder
	channels int
	pcm      []int16 // reused between packets
}

// NewOpus creates a new Opus decoder
func NewOpus(format audio.Format) (Decoder, error) {
	if format.Codec != audio.CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus decoder: %s", format.Codec)
	}

	dec, err := opus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{
		decoder:  dec,
		channels: format.Channels,
		pcm:      make([]int16, format.SampleRate*maxOpusFrameMs/1000*format.Channels),
	}, nil
}

// Decode converts an Opus packet to int32 samples
func (d *OpusDecoder) Decode(data []byte) ([]int32, error) {
	frames, err := d.decoder.Decode(data, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}

	out := make([]int32, frames*d.channels)
	for i := range out {
		out[i] = audio.SampleFromInt16(d.pcm[i])
	}
	return out, nil
}

// Close releases decoder resources
func (d *OpusDecoder) Close() error {
	return nil
}
