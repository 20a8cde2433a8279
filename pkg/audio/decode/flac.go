// ABOUTME: FLAC audio decoder
// ABOUTME: Decodes FLAC frames using the stream header sent at stream start
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/Resonate-Protocol/snapsync-go/pkg/audio"
	"github.com/mewkiz/flac"
)

// FLACDecoder decodes chunks of complete FLAC frames. Each chunk is parsed
// behind the stream header so frame headers can be checked against STREAMINFO.
type FLACDecoder struct {
	header   []byte
	channels int
	bitDepth int
}

// NewFLAC creates a FLAC decoder from format.CodecHeader ("fLaC" + STREAMINFO)
func NewFLAC(format audio.Format) (Decoder, error) {
	if format.Codec != audio.CodecFLAC {
		return nil, fmt.Errorf("invalid codec for FLAC decoder: %s", format.Codec)
	}
	if len(format.CodecHeader) == 0 {
		return nil, errors.New("flac stream header missing")
	}

	stream, err := flac.New(bytes.NewReader(format.CodecHeader))
	if err != nil {
		return nil, fmt.Errorf("invalid flac stream header: %w", err)
	}
	defer stream.Close()

	info := stream.Info
	if format.Channels != 0 && int(info.NChannels) != format.Channels {
		return nil, fmt.Errorf("flac header has %d channels, stream announced %d", info.NChannels, format.Channels)
	}

	return &FLACDecoder{
		header:   format.CodecHeader,
		channels: int(info.NChannels),
		bitDepth: int(info.BitsPerSample),
	}, nil
}

// Decode converts FLAC frames to interleaved int32 samples
func (d *FLACDecoder) Decode(data []byte) ([]int32, error) {
	stream, err := flac.New(io.MultiReader(bytes.NewReader(d.header), bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("flac stream setup failed: %w", err)
	}
	defer stream.Close()

	var out []int32
	for {
		f, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("flac decode failed: %w", err)
		}
		if len(f.Subframes) != d.channels {
			return nil, fmt.Errorf("flac frame has %d channels, expected %d", len(f.Subframes), d.channels)
		}

		n := len(f.Subframes[0].Samples)
		for i := 0; i < n; i++ {
			for _, sub := range f.Subframes {
				out = append(out, scaleTo24(sub.Samples[i], d.bitDepth))
			}
		}
	}
	return out, nil
}

// scaleTo24 moves a sample of the given depth into the 24-bit range
func scaleTo24(s int32, depth int) int32 {
	switch {
	case depth < 24:
		return s << uint(24-depth)
	case depth > 24:
		return s >> uint(depth-24)
	default:
		return s
	}
}

// Close releases resources
func (d *FLACDecoder) Close() error {
	return nil
}
