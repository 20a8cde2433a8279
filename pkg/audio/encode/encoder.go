// ABOUTME: Encoder interface definition and codec factory
// ABOUTME: Produces wire payloads for the reference tone server and tests
package encode

import (
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/snapsync-go/pkg/audio"
)

// ErrUnsupportedCodec is returned for codecs without an encoder
var ErrUnsupportedCodec = errors.New("unsupported codec")

// Encoder encodes PCM int32 samples to various formats
type Encoder interface {
	// Encode converts PCM samples to encoded audio data
	Encode(samples []int32) ([]byte, error)

	// Close releases encoder resources
	Close() error
}

// New creates the encoder for format.Codec
func New(format audio.Format) (Encoder, error) {
	switch format.Codec {
	case audio.CodecPCM:
		return NewPCM(format)
	case audio.CodecOpus:
		return NewOpus(format)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, format.Codec)
	}
}
