// ABOUTME: Decoder interface definition and codec factory
// ABOUTME: Common interface for all audio decoders
package decode

import (
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/snapsync-go/pkg/audio"
)

// ErrUnsupportedCodec is returned for codecs without a decoder
var ErrUnsupportedCodec = errors.New("unsupported codec")

// Decoder decodes audio in various formats to PCM int32 samples
type Decoder interface {
	// Decode converts encoded audio data to PCM samples
	Decode(data []byte) ([]int32, error)

	// Close releases decoder resources
	Close() error
}

// decoders maps each codec with a decoder to its constructor. OGG and Vorbis
// are part of the wire codec set but have no decoder here.
var decoders = map[audio.Codec]func(audio.Format) (Decoder, error){
	audio.CodecPCM:  NewPCM,
	audio.CodecOpus: NewOpus,
	audio.CodecFLAC: NewFLAC,
}

// Supported reports whether New can decode codec
func Supported(codec audio.Codec) bool {
	_, ok := decoders[codec]
	return ok
}

// New creates the decoder for format.Codec
func New(format audio.Format) (Decoder, error) {
	newDecoder, ok := decoders[format.Codec]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, format.Codec)
	}
	return newDecoder(format)
}
