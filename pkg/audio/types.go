// ABOUTME: Audio type definitions
// ABOUTME: Defines chunk headers, codecs, formats and decoded buffers
package audio

import (
	"fmt"
	"strings"
	"time"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23

	// MicrosPerSecond is the usec range of a chunk header
	MicrosPerSecond = 1_000_000
)

// Codec identifies the encoding of a chunk payload
type Codec int

const (
	CodecNone Codec = iota
	CodecPCM
	CodecFLAC
	CodecOGG
	CodecOpus
	CodecVorbis
)

var codecNames = map[Codec]string{
	CodecNone:   "none",
	CodecPCM:    "pcm",
	CodecFLAC:   "flac",
	CodecOGG:    "ogg",
	CodecOpus:   "opus",
	CodecVorbis: "vorbis",
}

func (c Codec) String() string {
	if name, ok := codecNames[c]; ok {
		return name
	}
	return fmt.Sprintf("codec(%d)", int(c))
}

// ParseCodec maps a wire codec name to a Codec
func ParseCodec(name string) (Codec, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for c, n := range codecNames {
		if n == lower {
			return c, nil
		}
	}
	return CodecNone, fmt.Errorf("unknown codec: %q", name)
}

// ChunkHeader is the server-side timestamp and size of one audio chunk.
// Sec/Usec are in server clock units.
type ChunkHeader struct {
	Sec   int32
	Usec  int32
	Size  int
	Codec Codec
}

// HeaderFromMicros splits a server timestamp in microseconds into a header
func HeaderFromMicros(ts int64, size int, codec Codec) ChunkHeader {
	sec := ts / MicrosPerSecond
	usec := ts % MicrosPerSecond
	if usec < 0 {
		sec--
		usec += MicrosPerSecond
	}
	return ChunkHeader{
		Sec:   int32(sec),
		Usec:  int32(usec),
		Size:  size,
		Codec: codec,
	}
}

// Micros returns the header timestamp in microseconds
func (h ChunkHeader) Micros() int64 {
	return int64(h.Sec)*MicrosPerSecond + int64(h.Usec)
}

// Sub returns h - other in microseconds (signed)
func (h ChunkHeader) Sub(other ChunkHeader) int64 {
	return (int64(h.Sec)-int64(other.Sec))*MicrosPerSecond + int64(h.Usec) - int64(other.Usec)
}

// Valid reports whether usec is within [0, 1s)
func (h ChunkHeader) Valid() bool {
	return h.Usec >= 0 && h.Usec < MicrosPerSecond
}

// Format describes audio stream format
type Format struct {
	Codec       Codec
	SampleRate  int
	Channels    int
	BitDepth    int
	CodecHeader []byte // For FLAC, Opus, etc.
}

// FrameSize returns the number of interleaved samples covering d
func (f Format) FrameSize(d time.Duration) int {
	return int(int64(f.SampleRate)*int64(d)/int64(time.Second)) * f.Channels
}

// Buffer represents decoded PCM audio
type Buffer struct {
	Header  ChunkHeader // Server timestamp of the source chunk
	PlayAt  time.Time   // Local time the buffer was handed to the output
	Samples []int32     // PCM samples (int32 to support both 16-bit and 24-bit)
	Format  Format
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}
