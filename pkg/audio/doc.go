// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines chunk headers, Format, Buffer types and sample conversions
// Package audio provides the data model shared by the playback controller and
// the decode/output pipeline.
//
//   - ChunkHeader: server timestamp (sec/usec), payload size and codec of a chunk
//   - Format: codec, sample rate, channels, bit depth and codec header
//   - Buffer: decoded PCM audio tagged with the header it came from
//
// Header arithmetic is in microseconds:
//
//	a := audio.ChunkHeader{Sec: 10, Usec: 500000}
//	b := audio.ChunkHeader{Sec: 10, Usec: 0}
//	a.Sub(b) // 500000
package audio
