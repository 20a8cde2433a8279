// ABOUTME: Audio encoder package for encoding PCM to wire payloads
// ABOUTME: Provides Encoder interface and implementations for PCM, Opus
// Package encode turns int32 samples (24-bit range) into chunk payloads.
//
// It is the mirror of package decode and feeds the reference tone server.
//
//	enc, err := encode.New(format)
//	payload, err := enc.Encode(samples)
package encode
