// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides Output interface and an oto implementation
// Package output provides audio playback backends.
//
// Oto plays 16-bit PCM through the platform audio API and applies
// software volume before conversion.
//
// Example:
//
//	out := output.NewOto()
//	err := out.Open(48000, 2, 16)
//	err = out.Write(samples)
package output
