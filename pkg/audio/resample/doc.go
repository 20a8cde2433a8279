// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts sample rates and applies playback speed corrections
// Package resample provides sample rate conversion with an adjustable
// playback speed.
//
// The speed is the drift correction factor: at 0.999 a chunk yields
// slightly more output frames than it holds, at 1.001 slightly fewer.
//
// Example:
//
//	r := resample.New(48000, 48000, 2)
//	r.SetSpeed(ctrl.Factor())
//	out := r.Resample(samples)
package resample
