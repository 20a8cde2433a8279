// ABOUTME: Playback gate package
// ABOUTME: Session state machine between the transport and the audio pipeline
// Package playback decides, per timestamped chunk, whether it is played,
// held back or discarded, and steers the audio pipeline's speed factor.
//
// The gate computes
//
//	delay = ToMillis(header) - ServerMillis() + StartDelay()
//
// and on the first chunk of a session arms a deferred start of that many
// milliseconds. Later chunks feed the delay to a drift.Controller whose
// factor is pushed to the Pipeline whenever it changes.
//
// OnChunk belongs where the output takes each chunk, so every delay sample
// already reflects the factor in force.
package playback
