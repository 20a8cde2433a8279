// ABOUTME: Drift correction package
// ABOUTME: Speed-factor controllers fed with measured playback delays
// Package drift turns a stream of measured playback delays into a playback
// speed factor that drives long-run drift toward zero.
//
// Controllers are strategies injected into the playback gate:
//
//	ctrl := drift.NewDynamic(drift.DefaultConfig())
//	ctrl.Begin(48000)
//	ctrl.UpdateActualDelay(delayMs)
//	if ctrl.IsSync() {
//	    resampler.SetSpeed(ctrl.Factor())
//	}
//
// The factor never leaves [FactorMin, FactorMax] and moves at most
// MaxFactorStep per update so corrections stay inaudible.
package drift
