// ABOUTME: Clock synchronization package
// ABOUTME: Provides NTP-style clock sync with the audio server
// Package sync provides the server-clock estimate used for precise audio timing.
//
// ClockSync consumes four-timestamp round trips (client/time, server/time) and
// tracks offset and drift. It satisfies ServerClock, the minimal contract the
// playback gate reads.
//
// Example:
//
//	cs := sync.NewClockSync(clockwork.NewRealClock())
//	cs.ProcessSyncResponse(t1, t2, t3, t4)
//	now := cs.ServerMillis()
package sync
