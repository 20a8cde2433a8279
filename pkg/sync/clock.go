// ABOUTME: Clock synchronization with drift compensation
// ABOUTME: Maps local monotonic time onto the server timeline for playback decisions
package sync

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// ServerClock is the server-time estimate consumed by the playback gate
type ServerClock interface {
	// ServerMillis returns the current estimate of server time in milliseconds
	ServerMillis() int64

	// ToMillis converts a chunk header timestamp to the ServerMillis timeline
	ToMillis(sec, usec int32) int64
}

const (
	maxSyncRTT      = 100000 // µs; samples above this are congestion
	maxSyncResidual = 50000  // µs; larger residuals look like clock jumps
	goodSyncRTT     = 50000  // µs
	syncLostAfter   = 5 * time.Second
)

// ClockSync manages clock synchronization with drift compensation
type ClockSync struct {
	clock clockwork.Clock

	mu             sync.RWMutex
	offset         int64   // Current offset in microseconds (server - client)
	drift          float64 // Clock drift rate (dimensionless: μs/μs)
	rawOffset      int64   // Latest raw offset measurement
	rtt            int64   // Latest round-trip time
	quality        Quality
	lastSync       time.Time
	lastSyncMicros int64 // Client time (μs) when offset/drift were last updated
	sampleCount    int
	smoothingRate  float64
}

// Quality represents sync quality
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

// NewClockSync creates a new clock synchronizer reading local time from clock.
// A nil clock uses the real wall clock.
func NewClockSync(clock clockwork.Clock) *ClockSync {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ClockSync{
		clock:         clock,
		smoothingRate: 0.1, // 10% weight to new samples
		quality:       QualityLost,
	}
}

// ProcessSyncResponse processes a server/time response with drift compensation.
// t1/t4 are client send/receive times, t2/t3 server receive/send times (µs).
func (cs *ClockSync) ProcessSyncResponse(t1, t2, t3, t4 int64) {
	rtt, measuredOffset := calculateOffset(t1, t2, t3, t4)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.rtt = rtt
	cs.rawOffset = measuredOffset
	cs.lastSync = cs.clock.Now()

	if rtt > maxSyncRTT {
		log.Debugf("Discarding sync sample: high RTT %dμs", rtt)
		return
	}

	// First sync: initialize offset, no drift yet
	if cs.sampleCount == 0 {
		cs.offset = measuredOffset
		cs.lastSyncMicros = t4
		cs.sampleCount++
		cs.quality = qualityFor(rtt)
		log.Printf("Initial sync: offset=%dμs, rtt=%dμs", cs.offset, rtt)
		return
	}

	dt := float64(t4 - cs.lastSyncMicros)
	if dt <= 0 {
		log.Debugf("Discarding sync sample: non-monotonic time")
		return
	}

	// Second sync: calculate initial drift
	if cs.sampleCount == 1 {
		cs.drift = float64(measuredOffset-cs.offset) / dt
		cs.offset = measuredOffset
		cs.lastSyncMicros = t4
		cs.sampleCount++
		cs.quality = qualityFor(rtt)
		log.Debugf("Second sync: offset=%dμs, drift=%.9f, rtt=%dμs", cs.offset, cs.drift, rtt)
		return
	}

	predictedOffset := cs.offset + int64(cs.drift*dt)
	residual := measuredOffset - predictedOffset

	if residual > maxSyncResidual || residual < -maxSyncResidual {
		log.Warnf("Discarding sync sample: large residual %dμs (possible clock jump)", residual)
		return
	}

	// Fixed-gain Kalman update of offset and drift
	cs.offset = predictedOffset + int64(cs.smoothingRate*float64(residual))
	cs.drift += cs.smoothingRate * float64(residual) / dt
	cs.lastSyncMicros = t4
	cs.sampleCount++
	cs.quality = qualityFor(rtt)

	if cs.sampleCount < 10 {
		log.Debugf("Sync #%d: offset=%dμs, drift=%.9f, residual=%dμs, rtt=%dμs",
			cs.sampleCount, cs.offset, cs.drift, residual, rtt)
	}
}

// SetOffset replaces the estimate with a directly measured offset (µs).
// Drift is cleared; the next ProcessSyncResponse re-estimates it.
func (cs *ClockSync) SetOffset(offsetMicros int64) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.offset = offsetMicros
	cs.rawOffset = offsetMicros
	cs.drift = 0
	cs.lastSync = cs.clock.Now()
	cs.lastSyncMicros = cs.lastSync.UnixMicro()
	cs.sampleCount = 1
	cs.quality = QualityGood
}

func qualityFor(rtt int64) Quality {
	if rtt < goodSyncRTT {
		return QualityGood
	}
	return QualityDegraded
}

// calculateOffset computes RTT and clock offset
func calculateOffset(t1, t2, t3, t4 int64) (rtt, offset int64) {
	rtt = (t4 - t1) - (t3 - t2)
	// positive = server ahead of client
	offset = ((t2 - t1) + (t3 - t4)) / 2
	return
}

// GetOffset returns the current offset
func (cs *ClockSync) GetOffset() int64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.offset
}

// GetStats returns sync statistics
func (cs *ClockSync) GetStats() (offset, rtt int64, quality Quality) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.offset, cs.rtt, cs.quality
}

// CheckQuality updates quality based on time since last sync
func (cs *ClockSync) CheckQuality() Quality {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.clock.Since(cs.lastSync) > syncLostAfter {
		cs.quality = QualityLost
	}

	return cs.quality
}

// ClientMicros returns raw client time in microseconds.
// Only for the sync exchange itself; use ServerMicros for playback.
func (cs *ClockSync) ClientMicros() int64 {
	return cs.clock.Now().UnixMicro()
}

// ServerMicros returns current time in the server's reference frame,
// accounting for both offset and drift.
func (cs *ClockSync) ServerMicros() int64 {
	clientNow := cs.ClientMicros()

	cs.mu.RLock()
	defer cs.mu.RUnlock()

	// Before the first sync, server time = client time
	if cs.sampleCount == 0 {
		return clientNow
	}

	// server_time = client_time + offset + drift * (client_time - last_sync)
	dt := clientNow - cs.lastSyncMicros
	return clientNow + cs.offset + int64(cs.drift*float64(dt))
}

// ServerMillis implements ServerClock
func (cs *ClockSync) ServerMillis() int64 {
	return cs.ServerMicros() / 1000
}

// ToMillis implements ServerClock. Chunk headers are already in server time.
func (cs *ClockSync) ToMillis(sec, usec int32) int64 {
	return int64(sec)*1000 + int64(usec)/1000
}
