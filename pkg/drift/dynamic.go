// ABOUTME: Proportional-integral drift controller
// ABOUTME: Smooths delay samples and moves the speed factor at a bounded rate
package drift

import (
	"math"

	log "github.com/sirupsen/logrus"
)

// Dynamic is a PI controller on the smoothed deviation of the measured delay
// from a reference captured at the start of the session.
//
// Delays above the reference mean output is running ahead, so the factor drops
// below 1.0; delays below the reference speed playback up.
type Dynamic struct {
	startDelay
	cfg Config

	started    bool
	sampleRate int
	count      int // samples since the last (re)anchor

	refSum    float64
	refSqSum  float64
	reference float64
	smoothed  float64
	jitter    float64 // EMA of squared sample deviation, ms²
	integral  float64
	factor    float64
	stableRun int
	synced    bool
}

// NewDynamic creates a controller with cfg
func NewDynamic(cfg Config) *Dynamic {
	d := &Dynamic{
		cfg:    cfg,
		factor: 1.0,
	}
	d.extraMs = cfg.StartDelayMs
	d.lagMs = cfg.ProcessingLagMs
	return d
}

// Begin implements Controller
func (d *Dynamic) Begin(sampleRate int) {
	d.started = true
	d.sampleRate = sampleRate
	d.factor = 1.0
	d.reanchor()
}

func (d *Dynamic) reanchor() {
	d.count = 0
	d.refSum = 0
	d.refSqSum = 0
	d.reference = 0
	d.smoothed = 0
	d.jitter = 0
	d.integral = 0
	d.stableRun = 0
	d.synced = false
}

// UpdateActualDelay implements Controller
func (d *Dynamic) UpdateActualDelay(delayMs int64) {
	if !d.started {
		panic(ErrNotStarted)
	}

	sample := float64(delayMs)
	d.count++

	warmup := d.cfg.WarmupSamples
	settle := warmup + d.cfg.SettleSamples

	switch {
	case d.count <= warmup:
		return
	case d.count <= settle:
		n := float64(d.count - warmup)
		d.refSum += sample
		d.refSqSum += sample * sample
		d.reference = d.refSum / n
		d.smoothed = d.reference
		d.jitter = math.Max(d.refSqSum/n-d.reference*d.reference, 0)
		return
	}

	if math.Abs(sample-d.smoothed) > d.cfg.JumpThresholdMs {
		log.Warnf("Delay jumped from %.1fms to %dms, re-anchoring", d.smoothed, delayMs)
		d.reanchor()
		// the current sample is dropped; the next ones form a fresh window
		d.count = warmup
		return
	}

	dev := sample - d.smoothed
	d.smoothed += d.cfg.Smoothing * dev

	if math.Abs(d.cfg.Smoothing*dev) < d.stableThreshold() {
		d.stableRun++
	} else {
		d.stableRun = 0
	}
	d.jitter += d.cfg.Smoothing * (dev*dev - d.jitter)
	if !d.synced && d.stableRun >= d.cfg.StableSamples {
		d.synced = true
		log.Infof("Playback synchronized: reference=%.1fms, factor=%.6f", d.reference, d.factor)
	}

	errMs := d.smoothed - d.reference

	// anti-windup: the integral alone may not exceed half the factor range
	if d.cfg.Ki > 0 {
		limit := (d.cfg.FactorMax - d.cfg.FactorMin) / 2 / d.cfg.Ki
		d.integral = clamp(d.integral+errMs, -limit, limit)
	}

	target := clamp(1.0-d.cfg.Kp*errMs-d.cfg.Ki*d.integral, d.cfg.FactorMin, d.cfg.FactorMax)
	step := clamp(target-d.factor, -d.cfg.MaxFactorStep, d.cfg.MaxFactorStep)
	d.factor = clamp(d.factor+step, d.cfg.FactorMin, d.cfg.FactorMax)
}

// stableThreshold is the largest step of the smoothed delay that still counts
// as settled. Measurement jitter widens it to StableJitter standard deviations
// of the step.
func (d *Dynamic) stableThreshold() float64 {
	return math.Max(d.cfg.StableThresholdMs, d.cfg.StableJitter*d.cfg.Smoothing*math.Sqrt(d.jitter))
}

// Jitter returns the standard deviation of delay samples around the smoothed delay
func (d *Dynamic) Jitter() float64 {
	return math.Sqrt(d.jitter)
}

// IsSync implements Controller
func (d *Dynamic) IsSync() bool {
	return d.synced
}

// Factor implements Controller
func (d *Dynamic) Factor() float64 {
	return d.factor
}

// Error returns the smoothed deviation from the reference in milliseconds
func (d *Dynamic) Error() float64 {
	if d.count <= d.cfg.WarmupSamples+d.cfg.SettleSamples {
		return 0
	}
	return d.smoothed - d.reference
}
