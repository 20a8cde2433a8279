// ABOUTME: Closed-loop simulator for the playback gate and drift controllers
// ABOUTME: Feeds a simulated drifting device through the gate and logs the correction
package main

import (
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/Resonate-Protocol/snapsync-go/internal/config"
	"github.com/Resonate-Protocol/snapsync-go/pkg/audio"
	"github.com/Resonate-Protocol/snapsync-go/pkg/drift"
	"github.com/Resonate-Protocol/snapsync-go/pkg/playback"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

var (
	rate       = pflag.Float64("rate", 1.0005, "Device clock rate relative to the server")
	chunks     = pflag.Int("chunks", 20000, "Number of chunks to simulate")
	chunkMs    = pflag.Int64("chunk_ms", 20, "Audio per chunk in milliseconds")
	bufferMs   = pflag.Int64("buffer_ms", 150, "Server-side playout buffer")
	jitterMs   = pflag.Float64("jitter_ms", 0, "Standard deviation of delivery jitter")
	jumpAt     = pflag.Int("jump_at", 0, "Chunk at which the device clock jumps (0 = never)")
	jumpMs     = pflag.Float64("jump_ms", 2000, "Size of the clock jump")
	controller = pflag.String("controller", "dynamic", "dynamic or fixed")
	every      = pflag.Int("every", 500, "Log every n chunks")
	seed       = pflag.Int64("seed", 1, "Random seed for jitter")
	level      = pflag.String("level", "info", "Log level")
)

// simClock is the server timeline as seen by a device drifting against it
type simClock struct {
	nowMs float64
}

func (c *simClock) ServerMillis() int64 {
	return int64(math.Round(c.nowMs))
}

func (c *simClock) ToMillis(sec, usec int32) int64 {
	return int64(sec)*1000 + int64(usec)/1000
}

// simPipeline records what the gate asks of the output side
type simPipeline struct {
	factor  float64
	armed   time.Duration
	retunes int
}

func (p *simPipeline) ArmDeferredStart(d time.Duration) { p.armed = d }
func (p *simPipeline) CancelDeferredStart()             { p.armed = 0 }
func (p *simPipeline) SpeedFactor() float64             { return p.factor }
func (p *simPipeline) SetSpeedFactor(f float64) {
	p.factor = f
	p.retunes++
}

func main() {
	pflag.Parse()
	config.InitLog(*level)
	log.SetOutput(os.Stdout)

	cfg := drift.DefaultConfig()
	var ctrl drift.Controller
	switch *controller {
	case "fixed":
		ctrl = drift.NewFixed(1.0, cfg)
	case "dynamic":
		ctrl = drift.NewDynamic(cfg)
	default:
		log.Fatalf("Unknown controller %q", *controller)
	}

	clock := &simClock{}
	pipe := &simPipeline{factor: 1.0}
	gate := playback.NewGate(clock, ctrl, pipe, playback.GateConfig{})
	gate.SessionStart(48000)

	step, buffer, jitter := *chunkMs, *bufferMs, *jitterMs
	rng := rand.New(rand.NewSource(*seed))
	offset := 0.0 // ms the device has fallen ahead of the server

	log.WithFields(log.Fields{
		"rate":       *rate,
		"ideal":      1 / *rate,
		"controller": *controller,
		"chunks":     *chunks,
	}).Info("Starting simulation")

	for k := 0; k < *chunks; k++ {
		if *jumpAt > 0 && k == *jumpAt {
			offset += *jumpMs
			log.Warnf("Injecting %.0fms clock jump at chunk %d", *jumpMs, k)
		}

		ts := int64(k)*step + buffer
		clock.nowMs = float64(int64(k)*step) - offset + rng.NormFloat64()*jitter

		h := audio.HeaderFromMicros(ts*1000, 0, audio.CodecPCM)
		d := gate.OnChunk(h)

		if d.Action != playback.Drop {
			offset += float64(step) * (*rate*pipe.SpeedFactor() - 1)
		}

		if k%*every == 0 || k == *chunks-1 {
			log.WithFields(log.Fields{
				"chunk":  k,
				"action": d.Action,
				"delay":  d.DelayMs,
				"state":  gate.State(),
				"factor": pipe.SpeedFactor(),
				"error":  math.Round(offset*100) / 100,
			}).Info("step")
		}
	}

	stats := gate.Stats()
	residual := pipe.SpeedFactor()*(*rate) - 1
	log.WithFields(log.Fields{
		"state":        gate.State(),
		"factor":       pipe.SpeedFactor(),
		"residual_ppm": math.Round(residual * 1e6),
		"retunes":      pipe.retunes,
		"accepted":     stats.Accepted,
		"dropped":      stats.Expired + stats.Implausible,
	}).Info("Simulation complete")
}
