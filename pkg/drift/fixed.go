// ABOUTME: Constant-factor drift controller
// ABOUTME: For outputs whose clock is known to match the server
package drift

// Fixed applies a constant factor and reports sync after the first sample
type Fixed struct {
	startDelay
	factor  float64
	started bool
	samples int
}

// NewFixed creates a controller that always returns factor
func NewFixed(factor float64, cfg Config) *Fixed {
	f := &Fixed{factor: clamp(factor, cfg.FactorMin, cfg.FactorMax)}
	f.extraMs = cfg.StartDelayMs
	f.lagMs = cfg.ProcessingLagMs
	return f
}

func (f *Fixed) Begin(sampleRate int) {
	f.started = true
	f.samples = 0
}

func (f *Fixed) UpdateActualDelay(delayMs int64) {
	if !f.started {
		panic(ErrNotStarted)
	}
	f.samples++
}

func (f *Fixed) IsSync() bool {
	return f.samples > 0
}

func (f *Fixed) Factor() float64 {
	return f.factor
}
