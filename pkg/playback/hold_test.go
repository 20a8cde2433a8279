// ABOUTME: Tests for the deferred-start hold and rate observer
// ABOUTME: Uses a fake clock so no test sleeps for the hold duration
package playback

import (
	"math"
	"testing"
	"time"

	"github.com/Resonate-Protocol/snapsync-go/pkg/audio"
	"github.com/jonboulle/clockwork"
)

func waitReleased(t *testing.T, h *Hold) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("hold was not released")
	}
}

func assertHeld(t *testing.T, h *Hold) {
	t.Helper()
	select {
	case <-h.Done():
		t.Fatal("hold released early")
	default:
	}
	if !h.Active() {
		t.Fatal("expected hold to be active")
	}
}

func TestHoldStartsReleased(t *testing.T) {
	h := NewHold(clockwork.NewFakeClock())
	if h.Active() {
		t.Error("expected new hold to be inactive")
	}
	waitReleased(t, h)
}

func TestHoldReleasesAfterDelay(t *testing.T) {
	fc := clockwork.NewFakeClock()
	h := NewHold(fc)

	h.Arm(500 * time.Millisecond)
	assertHeld(t, h)

	fc.Advance(499 * time.Millisecond)
	assertHeld(t, h)

	fc.Advance(time.Millisecond)
	waitReleased(t, h)
	if h.Active() {
		t.Error("expected hold to be inactive after release")
	}
}

func TestHoldZeroDelay(t *testing.T) {
	h := NewHold(clockwork.NewFakeClock())
	h.Arm(0)
	waitReleased(t, h)
}

func TestHoldCancel(t *testing.T) {
	fc := clockwork.NewFakeClock()
	h := NewHold(fc)

	h.Arm(time.Second)
	done := h.Done()
	h.Cancel()

	select {
	case <-done:
	default:
		t.Fatal("cancel did not release waiters")
	}

	// the stopped timer must not fire into a later hold
	h.Arm(3 * time.Second)
	fc.Advance(time.Second)
	assertHeld(t, h)

	fc.Advance(2 * time.Second)
	waitReleased(t, h)
}

func TestHoldRearm(t *testing.T) {
	fc := clockwork.NewFakeClock()
	h := NewHold(fc)

	h.Arm(100 * time.Millisecond)
	first := h.Done()
	h.Arm(300 * time.Millisecond)

	if h.Done() != first {
		t.Error("re-arming an active hold should keep its waiters")
	}

	fc.Advance(100 * time.Millisecond)
	assertHeld(t, h)

	fc.Advance(200 * time.Millisecond)
	waitReleased(t, h)
}

func TestRateObserver(t *testing.T) {
	tests := []struct {
		name      string
		localStep time.Duration
		want      float64
	}{
		{"matched", 20 * time.Millisecond, 1.0},
		{"local fast", 20020 * time.Microsecond, 1.001},
		{"local slow", 19980 * time.Microsecond, 0.999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRateObserver(10)
			start := time.Unix(1000, 0)

			var got float64
			var ok bool
			for i := 0; i < 10; i++ {
				h := audio.HeaderFromMicros(5_000_000+int64(i)*20000, 0, audio.CodecPCM)
				got, ok = r.Observe(h, start.Add(time.Duration(i)*tt.localStep))
				if i < 9 && ok {
					t.Fatalf("window completed early at %d", i)
				}
			}

			if !ok {
				t.Fatal("expected a completed window")
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("expected %f, got %f", tt.want, got)
			}
			if r.Factor() != got {
				t.Errorf("Factor() = %f, want %f", r.Factor(), got)
			}
		})
	}
}

func TestRateObserverDiscardsBackwardsWindow(t *testing.T) {
	r := NewRateObserver(5)
	start := time.Unix(1000, 0)

	for i := 0; i < 5; i++ {
		// duplicate timestamps
		h := audio.HeaderFromMicros(5_000_000, 0, audio.CodecPCM)
		if _, ok := r.Observe(h, start.Add(time.Duration(i)*20*time.Millisecond)); ok {
			t.Fatal("expected window with zero server span to be discarded")
		}
	}
	if r.Factor() != 0 {
		t.Errorf("expected no measurement, got %f", r.Factor())
	}

	if NewRateObserver(0).window != DefaultRateWindow {
		t.Error("expected default window")
	}
}
