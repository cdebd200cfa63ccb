// Package reliability holds the small retry and health primitives used
// around external provider calls.
package reliability

import (
	"sync"
	"time"
)

// ExponentialBackoff computes a deterministic capped backoff duration
// for the given zero-based attempt.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// SuccessWindow tracks the outcome of the last N calls within a time
// horizon. The TTS engine consults it before attempting the provider so
// a dead provider is skipped instead of thrashed.
type SuccessWindow struct {
	mu      sync.Mutex
	size    int
	horizon time.Duration
	now     func() time.Time
	samples []sample
}

type sample struct {
	at time.Time
	ok bool
}

func NewSuccessWindow(size int, horizon time.Duration) *SuccessWindow {
	if size <= 0 {
		size = 10
	}
	if horizon <= 0 {
		horizon = 5 * time.Minute
	}
	return &SuccessWindow{size: size, horizon: horizon, now: time.Now}
}

func (w *SuccessWindow) Record(ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, sample{at: w.now(), ok: ok})
	if len(w.samples) > w.size {
		w.samples = w.samples[len(w.samples)-w.size:]
	}
}

// Rate returns the success fraction over the in-horizon samples and the
// number of samples considered. With no samples the rate is 1: an
// unproven provider is given the benefit of the doubt.
func (w *SuccessWindow) Rate() (float64, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := w.now().Add(-w.horizon)
	succeeded, counted := 0, 0
	for _, s := range w.samples {
		if s.at.Before(cutoff) {
			continue
		}
		counted++
		if s.ok {
			succeeded++
		}
	}
	if counted == 0 {
		return 1, 0
	}
	return float64(succeeded) / float64(counted), counted
}
