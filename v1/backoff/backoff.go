package backoff

import "runtime"

// Policy controls how a retry loop waits between attempts.
type Policy struct {
	// SpinLimit is the number of attempts that retry immediately
	// before the loop starts yielding.
	SpinLimit int
	// MaxYield caps the number of consecutive scheduler yields
	// performed for a single attempt.
	MaxYield int
}

// Default returns the policy applied when callers do not supply one.
func Default() Policy {
	return Policy{SpinLimit: 4, MaxYield: 16}
}

// Spinner tracks the backoff state of a single retry loop. The zero
// Spinner is not usable; obtain one from Policy.Spinner.
type Spinner struct {
	policy   Policy
	attempts int
	yields   int
}

// Spinner returns a fresh Spinner for one retry loop. A zero policy is
// replaced by Default.
func (p Policy) Spinner() Spinner {
	if p.SpinLimit <= 0 && p.MaxYield <= 0 {
		p = Default()
	}
	return Spinner{policy: p, yields: 1}
}

// Spin waits before the next attempt. The first SpinLimit calls return
// immediately; later calls yield the timeslice, doubling the yield
// count up to MaxYield.
func (s *Spinner) Spin() {
	s.attempts++
	if s.attempts <= s.policy.SpinLimit {
		return
	}
	for i := 0; i < s.yields; i++ {
		runtime.Gosched()
	}
	if s.yields < s.policy.MaxYield {
		s.yields <<= 1
	}
}

// Attempts reports how many times Spin has been called.
func (s *Spinner) Attempts() int {
	return s.attempts
}
