// Package backoff provides the spin-then-yield policy used by seqcell
// retry loops. The first attempts retry immediately, after which the
// goroutine yields its remaining timeslice with exponentially growing
// yield counts. Policies are plain values so callers can tune or swap
// them without touching the loops that consume them.
package backoff
