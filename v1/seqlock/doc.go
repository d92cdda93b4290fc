// Package seqlock implements a sequence lock: a single-slot cell that
// lets any number of readers copy the value without blocking a
// concurrent writer. A monotonically increasing counter is odd while a
// write is in progress; readers that observe an odd counter, or a
// counter change across their copy, discard the copy and retry.
//
// The cell assumes at most one writer at a time. The precondition is
// not enforced: a second concurrent writer spins until the first
// finishes rather than corrupting the slot. Contention is the expected
// steady state of the retry loops, never an error.
//
// Values move in and out by copy only. T should be a plain value type;
// the cell never hands out a reference to its interior.
//
// Ordering caveat: the seqlock technique needs the second counter load
// of a read to be ordered after the value copy, which the portable
// acquire/release vocabulary cannot express. Two strategies are
// compiled, selected by build tags (see Locked):
//
//   - On amd64, 386, arm64, s390x, ppc64le and riscv64 the fast path
//     issues a sync/atomic store between the copy and the second load,
//     relying on the sequential consistency of Go's atomics to act as
//     the fence. These are the ports on which the approach has been
//     verified.
//   - Everywhere else, under the race detector, or when building with
//     -tags seqcell_locked, reads and writes fall back to full
//     reader/writer mutex critical sections with identical semantics.
package seqlock
