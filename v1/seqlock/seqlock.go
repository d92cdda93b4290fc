package seqlock

import (
	"sync"
	"sync/atomic"

	"github.com/mirkobrombin/go-seqcell/v1/backoff"
)

// SeqLock holds one value of type T behind a sequence counter. The
// counter is even when the slot is consistent and odd while a write is
// in flight. The zero SeqLock is not usable; construct with New.
type SeqLock[T any] struct {
	seq atomic.Uint64

	// mu is only taken by the locked fallback build (see doc.go).
	mu sync.RWMutex

	slot   T
	policy backoff.Policy
}

// Option configures a SeqLock.
type Option[T any] func(*SeqLock[T])

// WithBackoff sets the spin policy used by the retry loops.
func WithBackoff[T any](p backoff.Policy) Option[T] {
	return func(l *SeqLock[T]) {
		l.policy = p
	}
}

// New returns a SeqLock holding initial, with the counter at zero.
func New[T any](initial T, opts ...Option[T]) *SeqLock[T] {
	l := &SeqLock[T]{slot: initial, policy: backoff.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Read returns a consistent copy of the value. It retries, backing off
// per the configured policy, until a copy is obtained that no write
// overlapped. Read never blocks on the operating system and never
// returns a torn value.
func (l *SeqLock[T]) Read() T {
	v, _ := l.snapshot()
	return v
}

// Snapshot returns a consistent copy of the value together with the
// even sequence it was read at. Sequences from the same cell are
// comparable: a higher sequence means a later write.
func (l *SeqLock[T]) Snapshot() (T, uint64) {
	return l.snapshot()
}

// TryRead makes a single attempt at a consistent copy. It returns
// false if a write was in progress or raced the copy.
func (l *SeqLock[T]) TryRead() (T, bool) {
	return l.tryRead()
}

// Write stores v. It assumes at most one concurrent writer; if that
// contract is violated the losing writer spins until the slot is free.
func (l *SeqLock[T]) Write(v T) {
	l.write(v)
}

// TryWrite makes a single attempt to store v, returning false if
// another write was in progress.
func (l *SeqLock[T]) TryWrite(v T) bool {
	return l.tryWrite(v)
}

// Sequence returns the current counter value. Odd means a write is in
// progress.
func (l *SeqLock[T]) Sequence() uint64 {
	return l.seq.Load()
}

// Locked reports whether this build uses the mutex fallback instead of
// the fenced fast path.
func Locked() bool {
	return lockedFallback
}
