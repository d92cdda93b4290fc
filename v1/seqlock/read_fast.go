//go:build (amd64 || 386 || arm64 || s390x || ppc64le || riscv64) && !race && !seqcell_locked

package seqlock

import "sync/atomic"

const lockedFallback = false

func (l *SeqLock[T]) snapshot() (T, uint64) {
	var fence atomic.Uint32
	spin := l.policy.Spinner()
	for {
		s1 := l.seq.Load()
		if s1&1 != 0 {
			spin.Spin()
			continue
		}
		v := l.slot
		// The compiler rearranges plain copies around atomic loads
		// (there is no LoadLoad fence in the memory model), so an
		// atomic store pins the copy before the second counter load.
		fence.Store(uint32(s1))
		if l.seq.Load() == s1 {
			return v, s1
		}
		spin.Spin()
	}
}

func (l *SeqLock[T]) tryRead() (T, bool) {
	var fence atomic.Uint32
	s1 := l.seq.Load()
	if s1&1 != 0 {
		var zero T
		return zero, false
	}
	v := l.slot
	fence.Store(uint32(s1))
	if l.seq.Load() != s1 {
		var zero T
		return zero, false
	}
	return v, true
}

func (l *SeqLock[T]) write(v T) {
	spin := l.policy.Spinner()
	for {
		s1 := l.seq.Load()
		if s1&1 != 0 {
			// Another write in flight; unreachable under the
			// single-writer contract.
			spin.Spin()
			continue
		}
		if !l.seq.CompareAndSwap(s1, s1+1) {
			spin.Spin()
			continue
		}
		// Plain assignment keeps GC write barriers intact for any
		// pointers inside T.
		l.slot = v
		l.seq.Store(s1 + 2)
		return
	}
}

func (l *SeqLock[T]) tryWrite(v T) bool {
	s1 := l.seq.Load()
	if s1&1 != 0 || !l.seq.CompareAndSwap(s1, s1+1) {
		return false
	}
	l.slot = v
	l.seq.Store(s1 + 2)
	return true
}
