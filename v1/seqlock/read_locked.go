//go:build (!amd64 && !386 && !arm64 && !s390x && !ppc64le && !riscv64) || race || seqcell_locked

package seqlock

const lockedFallback = true

// The fallback trades the lock-free read path for full mutual
// exclusion on ports where the fence in read_fast.go is not verified,
// and under the race detector, whose instrumentation cannot follow the
// seqlock protocol. The counter is still maintained so Sequence and
// Snapshot behave identically.

func (l *SeqLock[T]) snapshot() (T, uint64) {
	l.mu.RLock()
	v := l.slot
	s := l.seq.Load()
	l.mu.RUnlock()
	return v, s
}

func (l *SeqLock[T]) tryRead() (T, bool) {
	if !l.mu.TryRLock() {
		var zero T
		return zero, false
	}
	v := l.slot
	l.mu.RUnlock()
	return v, true
}

func (l *SeqLock[T]) write(v T) {
	l.mu.Lock()
	l.seq.Add(1)
	l.slot = v
	l.seq.Add(1)
	l.mu.Unlock()
}

func (l *SeqLock[T]) tryWrite(v T) bool {
	if !l.mu.TryLock() {
		return false
	}
	l.seq.Add(1)
	l.slot = v
	l.seq.Add(1)
	l.mu.Unlock()
	return true
}
