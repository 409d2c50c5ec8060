package session

import "sync"

// Lock is the session's re-entrant mutual exclusion lock, keyed by thread
// id. A thread that already owns the lock may acquire it again; the lock is
// released when Release has been called once per successful acquisition.
//
// Release by a non-owner, or of an unheld lock, is a deliberate no-op.
// Debugger call sites release on every exit path, and some of those paths
// run after another thread has already torn the state down.
type Lock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner int64
	depth int
}

// NewLock creates an unheld lock.
func NewLock() *Lock {
	l := &Lock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire blocks until the calling thread owns the lock. Re-entrant for the
// current owner.
func (l *Lock) Acquire(tid int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner == tid && l.depth > 0 {
		l.depth++
		return
	}
	for l.depth > 0 {
		l.cond.Wait()
	}
	l.owner = tid
	l.depth = 1
}

// TryAcquire acquires the lock without blocking. It reports whether the
// calling thread now owns the lock. Used by best-effort operations, such as
// broadcasting quit, that must not deadlock against a stopped thread.
func (l *Lock) TryAcquire(tid int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner == tid && l.depth > 0 {
		l.depth++
		return true
	}
	if l.depth > 0 {
		return false
	}
	l.owner = tid
	l.depth = 1
	return true
}

// Release releases one level of ownership. Releasing a lock the caller does
// not hold has no effect.
func (l *Lock) Release(tid int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner != tid || l.depth == 0 {
		return
	}
	l.depth--
	if l.depth == 0 {
		l.owner = 0
		l.cond.Signal()
	}
}

// Held reports whether tid currently owns the lock.
func (l *Lock) Held(tid int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner == tid && l.depth > 0
}
