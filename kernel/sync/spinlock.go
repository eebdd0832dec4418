// Package sync provides the synchronization primitives used by kernel code
// that cannot block in the language sense.
package sync

import "sync/atomic"

// spinAttemptsBeforeYielding controls how long Acquire busy-waits before
// handing the core over via the registered yield function.
const spinAttemptsBeforeYielding = 100

// yieldFn is invoked while spinning on a contended lock. It is nil until the
// scheduler registers its yield implementation via SetYield; tests point it
// at runtime.Gosched.
var yieldFn func()

// SetYield registers the function Acquire calls to relinquish the core while
// a lock is contended.
func SetYield(fn func()) {
	yieldFn = fn
}

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	var attempts uint32
	for atomic.SwapUint32(&l.state, 1) != 0 {
		attempts++
		if attempts >= spinAttemptsBeforeYielding && yieldFn != nil {
			attempts = 0
			yieldFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
