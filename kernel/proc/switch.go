package proc

import (
	"unsafe"

	"osmium/kernel"
	"osmium/kernel/mm/vmm"
	"osmium/kernel/sync"
)

// State describes what a core is currently executing.
type State uint8

const (
	// Idle is the state of a core that executes no thread.
	Idle State = iota

	// Running is the state of a core executing a kernel thread.
	Running
)

var (
	// the real implementations transfer control between stacks and (apart
	// from swapContext) never return; tests swap in recorders.
	changeStackFn       = ChangeStackAndReturn
	swapContextFn       = swapContext
	trampolineAddressFn = trampolineAddress
	activateTableFn     = func(pt *vmm.PageTable) { pt.Activate() }

	errSwitchWithInterrupts = &kernel.Error{Module: "proc", Message: "context switch attempted with interrupts enabled"}
	errSwitchNotIdle        = &kernel.Error{Module: "proc", Message: "switch from idle attempted on a core that is not idle"}
	errSwitchNotCurrent     = &kernel.Error{Module: "proc", Message: "switch away from a thread that is not current on this core"}
	errThreadReturned       = &kernel.Error{Module: "proc", Message: "thread entry function returned"}
)

// SchedulerLock is the part of the scheduler's lock the switch engine needs
// to see: the ability to release it from a context the scheduler did not run
// in. A *sync.Spinlock is the expected implementation.
type SchedulerLock interface {
	Release()
}

var _ SchedulerLock = (*sync.Spinlock)(nil)

// schedulerLock is released by a freshly woken thread immediately before its
// entry function runs. See SetSchedulerLock.
var schedulerLock SchedulerLock

// SetSchedulerLock registers the lock the scheduler holds while it decides
// which thread to run. The core that initiates a switch still holds it when
// control leaves; the new thread releases it from its own context just before
// reaching its entry function, so the lock is never held across the unbounded
// latency of the switch itself.
func SetSchedulerLock(l SchedulerLock) {
	schedulerLock = l
}

// PrepareStackForNewThread assembles an initial execution frame on t's stack
// so that switching to the thread resumes at the trampoline, which invokes
// entry(t, ctx). The call never touches the stack unless the whole frame
// fits: on ErrStackOverflow the cursor is exactly as it was.
func PrepareStackForNewThread(t *Thread, entry ThreadFunc, ctx uintptr) *kernel.Error {
	s := t.Stack()
	if s.Remaining() < initialFrameWords*wordSize {
		return ErrStackOverflow
	}

	s.PushValue(uintptr(unsafe.Pointer(t)))
	s.PushValue(ctx)
	s.PushReturnAddress(trampolineAddressFn())
	for i := 0; i < calleeSavedWords; i++ {
		s.PushValue(0)
	}

	t.entry = entry
	t.stackPointer = s.Pointer()
	return nil
}

// threadEntry runs in a new thread's own context, called by the trampoline on
// the thread's first activation. The scheduler lock handed across the switch
// is released here, before entry gets control.
func threadEntry(t *Thread, ctx uintptr) {
	if schedulerLock != nil {
		schedulerLock.Release()
	}

	t.entry(t, ctx)
	panicFn(errThreadReturned)
}

// prepareCoreForThread installs the state t needs in place before control
// reaches it. For threads outside the kernel process that means pointing the
// privilege-transition stack at t's stack top and activating the owning
// process's page table, in that order, so the very first instruction of the
// thread already runs in the right address space and can take an interrupt.
func prepareCoreForThread(p *Processor, t *Thread) {
	if !t.Process().IsKernel() {
		p.setTaskStackPointer(t.Stack().Top())
		activateTableFn(t.Process().PageTable())
	}
}

// switchGuard enforces the discipline common to all switch primitives:
// interrupts must be disabled on the calling core.
func switchGuard() bool {
	if interruptsEnabledFn() {
		panicFn(errSwitchWithInterrupts)
		return false
	}
	return true
}

// SwitchToThreadFromIdle moves p from Idle to Running(t) and transfers
// control to t, discarding the idle context. It never returns.
func SwitchToThreadFromIdle(p *Processor, t *Thread) {
	if !switchGuard() {
		return
	}
	if p.state != Idle {
		panicFn(errSwitchNotIdle)
		return
	}

	p.state = Running
	p.currentThread = t
	prepareCoreForThread(p, t)
	changeStackFn(t.stackPointer)
}

// SwitchToThreadFromThread suspends old, which must be the thread currently
// executing on p, and resumes new. This is the one primitive that returns: the
// call completes, in old's context, whenever a later switch resumes old.
func SwitchToThreadFromThread(p *Processor, old, new *Thread) {
	if !switchGuard() {
		return
	}
	if p.state != Running || p.currentThread != old {
		panicFn(errSwitchNotCurrent)
		return
	}

	p.currentThread = new
	prepareCoreForThread(p, new)
	swapContextFn(&old.stackPointer, new.stackPointer)

	// old has been resumed; the core that resumed it already reinstated it
	// as that core's current thread.
}

// SwitchToIdle moves p from Running(old) back to Idle and diverges into the
// idle execution path whose saved context idleSP points at. old's context is
// not saved; the caller has already parked old elsewhere. Never returns.
func SwitchToIdle(p *Processor, idleSP uintptr, old *Thread) {
	if !switchGuard() {
		return
	}
	if p.state != Running || p.currentThread != old {
		panicFn(errSwitchNotCurrent)
		return
	}

	p.currentThread = nil
	p.state = Idle
	changeStackFn(idleSP)
}
