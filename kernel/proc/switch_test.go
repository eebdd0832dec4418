package proc

import (
	"runtime"
	"testing"
	"unsafe"

	"osmium/kernel/mm"
	"osmium/kernel/mm/vmm"
	"osmium/kernel/sync"
)

type releaseFunc func()

func (f releaseFunc) Release() { f() }

// installSwitchTestMocks replaces every hook the switch engine reaches for
// with inert stand-ins (interrupts read as disabled) and returns a function
// that puts the originals back.
func installSwitchTestMocks() func() {
	origEnabled := interruptsEnabledFn
	origPanic := panicFn
	origChange := changeStackFn
	origSwap := swapContextFn
	origTramp := trampolineAddressFn
	origActivate := activateTableFn
	origLock := schedulerLock

	interruptsEnabledFn = func() bool { return false }
	panicFn = func(v interface{}) {}
	changeStackFn = func(uintptr) {}
	swapContextFn = func(*uintptr, uintptr) {}
	trampolineAddressFn = func() uintptr { return 0xfeedc0de }
	activateTableFn = func(*vmm.PageTable) {}
	schedulerLock = nil

	return func() {
		interruptsEnabledFn = origEnabled
		panicFn = origPanic
		changeStackFn = origChange
		swapContextFn = origSwap
		trampolineAddressFn = origTramp
		activateTableFn = origActivate
		schedulerLock = origLock
	}
}

func preparedThread(t *testing.T, proc *Process, words int) *Thread {
	thread := NewThread(proc, NewStack(mustRegion(words)))
	if err := PrepareStackForNewThread(thread, func(*Thread, uintptr) {}, 0); err != nil {
		t.Fatalf("prepare stack: %v", err)
	}
	return thread
}

func mustRegion(words int) mm.VirtualRange {
	region, _ := testStackRegion(words)
	return region
}

func TestPrepareStackForNewThreadFrameLayout(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 stack frame layout")
	}
	defer installSwitchTestMocks()()

	region, backing := testStackRegion(16)
	thread := NewThread(KernelProcess(), NewStack(region))

	if err := PrepareStackForNewThread(thread, func(*Thread, uintptr) {}, 0x42); err != nil {
		t.Fatalf("prepare stack: %v", err)
	}

	top := len(backing)
	if got := backing[top-1]; got != uint64(uintptr(unsafe.Pointer(thread))) {
		t.Fatalf("expected the thread pointer at the frame top; got 0x%x", got)
	}

	if got := backing[top-2]; got != 0x42 {
		t.Fatalf("expected the context word below the thread pointer; got 0x%x", got)
	}

	if got := backing[top-3]; got != 0xfeedc0de {
		t.Fatalf("expected the trampoline resume address; got 0x%x", got)
	}

	for i := 1; i <= calleeSavedWords; i++ {
		if got := backing[top-3-i]; got != 0 {
			t.Fatalf("expected callee-saved slot %d to be zero; got 0x%x", i, got)
		}
	}

	if exp, got := thread.Stack().Top()-initialFrameWords*wordSize, thread.StackPointer(); got != exp {
		t.Fatalf("expected saved stack pointer 0x%x; got 0x%x", exp, got)
	}
}

func TestPrepareStackForNewThreadOverflow(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 stack frame layout")
	}
	defer installSwitchTestMocks()()

	// One word short of the minimum frame.
	region, backing := testStackRegion(initialFrameWords - 1)
	thread := NewThread(KernelProcess(), NewStack(region))

	var snapshot [initialFrameWords - 1]uint64
	copy(snapshot[:], backing)
	before := thread.Stack().Pointer()

	if err := PrepareStackForNewThread(thread, func(*Thread, uintptr) {}, 0); err != ErrStackOverflow {
		t.Fatalf("expected ErrStackOverflow; got %v", err)
	}

	if thread.Stack().Pointer() != before {
		t.Fatal("expected the cursor to be unchanged after a failed prepare")
	}

	for i, exp := range snapshot {
		if backing[i] != exp {
			t.Fatalf("expected stack word %d to be unchanged; got 0x%x", i, backing[i])
		}
	}
}

func TestSwitchToThreadFromIdleAndBackToIdle(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 stack frame layout")
	}
	defer installSwitchTestMocks()()

	var adopted []uintptr
	changeStackFn = func(sp uintptr) { adopted = append(adopted, sp) }

	p := PrepareBootstrapProcessor()
	if p.State() != Idle {
		t.Fatal("expected a fresh processor record to start out idle")
	}

	thread := preparedThread(t, KernelProcess(), 32)
	SwitchToThreadFromIdle(p, thread)

	if p.State() != Running || p.CurrentThread() != thread {
		t.Fatal("expected the core to be running the thread after the switch")
	}

	if len(adopted) != 1 || adopted[0] != thread.StackPointer() {
		t.Fatalf("expected the core to adopt the thread's saved stack pointer; got %v", adopted)
	}

	// The thread hands the core back.
	idleSP := uintptr(0xabcd)
	SwitchToIdle(p, idleSP, thread)

	if p.State() != Idle {
		t.Fatal("expected the core to be idle after the switch back")
	}

	if p.CurrentThread() != nil {
		t.Fatal("expected the current-thread reference to be cleared")
	}

	if len(adopted) != 2 || adopted[1] != idleSP {
		t.Fatalf("expected the core to adopt the idle stack pointer; got %v", adopted)
	}
}

func TestSwitchToThreadFromThread(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 stack frame layout")
	}
	defer installSwitchTestMocks()()

	type swap struct {
		oldSP *uintptr
		newSP uintptr
	}

	var swaps []swap
	swapContextFn = func(oldSP *uintptr, newSP uintptr) {
		swaps = append(swaps, swap{oldSP, newSP})
		*oldSP = 0x5550000 + uintptr(len(swaps))
	}

	p := PrepareBootstrapProcessor()
	threadA := preparedThread(t, KernelProcess(), 32)
	threadB := preparedThread(t, KernelProcess(), 32)
	SwitchToThreadFromIdle(p, threadA)

	SwitchToThreadFromThread(p, threadA, threadB)
	if p.State() != Running || p.CurrentThread() != threadB {
		t.Fatal("expected the core to be running threadB after the switch")
	}

	if len(swaps) != 1 || swaps[0].oldSP != &threadA.stackPointer || swaps[0].newSP != threadB.StackPointer() {
		t.Fatal("expected the saved contexts of threadA and threadB to be swapped")
	}

	if threadA.StackPointer() != 0x5550001 {
		t.Fatal("expected threadA's stack pointer to capture the suspended context")
	}

	// Later, threadB performs the symmetric switch back.
	SwitchToThreadFromThread(p, threadB, threadA)
	if p.CurrentThread() != threadA {
		t.Fatal("expected the core to be running threadA again")
	}

	if len(swaps) != 2 || swaps[1].oldSP != &threadB.stackPointer || swaps[1].newSP != threadA.StackPointer() {
		t.Fatal("expected the symmetric swap back into threadA's saved context")
	}
}

func TestSwitchPreparesCoreForNonKernelThread(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 stack frame layout")
	}
	defer installSwitchTestMocks()()

	var activated []*vmm.PageTable
	activateTableFn = func(pt *vmm.PageTable) { activated = append(activated, pt) }

	p := PrepareBootstrapProcessor()
	pt := vmm.PageTableFromFrame(mm.Frame(0x77))
	proc := NewProcess(&pt)
	thread := preparedThread(t, proc, 32)

	SwitchToThreadFromIdle(p, thread)

	if got := p.taskStackPointer(); got != thread.Stack().Top() {
		t.Fatalf("expected the privilege-transition stack to point at the thread's stack top; got 0x%x", got)
	}

	if len(activated) != 1 || activated[0] != proc.PageTable() {
		t.Fatal("expected the owning process's page table to be activated before the transfer")
	}
}

func TestSwitchSkipsHousekeepingForKernelThread(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 stack frame layout")
	}
	defer installSwitchTestMocks()()

	var activations int
	activateTableFn = func(*vmm.PageTable) { activations++ }

	p := PrepareBootstrapProcessor()
	thread := preparedThread(t, KernelProcess(), 32)

	SwitchToThreadFromIdle(p, thread)

	if activations != 0 {
		t.Fatal("expected no page-table activation for a kernel thread")
	}

	if p.taskStackPointer() != 0 {
		t.Fatal("expected the privilege-transition stack to be left alone for a kernel thread")
	}
}

func TestSwitchGuards(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 stack frame layout")
	}
	defer installSwitchTestMocks()()

	var panics []interface{}
	panicFn = func(v interface{}) { panics = append(panics, v) }

	var transfers int
	changeStackFn = func(uintptr) { transfers++ }
	swapContextFn = func(*uintptr, uintptr) { transfers++ }

	p := PrepareBootstrapProcessor()
	threadA := preparedThread(t, KernelProcess(), 32)
	threadB := preparedThread(t, KernelProcess(), 32)

	t.Run("with interrupts enabled", func(t *testing.T) {
		interruptsEnabledFn = func() bool { return true }
		defer func() { interruptsEnabledFn = func() bool { return false } }()

		SwitchToThreadFromIdle(p, threadA)
		if len(panics) != 1 || panics[0] != errSwitchWithInterrupts {
			t.Fatal("expected a fatal error for a switch with interrupts enabled")
		}
	})

	t.Run("from idle while running", func(t *testing.T) {
		SwitchToThreadFromIdle(p, threadA)
		SwitchToThreadFromIdle(p, threadB)
		if len(panics) != 2 || panics[1] != errSwitchNotIdle {
			t.Fatal("expected a fatal error for a from-idle switch on a running core")
		}
	})

	t.Run("from thread that is not current", func(t *testing.T) {
		SwitchToThreadFromThread(p, threadB, threadA)
		if len(panics) != 3 || panics[2] != errSwitchNotCurrent {
			t.Fatal("expected a fatal error for a switch away from a non-current thread")
		}
	})

	t.Run("to idle from thread that is not current", func(t *testing.T) {
		SwitchToIdle(p, 0x1000, threadB)
		if len(panics) != 4 || panics[3] != errSwitchNotCurrent {
			t.Fatal("expected a fatal error for an idle switch naming a non-current thread")
		}
	})

	t.Run("from thread while idle", func(t *testing.T) {
		SwitchToIdle(p, 0x1000, threadA)
		SwitchToThreadFromThread(p, threadA, threadB)
		if len(panics) != 5 || panics[4] != errSwitchNotCurrent {
			t.Fatal("expected a fatal error for a from-thread switch on an idle core")
		}
	})

	// Guard failures must never transfer control. The two successful
	// switches above account for the recorded transfers.
	if transfers != 2 {
		t.Fatalf("expected exactly 2 control transfers; got %d", transfers)
	}
}

func TestThreadEntryReleasesSchedulerLockFirst(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 stack frame layout")
	}
	defer installSwitchTestMocks()()

	var events []string
	var panics []interface{}
	panicFn = func(v interface{}) { panics = append(panics, v) }
	SetSchedulerLock(releaseFunc(func() { events = append(events, "release") }))

	thread := NewThread(KernelProcess(), NewStack(mustRegion(32)))
	err := PrepareStackForNewThread(thread, func(ft *Thread, ctx uintptr) {
		if ft != thread || ctx != 0x99 {
			t.Fatal("expected the entry function to receive the thread and its context")
		}
		events = append(events, "entry")
	}, 0x99)
	if err != nil {
		t.Fatalf("prepare stack: %v", err)
	}

	threadEntry(thread, 0x99)

	if len(events) != 2 || events[0] != "release" || events[1] != "entry" {
		t.Fatalf("expected the scheduler lock to be released before entry runs; got %v", events)
	}

	// A returning entry function is a fatal condition.
	if len(panics) != 1 || panics[0] != errThreadReturned {
		t.Fatal("expected a fatal error when the entry function returns")
	}
}

func TestThreadEntryReleasesSpinlock(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 stack frame layout")
	}
	defer installSwitchTestMocks()()
	panicFn = func(v interface{}) {}

	var lock sync.Spinlock
	lock.Acquire()
	SetSchedulerLock(&lock)

	var lockWasFree bool
	thread := NewThread(KernelProcess(), NewStack(mustRegion(32)))
	err := PrepareStackForNewThread(thread, func(*Thread, uintptr) {
		lockWasFree = lock.TryToAcquire()
	}, 0)
	if err != nil {
		t.Fatalf("prepare stack: %v", err)
	}

	threadEntry(thread, 0)

	if !lockWasFree {
		t.Fatal("expected the spinlock to be free by the time entry runs")
	}
}
