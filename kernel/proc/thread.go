package proc

import "osmium/kernel/mm/vmm"

// Process groups threads that share one address space. The only aspect of a
// process this package touches is its page-table ownership.
type Process struct {
	pageTable *vmm.PageTable
}

var kernelProcess = &Process{}

// KernelProcess returns the process that designates the shared kernel page
// table. Threads belonging to it never trigger a page-table switch.
func KernelProcess() *Process { return kernelProcess }

// NewProcess creates a process owning the supplied page table. The table must
// stay valid until every core has stopped using it; tearing it down is the
// memory manager's responsibility.
func NewProcess(pt *vmm.PageTable) *Process {
	return &Process{pageTable: pt}
}

// IsKernel returns true for the kernel process.
func (p *Process) IsKernel() bool { return p == kernelProcess }

// PageTable returns the translation table threads of this process run under.
func (p *Process) PageTable() *vmm.PageTable {
	if p.pageTable == nil {
		return vmm.KernelPageTable()
	}
	return p.pageTable
}

// ThreadFunc is the entry point handed to PrepareStackForNewThread. It is
// invoked on the thread's own stack and must never return.
type ThreadFunc func(t *Thread, ctx uintptr)

// Thread is a unit of scheduling: one kernel stack plus the saved register
// state needed to resume it. Everything else about a thread belongs to the
// layers above.
type Thread struct {
	stack   Stack
	process *Process

	// stackPointer holds the thread's saved stack pointer while it is not
	// executing. It is only meaningful between a switch away from the
	// thread and the switch back.
	stackPointer uintptr

	// entry is invoked by the trampoline on the thread's first activation.
	entry ThreadFunc
}

// NewThread creates a thread owned by process, executing on stack.
func NewThread(process *Process, stack Stack) *Thread {
	return &Thread{stack: stack, process: process}
}

// Process returns the process this thread belongs to.
func (t *Thread) Process() *Process { return t.process }

// Stack returns the thread's kernel stack.
func (t *Thread) Stack() *Stack { return &t.stack }

// StackPointer returns the thread's saved stack pointer.
func (t *Thread) StackPointer() uintptr { return t.stackPointer }
