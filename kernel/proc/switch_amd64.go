package proc

// A saved execution context on a stack has a fixed shape: from the stack
// pointer up, the six callee-saved registers (r15, r14, r13, r12, rbx, rbp)
// followed by the address execution resumes at. PrepareStackForNewThread
// hand-assembles such a frame; swapContext produces one when it suspends a
// live thread. Both restore paths therefore share the same assembly.
const (
	calleeSavedWords = 6

	// initialFrameWords covers the callee-saved registers, the trampoline
	// resume address and the thread/context words the trampoline pops.
	initialFrameWords = calleeSavedWords + 3
)

// ChangeStackAndReturn discards the calling context, adopts sp as the stack
// pointer, restores the callee-saved registers saved there and returns to the
// resume address above them. Never returns.
func ChangeStackAndReturn(sp uintptr)

// swapContext pushes the calling context's callee-saved registers, stores the
// resulting stack pointer through oldSP and resumes the context saved at
// newSP. The call returns when another core (or this one) later resumes the
// context saved through oldSP.
func swapContext(oldSP *uintptr, newSP uintptr)

// threadTrampoline is the resume address PrepareStackForNewThread plants in a
// fresh frame. It pops the context and thread words sitting above the resume
// address and calls threadEntry with them.
func threadTrampoline()

// trampolineAddress returns the entry address of threadTrampoline. Taking the
// address of an assembly routine needs an assembly helper, as Go function
// values point at funcval wrappers rather than code.
func trampolineAddress() uintptr
