package proc

import (
	"unsafe"

	"osmium/kernel"
	"osmium/kernel/mm"
)

var (
	// ErrStackOverflow is returned when a push would move the cursor below
	// the start of the stack's memory region.
	ErrStackOverflow = &kernel.Error{Module: "proc", Message: "stack cannot hold the requested value"}
)

// Stack is a contiguous memory region used as a kernel thread stack. The
// cursor starts at the region's top and moves down with every push, matching
// the direction the hardware grows stacks in.
type Stack struct {
	region mm.VirtualRange
	cursor uintptr
}

// NewStack wraps the given region as an empty stack.
func NewStack(region mm.VirtualRange) Stack {
	return Stack{
		region: region,
		cursor: region.Base + region.Size,
	}
}

// Top returns the highest address of the stack region. The privilege
// transition stack pointer is set to this value when the owning thread runs.
func (s *Stack) Top() uintptr { return s.region.Base + s.region.Size }

// Pointer returns the current cursor, i.e. the stack pointer a core must
// adopt to resume execution from the pushed frame.
func (s *Stack) Pointer() uintptr { return s.cursor }

// Remaining returns the number of bytes left between the cursor and the
// region start.
func (s *Stack) Remaining() uintptr { return s.cursor - s.region.Base }

// PushValue writes a machine word below the cursor and moves the cursor down.
func (s *Stack) PushValue(v uintptr) *kernel.Error {
	if s.Remaining() < wordSize {
		return ErrStackOverflow
	}

	s.cursor -= wordSize
	*(*uintptr)(unsafe.Pointer(s.cursor)) = v
	return nil
}

// PushReturnAddress pushes an address that a return instruction executed with
// the stack pointer at the resulting cursor will transfer control to. On this
// architecture it is indistinguishable from a plain value push; the separate
// name keeps frame-assembly code readable.
func (s *Stack) PushReturnAddress(addr uintptr) *kernel.Error {
	return s.PushValue(addr)
}

// wordSize is the width of one pushed value.
const wordSize = uintptr(1) << mm.PointerShift
