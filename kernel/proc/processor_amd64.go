package proc

import (
	"unsafe"

	"osmium/kernel"
	"osmium/kernel/cpu"
)

var (
	// the following functions are mocked by tests; the cpu implementations
	// fault outside ring 0.
	setGSBaseFn = cpu.SetGSBase
	gsBaseFn    = cpu.GSBase
	hasAPICFn   = cpu.HasAPIC

	errMissingAPIC = &kernel.Error{Module: "proc", Message: "processor does not expose a local APIC"}
)

// processorArchState holds the amd64-private portion of a Processor record.
type processorArchState struct {
	// tss is this core's task state segment. The CPU loads its RSP0 field
	// when an interrupt raises the privilege level, so it must track the
	// running thread's stack. The segment is loaded into the GDT during
	// bring-up.
	tss taskStateSegment
}

// taskStateSegment is the amd64 hardware TSS layout. The hardware places the
// 64-bit stack pointer fields at 4-byte offsets, which Go cannot express with
// uint64 fields (they would be padded to 8-byte alignment), so each one is
// split into lo/hi halves.
type taskStateSegment struct {
	_         uint32
	rsp0Lo    uint32
	rsp0Hi    uint32
	rsp1Lo    uint32
	rsp1Hi    uint32
	rsp2Lo    uint32
	rsp2Hi    uint32
	_         [2]uint32
	ist       [14]uint32
	_         [2]uint32
	_         uint16
	ioMapBase uint16
}

// PrepareBootstrapProcessor builds the Processor record for the core the
// firmware booted on.
func PrepareBootstrapProcessor() *Processor {
	return &Processor{id: BootstrapID}
}

// PrepareProcessor builds a Processor record for an additional core. The
// interrupt-priority threshold and the panic broadcast both require a local
// APIC; a core without one cannot participate and bring-up halts.
func PrepareProcessor(id ID) *Processor {
	if !hasAPICFn() {
		panicFn(errMissingAPIC)
		return nil
	}

	return &Processor{id: id}
}

// LoadProcessor installs p as the calling core's record by pointing the GS
// segment base at it. It must run on the core that owns p, before the first
// CurrentProcessor call on that core.
func LoadProcessor(p *Processor) {
	setGSBaseFn(uintptr(unsafe.Pointer(p)))
}

// currentFromCoreLocal recovers the record installed by LoadProcessor. It
// returns nil on a core that has not loaded a record yet.
func currentFromCoreLocal() *Processor {
	base := gsBaseFn()
	if base == 0 {
		return nil
	}
	return (*Processor)(unsafe.Pointer(base))
}

// setTaskStackPointer publishes sp as the stack the CPU must adopt on a
// privilege-raising interrupt taken by this core.
func (p *Processor) setTaskStackPointer(sp uintptr) {
	p.arch.tss.rsp0Lo = uint32(sp)
	p.arch.tss.rsp0Hi = uint32(sp >> 32)
}

// taskStackPointer returns the privilege-transition stack currently published
// in this core's TSS.
func (p *Processor) taskStackPointer() uintptr {
	return uintptr(p.arch.tss.rsp0Lo) | uintptr(p.arch.tss.rsp0Hi)<<32
}
