// Package arch pins down the operations an architecture backend must provide
// to the rest of the kernel. The contract is expressed as named function
// types, grouped by category; the per-architecture file in this package binds
// the backend's implementations to them with compile-time assertions. A
// missing operation or a signature drift therefore fails the build instead of
// surfacing at run time, and the check costs nothing once compiled.
package arch

import (
	"osmium/kernel"
	"osmium/kernel/hal"
	"osmium/kernel/mm"
	"osmium/kernel/mm/vmm"
	"osmium/kernel/proc"
)

// Processor identity.
type (
	PrepareBootstrapProcessorFn func() *proc.Processor
	PrepareProcessorFn          func(proc.ID) *proc.Processor
	LoadProcessorFn             func(*proc.Processor)
	CurrentProcessorFn          func() *proc.Processor
)

// Interrupt control.
type (
	EnableInterruptsFn         func()
	DisableInterruptsFn        func()
	InterruptsEnabledFn        func() bool
	SetTaskPriorityFn          func(uint8)
	PanicInterruptOtherCoresFn func()
)

// Paging. The mutating operations are method expressions over the backend's
// page-table type.
type (
	AllocatePageTableFn    func() (vmm.PageTable, *kernel.Error)
	MapToPhysicalRangeFn   func(*vmm.PageTable, mm.VirtualRange, mm.PhysicalRange, vmm.PageTableEntryFlag) *kernel.Error
	UnmapFn                func(*vmm.PageTable, mm.VirtualRange) *kernel.Error
	ActivatePageTableFn    func(*vmm.PageTable)
	ReserveTopLevelRangeFn func(*vmm.PageTable) (mm.VirtualRange, *kernel.Error)
)

// Context switching.
type (
	PrepareStackForNewThreadFn func(*proc.Thread, proc.ThreadFunc, uintptr) *kernel.Error
	SwitchToThreadFromIdleFn   func(*proc.Processor, *proc.Thread)
	SwitchToThreadFromThreadFn func(*proc.Processor, *proc.Thread, *proc.Thread)
	SwitchToIdleFn             func(*proc.Processor, uintptr, *proc.Thread)
	ChangeStackAndReturnFn     func(uintptr)
)

// Bring-up.
type (
	SetupFn func(*hal.BootInfo)
)
