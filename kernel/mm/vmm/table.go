// Package vmm manages the architecture's address-translation tables. Each
// PageTable value wraps the physical frame holding a translation root; the
// package walks and mutates table levels through the kernel's physical memory
// mapping so it can operate on tables that are not active on the calling core.
//
// Mutations of a single PageTable are not synchronized here; callers that
// share a table across cores must serialize updates with their own lock. A
// table may be active on several cores at once: Activate only affects the
// calling core.
package vmm

import (
	"unsafe"

	"osmium/kernel"
	"osmium/kernel/cpu"
	"osmium/kernel/mm"
)

var (
	// ErrAlreadyMapped is returned when part of a requested virtual range
	// is already translated by the target page table.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual range overlaps an existing mapping"}

	// ErrAllocationFailed is returned when a frame for an intermediate
	// table level could not be obtained from the frame allocator.
	ErrAllocationFailed = &kernel.Error{Module: "vmm", Message: "cannot allocate frame for page table level"}

	// ErrPageAllocationFailed is returned by AllocatePageTable when no
	// frame is available for a new translation root.
	ErrPageAllocationFailed = &kernel.Error{Module: "vmm", Message: "cannot allocate frame for page table root"}

	// ErrInvalidMapping is returned when trying to unmap a virtual address
	// that is not mapped by the target table.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrUnexpected is returned when a table walk observes state that
	// violates the architecture's translation invariants, or when a caller
	// violates a mapping precondition. Callers must treat it as fatal.
	ErrUnexpected = &kernel.Error{Module: "vmm", Message: "unexpected page table state"}

	// ErrNoSpace is returned by ReserveTopLevelRange when every upper-half
	// top-level slot is occupied.
	ErrNoSpace = &kernel.Error{Module: "vmm", Message: "no free top-level slot in the kernel half"}
)

var (
	// physMapBase holds the virtual address at which all physical memory
	// is mapped. Table levels are accessed by offsetting frame addresses
	// into this region.
	physMapBase uintptr

	// tablePtrFn translates the frame holding a table level into a
	// dereferencable pointer. Tests override it to redirect walks into
	// host memory. When compiling the kernel this function is
	// automatically inlined.
	tablePtrFn = func(frame mm.Frame) *pageTableLevel {
		return (*pageTableLevel)(unsafe.Pointer(physMapBase + frame.Address()))
	}

	// memsetFn and memcopyFn are used by tests to intercept table level
	// zeroing and copying.
	memsetFn  = kernel.Memset
	memcopyFn = kernel.Memcopy

	// switchTableFn and activeTableFn are mocked by tests; calling the
	// cpu implementations faults outside ring 0.
	switchTableFn = cpu.SwitchPageTable
	activeTableFn = cpu.ActivePageTable

	// kernelTable is the table holding the kernel-global upper-half
	// mappings shared by every other table in the system.
	kernelTable *PageTable
)

// pageTableLevel describes the contents of a single table level frame.
type pageTableLevel [tableEntryCount]pageTableEntry

// PageTable wraps the root frame of a translation table hierarchy.
type PageTable struct {
	root mm.Frame
}

// SetPhysicalMapBase records the virtual address where bring-up code mapped
// all physical memory. It must be called before any PageTable method that
// touches table contents.
func SetPhysicalMapBase(base uintptr) { physMapBase = base }

// SetKernelPageTable designates the table whose upper half is copied into
// every subsequently allocated table.
func SetKernelPageTable(pt *PageTable) { kernelTable = pt }

// KernelPageTable returns the shared kernel translation table.
func KernelPageTable() *PageTable { return kernelTable }

// PageTableFromFrame wraps an existing translation root. It is used during
// bring-up to adopt the table installed by the bootstrap code.
func PageTableFromFrame(frame mm.Frame) PageTable {
	return PageTable{root: frame}
}

// Frame returns the physical frame holding this table's root level.
func (pt *PageTable) Frame() mm.Frame { return pt.root }

// AllocatePageTable obtains a zeroed translation root backed by one physical
// frame. If a kernel table has been registered, its upper-half entries are
// copied into the new root so kernel-global mappings stay visible no matter
// which table is active.
func AllocatePageTable() (PageTable, *kernel.Error) {
	frame, err := mm.AllocFrame()
	if err != nil {
		return PageTable{}, ErrPageAllocationFailed
	}

	pt := PageTable{root: frame}
	level := tablePtrFn(frame)
	memsetFn(uintptr(unsafe.Pointer(level)), 0, mm.PageSize)

	if kernelTable != nil {
		src := tablePtrFn(kernelTable.root)
		off := uintptr(upperHalfStart) * unsafe.Sizeof(level[0])
		memcopyFn(uintptr(unsafe.Pointer(src))+off, uintptr(unsafe.Pointer(level))+off, mm.PageSize-off)
	}

	return pt, nil
}

// Activate installs this table as the active translation root on the calling
// core. The table contents are not validated; the process-switch logic owns
// that guarantee. No other core is affected.
func (pt *PageTable) Activate() {
	switchTableFn(pt.root.Address())
}

// IsActive returns true if this table is the active translation root on the
// calling core.
func (pt *PageTable) IsActive() bool {
	return activeTableFn() == pt.root.Address()
}

// ReserveTopLevelRange claims the first free top-level slot in the upper half
// of this table, backs it with a zeroed frame and returns the virtual range
// now governed by that slot. It exists so bring-up code can carve out the
// kernel's own address-space region deterministically before the general
// allocator is available.
func (pt *PageTable) ReserveTopLevelRange() (mm.VirtualRange, *kernel.Error) {
	root := tablePtrFn(pt.root)

	for slot := uintptr(upperHalfStart); slot < tableEntryCount; slot++ {
		if root[slot].HasFlags(FlagPresent) {
			continue
		}

		frame, err := mm.AllocFrame()
		if err != nil {
			return mm.VirtualRange{}, ErrAllocationFailed
		}

		next := tablePtrFn(frame)
		memsetFn(uintptr(unsafe.Pointer(next)), 0, mm.PageSize)

		root[slot] = 0
		root[slot].SetFrame(frame)
		root[slot].SetFlags(FlagPresent | FlagRW)

		return mm.VirtualRange{
			Base: topLevelRangeBase(slot),
			Size: topLevelRangeSize,
		}, nil
	}

	return mm.VirtualRange{}, ErrNoSpace
}

// pageTableWalker is a function invoked by walk with the page table entry
// that corresponds to each visited level. If it returns false the walk is
// aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk descends this table's levels for the given virtual address, calling
// walkFn with the entry at each level down to stopLevel. The walk stops early
// if walkFn returns false or a level below the current one is not present.
func (pt *PageTable) walk(virtAddr uintptr, stopLevel uint8, walkFn pageTableWalker) {
	tableFrame := pt.root

	for level := uint8(0); level <= stopLevel; level++ {
		entryIndex := (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		pte := &tablePtrFn(tableFrame)[entryIndex]

		if !walkFn(level, pte) {
			return
		}

		tableFrame = pte.Frame()
	}
}
