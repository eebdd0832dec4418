// Package pmm bootstraps physical frame allocation. It provides a rudimentary
// boot memory allocator that hands out frames from the memory layout the boot
// stub registered, and installs it as the kernel's frame source. A proper
// allocator that supports freeing takes over once the kernel heap is up.
package pmm

import (
	"osmium/kernel"
	"osmium/kernel/kfmt"
	"osmium/kernel/mm"
)

// RegionType describes how the bootloader classified a physical memory region.
type RegionType uint32

const (
	// RegionAvailable flags a region as free for allocation.
	RegionAvailable RegionType = iota

	// RegionReserved flags a region the kernel must never allocate from.
	RegionReserved
)

// String returns the name of the region type for memory-map dumps.
func (t RegionType) String() string {
	switch t {
	case RegionAvailable:
		return "available"
	case RegionReserved:
		return "reserved"
	}
	return "unknown"
}

// Region describes one physical memory region discovered during boot.
type Region struct {
	PhysAddress uint64
	Length      uint64
	Type        RegionType
}

var (
	// earlyAllocator is a boot mem allocator instance used for page
	// allocations before a more advanced allocator takes over.
	earlyAllocator bootMemAllocator

	// memoryLayout holds the regions registered via SetMemoryLayout.
	memoryLayout []Region

	errBootAllocOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}
	errNoMemoryLayout       = &kernel.Error{Module: "boot_mem_alloc", Message: "no memory layout has been registered"}
)

// SetMemoryLayout registers the physical memory regions discovered during
// boot. The bring-up sequencer calls it before Init; how the layout gets
// discovered (multiboot, UEFI, device tree) is the boot stub's business.
func SetMemoryLayout(regions []Region) {
	memoryLayout = regions
}

// visitRegions invokes visitFn for each registered memory region, stopping
// early if visitFn returns false.
func visitRegions(visitFn func(region *Region) bool) {
	for i := range memoryLayout {
		if !visitFn(&memoryLayout[i]) {
			return
		}
	}
}

// bootMemAllocator implements a rudimentary physical memory allocator which is
// used to bootstrap the kernel.
//
// The allocator implementation uses the registered memory region information
// to detect free memory blocks and return the next available free frame.
// Allocations are tracked via an internal counter that contains the last
// allocated frame.
//
// Due to the way that the allocator works, it is not possible to free
// allocated pages. Once the kernel is properly initialized, the allocated
// blocks will be handed over to a more advanced memory allocator that does
// support freeing.
type bootMemAllocator struct {
	// allocCount tracks the total number of allocated frames.
	allocCount uint64

	// lastAllocFrame tracks the last allocated frame number.
	lastAllocFrame mm.Frame

	// Keep track of kernel location so we exclude this region.
	kernelStartAddr, kernelEndAddr   uintptr
	kernelStartFrame, kernelEndFrame mm.Frame
}

// init sets up the boot memory allocator internal state.
func (alloc *bootMemAllocator) init(kernelStart, kernelEnd uintptr) {
	// round down kernel start to the nearest page and round up kernel end
	// to the nearest page.
	pageSizeMinus1 := uintptr(mm.PageSize - 1)
	alloc.kernelStartAddr = kernelStart
	alloc.kernelEndAddr = kernelEnd
	alloc.kernelStartFrame = mm.Frame((kernelStart & ^pageSizeMinus1) >> mm.PageShift)
	alloc.kernelEndFrame = mm.Frame(((kernelEnd+pageSizeMinus1) & ^pageSizeMinus1)>>mm.PageShift) - 1
}

// AllocFrame scans the registered memory regions and reserves the next
// available free frame.
//
// AllocFrame returns an error if no more memory can be allocated.
func (alloc *bootMemAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	var err = errBootAllocOutOfMemory

	visitRegions(func(region *Region) bool {
		// Ignore reserved regions and regions smaller than a single page
		if region.Type != RegionAvailable || region.Length < uint64(mm.PageSize) {
			return true
		}

		// Reported addresses may not be page-aligned; round up to get
		// the start frame and round down to get the end frame
		pageSizeMinus1 := uint64(mm.PageSize - 1)
		regionStartFrame := mm.Frame(((region.PhysAddress + pageSizeMinus1) & ^pageSizeMinus1) >> mm.PageShift)
		regionEndFrame := mm.Frame(((region.PhysAddress+region.Length) & ^pageSizeMinus1)>>mm.PageShift) - 1

		// Skip over already allocated regions
		if alloc.lastAllocFrame >= regionEndFrame {
			return true
		}

		// If last frame used a different region and the kernel image
		// is located at the beginning of this region OR we are in
		// current region but lastAllocFrame + 1 points to the kernel
		// start we need to jump to the page following the kernel end
		// frame
		if (alloc.lastAllocFrame <= regionStartFrame && alloc.kernelStartFrame == regionStartFrame) ||
			(alloc.lastAllocFrame <= regionEndFrame && alloc.lastAllocFrame+1 == alloc.kernelStartFrame) {
			alloc.lastAllocFrame = alloc.kernelEndFrame + 1
		} else if alloc.lastAllocFrame < regionStartFrame || alloc.allocCount == 0 {
			// we are in the previous region and need to jump to this one OR
			// this is the first allocation and the region begins at frame 0
			alloc.lastAllocFrame = regionStartFrame
		} else {
			// we are in the region and we can select the next frame
			alloc.lastAllocFrame++
		}

		// The above adjustment might push lastAllocFrame outside of the
		// region end (e.g kernel ends at last page in the region)
		if alloc.lastAllocFrame > regionEndFrame {
			return true
		}

		err = nil
		return false
	})

	if err != nil {
		return mm.InvalidFrame, errBootAllocOutOfMemory
	}

	alloc.allocCount++
	return alloc.lastAllocFrame, nil
}

// printMemoryMap prints out the system memory map as registered via
// SetMemoryLayout.
func (alloc *bootMemAllocator) printMemoryMap() {
	kfmt.Printf("[boot_mem_alloc] system memory map:\n")
	var totalFree uint64
	visitRegions(func(region *Region) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())

		if region.Type == RegionAvailable {
			totalFree += region.Length
		}
		return true
	})
	kfmt.Printf("[boot_mem_alloc] available memory: %dKb\n", totalFree/1024)
	kfmt.Printf("[boot_mem_alloc] kernel loaded at 0x%x - 0x%x\n", alloc.kernelStartAddr, alloc.kernelEndAddr)
	kfmt.Printf("[boot_mem_alloc] size: %d bytes, reserved pages: %d\n",
		uint64(alloc.kernelEndAddr-alloc.kernelStartAddr),
		uint64(alloc.kernelEndFrame-alloc.kernelStartFrame+1),
	)
}

// Init sets up the kernel physical memory allocation sub-system and registers
// the boot allocator as the frame source consumed by the vmm code. It fails
// if no memory layout has been registered.
func Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	if len(memoryLayout) == 0 {
		return errNoMemoryLayout
	}

	earlyAllocator.init(kernelStart, kernelEnd)
	earlyAllocator.printMemoryMap()
	mm.SetFrameAllocator(earlyAllocFrame)
	return nil
}

func earlyAllocFrame() (mm.Frame, *kernel.Error) {
	return earlyAllocator.AllocFrame()
}
