package vmm

import (
	"unsafe"

	"osmium/kernel"
	"osmium/kernel/cpu"
	"osmium/kernel/mm"
)

var (
	// flushTLBEntryFn is used by tests to override calls to FlushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry
)

// MapToPhysicalRange establishes translations so that virt covers phys using
// standard-size pages only. Both ranges must have equal lengths and be
// page-aligned. If any page covered by virt is already translated by this
// table, ErrAlreadyMapped is returned and the table is left untouched.
//
// No translation caches are flushed; callers are expected to batch TLB
// maintenance after building their full mapping plan.
func (pt *PageTable) MapToPhysicalRange(virt mm.VirtualRange, phys mm.PhysicalRange, flags PageTableEntryFlag) *kernel.Error {
	if virt.Size != phys.Size || !virt.AlignedTo(mm.PageSize) || !phys.AlignedTo(mm.PageSize) {
		return ErrUnexpected
	}

	if pt.rangeMapped(virt) {
		return ErrAlreadyMapped
	}

	var (
		page  = virt.StartPage()
		frame = phys.StartFrame()
	)
	for count := virt.PageCount(); count > 0; count, page, frame = count-1, page+1, frame+1 {
		if err := pt.mapPage(page.Address(), frame, flags, pageLevels-1); err != nil {
			return err
		}
	}

	return nil
}

// MapToPhysicalRangeAllPageSizes behaves like MapToPhysicalRange but uses big
// pages for any naturally aligned 2Mb chunk of the request whose target
// next-to-last level slot is still empty, falling back to standard pages for
// the rest.
func (pt *PageTable) MapToPhysicalRangeAllPageSizes(virt mm.VirtualRange, phys mm.PhysicalRange, flags PageTableEntryFlag) *kernel.Error {
	if virt.Size != phys.Size || !virt.AlignedTo(mm.PageSize) || !phys.AlignedTo(mm.PageSize) {
		return ErrUnexpected
	}

	if pt.rangeMapped(virt) {
		return ErrAlreadyMapped
	}

	var (
		virtAddr = virt.Base
		physAddr = phys.Base
		left     = virt.Size
	)
	for left > 0 {
		if left >= mm.BigPageSize &&
			virtAddr&(mm.BigPageSize-1) == 0 &&
			physAddr&(mm.BigPageSize-1) == 0 &&
			pt.bigPageSlotFree(virtAddr) {
			if err := pt.mapPage(virtAddr, mm.FrameFromAddress(physAddr), flags|FlagBigPage, pageLevels-2); err != nil {
				return err
			}
			virtAddr, physAddr, left = virtAddr+mm.BigPageSize, physAddr+mm.BigPageSize, left-mm.BigPageSize
			continue
		}

		if err := pt.mapPage(virtAddr, mm.FrameFromAddress(physAddr), flags, pageLevels-1); err != nil {
			return err
		}
		virtAddr, physAddr, left = virtAddr+mm.PageSize, physAddr+mm.PageSize, left-mm.PageSize
	}

	return nil
}

// Unmap removes the translations covering virt. Intermediate table levels
// that become empty are not reclaimed and the previously mapped frames are
// never freed; both remain the memory manager's responsibility. A big-page
// translation may only be removed by a range that covers it entirely.
func (pt *PageTable) Unmap(virt mm.VirtualRange) *kernel.Error {
	if !virt.AlignedTo(mm.PageSize) {
		return ErrUnexpected
	}

	var (
		virtAddr = virt.Base
		left     = virt.Size
		active   = pt.IsActive()
	)

	for left > 0 {
		var (
			err     *kernel.Error
			stepped uintptr
		)

		pt.walk(virtAddr, pageLevels-1, func(pteLevel uint8, pte *pageTableEntry) bool {
			if !pte.HasFlags(FlagPresent) {
				err = ErrInvalidMapping
				return false
			}

			if pteLevel == pageLevels-2 && pte.HasFlags(FlagBigPage) {
				if virtAddr&(mm.BigPageSize-1) != 0 || left < mm.BigPageSize {
					err = ErrUnexpected
					return false
				}

				pte.ClearFlags(FlagPresent)
				stepped = mm.BigPageSize
				return false
			}

			if pteLevel == pageLevels-1 {
				pte.ClearFlags(FlagPresent)
				stepped = mm.PageSize
			}

			return true
		})

		if err != nil {
			return err
		}

		if active {
			flushTLBEntryFn(virtAddr)
		}

		virtAddr, left = virtAddr+stepped, left-stepped
	}

	return nil
}

// mapPage installs a single translation for virtAddr at stopLevel, allocating
// and zeroing any missing intermediate table levels on the way down.
func (pt *PageTable) mapPage(virtAddr uintptr, frame mm.Frame, flags PageTableEntryFlag, stopLevel uint8) *kernel.Error {
	var err *kernel.Error

	pt.walk(virtAddr, stopLevel, func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == stopLevel {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags | FlagPresent)
			return true
		}

		if pte.HasFlags(FlagPresent | FlagBigPage) {
			// A larger page already translates this address; the
			// pre-scan should have caught it.
			err = ErrUnexpected
			return false
		}

		if !pte.HasFlags(FlagPresent) {
			var tableFrame mm.Frame
			if tableFrame, err = mm.AllocFrame(); err != nil {
				err = ErrAllocationFailed
				return false
			}

			memsetFn(uintptr(unsafe.Pointer(tablePtrFn(tableFrame))), 0, mm.PageSize)

			*pte = 0
			pte.SetFrame(tableFrame)
			pte.SetFlags(FlagPresent | FlagRW)
		}

		return true
	})

	return err
}

// rangeMapped returns true if any page covered by virt is already translated
// by this table, either through a standard page or a big page.
func (pt *PageTable) rangeMapped(virt mm.VirtualRange) bool {
	var (
		page   = virt.StartPage()
		mapped bool
	)

	for count := virt.PageCount(); count > 0 && !mapped; count, page = count-1, page+1 {
		pt.walk(page.Address(), pageLevels-1, func(pteLevel uint8, pte *pageTableEntry) bool {
			if !pte.HasFlags(FlagPresent) {
				return false
			}

			if pteLevel == pageLevels-1 || pte.HasFlags(FlagBigPage) {
				mapped = true
				return false
			}

			return true
		})
	}

	return mapped
}

// bigPageSlotFree returns true if the next-to-last level entry governing
// virtAddr either does not exist yet or is not present, making it usable for
// a big-page translation.
func (pt *PageTable) bigPageSlotFree(virtAddr uintptr) bool {
	free := true

	pt.walk(virtAddr, pageLevels-2, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		if pteLevel == pageLevels-2 {
			free = false
		}

		return true
	})

	return free
}
