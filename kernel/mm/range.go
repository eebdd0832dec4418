package mm

// VirtualRange describes a contiguous block of virtual address space.
type VirtualRange struct {
	Base uintptr
	Size uintptr
}

// PhysicalRange describes a contiguous block of physical address space.
type PhysicalRange struct {
	Base uintptr
	Size uintptr
}

// AlignedTo returns true if both the base and size of this range are
// multiples of granularity.
func (r VirtualRange) AlignedTo(granularity uintptr) bool {
	return r.Base&(granularity-1) == 0 && r.Size&(granularity-1) == 0
}

// StartPage returns the first page covered by this range.
func (r VirtualRange) StartPage() Page {
	return PageFromAddress(r.Base)
}

// PageCount returns the number of standard pages required to cover this range.
func (r VirtualRange) PageCount() uintptr {
	return (r.Size + PageSize - 1) >> PageShift
}

// AlignedTo returns true if both the base and size of this range are
// multiples of granularity.
func (r PhysicalRange) AlignedTo(granularity uintptr) bool {
	return r.Base&(granularity-1) == 0 && r.Size&(granularity-1) == 0
}

// StartFrame returns the first frame covered by this range.
func (r PhysicalRange) StartFrame() Frame {
	return FrameFromAddress(r.Base)
}
