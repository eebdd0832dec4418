package pmm

import "testing"

func TestBootMemoryAllocator(t *testing.T) {
	defer func(orig []Region) { memoryLayout = orig }(memoryLayout)

	// The layout a qemu guest reports, reduced to the two available
	// regions and the reserved hole between them:
	// [     0 -   9fc00] length:    654336
	// [100000 - 7fe0000] length: 133038080
	SetMemoryLayout([]Region{
		{PhysAddress: 0x0, Length: 0x9fc00, Type: RegionAvailable},
		{PhysAddress: 0x9fc00, Length: 0x60400, Type: RegionReserved},
		{PhysAddress: 0x100000, Length: 0x7ee0000, Type: RegionAvailable},
	})

	specs := []struct {
		kernelStart, kernelEnd uintptr
		expAllocCount          uint64
	}{
		{
			// the kernel is loaded in a reserved memory region
			0xa0000,
			0xa0000,
			// region 1 extents get rounded to [0, 9f000] and provides 159 frames [0 to 158]
			// region 2 uses the original extents [100000 - 7fe0000] and provides 32480 frames [256-32735]
			159 + 32480,
		},
		{
			// the kernel is loaded at the beginning of region 1 taking 2.5 pages
			0x0,
			0x2800,
			// frames 0,1 and 2 (round up kernel end) are used by the kernel
			159 - 3 + 32480,
		},
		{
			// the kernel is loaded at the end of region 1 taking 2.5 pages
			0x9c800,
			0x9f000,
			// frames 156,157 and 158 (round down kernel start) are used by the kernel
			159 - 3 + 32480,
		},
		{
			// the kernel (after rounding) uses the entire region 1
			0x123,
			0x9fc00,
			32480,
		},
		{
			// the kernel is loaded at region 2 start + 2K taking 1.5 pages
			0x100800,
			0x102000,
			// frames 256 (kernel start rounded down) and 257 are used by the kernel
			159 + 32480 - 2,
		},
	}

	var alloc bootMemAllocator
	for specIndex, spec := range specs {
		alloc.allocCount = 0
		alloc.lastAllocFrame = 0
		alloc.init(spec.kernelStart, spec.kernelEnd)

		for {
			frame, err := alloc.AllocFrame()
			if err != nil {
				if err == errBootAllocOutOfMemory {
					break
				}
				t.Errorf("[spec %d] [frame %d] unexpected allocator error: %v", specIndex, alloc.allocCount, err)
				break
			}

			if frame != alloc.lastAllocFrame {
				t.Errorf("[spec %d] [frame %d] expected allocated frame to be %d; got %d", specIndex, alloc.allocCount, alloc.lastAllocFrame, frame)
			}

			if !frame.Valid() {
				t.Errorf("[spec %d] [frame %d] expected Valid() to return true", specIndex, alloc.allocCount)
			}
		}

		if alloc.allocCount != spec.expAllocCount {
			t.Errorf("[spec %d] expected allocator to allocate %d frames; allocated %d", specIndex, spec.expAllocCount, alloc.allocCount)
		}
	}
}

func TestInitRequiresMemoryLayout(t *testing.T) {
	defer func(orig []Region) { memoryLayout = orig }(memoryLayout)

	SetMemoryLayout(nil)
	if err := Init(0x100000, 0x200000); err != errNoMemoryLayout {
		t.Fatalf("expected errNoMemoryLayout; got %v", err)
	}
}
