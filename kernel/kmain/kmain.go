package kmain

import (
	"osmium/kernel"
	"osmium/kernel/hal"
	"osmium/kernel/kfmt"
)

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// Kmain is the only Go symbol that is visible (exported) to the rt0
// initialization code. The rt0 code invokes it after setting up the GDT and a
// minimal g0 struct, passing a pointer to the boot information block it
// assembled from the bootloader handoff.
//
// Kmain runs the hardware bring-up sequence and is then expected to hand the
// core to the scheduler. It must never return; if it does, the rt0 code will
// halt the CPU.
//
//go:noinline
func Kmain(bootInfo *hal.BootInfo) {
	hal.Setup(bootInfo)

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating it as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}
