package vmm

import (
	"osmium/kernel"
	"osmium/kernel/irq"
	"osmium/kernel/kfmt"
)

var (
	// readCR2Fn and handleExceptionWithCodeFn are mocked by tests.
	readCR2Fn                 = readCR2
	handleExceptionWithCodeFn = irq.HandleExceptionWithCode

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}
)

// readCR2 returns the faulting address stored in the CR2 register.
func readCR2() uint64

// InstallFaultHandlers registers the paging-related exception handlers. It is
// invoked by the bring-up sequencer as part of the interrupt-vector step.
func InstallFaultHandlers() {
	handleExceptionWithCodeFn(irq.PageFaultException, pageFaultHandler)
	handleExceptionWithCodeFn(irq.GPFException, generalProtectionFaultHandler)
}

// pageFaultHandler is invoked when a page table level or entry is not present
// or when a privilege or RW protection check fails. Nothing at this layer can
// recover a fault; the handler reports it and halts.
func pageFaultHandler(errorCode uint64, frame *irq.Frame, regs *irq.Regs) {
	faultAddress := uintptr(readCR2Fn())

	kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", faultAddress)
	switch errorCode {
	case 0:
		kfmt.Printf("read from non-present page")
	case 1:
		kfmt.Printf("page protection violation (read)")
	case 2:
		kfmt.Printf("write to non-present page")
	case 3:
		kfmt.Printf("page protection violation (write)")
	case 4:
		kfmt.Printf("page-fault in user-mode")
	case 8:
		kfmt.Printf("page table has reserved bit set")
	case 16:
		kfmt.Printf("instruction fetch")
	default:
		kfmt.Printf("unknown")
	}

	kfmt.Printf("\n\nRegisters:\n")
	regs.Print()
	frame.Print()

	panicFn(errUnrecoverableFault)
}

// generalProtectionFaultHandler is invoked for various reasons:
// - segment errors (privilege, type or limit violations)
// - executing privileged instructions outside ring-0
// - attempts to access reserved or unimplemented CPU registers
func generalProtectionFaultHandler(_ uint64, frame *irq.Frame, regs *irq.Regs) {
	kfmt.Printf("\nGeneral protection fault while accessing address: 0x%x\n", readCR2Fn())
	kfmt.Printf("Registers:\n")
	regs.Print()
	frame.Print()

	panicFn(errUnrecoverableFault)
}

// panicFn is mocked by tests; kfmt.Panic halts the CPU.
var panicFn = kfmt.Panic
