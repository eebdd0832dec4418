// Package hal orchestrates the one-time, ordered bring-up of the hardware
// abstraction layer. Each step is a named function that assumes every prior
// step has completed; a failing step is fatal since nothing later can run
// without it.
package hal

import (
	"osmium/kernel"
	"osmium/kernel/cpu"
	"osmium/kernel/irq"
	"osmium/kernel/kfmt"
	"osmium/kernel/mm"
	"osmium/kernel/mm/pmm"
	"osmium/kernel/mm/vmm"
	"osmium/kernel/proc"
)

const (
	// msrEFER is the extended feature enable register; bit 11 turns on
	// no-execute support for page table entries.
	msrEFER    = uint32(0xc0000080)
	eferNXEBit = uint64(1) << 11

	// msrAPICBase holds the local APIC base address; bit 11 is the APIC
	// global enable flag.
	msrAPICBase    = uint32(0x1b)
	apicEnabledBit = uint64(1) << 11
)

var (
	// hardware access points mocked by tests.
	enableEarlyDebugOutputFn = kfmt.EnableEarlyDebugOutput
	registerProcessorFn      = proc.RegisterProcessor
	loadProcessorFn          = proc.LoadProcessor
	installFaultHandlersFn   = vmm.InstallFaultHandlers
	isIntelFn                = cpu.IsIntel
	hasAPICFn                = cpu.HasAPIC
	readMSRFn                = cpu.ReadMSR
	writeMSRFn               = cpu.WriteMSR
	readTSCFn                = cpu.ReadTSC
	setTaskPriorityFn        = irq.SetTaskPriority
	activeTableFn            = cpu.ActivePageTable
	panicFn                  = kfmt.Panic

	errMissingAPIC    = &kernel.Error{Module: "hal", Message: "processor does not expose a local APIC"}
	errNoMemoryLayout = &kernel.Error{Module: "hal", Message: "boot stub did not report a memory layout"}
)

// BootInfo carries the facts the boot stub discovered before handing control
// to the sequencer.
type BootInfo struct {
	// KernelStart and KernelEnd bound the physical placement of the
	// kernel image.
	KernelStart, KernelEnd uintptr

	// PhysicalMapBase is the virtual address at which the boot stub
	// mapped all of physical memory.
	PhysicalMapBase uintptr

	// MemoryLayout lists the physical memory regions reported by the
	// bootloader.
	MemoryLayout []pmm.Region

	// CmdLine is the raw kernel command line.
	CmdLine string
}

var bootCmdLine map[string]string

// BootOptions returns the kernel command line as key/value pairs. Bare words
// map to the empty string.
func BootOptions() map[string]string {
	return bootCmdLine
}

// parseCmdLine splits a raw command line of the form "k1=v1 k2 k3=v3" into a
// lookup map.
func parseCmdLine(cmdLine string) map[string]string {
	opts := make(map[string]string)
	for start := 0; start < len(cmdLine); {
		end := start
		for end < len(cmdLine) && cmdLine[end] != ' ' {
			end++
		}

		if word := cmdLine[start:end]; len(word) != 0 {
			eq := 0
			for eq < len(word) && word[eq] != '=' {
				eq++
			}

			if eq == len(word) {
				opts[word] = ""
			} else {
				opts[word[:eq]] = word[eq+1:]
			}
		}
		start = end + 1
	}

	return opts
}

// bootTSC records the time-stamp counter value captured during bring-up. It
// serves as the epoch for relative timestamps until a calibrated time source
// is registered by the timer subsystem.
var bootTSC uint64

// BootTSC returns the time-stamp counter value captured during bring-up.
func BootTSC() uint64 { return bootTSC }

type bringUpStep struct {
	name string
	fn   func(*BootInfo) *kernel.Error
}

var bringUpSteps = []bringUpStep{
	{"early output", setupEarlyOutput},
	{"bootstrap processor", setupBootstrapProcessor},
	{"interrupt vectors", setupInterruptVectors},
	{"system information", captureSystemInfo},
	{"global features", setupGlobalFeatures},
	{"per-core features", setupCoreFeatures},
	{"time source", setupTimeSource},
	{"local interrupt controller", setupLocalInterruptController},
	{"memory layout", discoverMemoryLayout},
	{"physical memory manager", setupPhysicalMemory},
	{"virtual memory manager", setupVirtualMemory},
}

// Setup runs the bring-up sequence. It is called exactly once, by the
// bootstrap core, before the scheduler takes over. A step failure halts the
// machine.
func Setup(info *BootInfo) {
	for _, step := range bringUpSteps {
		kfmt.Printf("[hal] init %s\n", step.name)
		if err := step.fn(info); err != nil {
			panicFn(err)
			return
		}
	}
}

func setupEarlyOutput(info *BootInfo) *kernel.Error {
	enableEarlyDebugOutputFn()
	bootCmdLine = parseCmdLine(info.CmdLine)
	return nil
}

func setupBootstrapProcessor(_ *BootInfo) *kernel.Error {
	p := proc.PrepareBootstrapProcessor()
	if err := registerProcessorFn(p); err != nil {
		return err
	}

	loadProcessorFn(p)
	return nil
}

func setupInterruptVectors(_ *BootInfo) *kernel.Error {
	installFaultHandlersFn()
	return nil
}

func captureSystemInfo(_ *BootInfo) *kernel.Error {
	w := &kfmt.PrefixWriter{Sink: kfmt.GetOutputSink(), Prefix: []byte("[hal] ")}

	vendor := "other"
	if isIntelFn() {
		vendor = "intel"
	}
	kfmt.Fprintf(w, "cpu vendor: %s\nlocal apic: %t\n", vendor, hasAPICFn())
	return nil
}

// setupGlobalFeatures switches on the processor features the rest of the
// kernel assumes, currently just no-execute page protection.
func setupGlobalFeatures(_ *BootInfo) *kernel.Error {
	writeMSRFn(msrEFER, readMSRFn(msrEFER)|eferNXEBit)
	return nil
}

// setupCoreFeatures applies the per-core interrupt configuration: accept
// interrupts of every priority class.
func setupCoreFeatures(_ *BootInfo) *kernel.Error {
	setTaskPriorityFn(0)
	return nil
}

func setupTimeSource(_ *BootInfo) *kernel.Error {
	bootTSC = readTSCFn()
	return nil
}

// setupLocalInterruptController makes sure the local APIC is globally
// enabled; the interrupt-priority threshold and the panic broadcast both
// depend on it.
func setupLocalInterruptController(_ *BootInfo) *kernel.Error {
	if !hasAPICFn() {
		return errMissingAPIC
	}

	writeMSRFn(msrAPICBase, readMSRFn(msrAPICBase)|apicEnabledBit)
	return nil
}

func discoverMemoryLayout(info *BootInfo) *kernel.Error {
	if len(info.MemoryLayout) == 0 {
		return errNoMemoryLayout
	}

	pmm.SetMemoryLayout(info.MemoryLayout)
	return nil
}

func setupPhysicalMemory(info *BootInfo) *kernel.Error {
	return pmm.Init(info.KernelStart, info.KernelEnd)
}

// setupVirtualMemory adopts the translation table the boot stub built as the
// shared kernel page table. Its upper half seeds every later per-process
// table.
func setupVirtualMemory(info *BootInfo) *kernel.Error {
	vmm.SetPhysicalMapBase(info.PhysicalMapBase)

	pt := vmm.PageTableFromFrame(mm.FrameFromAddress(activeTableFn()))
	vmm.SetKernelPageTable(&pt)
	return nil
}
