package cpu

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// FlagsRegister returns the current contents of the RFLAGS register.
func FlagsRegister() uint64

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPageTable sets the active translation root (CR3) to the specified
// physical address and flushes the TLB.
func SwitchPageTable(tablePhysAddr uintptr)

// ActivePageTable returns the physical address of the currently active page
// table.
func ActivePageTable() uintptr

// SetTaskPriority writes the supplied priority threshold to the CR8 (TPR)
// register. Interrupts with a priority class at or below the threshold are
// held pending.
func SetTaskPriority(prio uint8)

// SetGSBase points the GS segment base register at the supplied address. The
// kernel uses GS-relative addressing for core-local storage.
func SetGSBase(addr uintptr)

// GSBase returns the current GS segment base register contents.
func GSBase() uintptr

// ReadMSR returns the contents of the model-specific register msr.
func ReadMSR(msr uint32) uint64

// WriteMSR writes value to the model-specific register msr.
func WriteMSR(msr uint32, value uint64)

// ReadTSC returns the current value of the time-stamp counter.
func ReadTSC() uint64

// BroadcastNMI delivers a non-maskable interrupt to every core except the
// caller via the local APIC. Delivery is fire-and-forget; the APIC does not
// report whether any target acted on it.
func BroadcastNMI()

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}

// HasAPIC returns true if the processor exposes a local APIC. The APIC is
// required for the interrupt-priority threshold and the panic broadcast.
func HasAPIC() bool {
	_, _, _, edx := cpuidFn(1)
	return edx&(1<<9) != 0
}

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)
