package irq

import "osmium/kernel/cpu"

// rflagsIF is the interrupt-enable bit of the RFLAGS register.
const rflagsIF = uint64(1 << 9)

var (
	flagsRegisterFn   = cpu.FlagsRegister
	setTaskPriorityFn = cpu.SetTaskPriority
	broadcastNMIFn    = cpu.BroadcastNMI
)

// interruptsEnabled reports whether the IF flag is set on the calling core.
func interruptsEnabled() bool {
	return flagsRegisterFn()&rflagsIF != 0
}

// SetTaskPriority programs the core's interrupt-priority threshold (TPR).
// Interrupt vectors with a priority class at or below prio are held pending,
// which lets critical sections exclude low-priority interrupts without a full
// mask.
func SetTaskPriority(prio uint8) {
	setTaskPriorityFn(prio)
}

// PanicInterruptOtherCores asks every other core to stop executing during a
// fatal error. Delivery uses an NMI broadcast so it cannot be masked by the
// targets, requires no acknowledgment and cannot block the caller: a core
// that is unresponsive or itself mid-panic is simply not waited for.
func PanicInterruptOtherCores() {
	broadcastNMIFn()
}
