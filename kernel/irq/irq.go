// Package irq controls the calling core's interrupt mask and hosts the
// exception-dispatch types for the selected architecture.
package irq

import "osmium/kernel/cpu"

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	enableInterruptsFn  = cpu.EnableInterrupts
	disableInterruptsFn = cpu.DisableInterrupts
	interruptsEnabledFn = interruptsEnabled
)

// Enable unmasks interrupt delivery on the calling core. Calling Enable while
// interrupts are already enabled has no effect.
func Enable() {
	enableInterruptsFn()
}

// Disable masks interrupt delivery on the calling core. Calling Disable while
// interrupts are already disabled has no effect.
func Disable() {
	disableInterruptsFn()
}

// Enabled returns true if the calling core currently accepts interrupts.
func Enabled() bool {
	return interruptsEnabledFn()
}

// Guard captures the interrupt-enabled state of the calling core at Acquire
// time and forces interrupts off. Release restores the captured state rather
// than unconditionally enabling, so nested guards compose: an inner Release
// can never re-enable interrupts that an outer guard is still suppressing.
//
// A guard must be released exactly once, on the same core that acquired it.
type Guard struct {
	wasEnabled bool
}

// Acquire snapshots the current interrupt state and disables interrupts.
func (g *Guard) Acquire() {
	g.wasEnabled = interruptsEnabledFn()
	disableInterruptsFn()
}

// Release restores the interrupt state captured by Acquire.
func (g *Guard) Release() {
	if g.wasEnabled {
		enableInterruptsFn()
	}
}
