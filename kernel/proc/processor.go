// Package proc owns the per-core control blocks and the primitives that move
// a core between executing nothing and executing a kernel thread. Everything
// here runs with interrupts disabled; the package treats a violation of that
// discipline as a programming error and halts.
package proc

import (
	"osmium/kernel"
	"osmium/kernel/irq"
	"osmium/kernel/kfmt"
)

// maxProcessors bounds the size of the processor registry. Core records are
// registered during bring-up and never removed.
const maxProcessors = 256

// ID identifies a core. The bootstrap core always gets BootstrapID; the
// remaining cores receive opaque indices in registration order.
type ID uint32

// BootstrapID is the identifier of the core the firmware hands control to.
const BootstrapID = ID(0)

var (
	// the interrupt mask and panic functions are mocked by tests.
	interruptsEnabledFn = irq.Enabled
	enableInterruptsFn  = irq.Enable
	disableInterruptsFn = irq.Disable
	panicFn             = kfmt.Panic

	// loadCurrentFn resolves the calling core's Processor record through
	// the architecture's core-local storage. Tests override it; the real
	// implementation lives in the arch-specific file.
	loadCurrentFn = currentFromCoreLocal

	errCurrentWithInterrupts = &kernel.Error{Module: "proc", Message: "current processor read with interrupts enabled"}
	errNoProcessorRecord     = &kernel.Error{Module: "proc", Message: "no processor record loaded on this core"}
	errPopWithoutPush        = &kernel.Error{Module: "proc", Message: "interrupt-disable depth underflow"}
	errRegistryFull          = &kernel.Error{Module: "proc", Message: "processor registry is full"}
)

// Processor is the control block for one core. A record is created once when
// the core is discovered during bring-up and lives for the kernel's lifetime;
// only the owning core ever mutates it.
type Processor struct {
	id ID

	// state tracks whether the core is idle or running a thread.
	state State

	// currentThread points to the thread executing on this core. The
	// record does not own the thread; the reference is cleared when the
	// core returns to idle.
	currentThread *Thread

	// intDisableDepth counts nested PushInterruptDisable calls.
	// intEnabledAtFirst remembers the mask state before the outermost
	// push so the final pop can restore it.
	intDisableDepth   uint32
	intEnabledAtFirst bool

	arch processorArchState
}

// ID returns this core's identifier.
func (p *Processor) ID() ID { return p.id }

// State returns the core's current execution state.
func (p *Processor) State() State { return p.state }

// CurrentThread returns the thread executing on this core or nil while idle.
func (p *Processor) CurrentThread() *Thread { return p.currentThread }

// PushInterruptDisable disables interrupts on the calling core and increments
// the nesting depth. Pushes and pops pair like a stack: interrupts are only
// re-enabled by the pop matching the outermost push, and only if they were
// enabled before it.
func (p *Processor) PushInterruptDisable() {
	wasEnabled := interruptsEnabledFn()
	disableInterruptsFn()

	if p.intDisableDepth == 0 {
		p.intEnabledAtFirst = wasEnabled
	}
	p.intDisableDepth++
}

// PopInterruptDisable undoes one PushInterruptDisable. Popping more times
// than pushed is a programming error and halts.
func (p *Processor) PopInterruptDisable() {
	if p.intDisableDepth == 0 {
		panicFn(errPopWithoutPush)
		return
	}

	p.intDisableDepth--
	if p.intDisableDepth == 0 && p.intEnabledAtFirst {
		enableInterruptsFn()
	}
}

var (
	// registry holds one entry per detected core, populated during
	// bring-up. There is no teardown.
	registry      [maxProcessors]*Processor
	registryCount int
)

// RegisterProcessor adds a prepared Processor record to the registry.
func RegisterProcessor(p *Processor) *kernel.Error {
	if registryCount == len(registry) {
		return errRegistryFull
	}

	registry[registryCount] = p
	registryCount++
	return nil
}

// ProcessorCount returns the number of registered cores.
func ProcessorCount() int { return registryCount }

// ProcessorByIndex returns the idx-th registered core record or nil if no
// such record exists.
func ProcessorByIndex(idx int) *Processor {
	if idx < 0 || idx >= registryCount {
		return nil
	}
	return registry[idx]
}

// CurrentProcessor returns the calling core's Processor record. Interrupts
// must be disabled by the caller: without that discipline an interrupt
// handler on the same core could observe the core-local slot mid-update.
// Calling with interrupts enabled, or before LoadProcessor has run on this
// core, is a programming error and halts.
func CurrentProcessor() *Processor {
	if interruptsEnabledFn() {
		panicFn(errCurrentWithInterrupts)
		return nil
	}

	p := loadCurrentFn()
	if p == nil {
		panicFn(errNoProcessorRecord)
	}
	return p
}

// EarlyCurrentProcessor behaves like CurrentProcessor but returns nil instead
// of halting when no record has been installed yet. It exists for code that
// runs before LoadProcessor on a core.
func EarlyCurrentProcessor() *Processor {
	if interruptsEnabledFn() {
		panicFn(errCurrentWithInterrupts)
		return nil
	}

	return loadCurrentFn()
}
