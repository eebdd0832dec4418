package arch

import (
	"osmium/kernel/hal"
	"osmium/kernel/irq"
	"osmium/kernel/mm/vmm"
	"osmium/kernel/proc"
)

// The amd64 backend. Removing or reshaping any of these implementations
// breaks the corresponding assertion below at compile time.
var (
	_ PrepareBootstrapProcessorFn = proc.PrepareBootstrapProcessor
	_ PrepareProcessorFn          = proc.PrepareProcessor
	_ LoadProcessorFn             = proc.LoadProcessor
	_ CurrentProcessorFn          = proc.CurrentProcessor
	_ CurrentProcessorFn          = proc.EarlyCurrentProcessor

	_ EnableInterruptsFn         = irq.Enable
	_ DisableInterruptsFn        = irq.Disable
	_ InterruptsEnabledFn        = irq.Enabled
	_ SetTaskPriorityFn          = irq.SetTaskPriority
	_ PanicInterruptOtherCoresFn = irq.PanicInterruptOtherCores

	_ AllocatePageTableFn    = vmm.AllocatePageTable
	_ MapToPhysicalRangeFn   = (*vmm.PageTable).MapToPhysicalRange
	_ MapToPhysicalRangeFn   = (*vmm.PageTable).MapToPhysicalRangeAllPageSizes
	_ UnmapFn                = (*vmm.PageTable).Unmap
	_ ActivatePageTableFn    = (*vmm.PageTable).Activate
	_ ReserveTopLevelRangeFn = (*vmm.PageTable).ReserveTopLevelRange

	_ PrepareStackForNewThreadFn = proc.PrepareStackForNewThread
	_ SwitchToThreadFromIdleFn   = proc.SwitchToThreadFromIdle
	_ SwitchToThreadFromThreadFn = proc.SwitchToThreadFromThread
	_ SwitchToIdleFn             = proc.SwitchToIdle
	_ ChangeStackAndReturnFn     = proc.ChangeStackAndReturn

	_ SetupFn = hal.Setup
)
