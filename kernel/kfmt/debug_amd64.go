package kfmt

import "osmium/kernel/cpu"

// debugPort is the qemu/bochs debug console port. Bytes written to it appear
// on the emulator's debugcon output with no device setup required, which
// makes it usable before any real driver is up.
const debugPort = uint16(0xe9)

var portWriteByteFn = cpu.PortWriteByte

// debugSink forwards written bytes to the platform debug port.
type debugSink struct{}

func (debugSink) Write(p []byte) (int, error) {
	for _, b := range p {
		portWriteByteFn(debugPort, b)
	}
	return len(p), nil
}

// EnableEarlyDebugOutput redirects Printf output to the platform debug port
// and drains anything buffered so far. The bring-up sequencer calls this as
// its very first step so later steps can report progress.
func EnableEarlyDebugOutput() {
	SetOutputSink(debugSink{})
}
