package kfmt

import (
	"bytes"
	"errors"
	"testing"

	"osmium/kernel"
	"osmium/kernel/cpu"
)

func freshSink() *bytes.Buffer {
	earlyPrintBuffer = ringBuffer{}
	var buf bytes.Buffer
	SetOutputSink(&buf)
	return &buf
}

func TestPanic(t *testing.T) {
	defer func() {
		cpuHaltFn = cpu.Halt
		broadcastNMIFn = cpu.BroadcastNMI
		outputSink = nil
	}()

	var cpuHaltCalled, nmiBroadcast bool
	cpuHaltFn = func() {
		cpuHaltCalled = true
	}
	broadcastNMIFn = func() {
		if cpuHaltCalled {
			t.Error("expected the other cores to be stopped before halting")
		}
		nmiBroadcast = true
	}

	t.Run("with *kernel.Error", func(t *testing.T) {
		cpuHaltCalled, nmiBroadcast = false, false
		buf := freshSink()

		Panic(&kernel.Error{Module: "test", Message: "panic test"})

		exp := "\n-----------------------------------\n[test] unrecoverable error: panic test\n*** kernel panic: system halted ***\n-----------------------------------\n"

		if got := buf.String(); got != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
		}

		if !nmiBroadcast || !cpuHaltCalled {
			t.Fatal("expected Panic to broadcast an NMI and halt the CPU")
		}
	})

	t.Run("with error", func(t *testing.T) {
		cpuHaltCalled, nmiBroadcast = false, false
		buf := freshSink()

		Panic(errors.New("go error"))

		exp := "\n-----------------------------------\n[rt] unrecoverable error: go error\n*** kernel panic: system halted ***\n-----------------------------------\n"

		if got := buf.String(); got != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
		}

		if !nmiBroadcast || !cpuHaltCalled {
			t.Fatal("expected Panic to broadcast an NMI and halt the CPU")
		}
	})

	t.Run("with string", func(t *testing.T) {
		cpuHaltCalled, nmiBroadcast = false, false
		buf := freshSink()

		Panic("string error")

		exp := "\n-----------------------------------\n[rt] unrecoverable error: string error\n*** kernel panic: system halted ***\n-----------------------------------\n"

		if got := buf.String(); got != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
		}

		if !nmiBroadcast || !cpuHaltCalled {
			t.Fatal("expected Panic to broadcast an NMI and halt the CPU")
		}
	})
}

func TestDebugSink(t *testing.T) {
	defer func() {
		portWriteByteFn = cpu.PortWriteByte
		outputSink = nil
	}()

	var written []byte
	portWriteByteFn = func(port uint16, val uint8) {
		if port != debugPort {
			t.Errorf("expected writes to go to port 0x%x; got 0x%x", debugPort, port)
		}
		written = append(written, val)
	}

	earlyPrintBuffer = ringBuffer{}
	EnableEarlyDebugOutput()
	Printf("dbg %d", 42)

	if exp, got := "dbg 42", string(written); got != exp {
		t.Fatalf("expected debug port to receive %q; got %q", exp, got)
	}
}
