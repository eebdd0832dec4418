package proc

import (
	"runtime"
	"testing"
	"unsafe"

	"osmium/kernel/mm"
)

func testStackRegion(words int) (mm.VirtualRange, []uint64) {
	backing := make([]uint64, words)
	return mm.VirtualRange{
		Base: uintptr(unsafe.Pointer(&backing[0])),
		Size: uintptr(words) << mm.PointerShift,
	}, backing
}

func TestStackPushAndCursor(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 word layout")
	}

	region, backing := testStackRegion(8)
	s := NewStack(region)

	if got := s.Top(); got != region.Base+region.Size {
		t.Fatalf("expected stack top to be 0x%x; got 0x%x", region.Base+region.Size, got)
	}

	if s.Pointer() != s.Top() {
		t.Fatal("expected the cursor of an empty stack to sit at the top")
	}

	values := []uintptr{0xdead, 0xbeef, 0xf00d}
	for i, v := range values {
		if err := s.PushValue(v); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}

		if exp, got := s.Top()-uintptr(i+1)*wordSize, s.Pointer(); got != exp {
			t.Fatalf("push %d: expected cursor 0x%x; got 0x%x", i, exp, got)
		}
	}

	if err := s.PushReturnAddress(0xbadc0de); err != nil {
		t.Fatalf("push return address: %v", err)
	}

	for i, exp := range []uint64{0xdead, 0xbeef, 0xf00d, 0xbadc0de} {
		if got := backing[len(backing)-1-i]; got != exp {
			t.Fatalf("word %d below the top: expected 0x%x; got 0x%x", i, exp, got)
		}
	}

	if exp, got := uintptr(len(backing)-4)*wordSize, s.Remaining(); got != exp {
		t.Fatalf("expected %d bytes remaining; got %d", exp, got)
	}
}

func TestStackOverflow(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 word layout")
	}

	region, backing := testStackRegion(1)
	s := NewStack(region)

	if err := s.PushValue(1); err != nil {
		t.Fatalf("push into a one-word stack: %v", err)
	}

	before := s.Pointer()
	if err := s.PushValue(2); err != ErrStackOverflow {
		t.Fatalf("expected ErrStackOverflow; got %v", err)
	}

	if s.Pointer() != before {
		t.Fatal("expected the cursor to be unchanged after a failed push")
	}

	if backing[0] != 1 {
		t.Fatal("expected a failed push to leave the stack contents untouched")
	}
}
