package tlbprog

import (
	"testing"

	"swvm/mipsarch"
)

type fakeWriter struct {
	hi     mipsarch.TLBHi
	lo     mipsarch.TLBLo
	writes int
}

func (w *fakeWriter) WriteRandom(hi mipsarch.TLBHi, lo mipsarch.TLBLo) {
	w.hi, w.lo = hi, lo
	w.writes++
}

func TestSoftIRQRaiseRestore(t *testing.T) {
	var s SoftIRQ
	prev := s.Raise()
	if prev != 0 {
		t.Fatalf("initial level should be 0, got %d", prev)
	}
	s.Restore(prev)
}

func TestSoftIRQNestedRaisePanics(t *testing.T) {
	var s SoftIRQ
	s.Raise()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on nested raise")
		}
	}()
	s.Raise()
}

func TestSoftIRQRestoreWithoutRaisePanics(t *testing.T) {
	var s SoftIRQ
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on restore without raise")
		}
	}()
	s.Restore(0)
}

func TestProgramWritesUnderMask(t *testing.T) {
	var im SoftIRQ
	w := &fakeWriter{}
	hi := mipsarch.TLBHi(0x00403000)
	lo := mipsarch.TLBLo(0x00500000) | mipsarch.TLBLo(mipsarch.PTEValid)
	Program(&im, w, hi, lo)
	if w.writes != 1 {
		t.Fatalf("expected exactly one write, got %d", w.writes)
	}
	if w.hi != hi || w.lo != lo {
		t.Fatalf("wrote (%#x,%#x), want (%#x,%#x)", w.hi, w.lo, hi, lo)
	}
}

func TestInvalidateAllWritesEverySlot(t *testing.T) {
	var im SoftIRQ
	w := &fakeWriter{}
	InvalidateAll(&im, w)
	if w.writes != mipsarch.NumTLB {
		t.Fatalf("InvalidateAll wrote %d slots, want %d", w.writes, mipsarch.NumTLB)
	}
	if w.lo&mipsarch.TLBLo(mipsarch.PTEValid) != 0 {
		t.Fatal("the last invalidated slot must not carry the VALID bit")
	}
	if w.hi < mipsarch.TLBHi(mipsarch.KsegBase) {
		t.Fatal("an invalidated slot's high word must fall at or above KsegBase")
	}
}

func TestShootdownPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Shootdown to panic")
		}
	}()
	Shootdown()
}
