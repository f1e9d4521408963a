package loader

import (
	"testing"

	"swvm/addrspace"
	"swvm/frame"
	"swvm/mipsarch"
	"swvm/region"
	"swvm/tlbprog"
)

type fakeWriter struct{ writes int }

func (w *fakeWriter) WriteRandom(mipsarch.TLBHi, mipsarch.TLBLo) { w.writes++ }

func TestPrepareLoadWidensPermissions(t *testing.T) {
	r := &region.Region_t{VBase: 0x1000, NPages: 1, Perms: region.PermR | region.PermX}
	PrepareLoad(r)
	if r.Perms&region.PermW == 0 {
		t.Fatal("PrepareLoad should grant write permission")
	}
	if r.Saved&region.PermW != 0 {
		t.Fatal("Saved should record the pre-widen permissions")
	}
}

func TestCompleteLoadRestoresAndClearsDirty(t *testing.T) {
	alloc := frame.NewPool(64)
	as, _ := addrspace.Create(alloc)
	r, err := as.Regions().DefineRegion(0x1000, 0x1000, region.PermR|region.PermX)
	if err != 0 {
		t.Fatalf("DefineRegion: %v", err)
	}

	PrepareLoad(r)
	pa, _ := alloc.AllocFrame()
	as.Pagetable().Insert(0x1000, mipsarch.PTE(pa)|mipsarch.PTEValid|mipsarch.PTEDirty)

	var im tlbprog.SoftIRQ
	w := &fakeWriter{}
	if cerr := CompleteLoad(as, r, &im, w); cerr != 0 {
		t.Fatalf("CompleteLoad: %v", cerr)
	}

	if r.Perms&region.PermW != 0 {
		t.Fatal("CompleteLoad should restore the original (non-writable) permissions")
	}
	if pte := as.Pagetable().Lookup(0x1000); pte&mipsarch.PTEDirty != 0 {
		t.Fatal("CompleteLoad should clear the DIRTY bit so writes take a READONLY fault")
	}
	if w.writes != mipsarch.NumTLB {
		t.Fatalf("CompleteLoad should invalidate every TLB slot, got %d writes want %d", w.writes, mipsarch.NumTLB)
	}
}
