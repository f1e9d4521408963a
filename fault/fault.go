// Package fault implements the TLB-miss fault handler (C5): the routine
// the trap dispatcher calls on every TLB refill exception, responsible
// for locating the faulting region, lazily allocating and zero-filling a
// frame, installing the PTE, and programming the hardware TLB. Grounded
// on the refill path in biscuit/src/vm/as.go and the trapframe dispatch
// in biscuit's runtime trap handlers.
package fault

import (
	"swvm/addrspace"
	"swvm/defs"
	"swvm/frame"
	"swvm/mipsarch"
	"swvm/region"
	"swvm/tlbprog"
)

/// Handle services one TLB-miss fault at vaddr of the given kind against
/// as. On success it returns 0; on failure it returns the Err_t the
/// trap dispatcher should deliver to the faulting process (typically as a
/// SIGSEGV-equivalent).
//
// FaultReadOnly never reaches the refill path below: a present,
// non-dirty PTE means the page is mapped but intentionally read-only, so
// there is nothing to refill and the access is simply denied. A WRITE
// fault against a region that lacks W is not denied here either -- it is
// serviced like any other refill, installing a PTE with DIRTY clear, so
// the denial only ever surfaces later as a FaultReadOnly on the retried
// store against that now-present, non-dirty mapping.
func Handle(as *addrspace.Addrspace_t, vaddr uintptr, kind defs.FaultKind, im tlbprog.InterruptMask, w tlbprog.Writer) defs.Err_t {
	if kind == defs.FaultReadOnly {
		return defs.EFAULT
	}
	if kind != defs.FaultRead && kind != defs.FaultWrite {
		return defs.EINVAL
	}
	if as == nil {
		return defs.EFAULT
	}

	as.Lock_pmap()
	defer as.Unlock_pmap()

	r, ok := as.Regions().Lookup(vaddr)
	if !ok {
		return defs.EFAULT
	}

	pt := as.Pagetable()
	pte := pt.Lookup(vaddr)
	if pte == 0 {
		pa, err := allocZeroed(as)
		if err != 0 {
			return err
		}
		pte = mipsarch.PTE(pa) | mipsarch.PTEValid
		if r.Perms&region.PermW != 0 {
			pte |= mipsarch.PTEDirty
		}
		if ok, ierr := pt.Insert(vaddr, pte); !ok {
			return ierr
		}
	}

	if as.IsActive() {
		hi := mipsarch.TLBHiFromVaddr(vaddr)
		lo := mipsarch.TLBLoFromPTE(pte)
		tlbprog.Program(im, w, hi, lo)
	}
	return 0
}

func allocZeroed(as *addrspace.Addrspace_t) (frame.PhysAddr, defs.Err_t) {
	as.Lockassert_pmap()
	alloc := as.Alloc()
	pa, err := alloc.AllocFrame()
	if err != nil {
		return 0, defs.ENOMEM
	}
	frame.ZeroFrame(alloc, pa)
	return pa, 0
}
