// Package addrspace implements the address-space object (C3): the
// per-process owner of a page table and a region list, with the
// operations that create, fork, tear down, and switch between address
// spaces. Grounded on biscuit's Vmregion_t/proc_t pairing in
// biscuit/src/vm/as.go.
package addrspace

import (
	"sync"

	"swvm/defs"
	"swvm/frame"
	"swvm/mipsarch"
	"swvm/pagetable"
	"swvm/region"
	"swvm/tlbprog"
)

/// Addrspace_t is one process's virtual-memory context: its page table,
/// its region list, and the lock serializing both. Lock_pmap must be held
/// across any sequence that reads a region, decides a PTE, and installs
/// it -- the fault handler holds it for its entire refill.
type Addrspace_t struct {
	sync.Mutex

	alloc     frame.Allocator
	pt        *pagetable.Pagetable_t
	vmr       region.Vmregion_t
	active    bool
	pgfltaken bool
}

/// Lock_pmap acquires the address-space mutex and marks that a page-table
/// operation is in progress, for Lockassert_pmap to check.
func (as *Addrspace_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

/// Unlock_pmap releases the address-space mutex after page-table
/// manipulation completes.
func (as *Addrspace_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

/// Lockassert_pmap panics if called without a held Lock_pmap. Used by
/// package fault to enforce that a refill never runs unlocked.
func (as *Addrspace_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("addrspace: pmap lock must be held")
	}
}

/// Create allocates a fresh, empty address space: a zeroed level-1 page
/// table and no regions.
func Create(alloc frame.Allocator) (*Addrspace_t, defs.Err_t) {
	pt, err := pagetable.New(alloc)
	if err != 0 {
		return nil, err
	}
	return &Addrspace_t{alloc: alloc, pt: pt}, 0
}

/// Bootstrap is the VM subsystem's boot-time hook. It does nothing:
/// there is no process-wide VM state, and Create sets up everything a new
/// address space needs.
func Bootstrap() {}

/// Regions exposes the region list for lookups and loader hooks.
func (as *Addrspace_t) Regions() *region.Vmregion_t {
	return &as.vmr
}

/// Pagetable exposes the page table for the fault handler and the TLB
/// programmer.
func (as *Addrspace_t) Pagetable() *pagetable.Pagetable_t {
	return as.pt
}

/// Alloc exposes the frame allocator backing as, for the fault handler's
/// lazy frame allocation on refill.
func (as *Addrspace_t) Alloc() frame.Allocator {
	return as.alloc
}

/// Copy deep-copies as into a new address space: every region is
/// duplicated, and every mapped page is copied into a freshly allocated
/// frame (there is no copy-on-write in this subsystem; see spec
/// Non-goals). On an allocation failure partway through, every frame and
/// table page allocated so far for the new address space is released
/// before returning the error, leaving the original address space
/// untouched.
func Copy(as *Addrspace_t) (*Addrspace_t, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	nas, err := Create(as.alloc)
	if err != 0 {
		return nil, err
	}

	for _, r := range as.vmr.All() {
		cp := *r
		nas.vmr.Append(&cp)
	}

	failed := defs.Err_t(0)
	as.pt.Walk(func(vaddr uintptr, entry mipsarch.PTE) {
		if failed != 0 {
			return
		}
		nf, aerr := nas.alloc.AllocFrame()
		if aerr != nil {
			failed = defs.ENOMEM
			return
		}
		copy(nas.alloc.Bytes(nf), as.alloc.Bytes(frame.PhysAddr(entry.Frame())))
		npte := mipsarch.PTE(nf) | (entry &^ mipsarch.PTEAddrMask)
		if ok, ierr := nas.pt.Insert(vaddr, npte); !ok {
			nas.alloc.FreeFrame(nf)
			failed = ierr
		}
	})

	if failed != 0 {
		Destroy(nas)
		return nil, failed
	}
	return nas, 0
}

/// Destroy releases every data frame mapped by as, every page-table frame
/// backing it, and clears its region list. as must not be the active
/// address space.
func Destroy(as *Addrspace_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	as.pt.Destroy(func(_ uintptr, entry mipsarch.PTE) {
		as.alloc.FreeFrame(frame.PhysAddr(entry.Frame()))
	})
	as.vmr.Clear()
	as.pt = nil
}

/// Activate marks as the running address space and invalidates every
/// hardware TLB slot first, so that no entry belonging to whatever
/// address space ran before it can be mistaken for one of as's mappings
/// -- this subsystem has no per-ASID tagging to tell them apart
/// otherwise. The fault handler's TLB programmer queries IsActive before
/// trusting a refill target.
func (as *Addrspace_t) Activate(im tlbprog.InterruptMask, w tlbprog.Writer) {
	tlbprog.InvalidateAll(im, w)
	as.active = true
}

/// Deactivate invalidates every hardware TLB slot and marks as no longer
/// running, for the same reason Activate does on the way in: whatever
/// address space runs next must never observe a stale entry from as.
func (as *Addrspace_t) Deactivate(im tlbprog.InterruptMask, w tlbprog.Writer) {
	tlbprog.InvalidateAll(im, w)
	as.active = false
}

/// IsActive reports whether as is the currently running address space.
func (as *Addrspace_t) IsActive() bool {
	return as.active
}
