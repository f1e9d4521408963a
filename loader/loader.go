// Package loader implements the loader hooks (C4): the narrow interface
// the program loader uses to temporarily widen a region's permissions
// while copying in segment data, and to restore them once the copy is
// done. Grounded on biscuit's vm/as.go prepare/install path around
// ELF segment loading.
package loader

import (
	"swvm/addrspace"
	"swvm/defs"
	"swvm/region"
	"swvm/tlbprog"
)

/// PrepareLoad widens r's permission set to include PermW for the
/// duration of the load, saving the region's prior permissions so
/// CompleteLoad can restore them. It is idempotent only in the sense that
/// calling it twice in a row overwrites Saved with the already-widened
/// set -- callers must pair every PrepareLoad with exactly one
/// CompleteLoad.
func PrepareLoad(r *region.Region_t) {
	r.Saved = r.Perms
	r.Perms |= region.PermW
}

/// CompleteLoad restores r's permissions to what PrepareLoad saved and,
/// when the restored set lacks PermW, clears the DIRTY bit on every PTE in
/// r's range so a subsequent write to a read-only page takes a READONLY
/// fault instead of silently succeeding against a stale writable TLB
/// refill. It finally invalidates the entire hardware TLB so no writable
/// entry installed during the load window can be reused. If r was never
/// prepared (Saved is zero), its permissions are left as they are; this is
/// then a no-op beyond the (harmless) PTE clear and TLB flush.
func CompleteLoad(as *addrspace.Addrspace_t, r *region.Region_t, im tlbprog.InterruptMask, w tlbprog.Writer) defs.Err_t {
	if r.Saved != 0 {
		r.Perms = r.Saved
	}
	var err defs.Err_t
	if r.Perms&region.PermW == 0 {
		as.Lock_pmap()
		_, err = as.Pagetable().Update(r.VBase, r.NPages)
		as.Unlock_pmap()
	}
	tlbprog.InvalidateAll(im, w)
	return err
}
