// Package region implements the region list (C2): the ordered set of
// defined virtual-address ranges that back a process's address space,
// each with its own permission set.
package region

import (
	"swvm/defs"
	"swvm/mipsarch"
)

/// Perm is a 3-bit permission set.
type Perm uint8

const (
	/// PermR grants read access.
	PermR Perm = 1 << 0
	/// PermW grants write access.
	PermW Perm = 1 << 1
	/// PermX grants execute access. The hardware TLB in this
	/// architecture does not distinguish X from R; X is tracked for
	/// bookkeeping only (see spec's Non-goals).
	PermX Perm = 1 << 2
)

/// Region_t is a contiguous virtual-address range with uniform
/// permissions, as declared by the loader. VBase is always page-aligned.
///
/// Saved holds the permission set a loader hook temporarily overrode;
/// Design Notes in the source this is built from call out a bit-packed
/// single-field encoding as an alternative -- this record uses a separate
/// field instead, since the two are behaviorally identical and a dedicated
/// field needs no mask/shift arithmetic to read back.
type Region_t struct {
	VBase  uintptr
	NPages int
	Perms  Perm
	Saved  Perm
}

/// End returns the exclusive upper bound of the region.
func (r *Region_t) End() uintptr {
	return r.VBase + uintptr(r.NPages)*mipsarch.PageSize
}

/// Contains reports whether vaddr lies within the region.
func (r *Region_t) Contains(vaddr uintptr) bool {
	return vaddr >= r.VBase && vaddr < r.End()
}

/// Vmregion_t is the ordered list of regions belonging to one address
/// space. Order is insertion order; regions may not overlap, a contract
/// enforced by callers, not validated here.
type Vmregion_t struct {
	regions []*Region_t
}

/// DefineRegion page-aligns vaddr down and vaddr+memsize up, appends a new
/// region spanning the resulting page range, and returns it. It fails
/// EINVAL if no permission bit is set.
func (vr *Vmregion_t) DefineRegion(vaddr, memsize uintptr, perm Perm) (*Region_t, defs.Err_t) {
	if perm == 0 {
		return nil, defs.EINVAL
	}
	base := roundDown(vaddr, mipsarch.PageSize)
	end := roundUp(vaddr+memsize, mipsarch.PageSize)
	r := &Region_t{
		VBase:  base,
		NPages: int((end - base) / mipsarch.PageSize),
		Perms:  perm,
	}
	vr.regions = append(vr.regions, r)
	return r, 0
}

/// DefineStack defines the fixed-size stack region ending exactly at
/// mipsarch.UserStack, with R|W permissions, and returns the region along
/// with the initial stack pointer.
func (vr *Vmregion_t) DefineStack() (*Region_t, uintptr) {
	base := mipsarch.UserStack - mipsarch.StackNpages*mipsarch.PageSize
	r := &Region_t{
		VBase:  base,
		NPages: mipsarch.StackNpages,
		Perms:  PermR | PermW,
	}
	vr.regions = append(vr.regions, r)
	return r, mipsarch.UserStack
}

/// Lookup scans the list in insertion order for the region containing
/// vaddr. When regions improperly overlap (a precondition violation), the
/// first in list order wins.
func (vr *Vmregion_t) Lookup(vaddr uintptr) (*Region_t, bool) {
	for _, r := range vr.regions {
		if r.Contains(vaddr) {
			return r, true
		}
	}
	return nil, false
}

/// All returns the region list in insertion order. Callers must not
/// mutate the returned slice's backing array length; mutating a Region_t
/// pointed to by it is how loader hooks operate.
func (vr *Vmregion_t) All() []*Region_t {
	return vr.regions
}

/// Append adds r to the tail of the list, used by address-space copy to
/// preserve order.
func (vr *Vmregion_t) Append(r *Region_t) {
	vr.regions = append(vr.regions, r)
}

/// Clear empties the region list.
func (vr *Vmregion_t) Clear() {
	vr.regions = nil
}

func roundDown(v, b uintptr) uintptr {
	return v - (v % b)
}

func roundUp(v, b uintptr) uintptr {
	return roundDown(v+b-1, b)
}
