// Package pagetable implements the two-level sparse page-table store (C1):
// a fixed 1024-entry level-1 table of owning level-2 table references, and
// 1024-entry level-2 tables of PTEs allocated lazily. Both levels are
// themselves backed by frames drawn from the same physical frame
// allocator the fault path uses for data pages -- on this architecture a
// table level is exactly one page (1024 entries x 4 bytes), so there is no
// separate kernel-heap bookkeeping for page-table pages.
package pagetable

import (
	"encoding/binary"

	"swvm/defs"
	"swvm/frame"
	"swvm/mipsarch"
)

/// PTE re-exports the page-table-entry word type so callers outside this
/// package don't need to import mipsarch just to hold one.
type PTE = mipsarch.PTE

/// Pagetable_t owns the level-1 table frame and, transitively, every
/// level-2 table frame it has allocated.
type Pagetable_t struct {
	alloc frame.Allocator
	l1    frame.PhysAddr
}

/// New allocates and zero-initializes a fresh level-1 table.
func New(alloc frame.Allocator) (*Pagetable_t, defs.Err_t) {
	l1, err := alloc.AllocFrame()
	if err != nil {
		return nil, defs.ENOMEM
	}
	frame.ZeroFrame(alloc, l1)
	return &Pagetable_t{alloc: alloc, l1: l1}, 0
}

func (pt *Pagetable_t) l1Bytes() []byte {
	return pt.alloc.Bytes(pt.l1)
}

func l2FrameOf(l1b []byte, l1idx uint32) frame.PhysAddr {
	return frame.PhysAddr(binary.LittleEndian.Uint32(l1b[l1idx*4:]))
}

func setL2FrameOf(l1b []byte, l1idx uint32, l2f frame.PhysAddr) {
	binary.LittleEndian.PutUint32(l1b[l1idx*4:], uint32(l2f))
}

func pteAt(l2b []byte, l2idx uint32) PTE {
	return PTE(binary.LittleEndian.Uint32(l2b[l2idx*4:]))
}

func setPTEAt(l2b []byte, l2idx uint32, entry PTE) {
	binary.LittleEndian.PutUint32(l2b[l2idx*4:], uint32(entry))
}

/// Insert stores entry at the slot for vaddr, allocating and
/// zero-initializing the level-2 table if it is absent. It overwrites any
/// prior PTE at that slot without freeing the frame it referenced -- in
/// the fault path this never happens, since insert only ever follows a
/// lookup miss.
func (pt *Pagetable_t) Insert(vaddr uintptr, entry PTE) (bool, defs.Err_t) {
	l1idx, l2idx := mipsarch.Split(vaddr)
	l1b := pt.l1Bytes()
	l2f := l2FrameOf(l1b, l1idx)
	if l2f == 0 {
		nf, err := pt.alloc.AllocFrame()
		if err != nil {
			return false, defs.ENOMEM
		}
		frame.ZeroFrame(pt.alloc, nf)
		setL2FrameOf(l1b, l1idx, nf)
		l2f = nf
	}
	setPTEAt(pt.alloc.Bytes(l2f), l2idx, entry)
	return true, 0
}

/// Lookup returns the PTE stored for vaddr, or 0 if either the level-2
/// table or the PTE itself is absent. It never allocates.
func (pt *Pagetable_t) Lookup(vaddr uintptr) PTE {
	l1idx, l2idx := mipsarch.Split(vaddr)
	l2f := l2FrameOf(pt.l1Bytes(), l1idx)
	if l2f == 0 {
		return 0
	}
	return pteAt(pt.alloc.Bytes(l2f), l2idx)
}

/// Update clears the DIRTY bit on every existing PTE in
/// [vbase, vbase+npages*PageSize). Absent level-2 tables are skipped by
/// jumping straight to the next 4 MiB boundary. It fails EINVAL if the
/// range crosses into kernel space. This is intentionally one-directional
/// (clear, never toggle): it downgrades writable pages to read-only after
/// complete_load, matching the invariant that DIRTY tracks the region's
/// current W permission.
func (pt *Pagetable_t) Update(vbase uintptr, npages int) (bool, defs.Err_t) {
	end := vbase + uintptr(npages)*mipsarch.PageSize
	if end > mipsarch.KsegBase {
		return false, defs.EINVAL
	}
	l1b := pt.l1Bytes()
	for v := vbase; v < end; {
		l1idx, _ := mipsarch.Split(v)
		l2f := l2FrameOf(l1b, l1idx)
		if l2f == 0 {
			v = mipsarch.NextL1Boundary(v)
			continue
		}
		l2b := pt.alloc.Bytes(l2f)
		_, l2idx := mipsarch.Split(v)
		if cur := pteAt(l2b, l2idx); cur != 0 {
			setPTEAt(l2b, l2idx, cur&^mipsarch.PTEDirty)
		}
		v += mipsarch.PageSize
	}
	return true, 0
}

/// Walk invokes fn once for every non-zero PTE currently installed, in
/// ascending virtual-address order. It never allocates.
func (pt *Pagetable_t) Walk(fn func(vaddr uintptr, entry PTE)) {
	l1b := pt.l1Bytes()
	for l1idx := uint32(0); l1idx < mipsarch.TableSize; l1idx++ {
		l2f := l2FrameOf(l1b, l1idx)
		if l2f == 0 {
			continue
		}
		l2b := pt.alloc.Bytes(l2f)
		for l2idx := uint32(0); l2idx < mipsarch.TableSize; l2idx++ {
			if entry := pteAt(l2b, l2idx); entry != 0 {
				vaddr := uintptr(l1idx)<<mipsarch.L1Shift | uintptr(l2idx)<<mipsarch.L2Shift
				fn(vaddr, entry)
			}
		}
	}
}

/// Destroy releases every level-2 table frame and the level-1 table frame
/// itself. Before releasing each level-2 table, it invokes freeData for
/// every non-zero PTE found in it, so the caller can release the data
/// frame each PTE references -- this package knows nothing about frame
/// ownership beyond its own table pages.
func (pt *Pagetable_t) Destroy(freeData func(vaddr uintptr, entry PTE)) {
	l1b := pt.l1Bytes()
	for l1idx := uint32(0); l1idx < mipsarch.TableSize; l1idx++ {
		l2f := l2FrameOf(l1b, l1idx)
		if l2f == 0 {
			continue
		}
		l2b := pt.alloc.Bytes(l2f)
		for l2idx := uint32(0); l2idx < mipsarch.TableSize; l2idx++ {
			if entry := pteAt(l2b, l2idx); entry != 0 {
				vaddr := uintptr(l1idx)<<mipsarch.L1Shift | uintptr(l2idx)<<mipsarch.L2Shift
				freeData(vaddr, entry)
			}
		}
		pt.alloc.FreeFrame(l2f)
	}
	pt.alloc.FreeFrame(pt.l1)
}

/// L2Count returns the number of allocated level-2 tables, used by tests
/// to verify that level-2 tables are allocated lazily.
func (pt *Pagetable_t) L2Count() int {
	l1b := pt.l1Bytes()
	n := 0
	for l1idx := uint32(0); l1idx < mipsarch.TableSize; l1idx++ {
		if l2FrameOf(l1b, l1idx) != 0 {
			n++
		}
	}
	return n
}
