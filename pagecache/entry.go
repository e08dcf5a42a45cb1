package pagecache

import (
	"sync/atomic"
)

// entryFlags is the atomic bitfield described in §3 ("Entry"). Each bit
// transition with accounting side effects (DIRTY, MAPPED) is performed with
// a CAS loop (or fetch-and-or/fetch-and-and) that acts only on the observed
// transition, per the design note in §9 ("Atomic bitfield with counter side
// effects").
type entryFlags = uint32

const (
	// flagDirty: page content differs from the device; must be written
	// back before eviction. Invariant 2: DIRTY ⇒ PAGE_OWNER.
	flagDirty entryFlags = 1 << iota
	// flagOwner: this entry owns (and will free) the physical frame.
	// Invariant 1: PAGE_OWNER ⊕ (backing != nil).
	flagOwner
	// flagMapped: a kernel VA is currently attached to the owner.
	// Invariant 3: MAPPED ⇒ PAGE_OWNER ∧ va != none.
	flagMapped
)

// maxRefcount bounds add_ref's assertion (§4.1: "assert bounded (< 4096)").
const maxRefcount = 4096

// listKind tags which of the mutually-exclusive lists an Entry currently
// belongs to. A single "detached" value acts as the list sentinel per the
// design note on intrusive lists across multiple regimes (§9): membership
// is a tagged variant, not a set of independent booleans, because an Entry
// is never on more than one list at a time.
type listKind int

const (
	listNone listKind = iota
	listCleanLRU
	listCleanUnmappedLRU
	listRemoval
	listDirty
)

// rbColor is the red-black tree node color used by the per-file index
// (§4.2). No ordered-map or red-black-tree library appears anywhere in the
// teacher repo or the rest of the example pack (verified by search), so the
// tree is implemented directly against Entry nodes rather than reached for
// an external dependency that isn't grounded in the corpus; see DESIGN.md.
type rbColor bool

const (
	rbRed   rbColor = false
	rbBlack rbColor = true
)

// Entry is the cached page descriptor: one physical frame (owned or
// shared), its offset within its file, and the bookkeeping needed to place
// it in exactly one tree and at most one list at a time.
type Entry struct {
	// file is the owning file-object handle; the cache holds exactly one
	// reference on it for the lifetime of this Entry (§3).
	file File
	// offset is the page-aligned file/device offset this Entry caches.
	offset int64

	// phys is the page-aligned physical address of the backing frame.
	// Only meaningful when this Entry is PAGE_OWNER (flagOwner set);
	// non-owners mirror their backing's phys (invariant 6).
	phys uint64
	// va is the kernel virtual address phys is currently mapped at, or 0
	// for "none". Stored atomically because get_va/set_va may race with
	// readers that only hold a reference, not the file lock.
	va atomic.Uint64

	// backing is the Entry whose physical frame this Entry shares, or nil
	// if this Entry is PAGE_OWNER. Mutations to backing happen only while
	// holding the owning file's lock exclusive (the linking protocol, §4.3)
	// so a plain field (not atomic) is safe for writers; readers that only
	// hold a reference observe a stable value once linking has completed,
	// per invariant 1.
	backing *Entry

	refcount atomic.Int32
	flags    atomic.Uint32

	// Red-black tree membership in this file's index, keyed by offset.
	// Guarded by the owning file's lock held exclusive for mutation;
	// lookups may run under the shared lock (§4.2).
	treeLeft, treeRight, treeParent *Entry
	treeColor                      rbColor
	inTree                         bool

	// List membership: at most one of {global clean LRU, global
	// clean-unmapped LRU, global removal, per-file dirty}, or detached.
	// Guarded by the owning Cache's single list lock (§5: "Dirty-list
	// membership changes require the list lock").
	listKind         listKind
	listPrev, listNext *Entry

	// cache back-reference, set at creation, used by release_ref and the
	// dirty tracker to reach the global lists/counters and list lock
	// without threading the Cache through every call.
	cache *Cache
	// idx is this entry's file index, giving direct access to the file's
	// tree root and dirty list without a map lookup per operation.
	idx *fileIndex
}

// File returns the owning file-object handle.
func (e *Entry) File() File { return e.file }

// Lock/Unlock/TryLock give callers that only hold an *Entry (trim, unmap,
// list removal) a way to take the owning file's exclusive lock without
// reaching through File() themselves. There is no per-entry lock: eviction
// and mapping mutation are serialized at the file level, same as tree
// mutation (§4.2).
func (e *Entry) Lock()         { e.file.Lock() }
func (e *Entry) Unlock()       { e.file.Unlock() }
func (e *Entry) TryLock() bool { return e.file.TryLock() }

// Offset returns the page-aligned offset this Entry caches.
func (e *Entry) Offset() int64 { return e.offset }

// Phys returns the physical frame address, resolving through backing for
// non-owners (invariant 6: a non-owner's phys equals its backing's phys).
func (e *Entry) Phys() uint64 {
	if b := e.backing; b != nil {
		return b.phys
	}
	return e.phys
}

// IsOwner reports whether this Entry owns its physical frame.
func (e *Entry) IsOwner() bool {
	return e.flags.Load()&flagOwner != 0
}

// IsDirty reports whether this Entry is currently marked dirty.
func (e *Entry) IsDirty() bool {
	return e.flags.Load()&flagDirty != 0
}

// IsMapped reports whether this Entry's owner currently has a VA attached.
func (e *Entry) IsMapped() bool {
	return e.flags.Load()&flagMapped != 0
}

// Refcount returns the current external reference count. The cache's own
// tree/list membership does not count as a reference (§3).
func (e *Entry) Refcount() int32 {
	return e.refcount.Load()
}

// Backing returns the Entry this one shares a frame with, or nil if this
// Entry owns its own frame.
func (e *Entry) Backing() *Entry { return e.backing }

// owner returns the Entry that actually owns the physical frame: itself,
// or its backing if it is a non-owner. Dirty/VA operations always target
// the owner (§4.1, §4.4).
func (e *Entry) owner() *Entry {
	if b := e.backing; b != nil {
		return b
	}
	return e
}

// addRef implements §4.1 add_ref(E): atomic increment, asserted bounded.
func addRef(e *Entry) {
	n := e.refcount.Add(1)
	if n > maxRefcount {
		panic("pagecache: refcount overflow")
	}
}

// AddRef is the exported form of add_ref, used by external callers (I/O
// buffers, mmap paths) that hold an Entry across an operation.
func (e *Entry) AddRef() { addRef(e) }

// releaseRef implements §4.1 release_ref(E): atomic decrement; if the
// previous value was 1 and the entry is detached and clean, insert it at
// the tail of the global clean LRU under the list lock (rechecking
// conditions inside the lock, since another goroutine may have raced to
// re-dirty or re-list it in between the decrement and the lock acquire).
func releaseRef(e *Entry) {
	prev := e.refcount.Add(-1) + 1
	if prev < 1 {
		panic("pagecache: refcount underflow")
	}
	if prev != 1 {
		return
	}
	c := e.cache
	c.listLock.Lock()
	defer c.listLock.Unlock()
	if e.refcount.Load() != 0 {
		return
	}
	if e.listKind != listNone {
		return
	}
	if e.IsDirty() {
		return
	}
	c.pushCleanLRULocked(e)
}

// Release is the exported form of release_ref.
func (e *Entry) Release() { releaseRef(e) }

// getVA implements §4.1 get_va(E): if E has no VA but has a backing, copy
// the backing's VA lazily into E.va. The write is idempotent (the same
// value may be written by multiple racing callers) so a plain atomic store
// is sufficient without a CAS loop.
func getVA(e *Entry) uint64 {
	if va := e.va.Load(); va != 0 {
		return va
	}
	if b := e.backing; b != nil {
		bva := b.va.Load()
		if bva != 0 {
			e.va.Store(bva)
		}
		return bva
	}
	return 0
}

// GetVA is the exported form of get_va.
func (e *Entry) GetVA() uint64 { return getVA(e) }

// setVA implements §4.2 set_va(E, va): attempt to attach va to E's owner
// via CAS on the owner's flags, setting MAPPED. On the 0→1 transition, the
// VA is stored and the mapped (and, if dirty, mapped-dirty) counters are
// incremented. Returns whether this call performed the attach. If E was a
// non-owner, its own va mirror is updated after a successful attach.
func setVA(e *Entry, va uint64) bool {
	owner := e.owner()
	for {
		old := owner.flags.Load()
		if old&flagMapped != 0 {
			// Already mapped; this call did not perform the attach, but
			// mirror the VA onto a non-owner caller for convenience.
			if e != owner {
				e.va.Store(owner.va.Load())
			}
			return false
		}
		if !owner.flags.CompareAndSwap(old, old|flagMapped) {
			continue
		}
		owner.va.Store(va)
		c := owner.cache
		c.mappedPages.Add(1)
		if old&flagDirty != 0 {
			c.mappedDirtyPages.Add(1)
		}
		if e != owner {
			e.va.Store(va)
		}
		return true
	}
}

// SetVA is the exported form of set_va.
func (e *Entry) SetVA(va uint64) bool { return setVA(e, va) }
