package pagecache

import "context"

// CanLink implements §6's can_link(entry, file): reports whether entry
// could participate in the shared-frame linking protocol with a newly
// inserted entry for file — both sides must be linkable types, of
// opposite kinds (block device vs. file kind), and entry must currently
// own its frame.
func CanLink(entry *Entry, file File) bool {
	if entry == nil || !entry.file.IsLinkableType() || !file.IsLinkableType() {
		return false
	}
	if entry.file.Kind() == file.Kind() {
		return false
	}
	return entry.IsOwner()
}

// applyLinkingOnInsert implements the insertion-time half of §4.3's
// linking protocol: "Insertion with link". link is the pre-existing entry
// (for the same on-disk content, at a different file-object keyed by the
// other cacheable type) that the newly inserted entry e should share a
// frame with, or nil if e is not being linked at insertion.
func (c *Cache) applyLinkingOnInsert(e *Entry, link *Entry) {
	if link == nil {
		return
	}
	switch {
	case e.file.Kind() == KindBlockDevice && link.file.Kind() == KindFile:
		// "the existing file entry must already own the frame; transfer
		// ownership so that the block-device entry becomes owner and the
		// file entry becomes a non-owner referencing it."
		if !link.IsOwner() {
			panic("pagecache: link target does not own its frame")
		}
		c.transferFrameOwnership(link, e)
	case e.file.Kind() == KindFile && link.file.Kind() == KindBlockDevice:
		// "the block device remains owner, and the new file entry becomes
		// a non-owner referencing it."
		if !link.IsOwner() {
			panic("pagecache: link target does not own its frame")
		}
		c.becomeNonOwner(e, link)
	}
}

// becomeNonOwner demotes the freshly constructed entry e (which currently
// believes it owns its own frame) to a non-owner referencing backing,
// taking a reference on backing. The non-owner must not be dirty at the
// moment of linking (enforced here, per §4.3's precondition, which the
// caller is responsible for upholding before reaching this point).
func (c *Cache) becomeNonOwner(e, backing *Entry) {
	if e.IsDirty() {
		panic("pagecache: cannot link a dirty entry as non-owner")
	}
	if e.flags.Load()&flagMapped != 0 {
		c.mappedPages.Add(-1)
	}
	e.flags.Store(0)
	e.phys = 0
	e.backing = backing
	// e's speculative frame bookkeeping (from newEntry) is retracted: it
	// never really owned an independent frame once linked.
	c.physicalPages.Add(-1)
	addRef(backing)
}

// transferFrameOwnership makes newOwner the owner of oldOwner's frame and
// demotes oldOwner to a non-owner referencing newOwner. This is the same
// maneuver LinkEntries performs on an existing pair, applied instead at
// the moment a new entry is inserted already linked to an old one.
func (c *Cache) transferFrameOwnership(oldOwner, newOwner *Entry) {
	if newOwner.IsDirty() {
		panic("pagecache: cannot transfer frame ownership onto a dirty entry")
	}
	// Retract newOwner's speculative self-owned-frame bookkeeping.
	if newOwner.flags.Load()&flagMapped != 0 {
		c.mappedPages.Add(-1)
	}
	c.physicalPages.Add(-1)

	newOwner.phys = oldOwner.phys
	newFlags := uint32(flagOwner)
	if oldOwner.flags.Load()&flagMapped != 0 {
		va := oldOwner.va.Load()
		casClearFlag(&oldOwner.flags, flagMapped)
		c.mappedPages.Add(-1)
		newFlags |= flagMapped
		newOwner.va.Store(va)
		c.mappedPages.Add(1)
	}
	newOwner.flags.Store(newFlags)

	casClearFlag(&oldOwner.flags, flagOwner)
	oldOwner.phys = 0
	oldOwner.va.Store(0)
	oldOwner.backing = newOwner
	addRef(newOwner)
}

// LinkEntries implements §4.3's "Link existing pair": collapses two
// independently owned frames into one, called to retroactively discover
// that a block-device entry and a file entry cache the same on-disk
// content. Preconditions: lower is a block device, upper is a cacheable
// file type, both are owners, lower.refcount == 1, upper.refcount >= 1,
// and upper is not dirty. Idempotent per property P8: if upper.backing ==
// lower already, returns true without mutation.
func (c *Cache) LinkEntries(lower, upper *Entry) bool {
	if upper.backing == lower {
		return true
	}
	if lower.file.Kind() != KindBlockDevice || upper.file.Kind() != KindFile {
		return false
	}
	if !lower.IsOwner() || !upper.IsOwner() {
		return false
	}
	if lower.Refcount() != 1 || upper.Refcount() < 1 {
		return false
	}
	if upper.IsDirty() {
		return false
	}

	// Step 1: under lower's file lock exclusive, unmap any image-section
	// mappings of the lower frame. Abort on failure.
	lower.file.Lock()
	defer lower.file.Unlock()

	_, err := lower.file.UnmapImageSectionList(context.Background(), lower.offset, c.mm.PageSize(), false)
	if err != nil {
		return false
	}

	// Steps 2-4: clear lower's MAPPED if it differs from upper's, swap
	// lower's phys/va to upper's, and on upper atomically clear
	// PAGE_OWNER|MAPPED, transferring MAPPED onto lower if upper was
	// mapped and lower wasn't.
	lowerMapped := lower.flags.Load()&flagMapped != 0
	upperMapped := upper.flags.Load()&flagMapped != 0

	displacedPhys := lower.phys
	displacedVA := lower.va.Load()
	displacedHadVA := lowerMapped

	if lowerMapped && lowerMapped != upperMapped {
		casClearFlag(&lower.flags, flagMapped)
		c.mappedPages.Add(-1)
	}

	lower.phys = upper.phys
	lower.va.Store(upper.va.Load())

	wasUpperMapped := upperMapped
	upper.flags.Store(0)
	if wasUpperMapped {
		c.mappedPages.Add(-1)
		if !lowerMapped {
			casSetFlag(&lower.flags, flagMapped)
			c.mappedPages.Add(1)
		}
	}
	upper.phys = 0
	upper.va.Store(0)

	// Step 5: take a reference on lower from upper; set upper.backing.
	addRef(lower)
	upper.backing = lower

	// Step 6: free the displaced frame and unmap its former VA.
	if displacedHadVA {
		_ = c.mm.UnmapAddress(displacedVA, c.mm.PageSize())
	}
	c.mm.FreePhysicalPage(displacedPhys)

	return true
}
