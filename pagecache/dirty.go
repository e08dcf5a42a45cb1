package pagecache

// MarkDirty implements §4.4 mark_dirty(E): redirects to the owner (if E is
// a non-owner, the target is E.backing), since invariant 2 forbids marking
// a non-owner dirty. Fast path returns false if already dirty. Otherwise
// the target's file lock is taken exclusive, the backing link is
// re-checked (it may have been established concurrently while acquiring
// the lock), and DIRTY is set via CAS. On the 0→1 transition, dirty_pages
// (and mapped_dirty_pages, if mapped) are incremented, the entry is pulled
// off any global clean list and appended to its file's dirty list, and the
// file object is signalled dirty to the VFS.
func (c *Cache) MarkDirty(e *Entry) bool {
	target := e.owner()
	if target.IsDirty() {
		return false
	}

	target.file.Lock()
	defer target.file.Unlock()

	// Re-check: e.backing may have changed (the linking protocol may have
	// run) between the fast-path check and taking the lock.
	target = e.owner()

	if !casSetFlag(&target.flags, flagDirty) {
		return false
	}

	c.dirtyPages.Add(1)
	if target.flags.Load()&flagMapped != 0 {
		c.mappedDirtyPages.Add(1)
	}

	c.listLock.Lock()
	c.detachFromListLocked(target)
	c.pushDirtyLocked(target)
	c.listLock.Unlock()

	target.file.MarkDirty()
	return true
}

// MarkClean implements §4.4 mark_clean(E, moveToCleanList): fast path
// returns false if E is not dirty. E must be an owner (non-owners are
// never dirty, invariant 2). On the 1→0 transition, dirty_pages (and
// mapped_dirty_pages, if mapped) are decremented, E is pulled off its
// file's dirty list, and optionally appended to the tail of the global
// clean LRU. The caller must hold either a reference on E or E's file lock
// (not enforced here — see §4.4).
func (c *Cache) MarkClean(e *Entry, moveToCleanList bool) bool {
	if !e.IsDirty() {
		return false
	}
	if !e.IsOwner() {
		panic("pagecache: MarkClean target is not PAGE_OWNER")
	}

	if !casClearFlag(&e.flags, flagDirty) {
		return false
	}

	c.dirtyPages.Add(-1)
	if e.flags.Load()&flagMapped != 0 {
		c.mappedDirtyPages.Add(-1)
	}

	c.listLock.Lock()
	c.detachFromListLocked(e)
	if moveToCleanList {
		c.pushCleanLRULocked(e)
	}
	c.listLock.Unlock()

	return true
}
