package pagecache

import "context"

// drainList implements the shared "take list under lock, drain locally"
// eviction pattern (§4.8), used by the trim engine (§4.6) against both
// global clean lists. It pops entries off globalList one at a time
// (briefly under the list lock) until want of them have been evicted or
// the list is empty, attempts to evict each outside the
// list lock, and re-appends anything it could not evict to the tail of
// globalList so a future pass gets another chance at it. Evicted entries
// are appended to destroy for deferred MM frame release by the caller.
func (c *Cache) drainList(ctx context.Context, globalList *entryList, kind listKind, want uint64, timid bool, destroy *entryList) uint64 {
	var leftover entryList
	var evicted uint64

	for evicted < want {
		c.listLock.Lock()
		e := globalList.popFront()
		c.listLock.Unlock()
		if e == nil {
			break
		}

		ok, err := c.tryEvictEntry(ctx, e, timid)
		if err != nil {
			c.errorf("pagecache: trim: evict offset=%d: %v", e.offset, err)
		}
		if !ok {
			if e.listKind == listNone {
				// Nobody else claimed it meanwhile; give it another lap.
				leftover.pushBack(e, kind)
			}
			// Else: a concurrent lookup already relisted it correctly;
			// touching it further here would corrupt that list.
			continue
		}

		destroy.pushBack(e, listNone)
		evicted++
	}

	if !leftover.empty() {
		c.listLock.Lock()
		globalList.appendAll(&leftover)
		c.listLock.Unlock()
	}
	return evicted
}

// tryEvictEntry attempts to reclaim e: take its file lock (or, if timid,
// try it without blocking), re-validate that e is still detached and
// unreferenced, tear down any live mapping, and remove it from its file's
// index. It does not free the physical frame or release a backing
// reference — that happens in destroyEntries, after the caller has dropped
// every lock.
func (c *Cache) tryEvictEntry(ctx context.Context, e *Entry, timid bool) (bool, error) {
	if timid {
		if !e.TryLock() {
			return false, nil
		}
	} else {
		e.Lock()
	}
	defer e.Unlock()

	c.listLock.Lock()
	stillDetached := e.listKind == listNone
	unreferenced := e.Refcount() == 0
	c.listLock.Unlock()
	if !stillDetached || !unreferenced {
		// Lost the race: a concurrent lookup re-referenced and relisted e
		// between being popped off the list and the file lock acquire.
		return false, nil
	}
	if e.IsDirty() {
		// Should not normally happen for a clean-list member, but a racing
		// mark_dirty through a live mapping can land here first.
		return false, nil
	}

	if e.IsMapped() {
		wasDirty, err := e.file.UnmapImageSectionList(ctx, e.offset, c.mm.PageSize(), true)
		if err != nil {
			return false, err
		}
		if wasDirty {
			c.redirtyFromEviction(e)
			return false, nil
		}
		if err := c.clearMappedAfterUnmap(e); err != nil {
			return false, err
		}
	}

	idx := e.idx
	rbDelete(&idx.root, e)
	idx.entries--
	c.entryCount.Add(-1)
	if idx.entries == 0 && idx.dirty.empty() {
		c.dropIndexIfEmpty(idx)
	}
	return true, nil
}

// clearMappedAfterUnmap clears MAPPED on e (which must no longer be
// mapped after a successful UnmapImageSectionList) and tears down the
// kernel VA mapping.
func (c *Cache) clearMappedAfterUnmap(e *Entry) error {
	if !casClearFlag(&e.flags, flagMapped) {
		return nil
	}
	c.mappedPages.Add(-1)
	va := e.va.Swap(0)
	if va != 0 {
		return c.mm.UnmapAddress(va, c.mm.PageSize())
	}
	return nil
}

// redirtyFromEviction re-marks e dirty in place after UnmapImageSectionList
// reported the page was written through a live mapping just before the
// mapping was torn down (§7: a wasDirty report is not itself an error — the
// page must be kept and re-dirtied, not destroyed). The caller already
// holds e's file lock exclusive.
func (c *Cache) redirtyFromEviction(e *Entry) {
	if !casSetFlag(&e.flags, flagDirty) {
		return
	}
	c.dirtyPages.Add(1)
	if e.flags.Load()&flagMapped != 0 {
		c.mappedDirtyPages.Add(1)
	}
	c.listLock.Lock()
	c.pushDirtyLocked(e)
	c.listLock.Unlock()
	e.file.MarkDirty()
}

// destroyEntries releases the physical frame (owners) or the backing
// reference (non-owners) for every entry on list, run after every lock held
// during eviction has been dropped.
func (c *Cache) destroyEntries(list *entryList) {
	for e := list.popFront(); e != nil; e = list.popFront() {
		if e.IsOwner() {
			c.mm.SetPageCacheEntryForPhysicalAddress(e.phys, nil)
			c.mm.FreePhysicalPage(e.phys)
			c.physicalPages.Add(-1)
		} else if b := e.backing; b != nil {
			releaseRef(b)
		}
	}
}
