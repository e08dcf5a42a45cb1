package pagecache

import "context"

// UnmapPressureRelief implements §4.7's unmap engine as a standalone
// operation: if the cache is too mapped, tear down VA mappings on clean
// entries until free virtual memory clears the retreat threshold. Trim
// also calls trimVirtual directly as its own final step, since relieving
// physical pressure can itself free up virtual headroom worth chasing
// further.
func (c *Cache) UnmapPressureRelief(ctx context.Context, timid bool) (Status, error) {
	if !c.tooMapped() {
		return StatusOK, nil
	}
	if _, err := c.trimVirtual(ctx, timid); err != nil {
		return StatusError, err
	}
	return StatusOK, nil
}

// trimVirtual implements §4.7 trim_virtual(timid): walk the (mapped) clean
// LRU, removing VA attachments until free virtual memory reaches the
// retreat threshold, demoting each successfully-unmapped entry to the
// colder clean-unmapped LRU. Contiguous virtual addresses are coalesced
// into a single MM.UnmapAddress call per run rather than one call per page.
func (c *Cache) trimVirtual(ctx context.Context, timid bool) (uint64, error) {
	if !c.tooMapped() {
		return 0, nil
	}
	_, retreat := c.virtualTriggerRetreat()
	free := c.mm.FreeVirtualMemory()
	if free >= retreat {
		return 0, nil
	}
	pageSize := uint64(c.mm.PageSize())
	needBytes := retreat - free
	needPages := (needBytes + pageSize - 1) / pageSize

	var unmapped uint64
	var leftover entryList

	var runVA uint64
	var runLen int64
	var firstErr error

	flushRun := func() {
		if runLen == 0 {
			return
		}
		if err := c.mm.UnmapAddress(runVA, runLen); err != nil && firstErr == nil {
			firstErr = err
		}
		runVA, runLen = 0, 0
	}

	for unmapped < needPages {
		c.listLock.Lock()
		e := c.cleanLRU.popFront()
		c.listLock.Unlock()
		if e == nil {
			break
		}

		ok, va, err := c.tryRemoveVA(ctx, e, timid)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if !ok {
			if e.listKind == listNone {
				leftover.pushBack(e, listCleanLRU)
			}
			continue
		}

		if va != 0 {
			if runLen > 0 && va == runVA+uint64(runLen) {
				runLen += int64(pageSize)
			} else {
				flushRun()
				runVA, runLen = va, int64(pageSize)
			}
		}

		c.listLock.Lock()
		c.pushCleanUnmappedLRULocked(e)
		c.listLock.Unlock()
		unmapped++
	}
	flushRun()

	if !leftover.empty() {
		c.listLock.Lock()
		c.cleanLRU.appendAll(&leftover)
		c.listLock.Unlock()
	}

	return unmapped, firstErr
}

// tryRemoveVA implements §4.7 remove_va(entry): take the file lock (or,
// timid, try it), re-validate that the popped entry is still detached (no
// one relisted it) and succeed only if refcount == 0 (the walk takes no
// reference of its own) and not DIRTY, tear down its
// image-section mappings, and clear MAPPED. A wasDirty report from
// UnmapImageSectionList is not a failure (§7): the entry is re-dirtied in
// place and left off the clean-unmapped LRU for this pass. Returns the VA
// that was detached (0 if the entry had none, which still counts as a
// successful "removal" so it is demoted to the clean-unmapped LRU).
func (c *Cache) tryRemoveVA(ctx context.Context, e *Entry, timid bool) (ok bool, va uint64, err error) {
	if timid {
		if !e.TryLock() {
			return false, 0, nil
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
		return false, 0, nil
	}
	if e.IsDirty() {
		// A racing mark_dirty through a live mapping landed here first.
		return false, 0, nil
	}

	if !e.IsMapped() {
		return true, 0, nil
	}

	wasDirty, uerr := e.file.UnmapImageSectionList(ctx, e.offset, c.mm.PageSize(), true)
	if uerr != nil {
		return false, 0, uerr
	}
	if wasDirty {
		c.redirtyFromEviction(e)
		return false, 0, nil
	}

	va = e.va.Load()
	if casClearFlag(&e.flags, flagMapped) {
		c.mappedPages.Add(-1)
	}
	e.va.Store(0)
	return true, va, nil
}
