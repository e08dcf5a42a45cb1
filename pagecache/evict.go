package pagecache

import "context"

// EvictFlags are the option bits accepted by Evict (§4.11 evict(...flags)).
type EvictFlags int

const (
	// EvictDelete forces every entry out regardless of outside references
	// (truncate/delete semantics). Without it, a still-referenced entry is
	// left untouched on a best-effort basis (§4.11: "if flags == 0 and the
	// entry has outside references, skip").
	EvictDelete EvictFlags = 1 << iota
)

// Evict implements §4.11's truncate/delete eviction: walk every entry at or
// past fromOffset (pass fromOffset 0 for whole-file deletion). Without
// EvictDelete, an entry still referenced by someone else is skipped
// entirely, best-effort (left in the tree, untouched). With EvictDelete, a
// referenced entry is forced out anyway: mapped entries are unmapped
// unconditionally (pageCacheOnly=false: truncation tears down every
// mapping of the range, not just cache-only ones; a non-dirty unmap
// failure here is propagated and the caller is expected to roll back the
// truncate/delete, the resolved Open Question from §0), removed from the
// tree, and either destroyed immediately (refcount 0) or moved to the
// global removal list for DrainRemovalList to reclaim once the last
// reference drops.
func (c *Cache) Evict(ctx context.Context, file File, fromOffset int64, flags EvictFlags) (Status, error) {
	idx := c.indexFor(file)
	if idx == nil {
		return StatusOK, nil
	}

	file.Lock()
	defer file.Unlock()

	entries := collectFrom(idx.root, fromOffset)

	var firstErr error
	var destroy entryList

	for _, e := range entries {
		if flags&EvictDelete == 0 && e.Refcount() != 0 {
			// Best-effort: leave a still-referenced entry untouched.
			continue
		}

		if e.IsMapped() {
			if _, err := file.UnmapImageSectionList(ctx, e.offset, c.mm.PageSize(), false); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
		}

		c.listLock.Lock()
		c.detachFromListLocked(e)
		c.listLock.Unlock()

		wasDirty := e.IsDirty()
		wasMapped := e.IsMapped()

		rbDelete(&idx.root, e)
		idx.entries--
		c.entryCount.Add(-1)

		if wasDirty {
			c.dirtyPages.Add(-1)
			if wasMapped {
				c.mappedDirtyPages.Add(-1)
			}
		}
		if wasMapped {
			c.mappedPages.Add(-1)
			e.va.Store(0)
		}

		if e.Refcount() == 0 {
			destroy.pushBack(e, listNone)
		} else {
			c.listLock.Lock()
			c.pushRemovalLocked(e)
			c.listLock.Unlock()
		}
	}

	if idx.entries == 0 && idx.dirty.empty() {
		c.dropIndexIfEmpty(idx)
	}

	c.destroyEntries(&destroy)

	if firstErr != nil {
		return StatusError, firstErr
	}
	return StatusOK, nil
}

// collectFrom gathers every entry at or past offset, in offset order,
// before any tree mutation begins (rbDelete invalidates successor chaining
// through a deleted node).
func collectFrom(root *Entry, offset int64) []*Entry {
	var out []*Entry
	for e := rbLowerBound(root, offset); e != nil; e = rbSuccessor(e) {
		out = append(out, e)
	}
	return out
}

// DrainRemovalList implements the removal-list half of §4.8: reclaim any
// evicted-but-still-referenced entry whose last reference has since
// dropped, and give everything else another pass later. The background
// worker calls this on every DIRTY-state wake (§4.9).
func (c *Cache) DrainRemovalList(ctx context.Context) {
	c.listLock.Lock()
	local := c.removalList.takeAll()
	c.listLock.Unlock()

	var destroy, leftover entryList
	for e := local.popFront(); e != nil; e = local.popFront() {
		if e.Refcount() == 0 {
			destroy.pushBack(e, listNone)
		} else {
			leftover.pushBack(e, listRemoval)
		}
	}

	c.destroyEntries(&destroy)

	if !leftover.empty() {
		c.listLock.Lock()
		c.removalList.appendAll(&leftover)
		c.listLock.Unlock()
	}
}
