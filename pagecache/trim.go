package pagecache

import "context"

// Trim implements §4.6 trim(timid): if the cache is too big, evict clean
// entries — first from the colder clean-unmapped LRU, then from the clean
// LRU — until free physical pages reach the retreat threshold, and destroy
// what was collected. If the cache is not too big, eviction is skipped, but
// trim_virtual and the paging-out request below still run (§4.6 step 1).
// timid callers (contending with a writer higher in the stack) use TryLock
// instead of blocking on a file's exclusive lock.
func (c *Cache) Trim(ctx context.Context, timid bool) (Status, error) {
	if c.tooBig() {
		retreat := c.physicalRetreat()
		free := c.mm.FreePhysicalPages()
		if free < retreat {
			need := retreat - free

			var destroy entryList
			evicted := c.drainList(ctx, &c.cleanUnmappedLRU, listCleanUnmappedLRU, need, timid, &destroy)
			if evicted < need {
				evicted += c.drainList(ctx, &c.cleanLRU, listCleanLRU, need-evicted, timid, &destroy)
			}

			c.destroyEntries(&destroy)
		}
	}

	if _, err := c.trimVirtual(ctx, timid); err != nil {
		return StatusError, err
	}

	if physical := uint64(c.physicalPages.Load()); physical < c.physicalTarget() {
		c.mm.RequestPagingOut(ctx, c.physicalTarget()-physical)
	}

	return StatusOK, nil
}
