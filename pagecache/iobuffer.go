package pagecache

// CopyAndCacheIOBuffer implements §6 copy_and_cache_iobuffer(file, offset,
// pages): claims a run of already-populated physical frames (typically the
// output of a completed read) into file's index as newly owned entries. A
// frame that loses the create_or_lookup race to a concurrent insert at the
// same offset is redundant and is returned to MM immediately rather than
// leaked.
func (c *Cache) CopyAndCacheIOBuffer(file File, offset int64, physPages []uint64) ([]*Entry, error) {
	if !file.IsCacheable() {
		return nil, ErrInvalidParameter
	}
	pageSize := c.mm.PageSize()
	out := make([]*Entry, 0, len(physPages))
	for i, phys := range physPages {
		off := offset + int64(i)*pageSize
		e, created, err := c.CreateOrLookup(file, nil, phys, off, nil)
		if err != nil {
			return out, err
		}
		if !created {
			c.mm.FreePhysicalPage(phys)
		}
		out = append(out, e)
	}
	return out, nil
}

// IsIOBufferPageCacheBacked implements §6 is_iobuffer_page_cache_backed:
// reports whether every page in [offset, offset+size) already has an
// entry in file's index, with no gaps. Callers use this to decide whether a
// write can go straight through the existing cached pages instead of
// falling back to PerformNonCachedWrite.
func (c *Cache) IsIOBufferPageCacheBacked(file File, offset, size int64) bool {
	idx := c.indexFor(file)
	if idx == nil {
		return false
	}
	pageSize := c.mm.PageSize()

	file.RLock()
	defer file.RUnlock()

	for want, end := offset, offset+size; want < end; want += pageSize {
		if rbFind(idx.root, want) == nil {
			return false
		}
	}
	return true
}
