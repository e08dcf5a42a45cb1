package pagecache

// fileIndex is the per-file ordered map of offset → Entry (§4.2) plus that
// file's dirty list (§3: "list membership ... per-file dirty"). Tree
// mutation requires the owning file's lock held exclusive; lookups may run
// under the shared lock. Dirty-list membership changes go through the
// cache's single list lock regardless of which file they belong to (§5).
type fileIndex struct {
	file    File
	root    *Entry
	dirty   entryList
	entries int
}

// Files returns a snapshot of every file object the cache currently holds
// an index for. The worker uses this to implement flush_file_objects(0,0)
// (§4.9): the cache, not the VFS, is the worker's only view of "every
// cacheable file with entries", so it is the cache that must expose the
// enumeration.
func (c *Cache) Files() []File {
	c.indicesMu.RLock()
	defer c.indicesMu.RUnlock()
	out := make([]File, 0, len(c.indices))
	for f := range c.indices {
		out = append(out, f)
	}
	return out
}

// indexFor returns the existing fileIndex for file, or nil.
func (c *Cache) indexFor(file File) *fileIndex {
	c.indicesMu.RLock()
	defer c.indicesMu.RUnlock()
	return c.indices[file]
}

// indexForOrCreate returns the fileIndex for file, creating and AddRef'ing
// the file object on first use.
func (c *Cache) indexForOrCreate(file File) *fileIndex {
	c.indicesMu.RLock()
	idx := c.indices[file]
	c.indicesMu.RUnlock()
	if idx != nil {
		return idx
	}
	c.indicesMu.Lock()
	defer c.indicesMu.Unlock()
	if idx = c.indices[file]; idx != nil {
		return idx
	}
	file.AddRef()
	idx = &fileIndex{file: file}
	c.indices[file] = idx
	return idx
}

// dropIndexIfEmpty removes file's index from the cache and releases the
// cache's reference on it once the file's tree and dirty list are both
// empty. Caller must hold the file's lock exclusive (so no insert can race
// with this check).
func (c *Cache) dropIndexIfEmpty(idx *fileIndex) {
	if idx.root != nil || !idx.dirty.empty() || idx.entries != 0 {
		return
	}
	c.indicesMu.Lock()
	delete(c.indices, idx.file)
	c.indicesMu.Unlock()
	idx.file.Release()
}

// Lookup implements §4.2 lookup(file, offset): search the tree under the
// file's shared lock; on a hit, add a reference and move the entry to the
// tail of the clean LRU (dirty entries stay on the dirty list, since they
// are not eviction candidates).
func (c *Cache) Lookup(file File, offset int64) (*Entry, bool) {
	idx := c.indexFor(file)
	if idx == nil {
		return nil, false
	}
	file.RLock()
	e := rbFind(idx.root, offset)
	if e == nil {
		file.RUnlock()
		return nil, false
	}
	addRef(e)
	file.RUnlock()

	if !e.IsDirty() {
		c.listLock.Lock()
		c.moveToCleanLRUTailLocked(e)
		c.listLock.Unlock()
	}
	return e, true
}

// CreateOrLookup implements §4.2 create_or_lookup(file, va?, phys, offset,
// link?): takes the file lock exclusive and searches the tree first; if an
// entry already exists at offset, it is returned (with a reference) and no
// new entry is allocated. Otherwise a new entry is allocated and inserted
// into the tree, entry_count
// is bumped, the linking rule (§4.3) is applied, and the entry is placed
// on the clean LRU. The returned bool is "created", true exactly once per
// (file, offset) pair (round-trip property R2).
func (c *Cache) CreateOrLookup(file File, va *uint64, phys uint64, offset int64, link *Entry) (*Entry, bool, error) {
	if !file.IsCacheable() {
		return nil, false, ErrInvalidParameter
	}
	idx := c.indexForOrCreate(file)

	file.Lock()
	defer file.Unlock()

	if existing := rbFind(idx.root, offset); existing != nil {
		addRef(existing)
		return existing, false, nil
	}

	e := c.newEntry(file, idx, offset, phys)
	rbInsert(&idx.root, e)
	idx.entries++
	c.entryCount.Add(1)

	c.applyLinkingOnInsert(e, link)

	if va != nil {
		setVA(e, *va)
	}

	c.listLock.Lock()
	c.pushCleanLRULocked(e)
	c.listLock.Unlock()

	return e, true, nil
}

// CreateAndInsert implements §4.2-adjacent create_and_insert(file, va?,
// phys, offset, link?): like CreateOrLookup, but the caller guarantees
// (file, offset) is not already present, so no dedup race is possible.
// Used by callers (e.g. readahead) that already hold an exclusive
// guarantee of uniqueness from a higher-level invariant.
func (c *Cache) CreateAndInsert(file File, va *uint64, phys uint64, offset int64, link *Entry) *Entry {
	idx := c.indexForOrCreate(file)

	file.Lock()
	defer file.Unlock()

	if existing := rbFind(idx.root, offset); existing != nil {
		panic("pagecache: CreateAndInsert violated uniqueness guarantee")
	}

	e := c.newEntry(file, idx, offset, phys)
	rbInsert(&idx.root, e)
	idx.entries++
	c.entryCount.Add(1)

	c.applyLinkingOnInsert(e, link)

	if va != nil {
		setVA(e, *va)
	}

	c.listLock.Lock()
	c.pushCleanLRULocked(e)
	c.listLock.Unlock()

	return e
}

func (c *Cache) newEntry(file File, idx *fileIndex, offset int64, phys uint64) *Entry {
	e := &Entry{
		file:   file,
		offset: offset,
		phys:   phys,
		cache:  c,
		idx:    idx,
	}
	e.refcount.Store(1)
	e.flags.Store(flagOwner)
	c.physicalPages.Add(1)
	return e
}
