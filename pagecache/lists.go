package pagecache

// entryList is an intrusive doubly-linked list of *Entry, reusing each
// Entry's own listPrev/listNext fields. Per §9's design note, an Entry is a
// member of at most one list at a time, so a single pair of link fields
// (tagged with listKind) suffices for all four regimes: the two global
// clean lists, the global removal list, and each file's dirty list.
type entryList struct {
	head, tail *Entry
}

func (l *entryList) empty() bool { return l.head == nil }

// pushBack appends e (already detached) to the tail of l and tags it with
// kind.
func (l *entryList) pushBack(e *Entry, kind listKind) {
	e.listPrev = l.tail
	e.listNext = nil
	if l.tail != nil {
		l.tail.listNext = e
	} else {
		l.head = e
	}
	l.tail = e
	e.listKind = kind
}

// remove detaches e from l, leaving it listNone. e must currently be a
// member of l.
func (l *entryList) remove(e *Entry) {
	if e.listPrev != nil {
		e.listPrev.listNext = e.listNext
	} else {
		l.head = e.listNext
	}
	if e.listNext != nil {
		e.listNext.listPrev = e.listPrev
	} else {
		l.tail = e.listPrev
	}
	e.listPrev, e.listNext = nil, nil
	e.listKind = listNone
}

// popFront removes and returns the head of l, or nil if empty.
func (l *entryList) popFront() *Entry {
	e := l.head
	if e == nil {
		return nil
	}
	l.remove(e)
	return e
}

// takeAll moves every member of l into a fresh, detached-from-l local list
// and resets l to empty. Used by the "take list under lock, drain locally"
// pattern shared by the flush engine's whole-file mode and the removal-list
// drain (§4.5, §4.8).
func (l *entryList) takeAll() entryList {
	out := entryList{head: l.head, tail: l.tail}
	l.head, l.tail = nil, nil
	return out
}

// appendAll moves every member of other onto the tail of l, leaving other
// empty. Used to re-append leftovers at the end of a partially processed
// local list (§4.8 step 3).
func (l *entryList) appendAll(other *entryList) {
	if other.head == nil {
		return
	}
	if l.tail == nil {
		l.head = other.head
	} else {
		l.tail.listNext = other.head
		other.head.listPrev = l.tail
	}
	l.tail = other.tail
	other.head, other.tail = nil, nil
}

// pushCleanLRULocked inserts e at the tail of the global clean LRU. Caller
// holds c.listLock. e must be detached and clean.
func (c *Cache) pushCleanLRULocked(e *Entry) {
	c.cleanLRU.pushBack(e, listCleanLRU)
}

// pushCleanUnmappedLRULocked inserts e at the tail of the global
// clean-unmapped LRU ("colder" than the mapped clean LRU, §4.6 step 3).
func (c *Cache) pushCleanUnmappedLRULocked(e *Entry) {
	c.cleanUnmappedLRU.pushBack(e, listCleanUnmappedLRU)
}

// pushRemovalLocked inserts e at the tail of the global removal list:
// evicted-but-still-referenced entries pending destruction.
func (c *Cache) pushRemovalLocked(e *Entry) {
	c.removalList.pushBack(e, listRemoval)
}

// detachFromListLocked removes e from whichever list it is currently on
// (if any). Caller holds c.listLock for global lists; per-file dirty-list
// membership is also guarded by c.listLock (§5: "Dirty-list membership
// changes require the list lock"), so this single lock suffices regardless
// of which of the four lists e is on.
func (c *Cache) detachFromListLocked(e *Entry) {
	switch e.listKind {
	case listCleanLRU:
		c.cleanLRU.remove(e)
	case listCleanUnmappedLRU:
		c.cleanUnmappedLRU.remove(e)
	case listRemoval:
		c.removalList.remove(e)
	case listDirty:
		e.idx.dirty.remove(e)
	}
}

// pushDirtyLocked appends e to the tail of its own file's dirty list.
// Caller holds c.listLock.
func (c *Cache) pushDirtyLocked(e *Entry) {
	e.idx.dirty.pushBack(e, listDirty)
}

// moveToCleanLRUTailLocked moves e (already on the clean LRU or detached)
// to the tail of the clean LRU, used by lookup() to implement "move the
// entry to the tail of the clean LRU" on a hit.
func (c *Cache) moveToCleanLRUTailLocked(e *Entry) {
	if e.listKind == listCleanLRU {
		c.cleanLRU.remove(e)
	} else if e.listKind == listCleanUnmappedLRU {
		c.cleanUnmappedLRU.remove(e)
	} else if e.listKind != listNone {
		return
	}
	c.pushCleanLRULocked(e)
}
