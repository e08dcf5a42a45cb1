package pagecache

import (
	"context"
	"math"
)

// FlushFlags are the option bits accepted by Flush (§6 flush(...flags...)).
type FlushFlags int

const (
	// FlushDataSynchronized requests that clean entries whose backing
	// owner is still dirty also be included in the flush (§4.5: "For
	// DATA_SYNCHRONIZED, include clean entries whose backing owner is
	// still dirty"), matching a userspace fsync()'s stronger guarantee.
	FlushDataSynchronized FlushFlags = 1 << iota
)

// SizeToEOF represents "∞" for Flush's size parameter: flush through the
// end of the file.
const SizeToEOF int64 = math.MaxInt64

// Flush implements §4.5 flush(file, offset, size, flags, page_cap?):
// flushes the [offset, offset+size) range (or, if size is SizeToEOF and
// offset is 0 with no page cap, the whole file via its dirty list).
func (c *Cache) Flush(ctx context.Context, file File, offset, size int64, flags FlushFlags, pageCap *int64) (Status, error) {
	return c.flush(ctx, file, offset, size, flags, pageCap, false)
}

// FlushAsWorker is Flush run from the background worker's own loop: it
// cooperates with trim/unmap by bailing out with StatusTryAgain when the
// cache is still too big and there is enough clean to evict, and it
// periodically drops and reacquires the file's shared lock so writers do
// not starve behind a long flush (§4.5 "Cooperation with the worker").
func (c *Cache) FlushAsWorker(ctx context.Context, file File, offset, size int64, flags FlushFlags, pageCap *int64) (Status, error) {
	return c.flush(ctx, file, offset, size, flags, pageCap, true)
}

// yieldEvery bounds how many pages the worker-mode walk processes between
// cooperation checks (§4.5's "periodically checks").
const yieldEvery = 32

func (c *Cache) flush(ctx context.Context, file File, offset, size int64, flags FlushFlags, pageCap *int64, asWorker bool) (Status, error) {
	idx := c.indexFor(file)
	if idx == nil {
		return StatusOK, nil
	}

	whole := offset == 0 && size == SizeToEOF && pageCap == nil

	var firstErr error
	var processed int64

	cur := &flushCursor{}
	flushCur := func() error {
		if len(cur.entries) == 0 {
			return nil
		}
		err := c.flushBuffer(ctx, file, cur.entries, flags)
		cur.entries = cur.entries[:0]
		cur.cleanStreak = 0
		return err
	}

	step := func(e *Entry) flushSignal {
		if pageCap != nil && processed >= *pageCap {
			return sigStopWalk
		}
		clean := !e.IsDirty()
		backingDirty := e.backing != nil && e.backing.IsDirty()
		firstOfBuf := len(cur.entries) == 0
		contiguous := !firstOfBuf && e.offset == cur.nextOffset
		extendsStreak := contiguous && cur.cleanStreak < c.cfg.MaxCleanStreak

		skip := clean && (flags&FlushDataSynchronized == 0 || !backingDirty) && !extendsStreak && !firstOfBuf
		if skip {
			if err := flushCur(); err != nil && firstErr == nil {
				firstErr = err
			}
			return sigEndOfRun
		}
		if !firstOfBuf && !contiguous {
			if err := flushCur(); err != nil && firstErr == nil {
				firstErr = err
			}
			// e is not skipped, so it starts a new run of its own.
			firstOfBuf = true
		}
		if clean {
			if !firstOfBuf {
				cur.cleanStreak++
			}
		} else {
			cur.cleanStreak = 0
		}
		cur.entries = append(cur.entries, e)
		cur.nextOffset = e.offset + c.mm.PageSize()
		processed++

		pageSize := c.mm.PageSize()
		if int64(len(cur.entries))*pageSize >= c.cfg.FlushMax {
			if err := flushCur(); err != nil && firstErr == nil {
				firstErr = err
			}
		}

		if asWorker && processed%yieldEvery == 0 {
			if c.tooBig() && c.hasEvictableClean() {
				return sigTryAgain
			}
			file.RUnlock()
			file.RLock()
		}
		return sigContinue
	}

	var walkSig flushSignal
	if whole {
		walkSig = c.flushWholeFile(file, idx, step)
	} else {
		hi := offset + size
		if size == SizeToEOF || hi < offset {
			hi = math.MaxInt64
		}
		walkSig = c.flushRanged(file, offset, hi, step)
	}

	if err := flushCur(); err != nil && firstErr == nil {
		firstErr = err
	}

	if walkSig == sigTryAgain {
		return StatusTryAgain, nil
	}
	if firstErr != nil {
		return StatusError, firstErr
	}
	return StatusOK, nil
}

// flushCursor accumulates a contiguous run of pages to be written in one
// PerformNonCachedWrite call, bounded by Config.FlushMax (§4.5).
type flushCursor struct {
	entries     []*Entry
	nextOffset  int64
	cleanStreak int
}

// flushSignal is the step function's internal control-flow result; distinct
// from an error since a step ending a contiguous run (sigEndOfRun) is not a
// failure — it just means the walk should keep going elsewhere.
type flushSignal int

const (
	sigContinue flushSignal = iota
	sigEndOfRun
	sigStopWalk
	sigTryAgain
)

// flushRanged implements §4.5's "Ranged mode": start at
// tree.lower_bound(offset) and step in offset order through [lo, hi).
func (c *Cache) flushRanged(file File, lo, hi int64, step func(*Entry) flushSignal) flushSignal {
	file.RLock()
	defer file.RUnlock()

	e := rbLowerBound(c.rootOf(file), lo)
	for e != nil && e.offset < hi {
		next := rbSuccessor(e)
		switch sig := step(e); sig {
		case sigStopWalk, sigTryAgain:
			return sig
		case sigEndOfRun:
			// Ranged mode keeps scanning the rest of the range for further
			// dirty runs.
		}
		e = next
	}
	return sigContinue
}

// flushWholeFile implements §4.5's "Whole-file mode": take the file's
// dirty list under the list lock, move it to a local working set, then for
// each not-yet-visited dirty entry, step forward via the offset tree to
// pick up contiguous neighbors (including a tolerated clean streak),
// avoiding a full rescan of the (possibly much larger) clean tree.
func (c *Cache) flushWholeFile(file File, idx *fileIndex, step func(*Entry) flushSignal) flushSignal {
	c.listLock.Lock()
	local := idx.dirty.takeAll()
	c.listLock.Unlock()

	var seeds []*Entry
	for e := local.popFront(); e != nil; e = local.popFront() {
		e.listKind = listNone
		seeds = append(seeds, e)
	}

	file.RLock()
	defer file.RUnlock()

	visited := make(map[*Entry]bool, len(seeds))
	for _, seed := range seeds {
		if visited[seed] {
			continue
		}
		e := seed
		for e != nil {
			visited[e] = true
			next := rbSuccessor(e)
			switch sig := step(e); sig {
			case sigStopWalk, sigTryAgain:
				return sig
			case sigEndOfRun:
				// Stop extending this seed's run; fall back to the outer
				// loop for the next unvisited seed.
				e = nil
				continue
			}
			if next == nil || visited[next] {
				break
			}
			e = next
		}
	}
	return sigContinue
}

// rootOf returns the current tree root for file's index, or nil.
func (c *Cache) rootOf(file File) *Entry {
	idx := c.indexFor(file)
	if idx == nil {
		return nil
	}
	return idx.root
}

// hasEvictableClean reports whether either global clean list has anything
// the trim engine could reclaim, used by the worker-mode flush loop's
// cooperation check (§4.5).
func (c *Cache) hasEvictableClean() bool {
	c.listLock.Lock()
	defer c.listLock.Unlock()
	return !c.cleanLRU.empty() || !c.cleanUnmappedLRU.empty()
}

// flushBuffer implements §4.5 flush_buffer: verify tree membership,
// mark_clean(move=true) the run up front — recording, per entry, whether
// that call actually performed the dirty→clean transition — clamp the
// write to the file's current size, issue the write, and on a short write
// or error re-mark dirty everything from the first unwritten byte onward
// (aligned down to a page boundary) that this call itself transitioned to
// clean, and re-mark the file object dirty. If nothing in the buffer transitioned and the flush is not
// DATA_SYNCHRONIZED, another flusher already owns writing every page here
// (§5 at-most-one-writer: mark_clean returning true is the token that
// authorizes the write), so this call returns success without writing. A
// successful whole-run write to a block device that did not itself request
// DATA_SYNCHRONIZED triggers SynchronizeBlockDevice.
func (c *Cache) flushBuffer(ctx context.Context, file File, entries []*Entry, flags FlushFlags) error {
	pageSize := c.mm.PageSize()

	live := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if !e.inTree {
			// Removed/evicted concurrently since being collected; nothing
			// left to write back.
			continue
		}
		live = append(live, e)
	}
	if len(live) == 0 {
		return nil
	}

	transitioned := make([]bool, len(live))
	anyTransitioned := false
	for i, e := range live {
		if c.MarkClean(e, true) {
			transitioned[i] = true
			anyTransitioned = true
		}
	}

	if !anyTransitioned && flags&FlushDataSynchronized == 0 {
		return nil
	}

	start := live[0].offset
	size := int64(len(live)) * pageSize
	if fileSize := file.Size(); start+size > fileSize {
		size = fileSize - start
		if size < 0 {
			size = 0
		}
	}

	// One element per page of the run. Every element is nil: an Entry holds
	// frame addresses, not page bytes.
	bufs := make([][]byte, len(live))

	n, err := file.PerformNonCachedWrite(ctx, bufs, start, size)

	if err == nil && n >= size {
		if file.Kind() == KindBlockDevice && flags&FlushDataSynchronized == 0 {
			if syncErr := file.SynchronizeBlockDevice(ctx); syncErr != nil {
				return syncErr
			}
		}
		return nil
	}

	writtenUpTo := start
	if n > 0 {
		writtenUpTo = start + n
	}
	alignedFrom := (writtenUpTo / pageSize) * pageSize

	for i, e := range live {
		if !transitioned[i] {
			continue
		}
		if e.offset >= alignedFrom {
			c.redirtyAfterFailedWrite(e)
		}
	}
	file.MarkDirty()

	if err == nil {
		err = ErrDataLengthMismatch
	}
	return err
}

// redirtyAfterFailedWrite restores DIRTY on a page flush_buffer failed to
// write. It does not notify the VFS object itself; flushBuffer re-marks the
// file object dirty once per failed write.
func (c *Cache) redirtyAfterFailedWrite(e *Entry) {
	target := e.owner()
	if !casSetFlag(&target.flags, flagDirty) {
		return
	}
	c.dirtyPages.Add(1)
	if target.flags.Load()&flagMapped != 0 {
		c.mappedDirtyPages.Add(1)
	}
	c.listLock.Lock()
	c.detachFromListLocked(target)
	c.pushDirtyLocked(target)
	c.listLock.Unlock()
}
