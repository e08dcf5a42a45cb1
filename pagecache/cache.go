// Package pagecache is the unified in-memory cache between files/block
// devices and upper layers (the VFS read/write path and the
// memory-mapped-file subsystem).
//
// What: a page-cache core — the cache index, the physical-page sharing
// protocol between a file's cache page and its backing block device's
// cache page ("linking"), the dirty-tracking and flush engine, and the
// eviction/trim/unmap engine driven by memory pressure.
// How: one Cache object per kernel encapsulates the global lists, atomic
// counters, and list lock; per-file state (the offset-ordered index and
// dirty list) lives in a fileIndex keyed by the external File collaborator.
// Memory pressure and VM services are consumed through the MM interface so
// tests can inject a synthetic implementation.
// Why: keep the hard coupling (atomic-bitflag entries, global lists, a
// shared-frame ownership protocol, and a background worker that must make
// progress without starving writers or holding locks during I/O) behind one
// small, well-tested surface, the way tinySQL's pager package concentrates
// page-level I/O, WAL logging, and buffer-pool eviction behind one Pager.
package pagecache

import (
	"sync"
	"sync/atomic"
)

// Logger is the minimal structured-logging seam the cache reports errors
// through, matching the shape of the pack's dcache.Logger.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Config holds the cache's bit-exact tunables (§6 "Numeric constants").
type Config struct {
	// FlushMax is the coalescing cap for a single flush write (128 KiB).
	FlushMax int64
	// MaxCleanStreak is how many contiguous clean pages a flush will
	// tolerate inside a pending dirty run before it stops extending it (4).
	MaxCleanStreak int
	// CleanDelayMillis is the worker's re-arm delay after schedule() (5000 ms).
	CleanDelayMillis int64
	// BlockAllocExpansion is the entry-struct block allocator's growth
	// increment (64 entries). Retained for parity with §6; this Go port
	// allocates entries individually via the runtime allocator and does
	// not pool them, so nothing in the cache reads this field.
	BlockAllocExpansion int
}

// DefaultConfig returns the spec's bit-exact constants.
func DefaultConfig() Config {
	return Config{
		FlushMax:            128 << 10,
		MaxCleanStreak:       4,
		CleanDelayMillis:     5000,
		BlockAllocExpansion:  64,
	}
}

const (
	workerClean uint32 = 0
	workerDirty uint32 = 1
)

// Cache is the single page-cache instance a kernel constructs at boot
// (§9: "the core instantiates one cache per kernel"). It encapsulates the
// global lists, counters, list lock, and worker-schedule signal; pressure
// predicates and the worker consume MM through the interface passed to New
// so tests can inject a synthetic MM.
type Cache struct {
	mm     MM
	logger Logger
	cfg    Config

	listLock         sync.Mutex
	cleanLRU         entryList
	cleanUnmappedLRU entryList
	removalList      entryList

	indicesMu sync.RWMutex
	indices   map[File]*fileIndex

	physicalPages    atomic.Int64
	mappedPages      atomic.Int64
	dirtyPages       atomic.Int64
	mappedDirtyPages atomic.Int64
	entryCount       atomic.Int64

	workerState   atomic.Uint32
	lastCleanTime atomic.Int64
	scheduleCh    chan struct{}
}

// New constructs a Cache. mm must not be nil; logger may be nil (errors are
// then silently dropped, matching dcache.Cache's Logger-optional pattern).
func New(mm MM, cfg Config, logger Logger) *Cache {
	if mm == nil {
		panic("pagecache: New requires a non-nil MM")
	}
	return &Cache{
		mm:         mm,
		logger:     logger,
		cfg:        cfg,
		indices:    make(map[File]*fileIndex),
		scheduleCh: make(chan struct{}, 1),
	}
}

func (c *Cache) errorf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// ScheduleWorker implements §4.9 schedule(): CAS CLEAN → DIRTY; on success,
// signal the worker so it arms its clean-delay timer. A non-blocking send
// on a capacity-1 channel is sufficient — the worker only needs to know
// "there is new work", not how many times schedule() was called.
func (c *Cache) ScheduleWorker() {
	if c.workerState.CompareAndSwap(workerClean, workerDirty) {
		select {
		case c.scheduleCh <- struct{}{}:
		default:
		}
	}
}

// WorkerScheduleSignal returns the channel the worker selects on to learn
// that ScheduleWorker was called.
func (c *Cache) WorkerScheduleSignal() <-chan struct{} { return c.scheduleCh }

// MarkWorkerClean implements the worker loop's "CAS DIRTY → CLEAN" step
// (§4.9), called once the worker has drained the removal list, trimmed,
// and successfully flushed all file objects.
func (c *Cache) MarkWorkerClean() bool {
	return c.workerState.CompareAndSwap(workerDirty, workerClean)
}

// HasPendingWork reports whether any dirty page or pending-removal entry
// remains, used by the worker to decide whether to schedule() itself again
// after going clean (§4.9: "re-check whether any file-object or dirty page
// remains — if so, schedule() again").
func (c *Cache) HasPendingWork() bool {
	if c.dirtyPages.Load() > 0 {
		return true
	}
	c.listLock.Lock()
	defer c.listLock.Unlock()
	return !c.removalList.empty()
}

// SetLastCleanTime records the worker's "last clean time" (§4.9: "on wake,
// record 'last clean time'"), as a Unix nanosecond timestamp. The worker
// package stamps this since the core itself never calls a wall clock.
func (c *Cache) SetLastCleanTime(unixNano int64) {
	c.lastCleanTime.Store(unixNano)
}

// Config returns a copy of the cache's configured tunables.
func (c *Cache) Config() Config { return c.cfg }

// MM returns the memory-manager collaborator this cache was constructed
// with.
func (c *Cache) MM() MM { return c.mm }
