package pagecache

import "context"

// FileKind distinguishes the two cacheable object types the linking
// protocol (§4.3) reasons about: block devices, which own the on-disk
// bytes, and file-kind objects (regular files, symlinks, shared-memory
// objects) that may share a block device's physical frame.
type FileKind int

const (
	// KindBlockDevice identifies the cacheable object backing a raw block
	// device. Block-device entries are always linking "owners" in the
	// symmetric linking rule of §4.3.
	KindBlockDevice FileKind = iota
	// KindFile identifies a regular file, symlink, or shared-memory object.
	KindFile
)

// WarningLevel mirrors the MM's coarse memory-pressure signal, consumed by
// the "too mapped?" predicate (§4.10).
type WarningLevel int

const (
	WarningNone WarningLevel = iota
	WarningLow
	WarningCritical
)

// FileLocker is the per-file shared/exclusive lock the VFS file object
// exposes (§6: "VFS file object: per-file shared/exclusive lock"). Tree
// modifications require Lock (exclusive); lookups and most flush stepping
// may run under RLock (shared).
type FileLocker interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()
	// TryLock attempts to take the exclusive lock without blocking. Used by
	// the "timid" paths in trim/unmap/list-removal (§4.6, §4.7, §4.8) that
	// may already be holding a file lock higher in the call stack.
	TryLock() bool
}

// File is the external VFS file-object collaborator the cache holds one
// reference to per cached Entry (§3: "file: owning file-object handle").
// The cache never defines file lifetime, truncation, or the image-section
// list itself; it only calls back into this interface.
type File interface {
	FileLocker

	// AddRef/Release manage the file object's own refcount; the cache
	// holds exactly one reference for as long as any Entry in this file's
	// index is alive.
	AddRef()
	Release()

	// Kind reports whether this file object is a block device or a
	// cacheable file kind, driving the linking rule of §4.3.
	Kind() FileKind

	// IsCacheable reports whether this object participates in the page
	// cache at all.
	IsCacheable() bool
	// IsLinkableType reports whether this object's entries may
	// participate in the shared-frame linking protocol.
	IsLinkableType() bool

	// MarkDirty signals the file object as dirty to the VFS (e.g. to put
	// it on the VFS's dirty-file-object list), mirroring mark_dirty's
	// "signal the file-object as dirty to the VFS" step (§4.4).
	MarkDirty()

	// PerformNonCachedWrite writes the run of pages starting at fileOffset,
	// writing at most size bytes in total. buf has one element per page of
	// the run; the cache core passes every element as nil, since an Entry
	// holds frame addresses rather than page bytes. It returns the number of bytes actually written. This is the
	// "external non-cached write path" of §4.5 step 4.
	PerformNonCachedWrite(ctx context.Context, buf [][]byte, fileOffset int64, size int64) (int64, error)

	// SynchronizeBlockDevice issues a device sync; called after a
	// block-device flush without DATA_SYNCHRONIZED (§4.5 step 5).
	SynchronizeBlockDevice(ctx context.Context) error

	// UnmapImageSectionList tears down any image-section (mmap) mappings
	// of the given page range that are backed solely by the page cache
	// when pageCacheOnly is set. It reports wasDirty=true if the
	// underlying page turned out to be dirty through a mapped write,
	// which is not an error (§7): the page is re-dirtied in place instead
	// of being evicted on this pass.
	UnmapImageSectionList(ctx context.Context, offset, size int64, pageCacheOnly bool) (wasDirty bool, err error)

	// Size returns the file's current byte size, used to clamp flush
	// writes (§4.5 step 2).
	Size() int64
}

// MM is the memory-manager collaborator the cache consumes for frame
// accounting, VA mapping, and pressure signals (§6).
type MM interface {
	PageSize() int64
	PageShift() uint

	TotalPhysicalPages() uint64
	FreePhysicalPages() uint64

	TotalVirtualMemory() uint64
	FreeVirtualMemory() uint64
	VirtualWarningLevel() WarningLevel

	// RequestPagingOut asks MM to page out roughly target pages to restore
	// headroom without starving the working set (§4.6 step 6).
	RequestPagingOut(ctx context.Context, target uint64)

	// FreePhysicalPage releases ownership of a frame previously obtained
	// by the caller (destroy path, §3 "Lifecycle").
	FreePhysicalPage(phys uint64)

	// UnmapAddress tears down len bytes of kernel VA space starting at va.
	UnmapAddress(va uint64, length int64) error

	// SetPageCacheEntryForPhysicalAddress lets MM find its way back from a
	// physical frame to the owning Entry (e.g. for page-out target
	// selection). A nil entry clears the association.
	SetPageCacheEntryForPhysicalAddress(phys uint64, entry *Entry)

	// PhysicalWarningEvent/VirtualWarningEvent are the two memory-warning
	// events the worker waits on alongside its timer (§4.9). A kernel
	// "event" is modeled as a channel the worker selects on; MM is
	// expected to keep sending (non-blocking, best-effort) on these
	// channels whenever the corresponding pressure condition arises.
	PhysicalWarningEvent() <-chan struct{}
	VirtualWarningEvent() <-chan struct{}
}
