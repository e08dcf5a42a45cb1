package pagecache

import (
	"context"
	"sync"
	"sync/atomic"
)

// fakeMM is a synthetic MM collaborator for tests, modeled on the teacher's
// preference for hand-rolled fakes over mocking frameworks (no mock library
// appears anywhere in the example pack).
type fakeMM struct {
	pageSize  int64
	pageShift uint

	totalPhys atomic.Uint64
	freePhys  atomic.Uint64
	totalVirt atomic.Uint64
	freeVirt  atomic.Uint64
	vwarn     atomic.Int32

	physEvt chan struct{}
	virtEvt chan struct{}

	nextPhys atomic.Uint64

	mu          sync.Mutex
	byPhys      map[uint64]*Entry
	freed       []uint64
	unmapRuns   [][2]int64 // [va, length]
	pageOutReqs []uint64
}

func newFakeMM(totalPhys, freePhys, totalVirt, freeVirt uint64) *fakeMM {
	m := &fakeMM{
		pageSize:  4096,
		pageShift: 12,
		physEvt:   make(chan struct{}, 1),
		virtEvt:   make(chan struct{}, 1),
		byPhys:    make(map[uint64]*Entry),
	}
	m.totalPhys.Store(totalPhys)
	m.freePhys.Store(freePhys)
	m.totalVirt.Store(totalVirt)
	m.freeVirt.Store(freeVirt)
	m.nextPhys.Store(0x1000)
	return m
}

func (m *fakeMM) allocPhys() uint64 { return m.nextPhys.Add(uint64(m.pageSize)) }

func (m *fakeMM) PageSize() int64         { return m.pageSize }
func (m *fakeMM) PageShift() uint         { return m.pageShift }
func (m *fakeMM) TotalPhysicalPages() uint64 { return m.totalPhys.Load() }
func (m *fakeMM) FreePhysicalPages() uint64  { return m.freePhys.Load() }
func (m *fakeMM) TotalVirtualMemory() uint64 { return m.totalVirt.Load() }
func (m *fakeMM) FreeVirtualMemory() uint64  { return m.freeVirt.Load() }
func (m *fakeMM) VirtualWarningLevel() WarningLevel {
	return WarningLevel(m.vwarn.Load())
}

func (m *fakeMM) RequestPagingOut(ctx context.Context, target uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageOutReqs = append(m.pageOutReqs, target)
}

func (m *fakeMM) FreePhysicalPage(phys uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freed = append(m.freed, phys)
	delete(m.byPhys, phys)
	m.freePhys.Add(1)
}

func (m *fakeMM) UnmapAddress(va uint64, length int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmapRuns = append(m.unmapRuns, [2]int64{int64(va), length})
	m.freeVirt.Add(uint64(length))
	return nil
}

func (m *fakeMM) SetPageCacheEntryForPhysicalAddress(phys uint64, entry *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry == nil {
		delete(m.byPhys, phys)
		return
	}
	m.byPhys[phys] = entry
}

func (m *fakeMM) PhysicalWarningEvent() <-chan struct{} { return m.physEvt }
func (m *fakeMM) VirtualWarningEvent() <-chan struct{}  { return m.virtEvt }

// fakeFile is a synthetic File collaborator. Embedding sync.RWMutex
// satisfies FileLocker (Lock/Unlock/RLock/RUnlock/TryLock) directly.
type fakeFile struct {
	sync.RWMutex

	kind      FileKind
	cacheable bool
	linkable  bool

	size atomic.Int64
	ref  atomic.Int32

	markDirtyCalls atomic.Int32
	syncCalls      atomic.Int32

	writeFn func(ctx context.Context, buf [][]byte, fileOffset, size int64) (int64, error)
	unmapFn func(ctx context.Context, offset, size int64, pageCacheOnly bool) (bool, error)
	syncFn  func(ctx context.Context) error
}

func newFakeFile(kind FileKind, size int64) *fakeFile {
	f := &fakeFile{kind: kind, cacheable: true, linkable: true}
	f.size.Store(size)
	return f
}

func (f *fakeFile) AddRef()  { f.ref.Add(1) }
func (f *fakeFile) Release() { f.ref.Add(-1) }

func (f *fakeFile) Kind() FileKind      { return f.kind }
func (f *fakeFile) IsCacheable() bool   { return f.cacheable }
func (f *fakeFile) IsLinkableType() bool { return f.linkable }

func (f *fakeFile) MarkDirty() { f.markDirtyCalls.Add(1) }

func (f *fakeFile) PerformNonCachedWrite(ctx context.Context, buf [][]byte, fileOffset, size int64) (int64, error) {
	if f.writeFn != nil {
		return f.writeFn(ctx, buf, fileOffset, size)
	}
	return size, nil
}

func (f *fakeFile) SynchronizeBlockDevice(ctx context.Context) error {
	f.syncCalls.Add(1)
	if f.syncFn != nil {
		return f.syncFn(ctx)
	}
	return nil
}

func (f *fakeFile) UnmapImageSectionList(ctx context.Context, offset, size int64, pageCacheOnly bool) (bool, error) {
	if f.unmapFn != nil {
		return f.unmapFn(ctx, offset, size, pageCacheOnly)
	}
	return false, nil
}

func (f *fakeFile) Size() int64 { return f.size.Load() }

func testCache(mm *fakeMM) *Cache {
	return New(mm, DefaultConfig(), nil)
}
