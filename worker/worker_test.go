package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gokernel/pagecache/pagecache"
)

// testMM is a minimal pagecache.MM double: ample physical/virtual headroom
// so trim/unmap never trigger, and warning channels nobody ever sends on,
// matching the hand-rolled-fake idiom used throughout the cache core's own
// tests (no mocking library anywhere in the corpus).
type testMM struct {
	physEvt chan struct{}
	virtEvt chan struct{}

	freed atomic.Int64
}

func newTestMM() *testMM {
	return &testMM{physEvt: make(chan struct{}), virtEvt: make(chan struct{})}
}

func (m *testMM) PageSize() int64                           { return 4096 }
func (m *testMM) PageShift() uint                            { return 12 }
func (m *testMM) TotalPhysicalPages() uint64                 { return 1000 }
func (m *testMM) FreePhysicalPages() uint64                  { return 900 }
func (m *testMM) TotalVirtualMemory() uint64                 { return 1 << 30 }
func (m *testMM) FreeVirtualMemory() uint64                  { return 1 << 30 }
func (m *testMM) VirtualWarningLevel() pagecache.WarningLevel { return pagecache.WarningNone }
func (m *testMM) RequestPagingOut(ctx context.Context, target uint64) {}
func (m *testMM) FreePhysicalPage(phys uint64)                { m.freed.Add(1) }
func (m *testMM) UnmapAddress(va uint64, length int64) error { return nil }
func (m *testMM) SetPageCacheEntryForPhysicalAddress(phys uint64, entry *pagecache.Entry) {}
func (m *testMM) PhysicalWarningEvent() <-chan struct{}      { return m.physEvt }
func (m *testMM) VirtualWarningEvent() <-chan struct{}       { return m.virtEvt }

// testFile is a minimal pagecache.File double that counts its
// PerformNonCachedWrite calls, enough to observe that the worker actually
// flushed it.
type testFile struct {
	sync.RWMutex
	writes atomic.Int64
}

func (f *testFile) AddRef()                    {}
func (f *testFile) Release()                   {}
func (f *testFile) Kind() pagecache.FileKind    { return pagecache.KindFile }
func (f *testFile) IsCacheable() bool           { return true }
func (f *testFile) IsLinkableType() bool        { return true }
func (f *testFile) MarkDirty()                  {}
func (f *testFile) Size() int64                 { return 4096 }
func (f *testFile) SynchronizeBlockDevice(ctx context.Context) error { return nil }
func (f *testFile) UnmapImageSectionList(ctx context.Context, offset, size int64, pageCacheOnly bool) (bool, error) {
	return false, nil
}
func (f *testFile) PerformNonCachedWrite(ctx context.Context, buf [][]byte, fileOffset, size int64) (int64, error) {
	f.writes.Add(1)
	return size, nil
}

func TestWorkerFlushesDirtyPageAfterCleanDelay(t *testing.T) {
	mm := newTestMM()
	cache := pagecache.New(mm, pagecache.DefaultConfig(), nil)
	file := &testFile{}

	e, _, err := cache.CreateOrLookup(file, nil, 0x1000, 0, nil)
	if err != nil {
		t.Fatalf("CreateOrLookup: %v", err)
	}
	cache.MarkDirty(e)

	w := New(cache, Config{CleanDelay: 20 * time.Millisecond}, nil)
	w.Start()
	defer w.Stop()

	cache.ScheduleWorker()

	deadline := time.After(2 * time.Second)
	for {
		stats, err := cache.GetStatistics(0)
		if err != nil {
			t.Fatalf("GetStatistics: %v", err)
		}
		if stats.Dirty == 0 && file.writes.Load() > 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("worker did not flush the dirty page in time: dirty=%d writes=%d", stats.Dirty, file.writes.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWorkerFlushesPageDirtiedBeforeWake(t *testing.T) {
	mm := newTestMM()
	cache := pagecache.New(mm, pagecache.DefaultConfig(), nil)
	file := &testFile{}

	e1, _, _ := cache.CreateOrLookup(file, nil, 0x1000, 0, nil)
	e2, _, _ := cache.CreateOrLookup(file, nil, 0x2000, 4096, nil)
	cache.MarkDirty(e1)

	w := New(cache, Config{CleanDelay: 10 * time.Millisecond}, nil)
	w.Start()
	defer w.Stop()

	cache.ScheduleWorker()

	// Dirty e2 5ms in, before the clean delay has elapsed and the first wake
	// has fired. The state is already DIRTY, so this second ScheduleWorker
	// is a no-op and the one pending wake must flush both pages.
	time.Sleep(5 * time.Millisecond)
	cache.MarkDirty(e2)
	cache.ScheduleWorker()

	deadline := time.After(2 * time.Second)
	for {
		stats, _ := cache.GetStatistics(0)
		if stats.Dirty == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("worker did not converge to zero dirty pages: dirty=%d", stats.Dirty)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStartThenStopReturns(t *testing.T) {
	mm := newTestMM()
	cache := pagecache.New(mm, pagecache.DefaultConfig(), nil)
	w := New(cache, DefaultConfig(), nil)
	w.Start()
	w.Stop()
}
