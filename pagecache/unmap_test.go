package pagecache

import (
	"context"
	"testing"
)

func TestUnmapPressureReliefCoalescesContiguousRuns(t *testing.T) {
	// Small total virtual memory picks the "small VM" trigger/retreat pair
	// (§4.10); zero free virtual memory guarantees tooMapped() is true and
	// that needPages vastly exceeds the handful of entries this test
	// creates, so the walk drains the whole clean LRU rather than stopping
	// partway through it.
	mm := newFakeMM(1<<20, 1<<20, 1000, 0)
	c := testCache(mm)
	file := newFakeFile(KindFile, 1<<20)

	e1 := mustCreate(t, c, mm, file, 0)
	e2 := mustCreate(t, c, mm, file, mm.pageSize)
	e3 := mustCreate(t, c, mm, file, 2*mm.pageSize)

	e1.SetVA(0x10000)
	e2.SetVA(0x11000) // contiguous with e1: 0x10000 + pageSize
	e3.SetVA(0x90000) // far away: must start its own run

	e1.Release()
	e2.Release()
	e3.Release()

	status, err := c.UnmapPressureRelief(context.Background(), false)
	if err != nil || status != StatusOK {
		t.Fatalf("UnmapPressureRelief: status=%v err=%v", status, err)
	}

	if len(mm.unmapRuns) != 2 {
		t.Fatalf("expected 2 coalesced unmap runs, got %v", mm.unmapRuns)
	}
	if mm.unmapRuns[0] != [2]int64{0x10000, 2 * mm.pageSize} {
		t.Fatalf("first run = %v, want the two contiguous pages coalesced", mm.unmapRuns[0])
	}
	if mm.unmapRuns[1] != [2]int64{0x90000, mm.pageSize} {
		t.Fatalf("second run = %v, want the lone far-away page", mm.unmapRuns[1])
	}

	for _, e := range []*Entry{e1, e2, e3} {
		if e.IsMapped() {
			t.Fatal("entry should no longer be mapped after pressure relief")
		}
		if e.GetVA() != 0 {
			t.Fatal("entry's VA should be cleared after unmap")
		}
		if e.listKind != listCleanUnmappedLRU {
			t.Fatalf("listKind = %v, want listCleanUnmappedLRU", e.listKind)
		}
	}
}

func TestUnmapPressureReliefNoopWhenNotTooMapped(t *testing.T) {
	mm := newFakeMM(1<<20, 1<<20, 1000, 1<<30) // plenty of free virtual memory
	c := testCache(mm)
	file := newFakeFile(KindFile, 1<<20)

	e := mustCreate(t, c, mm, file, 0)
	e.SetVA(0x10000)
	e.Release()

	status, err := c.UnmapPressureRelief(context.Background(), false)
	if err != nil || status != StatusOK {
		t.Fatalf("UnmapPressureRelief: status=%v err=%v", status, err)
	}
	if len(mm.unmapRuns) != 0 {
		t.Fatal("should not unmap anything when the cache is not too mapped")
	}
	if !e.IsMapped() {
		t.Fatal("entry should remain mapped")
	}
}

func TestUnmapPressureReliefRedirtiesOnDirtyUnmap(t *testing.T) {
	mm := newFakeMM(1<<20, 1<<20, 1000, 0)
	c := testCache(mm)
	file := newFakeFile(KindFile, 1<<20)
	file.unmapFn = func(ctx context.Context, offset, size int64, pageCacheOnly bool) (bool, error) {
		return true, nil // the underlying page was dirtied through the mapping
	}

	e := mustCreate(t, c, mm, file, 0)
	e.SetVA(0x10000)
	e.Release()

	status, err := c.UnmapPressureRelief(context.Background(), false)
	if err != nil || status != StatusOK {
		t.Fatalf("UnmapPressureRelief: status=%v err=%v", status, err)
	}
	if len(mm.unmapRuns) != 0 {
		t.Fatal("a wasDirty report must not tear down the kernel VA mapping")
	}
	if !e.IsDirty() {
		t.Fatal("entry should be re-marked dirty, not evicted")
	}
	if e.listKind != listDirty {
		t.Fatalf("listKind = %v, want listDirty after a wasDirty unmap", e.listKind)
	}
}
