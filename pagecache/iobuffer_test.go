package pagecache

import "testing"

func TestCopyAndCacheIOBufferInsertsNewPages(t *testing.T) {
	mm := newFakeMM(1000, 900, 1<<30, 1<<30)
	c := testCache(mm)
	file := newFakeFile(KindFile, 3*mm.pageSize)

	phys := []uint64{mm.allocPhys(), mm.allocPhys(), mm.allocPhys()}
	entries, err := c.CopyAndCacheIOBuffer(file, 0, phys)
	if err != nil {
		t.Fatalf("CopyAndCacheIOBuffer: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i, e := range entries {
		if e.Offset() != int64(i)*mm.pageSize {
			t.Fatalf("entry %d offset = %d, want %d", i, e.Offset(), int64(i)*mm.pageSize)
		}
		if e.Phys() != phys[i] {
			t.Fatalf("entry %d phys = %#x, want %#x", i, e.Phys(), phys[i])
		}
	}
	if len(mm.freed) != 0 {
		t.Fatal("no frame should be freed when every page is genuinely new")
	}
}

func TestCopyAndCacheIOBufferFreesRedundantFrame(t *testing.T) {
	mm := newFakeMM(1000, 900, 1<<30, 1<<30)
	c := testCache(mm)
	file := newFakeFile(KindFile, mm.pageSize)

	existing := mustCreate(t, c, mm, file, 0)

	losingPhys := mm.allocPhys()
	entries, err := c.CopyAndCacheIOBuffer(file, 0, []uint64{losingPhys})
	if err != nil {
		t.Fatalf("CopyAndCacheIOBuffer: %v", err)
	}
	if entries[0] != existing {
		t.Fatal("a frame that loses the dedup race should yield the existing entry")
	}
	if len(mm.freed) != 1 || mm.freed[0] != losingPhys {
		t.Fatalf("the redundant frame should be freed immediately, freed=%v", mm.freed)
	}
}

func TestCopyAndCacheIOBufferRejectsUncacheable(t *testing.T) {
	mm := newFakeMM(1000, 900, 1<<30, 1<<30)
	c := testCache(mm)
	file := newFakeFile(KindFile, mm.pageSize)
	file.cacheable = false

	_, err := c.CopyAndCacheIOBuffer(file, 0, []uint64{mm.allocPhys()})
	if err != ErrInvalidParameter {
		t.Fatalf("err = %v, want ErrInvalidParameter", err)
	}
}

func TestIsIOBufferPageCacheBackedDetectsGaps(t *testing.T) {
	mm := newFakeMM(1000, 900, 1<<30, 1<<30)
	c := testCache(mm)
	file := newFakeFile(KindFile, 3*mm.pageSize)

	mustCreate(t, c, mm, file, 0)
	mustCreate(t, c, mm, file, 2*mm.pageSize) // gap at offset pageSize

	if c.IsIOBufferPageCacheBacked(file, 0, 3*mm.pageSize) {
		t.Fatal("a missing middle page should break full coverage")
	}
	if !c.IsIOBufferPageCacheBacked(file, 0, mm.pageSize) {
		t.Fatal("the single covered page should report backed")
	}
}

func TestIsIOBufferPageCacheBackedOnUnknownFile(t *testing.T) {
	mm := newFakeMM(1000, 900, 1<<30, 1<<30)
	c := testCache(mm)
	file := newFakeFile(KindFile, mm.pageSize)

	if c.IsIOBufferPageCacheBacked(file, 0, mm.pageSize) {
		t.Fatal("a file with no index at all should never report backed")
	}
}
