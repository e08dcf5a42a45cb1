package pagecache

import "testing"

func TestCanLink(t *testing.T) {
	mm := newFakeMM(1000, 900, 1<<30, 1<<30)
	c := testCache(mm)
	dev := newFakeFile(KindBlockDevice, 1<<20)
	f := newFakeFile(KindFile, 1<<20)

	owner, _, _ := c.CreateOrLookup(dev, nil, mm.allocPhys(), 0, nil)

	if !CanLink(owner, f) {
		t.Fatal("a block-device owner should be linkable against a file-kind file")
	}

	same, _, _ := c.CreateOrLookup(dev, nil, mm.allocPhys(), 4096, nil)
	if CanLink(same, dev) {
		t.Fatal("same-kind entries must never be linkable")
	}

	f.linkable = false
	if CanLink(owner, f) {
		t.Fatal("a non-linkable file type must never be linkable")
	}
}

func TestInsertionWithLinkTransfersOwnership(t *testing.T) {
	mm := newFakeMM(1000, 900, 1<<30, 1<<30)
	c := testCache(mm)
	dev := newFakeFile(KindBlockDevice, 1<<20)
	f := newFakeFile(KindFile, 1<<20)

	fileEntry, _, _ := c.CreateOrLookup(f, nil, mm.allocPhys(), 0, nil)
	before := c.mappedPages.Load()

	devEntry, created, err := c.CreateOrLookup(dev, nil, mm.allocPhys(), 0, fileEntry)
	if err != nil || !created {
		t.Fatalf("create devEntry: created=%v err=%v", created, err)
	}

	if !devEntry.IsOwner() {
		t.Fatal("the block-device entry must end up owning the shared frame")
	}
	if fileEntry.IsOwner() {
		t.Fatal("the file entry must be demoted to a non-owner")
	}
	if fileEntry.Backing() != devEntry {
		t.Fatal("file entry's backing should point at the device entry")
	}
	if c.mappedPages.Load() != before {
		t.Fatalf("mappedPages changed across an ownership transfer with nothing mapped: %d -> %d", before, c.mappedPages.Load())
	}
}

func TestLinkEntriesIdempotent(t *testing.T) {
	mm := newFakeMM(1000, 900, 1<<30, 1<<30)
	c := testCache(mm)
	dev := newFakeFile(KindBlockDevice, 1<<20)
	f := newFakeFile(KindFile, 1<<20)

	lower, _, _ := c.CreateOrLookup(dev, nil, mm.allocPhys(), 0, nil)
	upper, _, _ := c.CreateOrLookup(f, nil, mm.allocPhys(), 0, nil)

	if !c.LinkEntries(lower, upper) {
		t.Fatal("first LinkEntries call should succeed")
	}
	if upper.Backing() != lower {
		t.Fatal("upper should now be backed by lower")
	}

	// Idempotency: calling again with the same already-linked pair must
	// report success without mutating anything further.
	freedBefore := len(mm.freed)
	if !c.LinkEntries(lower, upper) {
		t.Fatal("repeat LinkEntries on an already-linked pair should still report true")
	}
	if len(mm.freed) != freedBefore {
		t.Fatal("repeat LinkEntries must not free another frame")
	}
}

func TestLinkEntriesRejectsDirtyUpper(t *testing.T) {
	mm := newFakeMM(1000, 900, 1<<30, 1<<30)
	c := testCache(mm)
	dev := newFakeFile(KindBlockDevice, 1<<20)
	f := newFakeFile(KindFile, 1<<20)

	lower, _, _ := c.CreateOrLookup(dev, nil, mm.allocPhys(), 0, nil)
	upper, _, _ := c.CreateOrLookup(f, nil, mm.allocPhys(), 0, nil)
	c.MarkDirty(upper)

	if c.LinkEntries(lower, upper) {
		t.Fatal("LinkEntries must refuse a dirty upper entry")
	}
}
