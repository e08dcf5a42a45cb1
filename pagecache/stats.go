package pagecache

// Statistics is the snapshot returned by get_statistics() (§6):
// {entry_count, trigger, retreat, minimum_target, physical, dirty,
// last_clean_time}.
type Statistics struct {
	Version int

	EntryCount     int64
	Trigger        uint64
	Retreat        uint64
	MinimumTarget  uint64
	Physical       int64
	Dirty          int64
	Mapped         int64
	MappedDirty    int64
	LastCleanTime  int64
}

// StatisticsVersion is the struct layout version GetStatistics expects the
// caller to have agreed on; a mismatch returns ErrInvalidParameter, per
// §7's "INVALID_PARAMETER — stats-struct version mismatch".
const StatisticsVersion = 1

// GetStatistics implements §6 get_statistics(). wantVersion lets callers
// that embed Statistics in a versioned ABI assert compatibility before
// reading the rest of the struct.
func (c *Cache) GetStatistics(wantVersion int) (Statistics, error) {
	if wantVersion != 0 && wantVersion != StatisticsVersion {
		return Statistics{}, ErrInvalidParameter
	}
	return Statistics{
		Version:       StatisticsVersion,
		EntryCount:    c.entryCount.Load(),
		Trigger:       c.physicalTrigger(),
		Retreat:       c.physicalRetreat(),
		MinimumTarget: c.physicalTarget(),
		Physical:      c.physicalPages.Load(),
		Dirty:         c.dirtyPages.Load(),
		Mapped:        c.mappedPages.Load(),
		MappedDirty:   c.mappedDirtyPages.Load(),
		LastCleanTime: c.lastCleanTime.Load(),
	}, nil
}
