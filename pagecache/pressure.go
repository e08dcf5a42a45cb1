package pagecache

// Percentage constants from §4.10 / §6 ("Numeric constants (bit-exact)").
const (
	physicalTriggerPct = 10
	physicalRetreatPct = 15
	physicalMinimumPct = 7
	physicalTargetPct  = 33

	// Virtual-memory trigger/retreat, sized by total virtual memory.
	smallVMThreshold = 4 << 30 // 4 GiB
	smallVMTrigger   = 512 << 20
	smallVMRetreat   = 896 << 20
	largeVMTrigger   = 1 << 30
	largeVMRetreat   = 3 << 30

	// lowMemCleanMinPct / lowMemCleanMinCap bound the "low-memory
	// clean-page minimum" referenced in §6: min(10% of physical, 256).
	lowMemCleanMinPct = 10
	lowMemCleanMinCap = 256
)

func pctOf(total uint64, pct uint64) uint64 {
	return total * pct / 100
}

// physicalTrigger/physicalRetreat/physicalMinimum/physicalTarget are the
// absolute page counts derived from MM.TotalPhysicalPages().
func (c *Cache) physicalTrigger() uint64 { return pctOf(c.mm.TotalPhysicalPages(), physicalTriggerPct) }
func (c *Cache) physicalRetreat() uint64 { return pctOf(c.mm.TotalPhysicalPages(), physicalRetreatPct) }
func (c *Cache) physicalMinimum() uint64 { return pctOf(c.mm.TotalPhysicalPages(), physicalMinimumPct) }
func (c *Cache) physicalTarget() uint64  { return pctOf(c.mm.TotalPhysicalPages(), physicalTargetPct) }

// lowMemCleanMinimum is min(10% of physical, 256).
func (c *Cache) lowMemCleanMinimum() uint64 {
	p := pctOf(c.mm.TotalPhysicalPages(), lowMemCleanMinPct)
	if p > lowMemCleanMinCap {
		return lowMemCleanMinCap
	}
	return p
}

// virtualTriggerRetreat returns the virtual-memory trigger/retreat pair,
// sized by total virtual memory (§4.10 "Too mapped?").
func (c *Cache) virtualTriggerRetreat() (trigger, retreat uint64) {
	if c.mm.TotalVirtualMemory() < smallVMThreshold {
		return smallVMTrigger, smallVMRetreat
	}
	return largeVMTrigger, largeVMRetreat
}

// tooBig implements §4.10 "Too big?": physical_pages > minimum_pages ∧
// free_physical < trigger.
func (c *Cache) tooBig() bool {
	physical := uint64(c.physicalPages.Load())
	return physical > c.physicalMinimum() && c.mm.FreePhysicalPages() < c.physicalTrigger()
}

// tooMapped implements §4.10 "Too mapped?": free_virtual < virtual_trigger
// ∨ MM_virtual_warning != none.
func (c *Cache) tooMapped() bool {
	trigger, _ := c.virtualTriggerRetreat()
	return c.mm.FreeVirtualMemory() < trigger || c.mm.VirtualWarningLevel() != WarningNone
}

// IsTooDirty implements §6's is_too_dirty()/§4.10 "Too dirty?":
// dirty_pages >= ideal_size / 2, where ideal_size = physical_pages +
// (retreat - free_physical). The worker thread is exempt from this check
// (it is the one draining dirt, §4.10) — callers on the worker's own path
// must not consult IsTooDirty to throttle themselves.
func (c *Cache) IsTooDirty() bool {
	physical := int64(c.physicalPages.Load())
	retreat := int64(c.physicalRetreat())
	freePhysical := int64(c.mm.FreePhysicalPages())

	idealSize := physical + (retreat - freePhysical)
	if idealSize < 0 {
		idealSize = 0
	}
	return c.dirtyPages.Load() >= idealSize/2
}
