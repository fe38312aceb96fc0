package region

import "sync"

// Table owns every Region at one tree level, created lazily on first
// observation per spec.md §3's Region invariant ("for any region_id, a
// single Region instance exists per level; it is created lazily on
// first observation and destroyed with the Controller").
type Table struct {
	mu      sync.Mutex
	regions map[uint64]*Region
}

// NewTable constructs an empty per-level Region table.
func NewTable() *Table {
	return &Table{regions: make(map[uint64]*Region)}
}

// GetOrCreate returns the Region for regionID, creating it on first use.
func (t *Table) GetOrCreate(regionID uint64) *Region {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.regions[regionID]
	if !ok {
		r = New(regionID)
		t.regions[regionID] = r
	}
	return r
}

// Delete removes a Region. The Controller does not call it: regions
// stay in their table, in StateShutdown, after shutdown.
func (t *Table) Delete(regionID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.regions, regionID)
}

// Len reports how many Regions are currently tracked.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.regions)
}
