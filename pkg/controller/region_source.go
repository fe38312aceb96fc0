package controller

// RegionSource names the currently active application regions a leaf
// should sample this period. The application-facing profiling/region-
// marker API is out of scope (spec.md §1 "Deliberately OUT of scope");
// this interface is the entire contract the core needs from it.
type RegionSource interface {
	// ActiveRegions returns the region_ids a leaf should sample and
	// report on this control period.
	ActiveRegions() []uint64
}

// StaticRegionSource is the default RegionSource: a single, fixed
// region_id active for the whole run, the right shape for an agent
// with no marker API wired in (e.g. whole-application power control).
type StaticRegionSource struct {
	regionID uint64
}

// NewStaticRegionSource returns a RegionSource that always reports
// regionID as the sole active region.
func NewStaticRegionSource(regionID uint64) StaticRegionSource {
	return StaticRegionSource{regionID: regionID}
}

// ActiveRegions implements RegionSource.
func (s StaticRegionSource) ActiveRegions() []uint64 {
	return []uint64{s.regionID}
}
