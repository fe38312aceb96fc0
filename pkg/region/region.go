// Package region implements the per-level, per-region_id telemetry
// aggregate the tree walks up through (spec.md §4.3): each Region holds
// the latest sample from each child and folds them into one Telemetry
// snapshot, without making any policy decision of its own.
package region

import (
	"sync"

	"github.com/nodepower/powerplane/pkg/policy"
	"github.com/nodepower/powerplane/pkg/wire"
)

// State is a Region's position in the UNOBSERVED -> ACTIVE -> SHUTDOWN
// state machine spec.md §4.7 names: UNOBSERVED until the first sample
// arrives, ACTIVE thereafter, SHUTDOWN (terminal) once a shutdown
// policy is received for this region.
type State int

const (
	StateUnobserved State = iota
	StateActive
	StateShutdown
)

// Telemetry is the derived aggregate Region.Insert produces:
// summed energy, max runtime, and mean frequency across every child's
// latest contribution, the fold spec.md §4.3 specifies ("Aggregation is
// pure: summed energy, max runtime, median or mean frequency").
//
// This generalizes the teacher's pkg/consumption.Accumulator.Apply
// (a pure fold of one proc.Snapshot into a running Result) into a fold
// over a map of per-child SampleMessages instead of a single process
// snapshot.
type Telemetry struct {
	RegionID         uint64
	SummedEnergyJ    float64
	MaxRuntimeSec    float64
	MeanFrequencyMHz float64
	NumChildren      int
}

// Region is the per-region_id, per-level aggregate. Created lazily on
// first observation (see Table.GetOrCreate) and destroyed with the
// owning Controller — Region itself holds no reference back to its
// Controller or Decider, satisfying the arena-ownership break spec.md
// §9 calls for on the Controller↔Decider↔Region cycle.
type Region struct {
	regionID uint64

	mu            sync.Mutex
	latest        map[int]wire.SampleMessage
	current       Telemetry
	currentPolicy *policy.Policy
	state         State
}

// New constructs an empty Region for regionID, in StateUnobserved.
func New(regionID uint64) *Region {
	return &Region{
		regionID: regionID,
		latest:   make(map[int]wire.SampleMessage),
		current:  Telemetry{RegionID: regionID},
		state:    StateUnobserved,
	}
}

// State returns the region's current lifecycle state.
func (r *Region) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// CurrentPolicy returns the policy last applied via SetCurrentPolicy,
// or nil if none has arrived yet.
func (r *Region) CurrentPolicy() *policy.Policy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentPolicy
}

// SetCurrentPolicy records p as this region's current policy, the Go
// analogue of spec.md §4.7 walk_down's "update the region's
// current_policy." Transitions the region to StateShutdown if p carries
// the shutdown mode; StateShutdown is terminal and further calls are
// ignored.
func (r *Region) SetCurrentPolicy(p *policy.Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateShutdown {
		return
	}
	r.currentPolicy = p
	if p != nil && p.Mode() == policy.Shutdown {
		r.state = StateShutdown
	}
}

// RegionID returns the identifier this Region was constructed with.
func (r *Region) RegionID() uint64 { return r.regionID }

// Insert records each child's latest sample, overwriting any prior
// unread contribution from that same child (tree.Communicator's
// coalescing semantics, spec.md §4.5, flow straight through: Insert
// never sees more than one pending sample per child), then recomputes
// the aggregate over every child's latest sample.
func (r *Region) Insert(childSamples map[int]wire.SampleMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for child, sample := range childSamples {
		r.latest[child] = sample
	}
	r.current = fold(r.regionID, r.latest)
	if r.state == StateUnobserved && len(childSamples) > 0 {
		r.state = StateActive
	}
}

// Telemetry returns the current aggregate snapshot.
func (r *Region) Telemetry() Telemetry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func fold(regionID uint64, latest map[int]wire.SampleMessage) Telemetry {
	t := Telemetry{RegionID: regionID, NumChildren: len(latest)}
	if len(latest) == 0 {
		return t
	}
	var sumFreq float64
	for _, s := range latest {
		t.SummedEnergyJ += s.Energy
		if s.Runtime > t.MaxRuntimeSec {
			t.MaxRuntimeSec = s.Runtime
		}
		sumFreq += s.Frequency
	}
	t.MeanFrequencyMHz = sumFreq / float64(len(latest))
	return t
}
