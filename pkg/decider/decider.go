// Package decider implements the two polymorphic roles spec.md §4.4
// names: LeafDecider (one per active leaf region, produces an
// actuation) and TreeDecider (one per active non-leaf region, splits
// an incoming power budget across its children). Both are pure
// functions of (state, observation, policy-in) -> result, the same
// shape the teacher gives pkg/consumption.Accumulator.Apply (pure
// function of (state, sample) -> result).
package decider

import (
	"github.com/nodepower/powerplane/pkg/platform"
	"github.com/nodepower/powerplane/pkg/policy"
	"github.com/nodepower/powerplane/pkg/region"
)

// Actuation is one write_control argument set, the LeafDecider's
// output per spec.md §4.4 ("Produces one write_control argument set").
type Actuation struct {
	Kind  platform.ControlKind
	Value float64
}

// LeafDecider is called once per step per active region at level 0.
type LeafDecider interface {
	Decide(tel region.Telemetry, policyIn *policy.Policy) (Actuation, error)
}

// TreeDecider is called once per step per active region at levels >= 1.
// It must split policyIn's budget across len(childrenTelemetry)
// children, summing to the incoming budget within +/-1W (spec.md
// §4.4, §8 property 4).
type TreeDecider interface {
	Decide(level int, childrenTelemetry map[int]region.Telemetry, policyIn *policy.Policy) (map[int]*policy.Policy, error)
}
