package decider

import (
	"github.com/nodepower/powerplane/pkg/platform"
	"github.com/nodepower/powerplane/pkg/policy"
	"github.com/nodepower/powerplane/pkg/region"
)

// Uniform is the default TreeDecider: it splits the incoming budget
// evenly across children. It exists so every dynamic mode has a
// working tree decider out of the box; a real deployment registers a
// mode-specific decider via RegisterTree to override it.
type Uniform struct{}

// Decide splits policyIn's budget evenly across every child in
// childrenTelemetry. Splitting strictly by division (rather than by
// each child's telemetry) keeps the sum exactly equal to the incoming
// budget, satisfying spec.md §8 property 4's +/-1W tolerance with room
// to spare.
func (Uniform) Decide(level int, childrenTelemetry map[int]region.Telemetry, policyIn *policy.Policy) (map[int]*policy.Policy, error) {
	n := len(childrenTelemetry)
	out := make(map[int]*policy.Policy, n)
	if n == 0 {
		return out, nil
	}
	share := policyIn.BudgetWatts() / float64(n)
	for child := range childrenTelemetry {
		p := policy.New(policyIn.NumDomain())
		p.SetMode(policyIn.Mode())
		p.SetBudgetWatts(share)
		p.SetFlags(policyIn.Flags())
		out[child] = p
	}
	return out, nil
}

// PassthroughLeaf is the default LeafDecider: it applies its region's
// allotted budget directly as a package power-limit write, with no
// closed-loop feedback from telemetry. A real per-mode LeafDecider
// registered via RegisterLeaf can read tel to adjust the actuation
// (e.g. an EWMA-smoothed frequency target); PassthroughLeaf is the
// zero-feedback baseline.
type PassthroughLeaf struct{}

// Decide ignores tel beyond its presence and returns policyIn's budget
// as a package power-limit actuation.
func (PassthroughLeaf) Decide(tel region.Telemetry, policyIn *policy.Policy) (Actuation, error) {
	return Actuation{Kind: platform.ControlPkgPower, Value: policyIn.BudgetWatts()}, nil
}
