// Package policy implements the in-memory Policy record exchanged
// between tree levels and the operator-authored GlobalPolicy that seeds
// the root of the tree. The flags bitfield layout is a stable wire
// format (spec.md §3) and must never be renumbered.
package policy

import "github.com/nodepower/powerplane/pkg/errs"

// Mode enumerates the control modes a Policy can carry. Numbering
// matches spec.md §3's ordering and the JSON mode strings in §4.6;
// Shutdown is the sentinel that drains the tree (spec.md §4.5
// "Cancellation").
type Mode int32

const (
	Shutdown Mode = iota
	TDPBalanceStatic
	FreqUniformStatic
	FreqHybridStatic
	PerfBalanceDynamic
	FreqUniformDynamic
	FreqHybridDynamic
)

var modeNames = map[Mode]string{
	Shutdown:           "shutdown",
	TDPBalanceStatic:   "tdp_balance_static",
	FreqUniformStatic:  "freq_uniform_static",
	FreqHybridStatic:   "freq_hybrid_static",
	PerfBalanceDynamic: "perf_balance_dynamic",
	FreqUniformDynamic: "freq_uniform_dynamic",
	FreqHybridDynamic:  "freq_hybrid_dynamic",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "unknown"
}

// IsStatic reports whether m is one of the three static modes that
// GlobalPolicy.EnforceStaticMode knows how to dispatch.
func (m Mode) IsStatic() bool {
	switch m {
	case TDPBalanceStatic, FreqUniformStatic, FreqHybridStatic:
		return true
	default:
		return false
	}
}

// Affinity is the CPU-topology affinity used by hybrid modes to choose
// which logical CPUs get the maximum P-state.
type Affinity int

const (
	// AffinityCompact packs max-perf CPUs onto the fewest physical
	// cores/packages.
	AffinityCompact Affinity = 1
	// AffinityScatter spreads max-perf CPUs across the widest set of
	// physical cores/packages.
	AffinityScatter Affinity = 2
)

func (a Affinity) String() string {
	switch a {
	case AffinityCompact:
		return "compact"
	case AffinityScatter:
		return "scatter"
	default:
		return "unknown"
	}
}

// Flags bit layout, stable wire format (spec.md §3):
//
//	bits 0-7    frequency, in 100MHz quanta
//	bits 8-15   max-perf CPU count
//	bits 16-17  affinity (AffinityCompact | AffinityScatter)
//	bits 18-24  tdp percent [0,100]
//	bits 25-27  optimization goal
const (
	flagsFrequencyMask   = 0x00000000000000FF
	flagsMaxPerfMask     = 0x000000000000FF00
	flagsMaxPerfShift    = 8
	flagsAffinityMask    = 0x0000000000030000
	flagsAffinityShift   = 16
	flagsTDPPercentMask  = 0x0000000001FC0000
	flagsTDPPercentShift = 18
	flagsGoalMask        = 0x000000000E000000
	flagsGoalShift       = 25
)

// Policy is the per-region, per-level in-memory control record. It
// mirrors original_source/src/Policy.hpp's member surface: a mode, a
// budget, a packed flags word, a target vector sized to the subtree
// fanout, and a parallel "updated" bit vector.
type Policy struct {
	mode    Mode
	budget  float64
	flags   uint64
	target  []float64
	updated []bool
}

// New constructs a Policy with a target/updated vector sized to
// numDomain (the subtree fanout at the level owning this Policy).
func New(numDomain int) *Policy {
	return &Policy{
		target:  make([]float64, numDomain),
		updated: make([]bool, numDomain),
	}
}

// Clear resets mode, budget, flags, and clears every updated bit without
// resizing the target vector — the Go analogue of Policy::clear().
func (p *Policy) Clear() {
	p.mode = Shutdown
	p.budget = 0
	p.flags = 0
	for i := range p.target {
		p.target[i] = 0
		p.updated[i] = false
	}
}

// Equal reports whether p and other carry the same observable state —
// the Go analogue of Policy::operator==.
func (p *Policy) Equal(other *Policy) bool {
	if other == nil {
		return false
	}
	if p.mode != other.mode || p.budget != other.budget || p.flags != other.flags {
		return false
	}
	if len(p.target) != len(other.target) {
		return false
	}
	for i := range p.target {
		if p.target[i] != other.target[i] {
			return false
		}
	}
	return true
}

// Mode returns the current control mode.
func (p *Policy) Mode() Mode { return p.mode }

// SetMode sets the control mode.
func (p *Policy) SetMode(m Mode) { p.mode = m }

// BudgetWatts returns the current power budget in watts.
func (p *Policy) BudgetWatts() float64 { return p.budget }

// SetBudgetWatts sets the power budget. Invariant: budget_watts >= 0
// (spec.md §3); callers that can't guarantee this should validate
// before calling (GlobalPolicy.Validate does, for config-sourced
// values).
func (p *Policy) SetBudgetWatts(w float64) { p.budget = w }

// Flags returns the raw packed flags word, for wire serialization.
func (p *Policy) Flags() uint64 { return p.flags }

// SetFlags overwrites the raw packed flags word, for wire
// deserialization.
func (p *Policy) SetFlags(f uint64) { p.flags = f }

// FrequencyMHz returns the frequency field, in MHz. Because the field is
// stored as a 100MHz quantum (spec.md §3), FrequencyMHz(SetFrequencyMHz(f))
// == 100*floor(f/100): the round-trip is lossy below the 100MHz quantum.
// This is documented, not a bug (DESIGN.md Open Question #3).
func (p *Policy) FrequencyMHz() int {
	return int(p.flags&flagsFrequencyMask) * 100
}

// SetFrequencyMHz packs mhz/100 into the frequency field.
func (p *Policy) SetFrequencyMHz(mhz int) {
	p.flags = p.flags &^ flagsFrequencyMask
	p.flags |= uint64(mhz/100) & flagsFrequencyMask
}

// NumMaxPerf returns the max-perf-CPU-count field.
func (p *Policy) NumMaxPerf() int {
	return int((p.flags & flagsMaxPerfMask) >> flagsMaxPerfShift)
}

// SetNumMaxPerf packs the max-perf-CPU-count field.
func (p *Policy) SetNumMaxPerf(n int) {
	p.flags = p.flags &^ flagsMaxPerfMask
	p.flags |= (uint64(n) << flagsMaxPerfShift) & flagsMaxPerfMask
}

// AffinityValue returns the CPU-topology affinity field.
func (p *Policy) AffinityValue() Affinity {
	return Affinity((p.flags & flagsAffinityMask) >> flagsAffinityShift)
}

// SetAffinity packs the CPU-topology affinity field.
func (p *Policy) SetAffinity(a Affinity) {
	p.flags = p.flags &^ flagsAffinityMask
	p.flags |= (uint64(a) << flagsAffinityShift) & flagsAffinityMask
}

// TDPPercent returns the tdp-percent field, in [0,100].
func (p *Policy) TDPPercent() int {
	return int((p.flags & flagsTDPPercentMask) >> flagsTDPPercentShift)
}

// SetTDPPercent packs the tdp-percent field.
func (p *Policy) SetTDPPercent(percent int) {
	p.flags = p.flags &^ flagsTDPPercentMask
	p.flags |= (uint64(percent) << flagsTDPPercentShift) & flagsTDPPercentMask
}

// Goal returns the optimization-goal field.
func (p *Policy) Goal() int {
	return int((p.flags & flagsGoalMask) >> flagsGoalShift)
}

// SetGoal packs the optimization-goal field.
func (p *Policy) SetGoal(goal int) {
	p.flags = p.flags &^ flagsGoalMask
	p.flags |= (uint64(goal) << flagsGoalShift) & flagsGoalMask
}

// Update sets domain's target and marks it updated — the Go analogue of
// Policy::update(domain, target).
func (p *Policy) Update(domain int, target float64) error {
	if domain < 0 || domain >= len(p.target) {
		return errs.Newf(errs.CodeInvalid, "policy: domain %d out of range [0,%d)", domain, len(p.target))
	}
	p.target[domain] = target
	p.updated[domain] = true
	return nil
}

// UpdateAll replaces the entire target vector and marks every domain
// updated — the Go analogue of Policy::update(const vector<double>&).
func (p *Policy) UpdateAll(targets []float64) error {
	if len(targets) != len(p.target) {
		return errs.Newf(errs.CodeInvalid, "policy: expected %d targets, got %d", len(p.target), len(targets))
	}
	copy(p.target, targets)
	for i := range p.updated {
		p.updated[i] = true
	}
	return nil
}

// Target returns domain's target value regardless of its updated bit —
// the Go analogue of Policy::target(domain, &target).
func (p *Policy) Target(domain int) (float64, error) {
	if domain < 0 || domain >= len(p.target) {
		return 0, errs.Newf(errs.CodeInvalid, "policy: domain %d out of range [0,%d)", domain, len(p.target))
	}
	return p.target[domain], nil
}

// Targets returns a copy of the full target vector — the Go analogue of
// Policy::target(vector<double>&).
func (p *Policy) Targets() []float64 {
	return append([]float64(nil), p.target...)
}

// UpdatedTargets returns domain index -> target for every domain whose
// updated bit is set, the Go analogue of Policy::updated_target. A
// TreeDecider drains this to learn which children actually received a
// fresh target this step.
func (p *Policy) UpdatedTargets() map[int]float64 {
	out := make(map[int]float64)
	for i, u := range p.updated {
		if u {
			out[i] = p.target[i]
		}
	}
	return out
}

// ValidTargets returns domain index -> target for every domain,
// regardless of its updated bit — the Go analogue of
// Policy::valid_target, used when a consumer needs the last-known value
// even for domains that weren't refreshed this step.
func (p *Policy) ValidTargets() map[int]float64 {
	out := make(map[int]float64, len(p.target))
	for i, t := range p.target {
		out[i] = t
	}
	return out
}

// ClearUpdated clears every updated bit without touching the target
// values, used after a TreeDecider has consumed the fresh targets for
// this step.
func (p *Policy) ClearUpdated() {
	for i := range p.updated {
		p.updated[i] = false
	}
}

// NumDomain returns the size of the target/updated vectors.
func (p *Policy) NumDomain() int { return len(p.target) }
