package policy

import (
	"github.com/nodepower/powerplane/pkg/errs"
	"github.com/nodepower/powerplane/pkg/platform"
)

// EnforceStaticMode pushes a static-mode GlobalPolicy directly onto the
// local hardware through p, bypassing the Controller/Decider tree
// entirely. This is the node-agent fast path spec.md §4.6 describes for
// tdp_balance_static/freq_uniform_static/freq_hybrid_static: those
// three modes need no tree-wide budget negotiation, so a single node
// can apply its own policy file without waiting on a parent.
//
// original_source/src/GlobalPolicy.cpp calls this enforce_static_mode()
// and rejects dynamic modes through the throw in its default branch;
// the Go port keeps that as a CodeInvalid error (DESIGN.md Open
// Question #4).
func (g *GlobalPolicy) EnforceStaticMode(p *platform.Platform) error {
	if !g.mode.IsStatic() {
		return errs.Newf(errs.CodeInvalid, "policy: enforce_static_mode called with dynamic mode %s", g.mode)
	}
	switch g.mode {
	case TDPBalanceStatic:
		return p.TDPLimit(float64(g.TDPPercent()))
	case FreqUniformStatic:
		return p.ManualFrequency(float64(g.FrequencyMHz()), 0, platform.AffinityCompact)
	case FreqHybridStatic:
		return p.ManualFrequency(float64(g.FrequencyMHz()), g.NumMaxPerf(), toPlatformAffinity(g.AffinityValue()))
	default:
		return errs.Newf(errs.CodeInvalid, "policy: unsupported static mode %s", g.mode)
	}
}

func toPlatformAffinity(a Affinity) platform.AffinitySelector {
	if a == AffinityScatter {
		return platform.AffinityScatter
	}
	return platform.AffinityCompact
}
