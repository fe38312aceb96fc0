package platform

import (
	"github.com/nodepower/powerplane/pkg/errs"
)

// Platform is the node-local facade a Controller drives: it owns one
// Imp and exposes the two actuation entry points spec.md §4.2 names
// directly ("tdp_limit", "manual_frequency") plus a uniform Sample for
// leaf telemetry collection. Platform does not clamp writes itself:
// WriteControl passes values straight to the Imp, which applies its own
// power bounds (manycore.Imp.WriteControl clamps to them).
type Platform struct {
	imp Imp
}

// Open initializes imp and wraps it in a Platform. Ownership of imp
// passes to Platform: Close releases it.
func Open(imp Imp) (*Platform, error) {
	if err := imp.MSRInitialize(); err != nil {
		return nil, errs.Wrap(errs.CodeRuntime, err)
	}
	return &Platform{imp: imp}, nil
}

// Close tears down the underlying Imp.
func (p *Platform) Close() error {
	return p.imp.Close()
}

// NumDomain reports how many actuation domains exist for typ
// (spec.md §4.2 "num_domain"): one package-power domain per RAPL
// package, or one counter domain per tile.
func (p *Platform) NumDomain(typ ControlType) int {
	switch typ {
	case ControlTypePackagePower:
		return p.imp.NumPackage()
	case ControlTypeCounter:
		return p.imp.NumTile()
	default:
		return 0
	}
}

// TDPLimit enforces a static TDP-balance policy (spec.md §4.2
// "tdp_limit(percent)"): percent is applied uniformly against every
// package's discovered power bound and written as a PkgPower control.
// percent must be in [0,100]; callers (GlobalPolicy.Validate) are
// expected to have already range-checked it, but TDPLimit re-checks
// since it is also reachable directly from the cabi boundary.
func (p *Platform) TDPLimit(percent float64) error {
	if percent < 0 || percent > 100 {
		return errs.Newf(errs.CodeInvalid, "platform: tdp percent %v out of [0,100]", percent)
	}
	minW, maxW, err := p.imp.PowerBounds(ControlPkgPower)
	if err != nil {
		return errs.Wrap(errs.CodeRuntime, err)
	}
	watts := minW + (percent/100.0)*(maxW-minW)
	for pkg := 0; pkg < p.imp.NumPackage(); pkg++ {
		if err := p.imp.WriteControl(DomainPackage, pkg, ControlPkgPower, watts); err != nil {
			return errs.Wrap(errs.CodeRuntime, err)
		}
	}
	return nil
}

// ManualFrequency enforces a static frequency-capping policy
// (spec.md §4.2 "manual_frequency(freqMHz, numMaxPerf, affinity)"):
// numMaxPerf CPUs (selected per affinity) keep uncapped max-performance
// turbo, and the remainder are pinned to freqMHz.
//
// affinity selection is delegated to selectMaxPerf so Compact/Scatter
// stay a pure, independently testable function of (numCPU, numMaxPerf).
func (p *Platform) ManualFrequency(freqMHz float64, numMaxPerf int, affinity AffinitySelector) error {
	numCPU := p.imp.NumCPU()
	if numMaxPerf < 0 || numMaxPerf > numCPU {
		return errs.Newf(errs.CodeInvalid, "platform: num_cpu_max_perf %d out of [0,%d]", numMaxPerf, numCPU)
	}
	maxPerf := selectMaxPerf(numCPU, numMaxPerf, affinity)
	for cpu := 0; cpu < numCPU; cpu++ {
		target := freqMHz
		if maxPerf[cpu] {
			continue // leave max-perf CPUs at uncapped turbo, per spec.md §4.2
		}
		if err := p.imp.WriteControl(DomainCPU, cpu, ControlFrequency, target); err != nil {
			return errs.Wrap(errs.CodeRuntime, err)
		}
	}
	return nil
}

// WriteControl issues a single typed actuation at (domain, index),
// bypassing the TDPLimit/ManualFrequency static-mode helpers above. This
// is the entry point a decider.LeafDecider's Actuation ultimately drives
// through Controller.enforceLeaf (spec.md §4.2 "write_control").
func (p *Platform) WriteControl(domain Domain, index int, kind ControlKind, value float64) error {
	if err := p.imp.WriteControl(domain, index, kind, value); err != nil {
		return errs.Wrap(errs.CodeRuntime, err)
	}
	return nil
}

// Sample is one leaf's reading of every component of spec.md §3's
// Signal sample tuple for a single domain index.
type Sample struct {
	PkgEnergyJ         float64
	PP0EnergyJ         float64
	DRAMEnergyJ        float64
	FrequencyMHz       float64
	InstRetired        float64
	UnhaltedCoreCycle  float64
	UnhaltedRefCycle   float64
	ReadBandwidthBytes float64
}

// SampleDomain collects one Sample for (domain, index): every signal
// spec.md §3 names, overflow compensation being the Imp's
// responsibility (each Imp owns its own OverflowTable internally).
func (p *Platform) SampleDomain(domain Domain, index int) (Sample, error) {
	pkgEnergy, err := p.imp.ReadSignal(domain, index, SignalPkgEnergy)
	if err != nil {
		return Sample{}, errs.Wrap(errs.CodeRuntime, err)
	}
	pp0Energy, err := p.imp.ReadSignal(domain, index, SignalPP0Energy)
	if err != nil {
		return Sample{}, errs.Wrap(errs.CodeRuntime, err)
	}
	dramEnergy, err := p.imp.ReadSignal(domain, index, SignalDRAMEnergy)
	if err != nil {
		return Sample{}, errs.Wrap(errs.CodeRuntime, err)
	}
	freq, err := p.imp.ReadSignal(domain, index, SignalFrequency)
	if err != nil {
		return Sample{}, errs.Wrap(errs.CodeRuntime, err)
	}
	inst, err := p.imp.ReadSignal(domain, index, SignalInstRetired)
	if err != nil {
		return Sample{}, errs.Wrap(errs.CodeRuntime, err)
	}
	coreCycles, err := p.imp.ReadSignal(domain, index, SignalUnhaltedCoreCycles)
	if err != nil {
		return Sample{}, errs.Wrap(errs.CodeRuntime, err)
	}
	refCycles, err := p.imp.ReadSignal(domain, index, SignalUnhaltedRefCycles)
	if err != nil {
		return Sample{}, errs.Wrap(errs.CodeRuntime, err)
	}
	bandwidth, err := p.imp.ReadSignal(domain, index, SignalReadBandwidth)
	if err != nil {
		return Sample{}, errs.Wrap(errs.CodeRuntime, err)
	}
	return Sample{
		PkgEnergyJ:         pkgEnergy,
		PP0EnergyJ:         pp0Energy,
		DRAMEnergyJ:        dramEnergy,
		FrequencyMHz:       freq,
		InstRetired:        inst,
		UnhaltedCoreCycle:  coreCycles,
		UnhaltedRefCycle:   refCycles,
		ReadBandwidthBytes: bandwidth,
	}, nil
}
