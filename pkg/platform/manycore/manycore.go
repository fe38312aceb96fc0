//go:build linux

// Package manycore implements platform.Imp for a Knights-Landing-style
// many-core Xeon Phi processor: one uncore "tile" pairing two cores
// sharing an L2, RAPL power domains at the package/PP0/DRAM level, and
// a CBo (Caching/Home Agent box) performance-counter pair per tile.
//
// Grounded directly on original_source/src/KNLPlatformImp.cpp — the
// MSR offsets, RAPL unit/bound discovery sequence, uncore
// freeze/program/reset sequencing, and fixed-counter programming
// values are all taken from that file.
package manycore

import (
	"sync"

	"github.com/nodepower/powerplane/pkg/errs"
	"github.com/nodepower/powerplane/pkg/msr"
	"github.com/nodepower/powerplane/pkg/platform"
)

// platformID is the model this Imp drives: 0x657 in the source
// (family/model encoded as a single int the way geopm's platform
// detection does it).
const platformID = 0x657

// Box/counter control bits, named after the M_* constants in
// KNLPlatformImp.cpp's constructor initializer list.
const (
	boxFrzEn        = 0x1 << 16
	boxFrz          = 0x1 << 8
	ctrEn           = 0x1 << 22
	rstCtrs         = 0x1 << 1
	l2ReqMissEvSel  = 0x2e
	l2ReqMissUmask  = 0x41 << 8
	l2PrefetchEvSel = 0x3e
	l2PrefetchUmask = 0x04 << 8
)

// pkgPowerLimitMask, dramPowerLimitMask, pp0PowerLimitMask mirror
// M_PKG_POWER_LIMIT_MASK and its derivatives: the reserved/lock bits
// that must stay set (or cleared, per mask) whenever a power-limit
// register is written, so a partial write from this code never leaves
// an unrelated lock bit in an undefined state.
const (
	pkgPowerLimitMask  = 0x0007800000078000
	dramPowerLimitMask = 0xfeffff & pkgPowerLimitMask
	pp0PowerLimitMask  = 0xffffff & pkgPowerLimitMask
)

// Topology describes the fixed CPU layout this Imp needs to map a
// (platform.Domain, index) pair onto a specific logical CPU's MSR
// handle. geopm discovers this from /proc/cpuinfo and sysfs topology
// files at runtime; this port takes it as an explicit constructor
// argument so the mapping is a pure, independently testable function.
type Topology struct {
	NumPackage    int
	NumTile       int
	NumCorePerTile int
	NumCPUPerCore int
}

func (t Topology) numLogicalCPU() int {
	return t.NumTile * t.NumCorePerTile * t.NumCPUPerCore
}

func (t Topology) cpuPerPackage() int {
	if t.NumPackage == 0 {
		return 0
	}
	return t.numLogicalCPU() / t.NumPackage
}

func (t Topology) cpuPerTile() int {
	return t.NumCorePerTile * t.NumCPUPerCore
}

// Imp is the manycore platform.Imp implementation.
type Imp struct {
	topo Topology
	cpus []*msr.CPU

	mu sync.Mutex

	energyUnits     float64
	powerUnits      float64
	dramEnergyUnits float64

	minPkgWatts, maxPkgWatts   float64
	minPP0Watts, maxPP0Watts   float64
	minDramWatts, maxDramWatts float64

	overflow *platform.OverflowTable
}

// New constructs an uninitialized Imp for the given topology. Call
// MSRInitialize (via platform.Open) before ReadSignal/WriteControl.
func New(topo Topology) *Imp {
	return &Imp{topo: topo, dramEnergyUnits: 1.5258789063e-5}
}

func (m *Imp) ModelSupported(id string) bool {
	return id == "0x657" || id == "knl" || id == "manycore"
}

func (m *Imp) NumPackage() int { return m.topo.NumPackage }
func (m *Imp) NumTile() int    { return m.topo.NumTile }
func (m *Imp) NumCPU() int     { return m.topo.numLogicalCPU() }

// cpuForDomain resolves (domain, index) to the logical CPU index whose
// MSR handle should service the request: package/DRAM/PP0 MSRs are
// per-package but replicated across every CPU in the package, so the
// source always reads/writes through CPU 0 of the target package
// (device_index maps the same way for tile MSRs: CPU 0 of the tile).
func (m *Imp) cpuForDomain(domain platform.Domain, index int) int {
	switch domain {
	case platform.DomainPackage:
		return index * m.topo.cpuPerPackage()
	case platform.DomainTile:
		return index * m.topo.cpuPerTile()
	default:
		return index
	}
}

func (m *Imp) cpu(domain platform.Domain, index int) (*msr.CPU, error) {
	i := m.cpuForDomain(domain, index)
	if i < 0 || i >= len(m.cpus) {
		return nil, errs.Newf(errs.CodeInvalid, "manycore: domain %v index %d resolves to out-of-range cpu %d", domain, index, i)
	}
	return m.cpus[i], nil
}

func (m *Imp) Close() error {
	var firstErr error
	for _, c := range m.cpus {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
