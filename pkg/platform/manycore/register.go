//go:build linux

package manycore

import "github.com/nodepower/powerplane/pkg/platform"

// DefaultTopology is a reasonable stand-in for a KNL-class part: 4
// packages (NUMA-like sub-NUMA clusters in the source's terms), 16
// tiles, 2 cores per tile, 1 thread per core. A real deployment passes
// its own discovered Topology to New directly; Register here exists so
// `platform.New("0x657")` has a usable default without every caller
// hand-constructing a Topology.
var DefaultTopology = Topology{NumPackage: 4, NumTile: 16, NumCorePerTile: 2, NumCPUPerCore: 1}

func init() {
	platform.Register("manycore", func() platform.Imp {
		return New(DefaultTopology)
	})
}
