//go:build linux

package manycore

import (
	"testing"

	"github.com/nodepower/powerplane/pkg/platform"
	"github.com/stretchr/testify/assert"
)

func TestTopology_Derived(t *testing.T) {
	topo := Topology{NumPackage: 2, NumTile: 8, NumCorePerTile: 2, NumCPUPerCore: 1}
	assert.Equal(t, 16, topo.numLogicalCPU())
	assert.Equal(t, 8, topo.cpuPerPackage())
	assert.Equal(t, 2, topo.cpuPerTile())
}

func TestTileOffsets_MatchSourceTable(t *testing.T) {
	// Spot-checked against the literal table in
	// original_source/src/KNLPlatformImp.cpp::load_msr_offsets.
	assert.Equal(t, int64(0x0E00), tileBoxCtl(0))
	assert.Equal(t, int64(0x0E0C), tileBoxCtl(1))
	assert.Equal(t, int64(0x0EFC), tileBoxCtl(21))
	assert.Equal(t, int64(0x0F08), tileBoxCtl(22))
	assert.Equal(t, int64(0x0FBC), tileBoxCtl(37))

	assert.Equal(t, int64(0x0E01), tileCtl0(0))
	assert.Equal(t, int64(0x0E02), tileCtl1(0))
	assert.Equal(t, int64(0x0E05), tileBoxFilter(0))
	assert.Equal(t, int64(0x0E08), tileCtr0(0))
	assert.Equal(t, int64(0x0E09), tileCtr1(0))
}

func TestImp_CPUForDomain(t *testing.T) {
	m := New(Topology{NumPackage: 2, NumTile: 8, NumCorePerTile: 2, NumCPUPerCore: 1})
	assert.Equal(t, 0, m.cpuForDomain(platform.DomainPackage, 0))
	assert.Equal(t, 8, m.cpuForDomain(platform.DomainPackage, 1))
	assert.Equal(t, 0, m.cpuForDomain(platform.DomainTile, 0))
	assert.Equal(t, 2, m.cpuForDomain(platform.DomainTile, 1))
	assert.Equal(t, 5, m.cpuForDomain(platform.DomainCPU, 5))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 10.0, clamp(5, 10, 100))
	assert.Equal(t, 100.0, clamp(500, 10, 100))
	assert.Equal(t, 50.0, clamp(50, 10, 100))
}

func TestSlots_DoNotCollideWithinBounds(t *testing.T) {
	m := New(Topology{NumPackage: 2, NumTile: 4, NumCorePerTile: 2, NumCPUPerCore: 1})
	numSignal := 3*m.topo.NumPackage + 6*m.topo.NumTile

	seen := map[int]bool{}
	for pkg := 0; pkg < m.topo.NumPackage; pkg++ {
		for k := 0; k < 3; k++ {
			s := m.energySlot(pkg, k)
			assert.False(t, seen[s], "energy slot collision at pkg=%d k=%d", pkg, k)
			seen[s] = true
			assert.Less(t, s, numSignal)
		}
	}
	for tile := 0; tile < m.topo.NumTile; tile++ {
		for k := 1; k <= 5; k++ {
			s := m.counterSlot(tile, k)
			assert.False(t, seen[s], "counter slot collision at tile=%d k=%d", tile, k)
			seen[s] = true
			assert.Less(t, s, numSignal)
		}
	}
}

func TestPlatformID_ModelSupported(t *testing.T) {
	m := New(DefaultTopology)
	assert.True(t, m.ModelSupported("0x657"))
	assert.True(t, m.ModelSupported("knl"))
	assert.False(t, m.ModelSupported("other"))
}

func TestRegistered_InDefaultRegistry(t *testing.T) {
	imp, err := platform.New("0x657")
	assert.NoError(t, err)
	assert.NotNil(t, imp)
}
