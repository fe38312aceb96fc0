package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeImp is a deterministic in-memory Imp stand-in, grounded on the
// teacher's style of hand-rolled test doubles in pkg/system/proc's
// tests (no mock framework, a struct implementing the interface).
type fakeImp struct {
	numPackage, numTile, numCPU int
	powerMin, powerMax          float64
	writes                      []fakeWrite
	signals                     map[SignalKind]float64
}

type fakeWrite struct {
	domain Domain
	index  int
	kind   ControlKind
	value  float64
}

func newFakeImp(numPackage, numTile, numCPU int) *fakeImp {
	return &fakeImp{
		numPackage: numPackage,
		numTile:    numTile,
		numCPU:     numCPU,
		powerMin:   10,
		powerMax:   200,
		signals: map[SignalKind]float64{
			SignalPkgEnergy:          1000,
			SignalPP0Energy:          600,
			SignalDRAMEnergy:         150,
			SignalFrequency:          2400,
			SignalInstRetired:        5e9,
			SignalUnhaltedCoreCycles: 8e9,
			SignalUnhaltedRefCycles:  8.2e9,
			SignalReadBandwidth:      2.5e9,
		},
	}
}

func (f *fakeImp) ModelSupported(platformID string) bool { return platformID == "fake" }
func (f *fakeImp) MSRInitialize() error                  { return nil }
func (f *fakeImp) MSRReset() error                       { return nil }
func (f *fakeImp) ReadSignal(domain Domain, index int, kind SignalKind) (float64, error) {
	return f.signals[kind], nil
}
func (f *fakeImp) WriteControl(domain Domain, index int, kind ControlKind, value float64) error {
	f.writes = append(f.writes, fakeWrite{domain, index, kind, value})
	return nil
}
func (f *fakeImp) NumPackage() int { return f.numPackage }
func (f *fakeImp) NumTile() int    { return f.numTile }
func (f *fakeImp) NumCPU() int     { return f.numCPU }
func (f *fakeImp) PowerBounds(kind ControlKind) (float64, float64, error) {
	return f.powerMin, f.powerMax, nil
}
func (f *fakeImp) Close() error { return nil }

func TestPlatform_TDPLimit_InterpolatesBounds(t *testing.T) {
	imp := newFakeImp(2, 4, 8)
	p, err := Open(imp)
	require.NoError(t, err)

	require.NoError(t, p.TDPLimit(50))

	require.Len(t, imp.writes, 2)
	for _, w := range imp.writes {
		assert.Equal(t, ControlPkgPower, w.kind)
		assert.Equal(t, DomainPackage, w.domain)
		assert.InDelta(t, 105, w.value, 0.001) // 10 + 0.5*(200-10)
	}
}

func TestPlatform_TDPLimit_RejectsOutOfRange(t *testing.T) {
	p, err := Open(newFakeImp(1, 1, 1))
	require.NoError(t, err)

	assert.Error(t, p.TDPLimit(-1))
	assert.Error(t, p.TDPLimit(101))
}

func TestPlatform_ManualFrequency_SkipsMaxPerfCPUs(t *testing.T) {
	imp := newFakeImp(1, 1, 8)
	p, err := Open(imp)
	require.NoError(t, err)

	require.NoError(t, p.ManualFrequency(1800, 2, AffinityCompact))

	written := map[int]float64{}
	for _, w := range imp.writes {
		written[w.index] = w.value
	}
	assert.NotContains(t, written, 0)
	assert.NotContains(t, written, 1)
	for cpu := 2; cpu < 8; cpu++ {
		assert.InDelta(t, 1800, written[cpu], 0.001)
	}
}

func TestPlatform_ManualFrequency_RejectsOutOfRange(t *testing.T) {
	p, err := Open(newFakeImp(1, 1, 4))
	require.NoError(t, err)

	assert.Error(t, p.ManualFrequency(1800, 5, AffinityCompact))
	assert.Error(t, p.ManualFrequency(1800, -1, AffinityCompact))
}

func TestPlatform_NumDomain(t *testing.T) {
	p, err := Open(newFakeImp(2, 6, 16))
	require.NoError(t, err)

	assert.Equal(t, 2, p.NumDomain(ControlTypePackagePower))
	assert.Equal(t, 6, p.NumDomain(ControlTypeCounter))
}

func TestPlatform_SampleDomain(t *testing.T) {
	p, err := Open(newFakeImp(1, 1, 1))
	require.NoError(t, err)

	s, err := p.SampleDomain(DomainPackage, 0)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, s.PkgEnergyJ)
	assert.Equal(t, 600.0, s.PP0EnergyJ)
	assert.Equal(t, 150.0, s.DRAMEnergyJ)
	assert.Equal(t, 2400.0, s.FrequencyMHz)
	assert.Equal(t, 5e9, s.InstRetired)
	assert.Equal(t, 8e9, s.UnhaltedCoreCycle)
	assert.Equal(t, 8.2e9, s.UnhaltedRefCycle)
	assert.Equal(t, 2.5e9, s.ReadBandwidthBytes)
}

func TestSelectMaxPerf_Compact(t *testing.T) {
	got := selectMaxPerf(8, 2, AffinityCompact)
	assert.Equal(t, []bool{true, true, false, false, false, false, false, false}, got)
}

func TestSelectMaxPerf_Scatter(t *testing.T) {
	got := selectMaxPerf(8, 2, AffinityScatter)
	assert.True(t, got[0])
	assert.True(t, got[4])
	count := 0
	for _, v := range got {
		if v {
			count++
		}
	}
	assert.Equal(t, 2, count)
}

func TestSelectMaxPerf_ZeroAndAll(t *testing.T) {
	assert.Equal(t, []bool{false, false, false}, selectMaxPerf(3, 0, AffinityCompact))
	assert.Equal(t, []bool{true, true, true}, selectMaxPerf(3, 3, AffinityCompact))
	assert.Equal(t, []bool{true, true, true}, selectMaxPerf(3, 5, AffinityCompact))
}

func TestRegistry_New_NoMatch(t *testing.T) {
	_, err := New("nonexistent-model-xyz")
	assert.Error(t, err)
}
