package policy

import (
	"testing"

	"github.com/nodepower/powerplane/pkg/errs"
	"github.com/nodepower/powerplane/pkg/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImp struct {
	numPackage, numCPU int
	writes             []fakeWrite
}

type fakeWrite struct {
	domain platform.Domain
	index  int
	kind   platform.ControlKind
	value  float64
}

func (f *fakeImp) ModelSupported(string) bool { return true }
func (f *fakeImp) MSRInitialize() error       { return nil }
func (f *fakeImp) MSRReset() error            { return nil }
func (f *fakeImp) ReadSignal(platform.Domain, int, platform.SignalKind) (float64, error) {
	return 0, nil
}
func (f *fakeImp) WriteControl(domain platform.Domain, index int, kind platform.ControlKind, value float64) error {
	f.writes = append(f.writes, fakeWrite{domain, index, kind, value})
	return nil
}
func (f *fakeImp) NumPackage() int { return f.numPackage }
func (f *fakeImp) NumTile() int    { return 1 }
func (f *fakeImp) NumCPU() int     { return f.numCPU }
func (f *fakeImp) PowerBounds(platform.ControlKind) (float64, float64, error) {
	return 0, 200, nil
}
func (f *fakeImp) Close() error { return nil }

func TestEnforceStaticMode_TDPBalance(t *testing.T) {
	imp := &fakeImp{numPackage: 1, numCPU: 1}
	p, err := platform.Open(imp)
	require.NoError(t, err)

	gp, err := New("", "/tmp/out-does-not-matter.json")
	require.NoError(t, err)
	gp.doWrite = false // avoid touching the filesystem in this unit test
	gp.SetMode(TDPBalanceStatic)
	gp.SetTDPPercent(50)

	require.NoError(t, gp.EnforceStaticMode(p))
	require.Len(t, imp.writes, 1)
	assert.InDelta(t, 100, imp.writes[0].value, 0.001)
}

func TestEnforceStaticMode_FreqHybridStatic(t *testing.T) {
	imp := &fakeImp{numPackage: 1, numCPU: 4}
	p, err := platform.Open(imp)
	require.NoError(t, err)

	gp := &GlobalPolicy{mode: FreqHybridStatic}
	gp.SetFrequencyMHz(1800)
	gp.SetNumMaxPerf(1)
	gp.SetAffinity(AffinityCompact)

	require.NoError(t, gp.EnforceStaticMode(p))
	assert.Len(t, imp.writes, 3) // 4 CPUs, 1 kept at max-perf
}

func TestEnforceStaticMode_RejectsDynamicMode(t *testing.T) {
	imp := &fakeImp{numPackage: 1, numCPU: 1}
	p, err := platform.Open(imp)
	require.NoError(t, err)

	gp := &GlobalPolicy{mode: PerfBalanceDynamic}
	err = gp.EnforceStaticMode(p)
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalid, errs.CodeOf(err))
}
