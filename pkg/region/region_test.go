package region

import (
	"testing"

	"github.com/nodepower/powerplane/pkg/policy"
	"github.com/nodepower/powerplane/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegion_Insert_AggregatesAcrossChildren(t *testing.T) {
	r := New(42)

	r.Insert(map[int]wire.SampleMessage{
		0: {RegionID: 42, Runtime: 1.0, Energy: 100, Frequency: 2000},
		1: {RegionID: 42, Runtime: 2.5, Energy: 200, Frequency: 2400},
	})

	got := r.Telemetry()
	t.Logf("telemetry after first insert: %+v", got)
	require.Equal(t, uint64(42), got.RegionID)
	assert.Equal(t, 2, got.NumChildren)
	assert.Equal(t, 300.0, got.SummedEnergyJ)
	assert.Equal(t, 2.5, got.MaxRuntimeSec)
	assert.Equal(t, 2200.0, got.MeanFrequencyMHz)
}

func TestRegion_Insert_CoalescesSameChild(t *testing.T) {
	r := New(1)

	r.Insert(map[int]wire.SampleMessage{0: {Energy: 10, Runtime: 1}})
	r.Insert(map[int]wire.SampleMessage{0: {Energy: 50, Runtime: 3}})

	got := r.Telemetry()
	assert.Equal(t, 1, got.NumChildren)
	assert.Equal(t, 50.0, got.SummedEnergyJ, "second insert must overwrite, not accumulate, the same child's sample")
	assert.Equal(t, 3.0, got.MaxRuntimeSec)
}

func TestRegion_Insert_PartialUpdateKeepsOtherChildren(t *testing.T) {
	r := New(1)
	r.Insert(map[int]wire.SampleMessage{
		0: {Energy: 10, Runtime: 1},
		1: {Energy: 20, Runtime: 2},
	})
	r.Insert(map[int]wire.SampleMessage{0: {Energy: 15, Runtime: 1}})

	got := r.Telemetry()
	assert.Equal(t, 2, got.NumChildren)
	assert.Equal(t, 35.0, got.SummedEnergyJ)
}

func TestRegion_Telemetry_EmptyBeforeAnyInsert(t *testing.T) {
	r := New(7)
	got := r.Telemetry()
	assert.Equal(t, uint64(7), got.RegionID)
	assert.Equal(t, 0, got.NumChildren)
	assert.Zero(t, got.SummedEnergyJ)
}

func TestTable_GetOrCreate_IsLazyAndStable(t *testing.T) {
	tbl := NewTable()
	r1 := tbl.GetOrCreate(5)
	r2 := tbl.GetOrCreate(5)
	assert.Same(t, r1, r2, "GetOrCreate must return the same Region instance for a repeated region_id")
	assert.Equal(t, 1, tbl.Len())
}

func TestRegion_State_TransitionsToActiveOnFirstSample(t *testing.T) {
	r := New(1)
	assert.Equal(t, StateUnobserved, r.State())
	r.Insert(map[int]wire.SampleMessage{0: {Energy: 1}})
	assert.Equal(t, StateActive, r.State())
}

func TestRegion_SetCurrentPolicy_ShutdownIsTerminal(t *testing.T) {
	r := New(1)
	active := policy.New(1)
	active.SetMode(policy.TDPBalanceStatic)
	r.SetCurrentPolicy(active)
	assert.Equal(t, policy.TDPBalanceStatic, r.CurrentPolicy().Mode())

	shutdown := policy.New(1)
	shutdown.SetMode(policy.Shutdown)
	r.SetCurrentPolicy(shutdown)
	assert.Equal(t, StateShutdown, r.State())
	assert.Equal(t, policy.Shutdown, r.CurrentPolicy().Mode())

	// Terminal: a later non-shutdown policy must not resurrect the region.
	again := policy.New(1)
	again.SetMode(policy.TDPBalanceStatic)
	r.SetCurrentPolicy(again)
	assert.Equal(t, StateShutdown, r.State())
	assert.Equal(t, policy.Shutdown, r.CurrentPolicy().Mode())
}

func TestTable_Delete(t *testing.T) {
	tbl := NewTable()
	tbl.GetOrCreate(1)
	tbl.GetOrCreate(2)
	require.Equal(t, 2, tbl.Len())

	tbl.Delete(1)
	assert.Equal(t, 1, tbl.Len())
}
