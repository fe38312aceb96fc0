package tree

import (
	"testing"

	"github.com/nodepower/powerplane/pkg/policy"
	"github.com/nodepower/powerplane/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFourRankTree(t *testing.T) (*Fabric, []*Communicator, []*Topology) {
	t.Helper()
	fanOut := []int{4}
	fabric := NewFabric(fanOut)
	comms := make([]*Communicator, 4)
	topos := make([]*Topology, 4)
	for rank := 0; rank < 4; rank++ {
		topo := NewTopology(rank, 4, fanOut)
		comm := NewCommunicator(topo, fabric)
		fabric.Join(rank, comm)
		comms[rank] = comm
		topos[rank] = topo
	}
	return fabric, comms, topos
}

func TestCommunicator_SendReceiveSample_WaitsForAllChildren(t *testing.T) {
	_, comms, topos := buildFourRankTree(t)

	for rank := 1; rank < 4; rank++ {
		idx, _ := topos[rank].GroupIndex(0)
		require.NoError(t, comms[rank].SendSample(0, idx, wire.SampleMessage{RegionID: 1, Energy: float64(rank)}))
	}

	// Only 3 of 4 children (rank 0 never sent): must block.
	_, status := comms[0].ReceiveSample(0)
	assert.Equal(t, StatusWouldBlock, status)

	idx0, _ := topos[0].GroupIndex(0)
	require.NoError(t, comms[0].SendSample(0, idx0, wire.SampleMessage{RegionID: 1, Energy: 0}))

	out, status := comms[0].ReceiveSample(0)
	require.Equal(t, StatusOK, status)
	assert.Len(t, out, 4)
}

func TestCommunicator_SendSample_CoalescesRepeatedSendsFromSameChild(t *testing.T) {
	_, comms, topos := buildFourRankTree(t)
	idx, _ := topos[1].GroupIndex(0)
	require.NoError(t, comms[1].SendSample(0, idx, wire.SampleMessage{Energy: 1}))
	require.NoError(t, comms[1].SendSample(0, idx, wire.SampleMessage{Energy: 99}))

	// Still only one distinct child has reported; the other 3 haven't.
	_, status := comms[0].ReceiveSample(0)
	assert.Equal(t, StatusWouldBlock, status)
}

func TestCommunicator_SendReceivePolicy(t *testing.T) {
	_, comms, topos := buildFourRankTree(t)

	_, status := comms[2].ReceivePolicy(0)
	assert.Equal(t, StatusWouldBlock, status)

	childRank := 2
	require.NoError(t, comms[0].SendPolicy(0, childRank, wire.PolicyMessage{Mode: int32(policy.TDPBalanceStatic), PowerBudget: 150}))

	msg, status := comms[2].ReceivePolicy(0)
	require.Equal(t, StatusOK, status)
	assert.Equal(t, 150.0, msg.PowerBudget)

	// Already drained: next poll would block again.
	_, status = comms[2].ReceivePolicy(0)
	assert.Equal(t, StatusWouldBlock, status)
}

func TestCommunicator_ShutdownPolicy_PropagatesToReceivers(t *testing.T) {
	_, comms, _ := buildFourRankTree(t)
	require.NoError(t, comms[0].SendPolicy(0, 3, wire.PolicyMessage{Mode: int32(policy.Shutdown)}))

	_, status := comms[3].ReceivePolicy(0)
	assert.Equal(t, StatusShutdown, status)
	assert.True(t, comms[3].IsShuttingDown())
}

func TestCommunicator_Shutdown_RejectsFurtherSends(t *testing.T) {
	_, comms, topos := buildFourRankTree(t)
	comms[1].Shutdown()
	idx, _ := topos[1].GroupIndex(0)
	err := comms[1].SendSample(0, idx, wire.SampleMessage{})
	assert.Error(t, err)
}

func TestFabric_DeliverSample_UnknownRank(t *testing.T) {
	fabric := NewFabric([]int{4})
	err := fabric.deliverSample(0, 0, 0, wire.SampleMessage{})
	assert.Error(t, err)
}

func TestFabric_ParentAndChildRank_AreInverses(t *testing.T) {
	fabric := NewFabric([]int{4, 4})
	for rank := 0; rank < 16; rank++ {
		parent := fabric.ParentRank(rank, 0)
		topo := NewTopology(rank, 16, []int{4, 4})
		idx, _ := topo.GroupIndex(0)
		assert.Equal(t, rank, fabric.ChildRank(parent, 0, idx))
	}
}
