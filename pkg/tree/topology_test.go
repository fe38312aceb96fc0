package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFanOutSchedule_ExactPowers(t *testing.T) {
	assert.Equal(t, []int{4, 4}, FanOutSchedule(16, 4))
	assert.Equal(t, []int{16, 16}, FanOutSchedule(256, 16))
}

func TestFanOutSchedule_ShrinksTopLevel(t *testing.T) {
	// 20 ranks, fanout 16: level0 groups of 16 -> ceil(20/16)=2 groups,
	// level1 covers the remaining 2 representatives exactly.
	sched := FanOutSchedule(20, 16)
	assert.Equal(t, []int{16, 2}, sched)
}

func TestFanOutSchedule_SingleRank(t *testing.T) {
	assert.Nil(t, FanOutSchedule(1, 16))
}

func TestLevels(t *testing.T) {
	assert.Equal(t, 2, Levels(16, 4))
	assert.Equal(t, 0, Levels(1, 16))
	assert.Equal(t, 0, Levels(10, 1))
	assert.Equal(t, 3, Levels(17, 4))
}

func TestTopology_Participates_TwoLevelFanout4(t *testing.T) {
	fanOut := []int{4, 4}
	for rank := 0; rank < 16; rank++ {
		topo := NewTopology(rank, 16, fanOut)
		assert.True(t, topo.Participates(0), "rank %d", rank)
		wantLevel1 := rank%4 == 0
		assert.Equal(t, wantLevel1, topo.Participates(1), "rank %d", rank)
	}
}

func TestTopology_GroupIndex(t *testing.T) {
	fanOut := []int{4, 4}
	topo := NewTopology(5, 16, fanOut)
	idx, siblings := topo.GroupIndex(0)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 4, siblings)

	idx, siblings = topo.GroupIndex(1)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 4, siblings)
}

func TestTopology_GroupIndex_Rank0IsAlwaysRepresentative(t *testing.T) {
	fanOut := []int{4, 4}
	topo := NewTopology(0, 16, fanOut)
	idx, _ := topo.GroupIndex(0)
	assert.Equal(t, 0, idx)
	idx, _ = topo.GroupIndex(1)
	assert.Equal(t, 0, idx)
}

func TestTopology_NumLevels(t *testing.T) {
	topo := NewTopology(0, 16, []int{4, 4})
	assert.Equal(t, 2, topo.NumLevels())
}
