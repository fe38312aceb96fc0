package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOverflowTable_S3_Scenario(t *testing.T) {
	table := NewOverflowTable(1)
	got1 := table.Compensate(0, 32, 0xFFFFFFF0)
	got2 := table.Compensate(0, 32, 0x00000010)
	got3 := table.Compensate(0, 32, 0x00000020)

	assert.Equal(t, float64(0xFFFFFFF0), got1)
	assert.Equal(t, float64(0x100000010), got2)
	assert.Equal(t, float64(0x100000020), got3)
}

func TestOverflowTable_MonotonicAcrossWidths(t *testing.T) {
	for _, width := range []int{32, 48, 64} {
		t.Run("", func(t *testing.T) {
			table := NewOverflowTable(1)
			raws := []uint64{10, 1000, 1<<uint(width) - 5, 5, 6, 1000}
			var prev float64 = -1
			for _, r := range raws {
				got := table.Compensate(0, width, r)
				assert.GreaterOrEqual(t, got, prev)
				prev = got
			}
		})
	}
}

func TestOverflowTable_IndependentIndices(t *testing.T) {
	table := NewOverflowTable(2)
	a1 := table.Compensate(0, 32, 100)
	b1 := table.Compensate(1, 32, 5)
	a2 := table.Compensate(0, 32, 50) // wraps
	b2 := table.Compensate(1, 32, 6)  // no wrap

	assert.Equal(t, float64(100), a1)
	assert.Equal(t, float64(5), b1)
	assert.Equal(t, float64(1<<32+50), a2)
	assert.Equal(t, float64(6), b2)
}

func TestOverflowTable_Reset(t *testing.T) {
	table := NewOverflowTable(1)
	table.Compensate(0, 32, 0xFFFFFFF0)
	table.Compensate(0, 32, 0x10) // wraps, accumulated > 0
	table.Reset()
	got := table.Compensate(0, 32, 0x10)
	assert.Equal(t, float64(0x10), got, "after reset, accumulated state must be cleared")
}

func TestOverflowTable_IdempotentFasterThanWrapPeriod(t *testing.T) {
	table := NewOverflowTable(1)
	var prev float64
	for i := uint64(0); i < 10; i++ {
		got := table.Compensate(0, 32, i*1000)
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
}
