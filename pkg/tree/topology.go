// Package tree implements the level-structured reduce/scatter protocol
// spec.md §4.5 names: a bounded-fanout tree over N ranks, non-blocking
// sample aggregation going up, non-blocking policy scatter going down,
// and shutdown propagation that drains pending contributions.
package tree

import "math"

// DefaultFanOut is the per-level fanout spec.md §4.5 specifies absent
// an override ("default 16 at each level, reduced at the top level to
// cover the remainder").
const DefaultFanOut = 16

// FanOutSchedule computes the per-level fanout for n ranks: every level
// uses fanout, except the top level, which shrinks to whatever is left
// over so every rank is covered exactly once.
func FanOutSchedule(n, fanout int) []int {
	if n <= 1 {
		return nil
	}
	levels := Levels(n, fanout)
	schedule := make([]int, levels)
	remaining := n
	for l := 0; l < levels; l++ {
		if remaining <= fanout {
			schedule[l] = remaining
			remaining = 1
			continue
		}
		schedule[l] = fanout
		remaining = ceilDiv(remaining, fanout)
	}
	return schedule
}

// Levels computes L = ceil(log_fanout(n)), the number of reduction
// levels needed to cover n ranks at the given per-level fanout.
func Levels(n, fanout int) int {
	if n <= 1 || fanout <= 1 {
		return 0
	}
	return int(math.Ceil(math.Log(float64(n)) / math.Log(float64(fanout))))
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Topology is the pure, per-rank view of where a rank sits at every
// level: its index within its level-l subgroup, and whether it is the
// subgroup's representative (index 0) that carries on to level l+1 —
// spec.md §4.5's "only the rank-0 member of a sub-group participates
// in its parent level."
type Topology struct {
	Rank, Size int
	FanOut     []int
}

// NewTopology builds a Topology for rank out of size ranks using the
// given per-level fanout schedule (pass FanOutSchedule's output, or a
// caller-supplied override).
func NewTopology(rank, size int, fanOut []int) *Topology {
	return &Topology{Rank: rank, Size: size, FanOut: fanOut}
}

// NumLevels reports how many levels this topology has.
func (t *Topology) NumLevels() int { return len(t.FanOut) }

// Participates reports whether Rank has a presence at level l: true
// for every rank at level 0 (every rank samples locally), and at
// level l>0 only for ranks whose groupIndex at level l-1 was 0.
func (t *Topology) Participates(level int) bool {
	if level == 0 {
		return true
	}
	_, isRepresentative := t.groupAt(level - 1)
	return isRepresentative
}

// GroupIndex returns this rank's index within its level-l parent's
// child group (its "child index" when sending up to level l+1), and
// the number of siblings in that group.
func (t *Topology) GroupIndex(level int) (index int, siblings int) {
	return t.groupAt(level)
}

func (t *Topology) groupAt(level int) (index int, siblings int) {
	stride := 1
	for l := 0; l < level; l++ {
		stride *= t.FanOut[l]
	}
	groupSize := stride * t.FanOut[level]
	posInGroup := t.Rank % groupSize
	return posInGroup / stride, t.FanOut[level]
}
