package tree

import (
	"sync"

	"github.com/nodepower/powerplane/pkg/errs"
	"github.com/nodepower/powerplane/pkg/wire"
)

// Fabric is the in-process transport a Communicator sends and receives
// over: a shared rank->Communicator registry plus the rank-to-rank
// routing derived from a common fanout schedule; delivery is a direct
// method call into the target's mutex-guarded mailbox, not a channel
// send. SPEC_FULL.md §11 names this the in-process Fabric used for
// single-binary deployment and test doubles; a production deployment
// over real sockets would satisfy the same SendSample/ReceiveSample
// contract from a different Fabric implementation, but only the
// in-process one is built here (spec.md Non-goals exclude a wire
// transport).
type Fabric struct {
	fanOut []int

	mu    sync.RWMutex
	ranks map[int]*Communicator
}

// NewFabric constructs a Fabric for a tree using the given per-level
// fanout schedule (see FanOutSchedule).
func NewFabric(fanOut []int) *Fabric {
	return &Fabric{
		fanOut: fanOut,
		ranks:  make(map[int]*Communicator),
	}
}

// Join registers rank's Communicator with the fabric so other ranks'
// sends can reach it. A Communicator must Join its fabric before any
// other rank can deliver to it.
func (f *Fabric) Join(rank int, c *Communicator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranks[rank] = c
}

// Leave removes rank from the fabric, e.g. once it has fully drained
// shutdown.
func (f *Fabric) Leave(rank int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ranks, rank)
}

func (f *Fabric) communicator(rank int) (*Communicator, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.ranks[rank]
	if !ok {
		return nil, errs.Newf(errs.CodeRuntime, "tree: no communicator joined for rank %d", rank)
	}
	return c, nil
}

// ParentRank computes the rank that owns the level-(level+1) group
// containing rank, i.e. the representative this rank's level-`level`
// group forwards its reduced sample to. Every rank in the group maps
// to the same parent: the group's lowest rank.
func (f *Fabric) ParentRank(rank, level int) int {
	stride := 1
	for l := 0; l <= level; l++ {
		stride *= f.fanOut[l]
	}
	return (rank / stride) * stride
}

// ChildRank computes the rank of childIndex within rank's level-`level`
// child group, the inverse of ParentRank/GroupIndex used when scattering
// policy downward.
func (f *Fabric) ChildRank(rank, level, childIndex int) int {
	stride := 1
	for l := 0; l < level; l++ {
		stride *= f.fanOut[l]
	}
	return rank + childIndex*stride
}

func (f *Fabric) deliverSample(toRank, level, childIndex int, msg wire.SampleMessage) error {
	c, err := f.communicator(toRank)
	if err != nil {
		return err
	}
	c.receiveSampleLocal(level, childIndex, msg)
	return nil
}

func (f *Fabric) deliverPolicy(toRank, level int, msg wire.PolicyMessage) error {
	c, err := f.communicator(toRank)
	if err != nil {
		return err
	}
	c.receivePolicyLocal(level, msg.Clone())
	return nil
}
