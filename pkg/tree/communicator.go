package tree

import (
	"sync"
	"sync/atomic"

	"github.com/nodepower/powerplane/pkg/errs"
	"github.com/nodepower/powerplane/pkg/policy"
	"github.com/nodepower/powerplane/pkg/wire"
)

// Status is the non-blocking result of a receive call.
type Status int

const (
	// StatusOK means a full set of new contributions was returned.
	StatusOK Status = iota
	// StatusWouldBlock means fewer than the expected fanout have new
	// contributions since the last receipt.
	StatusWouldBlock
	// StatusShutdown means the communicator has been told to shut down
	// and receive loops should terminate at the next poll.
	StatusShutdown
)

type sampleSlot struct {
	msg wire.SampleMessage
	new bool
}

type policySlot struct {
	msg wire.PolicyMessage
	new bool
}

// Communicator is one rank's in-process view of the tree: a mailbox
// per level for upward sample coalescing and one mailbox per level for
// downward policy scatter. Multiple Communicators sharing process
// memory (constructed over a common Fabric) simulate the full tree for
// single-binary and test use, per SPEC_FULL.md §11/GLOSSARY "Fabric".
type Communicator struct {
	topo   *Topology
	fabric *Fabric

	mu          sync.Mutex
	sampleBoxes map[int]map[int]*sampleSlot // level -> child -> slot
	policyBoxes map[int]*policySlot         // level -> slot (this rank's inbox from its parent)

	shuttingDown atomic.Bool
}

// NewCommunicator constructs a Communicator for topo, wired to fabric
// for cross-rank delivery.
func NewCommunicator(topo *Topology, fabric *Fabric) *Communicator {
	return &Communicator{
		topo:        topo,
		fabric:      fabric,
		sampleBoxes: make(map[int]map[int]*sampleSlot),
		policyBoxes: make(map[int]*policySlot),
	}
}

func (c *Communicator) inbox(level int) map[int]*sampleSlot {
	c.mu.Lock()
	defer c.mu.Unlock()
	box, ok := c.sampleBoxes[level]
	if !ok {
		box = make(map[int]*sampleSlot)
		c.sampleBoxes[level] = box
	}
	return box
}

// SendSample contributes msg into the parent's aggregation buffer at
// level, overwriting any previous unread contribution from this rank
// (spec.md §4.5 coalescing). childIndex is this rank's position within
// its level-l parent's child group.
func (c *Communicator) SendSample(level int, childIndex int, msg wire.SampleMessage) error {
	if c.shuttingDown.Load() {
		return errs.New(errs.CodeInvalid, "tree: communicator is shutting down")
	}
	parentRank := c.fabric.ParentRank(c.topo.Rank, level)
	return c.fabric.deliverSample(parentRank, level, childIndex, msg)
}

// receiveSampleLocal is the Fabric-side hook: it deposits an incoming
// sample into this rank's level-l inbox, coalescing into the existing
// slot for childIndex.
func (c *Communicator) receiveSampleLocal(level, childIndex int, msg wire.SampleMessage) {
	box := c.inbox(level)
	c.mu.Lock()
	defer c.mu.Unlock()
	box[childIndex] = &sampleSlot{msg: msg, new: true}
}

// ReceiveSample returns all child contributions at level if every
// expected child (per the level's fanout) has a new contribution
// since the last receipt; otherwise it returns StatusWouldBlock
// without consuming any contribution (spec.md §4.5).
func (c *Communicator) ReceiveSample(level int) (map[int]wire.SampleMessage, Status) {
	if c.shuttingDown.Load() {
		return nil, StatusShutdown
	}
	_, expected := c.topo.GroupIndex(level)

	c.mu.Lock()
	defer c.mu.Unlock()
	box := c.sampleBoxes[level]
	newCount := 0
	for _, slot := range box {
		if slot.new {
			newCount++
		}
	}
	if newCount < expected {
		return nil, StatusWouldBlock
	}
	out := make(map[int]wire.SampleMessage, len(box))
	for child, slot := range box {
		out[child] = slot.msg
		slot.new = false
	}
	return out, StatusOK
}

// SendPolicy scatters msg down to childIndex's rank at level.
func (c *Communicator) SendPolicy(level int, childIndex int, msg wire.PolicyMessage) error {
	childRank := c.fabric.ChildRank(c.topo.Rank, level, childIndex)
	return c.fabric.deliverPolicy(childRank, level, msg)
}

func (c *Communicator) receivePolicyLocal(level int, msg wire.PolicyMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policyBoxes[level] = &policySlot{msg: msg, new: true}
	if policy.Mode(msg.Mode) == policy.Shutdown {
		c.shuttingDown.Store(true)
	}
}

// ReceivePolicy returns this rank's newest policy at level, if any has
// arrived since the last receipt.
func (c *Communicator) ReceivePolicy(level int) (wire.PolicyMessage, Status) {
	if c.shuttingDown.Load() {
		c.mu.Lock()
		slot, ok := c.policyBoxes[level]
		c.mu.Unlock()
		if ok && slot.new {
			slot.new = false
			return slot.msg, StatusShutdown
		}
		return wire.PolicyMessage{}, StatusShutdown
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.policyBoxes[level]
	if !ok || !slot.new {
		return wire.PolicyMessage{}, StatusWouldBlock
	}
	slot.new = false
	return slot.msg, StatusOK
}

// Shutdown flushes pending contributions and marks this communicator
// so every subsequent receive returns StatusShutdown at its next poll
// (spec.md §4.5 cancellation).
func (c *Communicator) Shutdown() {
	c.mu.Lock()
	c.sampleBoxes = make(map[int]map[int]*sampleSlot)
	c.mu.Unlock()
	c.shuttingDown.Store(true)
}

// IsShuttingDown reports whether Shutdown has been called or a
// shutdown policy has been received.
func (c *Communicator) IsShuttingDown() bool {
	return c.shuttingDown.Load()
}
