package controller

import (
	"math"
	"time"

	"github.com/nodepower/powerplane/pkg/errs"
	"github.com/nodepower/powerplane/pkg/policy"
	"github.com/nodepower/powerplane/pkg/region"
	"github.com/nodepower/powerplane/pkg/tree"
	"github.com/nodepower/powerplane/pkg/wire"
)

// budgetTolerance is the +/-1W rounding slack spec.md §4.4 and §8
// property 4 allow a TreeDecider's children-budget split.
const budgetTolerance = 1.0

// WalkUp samples the Platform at the leaf and reduces samples up the
// tree one level at a time, stopping the first time a level's group
// hasn't fully reported yet — spec.md §4.7's "sample the Platform,
// insert into the local region, and send_sample to parent", repeated
// once per representative per level.
func (c *Controller) WalkUp() error {
	if c.numLevels() == 0 {
		return c.walkUpLocal()
	}

	for level := 0; level < c.numLevels(); level++ {
		if !c.topo.Participates(level) {
			return nil
		}
		if level == 0 {
			if err := c.sampleAndSendLevel0(); err != nil {
				return err
			}
		}

		children, status := c.comm.ReceiveSample(level)
		switch status {
		case tree.StatusWouldBlock:
			return nil
		case tree.StatusShutdown:
			return nil
		}

		byRegion := groupByRegion(children)
		c.mu.Lock()
		c.lastChildren[level] = children
		c.mu.Unlock()

		table := c.levelTable(level)
		for regionID, samples := range byRegion {
			table.GetOrCreate(regionID).Insert(samples)
		}

		if level+1 >= c.numLevels() || !c.topo.Participates(level+1) {
			return nil
		}
		idx, _ := c.topo.GroupIndex(level + 1)
		for regionID := range byRegion {
			tel := table.GetOrCreate(regionID).Telemetry()
			out := wire.SampleMessage{
				RegionID:  regionID,
				Runtime:   tel.MaxRuntimeSec,
				Energy:    tel.SummedEnergyJ,
				Frequency: tel.MeanFrequencyMHz,
			}
			if err := c.comm.SendSample(level+1, idx, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Controller) walkUpLocal() error {
	table := c.levelTable(0)
	for _, regionID := range c.regionSource.ActiveRegions() {
		msg, err := c.sampleLocal(regionID)
		if err != nil {
			c.warnRecoverable("controller: sample failed", "region_id", regionID, "err", err)
			continue
		}
		table.GetOrCreate(regionID).Insert(map[int]wire.SampleMessage{0: msg})
	}
	return nil
}

func (c *Controller) sampleAndSendLevel0() error {
	idx, _ := c.topo.GroupIndex(0)
	for _, regionID := range c.regionSource.ActiveRegions() {
		msg, err := c.sampleLocal(regionID)
		if err != nil {
			c.warnRecoverable("controller: sample failed", "region_id", regionID, "err", err)
			continue
		}
		if err := c.comm.SendSample(0, idx, msg); err != nil {
			return err
		}
	}
	return nil
}

// sampleLocal reads one Platform sample and shapes it into the wire
// sample message, tracking this region's start time for the Runtime
// field. Progress is always 0: the application-provided region-marker
// API that would supply it is out of scope (spec.md §1).
func (c *Controller) sampleLocal(regionID uint64) (wire.SampleMessage, error) {
	s, err := c.plat.SampleDomain(c.domain, c.domIdx)
	if err != nil {
		return wire.SampleMessage{}, err
	}

	c.mu.Lock()
	start, ok := c.startedAt[regionID]
	if !ok {
		start = time.Now()
		c.startedAt[regionID] = start
	}
	c.mu.Unlock()

	return wire.SampleMessage{
		RegionID:  regionID,
		Runtime:   time.Since(start).Seconds(),
		Progress:  0,
		Energy:    s.PkgEnergyJ,
		Frequency: s.FrequencyMHz,
	}, nil
}

func groupByRegion(children map[int]wire.SampleMessage) map[uint64]map[int]wire.SampleMessage {
	out := make(map[uint64]map[int]wire.SampleMessage)
	for child, msg := range children {
		byRegion, ok := out[msg.RegionID]
		if !ok {
			byRegion = make(map[int]wire.SampleMessage)
			out[msg.RegionID] = byRegion
		}
		byRegion[child] = msg
	}
	return out
}

// WalkDown scatters the newest policy from the highest level to the
// leaf (spec.md §4.7 "walk_down()"): the root seeds the top level from
// GlobalPolicy, every other level polls receive_policy, and each
// representative that gets a fresh policy runs its TreeDecider to split
// the budget across its own children before forwarding it one level
// down.
func (c *Controller) WalkDown() error {
	if c.numLevels() == 0 {
		return c.walkDownLocal()
	}

	rootLevel := c.numLevels() - 1

	if c.isRoot && c.topo.Participates(rootLevel) {
		in, err := c.rootPolicy(rootLevel)
		if err != nil {
			c.warnRecoverable("controller: root policy read failed, reusing last", "err", err)
		} else {
			table := c.levelTable(rootLevel)
			table.GetOrCreate(c.defaultRegion).SetCurrentPolicy(in)
			if in.Mode() == policy.Shutdown {
				c.comm.Shutdown()
			}
			if err := c.decideAndScatter(rootLevel, c.defaultRegion, in); err != nil {
				return err
			}
		}
	}

	for level := rootLevel; level >= 0; level-- {
		if !c.topo.Participates(level) {
			continue
		}
		if c.isRoot && level == rootLevel {
			continue // already seeded above, nothing to receive from a parent
		}
		msg, status := c.comm.ReceivePolicy(level)
		if status == tree.StatusWouldBlock {
			continue
		}

		in := policyFromMessage(msg)
		table := c.levelTable(level)
		table.GetOrCreate(c.defaultRegion).SetCurrentPolicy(in)

		if err := c.decideAndScatter(level, c.defaultRegion, in); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) walkDownLocal() error {
	if c.globalPolicy == nil {
		return nil
	}
	if err := c.globalPolicy.Read(); err != nil {
		c.warnRecoverable("controller: global policy read failed", "err", err)
		return nil
	}
	p := policy.New(0)
	p.SetMode(c.globalPolicy.Mode())
	p.SetBudgetWatts(c.globalPolicy.BudgetWatts())
	p.SetFlags(c.globalPolicy.Flags())
	c.levelTable(0).GetOrCreate(c.defaultRegion).SetCurrentPolicy(p)
	return nil
}

// rootPolicy loads the current GlobalPolicy and shapes it into a Policy
// sized to the root's own fanout.
func (c *Controller) rootPolicy(rootLevel int) (*policy.Policy, error) {
	if c.globalPolicy == nil {
		return nil, errs.New(errs.CodeInvalid, "controller: root has no GlobalPolicy configured")
	}
	if err := c.globalPolicy.Read(); err != nil {
		return nil, err
	}
	numDomain := 0
	if rootLevel < len(c.topo.FanOut) {
		numDomain = c.topo.FanOut[rootLevel]
	}
	p := policy.New(numDomain)
	p.SetMode(c.globalPolicy.Mode())
	p.SetBudgetWatts(c.globalPolicy.BudgetWatts())
	p.SetFlags(c.globalPolicy.Flags())
	return p, nil
}

// decideAndScatter runs the TreeDecider owning (level, regionID) against
// in and forwards its per-child output one level down. It reuses the
// last valid split on decider failure (spec.md §4.7 "a decider's
// failure ... is logged and the previous valid policy is reused for one
// more step").
func (c *Controller) decideAndScatter(level int, regionID uint64, in *policy.Policy) error {
	if level == 0 {
		return nil // leaf: nothing further down the tree
	}
	childLevel := level - 1

	if in.Mode() == policy.Shutdown {
		return c.scatterShutdown(childLevel)
	}

	td, err := c.treeDeciderFor(level, regionID, in.Mode())
	if err != nil {
		c.warnRecoverable("controller: no tree decider for mode", "level", level, "region_id", regionID, "mode", in.Mode(), "err", err)
		return nil
	}

	childTel := c.childTelemetryAt(childLevel, regionID)
	out, err := td.Decide(level, childTel, in)
	if err == nil {
		err = validateBudgetSplit(in.BudgetWatts(), out)
	}
	if err != nil {
		c.warnRecoverable("controller: tree decider produced an invalid split, reusing last policy", "level", level, "region_id", regionID, "err", err)
		out = c.cachedChildPolicies(childLevel)
		if out == nil {
			return nil
		}
	} else {
		c.cacheChildPolicies(childLevel, out)
	}

	for childIdx, p := range out {
		if err := c.comm.SendPolicy(childLevel, childIdx, policyToMessage(p)); err != nil {
			return err
		}
	}
	return nil
}

// scatterShutdown forwards the sentinel shutdown mode to every child at
// childLevel, bypassing the TreeDecider entirely: a shutdown has no
// budget to split, it only needs to drain (spec.md §4.5 "Cancellation").
func (c *Controller) scatterShutdown(childLevel int) error {
	msg := wire.PolicyMessage{Mode: int32(policy.Shutdown)}
	fanout := 0
	if childLevel < len(c.topo.FanOut) {
		fanout = c.topo.FanOut[childLevel]
	}
	for childIdx := 0; childIdx < fanout; childIdx++ {
		if err := c.comm.SendPolicy(childLevel, childIdx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) childTelemetryAt(level int, regionID uint64) map[int]region.Telemetry {
	c.mu.Lock()
	children := c.lastChildren[level]
	c.mu.Unlock()

	out := make(map[int]region.Telemetry, len(children))
	for idx, msg := range children {
		if msg.RegionID != regionID {
			continue
		}
		out[idx] = region.Telemetry{
			RegionID:         regionID,
			SummedEnergyJ:    msg.Energy,
			MaxRuntimeSec:    msg.Runtime,
			MeanFrequencyMHz: msg.Frequency,
			NumChildren:      1,
		}
	}
	return out
}

func (c *Controller) cachedChildPolicies(level int) map[int]*policy.Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastChildPolicies[level]
}

func (c *Controller) cacheChildPolicies(level int, out map[int]*policy.Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastChildPolicies[level] = out
}

// validateBudgetSplit checks spec.md §4.4/§8 property 4: a TreeDecider's
// children budgets must sum to the incoming budget within +/-1W.
func validateBudgetSplit(budget float64, out map[int]*policy.Policy) error {
	sum := 0.0
	for _, p := range out {
		sum += p.BudgetWatts()
	}
	if math.Abs(sum-budget) > budgetTolerance {
		return errs.Newf(errs.CodeLogic, "controller: children budgets sum to %.3fW, want %.3fW +/-%.1fW", sum, budget, budgetTolerance)
	}
	return nil
}

func policyFromMessage(msg wire.PolicyMessage) *policy.Policy {
	p := policy.New(len(msg.Target))
	p.SetMode(policy.Mode(msg.Mode))
	p.SetBudgetWatts(msg.PowerBudget)
	p.SetFlags(msg.Flags)
	if len(msg.Target) > 0 {
		_ = p.UpdateAll(msg.Target)
	}
	return p
}

func policyToMessage(p *policy.Policy) wire.PolicyMessage {
	return wire.PolicyMessage{
		Mode:        int32(p.Mode()),
		PowerBudget: p.BudgetWatts(),
		Flags:       p.Flags(),
		NumSample:   int32(p.NumDomain()),
		Target:      p.Targets(),
	}
}
