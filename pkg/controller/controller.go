// Package controller implements the orchestrator spec.md §4.7 names: it
// binds a Platform, a tree Communicator, and the per-level Deciders
// together and drives the periodic walk_down/walk_up/decide/enforce
// step. The run-loop shape (ticker plus signal-cancellable context) is
// grounded directly on cmd/consumption/main.go's run() function.
package controller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nodepower/powerplane/pkg/decider"
	"github.com/nodepower/powerplane/pkg/errs"
	"github.com/nodepower/powerplane/pkg/platform"
	"github.com/nodepower/powerplane/pkg/policy"
	"github.com/nodepower/powerplane/pkg/region"
	"github.com/nodepower/powerplane/pkg/tree"
	"github.com/nodepower/powerplane/pkg/wire"
)

// DefaultPeriod is the control-period fallback spec.md GLOSSARY names
// ("typically 10-100ms") when a Config doesn't set one.
const DefaultPeriod = 100 * time.Millisecond

// Config constructs a Controller. Topology and Communicator are nil for
// a single-rank, tree-less deployment (spec.md's leaf-and-root-in-one
// degenerate case); Controller detects this from Topology.NumLevels()==0.
type Config struct {
	Topology     *tree.Topology
	Communicator *tree.Communicator
	Platform     *platform.Platform
	Domain       platform.Domain
	DomainIndex  int

	// IsRoot marks the rank that owns GlobalPolicy and seeds the tree's
	// top-level decide step instead of receiving a policy from a parent.
	IsRoot       bool
	GlobalPolicy *policy.GlobalPolicy

	RegionSource  RegionSource
	DefaultRegion uint64
	Period        time.Duration
	Logger        *slog.Logger
}

// Controller is the per-node orchestrator (spec.md §4.7). It owns every
// Region and Decider for this rank's levels — the arena-ownership break
// spec.md §9 calls for on the Controller<->Decider<->Region cycle;
// Deciders receive non-owning Telemetry/Policy views only for the
// duration of a Decide call.
type Controller struct {
	topo   *tree.Topology
	comm   *tree.Communicator
	plat   *platform.Platform
	domain platform.Domain
	domIdx int

	isRoot       bool
	globalPolicy *policy.GlobalPolicy

	regionSource  RegionSource
	defaultRegion uint64
	period        time.Duration
	log           *slog.Logger

	mu                sync.Mutex
	regions           map[int]*region.Table
	startedAt         map[uint64]time.Time
	leafDeciders      map[uint64]decider.LeafDecider
	treeDeciders      map[int]map[uint64]decider.TreeDecider
	lastChildren      map[int]map[int]wire.SampleMessage
	lastChildPolicies map[int]map[int]*policy.Policy

	recoverable atomic.Uint64
}

// New constructs a Controller from cfg.
func New(cfg Config) (*Controller, error) {
	if cfg.Platform == nil {
		return nil, errs.New(errs.CodeInvalid, "controller: Platform is required")
	}
	if cfg.RegionSource == nil {
		cfg.RegionSource = NewStaticRegionSource(cfg.DefaultRegion)
	}
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Topology != nil && cfg.Communicator == nil {
		return nil, errs.New(errs.CodeInvalid, "controller: Communicator is required when Topology is set")
	}

	return &Controller{
		topo:              cfg.Topology,
		comm:              cfg.Communicator,
		plat:              cfg.Platform,
		domain:            cfg.Domain,
		domIdx:            cfg.DomainIndex,
		isRoot:            cfg.IsRoot,
		globalPolicy:      cfg.GlobalPolicy,
		regionSource:      cfg.RegionSource,
		defaultRegion:     cfg.DefaultRegion,
		period:            cfg.Period,
		log:               cfg.Logger,
		regions:           make(map[int]*region.Table),
		startedAt:         make(map[uint64]time.Time),
		leafDeciders:      make(map[uint64]decider.LeafDecider),
		treeDeciders:      make(map[int]map[uint64]decider.TreeDecider),
		lastChildren:      make(map[int]map[int]wire.SampleMessage),
		lastChildPolicies: make(map[int]map[int]*policy.Policy),
	}, nil
}

// numLevels reports the number of tree levels above the leaf, 0 for a
// degenerate single-rank deployment.
func (c *Controller) numLevels() int {
	if c.topo == nil {
		return 0
	}
	return c.topo.NumLevels()
}

func (c *Controller) levelTable(level int) *region.Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.regions[level]
	if !ok {
		t = region.NewTable()
		c.regions[level] = t
	}
	return t
}

// RecoverableErrors reports the running count of absorbed, non-fatal
// errors (spec.md §7 "emits a counter tick").
func (c *Controller) RecoverableErrors() uint64 {
	return c.recoverable.Load()
}

func (c *Controller) warnRecoverable(msg string, args ...any) {
	c.recoverable.Add(1)
	c.log.Warn(msg, args...)
}

// Step drives one control period: scatter any newly arrived policy
// down the tree (including the tree decider's budget split), sample
// and reduce telemetry up the tree, then decide and enforce at the
// leaf. This folds spec.md §4.7's separately-named "decide at each
// level" into walk_down, since a level's decide step is causally tied
// to the policy that just arrived there, not to the sample that will
// arrive later this same period — see DESIGN.md for the reasoning.
func (c *Controller) Step() error {
	if err := c.WalkDown(); err != nil {
		return err
	}
	if err := c.WalkUp(); err != nil {
		return err
	}
	return c.enforceLeaf()
}

// Run loops Step until a shutdown policy has propagated to every active
// leaf region, or ctx is cancelled, guaranteeing one final walk_down of
// a shutdown policy before returning either way (spec.md §4.7 "run()").
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("controller: context cancelled, draining shutdown")
			return c.drainShutdown()
		case <-ticker.C:
			if err := c.Step(); err != nil {
				return err
			}
			if c.isShutDown() {
				c.log.Info("controller: shutdown policy reached every leaf region")
				return nil
			}
		}
	}
}

// Spawn runs Run on a companion goroutine — the Go analogue of
// spec.md §4.7's pthread()/spawn() (a goroutine has no caller-supplied
// attribute block, so cancellation is threaded through ctx instead).
func (c *Controller) Spawn(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	return done
}

func (c *Controller) isShutDown() bool {
	regions := c.regionSource.ActiveRegions()
	if len(regions) == 0 {
		return false
	}
	table := c.levelTable(0)
	for _, regionID := range regions {
		if table.GetOrCreate(regionID).State() != region.StateShutdown {
			return false
		}
	}
	return true
}

func (c *Controller) drainShutdown() error {
	sd := policy.New(0)
	sd.SetMode(policy.Shutdown)
	table := c.levelTable(0)
	for _, regionID := range c.regionSource.ActiveRegions() {
		table.GetOrCreate(regionID).SetCurrentPolicy(sd)
	}
	if c.comm != nil {
		c.comm.Shutdown()
	}
	return c.WalkDown()
}

func (c *Controller) leafDeciderFor(regionID uint64, mode policy.Mode) (decider.LeafDecider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ld, ok := c.leafDeciders[regionID]; ok {
		return ld, nil
	}
	ld, err := decider.NewLeaf(mode)
	if err != nil {
		return nil, err
	}
	c.leafDeciders[regionID] = ld
	return ld, nil
}

func (c *Controller) treeDeciderFor(level int, regionID uint64, mode policy.Mode) (decider.TreeDecider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byRegion, ok := c.treeDeciders[level]
	if !ok {
		byRegion = make(map[uint64]decider.TreeDecider)
		c.treeDeciders[level] = byRegion
	}
	if td, ok := byRegion[regionID]; ok {
		return td, nil
	}
	td, err := decider.NewTree(mode)
	if err != nil {
		return nil, err
	}
	byRegion[regionID] = td
	return td, nil
}

func (c *Controller) enforceLeaf() error {
	table := c.levelTable(0)
	for _, regionID := range c.regionSource.ActiveRegions() {
		r := table.GetOrCreate(regionID)
		if r.State() == region.StateUnobserved {
			continue
		}
		p := r.CurrentPolicy()
		if p == nil || p.Mode() == policy.Shutdown {
			continue
		}
		// Static modes are intentionally unregistered here: they are
		// enforced once by GlobalPolicy.EnforceStaticMode, not per-step
		// by a LeafDecider, so decider.NewLeaf errors for them and this
		// absorbs that as a recoverable no-op rather than actuating.
		ld, err := c.leafDeciderFor(regionID, p.Mode())
		if err != nil {
			c.warnRecoverable("controller: no leaf decider for mode", "region_id", regionID, "mode", p.Mode(), "err", err)
			continue
		}
		act, err := ld.Decide(r.Telemetry(), p)
		if err != nil {
			c.warnRecoverable("controller: leaf decider failed", "region_id", regionID, "err", err)
			continue
		}
		if err := c.plat.WriteControl(c.domain, c.domIdx, act.Kind, act.Value); err != nil {
			// hardware-not-present is fatal for this controller, not the
			// whole job, per spec.md §4.7.
			return err
		}
	}
	return nil
}
