package decider

import (
	"github.com/nodepower/powerplane/pkg/errs"
	"github.com/nodepower/powerplane/pkg/policy"
)

// LeafFactory and TreeFactory construct a decider instance, one per
// active region (deciders may hold per-region EWMA state, so a fresh
// instance per region is required).
type LeafFactory func() LeafDecider
type TreeFactory func() TreeDecider

var (
	leafRegistry = map[policy.Mode]LeafFactory{}
	treeRegistry = map[policy.Mode]TreeFactory{}
)

// RegisterLeaf associates a LeafDecider factory with a control mode.
func RegisterLeaf(mode policy.Mode, f LeafFactory) { leafRegistry[mode] = f }

// RegisterTree associates a TreeDecider factory with a control mode.
func RegisterTree(mode policy.Mode, f TreeFactory) { treeRegistry[mode] = f }

// NewLeaf returns the registered LeafDecider for mode. An unregistered
// dynamic mode falls back to PassthroughLeaf — the default factory entry
// spec.md §4.4 calls for ("the core spec pins only these contracts;
// concrete deciders are pluggable via a factory keyed by mode"); an
// unregistered static mode or Shutdown is a CodeInvalid error.
func NewLeaf(mode policy.Mode) (LeafDecider, error) {
	if f, ok := leafRegistry[mode]; ok {
		return f(), nil
	}
	if !mode.IsStatic() && mode != policy.Shutdown {
		return &PassthroughLeaf{}, nil
	}
	return nil, errs.Newf(errs.CodeInvalid, "decider: no leaf decider registered for mode %s", mode)
}

// NewTree returns the registered TreeDecider for mode, falling back to
// Uniform for an unregistered dynamic mode; an unregistered static mode
// or Shutdown is a CodeInvalid error.
func NewTree(mode policy.Mode) (TreeDecider, error) {
	if f, ok := treeRegistry[mode]; ok {
		return f(), nil
	}
	if !mode.IsStatic() && mode != policy.Shutdown {
		return &Uniform{}, nil
	}
	return nil, errs.Newf(errs.CodeInvalid, "decider: no tree decider registered for mode %s", mode)
}
