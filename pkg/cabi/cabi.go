// Package cabi realizes the C ABI boundary spec.md §6 describes: a
// consumer written in another language links against a thin,
// error-code-returning surface instead of Go types directly. Go has no
// safe way to hand a caller a raw *policy.GlobalPolicy across a cgo
// boundary (the garbage collector may move or free it from under a
// foreign pointer), so every GlobalPolicy lives in a process-wide table
// keyed by an opaque integer handle, and every exported function here
// returns an errs.Code instead of an error — the same shape
// original_source/src/GlobalPolicy.cpp's extern "C" wrapper block uses
// ahead of its C++ implementation.
package cabi

import (
	"sync"
	"sync/atomic"

	"github.com/nodepower/powerplane/pkg/errs"
	"github.com/nodepower/powerplane/pkg/platform"
	"github.com/nodepower/powerplane/pkg/policy"
)

// Handle identifies one live GlobalPolicy across the boundary. Zero is
// never issued and always invalid, the same convention a C NULL pointer
// would carry.
type Handle uint64

var (
	mu     sync.RWMutex
	table  = make(map[Handle]*policy.GlobalPolicy)
	nextID atomic.Uint64
)

func register(gp *policy.GlobalPolicy) Handle {
	id := Handle(nextID.Add(1))
	mu.Lock()
	table[id] = gp
	mu.Unlock()
	return id
}

func lookup(h Handle) (*policy.GlobalPolicy, error) {
	mu.RLock()
	gp, ok := table[h]
	mu.RUnlock()
	if !ok {
		return nil, errs.Newf(errs.CodePolicyNull, "cabi: unknown or destroyed handle %d", h)
	}
	return gp, nil
}

// errCode maps err to its errs.Code, 0 for nil. Panics are not handled
// here: each exported function recovers them in its own deferred func
// and reports CodeLogic.
func errCode(err error) errs.Code {
	if err == nil {
		return 0
	}
	return errs.CodeOf(err)
}

// Create constructs a GlobalPolicy from an input and/or output
// descriptor (a file path or shared-memory name, see shm.ValidName) and
// returns its handle. handle is 0 and code is non-zero on failure.
func Create(inDescriptor, outDescriptor string) (handle Handle, code errs.Code) {
	defer func() {
		if r := recover(); r != nil {
			handle, code = 0, errs.CodeLogic
		}
	}()
	gp, err := policy.New(inDescriptor, outDescriptor)
	if err != nil {
		return 0, errCode(err)
	}
	return register(gp), 0
}

// Destroy releases the resources a handle owns and removes it from the
// table. Destroying an unknown handle is a no-op that reports
// CodePolicyNull, mirroring double-free detection at a C boundary.
func Destroy(h Handle) (code errs.Code) {
	defer func() {
		if r := recover(); r != nil {
			code = errs.CodeLogic
		}
	}()
	mu.Lock()
	gp, ok := table[h]
	if ok {
		delete(table, h)
	}
	mu.Unlock()
	if !ok {
		return errs.CodePolicyNull
	}
	if err := gp.Close(); err != nil {
		return errCode(err)
	}
	return 0
}

// SetMode sets h's control mode by its spec.md §4.6 JSON name (e.g.
// "tdp_balance_static").
func SetMode(h Handle, mode string) (code errs.Code) {
	defer func() {
		if r := recover(); r != nil {
			code = errs.CodeLogic
		}
	}()
	gp, err := lookup(h)
	if err != nil {
		return errCode(err)
	}
	m, err := policy.ParseMode(mode)
	if err != nil {
		return errCode(err)
	}
	gp.SetMode(m)
	return 0
}

// SetBudgetWatts sets h's power budget.
func SetBudgetWatts(h Handle, watts float64) (code errs.Code) {
	defer func() {
		if r := recover(); r != nil {
			code = errs.CodeLogic
		}
	}()
	gp, err := lookup(h)
	if err != nil {
		return errCode(err)
	}
	gp.SetBudgetWatts(watts)
	return 0
}

// SetFrequencyMHz sets h's frequency field, in MHz (rounded down to the
// nearest 100MHz quantum Policy.SetFrequencyMHz documents).
func SetFrequencyMHz(h Handle, mhz int) (code errs.Code) {
	defer func() {
		if r := recover(); r != nil {
			code = errs.CodeLogic
		}
	}()
	gp, err := lookup(h)
	if err != nil {
		return errCode(err)
	}
	gp.SetFrequencyMHz(mhz)
	return 0
}

// SetTDPPercent sets h's TDP percentage field.
func SetTDPPercent(h Handle, percent int) (code errs.Code) {
	defer func() {
		if r := recover(); r != nil {
			code = errs.CodeLogic
		}
	}()
	gp, err := lookup(h)
	if err != nil {
		return errCode(err)
	}
	gp.SetTDPPercent(percent)
	return 0
}

// SetAffinity sets h's CPU-topology affinity field by name ("compact"
// or "scatter").
func SetAffinity(h Handle, affinity string) (code errs.Code) {
	defer func() {
		if r := recover(); r != nil {
			code = errs.CodeLogic
		}
	}()
	gp, err := lookup(h)
	if err != nil {
		return errCode(err)
	}
	a, err := policy.ParseAffinity(affinity)
	if err != nil {
		return errCode(err)
	}
	gp.SetAffinity(a)
	return 0
}

// SetNumMaxPerf sets h's max-perf-CPU-count field.
func SetNumMaxPerf(h Handle, n int) (code errs.Code) {
	defer func() {
		if r := recover(); r != nil {
			code = errs.CodeLogic
		}
	}()
	gp, err := lookup(h)
	if err != nil {
		return errCode(err)
	}
	gp.SetNumMaxPerf(n)
	return 0
}

// Read loads h's fields from its input descriptor.
func Read(h Handle) (code errs.Code) {
	defer func() {
		if r := recover(); r != nil {
			code = errs.CodeLogic
		}
	}()
	gp, err := lookup(h)
	if err != nil {
		return errCode(err)
	}
	return errCode(gp.Read())
}

// Write publishes h's fields to its output descriptor.
func Write(h Handle) (code errs.Code) {
	defer func() {
		if r := recover(); r != nil {
			code = errs.CodeLogic
		}
	}()
	gp, err := lookup(h)
	if err != nil {
		return errCode(err)
	}
	return errCode(gp.Write())
}

// Enforce applies h's static-mode policy directly to the hardware behind
// plat, bypassing the Controller/Decider tree entirely (policy.
// GlobalPolicy.EnforceStaticMode). Fails with CodeInvalid for a
// dynamic-mode handle.
func Enforce(h Handle, plat *platform.Platform) (code errs.Code) {
	defer func() {
		if r := recover(); r != nil {
			code = errs.CodeLogic
		}
	}()
	gp, err := lookup(h)
	if err != nil {
		return errCode(err)
	}
	if plat == nil {
		return errs.CodeInvalid
	}
	return errCode(gp.EnforceStaticMode(plat))
}
