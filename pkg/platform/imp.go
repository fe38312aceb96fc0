package platform

import "github.com/nodepower/powerplane/pkg/errs"

// Imp is the PlatformImp contract (spec.md §4.1): a model-specific
// driver that opens one handle per logical CPU, exposes typed
// read/write against semantic signal kinds, and owns its own overflow
// and RAPL-bound state.
type Imp interface {
	// ModelSupported identifies whether this Imp drives the CPU model
	// family/model the OS reports.
	ModelSupported(platformID string) bool
	// MSRInitialize opens descriptors, loads the MSR table, and
	// programs counters. Must be called before any ReadSignal/
	// WriteControl.
	MSRInitialize() error
	// MSRReset zeros power limits and uncore counters, leaving fixed
	// counters programmed.
	MSRReset() error
	// ReadSignal returns the current value of a typed signal at
	// (domain, index).
	ReadSignal(domain Domain, index int, kind SignalKind) (float64, error)
	// WriteControl clamps and writes a typed control at (domain, index).
	WriteControl(domain Domain, index int, kind ControlKind, value float64) error
	// NumPackage reports the number of RAPL packages this Imp manages.
	NumPackage() int
	// NumTile reports the number of counter tiles this Imp manages.
	NumTile() int
	// NumCPU reports the number of logical CPUs this Imp manages.
	NumCPU() int
	// PowerBounds returns the discovered [min,max] watt range for the
	// given power control, used by write_control's clamp.
	PowerBounds(kind ControlKind) (min, max float64, err error)
	// Close releases every per-CPU handle this Imp opened.
	Close() error
}

// Factory constructs an Imp, used by the model registry.
type Factory func() Imp

var registry = map[string]Factory{}

// Register adds a model-specific Imp factory to the registry, keyed by
// the name the factory's ModelSupported check recognizes. Called from
// each model package's init(), mirroring the teacher's
// pkg/system/proc.NewCollector dispatch-by-detected-mode pattern,
// generalized from "detected cgroup version" to "detected CPU model id".
func Register(name string, factory Factory) {
	registry[name] = factory
}

// New returns the first registered Imp whose ModelSupported(platformID)
// reports true, or a CodeRuntime error if none match — the source's
// "hardware-not-present" failure mode (spec.md §4.7 "a platform write
// that returns hardware-not-present is treated as fatal for the
// controller").
func New(platformID string) (Imp, error) {
	for _, factory := range registry {
		imp := factory()
		if imp.ModelSupported(platformID) {
			return imp, nil
		}
	}
	return nil, errs.Newf(errs.CodeRuntime, "platform: no registered Imp supports model %q", platformID)
}
