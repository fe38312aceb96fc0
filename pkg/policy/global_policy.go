package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"unsafe"

	"github.com/nodepower/powerplane/pkg/errs"
	"github.com/nodepower/powerplane/pkg/shm"
	"github.com/nodepower/powerplane/pkg/wire"
)

// shmRecordSize is the mapped size of the shared-memory GlobalPolicy
// record. original_source/src/GlobalPolicy.cpp sizes its mmap by
// sizeof(geopm_policy_shmem_s), a hand-maintained C struct; the Go port
// sums the sizes of wire.PolicyMessage's fixed header fields (mode,
// power_budget, flags, num_sample), the same 24 bytes as
// shmHeaderSizeNoTarget below. Targets never travel through the
// shared-memory slot: it is written with num_sample=0. The sum is
// spelled out here, not derived from wire.PolicyMessage, so a layout
// change in wire is not picked up automatically.
const shmRecordSize = int(unsafe.Sizeof(int32(0)) + unsafe.Sizeof(float64(0)) + unsafe.Sizeof(uint64(0)) + unsafe.Sizeof(int32(0)))

// GlobalPolicy is the operator-authored root policy: constructed with an
// input and/or output descriptor (a filesystem path or a shared-memory
// object name per spec.md §4.6), it reads and publishes the three
// root-level fields (mode, budget, flags decomposed into frequency/
// num-max-perf/affinity/tdp-percent/goal).
type GlobalPolicy struct {
	inPath, outPath   string
	inIsShm, outIsShm bool
	inShm, outShm     *shm.Region
	doRead, doWrite   bool

	mode   Mode
	budget float64
	flags  uint64
}

// New constructs a GlobalPolicy. At least one of inDescriptor/
// outDescriptor must be non-empty (spec.md §4.6's "constructed with an
// input descriptor and/or output descriptor"). A descriptor counts as a
// shared-memory object name when shm.ValidName reports true; otherwise
// it is treated as a JSON config file path.
func New(inDescriptor, outDescriptor string) (*GlobalPolicy, error) {
	if inDescriptor == "" && outDescriptor == "" {
		return nil, errs.New(errs.CodeInvalid, "policy: at least one of in/out descriptor must be set")
	}
	gp := &GlobalPolicy{inPath: inDescriptor, outPath: outDescriptor}

	if outDescriptor != "" {
		gp.doWrite = true
		if shm.ValidName(outDescriptor) {
			gp.outIsShm = true
			region, err := shm.Create(outDescriptor, shmRecordSize)
			if err != nil {
				return nil, err
			}
			gp.outShm = region
		}
	}
	if inDescriptor != "" {
		gp.doRead = true
		if shm.ValidName(inDescriptor) {
			gp.inIsShm = true
			region, err := shm.Open(inDescriptor, shmRecordSize)
			if err != nil {
				if gp.outShm != nil {
					_ = gp.outShm.Close()
				}
				return nil, err
			}
			gp.inShm = region
		}
	}
	return gp, nil
}

// Close releases every resource this GlobalPolicy holds: shared-memory
// regions are unmapped (and, if this instance created them, unlinked);
// file descriptors close. Safe to call once after use.
func (g *GlobalPolicy) Close() error {
	var firstErr error
	if g.inIsShm && g.inShm != nil {
		if err := g.inShm.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if g.outIsShm && g.outShm != nil {
		if err := g.outShm.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Mode returns the currently loaded mode.
func (g *GlobalPolicy) Mode() Mode { return g.mode }

// SetMode sets the control mode.
func (g *GlobalPolicy) SetMode(m Mode) { g.mode = m }

// BudgetWatts returns the currently loaded power budget.
func (g *GlobalPolicy) BudgetWatts() float64 { return g.budget }

// SetBudgetWatts sets the power budget in watts.
func (g *GlobalPolicy) SetBudgetWatts(w float64) { g.budget = w }

// FrequencyMHz returns the frequency field packed in flags.
func (g *GlobalPolicy) FrequencyMHz() int {
	return int(g.flags&flagsFrequencyMask) * 100
}

// SetFrequencyMHz packs the frequency field. See Policy.SetFrequencyMHz
// for the quantization note.
func (g *GlobalPolicy) SetFrequencyMHz(mhz int) {
	g.flags = g.flags&^uint64(flagsFrequencyMask) | (uint64(mhz/100) & flagsFrequencyMask)
}

// NumMaxPerf returns the max-perf-CPU-count field.
func (g *GlobalPolicy) NumMaxPerf() int {
	return int((g.flags & flagsMaxPerfMask) >> flagsMaxPerfShift)
}

// SetNumMaxPerf packs the max-perf-CPU-count field.
func (g *GlobalPolicy) SetNumMaxPerf(n int) {
	g.flags = g.flags&^uint64(flagsMaxPerfMask) | ((uint64(n) << flagsMaxPerfShift) & flagsMaxPerfMask)
}

// AffinityValue returns the CPU-topology affinity field.
func (g *GlobalPolicy) AffinityValue() Affinity {
	return Affinity((g.flags & flagsAffinityMask) >> flagsAffinityShift)
}

// SetAffinity packs the CPU-topology affinity field.
func (g *GlobalPolicy) SetAffinity(a Affinity) {
	g.flags = g.flags&^uint64(flagsAffinityMask) | ((uint64(a) << flagsAffinityShift) & flagsAffinityMask)
}

// TDPPercent returns the tdp-percent field.
func (g *GlobalPolicy) TDPPercent() int {
	return int((g.flags & flagsTDPPercentMask) >> flagsTDPPercentShift)
}

// SetTDPPercent packs the tdp-percent field.
func (g *GlobalPolicy) SetTDPPercent(percent int) {
	g.flags = g.flags&^uint64(flagsTDPPercentMask) | ((uint64(percent) << flagsTDPPercentShift) & flagsTDPPercentMask)
}

// Flags returns the raw packed flags word, for handing a loaded
// GlobalPolicy straight to controller.Controller as a Policy without
// re-deriving each sub-field.
func (g *GlobalPolicy) Flags() uint64 { return g.flags }

// SetFlags overwrites the raw packed flags word.
func (g *GlobalPolicy) SetFlags(f uint64) { g.flags = f }

// Goal returns the optimization-goal field.
func (g *GlobalPolicy) Goal() int {
	return int((g.flags & flagsGoalMask) >> flagsGoalShift)
}

// SetGoal packs the optimization-goal field.
func (g *GlobalPolicy) SetGoal(goal int) {
	g.flags = g.flags&^uint64(flagsGoalMask) | ((uint64(goal) << flagsGoalShift) & flagsGoalMask)
}

// Read loads fields from the input descriptor: under the shared-memory
// region's lock for the shm case, or by parsing and validating JSON for
// the file case.
func (g *GlobalPolicy) Read() error {
	if !g.doRead {
		return errs.New(errs.CodeInvalid, "policy: no in descriptor configured")
	}
	if g.inIsShm {
		return g.readShm()
	}
	return g.readFile()
}

func (g *GlobalPolicy) readShm() error {
	if err := g.inShm.Lock(); err != nil {
		return err
	}
	defer func() { _ = g.inShm.Unlock() }()

	var msg wire.PolicyMessage
	if err := msg.UnmarshalBinary(g.inShm.Bytes()[:shmHeaderSizeNoTarget]); err != nil {
		return errs.Wrap(errs.CodeRuntime, err)
	}
	g.mode = Mode(msg.Mode)
	g.budget = msg.PowerBudget
	g.flags = msg.Flags
	return nil
}

// shmHeaderSizeNoTarget is the byte length of a wire.PolicyMessage with
// zero targets — exactly the mode+budget+flags+num_sample header, which
// is all the shared-memory GlobalPolicy record ever carries.
const shmHeaderSizeNoTarget = 4 + 8 + 8 + 4

func (g *GlobalPolicy) readFile() error {
	data, err := os.ReadFile(g.inPath)
	if err != nil {
		return errs.Wrap(errs.CodeFileParse, err)
	}
	return g.parseJSON(data)
}

// Write publishes fields to the output descriptor.
//
// For the shared-memory case, this locks and unlocks the *out* region's
// own mutex symmetrically. original_source/src/GlobalPolicy.cpp's write()
// locks m_policy_shmem_out but unlocks m_policy_shmem_in — a bug, not a
// behavior to preserve (DESIGN.md Open Question #2): the invariant
// spec.md §3 states is "the lock protects atomic read-modify-publish",
// which a mismatched unlock target would silently violate whenever
// in/out point at different regions.
func (g *GlobalPolicy) Write() error {
	if !g.doWrite {
		return errs.New(errs.CodeInvalid, "policy: no out descriptor configured")
	}
	if g.outIsShm {
		return g.writeShm()
	}
	return g.writeFile()
}

func (g *GlobalPolicy) writeShm() error {
	if err := g.outShm.Lock(); err != nil {
		return err
	}
	defer func() { _ = g.outShm.Unlock() }()

	msg := wire.PolicyMessage{Mode: int32(g.mode), PowerBudget: g.budget, Flags: g.flags}
	buf, err := msg.MarshalBinary()
	if err != nil {
		return errs.Wrap(errs.CodeRuntime, err)
	}
	copy(g.outShm.Bytes(), buf)
	return nil
}

func (g *GlobalPolicy) writeFile() error {
	data, err := g.toJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(g.outPath, data, 0644); err != nil {
		return errs.Wrap(errs.CodeRuntime, err)
	}
	return nil
}

// configJSON mirrors the recognized JSON schema from spec.md §4.6:
// {mode: string, options: object}.
type configJSON struct {
	Mode    string         `json:"mode"`
	Options map[string]any `json:"options"`
}

func (g *GlobalPolicy) parseJSON(data []byte) error {
	var cfg configJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return errs.Wrap(errs.CodeFileParse, fmt.Errorf("policy: %w", err))
	}
	mode, err := modeFromString(cfg.Mode)
	if err != nil {
		return err
	}
	g.mode = mode

	getInt := func(key string) (int, bool, error) {
		v, ok := cfg.Options[key]
		if !ok {
			return 0, false, nil
		}
		f, ok := v.(float64)
		if !ok {
			return 0, true, errs.Newf(errs.CodeFileParse, "policy: option %q expected integer type", key)
		}
		return int(f), true, nil
	}
	getString := func(key string) (string, bool) {
		v, ok := cfg.Options[key]
		if !ok {
			return "", false
		}
		s, _ := v.(string)
		return s, ok
	}

	switch mode {
	case TDPBalanceStatic:
		v, ok, err := getInt("tdp_percent")
		if err != nil {
			return err
		}
		if !ok {
			return errs.New(errs.CodeFileParse, "policy: tdp_balance_static requires tdp_percent")
		}
		g.SetTDPPercent(v)
	case FreqUniformStatic:
		v, ok, err := getInt("cpu_mhz")
		if err != nil {
			return err
		}
		if !ok {
			return errs.New(errs.CodeFileParse, "policy: freq_uniform_static requires cpu_mhz")
		}
		g.SetFrequencyMHz(v)
	case FreqHybridStatic:
		mhz, mhzOK, err := getInt("cpu_mhz")
		if err != nil {
			return err
		}
		n, nOK, err := getInt("num_cpu_max_perf")
		if err != nil {
			return err
		}
		aff, affOK := getString("affinity")
		if !mhzOK || !nOK || !affOK {
			return errs.New(errs.CodeFileParse, "policy: freq_hybrid_static requires cpu_mhz, num_cpu_max_perf, affinity")
		}
		affVal, err := affinityFromString(aff)
		if err != nil {
			return err
		}
		g.SetFrequencyMHz(mhz)
		g.SetNumMaxPerf(n)
		g.SetAffinity(affVal)
	case PerfBalanceDynamic, FreqUniformDynamic:
		v, ok, err := getInt("power_budget")
		if err != nil {
			return err
		}
		if !ok {
			return errs.Newf(errs.CodeFileParse, "policy: %s requires power_budget", mode)
		}
		g.SetBudgetWatts(float64(v))
	case FreqHybridDynamic:
		budget, budgetOK, err := getInt("power_budget")
		if err != nil {
			return err
		}
		n, nOK, err := getInt("num_cpu_max_perf")
		if err != nil {
			return err
		}
		aff, affOK := getString("affinity")
		if !budgetOK || !nOK || !affOK {
			return errs.New(errs.CodeFileParse, "policy: freq_hybrid_dynamic requires power_budget, num_cpu_max_perf, affinity")
		}
		affVal, err := affinityFromString(aff)
		if err != nil {
			return err
		}
		g.SetBudgetWatts(float64(budget))
		g.SetNumMaxPerf(n)
		g.SetAffinity(affVal)
	default:
		return errs.Newf(errs.CodeFileParse, "policy: unsupported mode %q", cfg.Mode)
	}

	return g.Validate()
}

// Validate checks the cross-field bounds table in spec.md §4.6.
func (g *GlobalPolicy) Validate() error {
	switch g.mode {
	case TDPBalanceStatic:
		if p := g.TDPPercent(); p < 0 || p > 100 {
			return errs.Newf(errs.CodeFileParse, "policy: tdp_percent %d out of [0,100]", p)
		}
	case FreqUniformStatic:
		if g.FrequencyMHz() < 0 {
			return errs.New(errs.CodeFileParse, "policy: cpu_mhz must be >= 0")
		}
	case FreqHybridStatic:
		if g.FrequencyMHz() < 0 {
			return errs.New(errs.CodeFileParse, "policy: cpu_mhz must be >= 0")
		}
		if g.NumMaxPerf() < 0 {
			return errs.New(errs.CodeFileParse, "policy: num_cpu_max_perf must be >= 0")
		}
		if a := g.AffinityValue(); a != AffinityCompact && a != AffinityScatter {
			return errs.New(errs.CodeFileParse, "policy: affinity must be compact or scatter")
		}
	case PerfBalanceDynamic, FreqUniformDynamic:
		if g.budget < 0 {
			return errs.New(errs.CodeFileParse, "policy: power_budget must be >= 0")
		}
	case FreqHybridDynamic:
		if g.budget < 0 {
			return errs.New(errs.CodeFileParse, "policy: power_budget must be >= 0")
		}
		if g.NumMaxPerf() < 0 {
			return errs.New(errs.CodeFileParse, "policy: num_cpu_max_perf must be >= 0")
		}
		if a := g.AffinityValue(); a != AffinityCompact && a != AffinityScatter {
			return errs.New(errs.CodeFileParse, "policy: affinity must be compact or scatter")
		}
	}
	return nil
}

func (g *GlobalPolicy) toJSON() ([]byte, error) {
	cfg := configJSON{Mode: g.mode.String(), Options: map[string]any{}}
	switch g.mode {
	case TDPBalanceStatic:
		cfg.Options["tdp_percent"] = g.TDPPercent()
	case FreqUniformStatic:
		cfg.Options["cpu_mhz"] = g.FrequencyMHz()
	case FreqHybridStatic:
		cfg.Options["cpu_mhz"] = g.FrequencyMHz()
		cfg.Options["num_cpu_max_perf"] = g.NumMaxPerf()
		cfg.Options["affinity"] = g.AffinityValue().String()
	case PerfBalanceDynamic, FreqUniformDynamic:
		cfg.Options["power_budget"] = int(g.budget)
	case FreqHybridDynamic:
		cfg.Options["power_budget"] = int(g.budget)
		cfg.Options["num_cpu_max_perf"] = g.NumMaxPerf()
		cfg.Options["affinity"] = g.AffinityValue().String()
	default:
		return nil, errs.Newf(errs.CodeFileParse, "policy: invalid mode for serialization: %s", g.mode)
	}
	return json.Marshal(cfg)
}

func modeFromString(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, errs.Newf(errs.CodeFileParse, "policy: unsupported mode %q", s)
}

// ParseMode parses one of the JSON mode strings spec.md §4.6 defines
// (e.g. "tdp_balance_static") into a Mode, for callers outside this
// package that accept a mode by name — pkg/cabi.SetMode, which
// cmd/powerplanectl's set-mode subcommand calls with its mode argument.
func ParseMode(s string) (Mode, error) { return modeFromString(s) }

// ParseAffinity parses "compact"/"scatter" into an Affinity, for the
// same external callers ParseMode serves.
func ParseAffinity(s string) (Affinity, error) { return affinityFromString(s) }

func affinityFromString(s string) (Affinity, error) {
	switch s {
	case "compact":
		return AffinityCompact, nil
	case "scatter":
		return AffinityScatter, nil
	default:
		return 0, errs.Newf(errs.CodeFileParse, "policy: unsupported affinity %q", s)
	}
}
