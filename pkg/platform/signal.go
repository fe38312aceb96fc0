// Package platform is the model-independent facade over a model-specific
// Imp (spec.md §4.1/§4.2): it exposes topology-aware telemetry and
// actuation without knowing which MSR table or RAPL unit scaling a given
// CPU model uses.
package platform

// SignalKind names a typed telemetry signal a PlatformImp can read.
type SignalKind int

const (
	SignalPkgEnergy SignalKind = iota
	SignalPP0Energy
	SignalDRAMEnergy
	SignalFrequency
	SignalInstRetired
	SignalUnhaltedCoreCycles
	SignalUnhaltedRefCycles
	SignalReadBandwidth
)

// ControlKind names a typed actuation a PlatformImp can write.
type ControlKind int

const (
	ControlPkgPower ControlKind = iota
	ControlPP0Power
	ControlDRAMPower
	ControlFrequency
)

// Domain names the granularity a signal or control applies at
// (spec.md GLOSSARY "Domain").
type Domain int

const (
	DomainCPU Domain = iota
	DomainCore
	DomainTile
	DomainPackage
)

// ControlType distinguishes the two actuation surfaces Platform.NumDomain
// reports over (spec.md §4.2): package power (1 per node) or counter
// domains (one per tile).
type ControlType int

const (
	ControlTypePackagePower ControlType = iota
	ControlTypeCounter
)
