//go:build linux

package manycore

// Fixed, non-tile-indexed MSR offsets, named identically to the keys
// in original_source/src/KNLPlatformImp.cpp's load_msr_offsets map.
const (
	offIA32PerfStatus     = 0x198
	offIA32PerfCtl        = 0x199
	offRAPLPowerUnit      = 0x606
	offPkgPowerLimit      = 0x610
	offPkgEnergyStatus    = 0x611
	offPkgPowerInfo       = 0x614
	offPP0PowerLimit      = 0x638
	offPP0EnergyStatus    = 0x639
	offDRAMPowerLimit     = 0x618
	offDRAMEnergyStatus   = 0x619
	offDRAMPowerInfo      = 0x61C
	offPerfFixedCtrCtrl   = 0x38D
	offPerfGlobalCtrl     = 0x38F
	offPerfGlobalOvfCtrl  = 0x390
	offPerfFixedCtr0      = 0x309
	offPerfFixedCtr1      = 0x30A
	offPerfFixedCtr2      = 0x30B
)

// tileBase is the first tile's C0_MSR_PMON_BOX_CTL offset, and
// tileStride is the constant spacing between consecutive tiles' block
// of CBo (Caching/Home Agent) registers.
//
// original_source/src/KNLPlatformImp.cpp hand-lists these as 38
// separate map entries (C0_MSR_PMON_BOX_CTL through
// C37_MSR_PMON_BOX_CTL, and five sibling register names per tile). The
// listed offsets are in fact C0 + i*0x0C for every i from 0 to 37
// without exception — this port derives them arithmetically instead of
// carrying the literal table, which also sidesteps the hand-written
// table's duplicate "C17_MSR_PMON_CTR1" key (DESIGN.md Open Question
// #1): a formula has no way to collide with itself.
const (
	tileBase   = 0x0E00
	tileStride = 0x0C
)

func tileOffset(tile int, regOffset int) int64 {
	return int64(tileBase + tile*tileStride + regOffset)
}

func tileBoxCtl(tile int) int64    { return tileOffset(tile, 0x00) }
func tileCtl0(tile int) int64      { return tileOffset(tile, 0x01) }
func tileCtl1(tile int) int64      { return tileOffset(tile, 0x02) }
func tileBoxFilter(tile int) int64 { return tileOffset(tile, 0x05) }
func tileCtr0(tile int) int64      { return tileOffset(tile, 0x08) }
func tileCtr1(tile int) int64      { return tileOffset(tile, 0x09) }
