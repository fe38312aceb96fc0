//go:build linux

package manycore

import (
	"github.com/nodepower/powerplane/pkg/errs"
	"github.com/nodepower/powerplane/pkg/platform"
)

// ReadSignal reads one telemetry signal, applying overflow
// compensation and unit scaling exactly as
// KNLPlatformImp::read_signal does per signal type.
func (m *Imp) ReadSignal(domain platform.Domain, index int, kind platform.SignalKind) (float64, error) {
	c, err := m.cpu(domain, index)
	if err != nil {
		return 0, err
	}

	switch kind {
	case platform.SignalPkgEnergy:
		raw, err := c.Read(offPkgEnergyStatus)
		if err != nil {
			return 0, err
		}
		return m.overflow.Compensate(m.energySlot(index, 0), 32, raw) * m.energyUnits, nil
	case platform.SignalPP0Energy:
		raw, err := c.Read(offPP0EnergyStatus)
		if err != nil {
			return 0, err
		}
		return m.overflow.Compensate(m.energySlot(index, 1), 32, raw) * m.energyUnits, nil
	case platform.SignalDRAMEnergy:
		raw, err := c.Read(offDRAMEnergyStatus)
		if err != nil {
			return 0, err
		}
		return m.overflow.Compensate(m.energySlot(index, 2), 32, raw) * m.dramEnergyUnits, nil
	case platform.SignalFrequency:
		raw, err := c.Read(offIA32PerfStatus)
		if err != nil {
			return 0, err
		}
		// bits [15:8] hold the current ratio; ratio*100 is MHz.
		return float64((raw>>8)&0xFF) * 100, nil
	case platform.SignalInstRetired:
		raw, err := c.Read(offPerfFixedCtr0)
		if err != nil {
			return 0, err
		}
		return m.overflow.Compensate(m.counterSlot(index, 1), 64, raw), nil
	case platform.SignalUnhaltedCoreCycles:
		raw, err := c.Read(offPerfFixedCtr1)
		if err != nil {
			return 0, err
		}
		return m.overflow.Compensate(m.counterSlot(index, 2), 64, raw) / float64(m.topo.NumCorePerTile), nil
	case platform.SignalUnhaltedRefCycles:
		raw, err := c.Read(offPerfFixedCtr2)
		if err != nil {
			return 0, err
		}
		return m.overflow.Compensate(m.counterSlot(index, 3), 64, raw), nil
	case platform.SignalReadBandwidth:
		raw0, err := c.Read(tileCtr0(index))
		if err != nil {
			return 0, err
		}
		raw1, err := c.Read(tileCtr1(index))
		if err != nil {
			return 0, err
		}
		v0 := m.overflow.Compensate(m.counterSlot(index, 4), 48, raw0)
		v1 := m.overflow.Compensate(m.counterSlot(index, 5), 48, raw1)
		return v0 + v1, nil
	default:
		return 0, errs.Newf(errs.CodeInvalid, "manycore: invalid signal type %v", kind)
	}
}

// WriteControl clamps value to the discovered hardware bound for kind
// and writes it, following KNLPlatformImp::write_control's masked
// power-limit encoding (raw | raw<<32 | lock-bits-mask) and the
// frequency control's ratio*0.1MHz-per-bit left-shifted-by-8 encoding.
func (m *Imp) WriteControl(domain platform.Domain, index int, kind platform.ControlKind, value float64) error {
	c, err := m.cpu(domain, index)
	if err != nil {
		return err
	}

	switch kind {
	case platform.ControlPkgPower:
		value = clamp(value, m.minPkgWatts, m.maxPkgWatts)
		raw := uint64(value * m.powerUnits)
		return c.Write(offPkgPowerLimit, raw|(raw<<32)|pkgPowerLimitMask)
	case platform.ControlPP0Power:
		value = clamp(value, m.minPP0Watts, m.maxPP0Watts)
		raw := uint64(value * m.powerUnits)
		return c.Write(offPP0PowerLimit, raw|(raw<<32)|pp0PowerLimitMask)
	case platform.ControlDRAMPower:
		value = clamp(value, m.minDramWatts, m.maxDramWatts)
		raw := uint64(value * m.powerUnits)
		return c.Write(offDRAMPowerLimit, raw|(raw<<32)|dramPowerLimitMask)
	case platform.ControlFrequency:
		raw := uint64(value*10) << 8
		return c.Write(offIA32PerfCtl, raw)
	default:
		return errs.Newf(errs.CodeInvalid, "manycore: invalid control type %v", kind)
	}
}

// PowerBounds returns the RAPL-discovered [min,max] watt range for
// kind, populated by MSRInitialize's raplInit.
func (m *Imp) PowerBounds(kind platform.ControlKind) (float64, float64, error) {
	switch kind {
	case platform.ControlPkgPower:
		return m.minPkgWatts, m.maxPkgWatts, nil
	case platform.ControlPP0Power:
		return m.minPP0Watts, m.maxPP0Watts, nil
	case platform.ControlDRAMPower:
		return m.minDramWatts, m.maxDramWatts, nil
	default:
		return 0, 0, errs.Newf(errs.CodeInvalid, "manycore: no power bounds for control type %v", kind)
	}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// energySlot/counterSlot compute a stable per-(domain,index,kind)
// overflow table slot, mirroring the source's offset_idx arithmetic in
// read_signal (device_index * m_num_energy_signal + k, and
// m_num_package*m_num_energy_signal + device_index*m_num_counter_signal + k).
func (m *Imp) energySlot(pkg, k int) int {
	return pkg*3 + k
}

func (m *Imp) counterSlot(tile, k int) int {
	return m.topo.NumPackage*3 + tile*6 + k
}
