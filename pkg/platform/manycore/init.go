//go:build linux

package manycore

import (
	"math"

	"github.com/nodepower/powerplane/pkg/errs"
	"github.com/nodepower/powerplane/pkg/msr"
	"github.com/nodepower/powerplane/pkg/platform"
)

// MSRInitialize opens one MSR handle per logical CPU, discovers RAPL
// units and power bounds, and programs the uncore and fixed counters —
// the Go equivalent of KNLPlatformImp::msr_initialize.
func (m *Imp) MSRInitialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.topo.numLogicalCPU()
	m.cpus = make([]*msr.CPU, 0, n)
	for i := 0; i < n; i++ {
		c, err := msr.Open(i)
		if err != nil {
			for _, opened := range m.cpus {
				_ = opened.Close()
			}
			return err
		}
		m.cpus = append(m.cpus, c)
	}

	// 3 overflow-compensated energy signals per package, plus 6
	// overflow-compensated counter slots per tile (inst-retired,
	// unhalted-core, unhalted-ref, and a 2-slot read-bandwidth pair —
	// see energySlot/counterSlot), matching the shape of
	// m_num_energy_signal * m_num_package + (m_num_counter_signal +
	// M_EXTRA_SIGNAL) * m_num_tile.
	numSignal := 3*m.topo.NumPackage + 6*m.topo.NumTile
	m.overflow = platform.NewOverflowTable(numSignal)

	if err := m.raplInit(); err != nil {
		return err
	}
	m.cboCountersInit()
	m.fixedCountersInit()
	return nil
}

// MSRReset zeros power limits and uncore/fixed counters, leaving
// fixed-counter programming intact — KNLPlatformImp::msr_reset.
func (m *Imp) MSRReset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.raplReset(); err != nil {
		return err
	}
	m.cboCountersReset()
	return m.fixedCountersReset()
}

// raplInit discovers energy/power units from package 0, verifies every
// other package reports the same units and power bounds (the source
// treats disagreement as fatal — inconsistent units would silently
// corrupt every energy reading downstream), then clears power limits.
func (m *Imp) raplInit() error {
	tmp, err := m.readPackageMSR(0, offRAPLPowerUnit)
	if err != nil {
		return err
	}
	m.energyUnits = math.Pow(0.5, float64((tmp>>8)&0x1F))
	m.powerUnits = math.Pow(2, float64(tmp&0xF))

	for i := 1; i < m.topo.NumPackage; i++ {
		tmp, err := m.readPackageMSR(i, offRAPLPowerUnit)
		if err != nil {
			return err
		}
		energy := math.Pow(0.5, float64((tmp>>8)&0x1F))
		power := math.Pow(2, float64(tmp&0xF))
		if energy != m.energyUnits || power != m.powerUnits {
			return errs.New(errs.CodeRuntime, "manycore: detected inconsistent power units among packages")
		}
	}

	tmp, err = m.readPackageMSR(0, offPkgPowerInfo)
	if err != nil {
		return err
	}
	m.minPkgWatts = float64((tmp>>16)&0x7fff) / m.powerUnits
	m.maxPkgWatts = float64((tmp>>32)&0x7fff) / m.powerUnits

	tmp, err = m.readPackageMSR(0, offDRAMPowerInfo)
	if err != nil {
		return err
	}
	m.minDramWatts = float64((tmp>>16)&0x7fff) / m.powerUnits
	m.maxDramWatts = float64((tmp>>32)&0x7fff) / m.powerUnits

	for i := 1; i < m.topo.NumPackage; i++ {
		pkgInfo, err := m.readPackageMSR(i, offPkgPowerInfo)
		if err != nil {
			return err
		}
		pkgMin := float64((pkgInfo>>16)&0x7fff) / m.powerUnits
		pkgMax := float64((pkgInfo>>32)&0x7fff) / m.powerUnits
		if pkgMin != m.minPkgWatts || pkgMax != m.maxPkgWatts {
			return errs.New(errs.CodeRuntime, "manycore: detected inconsistent pkg power bounds among packages")
		}
		dramInfo, err := m.readPackageMSR(i, offDRAMPowerInfo)
		if err != nil {
			return err
		}
		dramMin := float64((dramInfo>>16)&0x7fff) / m.powerUnits
		dramMax := float64((dramInfo>>32)&0x7fff) / m.powerUnits
		if dramMin != m.minDramWatts || dramMax != m.maxDramWatts {
			return errs.New(errs.CodeRuntime, "manycore: detected inconsistent dram power bounds among packages")
		}
	}
	m.minPP0Watts, m.maxPP0Watts = m.minPkgWatts, m.maxPkgWatts

	return m.raplReset()
}

func (m *Imp) raplReset() error {
	for i := 0; i < m.topo.NumPackage; i++ {
		if err := m.writePackageMSR(i, offPkgPowerLimit, 0); err != nil {
			return err
		}
		if err := m.writePackageMSR(i, offPP0PowerLimit, 0); err != nil {
			return err
		}
		if err := m.writePackageMSR(i, offDRAMPowerLimit, 0); err != nil {
			return err
		}
	}
	return nil
}

// cboCountersInit programs each tile's CBo box to count L2 misses
// (counter 0) and L2 prefetches (counter 1), following the exact
// freeze/enable/program/reset/unfreeze ordering in
// KNLPlatformImp::cbo_counters_init — the ordering matters: programming
// an event select before the box is frozen can let a stale count leak
// into the first sample.
func (m *Imp) cboCountersInit() {
	for i := 0; i < m.topo.NumTile; i++ {
		c := m.tileCPU(i)
		box, _ := c.Read(tileBoxCtl(i))
		_ = c.Write(tileBoxCtl(i), box|boxFrzEn)
		box, _ = c.Read(tileBoxCtl(i))
		_ = c.Write(tileBoxCtl(i), box|boxFrz)

		ctl0, _ := c.Read(tileCtl0(i))
		_ = c.Write(tileCtl0(i), ctl0|ctrEn)
		ctl1, _ := c.Read(tileCtl1(i))
		_ = c.Write(tileCtl1(i), ctl1|ctrEn)

		ctl0, _ = c.Read(tileCtl0(i))
		_ = c.Write(tileCtl0(i), ctl0|l2ReqMissEvSel|l2ReqMissUmask)
		ctl1, _ = c.Read(tileCtl1(i))
		_ = c.Write(tileCtl1(i), ctl1|l2PrefetchEvSel|l2PrefetchUmask)

		box, _ = c.Read(tileBoxCtl(i))
		_ = c.Write(tileBoxCtl(i), box|rstCtrs)
		box, _ = c.Read(tileBoxCtl(i))
		_ = c.Write(tileBoxCtl(i), box&^uint64(boxFrz))
		box, _ = c.Read(tileBoxCtl(i))
		_ = c.Write(tileBoxCtl(i), box&^uint64(boxFrzEn))
	}
}

func (m *Imp) cboCountersReset() {
	for i := 0; i < m.topo.NumTile; i++ {
		c := m.tileCPU(i)
		box, _ := c.Read(tileBoxCtl(i))
		_ = c.Write(tileBoxCtl(i), box|rstCtrs)
	}
}

func (m *Imp) fixedCountersInit() {
	for i := 0; i < m.topo.NumTile; i++ {
		c := m.tileCPU(i)
		_ = c.Write(offPerfFixedCtrCtrl, 0x0333)
		_ = c.Write(offPerfGlobalCtrl, 0x700000003)
		_ = c.Write(offPerfGlobalOvfCtrl, 0x0)
	}
}

func (m *Imp) fixedCountersReset() error {
	for i := 0; i < m.topo.NumTile; i++ {
		c := m.tileCPU(i)
		if err := c.Write(offPerfFixedCtr0, 0); err != nil {
			return err
		}
		if err := c.Write(offPerfFixedCtr1, 0); err != nil {
			return err
		}
		if err := c.Write(offPerfFixedCtr2, 0); err != nil {
			return err
		}
	}
	return nil
}

func (m *Imp) tileCPU(tile int) *msr.CPU {
	return m.cpus[tile*m.topo.cpuPerTile()]
}

func (m *Imp) readPackageMSR(pkg int, offset int64) (uint64, error) {
	return m.cpus[pkg*m.topo.cpuPerPackage()].Read(offset)
}

func (m *Imp) writePackageMSR(pkg int, offset int64, value uint64) error {
	return m.cpus[pkg*m.topo.cpuPerPackage()].Write(offset, value)
}
