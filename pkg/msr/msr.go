//go:build linux

// Package msr opens the Linux msr kernel module's per-CPU device files
// (/dev/cpu/N/msr) and exposes raw Pread/Pwrite access at 64-bit MSR
// offsets. It is the lowest layer of the platform stack: everything
// model-specific (which offset holds which counter, what unit scaling
// applies) lives one layer up in platform/manycore.
package msr

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/nodepower/powerplane/pkg/errs"
	"golang.org/x/sys/unix"
)

// devicePath mirrors the teacher's path-templating style in
// pkg/system/proc (filepath.Join over a fixed /sys/fs/cgroup root),
// generalized to /dev/cpu/<n>/msr.
func devicePath(cpu int) string {
	return fmt.Sprintf("/dev/cpu/%d/msr", cpu)
}

// CPU is one open per-CPU MSR device file.
type CPU struct {
	cpu int
	fd  int
}

// Open opens the MSR device file for logical CPU index cpu.
//
// original_source/src/KNLPlatformImp.cpp opens one fd per CPU at
// msr_initialize() and keeps it for the process lifetime; this mirrors
// that by returning a long-lived *CPU the caller Closes once, rather
// than an os.File opened/closed per read (that cost matters here: a
// tree controller samples every CPU's RAPL counters every tick).
func Open(cpu int) (*CPU, error) {
	path := devicePath(cpu)
	if _, err := os.Stat(path); err != nil {
		return nil, errs.Wrap(errs.CodeRuntime, fmt.Errorf("msr: %s: %w", path, err))
	}
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, errs.Wrap(errs.CodeRuntime, fmt.Errorf("msr: open %s: %w", path, err))
	}
	return &CPU{cpu: cpu, fd: fd}, nil
}

// Read returns the 64-bit value at offset.
func (c *CPU) Read(offset int64) (uint64, error) {
	var buf [8]byte
	n, err := unix.Pread(c.fd, buf[:], offset)
	if err != nil {
		return 0, errs.Wrap(errs.CodeRuntime, fmt.Errorf("msr: pread cpu %d offset %#x: %w", c.cpu, offset, err))
	}
	if n != 8 {
		return 0, errs.Newf(errs.CodeRuntime, "msr: short read on cpu %d offset %#x: got %d bytes", c.cpu, offset, n)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Write writes a 64-bit value at offset.
func (c *CPU) Write(offset int64, value uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	n, err := unix.Pwrite(c.fd, buf[:], offset)
	if err != nil {
		return errs.Wrap(errs.CodeRuntime, fmt.Errorf("msr: pwrite cpu %d offset %#x: %w", c.cpu, offset, err))
	}
	if n != 8 {
		return errs.Newf(errs.CodeRuntime, "msr: short write on cpu %d offset %#x: wrote %d bytes", c.cpu, offset, n)
	}
	return nil
}

// WriteMasked reads the current value at offset, replaces the bits
// selected by mask with value<<shift, and writes the result back.
// This is the read-modify-write shape
// original_source/src/KNLPlatformImp.cpp uses for every power-limit
// and uncore-control register — none of them are full-register writes.
func (c *CPU) WriteMasked(offset int64, shift uint, mask uint64, value uint64) error {
	cur, err := c.Read(offset)
	if err != nil {
		return err
	}
	next := (cur &^ mask) | ((value << shift) & mask)
	return c.Write(offset, next)
}

// CPUIndex returns the logical CPU this handle was opened for.
func (c *CPU) CPUIndex() int { return c.cpu }

// Close releases the device file descriptor.
func (c *CPU) Close() error {
	if err := unix.Close(c.fd); err != nil {
		return errs.Wrap(errs.CodeRuntime, err)
	}
	return nil
}
