// Package wire defines the fixed-layout sample and policy messages
// exchanged across tree edges. Every rank must agree on the exact byte
// size of these messages (spec.md §6 "sizes must be identical on every
// rank"), so marshaling is explicit rather than left to a
// platform-dependent struct layout.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SampleMessage is one child's contribution for one region in one
// control period.
type SampleMessage struct {
	RegionID  uint64
	Runtime   float64
	Progress  float64
	Energy    float64
	Frequency float64
}

// SampleMessageSize is the encoded byte size of SampleMessage: one
// uint64 plus four float64 fields, 8 bytes each.
const SampleMessageSize = 8 * 5

// MarshalBinary encodes the message in a fixed 40-byte little-endian
// layout.
func (m SampleMessage) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SampleMessageSize)
	binary.LittleEndian.PutUint64(buf[0:8], m.RegionID)
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(m.Runtime))
	binary.LittleEndian.PutUint64(buf[16:24], math.Float64bits(m.Progress))
	binary.LittleEndian.PutUint64(buf[24:32], math.Float64bits(m.Energy))
	binary.LittleEndian.PutUint64(buf[32:40], math.Float64bits(m.Frequency))
	return buf, nil
}

// UnmarshalBinary decodes a SampleMessage from exactly SampleMessageSize
// bytes.
func (m *SampleMessage) UnmarshalBinary(buf []byte) error {
	if len(buf) != SampleMessageSize {
		return fmt.Errorf("wire: sample message wants %d bytes, got %d", SampleMessageSize, len(buf))
	}
	m.RegionID = binary.LittleEndian.Uint64(buf[0:8])
	m.Runtime = math.Float64frombits(binary.LittleEndian.Uint64(buf[8:16]))
	m.Progress = math.Float64frombits(binary.LittleEndian.Uint64(buf[16:24]))
	m.Energy = math.Float64frombits(binary.LittleEndian.Uint64(buf[24:32]))
	m.Frequency = math.Float64frombits(binary.LittleEndian.Uint64(buf[32:40]))
	return nil
}

// PolicyMessage is the downward policy record. Target carries per-child
// budgets or frequencies; its length is the fanout of the level
// receiving the policy and is therefore encoded explicitly (NumSample
// doubles as the target count on the wire, per spec.md §3).
type PolicyMessage struct {
	Mode         int32
	PowerBudget  float64
	Flags        uint64
	NumSample    int32
	Target       []float64
}

// MarshalBinary encodes the fixed header (mode, budget, flags,
// num_sample) followed by len(Target) float64 values.
func (m PolicyMessage) MarshalBinary() ([]byte, error) {
	if int(m.NumSample) != len(m.Target) {
		return nil, fmt.Errorf("wire: policy message num_sample=%d does not match len(target)=%d", m.NumSample, len(m.Target))
	}
	const headerSize = 4 + 8 + 8 + 4
	buf := make([]byte, headerSize+8*len(m.Target))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.Mode))
	binary.LittleEndian.PutUint64(buf[4:12], math.Float64bits(m.PowerBudget))
	binary.LittleEndian.PutUint64(buf[12:20], m.Flags)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(m.NumSample))
	off := headerSize
	for _, t := range m.Target {
		binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(t))
		off += 8
	}
	return buf, nil
}

// UnmarshalBinary decodes a PolicyMessage previously produced by
// MarshalBinary.
func (m *PolicyMessage) UnmarshalBinary(buf []byte) error {
	const headerSize = 4 + 8 + 8 + 4
	if len(buf) < headerSize {
		return fmt.Errorf("wire: policy message header wants %d bytes, got %d", headerSize, len(buf))
	}
	m.Mode = int32(binary.LittleEndian.Uint32(buf[0:4]))
	m.PowerBudget = math.Float64frombits(binary.LittleEndian.Uint64(buf[4:12]))
	m.Flags = binary.LittleEndian.Uint64(buf[12:20])
	m.NumSample = int32(binary.LittleEndian.Uint32(buf[20:24]))
	want := headerSize + 8*int(m.NumSample)
	if len(buf) != want {
		return fmt.Errorf("wire: policy message wants %d bytes for num_sample=%d, got %d", want, m.NumSample, len(buf))
	}
	m.Target = make([]float64, m.NumSample)
	off := headerSize
	for i := range m.Target {
		m.Target[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[off : off+8]))
		off += 8
	}
	return nil
}

// Clone returns a deep copy, so a cached message can be handed to
// multiple children without aliasing Target.
func (m PolicyMessage) Clone() PolicyMessage {
	out := m
	out.Target = append([]float64(nil), m.Target...)
	return out
}
