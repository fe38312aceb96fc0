package platform

// AffinitySelector names which CPUs keep max-performance turbo under a
// manual_frequency policy (spec.md GLOSSARY "Affinity").
type AffinitySelector int

const (
	// AffinityCompact packs the max-perf CPUs into the lowest-indexed
	// slots, e.g. numMaxPerf=2 of 8 -> {0,1}.
	AffinityCompact AffinitySelector = iota
	// AffinityScatter spreads the max-perf CPUs evenly across the
	// index range, e.g. numMaxPerf=2 of 8 -> {0,4}.
	AffinityScatter
)

// selectMaxPerf returns a numCPU-length membership table marking which
// CPU indices keep uncapped turbo under the given affinity.
//
// Grounded on spec.md §4.2's affinity description: Compact is a
// contiguous low-index prefix, Scatter is an evenly strided subset.
func selectMaxPerf(numCPU, numMaxPerf int, affinity AffinitySelector) []bool {
	out := make([]bool, numCPU)
	if numMaxPerf <= 0 || numCPU == 0 {
		return out
	}
	if numMaxPerf >= numCPU {
		for i := range out {
			out[i] = true
		}
		return out
	}
	switch affinity {
	case AffinityCompact:
		for i := 0; i < numMaxPerf; i++ {
			out[i] = true
		}
	case AffinityScatter:
		stride := float64(numCPU) / float64(numMaxPerf)
		for i := 0; i < numMaxPerf; i++ {
			idx := int(float64(i) * stride)
			if idx >= numCPU {
				idx = numCPU - 1
			}
			out[idx] = true
		}
	}
	return out
}
