// ABOUTME: Round-trip clock offset samples and their per-wave aggregation
// ABOUTME: Picks the minimum round-trip sample as the wave's estimate
package estimate

// Sample is one offset measurement derived from a single round trip.
// Uncertainty is the observed round-trip time; lower is better.
type Sample struct {
	Offset      float64
	RemoteTime  float64
	Uncertainty float64
}

// Estimate is the clock correction published for callers
type Estimate struct {
	Offset      float64 // remote clock minus local clock, seconds
	RemoteTime  float64 // remote clock at the time of the measurement
	Uncertainty float64 // round-trip time of the measurement
}

// NewSample computes a sample from local send time t0, remote receipt time tr
// and local receive time t1, assuming symmetric path latency.
func NewSample(t0, tr, t1 float64) Sample {
	rtt := t1 - t0
	return Sample{
		Offset:      tr - t0 - rtt/2,
		RemoteTime:  tr,
		Uncertainty: rtt,
	}
}

// Aggregate reduces a wave's samples to one estimate. The sample with the
// smallest uncertainty wins and ties go to the earliest one. It reports false
// when there are no samples or fewer than minSamples.
func Aggregate(samples []Sample, minSamples int) (Estimate, bool) {
	if len(samples) == 0 || len(samples) < minSamples {
		return Estimate{}, false
	}

	best := samples[0]
	for _, s := range samples[1:] {
		if s.Uncertainty < best.Uncertainty {
			best = s
		}
	}

	return Estimate(best), true
}
