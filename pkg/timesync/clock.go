// ABOUTME: Local monotonic clock used to stamp probes
// ABOUTME: Seconds since an arbitrary per-process origin
package timesync

import "time"

var origin = time.Now()

// LocalClock returns monotonic seconds since process start. Only differences
// and offsets between clocks are meaningful.
func LocalClock() float64 {
	return time.Since(origin).Seconds()
}
