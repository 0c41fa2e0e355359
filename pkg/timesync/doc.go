// ABOUTME: Time synchronization package
// ABOUTME: Estimates the offset between the local clock and a remote publisher
// Package timesync estimates how far a remote publisher's clock is ahead of
// the local one.
//
// A Receiver sends waves of UDP probes in the background, keeps the sample
// with the smallest round trip of each wave and publishes it as the current
// estimate. Reads block only until the first estimate after construction or
// after a connection recovery.
//
// Example:
//
//	conn := conn.NewStatic(addr)
//	r, err := timesync.New(conn, timesync.DefaultConfig())
//	offset, err := r.TimeCorrection(timesync.DefaultTimeout)
//	remoteNow := timesync.LocalClock() + offset
package timesync
