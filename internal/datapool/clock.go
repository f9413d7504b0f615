package datapool

import "time"

// startTime anchors the monotonic clock fields stamped into each Header.
// Since Go's monotonic reading is only meaningful relative to another
// time.Time taken from the same process, we record the process start
// and report elapsed time since then rather than an absolute monotonic
// value — good enough for detecting which of two snapshots is newer,
// which is all the header fields are used for.
var startTime = time.Now()

func monotonicSeconds() int64 {
	return int64(time.Since(startTime) / time.Second)
}

func monotonicNanos() int64 {
	return int64(time.Since(startTime) % time.Second)
}
