//go:build linux || darwin

package handler

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// cpuTracker turns cumulative rusage counters into a percentage between polls.
type cpuTracker struct {
	mu       sync.Mutex
	lastCPU  time.Duration
	lastWall time.Time
}

var serverCPU cpuTracker

// percent returns the share of one core used since the previous call, in
// [0, 100]. The first call only primes the tracker and returns 0.
func (t *cpuTracker) percent(cpu time.Duration, now time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	primed := !t.lastWall.IsZero()
	cpuDelta, wallDelta := cpu-t.lastCPU, now.Sub(t.lastWall)
	t.lastCPU, t.lastWall = cpu, now
	if !primed || wallDelta <= 0 {
		return 0
	}

	pct := float64(cpuDelta) / float64(wallDelta) * 100
	return min(max(pct, 0), 100)
}

func rusageTime(who int) (time.Duration, bool) {
	var ru unix.Rusage
	if err := unix.Getrusage(who, &ru); err != nil {
		return 0, false
	}
	return time.Duration(ru.Utime.Nano() + ru.Stime.Nano()), true
}

// sampleCPU reports server CPU since the last poll and the total CPU time of
// extractor processes that have exited. Running extractors are not counted
// until they are reaped.
func sampleCPU() cpuSample {
	var s cpuSample
	if self, ok := rusageTime(unix.RUSAGE_SELF); ok {
		s.ServerPercent = serverCPU.percent(self, time.Now())
	}
	if children, ok := rusageTime(unix.RUSAGE_CHILDREN); ok {
		s.ExtractorSeconds = children.Seconds()
	}
	return s
}
