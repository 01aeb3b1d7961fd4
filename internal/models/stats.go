package models

import "time"

// Stats is a point-in-time view of scheduler activity.
type Stats struct {
	StartedAt        time.Time
	CyclesRun        int
	FailedCycles     int
	SkippedTicks     int
	AlertsSent       int
	DispatchFailures int
	TrackedContracts int
	LastCycleAt      time.Time
	LastCycleErr     string
}

// Uptime returns the time elapsed since StartedAt.
func (s Stats) Uptime(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt)
}
