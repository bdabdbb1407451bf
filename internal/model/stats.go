package model

import "time"

// RunStats aggregates one scheduler run. Per-user failures become entries in
// Errors; they never abort the run.
type RunStats struct {
	Skipped        bool
	StartedAt      time.Time
	Duration       time.Duration
	UsersProcessed int
	Analyzed       int
	SpamDetected   int
	RepliesSent    int
	Deleted        int
	OpsProcessed   int
	Errors         []string
}

// QueueRunResult summarizes one drain of a user's offline operation queue.
type QueueRunResult struct {
	Processed int
	Succeeded int
	Failed    int
}
