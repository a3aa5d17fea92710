package domain

import "time"

// RunStatus enumerates the lifecycle states of a collection run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunOK        RunStatus = "ok"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// CollectionRun is one end-to-end daily cycle across all monetized channels.
// Opened at tick time with status running, finalized with counts.
type CollectionRun struct {
	RunID     string     `json:"run_id" db:"run_id"`
	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at" db:"ended_at"`
	Status    RunStatus  `json:"status" db:"status"`
	Attempted int        `json:"attempted" db:"attempted"`
	OK        int        `json:"ok" db:"ok"`
	Failed    int        `json:"failed" db:"failed"`
	Skipped   int        `json:"skipped" db:"skipped"`
}

// ChannelOutcome is the per-channel result recorded into collection_log.
// A resumed run only processes channels without a done outcome for the day.
type ChannelOutcome string

const (
	OutcomeDone    ChannelOutcome = "done"
	OutcomeFailed  ChannelOutcome = "failed"
	OutcomeSkipped ChannelOutcome = "skipped"
)
