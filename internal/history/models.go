package history

import "time"

// Run statuses recorded in the database.
const (
	StatusInProgress = "in_progress"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusRejected   = "rejected"
	StatusSkipped    = "skipped"
)

// RunRecord is one deployment run against one target.
type RunRecord struct {
	ID              int64
	RunID           string
	Target          string
	Branch          string
	Ref             string
	Status          string
	StartedAt       time.Time
	CompletedAt     *time.Time
	DurationSeconds *float64
	CommitHash      *string
	ErrorMessage    *string
}

// StepRecord is the audit record for one step within a run.
type StepRecord struct {
	RunID           string
	Position        int
	Name            string
	Status          string // succeeded, failed, skipped
	ExitCode        *int
	Output          string
	DurationSeconds *float64
}

// TargetStatus bundles the latest run and recent history for one target.
type TargetStatus struct {
	Target     string      `json:"target"`
	LatestRun  *RunRecord  `json:"latest_run,omitempty"`
	RecentRuns []RunRecord `json:"recent_runs"`
}
