package journal

import "time"

// Status is the lifecycle stage of a pass as stored in the journal.
type Status string

const (
	StatusCreated    Status = "created"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusSkipped    Status = "skipped" // another pass held the engine
	StatusFailed     Status = "failed"
)

// PassRecord is one reminder pass, queued or run directly.
type PassRecord struct {
	ID         string // asynq task id, or a uuid for direct runs
	Trigger    string // cron, interval, manual, startup
	Queue      string
	Status     Status
	ErrorMsg   *string
	ReportJSON *string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}
