package domain

import "time"

// JobStatus enumerates the upload job lifecycle states.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobQueued     JobStatus = "queued"
	JobInProgress JobStatus = "in_progress"
	JobDone       JobStatus = "done"
	JobError      JobStatus = "error"
	JobErrorFinal JobStatus = "error_final"
)

// MaxUploadRetries is the hard bound on the retry counter. On reaching it
// the job transitions to error_final and the scanner ignores the row.
const MaxUploadRetries = 3

// UploadJob ties a spreadsheet row to a video-upload attempt and its retry
// state. Keyed by (sheet, row); created by the reconciler on first scan of a
// populated row.
type UploadJob struct {
	SheetID    string    `json:"sheet_id" db:"sheet_id"`
	Row        int       `json:"row" db:"sheet_row"`
	ChannelID  string    `json:"channel_id" db:"channel_id"`
	Status     JobStatus `json:"status" db:"status"`
	RetryCount int       `json:"retry_count" db:"retry_count"`
	LastError  string    `json:"last_error" db:"last_error"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the job is in an absorbing state.
func (j UploadJob) IsTerminal() bool {
	return j.Status == JobDone || j.Status == JobErrorFinal
}
