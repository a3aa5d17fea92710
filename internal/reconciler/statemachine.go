package reconciler

import (
	"fmt"

	"github.com/vortexstudio/yt-collector/internal/domain"
)

// Sheet status markers. The error markers appear in historical sheets in
// several spellings; all of them classify as retryable.
const (
	MarkerSuccess    = "✅ done"
	MarkerError      = "❌ Erro"
	MarkerErrorFinal = "❌ Erro Final"
)

// MarkerClass is what a scanned status cell means for reconciliation.
type MarkerClass int

const (
	// MarkerRetryable covers empty cells and every error spelling short
	// of the final one: the row is eligible for (re-)upload.
	MarkerRetryable MarkerClass = iota
	// MarkerTerminalError is the absorbing failure marker.
	MarkerTerminalError
	// MarkerDone is the success marker.
	MarkerDone
	// MarkerUnknown is any other cell content, for example a manual note.
	MarkerUnknown
)

// ClassifyMarker buckets a raw status cell. Matching is exact: operators
// sometimes leave notes in the column and those must not trigger uploads.
func ClassifyMarker(cell string) MarkerClass {
	switch cell {
	case "", "Erro", "erro", "error", MarkerError:
		return MarkerRetryable
	case "Erro Final", "error_final", MarkerErrorFinal:
		return MarkerTerminalError
	case MarkerSuccess:
		return MarkerDone
	default:
		return MarkerUnknown
	}
}

// MarkerFor returns the sheet marker that reflects a job state, empty
// when the state has no marker of its own.
func MarkerFor(status domain.JobStatus) string {
	switch status {
	case domain.JobDone:
		return MarkerSuccess
	case domain.JobError:
		return MarkerError
	case domain.JobErrorFinal:
		return MarkerErrorFinal
	}
	return ""
}

// transitions is the allowed edge set of the job lifecycle. done and
// error_final have no outgoing edges.
var transitions = map[domain.JobStatus][]domain.JobStatus{
	domain.JobPending:    {domain.JobQueued},
	domain.JobQueued:     {domain.JobInProgress},
	domain.JobInProgress: {domain.JobDone, domain.JobError, domain.JobErrorFinal},
	domain.JobError:      {domain.JobQueued},
}

// CanTransition reports whether the lifecycle permits moving a job from
// one state to another.
func CanTransition(from, to domain.JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves a job to a new state, rejecting edges outside the
// lifecycle. Terminal states absorb every further event.
func Transition(j *domain.UploadJob, to domain.JobStatus) error {
	if j.IsTerminal() {
		return fmt.Errorf("job %s row %d is terminal in state %s", j.SheetID, j.Row, j.Status)
	}
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("job %s row %d cannot move %s -> %s", j.SheetID, j.Row, j.Status, to)
	}
	j.Status = to
	return nil
}

// RecordFailure applies one failed upload attempt. Only a job that is
// actually in flight can fail. Below the retry bound the job parks in
// error and stays eligible for requeue; on the last allowed attempt it
// moves to error_final and the counter saturates.
func RecordFailure(j *domain.UploadJob, msg string) error {
	if j.Status != domain.JobInProgress {
		return fmt.Errorf("job %s row %d cannot record a failure from state %s", j.SheetID, j.Row, j.Status)
	}
	j.LastError = msg
	if j.RetryCount >= domain.MaxUploadRetries-1 {
		j.RetryCount = domain.MaxUploadRetries
		j.Status = domain.JobErrorFinal
		return nil
	}
	j.RetryCount++
	j.Status = domain.JobError
	return nil
}

// RecordSuccess marks one successful upload.
func RecordSuccess(j *domain.UploadJob) error {
	return Transition(j, domain.JobDone)
}
