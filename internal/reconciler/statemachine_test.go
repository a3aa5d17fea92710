package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexstudio/yt-collector/internal/domain"
)

func TestClassifyMarker(t *testing.T) {
	tests := []struct {
		cell string
		want MarkerClass
	}{
		{"", MarkerRetryable},
		{"Erro", MarkerRetryable},
		{"erro", MarkerRetryable},
		{"error", MarkerRetryable},
		{"❌ Erro", MarkerRetryable},
		{"❌ Erro Final", MarkerTerminalError},
		{"Erro Final", MarkerTerminalError},
		{"error_final", MarkerTerminalError},
		{"✅ done", MarkerDone},
		{"aguardando revisão", MarkerUnknown},
		{"ERRO", MarkerUnknown},
		{"done", MarkerUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyMarker(tt.cell), "cell %q", tt.cell)
	}
}

func TestTransitionRejectsIllegalEdges(t *testing.T) {
	j := &domain.UploadJob{SheetID: "s1", Row: 5, Status: domain.JobPending}

	require.Error(t, Transition(j, domain.JobDone), "pending cannot jump to done")
	require.NoError(t, Transition(j, domain.JobQueued))
	require.NoError(t, Transition(j, domain.JobInProgress))
	require.NoError(t, Transition(j, domain.JobDone))
}

func TestTerminalStatesAbsorbEverything(t *testing.T) {
	done := &domain.UploadJob{SheetID: "s1", Row: 5, Status: domain.JobDone}
	assert.Error(t, Transition(done, domain.JobQueued))
	assert.Error(t, RecordFailure(done, "late failure"))
	assert.Equal(t, domain.JobDone, done.Status)

	final := &domain.UploadJob{SheetID: "s1", Row: 6, Status: domain.JobErrorFinal, RetryCount: domain.MaxUploadRetries}
	assert.Error(t, Transition(final, domain.JobQueued))
	assert.Error(t, RecordFailure(final, "ignored"))
	assert.Equal(t, domain.MaxUploadRetries, final.RetryCount, "saturated counter must not move")
}

func TestRecordFailureRetryProgression(t *testing.T) {
	j := &domain.UploadJob{SheetID: "s1", Row: 7, Status: domain.JobInProgress}

	require.NoError(t, RecordFailure(j, "upload timed out"))
	assert.Equal(t, domain.JobError, j.Status)
	assert.Equal(t, 1, j.RetryCount)
	assert.Equal(t, MarkerError, MarkerFor(j.Status))

	j.Status = domain.JobInProgress
	require.NoError(t, RecordFailure(j, "upload timed out"))
	assert.Equal(t, domain.JobError, j.Status)
	assert.Equal(t, 2, j.RetryCount)

	j.Status = domain.JobInProgress
	require.NoError(t, RecordFailure(j, "upload timed out"))
	assert.Equal(t, domain.JobErrorFinal, j.Status)
	assert.Equal(t, domain.MaxUploadRetries, j.RetryCount)
	assert.Equal(t, MarkerErrorFinal, MarkerFor(j.Status))
	assert.True(t, j.IsTerminal())
}

func TestRecordFailureRequiresInFlightJob(t *testing.T) {
	pending := &domain.UploadJob{SheetID: "s1", Row: 9, Status: domain.JobPending}
	require.Error(t, RecordFailure(pending, "never started"))
	assert.Equal(t, domain.JobPending, pending.Status)
	assert.Equal(t, 0, pending.RetryCount)

	queued := &domain.UploadJob{SheetID: "s1", Row: 10, Status: domain.JobQueued, RetryCount: 1}
	require.Error(t, RecordFailure(queued, "never started"))
	assert.Equal(t, domain.JobQueued, queued.Status)
	assert.Equal(t, 1, queued.RetryCount)
}

func TestRecordSuccess(t *testing.T) {
	j := &domain.UploadJob{SheetID: "s1", Row: 8, Status: domain.JobInProgress, RetryCount: 1}
	require.NoError(t, RecordSuccess(j))
	assert.Equal(t, domain.JobDone, j.Status)
	assert.Equal(t, MarkerSuccess, MarkerFor(j.Status))
}
