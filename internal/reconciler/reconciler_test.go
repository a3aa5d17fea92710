package reconciler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexstudio/yt-collector/internal/config"
	"github.com/vortexstudio/yt-collector/internal/domain"
)

type fakeSheets struct {
	rows       map[string][][]string
	writes     []string
	failWrites bool
	failReads  bool
	statusCol  int
}

func (f *fakeSheets) ReadRows(_ context.Context, spreadsheetID string) ([][]string, error) {
	if f.failReads {
		return nil, errors.New("sheets unavailable")
	}
	return f.rows[spreadsheetID], nil
}

func (f *fakeSheets) WriteStatus(_ context.Context, spreadsheetID string, row int, status string) error {
	if f.failWrites {
		return errors.New("sheets unavailable")
	}
	f.writes = append(f.writes, fmt.Sprintf("%s/%d=%s", spreadsheetID, row, status))
	return nil
}

func (f *fakeSheets) StatusColumn() int { return f.statusCol }

type fakeJobs struct {
	jobs map[string]*domain.UploadJob
}

func jobKey(sheetID string, row int) string { return fmt.Sprintf("%s/%d", sheetID, row) }

func newFakeJobs() *fakeJobs { return &fakeJobs{jobs: make(map[string]*domain.UploadJob)} }

func (f *fakeJobs) Get(_ context.Context, sheetID string, row int) (*domain.UploadJob, error) {
	if j, ok := f.jobs[jobKey(sheetID, row)]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeJobs) Upsert(_ context.Context, j *domain.UploadJob) error {
	cp := *j
	f.jobs[jobKey(j.SheetID, j.Row)] = &cp
	return nil
}

func (f *fakeJobs) UpdateStatus(_ context.Context, sheetID string, row int, status domain.JobStatus, retryCount int, lastError string) error {
	j, ok := f.jobs[jobKey(sheetID, row)]
	if !ok {
		return errors.New("no such job")
	}
	j.Status = status
	j.RetryCount = retryCount
	j.LastError = lastError
	return nil
}

type fakeChannels struct{ channels []domain.Channel }

func (f *fakeChannels) ListActive(_ context.Context) ([]domain.Channel, error) {
	return f.channels, nil
}

// statusRow builds a sheet row with a title in column A and the given
// marker in the status column.
func statusRow(col int, title, marker string) []string {
	row := make([]string, col)
	row[0] = title
	row[col-1] = marker
	return row
}

func setupReconciler(t *testing.T, sheetRows [][]string) (*Reconciler, *fakeSheets, *fakeJobs) {
	t.Helper()
	const statusCol = 15
	sheets := &fakeSheets{
		rows:      map[string][][]string{"sheet-1": sheetRows},
		statusCol: statusCol,
	}
	jobs := newFakeJobs()
	channels := &fakeChannels{channels: []domain.Channel{
		{ChannelID: "UCabc", ChannelName: "abc", Active: true, SpreadsheetID: "sheet-1"},
	}}
	cfg := config.ReconcilerConfig{ScanIntervalSeconds: 300, RowWindow: 50}
	return New(sheets, jobs, channels, cfg), sheets, jobs
}

func TestScanAdoptsNewRows(t *testing.T) {
	const col = 15
	r, _, jobs := setupReconciler(t, [][]string{
		{"Título", "Link"}, // header
		statusRow(col, "video one", ""),
		statusRow(col, "video two", "✅ done"),
		statusRow(col, "video three", "❌ Erro Final"),
		statusRow(col, "video four", "nota do operador"),
	})

	require.NoError(t, r.ScanOnce(context.Background()))

	j2, _ := jobs.Get(context.Background(), "sheet-1", 2)
	require.NotNil(t, j2)
	assert.Equal(t, domain.JobQueued, j2.Status)

	j3, _ := jobs.Get(context.Background(), "sheet-1", 3)
	require.NotNil(t, j3)
	assert.Equal(t, domain.JobDone, j3.Status)

	j4, _ := jobs.Get(context.Background(), "sheet-1", 4)
	require.NotNil(t, j4)
	assert.Equal(t, domain.JobErrorFinal, j4.Status)
	assert.Equal(t, domain.MaxUploadRetries, j4.RetryCount)

	j5, _ := jobs.Get(context.Background(), "sheet-1", 5)
	assert.Nil(t, j5, "unrecognized markers must not create jobs")
}

func TestScanRequeuesRetryableFailures(t *testing.T) {
	const col = 15
	r, _, jobs := setupReconciler(t, [][]string{
		{"Título"},
		statusRow(col, "video one", "❌ Erro"),
	})
	jobs.jobs[jobKey("sheet-1", 2)] = &domain.UploadJob{
		SheetID: "sheet-1", Row: 2, ChannelID: "UCabc",
		Status: domain.JobError, RetryCount: 1, LastError: "upload timed out",
	}

	require.NoError(t, r.ScanOnce(context.Background()))

	j, _ := jobs.Get(context.Background(), "sheet-1", 2)
	require.NotNil(t, j)
	assert.Equal(t, domain.JobQueued, j.Status)
	assert.Equal(t, 1, j.RetryCount, "requeue must not consume a retry")
}

func TestScanRepairsDriftedMarkers(t *testing.T) {
	const col = 15
	r, sheets, jobs := setupReconciler(t, [][]string{
		{"Título"},
		statusRow(col, "video one", ""), // marker lost, job already done
	})
	jobs.jobs[jobKey("sheet-1", 2)] = &domain.UploadJob{
		SheetID: "sheet-1", Row: 2, ChannelID: "UCabc", Status: domain.JobDone,
	}

	require.NoError(t, r.ScanOnce(context.Background()))
	assert.Contains(t, sheets.writes, "sheet-1/2=✅ done")

	j, _ := jobs.Get(context.Background(), "sheet-1", 2)
	assert.Equal(t, domain.JobDone, j.Status, "repair must not change job state")
}

func TestScanToleratesMarkerWriteFailures(t *testing.T) {
	const col = 15
	r, sheets, jobs := setupReconciler(t, [][]string{
		{"Título"},
		statusRow(col, "video one", "❌ Erro"), // stale, job is done
	})
	sheets.failWrites = true
	jobs.jobs[jobKey("sheet-1", 2)] = &domain.UploadJob{
		SheetID: "sheet-1", Row: 2, ChannelID: "UCabc", Status: domain.JobDone,
	}

	require.NoError(t, r.ScanOnce(context.Background()), "sheet write failure must not fail the scan")

	j, _ := jobs.Get(context.Background(), "sheet-1", 2)
	assert.Equal(t, domain.JobDone, j.Status)
}

func TestRecordResultFailureAndMarker(t *testing.T) {
	r, sheets, jobs := setupReconciler(t, nil)
	jobs.jobs[jobKey("sheet-1", 4)] = &domain.UploadJob{
		SheetID: "sheet-1", Row: 4, ChannelID: "UCabc", Status: domain.JobInProgress,
	}

	require.NoError(t, r.RecordResult(context.Background(), "sheet-1", 4, false, "quota hit"))

	j, _ := jobs.Get(context.Background(), "sheet-1", 4)
	assert.Equal(t, domain.JobError, j.Status)
	assert.Equal(t, 1, j.RetryCount)
	assert.Equal(t, "quota hit", j.LastError)
	assert.Contains(t, sheets.writes, "sheet-1/4=❌ Erro")
}

func TestRecordResultSuccessSurvivesSheetOutage(t *testing.T) {
	r, sheets, jobs := setupReconciler(t, nil)
	sheets.failWrites = true
	jobs.jobs[jobKey("sheet-1", 4)] = &domain.UploadJob{
		SheetID: "sheet-1", Row: 4, ChannelID: "UCabc", Status: domain.JobInProgress,
	}

	require.NoError(t, r.RecordResult(context.Background(), "sheet-1", 4, true, ""))

	j, _ := jobs.Get(context.Background(), "sheet-1", 4)
	assert.Equal(t, domain.JobDone, j.Status, "database outcome must stick without the sheet")
}

func TestRowWindowLimitsScan(t *testing.T) {
	const col = 15
	rows := [][]string{{"Título"}}
	for i := 0; i < 30; i++ {
		rows = append(rows, statusRow(col, fmt.Sprintf("video %d", i), ""))
	}
	r, _, jobs := setupReconciler(t, rows)
	r.cfg.RowWindow = 5

	require.NoError(t, r.ScanOnce(context.Background()))
	assert.Len(t, jobs.jobs, 5, "only the trailing window is scanned")
}
