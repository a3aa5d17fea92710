package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexstudio/yt-collector/internal/domain"
)

func TestHasRecentRun(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRunRepo(db)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(300).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	found, err := repo.HasRecentRun(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCreateAndFinalizeRun(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRunRepo(db)

	mock.ExpectExec("INSERT INTO collection_runs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	run, err := repo.Create(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, domain.RunRunning, run.Status)
	assert.Nil(t, run.EndedAt)

	run.Status = domain.RunPartial
	run.Attempted, run.OK, run.Failed, run.Skipped = 10, 7, 2, 1

	mock.ExpectExec("UPDATE collection_runs").
		WithArgs(run.RunID, sqlmock.AnyArg(), domain.RunPartial, 10, 7, 2, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Finalize(context.Background(), run))
	require.NotNil(t, run.EndedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestRunReturnsNilWhenEmpty(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRunRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM collection_runs").
		WillReturnRows(sqlmock.NewRows([]string{"run_id"}))

	run, err := repo.Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestLogOutcomeAndCompletedToday(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRunRepo(db)

	mock.ExpectExec("INSERT INTO collection_log").
		WithArgs("run-1", "UCabc", domain.OutcomeDone, "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.LogOutcome(context.Background(), "run-1", "UCabc", domain.OutcomeDone, ""))

	since := time.Now().Add(-2 * time.Hour)
	mock.ExpectQuery("SELECT DISTINCT channel_id").
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"channel_id"}).AddRow("UCabc").AddRow("UCdef"))

	done, err := repo.CompletedToday(context.Background(), since)
	require.NoError(t, err)
	assert.True(t, done["UCabc"])
	assert.True(t, done["UCdef"])
	assert.False(t, done["UCother"])
}
