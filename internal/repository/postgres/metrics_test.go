package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexstudio/yt-collector/internal/domain"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

func testDate(t *testing.T) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", "2026-08-27")
	require.NoError(t, err)
	return d
}

func floatPtr(f float64) *float64 { return &f }

func TestUpsertDailyWritesAllRowsInOneStatement(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewMetricsRepo(db)
	date := testDate(t)

	rows := []domain.DailyMetric{
		{ChannelID: "UCabc", Date: date, Revenue: floatPtr(12.5), Views: 5000, RPM: floatPtr(2.5)},
		{ChannelID: "UCabc", Date: date.AddDate(0, 0, 1), Views: 300},
	}

	mock.ExpectExec(`INSERT INTO daily_metrics .+ VALUES \(\$1, .+, NOW\(\)\), \(\$12, .+, NOW\(\)\) ON CONFLICT \(channel_id, date\) DO UPDATE`).
		WithArgs(
			"UCabc", date, 12.5, int64(5000), 2.5, 0.0, 0.0, int64(0), int64(0), nil, nil,
			"UCabc", date.AddDate(0, 0, 1), nil, int64(300), nil, 0.0, 0.0, int64(0), int64(0), nil, nil,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.UpsertDaily(context.Background(), rows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDailyClassifiesDatatypeMismatch(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewMetricsRepo(db)
	date := testDate(t)

	mock.ExpectExec("INSERT INTO daily_metrics").
		WillReturnError(&pq.Error{
			Code:    "42804",
			Message: `column "views" is of type bigint but expression is of type text`,
			Column:  "views",
		})

	err := repo.UpsertDaily(context.Background(), []domain.DailyMetric{{ChannelID: "UCabc", Date: date}})
	require.Error(t, err)
	assert.Equal(t, domain.KindSchemaMismatch, domain.KindOf(err))

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "daily_metrics", de.Table)
	assert.Equal(t, "views", de.Column)
	assert.False(t, domain.IsRetryable(err), "schema drift must not be retried")
}

func TestUpsertDailyClassifiesNetworkErrorAsTransient(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewMetricsRepo(db)

	mock.ExpectExec("INSERT INTO daily_metrics").
		WillReturnError(sql.ErrConnDone)

	err := repo.UpsertDaily(context.Background(), []domain.DailyMetric{{ChannelID: "UCabc", Date: testDate(t)}})
	require.Error(t, err)
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
	assert.True(t, domain.IsRetryable(err))
}

func TestReplaceTrafficSourcesDeletesThenInserts(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewMetricsRepo(db)
	date := testDate(t)

	rows := []domain.TrafficSourceMetric{
		{ChannelID: "UCabc", Date: date, SourceType: "YT_SEARCH", Views: 700, WatchTimeMinutes: 2100, Percentage: 70},
		{ChannelID: "UCabc", Date: date, SourceType: "RELATED_VIDEO", Views: 300, WatchTimeMinutes: 800, Percentage: 30},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM traffic_summary").
		WithArgs("UCabc", date).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`INSERT INTO traffic_summary \(channel_id, date, source_type, views, watch_time_minutes, percentage\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\), \(\$7, \$8, \$9, \$10, \$11, \$12\)`).
		WithArgs(
			"UCabc", date, "YT_SEARCH", int64(700), 2100.0, 70.0,
			"UCabc", date, "RELATED_VIDEO", int64(300), 800.0, 30.0,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, repo.ReplaceTrafficSources(context.Background(), "UCabc", date, rows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceEmptySliceOnlyDeletes(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewMetricsRepo(db)
	date := testDate(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM traffic_summary").
		WithArgs("UCabc", date).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, repo.ReplaceTrafficSources(context.Background(), "UCabc", date, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValuesList(t *testing.T) {
	assert.Equal(t, "($1, $2)", valuesList(1, 2, ""))
	assert.Equal(t, "($1, $2), ($3, $4)", valuesList(2, 2, ""))
	assert.Equal(t, "($1, $2, NOW()), ($3, $4, NOW())", valuesList(2, 2, ", NOW()"))
}

func TestReplaceRollsBackOnInsertFailure(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewMetricsRepo(db)
	date := testDate(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM demographics").
		WithArgs("UCabc", date).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO demographics").
		WillReturnError(&pq.Error{Code: "42703", Message: `column "age_group" does not exist`, Column: "age_group"})
	mock.ExpectRollback()

	err := repo.ReplaceDemographics(context.Background(), "UCabc", date, []domain.DemographicMetric{
		{ChannelID: "UCabc", Date: date, AgeGroup: "age25-34", Gender: "female", Views: 10},
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindSchemaMismatch, domain.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDailyForChannelScansNullableFields(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewMetricsRepo(db)
	date := testDate(t)

	mock.ExpectQuery("SELECT (.+) FROM daily_metrics").
		WithArgs("UCabc", date, date).
		WillReturnRows(sqlmock.NewRows([]string{
			"channel_id", "date", "revenue", "views", "rpm", "watch_time_minutes",
			"avg_view_duration_sec", "subscribers_gained", "subscribers_lost",
			"avg_retention_pct", "ctr_approx",
		}).AddRow("UCabc", date, nil, 5000, nil, 1500.5, 180.2, 12, 3, nil, nil))

	out, err := repo.DailyForChannel(context.Background(), "UCabc", date, date)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Nil(t, out[0].Revenue)
	assert.Nil(t, out[0].RPM)
	assert.Equal(t, int64(5000), out[0].Views)
}
