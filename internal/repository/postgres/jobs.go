package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vortexstudio/yt-collector/internal/domain"
)

// JobRepo stores upload jobs keyed by (sheet_id, row). The database is
// the authoritative side of the reconciliation; sheet markers are a view.
type JobRepo struct{ db *sql.DB }

// NewJobRepo creates a Postgres-backed upload job repository.
func NewJobRepo(db *sql.DB) *JobRepo { return &JobRepo{db: db} }

// Get returns the job for a sheet row, nil when the row was never seen.
func (r *JobRepo) Get(ctx context.Context, sheetID string, row int) (*domain.UploadJob, error) {
	j := &domain.UploadJob{}
	var lastError sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT sheet_id, sheet_row, channel_id, status, retry_count, last_error, created_at, updated_at
		FROM upload_jobs
		WHERE sheet_id = $1 AND sheet_row = $2
	`, sheetID, row).Scan(&j.SheetID, &j.Row, &j.ChannelID, &j.Status,
		&j.RetryCount, &lastError, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if lastError.Valid {
		j.LastError = lastError.String
	}
	return j, nil
}

// ListForSheet returns every job recorded for a spreadsheet, row order.
func (r *JobRepo) ListForSheet(ctx context.Context, sheetID string) ([]domain.UploadJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sheet_id, sheet_row, channel_id, status, retry_count, last_error, created_at, updated_at
		FROM upload_jobs
		WHERE sheet_id = $1
		ORDER BY sheet_row
	`, sheetID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.UploadJob
	for rows.Next() {
		var j domain.UploadJob
		var lastError sql.NullString
		if err := rows.Scan(&j.SheetID, &j.Row, &j.ChannelID, &j.Status,
			&j.RetryCount, &lastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		if lastError.Valid {
			j.LastError = lastError.String
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Upsert creates or updates a job row.
func (r *JobRepo) Upsert(ctx context.Context, j *domain.UploadJob) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO upload_jobs (sheet_id, sheet_row, channel_id, status, retry_count, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (sheet_id, sheet_row) DO UPDATE SET
			channel_id = EXCLUDED.channel_id,
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			last_error = EXCLUDED.last_error,
			updated_at = NOW()
	`, j.SheetID, j.Row, j.ChannelID, j.Status, j.RetryCount, j.LastError)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

// UpdateStatus moves a job to a new state, adjusting the retry counter.
func (r *JobRepo) UpdateStatus(ctx context.Context, sheetID string, row int, status domain.JobStatus, retryCount int, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE upload_jobs
		SET status = $3, retry_count = $4, last_error = $5, updated_at = NOW()
		WHERE sheet_id = $1 AND sheet_row = $2
	`, sheetID, row, status, retryCount, lastError)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}
