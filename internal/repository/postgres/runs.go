package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vortexstudio/yt-collector/internal/domain"
)

// RunRepo tracks collection runs and the per-channel outcome log the
// resume path reads from.
type RunRepo struct{ db *sql.DB }

// NewRunRepo creates a Postgres-backed run repository.
func NewRunRepo(db *sql.DB) *RunRepo { return &RunRepo{db: db} }

// HasRecentRun reports whether a run is currently open or finished within
// the dedup window. Callers hold the advisory lock while asking, so the
// check-then-create pair is race free.
func (r *RunRepo) HasRecentRun(ctx context.Context, window time.Duration) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM collection_runs
			WHERE status = 'running'
			   OR started_at > NOW() - ($1 * INTERVAL '1 second')
		)
	`, int(window.Seconds())).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent run: %w", err)
	}
	return exists, nil
}

// Create opens a new run with status running and returns it.
func (r *RunRepo) Create(ctx context.Context) (*domain.CollectionRun, error) {
	run := &domain.CollectionRun{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Status:    domain.RunRunning,
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO collection_runs (run_id, started_at, status)
		VALUES ($1, $2, $3)
	`, run.RunID, run.StartedAt, run.Status)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// Finalize records the terminal status and counters of a run.
func (r *RunRepo) Finalize(ctx context.Context, run *domain.CollectionRun) error {
	now := time.Now().UTC()
	run.EndedAt = &now
	_, err := r.db.ExecContext(ctx, `
		UPDATE collection_runs
		SET ended_at = $2, status = $3, attempted = $4, ok = $5, failed = $6, skipped = $7
		WHERE run_id = $1
	`, run.RunID, run.EndedAt, run.Status, run.Attempted, run.OK, run.Failed, run.Skipped)
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	return nil
}

// Latest returns the most recently started run, nil when none exist.
func (r *RunRepo) Latest(ctx context.Context) (*domain.CollectionRun, error) {
	run := &domain.CollectionRun{}
	var endedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT run_id, started_at, ended_at, status, attempted, ok, failed, skipped
		FROM collection_runs
		ORDER BY started_at DESC
		LIMIT 1
	`).Scan(&run.RunID, &run.StartedAt, &endedAt, &run.Status,
		&run.Attempted, &run.OK, &run.Failed, &run.Skipped)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}
	return run, nil
}

// LogOutcome records one channel's result within a run.
func (r *RunRepo) LogOutcome(ctx context.Context, runID, channelID string, outcome domain.ChannelOutcome, message string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO collection_log (run_id, channel_id, status, message, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (run_id, channel_id) DO UPDATE SET
			status = EXCLUDED.status,
			message = EXCLUDED.message,
			created_at = NOW()
	`, runID, channelID, outcome, message)
	if err != nil {
		return fmt.Errorf("log outcome: %w", err)
	}
	return nil
}

// CompletedToday returns the channels already logged done since the given
// cutoff. A restarted run uses this to skip finished channels.
func (r *RunRepo) CompletedToday(ctx context.Context, since time.Time) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT channel_id
		FROM collection_log
		WHERE status = 'done' AND created_at >= $1
	`, since)
	if err != nil {
		return nil, fmt.Errorf("completed channels: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan channel id: %w", err)
		}
		done[id] = true
	}
	return done, rows.Err()
}
