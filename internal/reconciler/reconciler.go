// Package reconciler keeps upload job state in the database consistent
// with the status markers operators see in the per-channel spreadsheets.
// The database is authoritative; sheet writes are best effort.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/vortexstudio/yt-collector/internal/config"
	"github.com/vortexstudio/yt-collector/internal/domain"
	"github.com/vortexstudio/yt-collector/internal/pkg/logger"
)

// SheetClient is the spreadsheet access the reconciler needs.
type SheetClient interface {
	ReadRows(ctx context.Context, spreadsheetID string) ([][]string, error)
	WriteStatus(ctx context.Context, spreadsheetID string, row int, status string) error
	StatusColumn() int
}

// JobStore is the persistence side of reconciliation.
type JobStore interface {
	Get(ctx context.Context, sheetID string, row int) (*domain.UploadJob, error)
	Upsert(ctx context.Context, j *domain.UploadJob) error
	UpdateStatus(ctx context.Context, sheetID string, row int, status domain.JobStatus, retryCount int, lastError string) error
}

// ChannelLister supplies the channels whose sheets get scanned.
type ChannelLister interface {
	ListActive(ctx context.Context) ([]domain.Channel, error)
}

// Reconciler scans upload worksheets on an interval, creating jobs for
// new rows, requeueing retryable failures and repairing drifted markers.
type Reconciler struct {
	sheets   SheetClient
	jobs     JobStore
	channels ChannelLister
	cfg      config.ReconcilerConfig
}

// New assembles a reconciler.
func New(sheets SheetClient, jobs JobStore, channels ChannelLister, cfg config.ReconcilerConfig) *Reconciler {
	return &Reconciler{sheets: sheets, jobs: jobs, channels: channels, cfg: cfg}
}

// Run scans on the configured interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.ScanInterval())
	defer ticker.Stop()

	for {
		if err := r.ScanOnce(ctx); err != nil {
			logger.Error("reconciler: scan failed", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ScanOnce reconciles every active channel's sheet a single time.
func (r *Reconciler) ScanOnce(ctx context.Context) error {
	channels, err := r.channels.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}

	var failed int
	for _, ch := range channels {
		if ch.SpreadsheetID == "" {
			continue
		}
		if err := r.reconcileSheet(ctx, ch); err != nil {
			failed++
			logger.Error("reconciler: sheet reconcile failed",
				"channel_id", ch.ChannelID, "spreadsheet_id", ch.SpreadsheetID, "error", err.Error())
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sheets failed to reconcile", failed, len(channels))
	}
	return nil
}

func (r *Reconciler) reconcileSheet(ctx context.Context, ch domain.Channel) error {
	rows, err := r.sheets.ReadRows(ctx, ch.SpreadsheetID)
	if err != nil {
		return err
	}

	first := 1 // skip the header row
	if r.cfg.RowWindow > 0 && len(rows)-first > r.cfg.RowWindow {
		first = len(rows) - r.cfg.RowWindow
	}

	for i := first; i < len(rows); i++ {
		if isEmptyRow(rows[i]) {
			continue
		}
		rowNum := i + 1 // sheets are 1-based
		if err := r.reconcileRow(ctx, ch, rowNum, statusCell(rows[i], r.sheets.StatusColumn())); err != nil {
			return err
		}
	}
	return nil
}

// reconcileRow applies the marker/job diff rules for one populated row.
// Job store errors abort the scan; marker write errors only log.
func (r *Reconciler) reconcileRow(ctx context.Context, ch domain.Channel, rowNum int, marker string) error {
	job, err := r.jobs.Get(ctx, ch.SpreadsheetID, rowNum)
	if err != nil {
		return err
	}
	class := ClassifyMarker(marker)

	if job == nil {
		return r.adoptRow(ctx, ch, rowNum, class)
	}

	switch {
	case job.IsTerminal():
		// The stored outcome wins over whatever the sheet shows.
		if want := MarkerFor(job.Status); marker != want {
			r.writeMarker(ctx, ch.SpreadsheetID, rowNum, want)
		}
	case job.Status == domain.JobError && class == MarkerRetryable:
		if err := Transition(job, domain.JobQueued); err != nil {
			return err
		}
		if err := r.jobs.UpdateStatus(ctx, job.SheetID, job.Row, job.Status, job.RetryCount, job.LastError); err != nil {
			return err
		}
		logger.Info("reconciler: requeued failed upload",
			"channel_id", ch.ChannelID, "row", rowNum, "retry_count", job.RetryCount)
	case job.Status == domain.JobPending && class == MarkerRetryable:
		if err := Transition(job, domain.JobQueued); err != nil {
			return err
		}
		if err := r.jobs.UpdateStatus(ctx, job.SheetID, job.Row, job.Status, job.RetryCount, job.LastError); err != nil {
			return err
		}
	}
	// queued and in_progress rows are left for the uploader.
	return nil
}

// adoptRow creates the job for a sheet row seen for the first time. Rows
// carrying a terminal marker are recorded as history, not re-uploaded.
func (r *Reconciler) adoptRow(ctx context.Context, ch domain.Channel, rowNum int, class MarkerClass) error {
	job := &domain.UploadJob{
		SheetID:   ch.SpreadsheetID,
		Row:       rowNum,
		ChannelID: ch.ChannelID,
	}
	switch class {
	case MarkerDone:
		job.Status = domain.JobDone
	case MarkerTerminalError:
		job.Status = domain.JobErrorFinal
		job.RetryCount = domain.MaxUploadRetries
	case MarkerRetryable:
		job.Status = domain.JobQueued
	default:
		// Unrecognized cell content, likely an operator note. Leave it.
		return nil
	}
	if err := r.jobs.Upsert(ctx, job); err != nil {
		return err
	}
	logger.Debug("reconciler: adopted sheet row",
		"channel_id", ch.ChannelID, "row", rowNum, "status", string(job.Status))
	return nil
}

// RecordResult applies an upload attempt outcome and pushes the matching
// marker to the sheet. The marker write is tolerated to fail; the stored
// state is repaired by a later scan.
func (r *Reconciler) RecordResult(ctx context.Context, sheetID string, row int, success bool, attemptErr string) error {
	job, err := r.jobs.Get(ctx, sheetID, row)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("no upload job for sheet %s row %d", sheetID, row)
	}

	if success {
		if err := RecordSuccess(job); err != nil {
			return err
		}
	} else {
		if err := RecordFailure(job, attemptErr); err != nil {
			return err
		}
	}
	if err := r.jobs.UpdateStatus(ctx, job.SheetID, job.Row, job.Status, job.RetryCount, job.LastError); err != nil {
		return err
	}

	r.writeMarker(ctx, sheetID, row, MarkerFor(job.Status))
	return nil
}

func (r *Reconciler) writeMarker(ctx context.Context, spreadsheetID string, row int, marker string) {
	if marker == "" {
		return
	}
	if err := r.sheets.WriteStatus(ctx, spreadsheetID, row, marker); err != nil {
		logger.Warn("reconciler: marker write failed, database remains authoritative",
			"spreadsheet_id", spreadsheetID, "row", row, "marker", marker, "error", err.Error())
	}
}

func isEmptyRow(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}

// statusCell returns the marker cell of a row, empty when the row is
// shorter than the status column.
func statusCell(cells []string, col int) string {
	if col <= 0 || col > len(cells) {
		return ""
	}
	return cells[col-1]
}
