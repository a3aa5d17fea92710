package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/vortexstudio/yt-collector/internal/domain"
)

// MetricsRepo writes collected report rows into PostgreSQL. All writes
// are idempotent: daily rows upsert on (channel_id, date), dimensioned
// families replace the full (channel_id, date) slice in one transaction.
type MetricsRepo struct{ db *sql.DB }

// NewMetricsRepo creates a Postgres-backed metrics writer.
func NewMetricsRepo(db *sql.DB) *MetricsRepo { return &MetricsRepo{db: db} }

// Postgres error codes that mean the row shape no longer matches the
// table. These must stop the run rather than burn quota on doomed writes.
const (
	pgUndefinedColumn     = "42703"
	pgDatatypeMismatch    = "42804"
	pgInvalidTextRep      = "22P02"
	pgNotNullViolation    = "23502"
	pgForeignKeyViolation = "23503"
)

// classifyWriteError maps driver failures onto the error taxonomy.
func classifyWriteError(op, table string, err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := err.(*pq.Error); ok {
		switch string(pqErr.Code) {
		case pgUndefinedColumn, pgDatatypeMismatch, pgInvalidTextRep, pgNotNullViolation:
			return &domain.Error{
				Kind:   domain.KindSchemaMismatch,
				Op:     op,
				Table:  table,
				Column: pqErr.Column,
				Msg:    pqErr.Message,
				Err:    err,
			}
		case pgForeignKeyViolation:
			return &domain.Error{
				Kind:  domain.KindIntegrityViolation,
				Op:    op,
				Table: table,
				Msg:   pqErr.Message,
				Err:   err,
			}
		}
	}
	return &domain.Error{Kind: domain.KindTransient, Op: op, Table: table, Err: err}
}

// valuesList builds the placeholder tuples of a multi-row VALUES clause:
// "($1, $2, ..., $c), ($c+1, ...)". A non-empty suffix is appended inside
// every tuple, for columns set by expression rather than argument.
func valuesList(nRows, nCols int, suffix string) string {
	var b strings.Builder
	n := 1
	for row := 0; row < nRows; row++ {
		if row > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for col := 0; col < nCols; col++ {
			if col > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteString(suffix)
		b.WriteByte(')')
	}
	return b.String()
}

// flatten concatenates per-row argument slices for one multi-row statement.
func flatten(rows [][]interface{}) []interface{} {
	if len(rows) == 0 {
		return nil
	}
	out := make([]interface{}, 0, len(rows)*len(rows[0]))
	for _, args := range rows {
		out = append(out, args...)
	}
	return out
}

// UpsertDaily writes core daily rows in one round trip. Re-running the
// same day overwrites the previous values, never duplicates.
func (r *MetricsRepo) UpsertDaily(ctx context.Context, rows []domain.DailyMetric) error {
	if len(rows) == 0 {
		return nil
	}
	const op = "metrics.upsert_daily"

	args := make([][]interface{}, 0, len(rows))
	for _, m := range rows {
		args = append(args, []interface{}{m.ChannelID, m.Date, m.Revenue, m.Views, m.RPM,
			m.WatchTimeMinutes, m.AvgViewDurationSec, m.SubscribersGained, m.SubscribersLost,
			m.AvgRetentionPct, m.CTRApprox})
	}

	query := fmt.Sprintf(`
		INSERT INTO daily_metrics (
			channel_id, date, revenue, views, rpm, watch_time_minutes,
			avg_view_duration_sec, subscribers_gained, subscribers_lost,
			avg_retention_pct, ctr_approx, updated_at
		) VALUES %s
		ON CONFLICT (channel_id, date) DO UPDATE SET
			revenue = EXCLUDED.revenue,
			views = EXCLUDED.views,
			rpm = EXCLUDED.rpm,
			watch_time_minutes = EXCLUDED.watch_time_minutes,
			avg_view_duration_sec = EXCLUDED.avg_view_duration_sec,
			subscribers_gained = EXCLUDED.subscribers_gained,
			subscribers_lost = EXCLUDED.subscribers_lost,
			avg_retention_pct = EXCLUDED.avg_retention_pct,
			ctr_approx = EXCLUDED.ctr_approx,
			updated_at = NOW()
	`, valuesList(len(args), 11, ", NOW()"))

	if _, err := r.db.ExecContext(ctx, query, flatten(args)...); err != nil {
		return classifyWriteError(op, "daily_metrics", err)
	}
	return nil
}

// replaceSlice swaps out every row for (channel_id, date) in one
// transaction, so partially applied slices never become visible. The
// insert is a single multi-row statement, one round trip per table.
func (r *MetricsRepo) replaceSlice(ctx context.Context, op, table, insertColumns string,
	channelID string, date time.Time, rows [][]interface{}) error {

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyWriteError(op, table, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE channel_id = $1 AND date = $2`, table),
		channelID, date); err != nil {
		return classifyWriteError(op, table, err)
	}

	if len(rows) > 0 {
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
			table, insertColumns, valuesList(len(rows), len(rows[0]), ""))
		if _, err := tx.ExecContext(ctx, query, flatten(rows)...); err != nil {
			return classifyWriteError(op, table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classifyWriteError(op, table, err)
	}
	return nil
}

// ReplaceTrafficSources stores the traffic-source breakdown for one day.
func (r *MetricsRepo) ReplaceTrafficSources(ctx context.Context, channelID string, date time.Time, rows []domain.TrafficSourceMetric) error {
	args := make([][]interface{}, 0, len(rows))
	for _, m := range rows {
		args = append(args, []interface{}{m.ChannelID, m.Date, m.SourceType, m.Views, m.WatchTimeMinutes, m.Percentage})
	}
	return r.replaceSlice(ctx, "metrics.traffic_sources", "traffic_summary",
		"channel_id, date, source_type, views, watch_time_minutes, percentage",
		channelID, date, args)
}

// ReplaceSearchTerms stores the search-term breakdown for one day.
func (r *MetricsRepo) ReplaceSearchTerms(ctx context.Context, channelID string, date time.Time, rows []domain.SearchTermMetric) error {
	args := make([][]interface{}, 0, len(rows))
	for _, m := range rows {
		args = append(args, []interface{}{m.ChannelID, m.Date, m.SearchTerm, m.Views, m.PercentageOfSearch})
	}
	return r.replaceSlice(ctx, "metrics.search_terms", "search_analytics",
		"channel_id, date, search_term, views, percentage_of_search",
		channelID, date, args)
}

// ReplaceSuggestedSources stores the suggested-video breakdown for one day.
func (r *MetricsRepo) ReplaceSuggestedSources(ctx context.Context, channelID string, date time.Time, rows []domain.SuggestedSourceMetric) error {
	args := make([][]interface{}, 0, len(rows))
	for _, m := range rows {
		args = append(args, []interface{}{m.ChannelID, m.Date, m.SourceVideoID, m.SourceVideoTitle, m.SourceChannelName, m.ViewsGenerated})
	}
	return r.replaceSlice(ctx, "metrics.suggested_sources", "suggested_sources",
		"channel_id, date, source_video_id, source_video_title, source_channel_name, views_generated",
		channelID, date, args)
}

// ReplaceDemographics stores the age and gender breakdown for one day.
func (r *MetricsRepo) ReplaceDemographics(ctx context.Context, channelID string, date time.Time, rows []domain.DemographicMetric) error {
	args := make([][]interface{}, 0, len(rows))
	for _, m := range rows {
		args = append(args, []interface{}{m.ChannelID, m.Date, m.AgeGroup, m.Gender, m.Views, m.WatchTimeMinutes, m.Percentage})
	}
	return r.replaceSlice(ctx, "metrics.demographics", "demographics",
		"channel_id, date, age_group, gender, views, watch_time_minutes, percentage",
		channelID, date, args)
}

// ReplaceDeviceTypes stores the device breakdown for one day.
func (r *MetricsRepo) ReplaceDeviceTypes(ctx context.Context, channelID string, date time.Time, rows []domain.DeviceMetric) error {
	args := make([][]interface{}, 0, len(rows))
	for _, m := range rows {
		args = append(args, []interface{}{m.ChannelID, m.Date, m.DeviceType, m.Views, m.WatchTimeMinutes, m.Percentage})
	}
	return r.replaceSlice(ctx, "metrics.device_types", "device_metrics",
		"channel_id, date, device_type, views, watch_time_minutes, percentage",
		channelID, date, args)
}

// ReplaceCountries stores the country breakdown for one day.
func (r *MetricsRepo) ReplaceCountries(ctx context.Context, channelID string, date time.Time, rows []domain.CountryMetric) error {
	args := make([][]interface{}, 0, len(rows))
	for _, m := range rows {
		args = append(args, []interface{}{m.ChannelID, m.Date, m.CountryCode, m.Views, m.Revenue, m.WatchTimeMinutes})
	}
	return r.replaceSlice(ctx, "metrics.countries", "country_metrics",
		"channel_id, date, country_code, views, revenue, watch_time_minutes",
		channelID, date, args)
}

// DailyForChannel returns the daily rows for a channel on a date range,
// newest first. Serves the read API.
func (r *MetricsRepo) DailyForChannel(ctx context.Context, channelID string, from, to time.Time) ([]domain.DailyMetric, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT channel_id, date, revenue, views, rpm, watch_time_minutes,
		       avg_view_duration_sec, subscribers_gained, subscribers_lost,
		       avg_retention_pct, ctr_approx
		FROM daily_metrics
		WHERE channel_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date DESC
	`, channelID, from, to)
	if err != nil {
		return nil, fmt.Errorf("daily for channel: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyMetric
	for rows.Next() {
		var m domain.DailyMetric
		if err := rows.Scan(&m.ChannelID, &m.Date, &m.Revenue, &m.Views, &m.RPM,
			&m.WatchTimeMinutes, &m.AvgViewDurationSec, &m.SubscribersGained,
			&m.SubscribersLost, &m.AvgRetentionPct, &m.CTRApprox); err != nil {
			return nil, fmt.Errorf("scan daily metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TrafficForChannel returns the traffic-source rows for one day, largest
// share first. Serves the read API.
func (r *MetricsRepo) TrafficForChannel(ctx context.Context, channelID string, date time.Time) ([]domain.TrafficSourceMetric, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT channel_id, date, source_type, views, watch_time_minutes, percentage
		FROM traffic_summary
		WHERE channel_id = $1 AND date = $2
		ORDER BY views DESC
	`, channelID, date)
	if err != nil {
		return nil, fmt.Errorf("traffic for channel: %w", err)
	}
	defer rows.Close()

	var out []domain.TrafficSourceMetric
	for rows.Next() {
		var m domain.TrafficSourceMetric
		if err := rows.Scan(&m.ChannelID, &m.Date, &m.SourceType, &m.Views,
			&m.WatchTimeMinutes, &m.Percentage); err != nil {
			return nil, fmt.Errorf("scan traffic metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TableForFamily names the destination table of each report family, so
// log lines and schema-mismatch errors agree on naming.
func TableForFamily(f domain.ReportFamily) string {
	switch f {
	case domain.FamilyCoreDaily:
		return "daily_metrics"
	case domain.FamilyTrafficSource:
		return "traffic_summary"
	case domain.FamilySearchTerm:
		return "search_analytics"
	case domain.FamilySuggestedSource:
		return "suggested_sources"
	case domain.FamilyDemographic:
		return "demographics"
	case domain.FamilyDeviceType:
		return "device_metrics"
	case domain.FamilyCountry:
		return "country_metrics"
	}
	return strings.ToLower(string(f))
}
