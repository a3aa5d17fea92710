// Package collector drives the daily metrics cycle: one run fans out over
// all monetized channels, pulls every report family for the trailing dates
// and upserts the rows, bounded by a worker pool and a global API throttle.
package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vortexstudio/yt-collector/internal/analytics"
	"github.com/vortexstudio/yt-collector/internal/config"
	"github.com/vortexstudio/yt-collector/internal/domain"
	"github.com/vortexstudio/yt-collector/internal/pkg/distlock"
	"github.com/vortexstudio/yt-collector/internal/pkg/logger"
	"github.com/vortexstudio/yt-collector/internal/pkg/retry"
)

// Fetcher is the analytics surface the orchestrator pulls from.
type Fetcher interface {
	FetchCoreDaily(ctx context.Context, accessToken string, q analytics.ReportQuery) ([]domain.DailyMetric, error)
	FetchTrafficSources(ctx context.Context, accessToken string, q analytics.ReportQuery) ([]domain.TrafficSourceMetric, error)
	FetchSearchTerms(ctx context.Context, accessToken string, q analytics.ReportQuery) ([]domain.SearchTermMetric, error)
	FetchSuggestedSources(ctx context.Context, accessToken string, q analytics.ReportQuery) ([]domain.SuggestedSourceMetric, error)
	FetchDemographics(ctx context.Context, accessToken string, q analytics.ReportQuery) ([]domain.DemographicMetric, error)
	FetchDeviceTypes(ctx context.Context, accessToken string, q analytics.ReportQuery) ([]domain.DeviceMetric, error)
	FetchCountries(ctx context.Context, accessToken string, q analytics.ReportQuery) ([]domain.CountryMetric, error)
}

// TokenSource hands out access tokens per channel.
type TokenSource interface {
	GetAccessToken(ctx context.Context, ch domain.Channel) (string, time.Time, error)
}

// ChannelSource supplies the run's work set.
type ChannelSource interface {
	ListMonetized(ctx context.Context) ([]domain.Channel, error)
}

// MetricsWriter persists fetched rows.
type MetricsWriter interface {
	UpsertDaily(ctx context.Context, rows []domain.DailyMetric) error
	ReplaceTrafficSources(ctx context.Context, channelID string, date time.Time, rows []domain.TrafficSourceMetric) error
	ReplaceSearchTerms(ctx context.Context, channelID string, date time.Time, rows []domain.SearchTermMetric) error
	ReplaceSuggestedSources(ctx context.Context, channelID string, date time.Time, rows []domain.SuggestedSourceMetric) error
	ReplaceDemographics(ctx context.Context, channelID string, date time.Time, rows []domain.DemographicMetric) error
	ReplaceDeviceTypes(ctx context.Context, channelID string, date time.Time, rows []domain.DeviceMetric) error
	ReplaceCountries(ctx context.Context, channelID string, date time.Time, rows []domain.CountryMetric) error
}

// RunStore tracks runs and per-channel outcomes.
type RunStore interface {
	HasRecentRun(ctx context.Context, window time.Duration) (bool, error)
	Create(ctx context.Context) (*domain.CollectionRun, error)
	Finalize(ctx context.Context, run *domain.CollectionRun) error
	LogOutcome(ctx context.Context, runID, channelID string, outcome domain.ChannelOutcome, message string) error
	CompletedToday(ctx context.Context, since time.Time) (map[string]bool, error)
}

// ErrRunSkipped is returned by RunCycle when another collector instance
// already owns the current cycle.
var ErrRunSkipped = fmt.Errorf("collection run already in progress or recently finished")

// Orchestrator owns one collection cycle at a time.
type Orchestrator struct {
	channels ChannelSource
	tokens   TokenSource
	fetcher  Fetcher
	writer   MetricsWriter
	runs     RunStore
	lock     distlock.DistLock
	cfg      config.CollectorConfig

	limiter *rate.Limiter
	loc     *time.Location

	// now is swappable for tests.
	now func() time.Time
}

// New assembles an orchestrator. The rate limiter spreads the configured
// request quota over its window and is shared by all workers.
func New(channels ChannelSource, tokens TokenSource, fetcher Fetcher, writer MetricsWriter,
	runs RunStore, lock distlock.DistLock, cfg config.CollectorConfig) (*Orchestrator, error) {

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindConfig, Op: "collector.new", Msg: "bad timezone " + cfg.Timezone, Err: err}
	}
	window := time.Duration(cfg.QuotaWindowSeconds) * time.Second
	limiter := rate.NewLimiter(rate.Limit(float64(cfg.QuotaRequests)/window.Seconds()), cfg.QuotaRequests)

	return &Orchestrator{
		channels: channels,
		tokens:   tokens,
		fetcher:  fetcher,
		writer:   writer,
		runs:     runs,
		lock:     lock,
		cfg:      cfg,
		limiter:  limiter,
		loc:      loc,
		now:      time.Now,
	}, nil
}

// collectDates returns the trailing dates a cycle covers, oldest first,
// in the schedule timezone. Yesterday is always included; earlier days
// cover the provider's finalization lag.
func (o *Orchestrator) collectDates() []time.Time {
	days := o.cfg.BackfillDays
	if days <= 0 {
		days = 1
	}
	today := o.now().In(o.loc)
	midnight := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	dates := make([]time.Time, 0, days)
	for d := days; d >= 1; d-- {
		dates = append(dates, midnight.AddDate(0, 0, -d))
	}
	return dates
}

// RunCycle executes one full collection cycle. The returned run carries
// the final status; ErrRunSkipped means another instance won the cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) (*domain.CollectionRun, error) {
	run, err := o.openRun(ctx)
	if err != nil {
		return nil, err
	}

	dates := o.collectDates()
	logger.Info("collector: run started",
		"run_id", run.RunID,
		"start_date", dates[0].Format("2006-01-02"),
		"end_date", dates[len(dates)-1].Format("2006-01-02"))

	channels, err := o.channels.ListMonetized(ctx)
	if err != nil {
		run.Status = domain.RunFailed
		o.finalize(ctx, run)
		return run, fmt.Errorf("list channels: %w", err)
	}

	// A restarted run picks up where the crashed one stopped.
	done, err := o.runs.CompletedToday(ctx, o.startOfDay())
	if err != nil {
		run.Status = domain.RunFailed
		o.finalize(ctx, run)
		return run, fmt.Errorf("resume check: %w", err)
	}

	// runCtx is cancelled on quota exhaustion so queued channels stop
	// before burning more requests.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	parallelism := o.cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	sem := make(chan struct{}, parallelism)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		quotaHit  bool
		cancelled bool
	)

	for _, ch := range channels {
		if done[ch.ChannelID] {
			mu.Lock()
			run.Skipped++
			mu.Unlock()
			o.logOutcome(ctx, run.RunID, ch.ChannelID, domain.OutcomeSkipped, "already collected today")
			continue
		}

		select {
		case <-runCtx.Done():
		case sem <- struct{}{}:
			if runCtx.Err() != nil {
				<-sem
			}
		}
		if runCtx.Err() != nil {
			mu.Lock()
			run.Skipped++
			mu.Unlock()
			o.logOutcome(ctx, run.RunID, ch.ChannelID, domain.OutcomeSkipped, "run aborted before channel started")
			continue
		}

		wg.Add(1)
		mu.Lock()
		run.Attempted++
		mu.Unlock()

		go func(ch domain.Channel) {
			defer wg.Done()
			defer func() { <-sem }()

			err := o.collectChannel(runCtx, ch, dates)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				run.OK++
				o.logOutcome(ctx, run.RunID, ch.ChannelID, domain.OutcomeDone, "")
			case domain.KindOf(err) == domain.KindAuthRevoked:
				run.Skipped++
				o.logOutcome(ctx, run.RunID, ch.ChannelID, domain.OutcomeSkipped, err.Error())
				logger.Warn("collector: channel auth revoked, skipping",
					"channel_id", ch.ChannelID, "error", err.Error())
			case domain.KindOf(err) == domain.KindQuotaExceeded:
				run.Failed++
				quotaHit = true
				cancelRun()
				o.logOutcome(ctx, run.RunID, ch.ChannelID, domain.OutcomeFailed, err.Error())
				logger.Error("collector: API quota exhausted, halting run",
					"channel_id", ch.ChannelID)
			default:
				run.Failed++
				o.logOutcome(ctx, run.RunID, ch.ChannelID, domain.OutcomeFailed, err.Error())
				logger.Error("collector: channel failed",
					"channel_id", ch.ChannelID, "error", err.Error())
			}
		}(ch)
	}

	wg.Wait()

	if ctx.Err() != nil {
		cancelled = true
	}

	// A quota halt always closes partial: the untouched queue is resumable
	// work, not a failure.
	switch {
	case cancelled:
		run.Status = domain.RunCancelled
	case quotaHit:
		run.Status = domain.RunPartial
	case run.Failed == 0:
		run.Status = domain.RunOK
	case run.OK > 0:
		run.Status = domain.RunPartial
	default:
		run.Status = domain.RunFailed
	}

	o.finalize(ctx, run)
	logger.Info("collector: run finished",
		"run_id", run.RunID, "status", string(run.Status),
		"attempted", run.Attempted, "ok", run.OK, "failed", run.Failed, "skipped", run.Skipped)
	return run, nil
}

// openRun takes the advisory lock, applies the de-duplication window and
// creates the run row. The lock only covers the check-then-create pair.
func (o *Orchestrator) openRun(ctx context.Context) (*domain.CollectionRun, error) {
	got, err := o.lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !got {
		return nil, ErrRunSkipped
	}
	defer func() {
		if err := o.lock.Release(ctx); err != nil {
			logger.Warn("collector: failed to release run lock", "error", err.Error())
		}
	}()

	recent, err := o.runs.HasRecentRun(ctx, o.cfg.DedupWindow())
	if err != nil {
		return nil, fmt.Errorf("run dedup check: %w", err)
	}
	if recent {
		return nil, ErrRunSkipped
	}
	return o.runs.Create(ctx)
}

// collectChannel pulls every report family for one channel. Core daily
// spans the whole date range in one query; dimensioned families go one
// query per day because their rows carry no date of their own.
func (o *Orchestrator) collectChannel(ctx context.Context, ch domain.Channel, dates []time.Time) error {
	token, _, err := o.tokens.GetAccessToken(ctx, ch)
	if err != nil {
		return err
	}

	span := analytics.ReportQuery{ChannelID: ch.ChannelID, StartDate: dates[0], EndDate: dates[len(dates)-1]}
	if err := o.fetchFamily(ctx, ch, domain.FamilyCoreDaily, func(ctx context.Context) error {
		rows, err := o.fetcher.FetchCoreDaily(ctx, token, span)
		if err != nil {
			return err
		}
		return o.writer.UpsertDaily(ctx, rows)
	}); err != nil {
		return err
	}

	for _, date := range dates {
		day := analytics.ReportQuery{ChannelID: ch.ChannelID, StartDate: date, EndDate: date}
		if err := o.collectDay(ctx, ch, token, day); err != nil {
			return err
		}
	}
	return nil
}

// collectDay fetches and stores every dimensioned family for one day.
func (o *Orchestrator) collectDay(ctx context.Context, ch domain.Channel, token string, q analytics.ReportQuery) error {
	date := q.EndDate
	steps := []struct {
		family domain.ReportFamily
		fn     func(context.Context) error
	}{
		{domain.FamilyTrafficSource, func(ctx context.Context) error {
			rows, err := o.fetcher.FetchTrafficSources(ctx, token, q)
			if err != nil {
				return err
			}
			return o.writer.ReplaceTrafficSources(ctx, ch.ChannelID, date, rows)
		}},
		{domain.FamilySearchTerm, func(ctx context.Context) error {
			rows, err := o.fetcher.FetchSearchTerms(ctx, token, q)
			if err != nil {
				return err
			}
			return o.writer.ReplaceSearchTerms(ctx, ch.ChannelID, date, rows)
		}},
		{domain.FamilySuggestedSource, func(ctx context.Context) error {
			rows, err := o.fetcher.FetchSuggestedSources(ctx, token, q)
			if err != nil {
				return err
			}
			return o.writer.ReplaceSuggestedSources(ctx, ch.ChannelID, date, rows)
		}},
		{domain.FamilyDemographic, func(ctx context.Context) error {
			rows, err := o.fetcher.FetchDemographics(ctx, token, q)
			if err != nil {
				return err
			}
			return o.writer.ReplaceDemographics(ctx, ch.ChannelID, date, rows)
		}},
		{domain.FamilyDeviceType, func(ctx context.Context) error {
			rows, err := o.fetcher.FetchDeviceTypes(ctx, token, q)
			if err != nil {
				return err
			}
			return o.writer.ReplaceDeviceTypes(ctx, ch.ChannelID, date, rows)
		}},
		{domain.FamilyCountry, func(ctx context.Context) error {
			rows, err := o.fetcher.FetchCountries(ctx, token, q)
			if err != nil {
				return err
			}
			return o.writer.ReplaceCountries(ctx, ch.ChannelID, date, rows)
		}},
	}

	for _, step := range steps {
		if err := o.fetchFamily(ctx, ch, step.family, step.fn); err != nil {
			return err
		}
	}
	return nil
}

// fetchFamily runs one fetch-and-store step under the global throttle
// with transient-only retries. Quota, auth and schema failures surface
// immediately.
func (o *Orchestrator) fetchFamily(ctx context.Context, ch domain.Channel, family domain.ReportFamily, fn func(context.Context) error) error {
	err := retry.Do(ctx, retry.DefaultConfig(), domain.IsRetryable, func(ctx context.Context) error {
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}
		return fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("family %s for channel %s: %w", family, ch.ChannelID, err)
	}
	return nil
}

// startOfDay is midnight today in the schedule timezone, the cutoff for
// the resume check.
func (o *Orchestrator) startOfDay() time.Time {
	now := o.now().In(o.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, o.loc)
}

// logOutcome records a channel outcome, surviving parent cancellation so
// shutdown does not lose the resume log.
func (o *Orchestrator) logOutcome(ctx context.Context, runID, channelID string, outcome domain.ChannelOutcome, message string) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), o.cfg.Grace())
		defer cancel()
	}
	if err := o.runs.LogOutcome(ctx, runID, channelID, outcome, message); err != nil {
		logger.Warn("collector: failed to log channel outcome",
			"run_id", runID, "channel_id", channelID, "error", err.Error())
	}
}

// finalize writes the terminal run row. Cancellation of the parent
// context must not lose the counters, so a short detached grace context
// backs the write.
func (o *Orchestrator) finalize(ctx context.Context, run *domain.CollectionRun) {
	wctx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(context.Background(), o.cfg.Grace())
		defer cancel()
	}
	if err := o.runs.Finalize(wctx, run); err != nil {
		logger.Error("collector: failed to finalize run",
			"run_id", run.RunID, "error", err.Error())
	}
}
