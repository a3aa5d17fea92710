package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vortexstudio/yt-collector/internal/analytics"
	"github.com/vortexstudio/yt-collector/internal/api"
	"github.com/vortexstudio/yt-collector/internal/collector"
	"github.com/vortexstudio/yt-collector/internal/config"
	"github.com/vortexstudio/yt-collector/internal/domain"
	"github.com/vortexstudio/yt-collector/internal/pkg/distlock"
	"github.com/vortexstudio/yt-collector/internal/pkg/logger"
	"github.com/vortexstudio/yt-collector/internal/repository/postgres"
	"github.com/vortexstudio/yt-collector/internal/tokenvault"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Exit codes: 0 run ok, 1 partial, 2 cancelled by signal,
// 3 configuration error, 4 unrecoverable.
const (
	exitOK            = 0
	exitPartial       = 1
	exitCancelled     = 2
	exitConfig        = 3
	exitUnrecoverable = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	once := flag.Bool("once", false, "run one collection cycle and exit")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("collector: config load failed", "error", err.Error())
		return exitConfig
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("collector: invalid configuration", "error", err.Error())
		return exitConfig
	}

	db, err := openDB(cfg.Database)
	if err != nil {
		logger.Error("collector: database unavailable", "error", err.Error())
		return exitUnrecoverable
	}
	defer db.Close()

	channelRepo := postgres.NewChannelRepo(db)
	metricsRepo := postgres.NewMetricsRepo(db)
	runRepo := postgres.NewRunRepo(db)
	vault := tokenvault.New(channelRepo, cfg.OAuth)
	fetcher := analytics.NewClient(cfg.Analytics)
	lock := distlock.NewPGAdvisoryLock(db, "collection_run")

	orch, err := collector.New(channelRepo, vault, fetcher, metricsRepo, runRepo, lock, cfg.Collector)
	if err != nil {
		logger.Error("collector: assembly failed", "error", err.Error())
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Server.Enabled {
		srv := api.NewServer(cfg.Server, db, metricsRepo, runRepo)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("collector: api server failed", "error", err.Error())
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
	}

	if *once {
		return runCycle(ctx, orch)
	}
	return runScheduled(ctx, orch, cfg.Collector)
}

func runCycle(ctx context.Context, orch *collector.Orchestrator) int {
	run, err := orch.RunCycle(ctx)
	switch {
	case errors.Is(err, collector.ErrRunSkipped):
		logger.Info("collector: cycle skipped, another instance owns the run")
		return exitOK
	case err != nil:
		logger.Error("collector: cycle failed", "error", err.Error())
		return exitUnrecoverable
	}

	return exitCodeFor(run.Status)
}

// exitCodeFor maps a finished run onto the process exit code. A failed
// run (nothing collected) is unrecoverable for this cycle; partial means
// resumable work remains.
func exitCodeFor(status domain.RunStatus) int {
	switch status {
	case domain.RunOK:
		return exitOK
	case domain.RunCancelled:
		return exitCancelled
	case domain.RunPartial:
		return exitPartial
	default:
		return exitUnrecoverable
	}
}

// runScheduled anchors one cycle per day at the configured local time and
// blocks until a termination signal.
func runScheduled(ctx context.Context, orch *collector.Orchestrator, cfg config.CollectorConfig) int {
	spec, err := cronSpec(cfg.ScheduleTime)
	if err != nil {
		logger.Error("collector: bad schedule time", "schedule_time", cfg.ScheduleTime, "error", err.Error())
		return exitConfig
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("collector: bad timezone", "timezone", cfg.Timezone, "error", err.Error())
		return exitConfig
	}

	c := cron.New(cron.WithLocation(loc))
	_, err = c.AddFunc(spec, func() {
		if _, err := orch.RunCycle(ctx); err != nil && !errors.Is(err, collector.ErrRunSkipped) {
			logger.Error("collector: scheduled cycle failed", "error", err.Error())
		}
	})
	if err != nil {
		logger.Error("collector: schedule registration failed", "error", err.Error())
		return exitConfig
	}

	c.Start()
	logger.Info("collector: scheduled", "schedule_time", cfg.ScheduleTime, "timezone", cfg.Timezone)

	<-ctx.Done()
	logger.Info("collector: shutting down")
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(cfg.Grace()):
	}
	return exitCancelled
}

// cronSpec converts an HH:MM anchor to a cron expression.
func cronSpec(scheduleTime string) (string, error) {
	parts := strings.Split(scheduleTime, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("schedule time %q is not HH:MM", scheduleTime)
	}
	var hh, mm int
	if _, err := fmt.Sscanf(scheduleTime, "%d:%d", &hh, &mm); err != nil {
		return "", fmt.Errorf("schedule time %q is not HH:MM: %w", scheduleTime, err)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return "", fmt.Errorf("schedule time %q out of range", scheduleTime)
	}
	return fmt.Sprintf("%d %d * * *", mm, hh), nil
}

func openDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
