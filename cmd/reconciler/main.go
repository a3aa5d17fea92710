package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vortexstudio/yt-collector/internal/config"
	"github.com/vortexstudio/yt-collector/internal/pkg/logger"
	"github.com/vortexstudio/yt-collector/internal/reconciler"
	"github.com/vortexstudio/yt-collector/internal/repository/postgres"
	"github.com/vortexstudio/yt-collector/internal/sheets"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const (
	exitOK            = 0
	exitScanFailed    = 1
	exitCancelled     = 2
	exitConfig        = 3
	exitUnrecoverable = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	once := flag.Bool("once", false, "run one scan and exit")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("reconciler: config load failed", "error", err.Error())
		return exitConfig
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("reconciler: invalid configuration", "error", err.Error())
		return exitConfig
	}

	db, err := openDB(cfg.Database)
	if err != nil {
		logger.Error("reconciler: database unavailable", "error", err.Error())
		return exitUnrecoverable
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sheetClient, err := sheets.NewClient(ctx, cfg.Sheets)
	if err != nil {
		logger.Error("reconciler: sheets client failed", "error", err.Error())
		return exitConfig
	}

	rec := reconciler.New(sheetClient, postgres.NewJobRepo(db), postgres.NewChannelRepo(db), cfg.Reconciler)

	if *once {
		if err := rec.ScanOnce(ctx); err != nil {
			logger.Error("reconciler: scan failed", "error", err.Error())
			return exitScanFailed
		}
		return exitOK
	}

	logger.Info("reconciler: scanning", "interval_seconds", cfg.Reconciler.ScanIntervalSeconds)
	if err := rec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("reconciler: stopped", "error", err.Error())
		return exitScanFailed
	}
	return exitCancelled
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
