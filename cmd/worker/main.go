package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/lifecycle-engine/internal/app"
	"github.com/ignite/lifecycle-engine/internal/config"
	"github.com/ignite/lifecycle-engine/internal/pkg/distlock"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
	"github.com/ignite/lifecycle-engine/internal/worker"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	lock := distlock.NewLock(a.Redis, a.DB, "timeline-sweep", cfg.Sweep.LockTTL())
	sweeper := worker.NewSweeper(a.Engine.Timelines, lock, cfg.Sweep.Interval(), cfg.Sweep.LockTTL())

	if cfg.Reports.S3Bucket != "" {
		client, err := worker.NewS3Client(ctx, cfg.Reports)
		if err != nil {
			logger.Error("s3 client", "error", err)
			os.Exit(1)
		}
		sweeper.SetArchiver(worker.NewS3Archiver(client, cfg.Reports))
		logger.Info("sweep reports archived to S3", "bucket", cfg.Reports.S3Bucket, "prefix", cfg.Reports.Prefix)
	}

	if *once {
		report, err := sweeper.RunOnce(ctx)
		if err != nil {
			logger.Error("sweep failed", "error", err)
			os.Exit(1)
		}
		if report == nil {
			logger.Info("sweep skipped, lock held by another worker")
		}
		return
	}

	refresher := worker.NewEngagementRefresher(a.Engine, cfg.Sweep.RefreshInterval())

	if err := sweeper.Start(); err != nil {
		logger.Error("start sweeper", "error", err)
		os.Exit(1)
	}
	if err := refresher.Start(); err != nil {
		logger.Error("start engagement refresher", "error", err)
		sweeper.Stop()
		os.Exit(1)
	}
	logger.Info("worker running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker")
	sweeper.Stop()
	refresher.Stop()
	logger.Info("worker stopped", "sweeps", sweeper.Stats()["runs"], "refreshed", refresher.Stats()["refreshed"])
}
