// Package app assembles the lifecycle engine and its infrastructure from
// configuration. The server and worker binaries share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/ignite/lifecycle-engine/internal/config"
	"github.com/ignite/lifecycle-engine/internal/events"
	"github.com/ignite/lifecycle-engine/internal/lifecycle"
	"github.com/ignite/lifecycle-engine/internal/outreach"
	"github.com/ignite/lifecycle-engine/internal/pkg/clock"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
	"github.com/ignite/lifecycle-engine/internal/repository/cached"
	"github.com/ignite/lifecycle-engine/internal/repository/postgres"
	"github.com/ignite/lifecycle-engine/internal/timeline"
	"github.com/ignite/lifecycle-engine/internal/tracking"
	"github.com/redis/go-redis/v9"
)

// App holds the wired engine and the handles that must be closed with it.
type App struct {
	Config *config.Config
	DB     *sql.DB
	Redis  *redis.Client // nil when Redis is not configured
	Store  *postgres.Store
	Engine *lifecycle.Engine
	Clock  clock.Clock
	// Tracker signs open/click links; nil when tracking is disabled.
	Tracker *tracking.Signer

	closers []func() error
}

// Build connects to Postgres (and Redis, SQS, Kafka, SES when configured),
// builds the engine, and validates every active timeline and dialog tree
// against the registered action handlers.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Clock: clock.System{}}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)
	a.Store = postgres.New(db)
	logger.Info("[App] connected to database")

	if cfg.Redis.Enabled() {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.closers = append(a.closers, a.Redis.Close)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		logger.Info("[App] connected to redis", "addr", cfg.Redis.Addr)
	}

	observers, closers, err := buildObservers(ctx, cfg.Events)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closers...)

	var email outreach.EmailAPI
	if cfg.Delivery.SES.Enabled {
		client, err := outreach.NewSESClient(ctx, cfg.Delivery.SES)
		if err != nil {
			a.Close()
			return nil, err
		}
		email = client
		logger.Info("[App] SES email enabled", "region", cfg.Delivery.SES.Region)
	}
	dispatcher := outreach.New(a.Store, email, cfg.Delivery, a.Clock)
	if cfg.Tracking.Enabled() {
		a.Tracker = tracking.NewSigner(cfg.Tracking.Secret, cfg.Tracking.BaseURL)
		dispatcher.SetTracker(a.Tracker)
		logger.Info("[App] email tracking enabled", "base_url", cfg.Tracking.BaseURL)
	}

	defs := cached.Wrap(a.Store, cfg.Cache.DefinitionsSize, cfg.Cache.DefinitionsTTL())
	a.Engine = lifecycle.New(defs, dispatcher, a.Clock, events.NewBus(observers...), cfg.Lifecycle)
	a.Engine.Timelines.SetConcurrency(cfg.Sweep.Concurrency)
	if a.Redis != nil {
		a.Engine.Timelines.SetClaimer(timeline.NewRedisClaimer(a.Redis, cfg.Sweep.ClaimTTL()))
	}

	if err := a.validateDefinitions(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) validateDefinitions(ctx context.Context) error {
	timelines, err := a.Store.ListActiveTimelines(ctx)
	if err != nil {
		return fmt.Errorf("load timelines: %w", err)
	}
	trees, err := a.Store.ListActiveDialogTrees(ctx)
	if err != nil {
		return fmt.Errorf("load dialog trees: %w", err)
	}
	if err := a.Engine.ValidateDefinitions(timelines, trees); err != nil {
		return fmt.Errorf("invalid definitions: %w", err)
	}
	logger.Info("[App] definitions validated", "timelines", len(timelines), "dialog_trees", len(trees))
	return nil
}

// Close releases every handle in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// buildObservers always logs events and adds the SQS and Kafka sinks that
// are configured.
func buildObservers(ctx context.Context, cfg config.EventsConfig) ([]events.Observer, []func() error, error) {
	observers := []events.Observer{events.LogSink()}
	var closers []func() error

	if cfg.SQSQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SQSRegion))
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		observers = append(observers, events.NewSQSSink(sqs.NewFromConfig(awsCfg), cfg.SQSQueueURL).Observe)
		logger.Info("[App] SQS event sink enabled", "queue", cfg.SQSQueueURL)
	}
	if len(cfg.KafkaBrokers) > 0 {
		sink := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		observers = append(observers, sink.Observe)
		closers = append(closers, sink.Close)
		logger.Info("[App] Kafka event sink enabled", "topic", cfg.KafkaTopic, "brokers", len(cfg.KafkaBrokers))
	}
	return observers, closers, nil
}
