package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/api"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/config"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/database"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/dispatch"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/logging"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/pipeline"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/queue"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/repository"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/s3storage"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/training"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logg := logging.New(logging.Options{Service: "teleops-api", Level: cfg.App.LogLevel, Format: cfg.App.LogOutputFormat()})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "api stopped", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logging.Logger) error {
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	pool, err := database.Connect(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if cfg.DB.AutoMigrate {
		if err := database.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	store, err := s3storage.New(cfg.S3)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	media := repository.NewMediaRepository(pool)
	intake, err := pipeline.NewIntake(
		dispatch.NewPostgresStore(pool).WithMaxAttempts(cfg.Pipeline.MaxAttempts),
		media,
		logg,
	)
	if err != nil {
		return err
	}

	queueClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer queueClient.Close()

	srv, err := api.New(api.Deps{
		Address:   cfg.App.Address,
		Queue:     intake,
		Media:     media,
		Training:  training.NewPostgresStore(pool),
		Presigner: store,
		Nudge: func(ctx context.Context) error {
			return queue.EnqueueProcessBatch(ctx, queueClient, cfg.Pipeline.BatchSize)
		},
		Gatherer: prometheus.DefaultGatherer,
		Logger:   logg,
	})
	if err != nil {
		return fmt.Errorf("init api: %w", err)
	}
	return srv.Run(ctx)
}
