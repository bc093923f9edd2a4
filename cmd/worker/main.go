package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/annotation"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/classify"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/config"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/database"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/dispatch"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/lease"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/logging"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/metrics"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/pipeline"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/repository"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/s3storage"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/training"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/worker"
)

const schedulerLeaseKey = "teleops:scheduler:process-batch"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logg := logging.New(logging.Options{Service: "teleops-worker", Level: cfg.App.LogLevel, Format: cfg.App.LogOutputFormat()})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "worker stopped", err)
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
	if err := store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}

	videoService, err := annotation.NewGoogleVideoService(ctx, annotation.GoogleConfig{
		CredentialsJSON: cfg.GCP.CredentialsJSON,
		CredentialsFile: cfg.GCP.CredentialsFile,
		LocationID:      cfg.GCP.VideoLocation,
		PollInterval:    cfg.Pipeline.PollInterval,
	})
	if err != nil {
		return err
	}
	annotator := annotation.NewClient(store, videoService,
		annotation.WithLogger(logg),
	)

	sink, closeSinks, err := training.OpenSinks(ctx, training.ExportConfig{
		ProjectID: cfg.GCP.ProjectID,
		Topic:     cfg.Export.PubSubTopic,
		Dataset:   cfg.Export.BigQueryDataset,
		Table:     cfg.Export.BigQueryTable,
	}, gcpOptions(cfg.GCP)...)
	defer func() {
		if err := closeSinks(); err != nil {
			logg.Warn(ctx, "close export sinks", err)
		}
	}()
	if err != nil {
		return err
	}

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)
	p, err := pipeline.New(pipeline.Params{
		Queue:     dispatch.NewPostgresStore(pool).WithMaxAttempts(cfg.Pipeline.MaxAttempts),
		Media:     repository.NewMediaRepository(pool),
		Annotator: annotator,
		Deriver:   training.NewDeriver(training.NewPostgresStore(pool), classify.Default(), sink, logg),
		Metrics:   pipelineMetrics,
		Logger:    logg,
	})
	if err != nil {
		return err
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	queueClient := asynq.NewClient(redisOpt)
	defer queueClient.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	schedulerLease, err := lease.NewRedisLease(lease.NewRedisClient(rdb), schedulerLeaseKey, cfg.Pipeline.SchedulerLockTTL)
	if err != nil {
		return err
	}
	scheduler, err := worker.NewScheduler(worker.SchedulerParams{
		Logger:    logg,
		Lease:     schedulerLease,
		Client:    queueClient,
		Interval:  cfg.Pipeline.ScheduleInterval,
		BatchSize: cfg.Pipeline.BatchSize,
	})
	if err != nil {
		return err
	}
	go func() {
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "batch scheduler stopped", err)
		}
	}()

	go serveMetrics(ctx, cfg.App.Address, logg)

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Pipeline.Concurrency,
		Logger:      newAsynqLogger(logg),
	})
	processor := worker.NewProcessor(p, cfg.Pipeline.BatchSize, logg)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	logg.Info(ctx, "worker started")
	if err := server.Run(processor.Handler()); err != nil {
		return fmt.Errorf("run asynq server: %w", err)
	}
	return nil
}

func gcpOptions(cfg config.GCPConfig) []option.ClientOption {
	switch {
	case cfg.CredentialsJSON != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(cfg.CredentialsJSON))}
	case cfg.CredentialsFile != "":
		return []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, logg *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "metrics server stopped", err)
	}
}
