package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/finquery/finquery/internal/api"
	"github.com/finquery/finquery/internal/checkpoint"
	checkpointmemory "github.com/finquery/finquery/internal/checkpoint/memory"
	checkpointpostgres "github.com/finquery/finquery/internal/checkpoint/postgres"
	"github.com/finquery/finquery/internal/config"
	"github.com/finquery/finquery/internal/dataset"
	datasets3 "github.com/finquery/finquery/internal/dataset/s3"
	"github.com/finquery/finquery/internal/genai"
	"github.com/finquery/finquery/internal/observability"
	"github.com/finquery/finquery/internal/pipeline"
	"github.com/finquery/finquery/internal/store/duckdb"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("finquery-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	analyticalStore, err := duckdb.Open(context.Background(), cfg.Store.Path, duckdb.Options{
		RowLimit: cfg.Pipeline.RowLimit,
	})
	if err != nil {
		logger.Error("failed to open analytical store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = analyticalStore.Close() }()

	source, err := datasetSource(cfg)
	if err != nil {
		logger.Error("failed to initialize dataset source", slog.Any("error", err))
		os.Exit(1)
	}

	loader := &duckdb.Loader{
		Store:  analyticalStore,
		Source: source,
		Logger: logger,
		Datasets: []duckdb.Dataset{
			{Table: pipeline.ClientsTable, File: cfg.Store.ClientsFile},
			{Table: pipeline.AllocationsTable, File: cfg.Store.AllocationsFile},
		},
	}
	if err := loader.Load(context.Background()); err != nil {
		logger.Error("failed to load datasets", slog.Any("error", err))
		os.Exit(1)
	}

	checkpoints, checkpointHealth, closeCheckpoints, err := checkpointStore(cfg)
	if err != nil {
		logger.Error("failed to initialize checkpoint store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeCheckpoints()

	generator, err := genai.NewOpenAIGenerator(genai.OpenAIConfig{
		BaseURL:     cfg.Generation.BaseURL,
		APIKey:      cfg.Generation.APIKey,
		Model:       cfg.Generation.Model,
		Temperature: cfg.Generation.Temperature,
		Timeout:     cfg.Generation.Timeout,
		MaxRetries:  cfg.Generation.MaxRetries,
	})
	if err != nil {
		logger.Error("failed to initialize text generator", slog.Any("error", err))
		os.Exit(1)
	}

	subjectGrader, err := pipeline.ClassifierFromMode(cfg.Pipeline.SubjectGraderMode, generator)
	if err != nil {
		logger.Error("failed to configure subject grader", slog.Any("error", err))
		os.Exit(1)
	}

	asker, err := pipeline.New(pipeline.Dependencies{
		Store:         analyticalStore,
		Generator:     generator,
		Checkpoints:   checkpoints,
		Logger:        logger,
		SubjectGrader: subjectGrader,
	})
	if err != nil {
		logger.Error("failed to build pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:   logger,
		Pipeline: asker,
		Readiness: api.CombineReadinessChecks(
			analyticalStore.HealthCheck,
			checkpointHealth,
		),
		DependencyTimeout: time.Second,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func datasetSource(cfg config.Config) (dataset.Source, error) {
	switch cfg.Dataset.Source {
	case config.DatasetSourceS3:
		return datasets3.New(datasets3.Config{
			Endpoint:        cfg.Dataset.Endpoint,
			Region:          cfg.Dataset.Region,
			Bucket:          cfg.Dataset.Bucket,
			AccessKeyID:     cfg.Dataset.AccessKeyID,
			SecretAccessKey: cfg.Dataset.SecretAccessKey,
			UseSSL:          cfg.Dataset.UseSSL,
			Prefix:          cfg.Dataset.Prefix,
		})
	default:
		return dataset.NewFSSource(cfg.Dataset.Dir)
	}
}

func checkpointStore(cfg config.Config) (checkpoint.Store, api.ReadinessCheck, func(), error) {
	if cfg.Checkpoint.Backend == config.CheckpointPostgres {
		db, err := checkpointpostgres.Open(context.Background(), checkpointpostgres.DBConfig{
			DSN:             cfg.Checkpoint.DSN,
			MaxOpenConns:    cfg.Checkpoint.MaxOpenConns,
			MaxIdleConns:    cfg.Checkpoint.MaxIdleConns,
			ConnMaxIdleTime: cfg.Checkpoint.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Checkpoint.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		pgStore := checkpointpostgres.NewStore(db)
		if err := pgStore.EnsureSchema(context.Background()); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		return pgStore, pgStore.HealthCheck, func() { _ = db.Close() }, nil
	}

	memStore := checkpointmemory.NewStore()
	return memStore, memStore.HealthCheck, func() {}, nil
}
