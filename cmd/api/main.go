package main

import (
	"context"
	"deliverly/internal/aws"
	"deliverly/internal/cache"
	"deliverly/internal/config"
	"deliverly/internal/database"
	"deliverly/internal/orchestrator"
	"deliverly/internal/processor"
	"deliverly/internal/rabbitmq"
	"deliverly/internal/server"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to the JSON configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return
	}

	// Configure logging
	setupLogger(cfg.Logging)
	log.Info().Str("app", cfg.AppName).Str("env", cfg.Env).Msg("Starting API server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := newDatabase(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize database")
		return
	}
	defer db.Close(context.Background())

	c, err := newCache(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize cache")
		return
	}
	defer c.Close()

	files, err := newFileService(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize file service")
		return
	}

	var (
		rabbit     rabbitmq.Client
		dispatcher orchestrator.Dispatcher
		active     *orchestrator.ActiveRuns
	)

	switch cfg.Backends.Queue {
	case config.BackendRabbitMQ:
		// Jobs run in cmd/worker, this process only publishes them
		rabbit, err = rabbitmq.NewClientFromConfig(cfg.RabbitMQ)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create RabbitMQ client")
			return
		}
		defer rabbit.Close()

		rabbitDispatcher := orchestrator.NewRabbitDispatcher(rabbit, cfg.RabbitMQ, nil)
		if err := rabbitDispatcher.Setup(); err != nil {
			log.Error().Err(err).Msg("Failed to declare RabbitMQ topology")
			return
		}
		dispatcher = rabbitDispatcher
	default:
		active = orchestrator.NewActiveRuns()
		runner := orchestrator.NewRunner(db, files, processor.DefaultRegistry(), active, orchestrator.RunnerOptions{
			BatchSize:   cfg.Jobs.BatchSize,
			StepDelay:   cfg.Jobs.StepDelay(),
			Concurrency: cfg.Jobs.Concurrency,
		})

		local := orchestrator.NewLocalDispatcher(runner, cfg.Jobs.Workers, cfg.Jobs.QueueSize)
		if err := local.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to start job workers")
			return
		}
		defer local.Stop()
		dispatcher = local

		go orchestrator.NewReaper(db, active, cfg.Jobs.StaleAfter(), cfg.Jobs.QueuedAfter()).Run(ctx)
	}

	httpServer := server.New(*cfg, db, c, rabbit, files, dispatcher, active)

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shut down HTTP server")
	}
}

func newDatabase(cfg *config.Config) (database.Database, error) {
	if cfg.Backends.Storage == config.BackendMongo {
		db, err := database.New(cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connection established")
		return db, nil
	}

	log.Info().Msg("Using in-memory job store")
	return database.NewMemoryDatabase(), nil
}

func newCache(cfg *config.Config) (cache.Cache, error) {
	if cfg.Backends.Cache == config.BackendRedis {
		c, err := cache.NewRedisCache(cfg.Redis)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Redis connection established")
		return c, nil
	}

	return cache.NewMemoryCache(), nil
}

func newFileService(cfg *config.Config) (aws.FileService, error) {
	if cfg.Backends.Files == config.BackendS3 {
		return aws.NewFileService(cfg.S3)
	}

	return aws.NewMemoryFileService(), nil
}

func setupLogger(config config.LoggingConfig) {
	// Set global log level
	level, err := zerolog.ParseLevel(config.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure logger output
	switch config.Format {
	case "json":
		// JSON is the default for zerolog
	case "console", "combined":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	// Add timestamp
	log.Logger = log.With().Timestamp().Logger()
}
