package main

import (
	"context"
	"deliverly/internal/aws"
	"deliverly/internal/config"
	"deliverly/internal/database"
	"deliverly/internal/orchestrator"
	"deliverly/internal/processor"
	"deliverly/internal/rabbitmq"
	"flag"
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

	if cfg.Backends.Queue != config.BackendRabbitMQ {
		log.Error().Str("queue", cfg.Backends.Queue).Msg("The worker needs the rabbitmq queue backend")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The rabbitmq backend implies mongo storage and s3 files
	db, err := database.New(cfg.MongoDB)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize database connection")
		return
	}
	defer db.Close(context.Background())
	log.Info().Msg("Database connection established")

	files, err := aws.NewFileService(cfg.S3)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize file service")
		return
	}

	// Initialize RabbitMQ client
	client, err := rabbitmq.NewClientFromConfig(cfg.RabbitMQ)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create RabbitMQ client")
		return
	}
	defer client.Close()

	if err := client.Health(); err != nil {
		log.Error().Err(err).Msg("RabbitMQ health check failed")
		return
	}

	active := orchestrator.NewActiveRuns()
	runner := orchestrator.NewRunner(db, files, processor.DefaultRegistry(), active, orchestrator.RunnerOptions{
		BatchSize:   cfg.Jobs.BatchSize,
		StepDelay:   cfg.Jobs.StepDelay(),
		Concurrency: cfg.Jobs.Concurrency,
	})

	dispatcher := orchestrator.NewRabbitDispatcher(client, cfg.RabbitMQ, runner)
	if err := dispatcher.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start consuming jobs")
		return
	}

	// Settle jobs left behind by a crashed worker or a lost message
	reaper := orchestrator.NewReaper(db, active, cfg.Jobs.StaleAfter(), cfg.Jobs.QueuedAfter())
	go reaper.Run(ctx)

	log.Info().Str("queue", cfg.RabbitMQ.QueueName).Msg("Worker running. Press CTRL+C to exit.")

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	dispatcher.Stop()
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
