package server

import (
	"deliverly/internal/aws"
	"deliverly/internal/cache"
	"deliverly/internal/config"
	"deliverly/internal/controller"
	"deliverly/internal/database"
	"deliverly/internal/orchestrator"
	"deliverly/internal/rabbitmq"
	"fmt"
	"net/http"
	"time"
)

type Server struct {
	sc     controller.ServerController
	jc     controller.JobController
	rr     controller.ResultsRepository
	config config.Config
}

// New wires the controllers over the given infrastructure and returns the
// HTTP server. rabbit may be nil and active may be nil when jobs run in
// another process.
func New(config config.Config, db database.Database, cache cache.Cache, rabbit rabbitmq.Client, fileService aws.FileService,
	dispatcher orchestrator.Dispatcher, active *orchestrator.ActiveRuns) *http.Server {
	sc := controller.NewServer(db, cache, rabbit, fileService)
	jc := controller.NewJobController(db, fileService, dispatcher, active, cache, config)
	rr := controller.NewResultsRepository(db, db, cache, config.Redis.TTL(), config.Jobs.ResultsPageSize)

	server := NewServer(config, sc, jc, rr)

	return &http.Server{
		Addr:         fmt.Sprintf(":%v", config.Port),
		Handler:      server.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Minute,
	}
}

// NewServer builds the route handlers around existing controllers
func NewServer(config config.Config, sc controller.ServerController, jc controller.JobController, rr controller.ResultsRepository) *Server {
	return &Server{
		sc:     sc,
		jc:     jc,
		rr:     rr,
		config: config,
	}
}
