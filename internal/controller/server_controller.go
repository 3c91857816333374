package controller

import (
	"context"
	"deliverly/internal/aws"
	"deliverly/internal/cache"
	"deliverly/internal/database"
	"deliverly/internal/rabbitmq"
)

type ServerController interface {
	DBHealth() error
	CacheHealth(ctx context.Context) error
	QueueHealth() error
	FileServiceHealth(ctx context.Context) error
	Online() string
}

type serverController struct {
	db     database.Database
	cache  cache.Cache
	rabbit rabbitmq.Client
	files  aws.FileService
}

// NewServer creates the health controller. rabbit is nil when jobs are
// dispatched in-process.
func NewServer(db database.Database, cache cache.Cache, rabbit rabbitmq.Client, files aws.FileService) ServerController {
	return &serverController{
		db:     db,
		cache:  cache,
		rabbit: rabbit,
		files:  files,
	}
}

func (sc *serverController) Online() string {
	return "Online"
}

func (sc *serverController) DBHealth() error {
	return sc.db.Health()
}

func (sc *serverController) CacheHealth(ctx context.Context) error {
	return sc.cache.Ping(ctx)
}

func (sc *serverController) QueueHealth() error {
	if sc.rabbit == nil {
		return nil
	}
	return sc.rabbit.Health()
}

func (sc *serverController) FileServiceHealth(ctx context.Context) error {
	return sc.files.TestConnection(ctx)
}
