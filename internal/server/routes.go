package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	if len(s.config.CORS.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.config.CORS.AllowedOrigins,
			AllowMethods:     s.config.CORS.AllowedMethods,
			AllowHeaders:     s.config.CORS.AllowedHeaders,
			AllowCredentials: s.config.CORS.AllowCredentials,
			MaxAge:           time.Duration(s.config.CORS.MaxAge) * time.Second,
		}))
	}

	r.GET("/health", s.healthHandler)
	r.GET("/online", s.onlineHandler)

	jobs := r.Group("/jobs")
	{
		jobs.POST("", s.limitBody(), s.createJobHandler)
		jobs.GET("", s.listJobsHandler)
		jobs.GET("/latest", s.latestJobHandler)
		jobs.GET("/:id", s.getJobHandler)
		jobs.POST("/:id/cancel", s.cancelJobHandler)
		jobs.GET("/:id/results", s.resultsHandler)
		jobs.GET("/:id/summary", s.summaryHandler)
		jobs.GET("/:id/export.csv", s.exportCSVHandler)
		jobs.GET("/:id/export.json", s.exportJSONHandler)
	}

	return r
}
