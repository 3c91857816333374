package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) healthHandler(c *gin.Context) {
	ctx := c.Request.Context()

	dbErr := s.sc.DBHealth()
	cacheErr := s.sc.CacheHealth(ctx)
	queueErr := s.sc.QueueHealth()
	fsErr := s.sc.FileServiceHealth(ctx)

	res := gin.H{
		"database":     dbErr == nil,
		"cache":        cacheErr == nil,
		"queue":        queueErr == nil,
		"file_service": fsErr == nil,
	}

	if dbErr != nil || cacheErr != nil || queueErr != nil || fsErr != nil {
		c.JSON(http.StatusServiceUnavailable, res)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) onlineHandler(c *gin.Context) {
	online := s.sc.Online()

	c.String(http.StatusOK, online)
}
