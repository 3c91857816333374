package server

import (
	"bytes"
	"deliverly/internal/controller"
	"deliverly/internal/model"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// JobResponse is the wire form of a job. Timestamps are unix seconds.
type JobResponse struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	Processed     int    `json:"processed"`
	Total         *int   `json:"total"`
	StartedAt     int64  `json:"started_at"`
	FinishedAt    *int64 `json:"finished_at"`
	Error         string `json:"error,omitempty"`
	FileName      string `json:"file_name"`
	FileSize      int64  `json:"file_size"`
	Validator     string `json:"validator"`
	Percent       int    `json:"percent"`
	Message       string `json:"message"`
	ExportCSVURL  string `json:"export_csv_url,omitempty"`
	ExportJSONURL string `json:"export_json_url,omitempty"`
}

// SummaryResponse is a summary with its derived rates
type SummaryResponse struct {
	model.Summary
	SuccessRate float64 `json:"success_rate"`
	RiskRate    float64 `json:"risk_rate"`
}

// createJobHandler accepts a multipart upload in the "file" field
func (s *Server) createJobHandler(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File is too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "A CSV file is required in the \"file\" field"})
		return
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read uploaded file"})
		return
	}
	defer file.Close()

	job, err := s.jc.CreateJob(c.Request.Context(), header.Filename, header.Size, file)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"job_id": job.ID})
}

func (s *Server) listJobsHandler(c *gin.Context) {
	limit, offset := getPaginationParams(c)

	jobs, err := s.jc.ListJobs(c.Request.Context(), model.JobFilter{
		State:  model.JobState(c.Query("state")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		response = append(response, s.convertJobToResponse(job))
	}

	c.JSON(http.StatusOK, response)
}

func (s *Server) latestJobHandler(c *gin.Context) {
	job, err := s.jc.LatestFinished(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, s.convertJobToResponse(job))
}

func (s *Server) getJobHandler(c *gin.Context) {
	job, err := s.jc.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, s.convertJobToResponse(job))
}

func (s *Server) cancelJobHandler(c *gin.Context) {
	job, err := s.jc.CancelJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, s.convertJobToResponse(job))
}

// resultsHandler returns every row, or one page when ?page is given
func (s *Server) resultsHandler(c *gin.Context) {
	jobID := c.Param("id")

	if pageStr, ok := c.GetQuery("page"); ok {
		page, err := strconv.Atoi(pageStr)
		if err != nil || page < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page parameter"})
			return
		}
		pageSize, _ := strconv.Atoi(c.Query("page_size"))

		result, err := s.rr.GetResultsPage(c.Request.Context(), jobID, page, pageSize)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	rows, err := s.rr.GetResults(c.Request.Context(), jobID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, rows)
}

func (s *Server) summaryHandler(c *gin.Context) {
	summary, err := s.rr.GetSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SummaryResponse{
		Summary:     summary,
		SuccessRate: summary.SuccessRate(),
		RiskRate:    summary.RiskRate(),
	})
}

func (s *Server) exportCSVHandler(c *gin.Context) {
	jobID := c.Param("id")

	var buf bytes.Buffer
	if err := s.rr.ExportCSV(c.Request.Context(), jobID, &buf); err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "validation-"+jobID+".csv"))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (s *Server) exportJSONHandler(c *gin.Context) {
	jobID := c.Param("id")

	var buf bytes.Buffer
	if err := s.rr.ExportJSON(c.Request.Context(), jobID, &buf); err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "validation-"+jobID+".json"))
	c.Data(http.StatusOK, "application/json; charset=utf-8", buf.Bytes())
}

// writeError maps domain errors onto status codes
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrNotReady), errors.Is(err, model.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, controller.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// convertJobToResponse converts a job model to a response format
func (s *Server) convertJobToResponse(job *model.Job) JobResponse {
	response := JobResponse{
		ID:        job.ID,
		State:     string(job.State),
		Processed: job.Processed,
		Total:     job.Total,
		StartedAt: job.StartedAt.Unix(),
		Error:     job.Error,
		FileName:  job.FileName,
		FileSize:  job.FileSize,
		Validator: job.Validator,
		Percent:   job.Percent(),
		Message:   job.StateMessage(),
	}

	if job.FinishedAt != nil {
		finished := job.FinishedAt.Unix()
		response.FinishedAt = &finished
	}

	if job.State == model.StateFinished {
		response.ExportCSVURL = s.jc.ExportCSVURL(job.ID)
		response.ExportJSONURL = s.jc.ExportJSONURL(job.ID)
	}

	return response
}

// getPaginationParams extracts pagination parameters from request
func getPaginationParams(c *gin.Context) (int, int) {
	limit := 20
	offset := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = min(parsedLimit, 200)
		}
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		if parsedOffset, err := strconv.Atoi(offsetStr); err == nil && parsedOffset >= 0 {
			offset = parsedOffset
		}
	}

	return limit, offset
}
