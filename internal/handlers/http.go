// Package handlers exposes the hazard workflow over HTTP and Lambda.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tendant/simple-hazard-pipeline/internal/dbosruntime"
	"github.com/tendant/simple-hazard-pipeline/internal/metadata"
	"github.com/tendant/simple-hazard-pipeline/internal/storage"
	"github.com/tendant/simple-hazard-pipeline/internal/workflows"
	"github.com/tendant/simple-hazard-pipeline/pkg/pipeline"
)

const (
	// maxUploadBytes caps source image uploads
	maxUploadBytes = 32 << 20

	defaultRunLimit = 20
	maxRunLimit     = 200
)

// HTTPHandler serves the worker API
type HTTPHandler struct {
	workflowRunner *workflows.WorkflowRunner
	audits         metadata.AuditStore
	images         storage.ImageStore
	metrics        http.Handler
	log            zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler. images and metricsHandler may be
// nil, which leaves the upload and metrics routes unmounted.
func NewHTTPHandler(runner *workflows.WorkflowRunner, audits metadata.AuditStore, images storage.ImageStore, metricsHandler http.Handler, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		workflowRunner: runner,
		audits:         audits,
		images:         images,
		metrics:        metricsHandler,
		log:            log,
	}
}

// Register mounts the routes on r
func (h *HTTPHandler) Register(r *gin.Engine) {
	r.GET("/health", h.health)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}

	v1 := r.Group("/v1")
	{
		v1.POST("/process", h.process)
		v1.POST("/process/async", h.processAsync)
		v1.GET("/runs", h.listRuns)
		v1.GET("/runs/:id", h.status)
		v1.GET("/audit/latest", h.latestAudit)
		if h.images != nil {
			v1.POST("/content", h.upload)
		}
	}
}

func (h *HTTPHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func bindRequest(c *gin.Context) (pipeline.ProcessRequest, bool) {
	var req pipeline.ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid request: "+err.Error()))
		return req, false
	}
	if req.Job == "" {
		req.Job = pipeline.JobHazardAssessment
	}
	if req.Bucket == "" || req.Key == "" {
		c.JSON(http.StatusBadRequest, errorResponse("bucket and key are required"))
		return req, false
	}
	return req, true
}

// process handles POST /v1/process and runs the workflow synchronously
func (h *HTTPHandler) process(c *gin.Context) {
	req, ok := bindRequest(c)
	if !ok {
		return
	}

	runID := uuid.New().String()
	h.log.Info().Str("run_id", runID).Str("bucket", req.Bucket).Str("key", req.Key).Msg("Processing request")

	result, err := h.workflowRunner.Run(&workflows.WorkflowContext{
		Ctx:     c.Request.Context(),
		Request: req,
		RunID:   runID,
	})
	if err != nil {
		h.handleError(c, runID, err)
		return
	}

	skipped, _ := result.Outputs[pipeline.OutputSkipped].(bool)
	c.JSON(http.StatusOK, pipeline.ProcessResponse{
		RunID:   runID,
		Skipped: skipped,
		Outputs: result.Outputs,
	})
}

// processAsync handles POST /v1/process/async and enqueues on DBOS
func (h *HTTPHandler) processAsync(c *gin.Context) {
	req, ok := bindRequest(c)
	if !ok {
		return
	}

	runID, err := h.workflowRunner.RunAsync(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, "", err)
		return
	}

	h.log.Info().Str("run_id", runID).Msg("Workflow enqueued")
	c.JSON(http.StatusAccepted, pipeline.ProcessResponse{RunID: runID})
}

// status handles GET /v1/runs/:id
func (h *HTTPHandler) status(c *gin.Context) {
	status, err := h.workflowRunner.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, dbosruntime.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, errorResponse("run not found"))
			return
		}
		h.handleError(c, c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// upload handles POST /v1/content?bucket=&key= with the raw image as body.
// The response carries the key to process, which differs from the requested
// key on stores that assign their own.
func (h *HTTPHandler) upload(c *gin.Context) {
	loc := storage.Location{Bucket: c.Query("bucket"), Key: c.Query("key")}
	if loc.Bucket == "" || loc.Key == "" {
		c.JSON(http.StatusBadRequest, errorResponse("bucket and key are required"))
		return
	}
	contentType := c.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	stored, err := storage.Save(c.Request.Context(), h.images, loc, body, contentType)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, errorResponse("image too large"))
			return
		}
		h.handleError(c, "", err)
		return
	}

	h.log.Info().Str("uri", stored.URI()).Str("content_type", contentType).Msg("Source image stored")
	c.JSON(http.StatusCreated, pipeline.UploadResponse{
		Bucket: stored.Bucket,
		Key:    stored.Key,
		URI:    stored.URI(),
	})
}

// listRuns handles GET /v1/runs?job=&limit=
func (h *HTTPHandler) listRuns(c *gin.Context) {
	job := c.DefaultQuery("job", pipeline.JobHazardAssessment)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultRunLimit)))
	if err != nil || limit <= 0 || limit > maxRunLimit {
		c.JSON(http.StatusBadRequest, errorResponse(fmt.Sprintf("limit must be between 1 and %d", maxRunLimit)))
		return
	}

	runs, err := h.workflowRunner.ListRuns(c.Request.Context(), job, limit)
	if err != nil {
		h.handleError(c, "", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// latestAudit handles GET /v1/audit/latest
func (h *HTTPHandler) latestAudit(c *gin.Context) {
	rec, err := h.audits.GetAudit(c.Request.Context(), metadata.LatestAuditID)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			c.JSON(http.StatusNotFound, errorResponse("no audit record yet"))
			return
		}
		h.handleError(c, "", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *HTTPHandler) handleError(c *gin.Context, runID string, err error) {
	switch {
	case errors.Is(err, workflows.ErrInvalidRequest), errors.Is(err, workflows.ErrWorkflowNotFound):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Str("run_id", runID).Msg("Request failed")
		c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
	}
}

func errorResponse(message string) gin.H {
	return gin.H{"error": message}
}
