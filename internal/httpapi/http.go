// Package httpapi exposes the intake pipeline over HTTP.
package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/refset/civic-intake/internal/audit"
	"github.com/refset/civic-intake/internal/catalog"
	"github.com/refset/civic-intake/internal/metrics"
	"github.com/refset/civic-intake/internal/pipeline"
)

const maxUploadBytes = 10 << 20

type Runner interface {
	RunPipeline(ctx context.Context, kind, content, lang string) (*pipeline.Result, error)
}

type Updater interface {
	ComposeUpdate(ctx context.Context, issue, reference, lang string) (string, error)
}

// Handler serves the intake API.
type Handler struct {
	runner   Runner
	services pipeline.Router
	audit    audit.Store
	notifier Updater
	metrics  *metrics.Counters
}

func NewHandler(runner Runner, services pipeline.Router, store audit.Store, notifier Updater, m *metrics.Counters) *Handler {
	return &Handler{runner: runner, services: services, audit: store, notifier: notifier, metrics: m}
}

// Router builds the gin engine with all routes.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID())
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))

	r.GET("/healthz", h.Health)
	api := r.Group("/api")
	{
		api.POST("/pipeline", h.Pipeline)
		api.POST("/process-intake", h.ProcessIntake)
		api.POST("/services/find", h.FindService)
		api.GET("/audit-log", h.GetAudit)
		api.POST("/audit-log", h.SaveAudit)
		api.POST("/notify-resident", h.NotifyResident)
	}
	return r
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		start := time.Now()
		c.Next()
		log.Printf("%s %s %d %s request_id=%s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond), id)
	}
}

type intakeRequest struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	Language string `json:"language"`
}

// Pipeline runs one intake from a JSON body.
func (h *Handler) Pipeline(c *gin.Context) {
	var req intakeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Type == "" || req.Data == "" {
		writeError(c, http.StatusBadRequest, "Missing type or data", pipeline.CategoryInvalidIntake)
		return
	}
	h.run(c, req)
}

// ProcessIntake accepts JSON or a multipart upload with type, file, note
// and language fields.
func (h *Handler) ProcessIntake(c *gin.Context) {
	if !strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		var req intakeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "Invalid request body", pipeline.CategoryInvalidIntake)
			return
		}
		if req.Type == "" {
			req.Type = "document"
		}
		h.run(c, req)
		return
	}

	req, err := multipartIntake(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error(), pipeline.CategoryInvalidIntake)
		return
	}
	h.run(c, req)
}

func multipartIntake(c *gin.Context) (intakeRequest, error) {
	rawType := c.DefaultPostForm("type", "file")
	req := intakeRequest{Language: c.DefaultPostForm("language", "en")}

	file, err := c.FormFile("file")
	if err != nil {
		req.Type = "document"
		req.Data = c.PostForm("note")
		if req.Data == "" {
			req.Data = rawType + " intake received"
		}
		return req, nil
	}
	if file.Size > maxUploadBytes {
		return req, fmt.Errorf("file too large (max %d MB)", maxUploadBytes>>20)
	}
	f, err := file.Open()
	if err != nil {
		return req, fmt.Errorf("read upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		return req, fmt.Errorf("read upload: %w", err)
	}

	switch rawType {
	case "audio", "voice":
		req.Type = "voice"
	case "image":
		req.Type = "image"
	default:
		req.Type = "document"
	}
	if req.Type == "document" && !strings.HasPrefix(file.Header.Get("Content-Type"), "image/") {
		req.Data = string(data)
		return req, nil
	}
	mime := file.Header.Get("Content-Type")
	if mime == "" {
		mime = "application/octet-stream"
	}
	req.Data = "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
	return req, nil
}

func (h *Handler) run(c *gin.Context, req intakeRequest) {
	res, err := h.runner.RunPipeline(c.Request.Context(), req.Type, req.Data, req.Language)
	if err != nil {
		cat := pipeline.CategoryOf(err)
		body := gin.H{"error": err.Error(), "category": cat}
		if res != nil {
			body["job_id"] = res.JobID
			body["audit"] = res.Audit
		}
		c.JSON(statusFor(cat), body)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"job_id":      res.JobID,
		"audit":       res.Audit,
		"translation": res.Message,
		"degraded":    res.Degraded,
	})
}

func statusFor(cat pipeline.Category) int {
	switch cat {
	case pipeline.CategoryInvalidIntake:
		return http.StatusBadRequest
	case pipeline.CategoryConfigMissing:
		return http.StatusServiceUnavailable
	case pipeline.CategoryTimeout:
		return http.StatusGatewayTimeout
	case pipeline.CategoryCanceled:
		return http.StatusRequestTimeout
	case pipeline.CategoryWorkflowBackend, pipeline.CategoryJobFailed, pipeline.CategoryNotification:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// FindService returns the catalog department for a free-text query.
func (h *Handler) FindService(c *gin.Context) {
	var req struct {
		Query string `json:"query"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		writeError(c, http.StatusBadRequest, "Missing query", pipeline.CategoryInvalidIntake)
		return
	}
	ctx := c.Request.Context()
	if err := h.services.EnsureInitialized(ctx); err != nil {
		log.Printf("Warning: catalog not ready: %v", err)
	}
	rec := h.services.FindBestMatch(ctx, req.Query, 3)
	resp := gin.H{
		"department":   catalog.Department(rec),
		"service_code": "GEN_001",
		"matched":      rec != nil,
	}
	if rec != nil {
		resp["service_code"] = rec.ServiceCode
		resp["sla_hours"] = rec.SLAHours
		resp["languages"] = rec.SupportedLanguages
	}
	c.JSON(http.StatusOK, resp)
}

const defaultAuditLimit = 50

// GetAudit returns one record by jobId, or the most recent records when no
// jobId is given.
func (h *Handler) GetAudit(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Query("jobId")
	if jobID == "" {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultAuditLimit)))
		if err != nil || limit < 1 {
			writeError(c, http.StatusBadRequest, "Invalid limit", pipeline.CategoryInvalidIntake)
			return
		}
		records, err := h.audit.List(ctx, limit)
		if err != nil {
			writeError(c, http.StatusInternalServerError, err.Error(), "")
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
		return
	}

	rec, err := h.audit.Get(ctx, jobID)
	if errors.Is(err, audit.ErrNotFound) {
		writeError(c, http.StatusNotFound, "Not found", "")
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	c.JSON(http.StatusOK, rec)
}

// SaveAudit stores an externally produced audit record.
func (h *Handler) SaveAudit(c *gin.Context) {
	var rec audit.Record
	if err := c.ShouldBindJSON(&rec); err != nil || rec.JobID == "" {
		writeError(c, http.StatusBadRequest, "Missing job_id", pipeline.CategoryInvalidIntake)
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Department.Department == "" {
		rec.Department.Department = catalog.GeneralServices
	}
	if err := h.audit.Save(c.Request.Context(), rec); err != nil {
		writeError(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "jobId": rec.JobID, "message": "Audit trail logged"})
}

// NotifyResident sends the standard acknowledgement in the resident's
// language.
func (h *Handler) NotifyResident(c *gin.Context) {
	var req struct {
		Language string `json:"resident_language"`
		JobID    string `json:"jobId"`
		Issue    string `json:"issue_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Language == "" || req.JobID == "" {
		writeError(c, http.StatusBadRequest, "Missing resident_language or jobId", pipeline.CategoryInvalidIntake)
		return
	}
	if req.Issue == "" {
		req.Issue = "request"
	}
	msg, err := h.notifier.ComposeUpdate(c.Request.Context(), req.Issue, req.JobID, req.Language)
	if err != nil {
		writeError(c, http.StatusBadGateway, err.Error(), pipeline.CategoryNotification)
		return
	}
	log.Printf("Notification composed for %s (%s)", req.JobID, req.Language)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Notification queued", "translated_message": msg})
}

// Health reports liveness and pipeline counters.
func (h *Handler) Health(c *gin.Context) {
	resp := gin.H{"status": "ok", "time": time.Now().Unix()}
	if h.metrics != nil {
		resp["metrics"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

func writeError(c *gin.Context, status int, msg string, cat pipeline.Category) {
	body := gin.H{"error": msg}
	if cat != "" {
		body["category"] = cat
	}
	c.JSON(status, body)
}
