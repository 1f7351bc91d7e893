// Package api exposes the transcription queue over REST plus an SSE stream
// for live job events.
package api

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skillsenselab/voxpipe/audio"
	"github.com/skillsenselab/voxpipe/job"
	"github.com/skillsenselab/voxpipe/logger"
	"github.com/skillsenselab/voxpipe/server"
	"github.com/skillsenselab/voxpipe/sse"
	"github.com/skillsenselab/voxpipe/transcription"
)

// Handler wires the job queue and provider registry to HTTP routes.
type Handler struct {
	queue    *job.Queue
	registry *transcription.Registry
	configs  transcription.ConfigSource
	hub      *sse.Hub
	probe    *audio.Decoder
	log      *logger.Logger
}

// NewHandler creates the API handler. probe may be nil; job durations are
// then resolved during transcription instead of at enqueue time.
func NewHandler(q *job.Queue, reg *transcription.Registry, configs transcription.ConfigSource, hub *sse.Hub, probe *audio.Decoder, log *logger.Logger) *Handler {
	return &Handler{
		queue:    q,
		registry: reg,
		configs:  configs,
		hub:      hub,
		probe:    probe,
		log:      log.WithComponent("api"),
	}
}

// Register mounts all API routes on the server: the REST routes on the Gin
// engine and the SSE stream directly on the root mux so it bypasses Gin's
// response writer.
func (h *Handler) Register(s *server.Server) {
	h.RegisterRoutes(s.GinEngine())
	s.Handle("/v1/events", h.Events())
}

// RegisterRoutes mounts the REST routes on a Gin router.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.POST("/jobs", h.createJob)
	v1.GET("/jobs", h.listJobs)
	v1.GET("/jobs/:id", h.getJob)
	v1.POST("/jobs/:id/cancel", h.cancelJob)
	v1.POST("/jobs/:id/requeue", h.requeueJob)
	v1.GET("/providers", h.listProviders)
	v1.POST("/providers/:id/validate", h.validateProvider)
	v1.POST("/providers/:id/invalidate", h.invalidateProvider)
}

// Events returns the SSE stream handler.
func (h *Handler) Events() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := "jobs:" + uuid.NewString()
		sse.ServeSSE(h.hub, w, r, clientID)
	})
}

type createJobRequest struct {
	SourcePath      string  `json:"source_path" binding:"required"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func (h *Handler) createJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		server.RespondBadRequest(c, err)
		return
	}

	if _, err := os.Stat(req.SourcePath); err != nil {
		server.RespondBadRequest(c, fmt.Errorf("source not found: %s", req.SourcePath))
		return
	}

	duration := time.Duration(req.DurationSeconds * float64(time.Second))
	if duration <= 0 && h.probe != nil {
		// Best effort; transcription falls back to the decoded sample count.
		if d, err := h.probe.Duration(c.Request.Context(), req.SourcePath); err == nil {
			duration = d
		}
	}

	id, err := h.queue.Enqueue(req.SourcePath, duration)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}

	j, ok := h.queue.Job(id)
	if !ok {
		server.RespondWithError(c, job.ErrNotFound)
		return
	}
	server.RespondCreated(c, j)
}

func (h *Handler) listJobs(c *gin.Context) {
	server.RespondOK(c, h.queue.Jobs())
}

func (h *Handler) getJob(c *gin.Context) {
	j, ok := h.queue.Job(c.Param("id"))
	if !ok {
		server.RespondWithError(c, job.ErrNotFound)
		return
	}
	server.RespondOK(c, j)
}

func (h *Handler) cancelJob(c *gin.Context) {
	id := c.Param("id")
	if err := h.queue.Cancel(id); err != nil {
		server.RespondWithError(c, err)
		return
	}
	j, _ := h.queue.Job(id)
	server.RespondAccepted(c, j)
}

func (h *Handler) requeueJob(c *gin.Context) {
	id := c.Param("id")
	if err := h.queue.Requeue(id); err != nil {
		server.RespondWithError(c, err)
		return
	}
	j, _ := h.queue.Job(id)
	server.RespondAccepted(c, j)
}

// ProviderInfo describes one configured provider for the UI.
type ProviderInfo struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	DisplayName string `json:"display_name"`
	Priority    int    `json:"priority"`
	Enabled     bool   `json:"enabled"`
	Available   bool   `json:"available"`
}

func (h *Handler) listProviders(c *gin.Context) {
	available := make(map[string]bool)
	for _, id := range h.registry.ListConfigured(c.Request.Context()) {
		available[id] = true
	}

	infos := make([]ProviderInfo, 0)
	for _, id := range h.configs.ProviderIDs() {
		cfg, ok := h.configs.ProviderConfig(id)
		if !ok {
			continue
		}
		name := cfg.DisplayName
		if name == "" {
			name = cfg.ID
		}
		infos = append(infos, ProviderInfo{
			ID:          cfg.ID,
			Kind:        cfg.Kind,
			DisplayName: name,
			Priority:    cfg.Priority,
			Enabled:     cfg.Enabled,
			Available:   available[cfg.ID],
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Priority != infos[j].Priority {
			return infos[i].Priority < infos[j].Priority
		}
		return infos[i].ID < infos[j].ID
	})
	server.RespondOK(c, infos)
}

func (h *Handler) validateProvider(c *gin.Context) {
	p, err := h.registry.Resolve(c.Param("id"))
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondOK(c, p.Validate(c.Request.Context()))
}

// invalidateProvider drops the cached provider instance so the next job
// rebuilds it from current configuration and credentials.
func (h *Handler) invalidateProvider(c *gin.Context) {
	h.registry.Invalidate(c.Param("id"))
	server.RespondNoContent(c)
}
