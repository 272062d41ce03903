package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
	"github.com/dentprep/exam-service/internal/services"
	"github.com/dentprep/exam-service/internal/utils"
)

const (
	maxWaitSeconds   = 30
	waitPollInterval = 500 * time.Millisecond
)

type GenerationHandler struct {
	BaseHandler
	service services.GenerationService
}

func NewGenerationHandler(service services.GenerationService, logger utils.Logger) *GenerationHandler {
	return &GenerationHandler{
		BaseHandler: NewBaseHandler(logger),
		service:     service,
	}
}

// parseJobID reads the :id path parameter as a job id.
func (h *GenerationHandler) parseJobID(c *gin.Context) (string, bool) {
	raw := c.Param("id")
	if _, err := uuid.Parse(raw); err != nil {
		h.badRequest(c, "Invalid job id", err)
		return "", false
	}
	return raw, true
}

// RequestGeneration queues a generation job
// @Summary Request generation
// @Tags generations
// @Accept json
// @Produce json
// @Param job body services.GenerationRequest true "What to generate"
// @Success 202 {object} models.GenerationJob
// @Failure 400 {object} ErrorResponse
// @Router /generations [post]
func (h *GenerationHandler) RequestGeneration(c *gin.Context) {
	var req services.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request payload", err)
		return
	}

	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Requesting generation", "kind", req.Kind)

	job, err := h.service.Request(c.Request.Context(), userID, &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// ListGenerations lists the caller's jobs
// @Summary List generation jobs
// @Tags generations
// @Produce json
// @Param status query string false "Job status"
// @Param kind query string false "Generation kind"
// @Success 200 {object} ListResponse
// @Router /generations [get]
func (h *GenerationHandler) ListGenerations(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	filters := h.jobFilters(c)
	filters.UserID = &userID

	jobs, total, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse{Items: jobs, Total: total, Limit: filters.Limit, Offset: filters.Offset})
}

// GetGeneration returns a job. With wait=N it long-polls up to N seconds for
// the job to finish.
// @Summary Get generation job
// @Tags generations
// @Produce json
// @Param id path string true "Job ID"
// @Param wait query int false "Seconds to wait for completion"
// @Success 200 {object} models.GenerationJob
// @Router /generations/{id} [get]
func (h *GenerationHandler) GetGeneration(c *gin.Context) {
	jobID, ok := h.parseJobID(c)
	if !ok {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	wait, _ := strconv.Atoi(c.Query("wait"))
	if wait <= 0 {
		job, err := h.service.Get(c.Request.Context(), jobID, userID)
		if err != nil {
			h.handleServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(min(wait, maxWaitSeconds))*time.Second)
	defer cancel()

	job, err := h.service.Wait(ctx, jobID, userID, waitPollInterval)
	if err != nil && job == nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelGeneration cancels a queued or running job
// @Summary Cancel generation job
// @Tags generations
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} models.GenerationJob
// @Failure 409 {object} ErrorResponse
// @Router /generations/{id}/cancel [post]
func (h *GenerationHandler) CancelGeneration(c *gin.Context) {
	jobID, ok := h.parseJobID(c)
	if !ok {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	job, err := h.service.Cancel(c.Request.Context(), jobID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListDecks lists the caller's flashcard decks
// @Summary List decks
// @Tags generations
// @Produce json
// @Success 200 {object} ListResponse
// @Router /decks [get]
func (h *GenerationHandler) ListDecks(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	limit, offset := h.parsePagination(c)

	decks, total, err := h.service.ListDecks(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse{Items: decks, Total: total, Limit: limit, Offset: offset})
}

// GetDeck returns a deck with its cards
// @Summary Get deck
// @Tags generations
// @Produce json
// @Param id path uint true "Deck ID"
// @Success 200 {object} models.FlashcardDeck
// @Router /decks/{id} [get]
func (h *GenerationHandler) GetDeck(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	deck, err := h.service.GetDeck(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, deck)
}

// ===== ADMIN =====

// ListAllJobs lists jobs of every user
// @Summary List all generation jobs
// @Tags admin
// @Produce json
// @Success 200 {object} ListResponse
// @Router /admin/jobs [get]
func (h *GenerationHandler) ListAllJobs(c *gin.Context) {
	filters := h.jobFilters(c)
	if userID := c.Query("user_id"); userID != "" {
		filters.UserID = &userID
	}

	jobs, total, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse{Items: jobs, Total: total, Limit: filters.Limit, Offset: filters.Offset})
}

// RetryJob requeues a failed job
// @Summary Retry generation job
// @Tags admin
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} models.GenerationJob
// @Failure 409 {object} ErrorResponse
// @Router /admin/jobs/{id}/retry [post]
func (h *GenerationHandler) RetryJob(c *gin.Context) {
	jobID, ok := h.parseJobID(c)
	if !ok {
		return
	}
	adminID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Retrying generation job", "job_id", jobID)

	job, err := h.service.Retry(c.Request.Context(), jobID, adminID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *GenerationHandler) jobFilters(c *gin.Context) repositories.JobFilters {
	limit, offset := h.parsePagination(c)
	filters := repositories.JobFilters{Limit: limit, Offset: offset}
	if status := c.Query("status"); status != "" {
		s := models.JobStatus(status)
		filters.Status = &s
	}
	if kind := c.Query("kind"); kind != "" {
		k := models.GenerationKind(kind)
		filters.Kind = &k
	}
	return filters
}
