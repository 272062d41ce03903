package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
	"github.com/dentprep/exam-service/internal/services"
	"github.com/dentprep/exam-service/internal/utils"
)

type QuizHandler struct {
	BaseHandler
	quizService     services.QuizService
	questionService services.QuestionService
}

func NewQuizHandler(quizService services.QuizService, questionService services.QuestionService, logger utils.Logger) *QuizHandler {
	return &QuizHandler{
		BaseHandler:     NewBaseHandler(logger),
		quizService:     quizService,
		questionService: questionService,
	}
}

// ListSubjects returns every subject
// @Summary List subjects
// @Tags quizzes
// @Produce json
// @Success 200 {array} models.Subject
// @Router /subjects [get]
func (h *QuizHandler) ListSubjects(c *gin.Context) {
	subjects, err := h.questionService.ListSubjects(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, subjects)
}

// StartQuiz starts a new session or resumes the active one
// @Summary Start quiz
// @Tags quizzes
// @Accept json
// @Produce json
// @Param quiz body services.StartQuizRequest true "Quiz options"
// @Success 201 {object} services.QuizSessionResponse
// @Success 200 {object} services.QuizSessionResponse "Resumed session"
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /quizzes [post]
func (h *QuizHandler) StartQuiz(c *gin.Context) {
	var req services.StartQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request payload", err)
		return
	}

	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Starting quiz", "mode", req.Mode)

	resp, err := h.quizService.Start(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	status := http.StatusCreated
	if resp.Resumed {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

// ListQuizzes lists the caller's sessions
// @Summary List quiz sessions
// @Tags quizzes
// @Produce json
// @Param status query string false "Session status"
// @Param mode query string false "Quiz mode"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} ListResponse
// @Router /quizzes [get]
func (h *QuizHandler) ListQuizzes(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	limit, offset := h.parsePagination(c)
	filters := repositories.SessionFilters{
		Limit:     limit,
		Offset:    offset,
		SortBy:    "started_at",
		SortOrder: "desc",
	}
	if status := c.Query("status"); status != "" {
		s := models.SessionStatus(status)
		filters.Status = &s
	}
	if mode := c.Query("mode"); mode != "" {
		m := models.QuizMode(mode)
		filters.Mode = &m
	}

	sessions, total, err := h.quizService.ListSessions(c.Request.Context(), userID, filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListResponse{Items: sessions, Total: total, Limit: limit, Offset: offset})
}

// GetQuiz returns a session with its questions in presentation order
// @Summary Get quiz session
// @Tags quizzes
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} services.QuizSessionResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /quizzes/{id} [get]
func (h *QuizHandler) GetQuiz(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	resp, err := h.quizService.Get(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SubmitAnswer records or replaces the answer to one question
// @Summary Submit answer
// @Tags quizzes
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Param answer body services.SubmitAnswerRequest true "Answer"
// @Success 200 {object} services.AnswerResult
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /quizzes/{id}/answers [post]
func (h *QuizHandler) SubmitAnswer(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request payload", err)
		return
	}

	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	result, err := h.quizService.SubmitAnswer(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CompleteQuiz scores the session
// @Summary Complete quiz
// @Tags quizzes
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} services.QuizResult
// @Router /quizzes/{id}/complete [post]
func (h *QuizHandler) CompleteQuiz(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Completing quiz", "session_id", id)

	result, err := h.quizService.Complete(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ReviewQuiz returns a completed session with answers and explanations
// @Summary Review quiz
// @Tags quizzes
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} services.ReviewResponse
// @Router /quizzes/{id}/review [get]
func (h *QuizHandler) ReviewQuiz(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	review, err := h.quizService.Review(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, review)
}

// RetakeQuiz starts a new session over the same questions with a new order
// @Summary Retake quiz
// @Tags quizzes
// @Produce json
// @Param id path uint true "Session ID"
// @Success 201 {object} services.QuizSessionResponse
// @Router /quizzes/{id}/retake [post]
func (h *QuizHandler) RetakeQuiz(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	resp, err := h.quizService.Retake(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}
