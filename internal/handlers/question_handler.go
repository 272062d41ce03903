package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
	"github.com/dentprep/exam-service/internal/services"
	"github.com/dentprep/exam-service/internal/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// maxImportBytes caps an uploaded question workbook.
const maxImportBytes = 10 << 20

type QuestionHandler struct {
	BaseHandler
	service services.QuestionService
}

func NewQuestionHandler(service services.QuestionService, logger utils.Logger) *QuestionHandler {
	return &QuestionHandler{
		BaseHandler: NewBaseHandler(logger),
		service:     service,
	}
}

// PublishRequest toggles visibility for a set of questions.
type PublishRequest struct {
	IDs       []uint `json:"ids" binding:"required"`
	Published bool   `json:"published"`
}

// CreateQuestion creates a question
// @Summary Create question
// @Tags admin
// @Accept json
// @Produce json
// @Param question body services.CreateQuestionRequest true "Question"
// @Success 201 {object} models.Question
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/questions [post]
func (h *QuestionHandler) CreateQuestion(c *gin.Context) {
	var req services.CreateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request payload", err)
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	question, err := h.service.Create(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, question)
}

// ListQuestions lists questions, drafts included
// @Summary List questions
// @Tags admin
// @Produce json
// @Param subject_id query int false "Subject"
// @Param difficulty query string false "Difficulty"
// @Param source query string false "manual, import or ai"
// @Param published query bool false "Visibility"
// @Param search query string false "Stem search"
// @Success 200 {object} ListResponse
// @Router /admin/questions [get]
func (h *QuestionHandler) ListQuestions(c *gin.Context) {
	filters, ok := h.questionFilters(c)
	if !ok {
		return
	}

	questions, total, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse{Items: questions, Total: total, Limit: filters.Limit, Offset: filters.Offset})
}

// GetQuestion returns a question with its answer key
// @Summary Get question
// @Tags admin
// @Produce json
// @Param id path uint true "Question ID"
// @Success 200 {object} models.Question
// @Router /admin/questions/{id} [get]
func (h *QuestionHandler) GetQuestion(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	question, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, question)
}

// UpdateQuestion applies a partial update
// @Summary Update question
// @Tags admin
// @Accept json
// @Produce json
// @Param id path uint true "Question ID"
// @Param question body services.UpdateQuestionRequest true "Changes"
// @Success 200 {object} models.Question
// @Router /admin/questions/{id} [put]
func (h *QuestionHandler) UpdateQuestion(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.UpdateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request payload", err)
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	question, err := h.service.Update(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, question)
}

// DeleteQuestion deletes a question
// @Summary Delete question
// @Tags admin
// @Param id path uint true "Question ID"
// @Success 204
// @Router /admin/questions/{id} [delete]
func (h *QuestionHandler) DeleteQuestion(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetQuestionStats returns answer statistics for a question
// @Summary Get question stats
// @Tags admin
// @Produce json
// @Param id path uint true "Question ID"
// @Success 200 {object} models.QuestionStats
// @Router /admin/questions/{id}/stats [get]
func (h *QuestionHandler) GetQuestionStats(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	stats, err := h.service.GetStats(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// PublishQuestions publishes or unpublishes questions in bulk
// @Summary Publish questions
// @Tags admin
// @Accept json
// @Produce json
// @Param body body PublishRequest true "Question ids"
// @Success 200 {object} SuccessResponse
// @Router /admin/questions/publish [post]
func (h *QuestionHandler) PublishQuestions(c *gin.Context) {
	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request payload", err)
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	n, err := h.service.SetPublished(c.Request.Context(), req.IDs, req.Published, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Question visibility updated",
		Data:    gin.H{"updated": n, "published": req.Published},
	})
}

// ImportQuestions reads questions from an .xlsx workbook
// @Summary Import questions
// @Tags admin
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Workbook"
// @Param publish formData bool false "Publish imported questions"
// @Success 200 {object} models.ImportResult
// @Router /admin/questions/import [post]
func (h *QuestionHandler) ImportQuestions(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBytes)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		h.badRequest(c, "A file field is required", err)
		return
	}
	publish, _ := strconv.ParseBool(c.PostForm("publish"))

	file, err := fileHeader.Open()
	if err != nil {
		h.badRequest(c, "Unable to read uploaded file", err)
		return
	}
	defer file.Close()

	h.LogRequest(c, "Importing questions", "filename", fileHeader.Filename, "publish", publish)

	result, err := h.service.Import(c.Request.Context(), file, userID, publish)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ExportQuestions downloads the matching questions as .xlsx
// @Summary Export questions
// @Tags admin
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Success 200 {file} binary
// @Router /admin/questions/export [get]
func (h *QuestionHandler) ExportQuestions(c *gin.Context) {
	filters, ok := h.questionFilters(c)
	if !ok {
		return
	}

	data, err := h.service.Export(c.Request.Context(), filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	filename := fmt.Sprintf("questions-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// CreateSubject creates a subject
// @Summary Create subject
// @Tags admin
// @Accept json
// @Produce json
// @Param subject body services.CreateSubjectRequest true "Subject"
// @Success 201 {object} models.Subject
// @Router /admin/subjects [post]
func (h *QuestionHandler) CreateSubject(c *gin.Context) {
	var req services.CreateSubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request payload", err)
		return
	}

	subject, err := h.service.CreateSubject(c.Request.Context(), &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, subject)
}

func (h *QuestionHandler) questionFilters(c *gin.Context) (repositories.QuestionFilters, bool) {
	limit, offset := h.parsePagination(c)
	filters := repositories.QuestionFilters{
		Limit:     limit,
		Offset:    offset,
		Search:    c.Query("search"),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}

	subjectID, ok := h.optionalUintQuery(c, "subject_id")
	if !ok {
		return filters, false
	}
	filters.SubjectID = subjectID

	if d := c.Query("difficulty"); d != "" {
		difficulty := models.DifficultyLevel(d)
		filters.Difficulty = &difficulty
	}
	if s := c.Query("source"); s != "" {
		source := models.QuestionSource(s)
		filters.Source = &source
	}
	if p := c.Query("published"); p != "" {
		published, err := strconv.ParseBool(p)
		if err != nil {
			h.badRequest(c, "Invalid published", err)
			return filters, false
		}
		filters.Published = &published
	}
	return filters, true
}
