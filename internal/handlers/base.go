package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dentprep/exam-service/internal/services"
	"github.com/dentprep/exam-service/internal/utils"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse wraps a page of results.
type ListResponse struct {
	Items  interface{} `json:"items"`
	Total  int64       `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// BaseHandler carries what every handler shares: the logger and the mapping
// from service errors to HTTP responses.
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

func (h *BaseHandler) requestLogger(c *gin.Context) utils.Logger {
	return utils.FromContext(c.Request.Context(), h.logger)
}

func (h *BaseHandler) LogRequest(c *gin.Context, msg string, args ...any) {
	h.requestLogger(c).Debug(msg, args...)
}

func (h *BaseHandler) LogError(c *gin.Context, err error, msg string, args ...any) {
	h.requestLogger(c).Error(msg, append(args, "error", err)...)
}

// currentUserID returns the authenticated user, writing a 401 when absent.
func (h *BaseHandler) currentUserID(c *gin.Context) (string, bool) {
	userID, err := GetUserIDFromContext(c)
	if err != nil || userID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "User not authenticated",
		})
		return "", false
	}
	return userID, true
}

// parseIDParam reads a positive numeric path parameter. It writes a 400 and
// returns 0 when the value is missing or malformed.
func (h *BaseHandler) parseIDParam(c *gin.Context, name string) uint {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "Invalid " + name,
			Details: raw,
		})
		return 0
	}
	return uint(id)
}

// parsePagination reads limit and offset query parameters.
func (h *BaseHandler) parsePagination(c *gin.Context) (limit, offset int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)

	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

// optionalUintQuery parses an optional numeric query parameter. ok is false
// when a 400 has been written.
func (h *BaseHandler) optionalUintQuery(c *gin.Context, name string) (*uint, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "Invalid " + name,
			Details: raw,
		})
		return nil, false
	}
	id := uint(v)
	return &id, true
}

func (h *BaseHandler) badRequest(c *gin.Context, message string, err error) {
	resp := ErrorResponse{Error: "bad_request", Message: message}
	if err != nil {
		resp.Details = err.Error()
	}
	c.JSON(http.StatusBadRequest, resp)
}

func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	var validationErrors services.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_failed",
			Message: "Validation failed",
			Details: validationErrors,
		})
		return
	}

	var businessRuleError *services.BusinessRuleError
	if errors.As(err, &businessRuleError) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "business_rule",
			Message: businessRuleError.Message,
			Details: map[string]interface{}{
				"rule":    businessRuleError.Rule,
				"context": businessRuleError.Context,
			},
		})
		return
	}

	var permissionError *services.PermissionError
	if errors.As(err, &permissionError) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "forbidden",
			Message: "Access denied",
			Details: map[string]interface{}{
				"resource": permissionError.Resource,
				"action":   permissionError.Action,
				"reason":   permissionError.Reason,
			},
		})
		return
	}

	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, services.ErrSubjectNotFound),
		errors.Is(err, services.ErrQuestionNotFound),
		errors.Is(err, services.ErrQuizNotFound),
		errors.Is(err, services.ErrDocumentNotFound),
		errors.Is(err, services.ErrJobNotFound),
		errors.Is(err, services.ErrDeckNotFound):
		status, code = http.StatusNotFound, "not_found"

	case errors.Is(err, services.ErrSubjectDuplicateSlug),
		errors.Is(err, services.ErrQuestionDuplicateStem),
		errors.Is(err, services.ErrQuizAlreadyCompleted),
		errors.Is(err, services.ErrQuizNotActive),
		errors.Is(err, services.ErrQuizNotCompleted),
		errors.Is(err, services.ErrJobNotCancellable),
		errors.Is(err, services.ErrJobNotRetryable):
		status, code = http.StatusConflict, "conflict"

	case errors.Is(err, services.ErrQuizExpired):
		status, code = http.StatusGone, "expired"

	case errors.Is(err, services.ErrNoQuestionsAvailable),
		errors.Is(err, services.ErrQuestionNotInQuiz),
		errors.Is(err, services.ErrInvalidOption),
		errors.Is(err, services.ErrDocumentEmpty),
		errors.Is(err, services.ErrJobMissingInput),
		errors.Is(err, services.ErrInvalidImport):
		status, code = http.StatusUnprocessableEntity, "unprocessable"

	case errors.Is(err, services.ErrInvalidPeriod):
		status, code = http.StatusBadRequest, "bad_request"

	case errors.Is(err, services.ErrDocumentTooLarge):
		status, code = http.StatusRequestEntityTooLarge, "too_large"
	}

	if status == http.StatusInternalServerError {
		h.LogError(c, err, "Unexpected service error", "path", c.FullPath())
		c.JSON(status, ErrorResponse{Error: code, Message: "Internal server error"})
		return
	}
	c.JSON(status, ErrorResponse{Error: code, Message: err.Error()})
}
