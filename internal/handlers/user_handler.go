package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dentprep/exam-service/internal/repositories"
	"github.com/dentprep/exam-service/internal/utils"
)

type UserHandler struct {
	BaseHandler
	userRepo repositories.UserRepository
}

func NewUserHandler(userRepo repositories.UserRepository, logger utils.Logger) *UserHandler {
	return &UserHandler{
		BaseHandler: NewBaseHandler(logger),
		userRepo:    userRepo,
	}
}

// ListUsers lists users with optional filtering
// @Summary List users
// @Description Get a paginated list of users from the identity provider
// @Tags admin
// @Produce json
// @Param q query string false "Search query (email)"
// @Param limit query int false "Page size (default: 20, max: 100)"
// @Param offset query int false "Offset"
// @Success 200 {object} ListResponse
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /admin/users [get]
func (h *UserHandler) ListUsers(c *gin.Context) {
	h.LogRequest(c, "Listing users")

	limit, offset := h.parsePagination(c)
	filters := repositories.UserFilters{
		Query:  strings.TrimSpace(c.Query("q")),
		Limit:  limit,
		Offset: offset,
	}

	users, total, err := h.userRepo.List(c.Request.Context(), filters)
	if err != nil {
		h.LogError(c, err, "Failed to list users")
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "upstream_error",
			Message: "Failed to list users",
		})
		return
	}

	c.JSON(http.StatusOK, ListResponse{Items: users, Total: total, Limit: limit, Offset: offset})
}

// GetUser retrieves a user by ID
// @Summary Get user by ID
// @Tags admin
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} models.User
// @Failure 404 {object} ErrorResponse "Not found"
// @Router /admin/users/{id} [get]
func (h *UserHandler) GetUser(c *gin.Context) {
	userID := c.Param("id")
	h.LogRequest(c, "Getting user", "user_id", userID)

	user, err := h.userRepo.GetByID(c.Request.Context(), userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "User not found",
			})
			return
		}
		h.LogError(c, err, "Failed to get user", "user_id", userID)
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "upstream_error",
			Message: "Failed to get user",
		})
		return
	}

	c.JSON(http.StatusOK, user)
}
