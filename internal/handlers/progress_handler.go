package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dentprep/exam-service/internal/services"
	"github.com/dentprep/exam-service/internal/utils"
	"github.com/dentprep/exam-service/internal/validator"
)

type ProgressHandler struct {
	BaseHandler
	progress    services.ProgressService
	leaderboard services.LeaderboardService
	validator   *validator.Validator
}

func NewProgressHandler(progress services.ProgressService, leaderboard services.LeaderboardService, validator *validator.Validator, logger utils.Logger) *ProgressHandler {
	return &ProgressHandler{
		BaseHandler: NewBaseHandler(logger),
		progress:    progress,
		leaderboard: leaderboard,
		validator:   validator,
	}
}

// GetMyProgress returns XP, streaks and accuracy for the caller
// @Summary Get my progress
// @Tags progress
// @Produce json
// @Success 200 {object} services.ProgressResponse
// @Router /me/progress [get]
func (h *ProgressHandler) GetMyProgress(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	progress, err := h.progress.GetProgress(c.Request.Context(), userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// GetMyActivity returns the daily activity calendar
// @Summary Get my activity
// @Tags progress
// @Produce json
// @Param days query int false "Number of days (default 30, max 365)"
// @Success 200 {array} models.DailyActivity
// @Router /me/activity [get]
func (h *ProgressHandler) GetMyActivity(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	days, _ := strconv.Atoi(c.Query("days"))

	activity, err := h.progress.GetActivity(c.Request.Context(), userID, days)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, activity)
}

// GetLeaderboard returns the top of a leaderboard
// @Summary Get leaderboard
// @Tags leaderboards
// @Produce json
// @Param period path string true "weekly, monthly or all_time"
// @Param subject_id query int false "Subject scope"
// @Param limit query int false "Entries (default 10, max 100)"
// @Success 200 {object} services.LeaderboardResponse
// @Failure 400 {object} ErrorResponse
// @Router /leaderboards/{period} [get]
func (h *ProgressHandler) GetLeaderboard(c *gin.Context) {
	req, ok := h.leaderboardRequest(c)
	if !ok {
		return
	}

	resp, err := h.leaderboard.Top(c.Request.Context(), req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetMyRank returns the caller's standing on a leaderboard
// @Summary Get my leaderboard rank
// @Tags leaderboards
// @Produce json
// @Param period path string true "weekly, monthly or all_time"
// @Param subject_id query int false "Subject scope"
// @Success 200 {object} services.LeaderboardEntry
// @Router /leaderboards/{period}/me [get]
func (h *ProgressHandler) GetMyRank(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	req, ok := h.leaderboardRequest(c)
	if !ok {
		return
	}

	entry, err := h.leaderboard.Rank(c.Request.Context(), req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *ProgressHandler) leaderboardRequest(c *gin.Context) (services.LeaderboardRequest, bool) {
	var query validator.LeaderboardQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.badRequest(c, "Invalid query parameters", err)
		return services.LeaderboardRequest{}, false
	}
	query.Period = c.Param("period")
	if err := h.validator.Validate(&query); err != nil {
		h.handleServiceError(c, err)
		return services.LeaderboardRequest{}, false
	}
	return services.LeaderboardRequest{
		Period:    query.Period,
		SubjectID: query.SubjectID,
		Limit:     query.Limit,
	}, true
}
