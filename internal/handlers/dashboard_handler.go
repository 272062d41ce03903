package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dentprep/exam-service/internal/services"
	"github.com/dentprep/exam-service/internal/utils"
)

const exportDateLayout = "2006-01-02"

type DashboardHandler struct {
	BaseHandler
	service services.DashboardService
}

func NewDashboardHandler(service services.DashboardService, logger utils.Logger) *DashboardHandler {
	return &DashboardHandler{
		BaseHandler: NewBaseHandler(logger),
		service:     service,
	}
}

// GetStats returns dashboard statistics
// @Summary Get dashboard statistics
// @Description Learner, question, session and job counts for the admin dashboard
// @Tags admin
// @Produce json
// @Success 200 {object} models.DashboardStats
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /admin/dashboard/stats [get]
func (h *DashboardHandler) GetStats(c *gin.Context) {
	h.LogRequest(c, "Getting dashboard stats")

	stats, err := h.service.GetStats(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetRecentSessions returns the latest quiz sessions
// @Summary Get recent sessions
// @Tags admin
// @Produce json
// @Param limit query int false "Number of sessions (default: 10, max: 100)"
// @Success 200 {array} models.QuizSession
// @Router /admin/dashboard/recent-sessions [get]
func (h *DashboardHandler) GetRecentSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	sessions, err := h.service.RecentSessions(c.Request.Context(), limit)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// GetRecentJobs returns the latest generation jobs
// @Summary Get recent jobs
// @Tags admin
// @Produce json
// @Param limit query int false "Number of jobs (default: 10, max: 100)"
// @Success 200 {array} models.GenerationJob
// @Router /admin/dashboard/recent-jobs [get]
func (h *DashboardHandler) GetRecentJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	jobs, err := h.service.RecentJobs(c.Request.Context(), limit)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

// ExportSessions downloads sessions started in [from, to] as .xlsx
// @Summary Export sessions
// @Tags admin
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param from query string false "Start date, YYYY-MM-DD (default: 30 days ago)"
// @Param to query string false "End date, YYYY-MM-DD inclusive (default: today)"
// @Success 200 {file} binary
// @Failure 400 {object} ErrorResponse "Bad request - invalid date"
// @Router /admin/sessions/export [get]
func (h *DashboardHandler) ExportSessions(c *gin.Context) {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	from, ok := h.dateQuery(c, "from", today.AddDate(0, 0, -30))
	if !ok {
		return
	}
	to, ok := h.dateQuery(c, "to", today)
	if !ok {
		return
	}
	// to is inclusive of the whole day
	to = to.Add(24*time.Hour - time.Nanosecond)

	h.LogRequest(c, "Exporting sessions", "from", from, "to", to)

	data, err := h.service.ExportSessions(c.Request.Context(), from, to)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	filename := fmt.Sprintf("sessions-%s-%s.xlsx", from.Format("20060102"), to.Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}

func (h *DashboardHandler) dateQuery(c *gin.Context, name string, fallback time.Time) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	t, err := time.Parse(exportDateLayout, raw)
	if err != nil {
		h.badRequest(c, fmt.Sprintf("Invalid %s, expected YYYY-MM-DD", name), err)
		return time.Time{}, false
	}
	return t, true
}
