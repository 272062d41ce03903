package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 100
	activeWindowDays   = 7
	sessionSheet       = "Sessions"
)

// SessionSheetHeader is the column layout of the session export.
var SessionSheetHeader = []string{
	"session_id", "user_id", "user_name", "mode", "subject_id", "status",
	"total", "answered", "correct", "percentage", "passed",
	"started_at", "completed_at",
}

type dashboardService struct {
	repo   repositories.Repository
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewDashboardService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger) DashboardService {
	return &dashboardService{
		repo:   repo,
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetStats gathers the admin overview. The aggregates are independent and run
// concurrently; the first failure cancels the rest.
func (s *dashboardService) GetStats(ctx context.Context) (*models.DashboardStats, error) {
	s.logger.Info("Getting dashboard stats")

	now := s.now()
	stats := &models.DashboardStats{GeneratedAt: now}
	dash := s.repo.Dashboard()
	sinceDay := utcDay(now.AddDate(0, 0, -(activeWindowDays - 1)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := dash.CountLearners(gctx, s.db)
		if err != nil {
			return fmt.Errorf("failed to count learners: %w", err)
		}
		stats.LearnersWithProgress = n
		return nil
	})
	g.Go(func() error {
		n, err := dash.CountActiveLearners(gctx, s.db, sinceDay)
		if err != nil {
			return fmt.Errorf("failed to count active learners: %w", err)
		}
		stats.ActiveLearners7d = n
		return nil
	})
	g.Go(func() error {
		n, err := dash.CountQuestions(gctx, s.db, true)
		if err != nil {
			return fmt.Errorf("failed to count published questions: %w", err)
		}
		stats.PublishedQuestions = n
		return nil
	})
	g.Go(func() error {
		n, err := dash.CountQuestions(gctx, s.db, false)
		if err != nil {
			return fmt.Errorf("failed to count draft questions: %w", err)
		}
		stats.DraftQuestions = n
		return nil
	})
	g.Go(func() error {
		counts, err := dash.QuestionsBySubject(gctx, s.db)
		if err != nil {
			return fmt.Errorf("failed to count questions by subject: %w", err)
		}
		stats.QuestionsBySubject = counts
		return nil
	})
	g.Go(func() error {
		summary, err := dash.SessionSummary(gctx, s.db)
		if err != nil {
			return fmt.Errorf("failed to summarise sessions: %w", err)
		}
		stats.QuizzesCompleted = summary.Completed
		stats.AverageScore = math.Round(summary.AverageScore*100) / 100
		stats.PassRate = math.Round(summary.PassRate*100) / 100
		return nil
	})
	g.Go(func() error {
		counts, err := dash.JobsByStatus(gctx, s.db)
		if err != nil {
			return fmt.Errorf("failed to count jobs by status: %w", err)
		}
		stats.JobsByStatus = counts
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if stats.QuestionsBySubject == nil {
		stats.QuestionsBySubject = []models.SubjectCount{}
	}
	if stats.JobsByStatus == nil {
		stats.JobsByStatus = []models.StatusCount{}
	}

	s.logger.Info("Dashboard stats retrieved",
		"learners", stats.LearnersWithProgress,
		"quizzes_completed", stats.QuizzesCompleted)
	return stats, nil
}

func (s *dashboardService) RecentSessions(ctx context.Context, limit int) ([]*models.QuizSession, error) {
	sessions, _, err := s.repo.Quiz().List(ctx, s.db, repositories.SessionFilters{
		Limit:     recentLimit(limit),
		SortBy:    "started_at",
		SortOrder: "desc",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent sessions: %w", err)
	}
	return sessions, nil
}

func (s *dashboardService) RecentJobs(ctx context.Context, limit int) ([]*models.GenerationJob, error) {
	jobs, _, err := s.repo.Generation().List(ctx, s.db, repositories.JobFilters{Limit: recentLimit(limit)})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent jobs: %w", err)
	}
	return jobs, nil
}

// ExportSessions writes the sessions started within [from, to] as an .xlsx
// workbook, oldest first.
func (s *dashboardService) ExportSessions(ctx context.Context, from, to time.Time) ([]byte, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, ValidationErrors{{Field: "to", Message: "must not be before from", Rule: "gtefield"}}
	}

	filters := repositories.SessionFilters{SortBy: "started_at", SortOrder: "asc"}
	if !from.IsZero() {
		filters.DateFrom = &from
	}
	if !to.IsZero() {
		filters.DateTo = &to
	}
	sessions, _, err := s.repo.Quiz().List(ctx, s.db, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	names := s.userNames(ctx, sessions)

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), sessionSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := writeHeader(f, sessionSheet, SessionSheetHeader); err != nil {
		return nil, err
	}

	for i, sess := range sessions {
		row := []interface{}{
			sess.ID,
			sess.UserID,
			names[sess.UserID],
			string(sess.Mode),
			"",
			string(sess.Status),
			sess.TotalQuestions,
			sess.AnsweredCount,
			sess.CorrectCount,
			sess.Percentage,
			sess.Passed,
			sess.StartedAt.UTC().Format(time.RFC3339),
			"",
		}
		if sess.SubjectID != nil {
			row[4] = *sess.SubjectID
		}
		if sess.CompletedAt != nil {
			row[12] = sess.CompletedAt.UTC().Format(time.RFC3339)
		}

		cellName, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sessionSheet, cellName, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to encode workbook: %w", err)
	}

	s.logger.Info("Sessions exported", "count", len(sessions), "from", from, "to", to)
	return buf.Bytes(), nil
}

// userNames resolves display names for the export. Unresolvable users are
// exported with an empty name.
func (s *dashboardService) userNames(ctx context.Context, sessions []*models.QuizSession) map[string]string {
	names := make(map[string]string)
	if len(sessions) == 0 {
		return names
	}
	seen := make(map[string]bool)
	var ids []string
	for _, sess := range sessions {
		if !seen[sess.UserID] {
			seen[sess.UserID] = true
			ids = append(ids, sess.UserID)
		}
	}
	users, err := s.repo.User().GetByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("Failed to resolve user names for export", "count", len(ids), "error", err)
		return names
	}
	for _, u := range users {
		names[u.ID] = u.PublicName()
	}
	return names
}

func recentLimit(limit int) int {
	if limit <= 0 {
		return defaultRecentLimit
	}
	return min(limit, maxRecentLimit)
}
