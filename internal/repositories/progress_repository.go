package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dentprep/exam-service/internal/models"
)

type ProgressRepository interface {
	GetByUser(ctx context.Context, tx *gorm.DB, userID string) (*models.UserProgress, error)
	Save(ctx context.Context, tx *gorm.DB, progress *models.UserProgress) error

	// XP ledger; one entry per completed session
	HasXPEntry(ctx context.Context, tx *gorm.DB, sessionID uint) (bool, error)
	CreateXPEntry(ctx context.Context, tx *gorm.DB, entry *models.XPEntry) error

	GetDailyActivity(ctx context.Context, tx *gorm.DB, userID, day string) (*models.DailyActivity, error)
	SaveDailyActivity(ctx context.Context, tx *gorm.DB, activity *models.DailyActivity) error
	ListActivity(ctx context.Context, tx *gorm.DB, userID string, fromDay string) ([]*models.DailyActivity, error)

	// Leaderboard aggregation over the XP ledger, used when redis is absent.
	// A nil since means all time.
	TopXP(ctx context.Context, tx *gorm.DB, since *time.Time, subjectID *uint, limit int) ([]LeaderboardRow, error)
	RankXP(ctx context.Context, tx *gorm.DB, userID string, since *time.Time, subjectID *uint) (rank int64, xp int64, found bool, err error)
}

// DashboardRepository interface for admin analytics operations
type DashboardRepository interface {
	CountLearners(ctx context.Context, tx *gorm.DB) (int64, error)
	CountActiveLearners(ctx context.Context, tx *gorm.DB, sinceDay string) (int64, error)
	CountQuestions(ctx context.Context, tx *gorm.DB, published bool) (int64, error)
	QuestionsBySubject(ctx context.Context, tx *gorm.DB) ([]models.SubjectCount, error)
	SessionSummary(ctx context.Context, tx *gorm.DB) (*SessionSummary, error)
	JobsByStatus(ctx context.Context, tx *gorm.DB) ([]models.StatusCount, error)
}
