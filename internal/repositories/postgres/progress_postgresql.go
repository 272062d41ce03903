package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
)

type ProgressPostgreSQL struct {
	db *gorm.DB
}

func NewProgressPostgreSQL(db *gorm.DB) repositories.ProgressRepository {
	return &ProgressPostgreSQL{db: db}
}

func (r *ProgressPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *ProgressPostgreSQL) GetByUser(ctx context.Context, tx *gorm.DB, userID string) (*models.UserProgress, error) {
	var progress models.UserProgress
	if err := r.getDB(tx).WithContext(ctx).Where("user_id = ?", userID).First(&progress).Error; err != nil {
		return nil, notFoundOr(err, "progress for user %s", userID)
	}
	return &progress, nil
}

func (r *ProgressPostgreSQL) Save(ctx context.Context, tx *gorm.DB, progress *models.UserProgress) error {
	err := r.getDB(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(progress).Error
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

func (r *ProgressPostgreSQL) HasXPEntry(ctx context.Context, tx *gorm.DB, sessionID uint) (bool, error) {
	var count int64
	if err := r.getDB(tx).WithContext(ctx).
		Model(&models.XPEntry{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check xp entry: %w", err)
	}
	return count > 0, nil
}

func (r *ProgressPostgreSQL) CreateXPEntry(ctx context.Context, tx *gorm.DB, entry *models.XPEntry) error {
	if err := r.getDB(tx).WithContext(ctx).Create(entry).Error; err != nil {
		if repositories.IsDuplicateError(err) {
			return fmt.Errorf("xp entry for session %d: %w", entry.SessionID, repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to create xp entry: %w", err)
	}
	return nil
}

func (r *ProgressPostgreSQL) GetDailyActivity(ctx context.Context, tx *gorm.DB, userID, day string) (*models.DailyActivity, error) {
	var activity models.DailyActivity
	if err := r.getDB(tx).WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, day).
		First(&activity).Error; err != nil {
		return nil, notFoundOr(err, "activity for user %s on %s", userID, day)
	}
	return &activity, nil
}

func (r *ProgressPostgreSQL) SaveDailyActivity(ctx context.Context, tx *gorm.DB, activity *models.DailyActivity) error {
	if err := r.getDB(tx).WithContext(ctx).Save(activity).Error; err != nil {
		return fmt.Errorf("failed to save daily activity: %w", err)
	}
	return nil
}

// ListActivity returns days on or after fromDay, oldest first
func (r *ProgressPostgreSQL) ListActivity(ctx context.Context, tx *gorm.DB, userID string, fromDay string) ([]*models.DailyActivity, error) {
	var activity []*models.DailyActivity
	if err := r.getDB(tx).WithContext(ctx).
		Where("user_id = ? AND day >= ?", userID, fromDay).
		Order("day ASC").
		Find(&activity).Error; err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	return activity, nil
}

func (r *ProgressPostgreSQL) xpWindow(ctx context.Context, tx *gorm.DB, since *time.Time, subjectID *uint) *gorm.DB {
	query := r.getDB(tx).WithContext(ctx).Model(&models.XPEntry{})
	if since != nil {
		query = query.Where("awarded_at >= ?", *since)
	}
	if subjectID != nil {
		query = query.Where("subject_id = ?", *subjectID)
	}
	return query
}

func (r *ProgressPostgreSQL) TopXP(ctx context.Context, tx *gorm.DB, since *time.Time, subjectID *uint, limit int) ([]repositories.LeaderboardRow, error) {
	var rows []struct {
		UserID  string
		TotalXP int64
	}
	query := r.xpWindow(ctx, tx, since, subjectID).
		Select("user_id, SUM(xp) AS total_xp").
		Group("user_id").
		Order("total_xp DESC, user_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate leaderboard: %w", err)
	}

	out := make([]repositories.LeaderboardRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, repositories.LeaderboardRow{UserID: row.UserID, XP: row.TotalXP})
	}
	return out, nil
}

// RankXP is 1 + the number of users with strictly more XP in the window
func (r *ProgressPostgreSQL) RankXP(ctx context.Context, tx *gorm.DB, userID string, since *time.Time, subjectID *uint) (int64, int64, bool, error) {
	var own struct {
		Entries int64
		TotalXP int64
	}
	if err := r.xpWindow(ctx, tx, since, subjectID).
		Select("COUNT(*) AS entries, COALESCE(SUM(xp), 0) AS total_xp").
		Where("user_id = ?", userID).
		Scan(&own).Error; err != nil {
		return 0, 0, false, fmt.Errorf("failed to get user xp: %w", err)
	}
	if own.Entries == 0 {
		return 0, 0, false, nil
	}

	ahead := r.xpWindow(ctx, tx, since, subjectID).
		Select("user_id").
		Group("user_id").
		Having("SUM(xp) > ?", own.TotalXP)

	var count int64
	if err := r.getDB(tx).WithContext(ctx).Table("(?) AS ahead", ahead).Count(&count).Error; err != nil {
		return 0, 0, false, fmt.Errorf("failed to rank user: %w", err)
	}
	return count + 1, own.TotalXP, true, nil
}

// ===== DASHBOARD =====

type dashboardRepository struct {
	db *gorm.DB
}

func NewDashboardRepository(db *gorm.DB) repositories.DashboardRepository {
	return &dashboardRepository{db: db}
}

func (r *dashboardRepository) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *dashboardRepository) CountLearners(ctx context.Context, tx *gorm.DB) (int64, error) {
	var count int64
	if err := r.getDB(tx).WithContext(ctx).
		Model(&models.UserProgress{}).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count learners: %w", err)
	}
	return count, nil
}

func (r *dashboardRepository) CountActiveLearners(ctx context.Context, tx *gorm.DB, sinceDay string) (int64, error) {
	var count int64
	if err := r.getDB(tx).WithContext(ctx).
		Model(&models.DailyActivity{}).
		Where("day >= ?", sinceDay).
		Distinct("user_id").
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count active learners: %w", err)
	}
	return count, nil
}

func (r *dashboardRepository) CountQuestions(ctx context.Context, tx *gorm.DB, published bool) (int64, error) {
	var count int64
	if err := r.getDB(tx).WithContext(ctx).
		Model(&models.Question{}).
		Where("is_published = ?", published).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count questions: %w", err)
	}
	return count, nil
}

func (r *dashboardRepository) QuestionsBySubject(ctx context.Context, tx *gorm.DB) ([]models.SubjectCount, error) {
	var rows []models.SubjectCount
	if err := r.getDB(tx).WithContext(ctx).
		Table("subjects").
		Select("subjects.id AS subject_id, subjects.name AS subject_name, COUNT(questions.id) AS count").
		Joins("LEFT JOIN questions ON questions.subject_id = subjects.id").
		Group("subjects.id, subjects.name").
		Order("subjects.name ASC").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count questions by subject: %w", err)
	}
	return rows, nil
}

func (r *dashboardRepository) SessionSummary(ctx context.Context, tx *gorm.DB) (*repositories.SessionSummary, error) {
	var summary repositories.SessionSummary
	if err := r.getDB(tx).WithContext(ctx).
		Model(&models.QuizSession{}).
		Select("COUNT(*) AS completed, COALESCE(AVG(percentage), 0) AS average_score, COALESCE(AVG(CASE WHEN passed THEN 100.0 ELSE 0 END), 0) AS pass_rate").
		Where("status = ?", models.SessionCompleted).
		Scan(&summary).Error; err != nil {
		return nil, fmt.Errorf("failed to summarize sessions: %w", err)
	}
	return &summary, nil
}

func (r *dashboardRepository) JobsByStatus(ctx context.Context, tx *gorm.DB) ([]models.StatusCount, error) {
	var rows []models.StatusCount
	if err := r.getDB(tx).WithContext(ctx).
		Model(&models.GenerationJob{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Order("status ASC").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	return rows, nil
}
