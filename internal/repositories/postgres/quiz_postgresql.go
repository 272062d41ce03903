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

type QuizSessionPostgreSQL struct {
	db      *gorm.DB
	helpers *SharedHelpers
}

func NewQuizSessionPostgreSQL(db *gorm.DB) repositories.QuizSessionRepository {
	return &QuizSessionPostgreSQL{
		db:      db,
		helpers: NewSharedHelpers(db),
	}
}

func (r *QuizSessionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *QuizSessionPostgreSQL) Create(ctx context.Context, tx *gorm.DB, session *models.QuizSession) error {
	db := r.getDB(tx)
	if err := db.WithContext(ctx).Omit("Answers").Create(session).Error; err != nil {
		return fmt.Errorf("failed to create quiz session: %w", err)
	}
	return nil
}

func (r *QuizSessionPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.QuizSession, error) {
	db := r.getDB(tx)
	var session models.QuizSession
	if err := db.WithContext(ctx).First(&session, id).Error; err != nil {
		return nil, notFoundOr(err, "quiz session %d", id)
	}
	return &session, nil
}

func (r *QuizSessionPostgreSQL) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*models.QuizSession, error) {
	db := r.getDB(tx)
	var session models.QuizSession
	if err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&session, id).Error; err != nil {
		return nil, notFoundOr(err, "quiz session %d", id)
	}
	return &session, nil
}

func (r *QuizSessionPostgreSQL) GetActiveByUser(ctx context.Context, tx *gorm.DB, userID string) (*models.QuizSession, error) {
	db := r.getDB(tx)
	var session models.QuizSession
	if err := db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.SessionInProgress).
		Order("started_at DESC").
		First(&session).Error; err != nil {
		return nil, notFoundOr(err, "active quiz session for user %s", userID)
	}
	return &session, nil
}

func (r *QuizSessionPostgreSQL) Update(ctx context.Context, tx *gorm.DB, session *models.QuizSession) error {
	db := r.getDB(tx)
	if err := db.WithContext(ctx).Omit("Answers").Save(session).Error; err != nil {
		return fmt.Errorf("failed to update quiz session: %w", err)
	}
	return nil
}

func (r *QuizSessionPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.SessionFilters) ([]*models.QuizSession, int64, error) {
	db := r.getDB(tx)
	query := db.WithContext(ctx).Model(&models.QuizSession{})
	query = r.helpers.ApplySessionFilters(query, filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count quiz sessions: %w", err)
	}

	sortBy := filters.SortBy
	if sortBy == "" {
		sortBy = "started_at"
	}
	query = r.helpers.ApplyPaginationAndSort(query, sortBy, filters.SortOrder, filters.Limit, filters.Offset)

	var sessions []*models.QuizSession
	if err := query.Find(&sessions).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list quiz sessions: %w", err)
	}
	return sessions, total, nil
}

func (r *QuizSessionPostgreSQL) ExpireStale(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error) {
	db := r.getDB(tx)
	result := db.WithContext(ctx).Model(&models.QuizSession{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", models.SessionInProgress, now).
		Updates(map[string]interface{}{
			"status":     models.SessionExpired,
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to expire stale sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ===== ANSWERS =====

type AnswerPostgreSQL struct {
	db *gorm.DB
}

func NewAnswerPostgreSQL(db *gorm.DB) repositories.AnswerRepository {
	return &AnswerPostgreSQL{db: db}
}

func (r *AnswerPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *AnswerPostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, answer *models.SessionAnswer) error {
	db := r.getDB(tx)
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "question_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"selected_option_id", "is_correct", "time_spent", "answered_at", "updated_at"}),
		}).
		Create(answer).Error
	if err != nil {
		return fmt.Errorf("failed to save answer: %w", err)
	}
	return nil
}

func (r *AnswerPostgreSQL) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uint) ([]*models.SessionAnswer, error) {
	db := r.getDB(tx)
	var answers []*models.SessionAnswer
	if err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("answered_at ASC, id ASC").
		Find(&answers).Error; err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}
	return answers, nil
}

func (r *AnswerPostgreSQL) CountBySession(ctx context.Context, tx *gorm.DB, sessionID uint) (int, int, error) {
	db := r.getDB(tx)
	var counts struct {
		Answered int
		Correct  int
	}
	if err := db.WithContext(ctx).Model(&models.SessionAnswer{}).
		Select("COUNT(*) AS answered, COALESCE(SUM(CASE WHEN is_correct THEN 1 ELSE 0 END), 0) AS correct").
		Where("session_id = ?", sessionID).
		Scan(&counts).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count answers: %w", err)
	}
	return counts.Answered, counts.Correct, nil
}
