package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dentprep/exam-service/internal/models"
)

type QuizSessionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, session *models.QuizSession) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.QuizSession, error)
	// GetByIDForUpdate locks the row for the rest of tx
	GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*models.QuizSession, error)
	GetActiveByUser(ctx context.Context, tx *gorm.DB, userID string) (*models.QuizSession, error)
	Update(ctx context.Context, tx *gorm.DB, session *models.QuizSession) error
	List(ctx context.Context, tx *gorm.DB, filters SessionFilters) ([]*models.QuizSession, int64, error)
	// ExpireStale marks in-progress sessions past their deadline as expired
	ExpireStale(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error)
}

type AnswerRepository interface {
	// Upsert keeps one answer per (session, question); a resubmission overwrites it
	Upsert(ctx context.Context, tx *gorm.DB, answer *models.SessionAnswer) error
	ListBySession(ctx context.Context, tx *gorm.DB, sessionID uint) ([]*models.SessionAnswer, error)
	CountBySession(ctx context.Context, tx *gorm.DB, sessionID uint) (answered int, correct int, err error)
}
