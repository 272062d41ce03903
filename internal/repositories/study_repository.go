package repositories

import (
	"context"

	"gorm.io/gorm"

	"github.com/dentprep/exam-service/internal/models"
)

type DocumentRepository interface {
	Create(ctx context.Context, tx *gorm.DB, doc *models.StudyDocument) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.StudyDocument, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID string, limit, offset int) ([]*models.StudyDocument, int64, error)
	Delete(ctx context.Context, tx *gorm.DB, id uint) error
}

type GenerationJobRepository interface {
	Create(ctx context.Context, tx *gorm.DB, job *models.GenerationJob) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.GenerationJob, error)
	List(ctx context.Context, tx *gorm.DB, filters JobFilters) ([]*models.GenerationJob, int64, error)

	// ClaimNextRunnable atomically moves the oldest runnable job to running.
	// It returns nil, nil when nothing is runnable.
	ClaimNextRunnable(ctx context.Context, opts ClaimOptions) (*models.GenerationJob, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id string, updates map[string]interface{}) error
	// UpdateUnlessCancelled applies updates unless the job was cancelled meanwhile
	UpdateUnlessCancelled(ctx context.Context, id string, updates map[string]interface{}) (bool, error)
	Heartbeat(ctx context.Context, id string, stage string, progress int) error
	// Cancel moves a queued or running job to cancelled; false if it was not active
	Cancel(ctx context.Context, tx *gorm.DB, id string) (bool, error)
	// Requeue resets a terminally failed job for another round of attempts
	Requeue(ctx context.Context, tx *gorm.DB, id string) (bool, error)
}

type FlashcardRepository interface {
	// CreateDeck inserts the deck together with its cards
	CreateDeck(ctx context.Context, tx *gorm.DB, deck *models.FlashcardDeck) error
	GetDeck(ctx context.Context, tx *gorm.DB, id uint) (*models.FlashcardDeck, error)
	GetDeckByJob(ctx context.Context, tx *gorm.DB, jobID string) (*models.FlashcardDeck, error)
	ListDecks(ctx context.Context, tx *gorm.DB, userID string, limit, offset int) ([]*models.FlashcardDeck, int64, error)
}
