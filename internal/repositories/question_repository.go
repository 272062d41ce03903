package repositories

import (
	"context"

	"gorm.io/gorm"

	"github.com/dentprep/exam-service/internal/models"
)

type SubjectRepository interface {
	Create(ctx context.Context, tx *gorm.DB, subject *models.Subject) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Subject, error)
	GetBySlug(ctx context.Context, tx *gorm.DB, slug string) (*models.Subject, error)
	// FindByNameOrSlug matches case-insensitively; used by spreadsheet import
	FindByNameOrSlug(ctx context.Context, tx *gorm.DB, value string) (*models.Subject, error)
	// List returns every subject with its published question count
	List(ctx context.Context, tx *gorm.DB) ([]*models.Subject, error)
}

// QuestionRepository interface for question-specific operations
type QuestionRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, tx *gorm.DB, question *models.Question) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error)
	Update(ctx context.Context, tx *gorm.DB, question *models.Question) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error

	// Bulk operations
	CreateBatch(ctx context.Context, tx *gorm.DB, questions []*models.Question) error
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error)
	SetPublished(ctx context.Context, tx *gorm.DB, ids []uint, published bool) (int64, error)

	// Query operations
	List(ctx context.Context, tx *gorm.DB, filters QuestionFilters) ([]*models.Question, int64, error)
	// ListPoolIDs returns published question ids in ascending order
	ListPoolIDs(ctx context.Context, tx *gorm.DB, filter QuestionPoolFilter) ([]uint, error)

	// Validation and checks
	ExistsByStem(ctx context.Context, tx *gorm.DB, subjectID uint, stem string, excludeID *uint) (bool, error)

	// Statistics
	GetStats(ctx context.Context, tx *gorm.DB, id uint) (*models.QuestionStats, error)
}
