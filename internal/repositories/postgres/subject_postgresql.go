package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/dentprep/exam-service/internal/cache"
	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
)

type SubjectPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewSubjectPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.SubjectRepository {
	return &SubjectPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (s *SubjectPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *SubjectPostgreSQL) Create(ctx context.Context, tx *gorm.DB, subject *models.Subject) error {
	db := s.getDB(tx)
	if err := db.WithContext(ctx).Create(subject).Error; err != nil {
		if repositories.IsDuplicateError(err) {
			return fmt.Errorf("subject %q: %w", subject.Slug, repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to create subject: %w", err)
	}

	cache.SafeDelete(ctx, s.cacheManager.Subject, "list")
	return nil
}

func (s *SubjectPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Subject, error) {
	db := s.getDB(tx)
	var subject models.Subject
	if err := db.WithContext(ctx).First(&subject, id).Error; err != nil {
		return nil, notFoundOr(err, "subject %d", id)
	}
	return &subject, nil
}

func (s *SubjectPostgreSQL) GetBySlug(ctx context.Context, tx *gorm.DB, slug string) (*models.Subject, error) {
	db := s.getDB(tx)
	var subject models.Subject
	if err := db.WithContext(ctx).Where("slug = ?", slug).First(&subject).Error; err != nil {
		return nil, notFoundOr(err, "subject %q", slug)
	}
	return &subject, nil
}

func (s *SubjectPostgreSQL) FindByNameOrSlug(ctx context.Context, tx *gorm.DB, value string) (*models.Subject, error) {
	db := s.getDB(tx)
	v := strings.ToLower(strings.TrimSpace(value))
	var subject models.Subject
	if err := db.WithContext(ctx).
		Where("LOWER(name) = ? OR slug = ?", v, v).
		Order("id ASC").
		First(&subject).Error; err != nil {
		return nil, notFoundOr(err, "subject %q", value)
	}
	return &subject, nil
}

// List returns all subjects ordered by name with published question counts
func (s *SubjectPostgreSQL) List(ctx context.Context, tx *gorm.DB) ([]*models.Subject, error) {
	db := s.getDB(tx)
	var subjects []*models.Subject

	err := s.cacheManager.Subject.CacheOrExecute(ctx, "list", &subjects, cache.SubjectCacheConfig.TTL, func() (interface{}, error) {
		var rows []*models.Subject
		if err := db.WithContext(ctx).Order("name ASC").Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("failed to list subjects: %w", err)
		}

		var counts []struct {
			SubjectID uint
			Count     int64
		}
		if err := db.WithContext(ctx).
			Model(&models.Question{}).
			Select("subject_id, COUNT(*) AS count").
			Where("is_published = ?", true).
			Group("subject_id").
			Scan(&counts).Error; err != nil {
			return nil, fmt.Errorf("failed to count subject questions: %w", err)
		}

		byID := make(map[uint]int64, len(counts))
		for _, c := range counts {
			byID[c.SubjectID] = c.Count
		}
		for _, subject := range rows {
			subject.QuestionCount = byID[subject.ID]
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}

	return subjects, nil
}
