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

type QuestionPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewQuestionPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.QuestionRepository {
	return &QuestionPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (q *QuestionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return q.db
}

// ===== BASIC CRUD OPERATIONS =====

// Create creates a new question and invalidates cache
func (q *QuestionPostgreSQL) Create(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	db := q.getDB(tx)
	if err := db.WithContext(ctx).Create(question).Error; err != nil {
		return fmt.Errorf("failed to create question: %w", err)
	}

	cache.InvalidateQuestionCache(ctx, q.cacheManager, question.ID, question.SubjectID)
	return nil
}

// GetByID retrieves a question by ID with caching
func (q *QuestionPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error) {
	db := q.getDB(tx)
	cacheKey := fmt.Sprintf("id:%d", id)
	var question models.Question

	err := q.cacheManager.Question.CacheOrExecute(ctx, cacheKey, &question, cache.QuestionCacheConfig.TTL, func() (interface{}, error) {
		var dbQuestion models.Question
		if err := db.WithContext(ctx).First(&dbQuestion, id).Error; err != nil {
			return nil, notFoundOr(err, "question %d", id)
		}
		return &dbQuestion, nil
	})
	if err != nil {
		return nil, err
	}

	return &question, nil
}

func (q *QuestionPostgreSQL) Update(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	db := q.getDB(tx)

	var previous models.Question
	if err := db.WithContext(ctx).Select("id, subject_id").First(&previous, question.ID).Error; err != nil {
		return notFoundOr(err, "question %d", question.ID)
	}

	if err := db.WithContext(ctx).Omit("Subject").Save(question).Error; err != nil {
		return fmt.Errorf("failed to update question: %w", err)
	}

	cache.InvalidateQuestionCache(ctx, q.cacheManager, question.ID, question.SubjectID)
	if previous.SubjectID != question.SubjectID {
		cache.InvalidateQuestionCache(ctx, q.cacheManager, question.ID, previous.SubjectID)
	}
	return nil
}

// Delete removes a question. Answers already recorded against it are kept
// so historical sessions still score.
func (q *QuestionPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	db := q.getDB(tx)

	var question models.Question
	if err := db.WithContext(ctx).Select("id, subject_id").First(&question, id).Error; err != nil {
		return notFoundOr(err, "question %d", id)
	}

	if err := db.WithContext(ctx).Delete(&models.Question{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete question: %w", err)
	}

	cache.InvalidateQuestionCache(ctx, q.cacheManager, id, question.SubjectID)
	return nil
}

// ===== BULK OPERATIONS =====

func (q *QuestionPostgreSQL) CreateBatch(ctx context.Context, tx *gorm.DB, questions []*models.Question) error {
	if len(questions) == 0 {
		return nil
	}
	db := q.getDB(tx)
	if err := db.WithContext(ctx).CreateInBatches(questions, 100).Error; err != nil {
		return fmt.Errorf("failed to create questions batch: %w", err)
	}

	seen := make(map[uint]bool)
	for _, question := range questions {
		if !seen[question.SubjectID] {
			cache.InvalidateQuestionCache(ctx, q.cacheManager, question.ID, question.SubjectID)
			seen[question.SubjectID] = true
		}
	}
	return nil
}

// GetByIDs returns the questions that exist among ids, in no particular order
func (q *QuestionPostgreSQL) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error) {
	if len(ids) == 0 {
		return []*models.Question{}, nil
	}
	db := q.getDB(tx)
	var questions []*models.Question
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&questions).Error; err != nil {
		return nil, fmt.Errorf("failed to get questions by ids: %w", err)
	}
	return questions, nil
}

func (q *QuestionPostgreSQL) SetPublished(ctx context.Context, tx *gorm.DB, ids []uint, published bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	db := q.getDB(tx)

	var subjectIDs []uint
	if err := db.WithContext(ctx).Model(&models.Question{}).
		Where("id IN ?", ids).
		Distinct("subject_id").
		Pluck("subject_id", &subjectIDs).Error; err != nil {
		return 0, fmt.Errorf("failed to load question subjects: %w", err)
	}

	result := db.WithContext(ctx).Model(&models.Question{}).
		Where("id IN ?", ids).
		Update("is_published", published)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to update publish state: %w", result.Error)
	}

	for _, id := range ids {
		cache.SafeDelete(ctx, q.cacheManager.Question, fmt.Sprintf("id:%d", id))
	}
	for _, subjectID := range subjectIDs {
		cache.InvalidateQuestionCache(ctx, q.cacheManager, 0, subjectID)
	}
	return result.RowsAffected, nil
}

// ===== QUERY OPERATIONS =====

func (q *QuestionPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.QuestionFilters) ([]*models.Question, int64, error) {
	db := q.getDB(tx)
	query := db.WithContext(ctx).Model(&models.Question{})

	query = q.helpers.ApplyQuestionFilters(query, filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count questions: %w", err)
	}

	query = q.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)

	var questions []*models.Question
	if err := query.Preload("Subject").Find(&questions).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list questions: %w", err)
	}

	return questions, total, nil
}

func (q *QuestionPostgreSQL) ListPoolIDs(ctx context.Context, tx *gorm.DB, filter repositories.QuestionPoolFilter) ([]uint, error) {
	db := q.getDB(tx)
	query := db.WithContext(ctx).Model(&models.Question{}).Where("is_published = ?", true)
	if filter.SubjectID != nil {
		query = query.Where("subject_id = ?", *filter.SubjectID)
	}
	if filter.Difficulty != nil {
		query = query.Where("difficulty = ?", *filter.Difficulty)
	}

	var ids []uint
	if err := query.Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list question pool: %w", err)
	}
	return ids, nil
}

// ===== VALIDATION AND CHECKS =====

func (q *QuestionPostgreSQL) ExistsByStem(ctx context.Context, tx *gorm.DB, subjectID uint, stem string, excludeID *uint) (bool, error) {
	db := q.getDB(tx)
	query := db.WithContext(ctx).Model(&models.Question{}).
		Where("subject_id = ? AND LOWER(stem) = ?", subjectID, strings.ToLower(strings.TrimSpace(stem)))
	if excludeID != nil {
		query = query.Where("id <> ?", *excludeID)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check question stem: %w", err)
	}
	return count > 0, nil
}

// ===== STATISTICS =====

// GetStats aggregates how often a question was answered and which options
// were picked
func (q *QuestionPostgreSQL) GetStats(ctx context.Context, tx *gorm.DB, id uint) (*models.QuestionStats, error) {
	question, err := q.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	db := q.getDB(tx)

	var totals struct {
		Shown   int64
		Correct int64
		AvgTime float64
	}
	if err := db.WithContext(ctx).Model(&models.SessionAnswer{}).
		Select("COUNT(*) AS shown, COALESCE(SUM(CASE WHEN is_correct THEN 1 ELSE 0 END), 0) AS correct, COALESCE(AVG(time_spent), 0) AS avg_time").
		Where("question_id = ?", id).
		Scan(&totals).Error; err != nil {
		return nil, fmt.Errorf("failed to get question stats: %w", err)
	}

	var picks []struct {
		SelectedOptionID string
		Count            int
	}
	if err := db.WithContext(ctx).Model(&models.SessionAnswer{}).
		Select("selected_option_id, COUNT(*) AS count").
		Where("question_id = ?", id).
		Group("selected_option_id").
		Scan(&picks).Error; err != nil {
		return nil, fmt.Errorf("failed to get option stats: %w", err)
	}
	pickCount := make(map[string]int, len(picks))
	for _, p := range picks {
		pickCount[p.SelectedOptionID] = p.Count
	}

	stats := &models.QuestionStats{
		QuestionID: id,
		TimesShown: int(totals.Shown),
		AvgTime:    totals.AvgTime,
		Options:    make([]models.OptionStat, 0, len(question.Options)),
	}
	if totals.Shown > 0 {
		stats.CorrectRate = float64(totals.Correct) / float64(totals.Shown) * 100
	}
	for _, o := range question.Options {
		stat := models.OptionStat{
			OptionID:       o.ID,
			OptionText:     o.Text,
			SelectionCount: pickCount[o.ID],
			IsCorrect:      question.IsCorrect(o.ID),
		}
		if totals.Shown > 0 {
			stat.SelectionRate = float64(stat.SelectionCount) / float64(totals.Shown) * 100
		}
		stats.Options = append(stats.Options, stat)
	}
	return stats, nil
}
