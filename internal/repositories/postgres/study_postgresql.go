package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
)

// ===== DOCUMENTS =====

type DocumentPostgreSQL struct {
	db *gorm.DB
}

func NewDocumentPostgreSQL(db *gorm.DB) repositories.DocumentRepository {
	return &DocumentPostgreSQL{db: db}
}

func (r *DocumentPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *DocumentPostgreSQL) Create(ctx context.Context, tx *gorm.DB, doc *models.StudyDocument) error {
	if err := r.getDB(tx).WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (r *DocumentPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.StudyDocument, error) {
	var doc models.StudyDocument
	if err := r.getDB(tx).WithContext(ctx).First(&doc, id).Error; err != nil {
		return nil, notFoundOr(err, "document %d", id)
	}
	return &doc, nil
}

func (r *DocumentPostgreSQL) ListByUser(ctx context.Context, tx *gorm.DB, userID string, limit, offset int) ([]*models.StudyDocument, int64, error) {
	query := r.getDB(tx).WithContext(ctx).Model(&models.StudyDocument{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var docs []*models.StudyDocument
	if err := query.Order("created_at DESC, id DESC").Find(&docs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, total, nil
}

func (r *DocumentPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	result := r.getDB(tx).WithContext(ctx).Delete(&models.StudyDocument{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete document: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("document %d: %w", id, repositories.ErrNotFound)
	}
	return nil
}

// ===== GENERATION JOBS =====

type GenerationJobPostgreSQL struct {
	db      *gorm.DB
	helpers *SharedHelpers
}

func NewGenerationJobPostgreSQL(db *gorm.DB) repositories.GenerationJobRepository {
	return &GenerationJobPostgreSQL{
		db:      db,
		helpers: NewSharedHelpers(db),
	}
}

func (r *GenerationJobPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *GenerationJobPostgreSQL) Create(ctx context.Context, tx *gorm.DB, job *models.GenerationJob) error {
	if job.Status == "" {
		job.Status = models.JobQueued
	}
	if err := r.getDB(tx).WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create generation job: %w", err)
	}
	return nil
}

func (r *GenerationJobPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.GenerationJob, error) {
	var job models.GenerationJob
	if err := r.getDB(tx).WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, notFoundOr(err, "generation job %s", id)
	}
	return &job, nil
}

func (r *GenerationJobPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.JobFilters) ([]*models.GenerationJob, int64, error) {
	query := r.getDB(tx).WithContext(ctx).Model(&models.GenerationJob{})
	query = r.helpers.ApplyJobFilters(query, filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count generation jobs: %w", err)
	}

	query = r.helpers.ApplyPaginationAndSort(query, "created_at", "desc", filters.Limit, filters.Offset)

	var jobs []*models.GenerationJob
	if err := query.Omit("result").Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list generation jobs: %w", err)
	}
	return jobs, total, nil
}

// ClaimNextRunnable picks the oldest job that is queued, failed with attempts
// left after the retry delay, or running with a stale heartbeat and attempts
// left. Stale running jobs that used up their attempts are failed for good.
// Concurrent workers skip rows another worker holds.
func (r *GenerationJobPostgreSQL) ClaimNextRunnable(ctx context.Context, opts repositories.ClaimOptions) (*models.GenerationJob, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	retryCutoff := now.Add(-opts.RetryDelay)
	staleCutoff := now.Add(-opts.StaleRunning)

	var claimed *models.GenerationJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.GenerationJob{}).
			Where("status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ? AND attempts >= ?",
				models.JobRunning, staleCutoff, opts.MaxAttempts).
			Updates(map[string]interface{}{
				"status":        models.JobFailed,
				"error":         "worker stopped responding",
				"last_error_at": now,
				"completed_at":  now,
				"updated_at":    now,
			}).Error; err != nil {
			return err
		}

		var job models.GenerationJob
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          status = ?
          OR (
            status = ?
            AND completed_at IS NULL
            AND attempts < ?
            AND (last_error_at IS NULL OR last_error_at < ?)
          )
          OR (
            status = ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
            AND attempts < ?
          )
        )
      `, models.JobQueued, models.JobFailed, opts.MaxAttempts, retryCutoff, models.JobRunning, staleCutoff, opts.MaxAttempts).
			Order("created_at ASC")
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}

		uErr := tx.Model(&models.GenerationJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       models.JobRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}

		job.Status = models.JobRunning
		job.Attempts++
		job.LockedAt = &now
		job.HeartbeatAt = &now
		job.UpdatedAt = now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim generation job: %w", err)
	}
	return claimed, nil
}

func (r *GenerationJobPostgreSQL) UpdateFields(ctx context.Context, tx *gorm.DB, id string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	if err := r.getDB(tx).WithContext(ctx).
		Model(&models.GenerationJob{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update generation job: %w", err)
	}
	return nil
}

func (r *GenerationJobPostgreSQL) UpdateUnlessCancelled(ctx context.Context, id string, updates map[string]interface{}) (bool, error) {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	result := r.db.WithContext(ctx).
		Model(&models.GenerationJob{}).
		Where("id = ? AND status <> ?", id, models.JobCancelled).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update generation job: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *GenerationJobPostgreSQL) Heartbeat(ctx context.Context, id string, stage string, progress int) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"heartbeat_at": now,
		"updated_at":   now,
	}
	if stage != "" {
		updates["stage"] = stage
	}
	if progress >= 0 {
		updates["progress"] = progress
	}
	if err := r.db.WithContext(ctx).
		Model(&models.GenerationJob{}).
		Where("id = ? AND status = ?", id, models.JobRunning).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to heartbeat generation job: %w", err)
	}
	return nil
}

func (r *GenerationJobPostgreSQL) Cancel(ctx context.Context, tx *gorm.DB, id string) (bool, error) {
	now := time.Now().UTC()
	result := r.getDB(tx).WithContext(ctx).
		Model(&models.GenerationJob{}).
		Where("id = ? AND status IN ?", id, []models.JobStatus{models.JobQueued, models.JobRunning}).
		Updates(map[string]interface{}{
			"status":       models.JobCancelled,
			"stage":        "cancelled",
			"completed_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to cancel generation job: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *GenerationJobPostgreSQL) Requeue(ctx context.Context, tx *gorm.DB, id string) (bool, error) {
	result := r.getDB(tx).WithContext(ctx).
		Model(&models.GenerationJob{}).
		Where("id = ? AND status = ?", id, models.JobFailed).
		Updates(map[string]interface{}{
			"status":        models.JobQueued,
			"stage":         "queued",
			"progress":      0,
			"attempts":      0,
			"error":         "",
			"last_error_at": nil,
			"completed_at":  nil,
			"locked_at":     nil,
			"heartbeat_at":  nil,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to requeue generation job: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ===== FLASHCARDS =====

type FlashcardPostgreSQL struct {
	db *gorm.DB
}

func NewFlashcardPostgreSQL(db *gorm.DB) repositories.FlashcardRepository {
	return &FlashcardPostgreSQL{db: db}
}

func (r *FlashcardPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *FlashcardPostgreSQL) CreateDeck(ctx context.Context, tx *gorm.DB, deck *models.FlashcardDeck) error {
	for i := range deck.Cards {
		deck.Cards[i].Position = i
	}
	if err := r.getDB(tx).WithContext(ctx).Create(deck).Error; err != nil {
		if repositories.IsDuplicateError(err) {
			return fmt.Errorf("deck for job: %w", repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to create flashcard deck: %w", err)
	}
	return nil
}

func (r *FlashcardPostgreSQL) GetDeck(ctx context.Context, tx *gorm.DB, id uint) (*models.FlashcardDeck, error) {
	var deck models.FlashcardDeck
	if err := r.getDB(tx).WithContext(ctx).
		Preload("Cards", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&deck, id).Error; err != nil {
		return nil, notFoundOr(err, "flashcard deck %d", id)
	}
	return &deck, nil
}

func (r *FlashcardPostgreSQL) GetDeckByJob(ctx context.Context, tx *gorm.DB, jobID string) (*models.FlashcardDeck, error) {
	var deck models.FlashcardDeck
	if err := r.getDB(tx).WithContext(ctx).
		Preload("Cards", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("job_id = ?", jobID).
		First(&deck).Error; err != nil {
		return nil, notFoundOr(err, "flashcard deck for job %s", jobID)
	}
	return &deck, nil
}

func (r *FlashcardPostgreSQL) ListDecks(ctx context.Context, tx *gorm.DB, userID string, limit, offset int) ([]*models.FlashcardDeck, int64, error) {
	query := r.getDB(tx).WithContext(ctx).Model(&models.FlashcardDeck{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count flashcard decks: %w", err)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var decks []*models.FlashcardDeck
	if err := query.Order("created_at DESC, id DESC").Find(&decks).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list flashcard decks: %w", err)
	}
	return decks, total, nil
}
