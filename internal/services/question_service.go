package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
	"github.com/dentprep/exam-service/internal/validator"
)

type questionService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
}

func NewQuestionService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator) QuestionService {
	return &questionService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
	}
}

// ===== CORE CRUD OPERATIONS =====

func (s *questionService) Create(ctx context.Context, req *CreateQuestionRequest, userID string) (*models.Question, error) {
	s.logger.Info("Creating question", "user_id", userID, "subject_id", req.SubjectID)

	if errs := s.validator.GetBusinessValidator().ValidateQuestionCreate(req); len(errs) > 0 {
		return nil, errs
	}

	if err := s.requireSubject(ctx, s.db, req.SubjectID); err != nil {
		return nil, err
	}

	exists, err := s.repo.Question().ExistsByStem(ctx, s.db, req.SubjectID, req.Stem, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to check duplicate stem: %w", err)
	}
	if exists {
		return nil, ErrQuestionDuplicateStem
	}

	question := questionFromRequest(req, userID, models.SourceManual)
	if err := s.repo.Question().Create(ctx, s.db, question); err != nil {
		return nil, fmt.Errorf("failed to create question: %w", err)
	}

	s.logger.Info("Question created", "question_id", question.ID, "published", question.IsPublished)
	return question, nil
}

func (s *questionService) GetByID(ctx context.Context, id uint) (*models.Question, error) {
	question, err := s.repo.Question().GetByID(ctx, s.db, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	return question, nil
}

func (s *questionService) Update(ctx context.Context, id uint, req *UpdateQuestionRequest, userID string) (*models.Question, error) {
	s.logger.Info("Updating question", "question_id", id, "user_id", userID)

	var question *models.Question
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		question, err = s.repo.Question().GetByID(ctx, tx, id)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrQuestionNotFound
			}
			return fmt.Errorf("failed to get question: %w", err)
		}

		if errs := s.validator.GetBusinessValidator().ValidateQuestionUpdate(req, question); len(errs) > 0 {
			return errs
		}

		if req.SubjectID != nil && *req.SubjectID != question.SubjectID {
			if err := s.requireSubject(ctx, tx, *req.SubjectID); err != nil {
				return err
			}
			question.SubjectID = *req.SubjectID
		}
		if req.Stem != nil {
			question.Stem = strings.TrimSpace(*req.Stem)
		}
		if req.SubjectID != nil || req.Stem != nil {
			exists, err := s.repo.Question().ExistsByStem(ctx, tx, question.SubjectID, question.Stem, &id)
			if err != nil {
				return fmt.Errorf("failed to check duplicate stem: %w", err)
			}
			if exists {
				return ErrQuestionDuplicateStem
			}
		}
		if req.Options != nil {
			question.Options = toOptions(req.Options)
		}
		if req.CorrectOptionID != nil {
			question.CorrectOptionID = *req.CorrectOptionID
		}
		if req.Explanation != nil {
			question.Explanation = req.Explanation
		}
		if req.Difficulty != nil {
			question.Difficulty = *req.Difficulty
		}
		if req.Tags != nil {
			question.Tags = req.Tags
		}
		question.Subject = nil

		return s.repo.Question().Update(ctx, tx, question)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Question updated", "question_id", id)
	return question, nil
}

func (s *questionService) Delete(ctx context.Context, id uint, userID string) error {
	s.logger.Info("Deleting question", "question_id", id, "user_id", userID)

	if err := s.repo.Question().Delete(ctx, s.db, id); err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrQuestionNotFound
		}
		return fmt.Errorf("failed to delete question: %w", err)
	}
	return nil
}

func (s *questionService) List(ctx context.Context, filters repositories.QuestionFilters) ([]*models.Question, int64, error) {
	questions, total, err := s.repo.Question().List(ctx, s.db, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list questions: %w", err)
	}
	return questions, total, nil
}

func (s *questionService) SetPublished(ctx context.Context, ids []uint, published bool, userID string) (int64, error) {
	s.logger.Info("Changing question visibility",
		"user_id", userID,
		"count", len(ids),
		"published", published)

	if len(ids) == 0 {
		return 0, ValidationErrors{{Field: "ids", Message: "at least one question id is required", Rule: "required"}}
	}

	n, err := s.repo.Question().SetPublished(ctx, s.db, ids, published)
	if err != nil {
		return 0, fmt.Errorf("failed to update question visibility: %w", err)
	}
	return n, nil
}

func (s *questionService) GetStats(ctx context.Context, id uint) (*models.QuestionStats, error) {
	if _, err := s.GetByID(ctx, id); err != nil {
		return nil, err
	}
	stats, err := s.repo.Question().GetStats(ctx, s.db, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get question stats: %w", err)
	}
	return stats, nil
}

// ===== SUBJECTS =====

func (s *questionService) ListSubjects(ctx context.Context) ([]*models.Subject, error) {
	subjects, err := s.repo.Subject().List(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	return subjects, nil
}

func (s *questionService) CreateSubject(ctx context.Context, req *CreateSubjectRequest) (*models.Subject, error) {
	if req.Slug == "" {
		req.Slug = slugify(req.Name)
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	subject := &models.Subject{
		Name:        strings.TrimSpace(req.Name),
		Slug:        req.Slug,
		Description: req.Description,
	}
	if err := s.repo.Subject().Create(ctx, s.db, subject); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, ErrSubjectDuplicateSlug
		}
		return nil, fmt.Errorf("failed to create subject: %w", err)
	}

	s.logger.Info("Subject created", "subject_id", subject.ID, "slug", subject.Slug)
	return subject, nil
}

// ===== HELPERS =====

func (s *questionService) requireSubject(ctx context.Context, tx *gorm.DB, subjectID uint) error {
	if _, err := s.repo.Subject().GetByID(ctx, tx, subjectID); err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrSubjectNotFound
		}
		return fmt.Errorf("failed to get subject: %w", err)
	}
	return nil
}

func questionFromRequest(req *CreateQuestionRequest, userID string, source models.QuestionSource) *models.Question {
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}
	return &models.Question{
		SubjectID:       req.SubjectID,
		Stem:            strings.TrimSpace(req.Stem),
		Options:         toOptions(req.Options),
		CorrectOptionID: req.CorrectOptionID,
		Explanation:     req.Explanation,
		Difficulty:      req.Difficulty,
		Tags:            tags,
		Source:          source,
		IsPublished:     req.Publish,
		CreatedBy:       userID,
	}
}

func toOptions(in []validator.OptionRequest) []models.Option {
	out := make([]models.Option, 0, len(in))
	for _, o := range in {
		out = append(out, models.Option{ID: o.ID, Text: strings.TrimSpace(o.Text)})
	}
	return out
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	return strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(name), "-"), "-")
}
