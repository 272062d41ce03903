package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/dentprep/exam-service/internal/ai"
	"github.com/dentprep/exam-service/internal/cache"
	"github.com/dentprep/exam-service/internal/events"
	"github.com/dentprep/exam-service/internal/jobs"
	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
	"github.com/dentprep/exam-service/internal/storage"
	"github.com/dentprep/exam-service/internal/validator"
)

// Clients poll job status; a short TTL absorbs the polling without hiding
// progress for long.
const jobStatusTTL = 3 * time.Second

var defaultGenerationCount = map[models.GenerationKind]int{
	models.KindFlashcards: 10,
	models.KindQuestions:  5,
}

type generationService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	documents DocumentService
	store     storage.ObjectStore
	generator *ai.Generator
	publisher events.EventPublisher
	cache     *cache.CacheManager
}

func NewGenerationService(
	repo repositories.Repository,
	db *gorm.DB,
	logger *slog.Logger,
	validator *validator.Validator,
	documents DocumentService,
	store storage.ObjectStore,
	generator *ai.Generator,
	publisher events.EventPublisher,
	cacheManager *cache.CacheManager,
) GenerationService {
	if cacheManager == nil {
		cacheManager = cache.NewCacheManager(nil)
	}
	return &generationService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		documents: documents,
		store:     store,
		generator: generator,
		publisher: publisher,
		cache:     cacheManager,
	}
}

// ===== JOB REQUESTS =====

func (s *generationService) Request(ctx context.Context, userID string, req *GenerationRequest) (*models.GenerationJob, error) {
	s.logger.Info("Requesting generation",
		"user_id", userID,
		"kind", req.Kind,
		"document_id", req.DocumentID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	prompt := strings.TrimSpace(req.Prompt)
	if req.DocumentID == nil && prompt == "" {
		return nil, ErrJobMissingInput
	}

	title := strings.TrimSpace(req.Title)
	subjectID := req.SubjectID
	if req.DocumentID != nil {
		doc, err := s.documents.Get(ctx, *req.DocumentID, userID)
		if err != nil {
			return nil, err
		}
		if title == "" {
			title = doc.Title
		}
		if subjectID == nil {
			subjectID = doc.SubjectID
		}
	}
	if title == "" {
		title = "Study notes"
	}

	if req.Kind == models.KindQuestions && subjectID == nil {
		return nil, ValidationErrors{{Field: "subject_id", Message: "is required for question generation", Rule: "required"}}
	}
	if subjectID != nil {
		if _, err := s.repo.Subject().GetByID(ctx, s.db, *subjectID); err != nil {
			if repositories.IsNotFoundError(err) {
				return nil, ErrSubjectNotFound
			}
			return nil, fmt.Errorf("failed to get subject: %w", err)
		}
	}

	count := req.Count
	if count == 0 {
		count = defaultGenerationCount[req.Kind]
	}

	job := &models.GenerationJob{
		UserID:     userID,
		Kind:       req.Kind,
		Title:      title,
		DocumentID: req.DocumentID,
		SubjectID:  subjectID,
		Prompt:     prompt,
		Count:      count,
		Status:     models.JobQueued,
		Stage:      "queued",
	}
	if err := s.repo.Generation().Create(ctx, s.db, job); err != nil {
		return nil, fmt.Errorf("failed to create generation job: %w", err)
	}

	s.publishRequested(ctx, job)

	s.logger.Info("Generation job queued", "job_id", job.ID, "user_id", userID, "kind", job.Kind)
	return job, nil
}

func (s *generationService) Get(ctx context.Context, jobID, userID string) (*models.GenerationJob, error) {
	var job models.GenerationJob
	err := s.cache.Job.CacheOrExecute(ctx, jobCacheKey(jobID), &job, jobStatusTTL, func() (interface{}, error) {
		return s.repo.Generation().GetByID(ctx, s.db, jobID)
	})
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get generation job: %w", err)
	}
	if job.UserID != userID {
		return nil, NewPermissionError(userID, jobID, "generation_job", "view", "not owned by user")
	}
	return &job, nil
}

func (s *generationService) List(ctx context.Context, filters repositories.JobFilters) ([]*models.GenerationJob, int64, error) {
	jobs, total, err := s.repo.Generation().List(ctx, s.db, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list generation jobs: %w", err)
	}
	return jobs, total, nil
}

func (s *generationService) Cancel(ctx context.Context, jobID, userID string) (*models.GenerationJob, error) {
	if _, err := s.owned(ctx, jobID, userID, "cancel"); err != nil {
		return nil, err
	}

	ok, err := s.repo.Generation().Cancel(ctx, s.db, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel generation job: %w", err)
	}
	if !ok {
		return nil, ErrJobNotCancellable
	}
	cache.InvalidateJobCache(ctx, s.cache, jobID)

	s.logger.Info("Generation job cancelled", "job_id", jobID, "user_id", userID)
	return s.owned(ctx, jobID, userID, "view")
}

// Wait polls the job until it reaches a terminal state or ctx ends.
func (s *generationService) Wait(ctx context.Context, jobID, userID string, interval time.Duration) (*models.GenerationJob, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := s.owned(ctx, jobID, userID, "view")
		if err != nil {
			return nil, err
		}
		if job.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, fmt.Errorf("waiting for generation job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *generationService) Retry(ctx context.Context, jobID, adminID string) (*models.GenerationJob, error) {
	s.logger.Info("Retrying generation job", "job_id", jobID, "admin_id", adminID)

	job, err := s.repo.Generation().GetByID(ctx, s.db, jobID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get generation job: %w", err)
	}
	if job.Status != models.JobFailed {
		return nil, ErrJobNotRetryable
	}

	ok, err := s.repo.Generation().Requeue(ctx, s.db, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to requeue generation job: %w", err)
	}
	if !ok {
		return nil, ErrJobNotRetryable
	}
	cache.InvalidateJobCache(ctx, s.cache, jobID)

	job, err = s.repo.Generation().GetByID(ctx, s.db, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload generation job: %w", err)
	}
	s.publishRequested(ctx, job)
	return job, nil
}

// ===== DECKS =====

func (s *generationService) GetDeck(ctx context.Context, deckID uint, userID string) (*models.FlashcardDeck, error) {
	deck, err := s.repo.Flashcard().GetDeck(ctx, s.db, deckID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrDeckNotFound
		}
		return nil, fmt.Errorf("failed to get flashcard deck: %w", err)
	}
	if deck.UserID != userID {
		return nil, NewPermissionError(userID, deckID, "flashcard_deck", "view", "not owned by user")
	}
	return deck, nil
}

func (s *generationService) ListDecks(ctx context.Context, userID string, limit, offset int) ([]*models.FlashcardDeck, int64, error) {
	decks, total, err := s.repo.Flashcard().ListDecks(ctx, s.db, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list flashcard decks: %w", err)
	}
	return decks, total, nil
}

// ===== WORKER HANDLERS =====

func (s *generationService) Handlers() map[models.GenerationKind]jobs.Handler {
	return map[models.GenerationKind]jobs.Handler{
		models.KindFlashcards: s.runFlashcards,
		models.KindQuestions:  s.runQuestions,
		models.KindSummary:    s.runSummary,
	}
}

func (s *generationService) runFlashcards(ctx context.Context, jc *jobs.JobContext) (interface{}, error) {
	job := jc.Job
	material, err := s.loadMaterial(ctx, jc)
	if err != nil {
		return nil, err
	}

	jc.Progress(ctx, "generating", 30)
	cards, raw, err := s.generator.Flashcards(ctx, job.Title, material, job.Count)
	if err != nil {
		return nil, fmt.Errorf("failed to generate flashcards: %w", err)
	}

	jc.Progress(ctx, "saving", 80)
	if err := s.storeRaw(ctx, jc, raw); err != nil {
		return nil, err
	}

	deck, err := s.repo.Flashcard().GetDeckByJob(ctx, s.db, job.ID)
	if err != nil && !repositories.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to check existing deck: %w", err)
	}
	if deck == nil {
		deck = &models.FlashcardDeck{
			UserID:    job.UserID,
			JobID:     &job.ID,
			Title:     job.Title,
			SubjectID: job.SubjectID,
		}
		for _, c := range cards {
			deck.Cards = append(deck.Cards, models.Flashcard{Front: c.Front, Back: c.Back})
		}
		if err := s.repo.Flashcard().CreateDeck(ctx, s.db, deck); err != nil {
			return nil, fmt.Errorf("failed to save flashcard deck: %w", err)
		}
	}

	jc.Logger().Info("Flashcard deck generated", "deck_id", deck.ID, "cards", len(deck.Cards))
	return map[string]interface{}{
		"deck_id": deck.ID,
		"cards":   len(deck.Cards),
	}, nil
}

func (s *generationService) runQuestions(ctx context.Context, jc *jobs.JobContext) (interface{}, error) {
	job := jc.Job
	if job.SubjectID == nil {
		return nil, errors.New("question generation requires a subject")
	}
	subject, err := s.repo.Subject().GetByID(ctx, s.db, *job.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}

	material, err := s.loadMaterial(ctx, jc)
	if err != nil {
		return nil, err
	}

	jc.Progress(ctx, "generating", 30)
	drafts, raw, err := s.generator.Questions(ctx, subject.Name, material, job.Count)
	if err != nil {
		return nil, fmt.Errorf("failed to generate questions: %w", err)
	}

	jc.Progress(ctx, "saving", 80)
	if err := s.storeRaw(ctx, jc, raw); err != nil {
		return nil, err
	}

	bv := s.validator.GetBusinessValidator()
	var (
		questions []*models.Question
		rejected  int
	)
	for _, d := range drafts {
		req := draftToRequest(d, subject.ID)
		if errs := bv.ValidateQuestionCreate(req); len(errs) > 0 {
			rejected++
			jc.Logger().Debug("Discarding invalid question draft", "stem", d.Stem, "error", errs.Error())
			continue
		}
		exists, err := s.repo.Question().ExistsByStem(ctx, s.db, subject.ID, req.Stem, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to check duplicate stem: %w", err)
		}
		if exists {
			rejected++
			continue
		}
		q := questionFromRequest(req, job.UserID, models.SourceAI)
		q.SourceJobID = &job.ID
		questions = append(questions, q)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("all %d question drafts were rejected: %w", rejected, ai.ErrNoDrafts)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		return s.repo.Question().CreateBatch(ctx, tx, questions)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save question drafts: %w", err)
	}

	ids := make([]uint, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, q.ID)
	}
	jc.Logger().Info("Question drafts generated", "created", len(ids), "rejected", rejected)
	return map[string]interface{}{
		"question_ids": ids,
		"created":      len(ids),
		"rejected":     rejected,
	}, nil
}

func (s *generationService) runSummary(ctx context.Context, jc *jobs.JobContext) (interface{}, error) {
	material, err := s.loadMaterial(ctx, jc)
	if err != nil {
		return nil, err
	}

	jc.Progress(ctx, "generating", 30)
	summary, raw, err := s.generator.Summarize(ctx, jc.Job.Title, material)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize material: %w", err)
	}

	jc.Progress(ctx, "saving", 80)
	if err := s.storeRaw(ctx, jc, raw); err != nil {
		return nil, err
	}
	return summary, nil
}

// ===== HELPERS =====

func (s *generationService) loadMaterial(ctx context.Context, jc *jobs.JobContext) (string, error) {
	jc.Progress(ctx, "reading", 10)
	job := jc.Job
	if job.DocumentID == nil {
		return job.Prompt, nil
	}

	doc, err := s.repo.Document().GetByID(ctx, s.db, *job.DocumentID)
	if err != nil {
		return "", fmt.Errorf("failed to get source document: %w", err)
	}
	text, err := s.documents.ReadText(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("failed to read source document: %w", err)
	}
	if job.Prompt != "" {
		text = job.Prompt + "\n\n" + text
	}
	return text, nil
}

func (s *generationService) storeRaw(ctx context.Context, jc *jobs.JobContext, raw string) error {
	key := storage.GenerationResultKey(jc.Job.ID)
	if err := s.store.Put(ctx, key, strings.NewReader(raw), "application/json"); err != nil {
		return fmt.Errorf("failed to store generation output: %w", err)
	}
	jc.ResultKey = key
	return nil
}

func (s *generationService) owned(ctx context.Context, jobID, userID, action string) (*models.GenerationJob, error) {
	job, err := s.repo.Generation().GetByID(ctx, s.db, jobID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get generation job: %w", err)
	}
	if job.UserID != userID {
		return nil, NewPermissionError(userID, jobID, "generation_job", action, "not owned by user")
	}
	return job, nil
}

func (s *generationService) publishRequested(ctx context.Context, job *models.GenerationJob) {
	if s.publisher == nil {
		return
	}
	event, err := events.NewEvent(events.TopicGenerationRequested, &events.GenerationRequestedEvent{
		JobID:  job.ID,
		UserID: job.UserID,
		Kind:   job.Kind,
	})
	if err == nil {
		err = s.publisher.Publish(ctx, event)
	}
	if err != nil {
		// workers still pick the job up on their next poll
		s.logger.Warn("Failed to publish generation requested event", "job_id", job.ID, "error", err)
	}
}

func draftToRequest(d ai.QuestionDraft, subjectID uint) *validator.QuestionCreateRequest {
	req := &validator.QuestionCreateRequest{
		SubjectID:       subjectID,
		Stem:            d.Stem,
		CorrectOptionID: strings.ToUpper(strings.TrimSpace(d.CorrectOptionID)),
		Difficulty:      models.DifficultyLevel(d.Difficulty),
	}
	for _, o := range d.Options {
		req.Options = append(req.Options, validator.OptionRequest{
			ID:   strings.ToUpper(strings.TrimSpace(o.ID)),
			Text: o.Text,
		})
	}
	if explanation := strings.TrimSpace(d.Explanation); explanation != "" {
		req.Explanation = &explanation
	}
	return req
}

func jobCacheKey(jobID string) string {
	return "id:" + jobID
}
