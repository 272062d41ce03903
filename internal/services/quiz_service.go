package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/dentprep/exam-service/internal/config"
	"github.com/dentprep/exam-service/internal/events"
	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
	"github.com/dentprep/exam-service/internal/shuffle"
	"github.com/dentprep/exam-service/internal/validator"
)

// Practice sessions have no time limit but are not resumable forever.
const practiceSessionTTL = 24 * time.Hour

type quizService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
	cfg       config.QuizConfig
	now       func() time.Time
}

func NewQuizService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, publisher events.EventPublisher, cfg config.QuizConfig) QuizService {
	if cfg.DefaultCount <= 0 {
		cfg.DefaultCount = 20
	}
	if cfg.MaxCount <= 0 {
		cfg.MaxCount = 100
	}
	if cfg.PassMark <= 0 {
		cfg.PassMark = 60
	}
	if cfg.ExamSecondsPerItem <= 0 {
		cfg.ExamSecondsPerItem = 72
	}
	return &quizService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		publisher: publisher,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ===== SESSION LIFECYCLE =====

func (s *quizService) Start(ctx context.Context, req *StartQuizRequest, userID string) (*QuizSessionResponse, error) {
	s.logger.Info("Starting quiz session",
		"user_id", userID,
		"mode", req.Mode,
		"subject_id", req.SubjectID,
		"count", req.Count)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	active, err := s.activeSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		s.logger.Info("Resuming existing quiz session", "session_id", active.ID, "user_id", userID)
		resp, err := s.buildResponse(ctx, active)
		if err != nil {
			return nil, err
		}
		resp.Resumed = true
		return resp, nil
	}

	count := req.Count
	if count <= 0 {
		count = s.cfg.DefaultCount
	}
	if count > s.cfg.MaxCount {
		count = s.cfg.MaxCount
	}

	seed := req.Seed
	if !shuffle.IsValidSeed(seed) {
		seed = shuffle.GenerateSeed(userID)
	}

	pool, err := s.repo.Question().ListPoolIDs(ctx, s.db, repositories.QuestionPoolFilter{
		SubjectID:  req.SubjectID,
		Difficulty: req.Difficulty,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load question pool: %w", err)
	}
	if len(pool) == 0 {
		return nil, ErrNoQuestionsAvailable
	}

	session := s.newSession(userID, req.Mode, seed, selectQuestionSet(pool, seed, count))
	session.SubjectID = req.SubjectID
	session.Difficulty = req.Difficulty

	created, resumed, err := s.createActive(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to create quiz session: %w", err)
	}
	if resumed {
		s.logger.Info("Concurrent start resumed existing quiz session", "session_id", created.ID, "user_id", userID)
		resp, err := s.buildResponse(ctx, created)
		if err != nil {
			return nil, err
		}
		resp.Resumed = true
		return resp, nil
	}

	s.logger.Info("Quiz session started",
		"session_id", session.ID,
		"user_id", userID,
		"total_questions", session.TotalQuestions,
		"pool_size", len(pool))

	return s.buildResponse(ctx, session)
}

func (s *quizService) Get(ctx context.Context, sessionID uint, userID string) (*QuizSessionResponse, error) {
	session, err := s.ownedSession(ctx, sessionID, userID, "view")
	if err != nil {
		return nil, err
	}

	if session.Status == models.SessionInProgress && session.IsExpired(s.now()) {
		if err := s.markExpired(ctx, s.db, session); err != nil {
			return nil, err
		}
	}

	return s.buildResponse(ctx, session)
}

func (s *quizService) SubmitAnswer(ctx context.Context, sessionID uint, req *SubmitAnswerRequest, userID string) (*AnswerResult, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	var (
		session  *models.QuizSession
		question *models.Question
		answer   *models.SessionAnswer
		expired  bool
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		session, err = s.repo.Quiz().GetByIDForUpdate(ctx, tx, sessionID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrQuizNotFound
			}
			return fmt.Errorf("failed to get quiz session: %w", err)
		}
		if session.UserID != userID {
			return NewPermissionError(userID, sessionID, "quiz_session", "answer", "not owned by user")
		}
		if err := checkAnswerable(session); err != nil {
			return err
		}
		if session.IsExpired(s.now()) {
			expired = true
			return s.markExpired(ctx, tx, session)
		}

		position := session.QuestionPosition(req.QuestionID)
		if position < 0 {
			return ErrQuestionNotInQuiz
		}

		question, err = s.repo.Question().GetByID(ctx, tx, req.QuestionID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrQuestionNotFound
			}
			return fmt.Errorf("failed to get question: %w", err)
		}
		if !question.HasOption(req.OptionID) {
			return ErrInvalidOption
		}

		answer = &models.SessionAnswer{
			SessionID:        sessionID,
			QuestionID:       req.QuestionID,
			SelectedOptionID: req.OptionID,
			IsCorrect:        question.IsCorrect(req.OptionID),
			TimeSpent:        req.TimeSpent,
			AnsweredAt:       s.now(),
		}
		if err := s.repo.Answer().Upsert(ctx, tx, answer); err != nil {
			return fmt.Errorf("failed to save answer: %w", err)
		}

		answered, correct, err := s.repo.Answer().CountBySession(ctx, tx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to count answers: %w", err)
		}
		session.AnsweredCount = answered
		session.CorrectCount = correct
		if next := min(position+1, session.TotalQuestions); next > session.CurrentIndex {
			session.CurrentIndex = next
		}
		return s.repo.Quiz().Update(ctx, tx, session)
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, ErrQuizExpired
	}

	result := &AnswerResult{
		QuestionID:     req.QuestionID,
		Accepted:       true,
		AnsweredCount:  session.AnsweredCount,
		TotalQuestions: session.TotalQuestions,
		CurrentIndex:   session.CurrentIndex,
	}
	// Exam mode withholds feedback until review.
	if session.Mode == models.ModePractice {
		result.IsCorrect = boolPtr(answer.IsCorrect)
		result.CorrectOptionID = stringPtr(question.CorrectOptionID)
		result.Explanation = question.Explanation
	}

	s.logger.Debug("Answer recorded",
		"session_id", sessionID,
		"question_id", req.QuestionID,
		"answered", session.AnsweredCount)

	return result, nil
}

func (s *quizService) Complete(ctx context.Context, sessionID uint, userID string) (*QuizResult, error) {
	s.logger.Info("Completing quiz session", "session_id", sessionID, "user_id", userID)

	var session *models.QuizSession
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		session, err = s.repo.Quiz().GetByIDForUpdate(ctx, tx, sessionID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrQuizNotFound
			}
			return fmt.Errorf("failed to get quiz session: %w", err)
		}
		if session.UserID != userID {
			return NewPermissionError(userID, sessionID, "quiz_session", "complete", "not owned by user")
		}
		if err := checkAnswerable(session); err != nil {
			return err
		}

		answered, correct, err := s.repo.Answer().CountBySession(ctx, tx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to count answers: %w", err)
		}

		now := s.now()
		session.AnsweredCount = answered
		session.CorrectCount = correct
		session.Percentage = percentage(correct, session.TotalQuestions)
		session.Passed = session.Percentage >= s.cfg.PassMark
		session.Status = models.SessionCompleted
		session.CompletedAt = &now
		return s.repo.Quiz().Update(ctx, tx, session)
	})
	if err != nil {
		return nil, err
	}

	result := &QuizResult{
		SessionID:   session.ID,
		Total:       session.TotalQuestions,
		Answered:    session.AnsweredCount,
		Correct:     session.CorrectCount,
		Percentage:  session.Percentage,
		Passed:      session.Passed,
		PassMark:    s.cfg.PassMark,
		CompletedAt: *session.CompletedAt,
	}

	s.publishCompleted(ctx, session)

	s.logger.Info("Quiz session completed",
		"session_id", sessionID,
		"user_id", userID,
		"correct", result.Correct,
		"total", result.Total,
		"percentage", result.Percentage,
		"passed", result.Passed)

	return result, nil
}

func (s *quizService) Review(ctx context.Context, sessionID uint, userID string) (*ReviewResponse, error) {
	session, err := s.ownedSession(ctx, sessionID, userID, "review")
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionCompleted {
		return nil, ErrQuizNotCompleted
	}

	if !slices.Equal(presentationOrder(session.QuestionIDs, session.Seed), []uint(session.QuestionIDs)) {
		s.logger.Error("Quiz order does not reproduce from seed",
			"session_id", sessionID,
			"seed", session.Seed)
		return nil, ErrQuizIntegrity
	}

	questions, err := s.questionsByID(ctx, session.QuestionIDs)
	if err != nil {
		return nil, err
	}
	answers, err := s.answersByQuestion(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	items := make([]ReviewItem, 0, len(session.QuestionIDs))
	for i, id := range session.QuestionIDs {
		q, ok := questions[id]
		if !ok {
			continue
		}
		item := ReviewItem{
			Position:        i + 1,
			QuestionID:      id,
			Stem:            q.Stem,
			Options:         optionOrder(q, session.Seed),
			CorrectOptionID: q.CorrectOptionID,
			Explanation:     q.Explanation,
		}
		if a, ok := answers[id]; ok {
			item.SelectedOptionID = stringPtr(a.SelectedOptionID)
			item.IsCorrect = a.IsCorrect
			item.TimeSpent = a.TimeSpent
		}
		items = append(items, item)
	}

	return &ReviewResponse{Session: session, Items: items}, nil
}

func (s *quizService) Retake(ctx context.Context, sessionID uint, userID string) (*QuizSessionResponse, error) {
	original, err := s.ownedSession(ctx, sessionID, userID, "retake")
	if err != nil {
		return nil, err
	}
	if original.Status == models.SessionInProgress && !original.IsExpired(s.now()) {
		return nil, ErrQuizNotCompleted
	}

	active, err := s.activeSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, NewBusinessRuleError("single_active_session",
			"finish the quiz in progress before starting a retake",
			map[string]interface{}{"active_session_id": active.ID})
	}

	questions, err := s.questionsByID(ctx, original.QuestionIDs)
	if err != nil {
		return nil, err
	}
	canonical := make([]uint, 0, len(questions))
	for _, id := range original.QuestionIDs {
		if _, ok := questions[id]; ok {
			canonical = append(canonical, id)
		}
	}
	if len(canonical) == 0 {
		return nil, ErrNoQuestionsAvailable
	}
	slices.Sort(canonical)

	session := s.newSession(userID, original.Mode, shuffle.GenerateSeed(userID), canonical)
	session.SubjectID = original.SubjectID
	session.Difficulty = original.Difficulty
	session.RetakeOf = &original.ID

	created, resumed, err := s.createActive(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to create retake session: %w", err)
	}
	if resumed {
		return nil, NewBusinessRuleError("single_active_session",
			"finish the quiz in progress before starting a retake",
			map[string]interface{}{"active_session_id": created.ID})
	}

	s.logger.Info("Quiz retake started",
		"session_id", session.ID,
		"retake_of", original.ID,
		"user_id", userID)

	return s.buildResponse(ctx, session)
}

func (s *quizService) ListSessions(ctx context.Context, userID string, filters repositories.SessionFilters) ([]*models.QuizSession, int64, error) {
	filters.UserID = &userID
	sessions, total, err := s.repo.Quiz().List(ctx, s.db, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list quiz sessions: %w", err)
	}
	return sessions, total, nil
}

// ExpireStale moves every overdue in-progress session to expired.
func (s *quizService) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.repo.Quiz().ExpireStale(ctx, s.db, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("Expired stale quiz sessions", "count", n)
	}
	return n, nil
}

// ===== HELPERS =====

// selectQuestionSet samples count ids from pool and returns them ascending.
// The ascending set is what a seed is applied to, so the same seed over the
// same set always yields the same presentation order.
func selectQuestionSet(pool []uint, seed string, count int) []uint {
	picked := shuffle.Shuffle(pool, seed)
	if count < len(picked) {
		picked = picked[:count]
	}
	slices.Sort(picked)
	return picked
}

// presentationOrder shuffles the ascending form of ids with seed.
func presentationOrder(ids []uint, seed string) []uint {
	canonical := slices.Clone(ids)
	slices.Sort(canonical)
	return shuffle.Shuffle(canonical, seed)
}

func optionOrder(q *models.Question, seed string) []models.Option {
	return shuffle.Shuffle([]models.Option(q.Options), shuffle.DeriveSeed(seed, strconv.FormatUint(uint64(q.ID), 10)))
}

func (s *quizService) newSession(userID string, mode models.QuizMode, seed string, canonical []uint) *models.QuizSession {
	now := s.now()
	session := &models.QuizSession{
		UserID:         userID,
		Mode:           mode,
		Seed:           seed,
		QuestionIDs:    shuffle.Shuffle(canonical, seed),
		Status:         models.SessionInProgress,
		TotalQuestions: len(canonical),
		StartedAt:      now,
	}

	var expires time.Time
	if mode == models.ModeExam {
		session.TimeLimitSeconds = len(canonical) * s.cfg.ExamSecondsPerItem
		expires = now.Add(time.Duration(session.TimeLimitSeconds) * time.Second)
	} else {
		expires = now.Add(practiceSessionTTL)
	}
	session.ExpiresAt = &expires
	return session
}

// createActive inserts session as the user's only in-progress session. The
// partial unique index on quiz_sessions(user_id) rejects a second one; the
// session that won a concurrent start is then returned with resumed set.
func (s *quizService) createActive(ctx context.Context, session *models.QuizSession) (*models.QuizSession, bool, error) {
	err := s.repo.Quiz().Create(ctx, s.db, session)
	if err == nil {
		return session, false, nil
	}
	if !repositories.IsDuplicateError(err) {
		return nil, false, err
	}
	active, aerr := s.activeSession(ctx, session.UserID)
	if aerr != nil {
		return nil, false, aerr
	}
	if active == nil {
		return nil, false, err
	}
	return active, true, nil
}

// activeSession returns the user's unexpired in-progress session, or nil.
// An overdue one found on the way is expired.
func (s *quizService) activeSession(ctx context.Context, userID string) (*models.QuizSession, error) {
	session, err := s.repo.Quiz().GetActiveByUser(ctx, s.db, userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active quiz session: %w", err)
	}
	if session.IsExpired(s.now()) {
		if err := s.markExpired(ctx, s.db, session); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return session, nil
}

func (s *quizService) ownedSession(ctx context.Context, sessionID uint, userID, action string) (*models.QuizSession, error) {
	session, err := s.repo.Quiz().GetByID(ctx, s.db, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("failed to get quiz session: %w", err)
	}
	if session.UserID != userID {
		return nil, NewPermissionError(userID, sessionID, "quiz_session", action, "not owned by user")
	}
	return session, nil
}

func (s *quizService) markExpired(ctx context.Context, tx *gorm.DB, session *models.QuizSession) error {
	session.Status = models.SessionExpired
	if err := s.repo.Quiz().Update(ctx, tx, session); err != nil {
		return fmt.Errorf("failed to expire quiz session: %w", err)
	}
	s.logger.Info("Quiz session expired", "session_id", session.ID, "user_id", session.UserID)
	return nil
}

func checkAnswerable(session *models.QuizSession) error {
	switch session.Status {
	case models.SessionInProgress:
		return nil
	case models.SessionCompleted:
		return ErrQuizAlreadyCompleted
	case models.SessionExpired:
		return ErrQuizExpired
	default:
		return ErrQuizNotActive
	}
}

func (s *quizService) buildResponse(ctx context.Context, session *models.QuizSession) (*QuizSessionResponse, error) {
	questions, err := s.questionsByID(ctx, session.QuestionIDs)
	if err != nil {
		return nil, err
	}
	answers, err := s.answersByQuestion(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	items := make([]QuizQuestion, 0, len(session.QuestionIDs))
	for i, id := range session.QuestionIDs {
		q, ok := questions[id]
		if !ok {
			s.logger.Warn("Quiz question no longer exists", "session_id", session.ID, "question_id", id)
			continue
		}
		item := QuizQuestion{
			Position:   i + 1,
			QuestionID: id,
			SubjectID:  q.SubjectID,
			Stem:       q.Stem,
			Options:    optionOrder(q, session.Seed),
			Difficulty: q.Difficulty,
		}
		if a, ok := answers[id]; ok {
			item.SelectedOptionID = stringPtr(a.SelectedOptionID)
		}
		items = append(items, item)
	}

	resp := &QuizSessionResponse{QuizSession: session, Questions: items}
	if session.Mode == models.ModeExam && session.Status == models.SessionInProgress && session.ExpiresAt != nil {
		remaining := int(math.Ceil(session.ExpiresAt.Sub(s.now()).Seconds()))
		resp.RemainingSeconds = intPtr(max(remaining, 0))
	}
	return resp, nil
}

func (s *quizService) questionsByID(ctx context.Context, ids []uint) (map[uint]*models.Question, error) {
	questions, err := s.repo.Question().GetByIDs(ctx, s.db, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load quiz questions: %w", err)
	}
	byID := make(map[uint]*models.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	return byID, nil
}

func (s *quizService) answersByQuestion(ctx context.Context, sessionID uint) (map[uint]*models.SessionAnswer, error) {
	answers, err := s.repo.Answer().ListBySession(ctx, s.db, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load answers: %w", err)
	}
	byQuestion := make(map[uint]*models.SessionAnswer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}
	return byQuestion, nil
}

func (s *quizService) publishCompleted(ctx context.Context, session *models.QuizSession) {
	if s.publisher == nil {
		return
	}
	event, err := events.NewEvent(events.TopicQuizCompleted, &events.QuizCompletedEvent{
		SessionID:   session.ID,
		UserID:      session.UserID,
		SubjectID:   session.SubjectID,
		Mode:        session.Mode,
		Total:       session.TotalQuestions,
		Answered:    session.AnsweredCount,
		Correct:     session.CorrectCount,
		Percentage:  session.Percentage,
		Passed:      session.Passed,
		CompletedAt: *session.CompletedAt,
	})
	if err == nil {
		err = s.publisher.Publish(ctx, event)
	}
	if err != nil {
		s.logger.Error("Failed to publish quiz completed event",
			"session_id", session.ID,
			"error", err)
	}
}

func percentage(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(correct)*10000/float64(total)) / 100
}
