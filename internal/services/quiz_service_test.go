package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dentprep/exam-service/internal/config"
	"github.com/dentprep/exam-service/internal/events"
	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
)

func newTestQuizService(env *testEnv) *quizService {
	return NewQuizService(env.repo, env.db, env.logger, env.validator, env.publisher, config.QuizConfig{}).(*quizService)
}

// answerQuiz answers every question, the first correct ones with B and the
// rest with A.
func answerQuiz(t *testing.T, svc *quizService, resp *QuizSessionResponse, userID string, correct int) {
	t.Helper()
	for i, q := range resp.Questions {
		option := "A"
		if i < correct {
			option = "B"
		}
		_, err := svc.SubmitAnswer(context.Background(), resp.ID, &SubmitAnswerRequest{
			QuestionID: q.QuestionID,
			OptionID:   option,
			TimeSpent:  12,
		}, userID)
		require.NoError(t, err)
	}
}

func TestQuizService_StartAndResume(t *testing.T) {
	env := newTestEnv(t, false)
	svc := newTestQuizService(env)
	ctx := context.Background()

	perio := seedSubject(t, env.db, "Periodontics", "periodontics")
	seedQuestions(t, env.db, perio.ID, 8)

	resp, err := svc.Start(ctx, &StartQuizRequest{Mode: models.ModePractice, SubjectID: &perio.ID, Count: 5}, "learner-1")
	require.NoError(t, err)
	assert.False(t, resp.Resumed)
	assert.Equal(t, models.SessionInProgress, resp.Status)
	assert.Equal(t, 5, resp.TotalQuestions)
	require.Len(t, resp.Questions, 5)
	assert.Nil(t, resp.RemainingSeconds)
	require.NotNil(t, resp.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(practiceSessionTTL), *resp.ExpiresAt, time.Minute)

	seen := make(map[uint]bool)
	for i, q := range resp.Questions {
		assert.Equal(t, i+1, q.Position)
		assert.False(t, seen[q.QuestionID], "question %d presented twice", q.QuestionID)
		seen[q.QuestionID] = true

		ids := make([]string, 0, len(q.Options))
		for _, o := range q.Options {
			ids = append(ids, o.ID)
		}
		assert.ElementsMatch(t, []string{"A", "B", "C", "D"}, ids)
		assert.Nil(t, q.SelectedOptionID)
	}

	again, err := svc.Start(ctx, &StartQuizRequest{Mode: models.ModeExam, Count: 10}, "learner-1")
	require.NoError(t, err)
	assert.True(t, again.Resumed)
	assert.Equal(t, resp.ID, again.ID)
	assert.Equal(t, []uint(resp.QuestionIDs), []uint(again.QuestionIDs))
	assert.Equal(t, resp.Questions, again.Questions)
}

func TestQuizService_StartValidationAndEmptyPool(t *testing.T) {
	env := newTestEnv(t, false)
	svc := newTestQuizService(env)
	ctx := context.Background()

	_, err := svc.Start(ctx, &StartQuizRequest{Mode: "sprint"}, "learner-1")
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "mode", verrs[0].Field)

	_, err = svc.Start(ctx, &StartQuizRequest{Mode: models.ModePractice, Count: 3}, "learner-1")
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "count", verrs[0].Field)

	empty := seedSubject(t, env.db, "Orthodontics", "orthodontics")
	_, err = svc.Start(ctx, &StartQuizRequest{Mode: models.ModePractice, SubjectID: &empty.ID}, "learner-1")
	assert.ErrorIs(t, err, ErrNoQuestionsAvailable)
}

func TestQuizService_SeedReproducesOrder(t *testing.T) {
	env := newTestEnv(t, false)
	svc := newTestQuizService(env)
	ctx := context.Background()

	endo := seedSubject(t, env.db, "Endodontics", "endodontics")
	seedQuestions(t, env.db, endo.ID, 8)

	req := &StartQuizRequest{Mode: models.ModePractice, Seed: "1700000000000-abc123"}
	first, err := svc.Start(ctx, req, "learner-1")
	require.NoError(t, err)
	second, err := svc.Start(ctx, req, "learner-2")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 8, first.TotalQuestions)
	assert.Equal(t, []uint(first.QuestionIDs), []uint(second.QuestionIDs))
	for i := range first.Questions {
		assert.Equal(t, first.Questions[i].Options, second.Questions[i].Options)
	}
}

func TestQuizService_SubmitAnswerPractice(t *testing.T) {
	env := newTestEnv(t, false)
	svc := newTestQuizService(env)
	ctx := context.Background()

	perio := seedSubject(t, env.db, "Periodontics", "periodontics")
	endo := seedSubject(t, env.db, "Endodontics", "endodontics")
	seedQuestions(t, env.db, perio.ID, 5)
	outside := seedQuestions(t, env.db, endo.ID, 1)[0]

	resp, err := svc.Start(ctx, &StartQuizRequest{Mode: models.ModePractice, SubjectID: &perio.ID, Count: 5}, "learner-1")
	require.NoError(t, err)
	first := resp.Questions[0]

	result, err := svc.SubmitAnswer(ctx, resp.ID, &SubmitAnswerRequest{QuestionID: first.QuestionID, OptionID: "B"}, "learner-1")
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	require.NotNil(t, result.IsCorrect)
	assert.True(t, *result.IsCorrect)
	require.NotNil(t, result.CorrectOptionID)
	assert.Equal(t, "B", *result.CorrectOptionID)
	require.NotNil(t, result.Explanation)
	assert.Equal(t, 1, result.AnsweredCount)
	assert.Equal(t, 5, result.TotalQuestions)
	assert.Equal(t, 1, result.CurrentIndex)

	// Changing an answer replaces it rather than adding one
	result, err = svc.SubmitAnswer(ctx, resp.ID, &SubmitAnswerRequest{QuestionID: first.QuestionID, OptionID: "C"}, "learner-1")
	require.NoError(t, err)
	assert.False(t, *result.IsCorrect)
	assert.Equal(t, 1, result.AnsweredCount)

	_, err = svc.SubmitAnswer(ctx, resp.ID, &SubmitAnswerRequest{QuestionID: first.QuestionID, OptionID: "Z"}, "learner-1")
	assert.ErrorIs(t, err, ErrInvalidOption)

	_, err = svc.SubmitAnswer(ctx, resp.ID, &SubmitAnswerRequest{QuestionID: outside.ID, OptionID: "B"}, "learner-1")
	assert.ErrorIs(t, err, ErrQuestionNotInQuiz)

	_, err = svc.SubmitAnswer(ctx, resp.ID, &SubmitAnswerRequest{QuestionID: first.QuestionID, OptionID: "B"}, "learner-2")
	var perr *PermissionError
	assert.True(t, errors.As(err, &perr))

	_, err = svc.SubmitAnswer(ctx, 9999, &SubmitAnswerRequest{QuestionID: first.QuestionID, OptionID: "B"}, "learner-1")
	assert.ErrorIs(t, err, ErrQuizNotFound)

	got, err := svc.Get(ctx, resp.ID, "learner-1")
	require.NoError(t, err)
	require.NotNil(t, got.Questions[0].SelectedOptionID)
	assert.Equal(t, "C", *got.Questions[0].SelectedOptionID)
	assert.Nil(t, got.Questions[1].SelectedOptionID)
}

func TestQuizService_ExamWithholdsFeedback(t *testing.T) {
	env := newTestEnv(t, false)
	svc := newTestQuizService(env)
	ctx := context.Background()

	pros := seedSubject(t, env.db, "Prosthodontics", "prosthodontics")
	seedQuestions(t, env.db, pros.ID, 5)

	resp, err := svc.Start(ctx, &StartQuizRequest{Mode: models.ModeExam, Count: 5}, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, 5*72, resp.TimeLimitSeconds)
	require.NotNil(t, resp.RemainingSeconds)
	assert.InDelta(t, 360, *resp.RemainingSeconds, 5)

	result, err := svc.SubmitAnswer(ctx, resp.ID, &SubmitAnswerRequest{QuestionID: resp.Questions[2].QuestionID, OptionID: "B"}, "learner-1")
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.Nil(t, result.IsCorrect)
	assert.Nil(t, result.CorrectOptionID)
	assert.Nil(t, result.Explanation)
	assert.Equal(t, 3, result.CurrentIndex)
}

func TestQuizService_CompleteAndReview(t *testing.T) {
	env := newTestEnv(t, false)
	svc := newTestQuizService(env)
	ctx := context.Background()

	perio := seedSubject(t, env.db, "Periodontics", "periodontics")
	seedQuestions(t, env.db, perio.ID, 5)

	resp, err := svc.Start(ctx, &StartQuizRequest{Mode: models.ModeExam, SubjectID: &perio.ID, Count: 5}, "learner-1")
	require.NoError(t, err)

	_, err = svc.Review(ctx, resp.ID, "learner-1")
	assert.ErrorIs(t, err, ErrQuizNotCompleted)

	answerQuiz(t, svc, resp, "learner-1", 3)

	result, err := svc.Complete(ctx, resp.ID, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 5, result.Answered)
	assert.Equal(t, 3, result.Correct)
	assert.Equal(t, 60.0, result.Percentage)
	assert.True(t, result.Passed)
	assert.Equal(t, 60.0, result.PassMark)

	published := env.publisher.GetPublishedEvents()
	require.Len(t, published, 1)
	assert.Equal(t, events.TopicQuizCompleted, published[0].Type)
	var evt events.QuizCompletedEvent
	require.NoError(t, published[0].Decode(&evt))
	assert.Equal(t, resp.ID, evt.SessionID)
	assert.Equal(t, "learner-1", evt.UserID)
	assert.Equal(t, models.ModeExam, evt.Mode)
	assert.Equal(t, 3, evt.Correct)
	require.NotNil(t, evt.SubjectID)
	assert.Equal(t, perio.ID, *evt.SubjectID)

	_, err = svc.Complete(ctx, resp.ID, "learner-1")
	assert.ErrorIs(t, err, ErrQuizAlreadyCompleted)
	_, err = svc.SubmitAnswer(ctx, resp.ID, &SubmitAnswerRequest{QuestionID: resp.Questions[0].QuestionID, OptionID: "B"}, "learner-1")
	assert.ErrorIs(t, err, ErrQuizAlreadyCompleted)
	assert.Len(t, env.publisher.GetPublishedEvents(), 1)

	review, err := svc.Review(ctx, resp.ID, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, review.Session.Status)
	require.Len(t, review.Items, 5)
	correct := 0
	for i, item := range review.Items {
		assert.Equal(t, resp.Questions[i].QuestionID, item.QuestionID)
		assert.Equal(t, resp.Questions[i].Options, item.Options)
		assert.Equal(t, "B", item.CorrectOptionID)
		require.NotNil(t, item.SelectedOptionID)
		assert.Equal(t, 12, item.TimeSpent)
		if item.IsCorrect {
			correct++
		}
	}
	assert.Equal(t, 3, correct)

	_, err = svc.Review(ctx, resp.ID, "learner-2")
	var perr *PermissionError
	assert.True(t, errors.As(err, &perr))
}

func TestQuizService_CompleteFailsBelowPassMark(t *testing.T) {
	env := newTestEnv(t, false)
	svc := newTestQuizService(env)
	ctx := context.Background()

	perio := seedSubject(t, env.db, "Periodontics", "periodontics")
	seedQuestions(t, env.db, perio.ID, 6)

	resp, err := svc.Start(ctx, &StartQuizRequest{Mode: models.ModePractice, Count: 6}, "learner-1")
	require.NoError(t, err)

	// Unanswered questions count against the score
	_, err = svc.SubmitAnswer(ctx, resp.ID, &SubmitAnswerRequest{QuestionID: resp.Questions[0].QuestionID, OptionID: "B"}, "learner-1")
	require.NoError(t, err)

	result, err := svc.Complete(ctx, resp.ID, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Answered)
	assert.Equal(t, 16.67, result.Percentage)
	assert.False(t, result.Passed)
}

func TestQuizService_ConcurrentStartKeepsOneActiveSession(t *testing.T) {
	env := newTestEnv(t, false)
	svc := newTestQuizService(env)
	ctx := context.Background()

	perio := seedSubject(t, env.db, "Periodontics", "periodontics")
	seedQuestions(t, env.db, perio.ID, 8)

	const starts = 6
	var wg sync.WaitGroup
	results := make([]*QuizSessionResponse, starts)
	errs := make([]error, starts)
	for i := range starts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Start(ctx, &StartQuizRequest{Mode: models.ModePractice, Count: 5}, "learner-1")
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := range starts {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].ID, results[i].ID)
		if !results[i].Resumed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)

	var active int64
	require.NoError(t, env.db.Model(&models.QuizSession{}).
		Where("user_id = ? AND status = ?", "learner-1", models.SessionInProgress).
		Count(&active).Error)
	assert.Equal(t, int64(1), active)
}

func TestQuizService_Retake(t *testing.T) {
	env := newTestEnv(t, false)
	svc := newTestQuizService(env)
	ctx := context.Background()

	perio := seedSubject(t, env.db, "Periodontics", "periodontics")
	seedQuestions(t, env.db, perio.ID, 10)

	original, err := svc.Start(ctx, &StartQuizRequest{Mode: models.ModePractice, Count: 5}, "learner-1")
	require.NoError(t, err)

	_, err = svc.Retake(ctx, original.ID, "learner-1")
	assert.ErrorIs(t, err, ErrQuizNotCompleted)

	answerQuiz(t, svc, original, "learner-1", 5)
	_, err = svc.Complete(ctx, original.ID, "learner-1")
	require.NoError(t, err)

	retake, err := svc.Retake(ctx, original.ID, "learner-1")
	require.NoError(t, err)
	assert.NotEqual(t, original.ID, retake.ID)
	require.NotNil(t, retake.RetakeOf)
	assert.Equal(t, original.ID, *retake.RetakeOf)
	assert.Equal(t, models.SessionInProgress, retake.Status)
	assert.Equal(t, models.ModePractice, retake.Mode)
	assert.ElementsMatch(t, []uint(original.QuestionIDs), []uint(retake.QuestionIDs))
	assert.NotEqual(t, original.Seed, retake.Seed)

	_, err = svc.Retake(ctx, original.ID, "learner-1")
	var rule *BusinessRuleError
	require.True(t, errors.As(err, &rule))
	assert.Equal(t, "single_active_session", rule.Rule)

	_, err = svc.Retake(ctx, original.ID, "learner-2")
	var perr *PermissionError
	assert.True(t, errors.As(err, &perr))
}

func TestQuizService_Expiry(t *testing.T) {
	env := newTestEnv(t, false)
	svc := newTestQuizService(env)
	ctx := context.Background()

	perio := seedSubject(t, env.db, "Periodontics", "periodontics")
	seedQuestions(t, env.db, perio.ID, 5)

	exam, err := svc.Start(ctx, &StartQuizRequest{Mode: models.ModeExam, Count: 5}, "learner-1")
	require.NoError(t, err)
	practice, err := svc.Start(ctx, &StartQuizRequest{Mode: models.ModePractice, Count: 5}, "learner-2")
	require.NoError(t, err)

	base := time.Now().UTC()
	svc.now = func() time.Time { return base.Add(time.Hour) }

	_, err = svc.SubmitAnswer(ctx, exam.ID, &SubmitAnswerRequest{QuestionID: exam.Questions[0].QuestionID, OptionID: "B"}, "learner-1")
	assert.ErrorIs(t, err, ErrQuizExpired)

	got, err := svc.Get(ctx, exam.ID, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, got.Status)
	assert.Nil(t, got.RemainingSeconds)

	_, err = svc.Complete(ctx, exam.ID, "learner-1")
	assert.ErrorIs(t, err, ErrQuizExpired)

	// An expired session can be retaken and no longer blocks a new start
	retake, err := svc.Retake(ctx, exam.ID, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, exam.ID, *retake.RetakeOf)

	n, err := svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	svc.now = func() time.Time { return base.Add(practiceSessionTTL + time.Hour) }
	n, err = svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err = svc.Get(ctx, practice.ID, "learner-2")
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, got.Status)
}

func TestQuizService_ListSessions(t *testing.T) {
	env := newTestEnv(t, false)
	svc := newTestQuizService(env)
	ctx := context.Background()

	perio := seedSubject(t, env.db, "Periodontics", "periodontics")
	seedQuestions(t, env.db, perio.ID, 5)

	mine, err := svc.Start(ctx, &StartQuizRequest{Mode: models.ModePractice, Count: 5}, "learner-1")
	require.NoError(t, err)
	_, err = svc.Start(ctx, &StartQuizRequest{Mode: models.ModePractice, Count: 5}, "learner-2")
	require.NoError(t, err)

	sessions, total, err := svc.ListSessions(ctx, "learner-1", repositories.SessionFilters{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, sessions, 1)
	assert.Equal(t, mine.ID, sessions[0].ID)
}
