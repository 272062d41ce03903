package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
	"github.com/dentprep/exam-service/internal/testutil"
)

func seedSubject(t *testing.T, db *gorm.DB, name, slug string) *models.Subject {
	t.Helper()
	s := &models.Subject{Name: name, Slug: slug}
	require.NoError(t, db.Create(s).Error)
	return s
}

func seedQuestion(t *testing.T, db *gorm.DB, subjectID uint, stem string, published bool, difficulty models.DifficultyLevel) *models.Question {
	t.Helper()
	q := &models.Question{
		SubjectID:       subjectID,
		Stem:            stem,
		Options:         []models.Option{{ID: "A", Text: "one"}, {ID: "B", Text: "two"}, {ID: "C", Text: "three"}},
		CorrectOptionID: "B",
		Difficulty:      difficulty,
		Source:          models.SourceManual,
		IsPublished:     published,
		CreatedBy:       "admin-1",
	}
	require.NoError(t, db.Create(q).Error)
	return q
}

func TestQuestionRepository_PoolAndFilters(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := NewQuestionPostgreSQL(db, nil)

	perio := seedSubject(t, db, "Periodontics", "periodontics")
	endo := seedSubject(t, db, "Endodontics", "endodontics")

	q1 := seedQuestion(t, db, perio.ID, "Probing depth of a healthy sulcus?", true, models.DifficultyEasy)
	q2 := seedQuestion(t, db, perio.ID, "Primary etiologic factor of gingivitis?", true, models.DifficultyMedium)
	seedQuestion(t, db, perio.ID, "Draft question about furcations", false, models.DifficultyHard)
	q4 := seedQuestion(t, db, endo.ID, "Working length is measured to?", true, models.DifficultyEasy)

	ids, err := repo.ListPoolIDs(ctx, nil, repositories.QuestionPoolFilter{})
	require.NoError(t, err)
	assert.Equal(t, []uint{q1.ID, q2.ID, q4.ID}, ids)

	ids, err = repo.ListPoolIDs(ctx, nil, repositories.QuestionPoolFilter{SubjectID: &perio.ID})
	require.NoError(t, err)
	assert.Equal(t, []uint{q1.ID, q2.ID}, ids)

	easy := models.DifficultyEasy
	ids, err = repo.ListPoolIDs(ctx, nil, repositories.QuestionPoolFilter{Difficulty: &easy})
	require.NoError(t, err)
	assert.Equal(t, []uint{q1.ID, q4.ID}, ids)

	published := false
	list, total, err := repo.List(ctx, nil, repositories.QuestionFilters{Published: &published})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Subject)
	assert.Equal(t, "Periodontics", list[0].Subject.Name)

	list, total, err = repo.List(ctx, nil, repositories.QuestionFilters{Search: "GINGIVITIS"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, q2.ID, list[0].ID)

	exists, err := repo.ExistsByStem(ctx, nil, perio.ID, "  probing depth of a healthy sulcus?", nil)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = repo.ExistsByStem(ctx, nil, perio.ID, q1.Stem, &q1.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestQuestionRepository_CRUDAndPublish(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	redisClient, _ := testutil.NewRedis(t)
	repo := NewQuestionPostgreSQL(db, redisClient)

	subject := seedSubject(t, db, "Oral Surgery", "oral-surgery")
	q := seedQuestion(t, db, subject.ID, "Which nerve is anesthetized by an IANB?", false, models.DifficultyMedium)

	got, err := repo.GetByID(ctx, nil, q.ID)
	require.NoError(t, err)
	assert.Equal(t, q.Stem, got.Stem)
	assert.Len(t, got.Options, 3)

	got.Stem = "Which nerve does an inferior alveolar block anesthetize?"
	require.NoError(t, repo.Update(ctx, nil, got))

	reloaded, err := repo.GetByID(ctx, nil, q.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Stem, reloaded.Stem)

	n, err := repo.SetPublished(ctx, nil, []uint{q.ID}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	reloaded, err = repo.GetByID(ctx, nil, q.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.IsPublished)

	require.NoError(t, repo.Delete(ctx, nil, q.ID))
	_, err = repo.GetByID(ctx, nil, q.ID)
	assert.True(t, repositories.IsNotFoundError(err))

	err = repo.Delete(ctx, nil, q.ID)
	assert.True(t, repositories.IsNotFoundError(err))
}

func TestQuestionRepository_Stats(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := NewQuestionPostgreSQL(db, nil)
	answers := NewAnswerPostgreSQL(db)

	subject := seedSubject(t, db, "Pedodontics", "pedodontics")
	q := seedQuestion(t, db, subject.ID, "Eruption age of first permanent molar?", true, models.DifficultyEasy)

	now := time.Now().UTC()
	for i, pick := range []string{"B", "B", "A", "B"} {
		require.NoError(t, answers.Upsert(ctx, nil, &models.SessionAnswer{
			SessionID:        uint(i + 1),
			QuestionID:       q.ID,
			SelectedOptionID: pick,
			IsCorrect:        pick == "B",
			TimeSpent:        10,
			AnsweredAt:       now,
		}))
	}

	stats, err := repo.GetStats(ctx, nil, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TimesShown)
	assert.InDelta(t, 75.0, stats.CorrectRate, 0.001)
	assert.InDelta(t, 10.0, stats.AvgTime, 0.001)
	require.Len(t, stats.Options, 3)
	assert.Equal(t, 1, stats.Options[0].SelectionCount)
	assert.Equal(t, 3, stats.Options[1].SelectionCount)
	assert.True(t, stats.Options[1].IsCorrect)
	assert.Equal(t, 0, stats.Options[2].SelectionCount)
}

func TestSubjectRepository_ListCounts(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := NewSubjectPostgreSQL(db, nil)

	require.NoError(t, repo.Create(ctx, nil, &models.Subject{Name: "Prosthodontics", Slug: "prosthodontics"}))
	err := repo.Create(ctx, nil, &models.Subject{Name: "Prosthodontics again", Slug: "prosthodontics"})
	assert.True(t, repositories.IsDuplicateError(err))

	pros, err := repo.GetBySlug(ctx, nil, "prosthodontics")
	require.NoError(t, err)
	seedQuestion(t, db, pros.ID, "Kennedy class I describes?", true, models.DifficultyMedium)
	seedQuestion(t, db, pros.ID, "Draft", false, models.DifficultyMedium)

	found, err := repo.FindByNameOrSlug(ctx, nil, "PROSTHODONTICS")
	require.NoError(t, err)
	assert.Equal(t, pros.ID, found.ID)

	subjects, err := repo.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, int64(1), subjects[0].QuestionCount)
}

func TestQuizRepositories(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	sessions := NewQuizSessionPostgreSQL(db)
	answers := NewAnswerPostgreSQL(db)

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	s := &models.QuizSession{
		UserID:         "user-1",
		Mode:           models.ModeExam,
		Seed:           "seed-1",
		QuestionIDs:    []uint{3, 1, 2},
		Status:         models.SessionInProgress,
		TotalQuestions: 3,
		StartedAt:      now,
		ExpiresAt:      &past,
	}
	require.NoError(t, sessions.Create(ctx, nil, s))

	active, err := sessions.GetActiveByUser(ctx, nil, "user-1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, active.ID)

	// Only one in-progress session per user
	second := &models.QuizSession{
		UserID:         "user-1",
		Mode:           models.ModePractice,
		Seed:           "seed-2",
		QuestionIDs:    []uint{1, 2},
		Status:         models.SessionInProgress,
		TotalQuestions: 2,
		StartedAt:      now,
	}
	err = sessions.Create(ctx, nil, second)
	assert.True(t, repositories.IsDuplicateError(err), "got %v", err)
	assert.Equal(t, []uint{3, 1, 2}, []uint(active.QuestionIDs))

	_, err = sessions.GetActiveByUser(ctx, nil, "user-2")
	assert.True(t, repositories.IsNotFoundError(err))

	require.NoError(t, answers.Upsert(ctx, nil, &models.SessionAnswer{SessionID: s.ID, QuestionID: 3, SelectedOptionID: "A", IsCorrect: false, AnsweredAt: now}))
	require.NoError(t, answers.Upsert(ctx, nil, &models.SessionAnswer{SessionID: s.ID, QuestionID: 1, SelectedOptionID: "B", IsCorrect: true, AnsweredAt: now}))
	// resubmission overwrites the first answer
	require.NoError(t, answers.Upsert(ctx, nil, &models.SessionAnswer{SessionID: s.ID, QuestionID: 3, SelectedOptionID: "C", IsCorrect: true, AnsweredAt: now}))

	answered, correct, err := answers.CountBySession(ctx, nil, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, answered)
	assert.Equal(t, 2, correct)

	list, err := answers.ListBySession(ctx, nil, s.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	expired, err := sessions.ExpireStale(ctx, nil, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	reloaded, err := sessions.GetByID(ctx, nil, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, reloaded.Status)

	// Once the first is no longer in progress a new one may start
	second.ID = 0
	require.NoError(t, sessions.Create(ctx, nil, second))
	require.NoError(t, db.Model(second).Update("status", models.SessionAbandoned).Error)

	userID := "user-1"
	history, total, err := sessions.List(ctx, nil, repositories.SessionFilters{UserID: &userID, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, history, 2)
}

func TestGenerationJobRepository_Claim(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := NewGenerationJobPostgreSQL(db)

	now := time.Now().UTC()
	opts := repositories.ClaimOptions{MaxAttempts: 5, RetryDelay: 30 * time.Second, StaleRunning: 10 * time.Minute, Now: now}

	recentErr := now.Add(-5 * time.Second)
	oldErr := now.Add(-time.Minute)
	staleBeat := now.Add(-20 * time.Minute)
	freshBeat := now.Add(-time.Minute)
	done := now.Add(-time.Hour)

	jobs := []*models.GenerationJob{
		{UserID: "u", Kind: models.KindSummary, Status: models.JobFailed, Attempts: 1, LastErrorAt: &recentErr, CreatedAt: now.Add(-6 * time.Minute)},
		{UserID: "u", Kind: models.KindSummary, Status: models.JobFailed, Attempts: 5, LastErrorAt: &oldErr, CreatedAt: now.Add(-5 * time.Minute)},
		{UserID: "u", Kind: models.KindSummary, Status: models.JobFailed, Attempts: 2, LastErrorAt: &oldErr, CompletedAt: &done, CreatedAt: now.Add(-4 * time.Minute)},
		{UserID: "u", Kind: models.KindSummary, Status: models.JobRunning, Attempts: 1, HeartbeatAt: &freshBeat, CreatedAt: now.Add(-3 * time.Minute)},
		{UserID: "u", Kind: models.KindFlashcards, Status: models.JobFailed, Attempts: 1, LastErrorAt: &oldErr, CreatedAt: now.Add(-2 * time.Minute)},
		{UserID: "u", Kind: models.KindQuestions, Status: models.JobRunning, Attempts: 1, HeartbeatAt: &staleBeat, CreatedAt: now.Add(-90 * time.Second)},
		{UserID: "u", Kind: models.KindSummary, Status: models.JobQueued, CreatedAt: now.Add(-time.Minute)},
		{UserID: "u", Kind: models.KindSummary, Status: models.JobSucceeded, CreatedAt: now.Add(-10 * time.Minute)},
		{UserID: "u", Kind: models.KindQuestions, Status: models.JobRunning, Attempts: 5, HeartbeatAt: &staleBeat, CreatedAt: now.Add(-7 * time.Minute)},
	}
	for _, j := range jobs {
		require.NoError(t, repo.Create(ctx, nil, j))
	}

	var claimed []string
	for {
		job, err := repo.ClaimNextRunnable(ctx, opts)
		require.NoError(t, err)
		if job == nil {
			break
		}
		assert.Equal(t, models.JobRunning, job.Status)
		claimed = append(claimed, job.ID)
	}

	// retryable failure, stale running, queued; oldest first
	assert.Equal(t, []string{jobs[4].ID, jobs[5].ID, jobs[6].ID}, claimed)

	reloaded, err := repo.GetByID(ctx, nil, jobs[4].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Attempts)
	assert.Equal(t, models.JobRunning, reloaded.Status)

	// A stale job without attempts left is failed instead of reclaimed
	exhausted, err := repo.GetByID(ctx, nil, jobs[8].ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, exhausted.Status)
	assert.Equal(t, 5, exhausted.Attempts)
	assert.NotNil(t, exhausted.CompletedAt)
	assert.NotEmpty(t, exhausted.Error)
}

func TestGenerationJobRepository_CancelRequeueHeartbeat(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := NewGenerationJobPostgreSQL(db)

	job := &models.GenerationJob{UserID: "u", Kind: models.KindFlashcards, Prompt: "plaque"}
	require.NoError(t, repo.Create(ctx, nil, job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.JobQueued, job.Status)

	ok, err := repo.Cancel(ctx, nil, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Cancel(ctx, nil, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = repo.UpdateUnlessCancelled(ctx, job.ID, map[string]interface{}{"status": models.JobSucceeded})
	require.NoError(t, err)
	assert.False(t, ok, "cancelled job must not be overwritten")

	failed := &models.GenerationJob{UserID: "u", Kind: models.KindSummary, Status: models.JobFailed, Attempts: 5, Error: "boom"}
	require.NoError(t, repo.Create(ctx, nil, failed))
	ok, err = repo.Requeue(ctx, nil, failed.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	reloaded, err := repo.GetByID(ctx, nil, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobQueued, reloaded.Status)
	assert.Equal(t, 0, reloaded.Attempts)
	assert.Empty(t, reloaded.Error)

	claimed, err := repo.ClaimNextRunnable(ctx, repositories.ClaimOptions{MaxAttempts: 5, RetryDelay: time.Second, StaleRunning: time.Minute})
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, repo.Heartbeat(ctx, claimed.ID, "generating", 40))

	reloaded, err = repo.GetByID(ctx, nil, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, "generating", reloaded.Stage)
	assert.Equal(t, 40, reloaded.Progress)

	_, err = repo.GetByID(ctx, nil, "missing")
	assert.True(t, repositories.IsNotFoundError(err))
}

func TestFlashcardRepository(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := NewFlashcardPostgreSQL(db)

	jobID := "job-1"
	deck := &models.FlashcardDeck{
		UserID: "u",
		JobID:  &jobID,
		Title:  "Local anesthetics",
		Cards: []models.Flashcard{
			{Front: "Max dose of lidocaine with epi?", Back: "7 mg/kg"},
			{Front: "Amide or ester: articaine?", Back: "Amide"},
		},
	}
	require.NoError(t, repo.CreateDeck(ctx, nil, deck))

	got, err := repo.GetDeckByJob(ctx, nil, jobID)
	require.NoError(t, err)
	require.Len(t, got.Cards, 2)
	assert.Equal(t, 0, got.Cards[0].Position)
	assert.Equal(t, "Amide", got.Cards[1].Back)

	dup := &models.FlashcardDeck{UserID: "u", JobID: &jobID, Title: "again"}
	assert.True(t, repositories.IsDuplicateError(repo.CreateDeck(ctx, nil, dup)))

	decks, total, err := repo.ListDecks(ctx, nil, "u", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, decks, 1)
}

func TestProgressRepository_Leaderboard(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := NewProgressPostgreSQL(db)

	now := time.Now().UTC()
	old := now.AddDate(0, 0, -40)
	perio := uint(1)
	endo := uint(2)
	entries := []*models.XPEntry{
		{UserID: "alice", SessionID: 1, SubjectID: &perio, XP: 50, AwardedAt: now},
		{UserID: "bob", SessionID: 2, SubjectID: &endo, XP: 70, AwardedAt: now},
		{UserID: "alice", SessionID: 3, SubjectID: &perio, XP: 40, AwardedAt: now},
		{UserID: "carol", SessionID: 4, SubjectID: &perio, XP: 500, AwardedAt: old},
	}
	for _, e := range entries {
		require.NoError(t, repo.CreateXPEntry(ctx, nil, e))
	}

	err := repo.CreateXPEntry(ctx, nil, &models.XPEntry{UserID: "alice", SessionID: 1, XP: 10, AwardedAt: now})
	assert.True(t, repositories.IsDuplicateError(err))

	has, err := repo.HasXPEntry(ctx, nil, 3)
	require.NoError(t, err)
	assert.True(t, has)

	since := now.AddDate(0, 0, -7)
	top, err := repo.TopXP(ctx, nil, &since, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []repositories.LeaderboardRow{{UserID: "alice", XP: 90}, {UserID: "bob", XP: 70}}, top)

	top, err = repo.TopXP(ctx, nil, nil, &perio, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "carol", top[0].UserID)

	rank, xp, found, err := repo.RankXP(ctx, nil, "bob", nil, nil)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(3), rank)
	assert.Equal(t, int64(70), xp)

	_, _, found, err = repo.RankXP(ctx, nil, "dave", nil, nil)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestProgressRepository_SaveAndActivity(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := NewProgressPostgreSQL(db)

	p := &models.UserProgress{UserID: "alice", XP: 30, CurrentStreak: 1, LongestStreak: 1, LastActiveDay: "2026-10-18"}
	require.NoError(t, repo.Save(ctx, nil, p))
	p.XP = 80
	p.CurrentStreak = 2
	require.NoError(t, repo.Save(ctx, nil, p))

	got, err := repo.GetByUser(ctx, nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(80), got.XP)
	assert.Equal(t, 2, got.CurrentStreak)

	_, err = repo.GetByUser(ctx, nil, "nobody")
	assert.True(t, repositories.IsNotFoundError(err))

	for _, day := range []string{"2026-10-10", "2026-10-17", "2026-10-18"} {
		require.NoError(t, repo.SaveDailyActivity(ctx, nil, &models.DailyActivity{UserID: "alice", Day: day, Quizzes: 1}))
	}
	days, err := repo.ListActivity(ctx, nil, "alice", "2026-10-15")
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "2026-10-17", days[0].Day)

	act, err := repo.GetDailyActivity(ctx, nil, "alice", "2026-10-18")
	require.NoError(t, err)
	act.Quizzes++
	require.NoError(t, repo.SaveDailyActivity(ctx, nil, act))
	act, err = repo.GetDailyActivity(ctx, nil, "alice", "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, 2, act.Quizzes)
}

func TestDashboardRepository(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := NewDashboardRepository(db)

	perio := seedSubject(t, db, "Periodontics", "periodontics")
	seedSubject(t, db, "Anatomy", "anatomy")
	seedQuestion(t, db, perio.ID, "Q1 stem text", true, models.DifficultyEasy)
	seedQuestion(t, db, perio.ID, "Q2 stem text", false, models.DifficultyEasy)

	now := time.Now().UTC()
	for i, pct := range []float64{80, 40} {
		completed := now
		require.NoError(t, db.Create(&models.QuizSession{
			UserID: "u", Mode: models.ModePractice, Seed: "s", Status: models.SessionCompleted,
			Percentage: pct, Passed: pct >= 60, StartedAt: now, CompletedAt: &completed,
			TotalQuestions: 5 + i,
		}).Error)
	}
	require.NoError(t, db.Create(&models.GenerationJob{UserID: "u", Kind: models.KindSummary, Status: models.JobQueued}).Error)
	require.NoError(t, db.Create(&models.GenerationJob{UserID: "u", Kind: models.KindSummary, Status: models.JobQueued}).Error)
	require.NoError(t, db.Create(&models.GenerationJob{UserID: "u", Kind: models.KindSummary, Status: models.JobFailed}).Error)
	require.NoError(t, db.Create(&models.UserProgress{UserID: "u", LastActiveDay: "2026-10-18"}).Error)
	require.NoError(t, db.Create(&models.DailyActivity{UserID: "u", Day: "2026-10-18"}).Error)
	require.NoError(t, db.Create(&models.DailyActivity{UserID: "v", Day: "2026-09-01"}).Error)

	summary, err := repo.SessionSummary(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Completed)
	assert.InDelta(t, 60.0, summary.AverageScore, 0.001)
	assert.InDelta(t, 50.0, summary.PassRate, 0.001)

	bySubject, err := repo.QuestionsBySubject(ctx, nil)
	require.NoError(t, err)
	require.Len(t, bySubject, 2)
	assert.Equal(t, "Anatomy", bySubject[0].SubjectName)
	assert.Equal(t, int64(0), bySubject[0].Count)
	assert.Equal(t, int64(2), bySubject[1].Count)

	jobs, err := repo.JobsByStatus(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []models.StatusCount{{Status: "failed", Count: 1}, {Status: "queued", Count: 2}}, jobs)

	learners, err := repo.CountLearners(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), learners)

	active, err := repo.CountActiveLearners(ctx, nil, "2026-10-12")
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)

	published, err := repo.CountQuestions(ctx, nil, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), published)
}
