package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/dentprep/exam-service/internal/models"
)

func seedSession(t *testing.T, db *gorm.DB, userID string, status models.SessionStatus, correct, total int, startedAt time.Time) *models.QuizSession {
	t.Helper()
	ids := make([]uint, total)
	for i := range ids {
		ids[i] = uint(i + 1)
	}
	sess := &models.QuizSession{
		UserID:         userID,
		Mode:           models.ModePractice,
		Seed:           "seed-" + userID,
		QuestionIDs:    ids,
		Status:         status,
		TotalQuestions: total,
		StartedAt:      startedAt,
	}
	if status == models.SessionCompleted {
		done := startedAt.Add(20 * time.Minute)
		sess.CompletedAt = &done
		sess.AnsweredCount = total
		sess.CorrectCount = correct
		sess.Percentage = float64(correct) * 100 / float64(total)
		sess.Passed = sess.Percentage >= 60
	}
	require.NoError(t, db.Create(sess).Error)
	return sess
}

func seedDashboard(t *testing.T, env *testEnv, base time.Time) {
	t.Helper()
	perio := seedSubject(t, env.db, "Periodontics", "periodontics")
	endo := seedSubject(t, env.db, "Endodontics", "endodontics")
	seedQuestions(t, env.db, perio.ID, 2)
	draft := seedQuestions(t, env.db, endo.ID, 1)[0]
	require.NoError(t, env.db.Model(draft).Update("is_published", false).Error)

	seedSession(t, env.db, "learner-1", models.SessionCompleted, 4, 5, base.Add(-3*time.Hour))
	seedSession(t, env.db, "learner-2", models.SessionCompleted, 2, 5, base.Add(-2*time.Hour))
	seedSession(t, env.db, "ghost", models.SessionInProgress, 0, 5, base.Add(-time.Hour))

	require.NoError(t, env.db.Create(&models.UserProgress{UserID: "learner-1", XP: 60}).Error)
	require.NoError(t, env.db.Create(&models.UserProgress{UserID: "learner-2", XP: 40}).Error)
	require.NoError(t, env.db.Create(&models.DailyActivity{UserID: "learner-1", Day: utcDay(base), Quizzes: 1}).Error)
	require.NoError(t, env.db.Create(&models.DailyActivity{UserID: "learner-2", Day: utcDay(base.AddDate(0, 0, -20)), Quizzes: 1}).Error)

	for _, status := range []models.JobStatus{models.JobQueued, models.JobQueued, models.JobFailed} {
		require.NoError(t, env.db.Create(&models.GenerationJob{
			UserID: "learner-1",
			Kind:   models.KindSummary,
			Title:  "Notes",
			Prompt: "Plaque is a biofilm.",
			Count:  1,
			Status: status,
			Stage:  "queued",
		}).Error)
	}
}

func TestDashboardService_GetStats(t *testing.T) {
	env := newTestEnv(t, false)
	base := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	seedDashboard(t, env, base)

	svc := NewDashboardService(env.repo, env.db, env.logger).(*dashboardService)
	svc.now = func() time.Time { return base }

	stats, err := svc.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, base, stats.GeneratedAt)
	assert.Equal(t, int64(2), stats.LearnersWithProgress)
	assert.Equal(t, int64(1), stats.ActiveLearners7d)
	assert.Equal(t, int64(2), stats.PublishedQuestions)
	assert.Equal(t, int64(1), stats.DraftQuestions)
	assert.Equal(t, int64(2), stats.QuizzesCompleted)
	assert.Equal(t, 60.0, stats.AverageScore)
	assert.Equal(t, 50.0, stats.PassRate)

	require.Len(t, stats.QuestionsBySubject, 2)
	assert.Equal(t, "Endodontics", stats.QuestionsBySubject[0].SubjectName)
	assert.Equal(t, int64(1), stats.QuestionsBySubject[0].Count)
	assert.Equal(t, "Periodontics", stats.QuestionsBySubject[1].SubjectName)
	assert.Equal(t, int64(2), stats.QuestionsBySubject[1].Count)

	assert.Equal(t, []models.StatusCount{
		{Status: "failed", Count: 1},
		{Status: "queued", Count: 2},
	}, stats.JobsByStatus)
}

func TestDashboardService_EmptyStats(t *testing.T) {
	env := newTestEnv(t, false)
	svc := NewDashboardService(env.repo, env.db, env.logger)

	stats, err := svc.GetStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.QuizzesCompleted)
	assert.Zero(t, stats.AverageScore)
	assert.NotNil(t, stats.QuestionsBySubject)
	assert.NotNil(t, stats.JobsByStatus)
}

func TestDashboardService_Recent(t *testing.T) {
	env := newTestEnv(t, false)
	base := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	seedDashboard(t, env, base)
	svc := NewDashboardService(env.repo, env.db, env.logger)
	ctx := context.Background()

	sessions, err := svc.RecentSessions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "ghost", sessions[0].UserID)
	assert.Equal(t, "learner-2", sessions[1].UserID)

	sessions, err = svc.RecentSessions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, sessions, 3)

	jobs, err := svc.RecentJobs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)

	jobs, err = svc.RecentJobs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestDashboardService_ExportSessions(t *testing.T) {
	env := newTestEnv(t, false)
	base := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	seedDashboard(t, env, base)
	svc := NewDashboardService(env.repo, env.db, env.logger)
	ctx := context.Background()

	data, err := svc.ExportSessions(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Sessions")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, SessionSheetHeader, rows[0])

	assert.Equal(t, "learner-1", rows[1][1])
	assert.Equal(t, "Amy Tran", rows[1][2])
	assert.Equal(t, "practice", rows[1][3])
	assert.Equal(t, "completed", rows[1][5])
	assert.Equal(t, "80", rows[1][9])
	assert.Equal(t, "TRUE", rows[1][10])
	assert.Equal(t, base.Add(-3*time.Hour).Format(time.RFC3339), rows[1][11])

	assert.Equal(t, "Ben Okafor", rows[2][2])
	assert.Equal(t, "FALSE", rows[2][10])
	// Unknown users export with an empty name
	assert.Equal(t, "ghost", rows[3][1])
	assert.Equal(t, "", rows[3][2])
	assert.Equal(t, "in_progress", rows[3][5])

	data, err = svc.ExportSessions(ctx, base.Add(-150*time.Minute), base)
	require.NoError(t, err)
	f2, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f2.Close()
	rows, err = f2.GetRows("Sessions")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	_, err = svc.ExportSessions(ctx, base, base.Add(-time.Hour))
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "to", verrs[0].Field)
}
