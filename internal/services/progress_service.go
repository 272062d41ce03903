package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/dentprep/exam-service/internal/events"
	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
)

const (
	xpPerCorrect     = 10
	xpCompletion     = 20
	xpExamPassBonus  = 25
	processedKeyTTL  = 7 * 24 * time.Hour
	defaultActivity  = 30
	maxActivityDays  = 365
	processedKeyBase = "progress:processed:"
)

// errAlreadyCredited aborts the award transaction for a session that was
// credited before.
var errAlreadyCredited = errors.New("session already credited")

type progressService struct {
	repo        repositories.Repository
	db          *gorm.DB
	logger      *slog.Logger
	leaderboard LeaderboardService
	redis       *redis.Client
	now         func() time.Time
}

// NewProgressService builds the progress tracker. redisClient may be nil; the
// XP ledger alone then guards against double credit.
func NewProgressService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, leaderboard LeaderboardService, redisClient *redis.Client) ProgressService {
	return &progressService{
		repo:        repo,
		db:          db,
		logger:      logger,
		leaderboard: leaderboard,
		redis:       redisClient,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// QuizXP is the XP a completed quiz earns.
func QuizXP(evt *events.QuizCompletedEvent) int64 {
	xp := int64(xpPerCorrect*evt.Correct + xpCompletion)
	if evt.Mode == models.ModeExam && evt.Passed {
		xp += xpExamPassBonus
	}
	return xp
}

// RecordQuizCompleted credits XP, streak and daily activity for one session.
// A session already credited returns nil and no error.
func (s *progressService) RecordQuizCompleted(ctx context.Context, evt *events.QuizCompletedEvent) (*XPAward, error) {
	if evt.UserID == "" || evt.SessionID == 0 {
		return nil, fmt.Errorf("invalid quiz completed event: session %d user %q", evt.SessionID, evt.UserID)
	}

	credited, err := s.alreadyCredited(ctx, evt.SessionID)
	if err != nil {
		return nil, err
	}
	if credited {
		s.logger.Info("Quiz session already credited", "session_id", evt.SessionID)
		return nil, nil
	}

	completedAt := evt.CompletedAt.UTC()
	if completedAt.IsZero() {
		completedAt = s.now()
	}
	day := utcDay(completedAt)
	xp := QuizXP(evt)

	var progress *models.UserProgress
	err = s.db.Transaction(func(tx *gorm.DB) error {
		credited, err := s.repo.Progress().HasXPEntry(ctx, tx, evt.SessionID)
		if err != nil {
			return err
		}
		if credited {
			return errAlreadyCredited
		}
		entry := &models.XPEntry{
			UserID:    evt.UserID,
			SessionID: evt.SessionID,
			SubjectID: evt.SubjectID,
			XP:        xp,
			AwardedAt: completedAt,
		}
		if err := s.repo.Progress().CreateXPEntry(ctx, tx, entry); err != nil {
			if repositories.IsDuplicateError(err) {
				return errAlreadyCredited
			}
			return err
		}

		progress, err = s.repo.Progress().GetByUser(ctx, tx, evt.UserID)
		if err != nil {
			if !repositories.IsNotFoundError(err) {
				return fmt.Errorf("failed to get progress: %w", err)
			}
			progress = &models.UserProgress{UserID: evt.UserID}
		}
		advanceStreak(progress, day)
		progress.XP += xp
		progress.QuizzesCompleted++
		progress.QuestionsAnswered += evt.Answered
		progress.CorrectAnswers += evt.Correct
		if err := s.repo.Progress().Save(ctx, tx, progress); err != nil {
			return err
		}

		activity, err := s.repo.Progress().GetDailyActivity(ctx, tx, evt.UserID, day)
		if err != nil {
			if !repositories.IsNotFoundError(err) {
				return fmt.Errorf("failed to get daily activity: %w", err)
			}
			activity = &models.DailyActivity{UserID: evt.UserID, Day: day}
		}
		activity.Quizzes++
		activity.Questions += evt.Answered
		activity.Correct += evt.Correct
		activity.XP += xp
		return s.repo.Progress().SaveDailyActivity(ctx, tx, activity)
	})
	if errors.Is(err, errAlreadyCredited) {
		s.markCredited(ctx, evt.SessionID)
		s.logger.Info("Quiz session already credited", "session_id", evt.SessionID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record quiz completion: %w", err)
	}
	s.markCredited(ctx, evt.SessionID)

	if s.leaderboard != nil {
		if err := s.leaderboard.AddXP(ctx, evt.UserID, evt.SubjectID, xp, completedAt); err != nil {
			s.logger.Warn("Failed to update leaderboards", "user_id", evt.UserID, "session_id", evt.SessionID, "error", err)
		}
	}

	s.logger.Info("XP awarded",
		"user_id", evt.UserID,
		"session_id", evt.SessionID,
		"xp", xp,
		"total_xp", progress.XP,
		"streak", progress.CurrentStreak)

	return &XPAward{
		SessionID:     evt.SessionID,
		XP:            xp,
		TotalXP:       progress.XP,
		CurrentStreak: progress.CurrentStreak,
	}, nil
}

// HandleQuizCompleted consumes quiz.completed events.
func (s *progressService) HandleQuizCompleted(ctx context.Context, event *events.Event) error {
	var evt events.QuizCompletedEvent
	if err := event.Decode(&evt); err != nil {
		return err
	}
	_, err := s.RecordQuizCompleted(ctx, &evt)
	return err
}

func (s *progressService) GetProgress(ctx context.Context, userID string) (*ProgressResponse, error) {
	progress, err := s.repo.Progress().GetByUser(ctx, s.db, userID)
	if err != nil {
		if !repositories.IsNotFoundError(err) {
			return nil, fmt.Errorf("failed to get progress: %w", err)
		}
		progress = &models.UserProgress{UserID: userID}
	}

	resp := &ProgressResponse{
		UserProgress: progress,
		StreakAlive:  streakAlive(progress.LastActiveDay, s.now()),
	}
	if !resp.StreakAlive {
		progress.CurrentStreak = 0
	}
	if progress.QuestionsAnswered > 0 {
		resp.Accuracy = math.Round(float64(progress.CorrectAnswers)*10000/float64(progress.QuestionsAnswered)) / 100
	}
	return resp, nil
}

func (s *progressService) GetActivity(ctx context.Context, userID string, days int) ([]*models.DailyActivity, error) {
	if days <= 0 {
		days = defaultActivity
	}
	if days > maxActivityDays {
		days = maxActivityDays
	}
	from := utcDay(s.now().AddDate(0, 0, -(days - 1)))
	activity, err := s.repo.Progress().ListActivity(ctx, s.db, userID, from)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	return activity, nil
}

// ===== STREAKS =====

// advanceStreak applies activity on day (UTC, YYYY-MM-DD) to the streak.
// Same day leaves it unchanged, the following day extends it, and a gap
// restarts it at 1. Activity older than the last active day is ignored.
func advanceStreak(p *models.UserProgress, day string) {
	switch {
	case p.LastActiveDay == "":
		p.CurrentStreak = 1
	case day == p.LastActiveDay:
		if p.CurrentStreak == 0 {
			p.CurrentStreak = 1
		}
	case day < p.LastActiveDay:
		return
	case isNextDay(p.LastActiveDay, day):
		p.CurrentStreak++
	default:
		p.CurrentStreak = 1
	}
	p.LastActiveDay = day
	if p.CurrentStreak > p.LongestStreak {
		p.LongestStreak = p.CurrentStreak
	}
}

func isNextDay(prev, day string) bool {
	p, err := time.Parse(models.DayLayout, prev)
	if err != nil {
		return false
	}
	return p.AddDate(0, 0, 1).Format(models.DayLayout) == day
}

// streakAlive reports whether the streak can still be extended today.
func streakAlive(lastActiveDay string, now time.Time) bool {
	if lastActiveDay == "" {
		return false
	}
	today := utcDay(now)
	return lastActiveDay == today || isNextDay(lastActiveDay, today)
}

// ===== IDEMPOTENCY =====

// alreadyCredited answers from the redis marker when one is present and
// confirms it against the XP ledger, which is authoritative. Without a marker
// the award transaction checks the ledger itself.
func (s *progressService) alreadyCredited(ctx context.Context, sessionID uint) (bool, error) {
	if s.redis == nil {
		return false, nil
	}
	n, err := s.redis.Exists(ctx, processedKey(sessionID)).Result()
	if err != nil {
		s.logger.Warn("Redis idempotency check failed, relying on ledger", "session_id", sessionID, "error", err)
		return false, nil
	}
	if n == 0 {
		return false, nil
	}
	credited, err := s.repo.Progress().HasXPEntry(ctx, s.db, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to check xp ledger: %w", err)
	}
	if !credited {
		s.logger.Warn("Stale idempotency marker without ledger entry", "session_id", sessionID)
	}
	return credited, nil
}

// markCredited records a committed award so redeliveries skip the ledger
// transaction.
func (s *progressService) markCredited(ctx context.Context, sessionID uint) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(context.WithoutCancel(ctx), processedKey(sessionID), s.now().Unix(), processedKeyTTL).Err(); err != nil {
		s.logger.Warn("Failed to set idempotency key", "session_id", sessionID, "error", err)
	}
}

func processedKey(sessionID uint) string {
	return fmt.Sprintf("%s%d", processedKeyBase, sessionID)
}
