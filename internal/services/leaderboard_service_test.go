package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dentprep/exam-service/internal/cache"
	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
)

func TestResolvePeriod(t *testing.T) {
	wednesday := time.Date(2026, 10, 21, 15, 0, 0, 0, time.UTC)

	p, err := resolvePeriod(PeriodWeekly, wednesday)
	require.NoError(t, err)
	assert.Equal(t, "weekly:2026-W43", p.key)
	assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), p.start)
	assert.Equal(t, time.Date(2026, 10, 26, 0, 0, 0, 0, time.UTC), p.end)
	assert.Equal(t, "weekly:2026-W43:subject:3", p.board(uintPtr(3)))

	// Monday midnight opens the week
	p, err = resolvePeriod(PeriodWeekly, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "weekly:2026-W43", p.key)

	// New year's day 2027 still belongs to the last ISO week of 2026
	p, err = resolvePeriod(PeriodWeekly, time.Date(2027, 1, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "weekly:2026-W53", p.key)
	assert.Equal(t, time.Date(2026, 12, 28, 0, 0, 0, 0, time.UTC), p.start)

	p, err = resolvePeriod(PeriodMonthly, wednesday)
	require.NoError(t, err)
	assert.Equal(t, "monthly:2026-10", p.key)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), p.start)
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), p.end)

	p, err = resolvePeriod(PeriodAllTime, wednesday)
	require.NoError(t, err)
	assert.Equal(t, "all_time", p.key)
	assert.Nil(t, p.since())
	assert.Zero(t, p.ttl(wednesday))

	_, err = resolvePeriod("daily", wednesday)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestRankAt(t *testing.T) {
	rows := []struct {
		xp   int64
		want int64
	}{{90, 1}, {70, 2}, {70, 2}, {70, 2}, {40, 5}}
	lb := make([]repositories.LeaderboardRow, 0, len(rows))
	for _, r := range rows {
		lb = append(lb, repositories.LeaderboardRow{XP: r.xp})
	}
	for i, r := range rows {
		assert.Equal(t, r.want, rankAt(lb, i), "row %d", i)
	}
}

func TestLeaderboardService_Redis(t *testing.T) {
	env := newTestEnv(t, true)
	svc := NewLeaderboardService(env.repo, env.db, env.logger, cache.NewLeaderboardStore(env.redis))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, svc.AddXP(ctx, "learner-1", nil, 50, now))
	require.NoError(t, svc.AddXP(ctx, "learner-2", uintPtr(3), 80, now))
	require.NoError(t, svc.AddXP(ctx, "admin-1", nil, 50, now))

	top, err := svc.Top(ctx, LeaderboardRequest{Period: PeriodWeekly, At: now})
	require.NoError(t, err)
	assert.Equal(t, SourceRedis, top.Source)
	assert.Equal(t, PeriodWeekly, top.Period)
	require.Len(t, top.Entries, 3)
	assert.Equal(t, LeaderboardEntry{Rank: 1, UserID: "learner-2", DisplayName: "Ben Okafor", XP: 80}, top.Entries[0])
	assert.Equal(t, int64(2), top.Entries[1].Rank)
	assert.Equal(t, int64(2), top.Entries[2].Rank)
	assert.ElementsMatch(t,
		[]string{"Amy Tran", "cara"},
		[]string{top.Entries[1].DisplayName, top.Entries[2].DisplayName})

	limited, err := svc.Top(ctx, LeaderboardRequest{Period: PeriodMonthly, At: now, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited.Entries, 1)

	subject, err := svc.Top(ctx, LeaderboardRequest{Period: PeriodAllTime, SubjectID: uintPtr(3), At: now})
	require.NoError(t, err)
	require.Len(t, subject.Entries, 1)
	assert.Equal(t, "learner-2", subject.Entries[0].UserID)

	rank, err := svc.Rank(ctx, LeaderboardRequest{Period: PeriodWeekly, At: now}, "learner-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rank.Rank)
	assert.Equal(t, int64(80), rank.XP)

	// The personal rank agrees with the shared rank shown on the board
	for _, entry := range top.Entries[1:] {
		mine, err := svc.Rank(ctx, LeaderboardRequest{Period: PeriodWeekly, At: now}, entry.UserID)
		require.NoError(t, err)
		assert.Equal(t, entry.Rank, mine.Rank, entry.UserID)
		assert.Equal(t, int64(50), mine.XP)
	}

	ghost, err := svc.Rank(ctx, LeaderboardRequest{Period: PeriodWeekly, At: now}, "ghost")
	require.NoError(t, err)
	assert.Equal(t, LeaderboardEntry{UserID: "ghost", DisplayName: "ghost"}, *ghost)

	_, err = svc.Top(ctx, LeaderboardRequest{Period: "yearly"})
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	weekly, _ := resolvePeriod(PeriodWeekly, now)
	assert.True(t, env.mr.TTL("lb:"+weekly.key) > 0)
	assert.Zero(t, env.mr.TTL("lb:all_time"))
}

func TestLeaderboardService_SkipsClosedPeriods(t *testing.T) {
	env := newTestEnv(t, true)
	svc := NewLeaderboardService(env.repo, env.db, env.logger, cache.NewLeaderboardStore(env.redis))
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -21)
	require.NoError(t, svc.AddXP(ctx, "learner-1", nil, 30, old))

	oldWeek, _ := resolvePeriod(PeriodWeekly, old)
	assert.False(t, env.mr.Exists("lb:"+oldWeek.key))
	assert.True(t, env.mr.Exists("lb:all_time"))
}

func seedXP(t *testing.T, db *gorm.DB, sessionID uint, userID string, subjectID *uint, xp int64, at time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&models.XPEntry{
		UserID:    userID,
		SessionID: sessionID,
		SubjectID: subjectID,
		XP:        xp,
		AwardedAt: at,
	}).Error)
}

func TestLeaderboardService_DatabaseFallback(t *testing.T) {
	env := newTestEnv(t, false)
	svc := NewLeaderboardService(env.repo, env.db, env.logger, cache.NewLeaderboardStore(nil))
	ctx := context.Background()
	at := time.Date(2026, 10, 21, 12, 0, 0, 0, time.UTC)

	seedXP(t, env.db, 1, "learner-1", nil, 30, at)
	seedXP(t, env.db, 2, "learner-1", nil, 40, at.Add(time.Hour))
	seedXP(t, env.db, 3, "learner-2", uintPtr(5), 70, at)
	seedXP(t, env.db, 4, "admin-1", nil, 100, at.AddDate(0, 0, -60))

	// Without redis AddXP is a no-op
	require.NoError(t, svc.AddXP(ctx, "learner-1", nil, 500, at))

	all, err := svc.Top(ctx, LeaderboardRequest{Period: PeriodAllTime, At: at})
	require.NoError(t, err)
	assert.Equal(t, SourceDatabase, all.Source)
	require.Len(t, all.Entries, 3)
	assert.Equal(t, LeaderboardEntry{Rank: 1, UserID: "admin-1", DisplayName: "cara", XP: 100}, all.Entries[0])
	assert.Equal(t, LeaderboardEntry{Rank: 2, UserID: "learner-1", DisplayName: "Amy Tran", XP: 70}, all.Entries[1])
	assert.Equal(t, LeaderboardEntry{Rank: 2, UserID: "learner-2", DisplayName: "Ben Okafor", XP: 70}, all.Entries[2])

	monthly, err := svc.Top(ctx, LeaderboardRequest{Period: PeriodMonthly, At: at})
	require.NoError(t, err)
	require.Len(t, monthly.Entries, 2)
	assert.Equal(t, "monthly:2026-10", monthly.Key)

	subject, err := svc.Top(ctx, LeaderboardRequest{Period: PeriodAllTime, SubjectID: uintPtr(5), At: at})
	require.NoError(t, err)
	require.Len(t, subject.Entries, 1)
	assert.Equal(t, "learner-2", subject.Entries[0].UserID)

	rank, err := svc.Rank(ctx, LeaderboardRequest{Period: PeriodAllTime, At: at}, "learner-2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rank.Rank)
	assert.Equal(t, int64(70), rank.XP)

	absent, err := svc.Rank(ctx, LeaderboardRequest{Period: PeriodMonthly, At: at}, "admin-1")
	require.NoError(t, err)
	assert.Zero(t, absent.Rank)
	assert.Zero(t, absent.XP)
	assert.Equal(t, "cara", absent.DisplayName)
}

func TestLeaderboardService_FallsBackWhenRedisFails(t *testing.T) {
	env := newTestEnv(t, true)
	svc := NewLeaderboardService(env.repo, env.db, env.logger, cache.NewLeaderboardStore(env.redis))
	ctx := context.Background()
	at := time.Date(2026, 10, 21, 12, 0, 0, 0, time.UTC)

	seedXP(t, env.db, 1, "learner-1", nil, 40, at)
	env.mr.Close()

	top, err := svc.Top(ctx, LeaderboardRequest{Period: PeriodAllTime, At: at})
	require.NoError(t, err)
	assert.Equal(t, SourceDatabase, top.Source)
	require.Len(t, top.Entries, 1)
	assert.Equal(t, int64(40), top.Entries[0].XP)

	rank, err := svc.Rank(ctx, LeaderboardRequest{Period: PeriodAllTime, At: at}, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rank.Rank)
}
