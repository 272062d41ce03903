package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/dentprep/exam-service/internal/cache"
	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
)

const (
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
	PeriodAllTime = "all_time"

	SourceRedis    = "redis"
	SourceDatabase = "database"

	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100

	// Period boards outlive their period so last week's board can still be read.
	periodBoardGrace = 7 * 24 * time.Hour
)

// period identifies one leaderboard window.
type period struct {
	name  string
	key   string
	start time.Time
	end   time.Time
}

func (p period) board(subjectID *uint) string {
	if subjectID == nil {
		return p.key
	}
	return fmt.Sprintf("%s:subject:%d", p.key, *subjectID)
}

func (p period) ttl(now time.Time) time.Duration {
	if p.end.IsZero() {
		return 0
	}
	return p.end.Sub(now) + periodBoardGrace
}

// since is the lower bound used by the SQL fallback. nil means all time.
func (p period) since() *time.Time {
	if p.start.IsZero() {
		return nil
	}
	start := p.start
	return &start
}

// resolvePeriod maps a period name and instant to its window. Weekly windows
// follow ISO weeks, starting Monday 00:00 UTC.
func resolvePeriod(name string, at time.Time) (period, error) {
	at = at.UTC()
	switch name {
	case PeriodWeekly:
		year, week := at.ISOWeek()
		offset := (int(at.Weekday()) + 6) % 7
		start := time.Date(at.Year(), at.Month(), at.Day()-offset, 0, 0, 0, 0, time.UTC)
		return period{
			name:  name,
			key:   fmt.Sprintf("%s:%04d-W%02d", name, year, week),
			start: start,
			end:   start.AddDate(0, 0, 7),
		}, nil
	case PeriodMonthly:
		start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
		return period{
			name:  name,
			key:   fmt.Sprintf("%s:%s", name, start.Format("2006-01")),
			start: start,
			end:   start.AddDate(0, 1, 0),
		}, nil
	case PeriodAllTime:
		return period{name: name, key: name}, nil
	default:
		return period{}, ErrInvalidPeriod
	}
}

type leaderboardService struct {
	repo   repositories.Repository
	db     *gorm.DB
	logger *slog.Logger
	store  *cache.LeaderboardStore
	now    func() time.Time
}

// NewLeaderboardService builds the leaderboard. When store has no redis client
// every read is served from the XP ledger in the database.
func NewLeaderboardService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, store *cache.LeaderboardStore) LeaderboardService {
	return &leaderboardService{
		repo:   repo,
		db:     db,
		logger: logger,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AddXP credits xp on the weekly, monthly and all-time boards, and on the
// subject-scoped variants when subjectID is set.
func (s *leaderboardService) AddXP(ctx context.Context, userID string, subjectID *uint, xp int64, at time.Time) error {
	if !s.store.Available() {
		return nil
	}
	if at.IsZero() {
		at = s.now()
	}

	now := s.now()
	boards := make(map[string]time.Duration, 6)
	for _, name := range []string{PeriodWeekly, PeriodMonthly, PeriodAllTime} {
		p, _ := resolvePeriod(name, at)
		ttl := p.ttl(now)
		if !p.end.IsZero() && ttl <= 0 {
			continue
		}
		boards[p.board(nil)] = ttl
		if subjectID != nil {
			boards[p.board(subjectID)] = ttl
		}
	}

	if err := s.store.Incr(ctx, userID, float64(xp), boards); err != nil {
		return fmt.Errorf("failed to update leaderboards: %w", err)
	}

	s.logger.Debug("Leaderboards updated", "user_id", userID, "xp", xp, "boards", len(boards))
	return nil
}

func (s *leaderboardService) Top(ctx context.Context, req LeaderboardRequest) (*LeaderboardResponse, error) {
	p, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	limit = min(limit, maxLeaderboardLimit)

	resp := &LeaderboardResponse{
		Period:    p.name,
		Key:       p.key,
		SubjectID: req.SubjectID,
		Entries:   []LeaderboardEntry{},
	}

	var rows []repositories.LeaderboardRow
	if s.store.Available() {
		top, err := s.store.Top(ctx, p.board(req.SubjectID), limit)
		if err == nil {
			resp.Source = SourceRedis
			for _, e := range top {
				rows = append(rows, repositories.LeaderboardRow{UserID: e.Member, XP: int64(e.Score)})
			}
		} else {
			s.logger.Warn("Leaderboard read from redis failed, using database", "board", p.board(req.SubjectID), "error", err)
		}
	}
	if resp.Source == "" {
		rows, err = s.repo.Progress().TopXP(ctx, s.db, p.since(), req.SubjectID, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate leaderboard: %w", err)
		}
		resp.Source = SourceDatabase
	}

	users := s.resolveUsers(ctx, rows)
	for i, row := range rows {
		resp.Entries = append(resp.Entries, newLeaderboardEntry(rankAt(rows, i), row, users[row.UserID]))
	}
	return resp, nil
}

// Rank returns the user's standing. Users without XP in the window get rank 0.
func (s *leaderboardService) Rank(ctx context.Context, req LeaderboardRequest, userID string) (*LeaderboardEntry, error) {
	p, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	var (
		rank  int64
		xp    int64
		found bool
	)
	served := false
	if s.store.Available() {
		r, score, ok, err := s.store.Rank(ctx, p.board(req.SubjectID), userID)
		if err == nil {
			served = true
			rank, xp, found = r, int64(score), ok
		} else {
			s.logger.Warn("Leaderboard rank from redis failed, using database", "user_id", userID, "error", err)
		}
	}
	if !served {
		rank, xp, found, err = s.repo.Progress().RankXP(ctx, s.db, userID, p.since(), req.SubjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to rank user: %w", err)
		}
	}

	var user *models.User
	if u, err := s.repo.User().GetByID(ctx, userID); err == nil {
		user = u
	} else if !repositories.IsNotFoundError(err) {
		s.logger.Warn("Failed to resolve leaderboard user", "user_id", userID, "error", err)
	}

	if !found {
		rank, xp = 0, 0
	}
	entry := newLeaderboardEntry(rank, repositories.LeaderboardRow{UserID: userID, XP: xp}, user)
	return &entry, nil
}

func (s *leaderboardService) resolve(req LeaderboardRequest) (period, error) {
	at := req.At
	if at.IsZero() {
		at = s.now()
	}
	return resolvePeriod(req.Period, at)
}

func (s *leaderboardService) resolveUsers(ctx context.Context, rows []repositories.LeaderboardRow) map[string]*models.User {
	byID := make(map[string]*models.User, len(rows))
	if len(rows) == 0 {
		return byID
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.UserID)
	}
	users, err := s.repo.User().GetByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("Failed to resolve leaderboard users", "count", len(ids), "error", err)
		return byID
	}
	for _, u := range users {
		byID[u.ID] = u
	}
	return byID
}

// rankAt ranks row i as one more than the number of rows with strictly more
// XP, so ties share a rank. rows must be sorted by XP descending.
func rankAt(rows []repositories.LeaderboardRow, i int) int64 {
	for i > 0 && rows[i-1].XP == rows[i].XP {
		i--
	}
	return int64(i + 1)
}

func newLeaderboardEntry(rank int64, row repositories.LeaderboardRow, user *models.User) LeaderboardEntry {
	entry := LeaderboardEntry{
		Rank:        rank,
		UserID:      row.UserID,
		DisplayName: row.UserID,
		XP:          row.XP,
	}
	if user != nil {
		entry.DisplayName = user.PublicName()
		if user.AvatarURL != nil {
			entry.AvatarURL = *user.AvatarURL
		}
	}
	return entry
}
