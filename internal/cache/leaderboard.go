package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const leaderboardPrefix = "lb:"

// LeaderboardEntry is one scored member of a sorted set.
type LeaderboardEntry struct {
	Member string
	Score  float64
}

// LeaderboardStore keeps XP rankings in redis sorted sets.
type LeaderboardStore struct {
	client *redis.Client
}

func NewLeaderboardStore(client *redis.Client) *LeaderboardStore {
	return &LeaderboardStore{client: client}
}

// Available reports whether a redis client is configured.
func (s *LeaderboardStore) Available() bool {
	return s != nil && s.client != nil
}

func (s *LeaderboardStore) key(board string) string {
	return leaderboardPrefix + board
}

// Incr adds delta to member's score on each board. A positive ttl is
// (re)applied so period boards expire after the period ends.
func (s *LeaderboardStore) Incr(ctx context.Context, member string, delta float64, boards map[string]time.Duration) error {
	if !s.Available() {
		return ErrCacheNotAvailable
	}
	if len(boards) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for board, ttl := range boards {
		k := s.key(board)
		pipe.ZIncrBy(ctx, k, delta, member)
		if ttl > 0 {
			pipe.Expire(ctx, k, ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("leaderboard incr error: %w", err)
	}
	return nil
}

// Top returns the highest scores, best first.
func (s *LeaderboardStore) Top(ctx context.Context, board string, limit int) ([]LeaderboardEntry, error) {
	if !s.Available() {
		return nil, ErrCacheNotAvailable
	}
	if limit <= 0 {
		return []LeaderboardEntry{}, nil
	}

	zs, err := s.client.ZRevRangeWithScores(ctx, s.key(board), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard range error: %w", err)
	}

	entries := make([]LeaderboardEntry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		entries = append(entries, LeaderboardEntry{Member: member, Score: z.Score})
	}
	return entries, nil
}

// Rank returns member's 1-based competition rank and score: one more than
// the number of members with a strictly higher score, so ties share a rank.
// found is false when the member has no score on the board.
func (s *LeaderboardStore) Rank(ctx context.Context, board, member string) (rank int64, score float64, found bool, err error) {
	if !s.Available() {
		return 0, 0, false, ErrCacheNotAvailable
	}

	k := s.key(board)
	score, err = s.client.ZScore(ctx, k, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("leaderboard score error: %w", err)
	}

	above, err := s.client.ZCount(ctx, k, "("+strconv.FormatFloat(score, 'f', -1, 64), "+inf").Result()
	if err != nil {
		return 0, 0, false, fmt.Errorf("leaderboard rank error: %w", err)
	}
	return above + 1, score, true, nil
}
