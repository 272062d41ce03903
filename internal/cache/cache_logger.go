package cache

import (
	"context"
	"fmt"
	"log/slog"
)

// SafeInvalidatePattern safely invalidates cache pattern with logging
func SafeInvalidatePattern(ctx context.Context, helper *CacheHelper, pattern string) {
	if err := helper.InvalidatePattern(ctx, pattern); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate cache pattern",
			"error", err,
			"pattern", pattern)
	}
}

// SafeDelete safely deletes cache keys with logging
func SafeDelete(ctx context.Context, helper *CacheHelper, keys ...string) {
	if err := helper.Delete(ctx, keys...); err != nil {
		slog.ErrorContext(ctx, "Failed to delete cache keys",
			"error", err,
			"keys", keys)
	}
}

// BatchInvalidate invalidates multiple patterns in batch
func BatchInvalidate(ctx context.Context, helper *CacheHelper, patterns []string) error {
	var lastErr error
	for _, pattern := range patterns {
		if err := helper.InvalidatePattern(ctx, pattern); err != nil {
			lastErr = err
			slog.ErrorContext(ctx, "Failed to invalidate pattern in batch",
				"error", err,
				"pattern", pattern)
		}
	}
	return lastErr
}

// InvalidateQuestionCache drops the cached question and every listing that
// could include it.
func InvalidateQuestionCache(ctx context.Context, cm *CacheManager, questionID uint, subjectID uint) {
	SafeDelete(ctx, cm.Question, fmt.Sprintf("id:%d", questionID))
	_ = BatchInvalidate(ctx, cm.Question, []string{fmt.Sprintf("subject:%d:*", subjectID), "pool:*"})
	SafeDelete(ctx, cm.Subject, "list")
	SafeInvalidatePattern(ctx, cm.Stats, "*")
}

// InvalidateJobCache drops the cached status of a generation job.
func InvalidateJobCache(ctx context.Context, cm *CacheManager, jobID string) {
	SafeDelete(ctx, cm.Job, fmt.Sprintf("id:%s", jobID))
}
