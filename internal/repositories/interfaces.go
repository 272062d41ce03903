package repositories

import (
	"time"

	"github.com/dentprep/exam-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type QuestionFilters struct {
	SubjectID  *uint                   `json:"subject_id"`
	Difficulty *models.DifficultyLevel `json:"difficulty"`
	Source     *models.QuestionSource  `json:"source"`
	Published  *bool                   `json:"published"`
	Search     string                  `json:"search"`
	Limit      int                     `json:"limit"`
	Offset     int                     `json:"offset"`
	SortBy     string                  `json:"sort_by"`    // "created_at", "id", "difficulty"
	SortOrder  string                  `json:"sort_order"` // "asc", "desc"
}

// QuestionPoolFilter selects the published questions a quiz may draw from.
type QuestionPoolFilter struct {
	SubjectID  *uint
	Difficulty *models.DifficultyLevel
}

type SessionFilters struct {
	UserID    *string               `json:"user_id"`
	Status    *models.SessionStatus `json:"status"`
	Mode      *models.QuizMode      `json:"mode"`
	DateFrom  *time.Time            `json:"date_from"`
	DateTo    *time.Time            `json:"date_to"`
	Limit     int                   `json:"limit"`
	Offset    int                   `json:"offset"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type JobFilters struct {
	UserID *string                `json:"user_id"`
	Status *models.JobStatus      `json:"status"`
	Kind   *models.GenerationKind `json:"kind"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

// ClaimOptions controls which generation jobs a worker may pick up.
type ClaimOptions struct {
	MaxAttempts  int
	RetryDelay   time.Duration
	StaleRunning time.Duration
	Now          time.Time
}

// ===== SHARED RESULT STRUCTS =====

// LeaderboardRow is a user's XP total over some window.
type LeaderboardRow struct {
	UserID string `json:"user_id"`
	XP     int64  `json:"xp"`
}

// SessionSummary aggregates completed quiz sessions.
type SessionSummary struct {
	Completed    int64   `json:"completed"`
	AverageScore float64 `json:"average_score"`
	PassRate     float64 `json:"pass_rate"`
}
