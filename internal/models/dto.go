package models

import "time"

// ===== PAGINATION =====

type PaginatedResponse struct {
	Content          interface{} `json:"content"`
	TotalElements    int64       `json:"total_elements"`
	TotalPages       int         `json:"total_pages"`
	Size             int         `json:"size"`
	Page             int         `json:"page"`
	First            bool        `json:"first"`
	Last             bool        `json:"last"`
	NumberOfElements int         `json:"number_of_elements"`
	Empty            bool        `json:"empty"`
}

// NewPaginatedResponse wraps one page of results. page is 1-based.
func NewPaginatedResponse(content interface{}, count int, total int64, page, size int) *PaginatedResponse {
	if size <= 0 {
		size = 10
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int((total + int64(size) - 1) / int64(size))
	return &PaginatedResponse{
		Content:          content,
		TotalElements:    total,
		TotalPages:       totalPages,
		Size:             size,
		Page:             page,
		First:            page == 1,
		Last:             page >= totalPages,
		NumberOfElements: count,
		Empty:            count == 0,
	}
}

// ===== STATISTICS DTOs =====

type OptionStat struct {
	OptionID       string  `json:"option_id"`
	OptionText     string  `json:"option_text"`
	SelectionCount int     `json:"selection_count"`
	SelectionRate  float64 `json:"selection_rate"`
	IsCorrect      bool    `json:"is_correct"`
}

type QuestionStats struct {
	QuestionID  uint         `json:"question_id"`
	TimesShown  int          `json:"times_shown"`
	CorrectRate float64      `json:"correct_rate"`
	AvgTime     float64      `json:"avg_time_seconds"`
	Options     []OptionStat `json:"options"`
}

type SubjectCount struct {
	SubjectID   uint   `json:"subject_id"`
	SubjectName string `json:"subject_name"`
	Count       int64  `json:"count"`
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

type DashboardStats struct {
	LearnersWithProgress int64          `json:"learners_with_progress"`
	ActiveLearners7d     int64          `json:"active_learners_7d"`
	PublishedQuestions   int64          `json:"published_questions"`
	DraftQuestions       int64          `json:"draft_questions"`
	QuestionsBySubject   []SubjectCount `json:"questions_by_subject"`
	QuizzesCompleted     int64          `json:"quizzes_completed"`
	AverageScore         float64        `json:"average_score"`
	PassRate             float64        `json:"pass_rate"`
	JobsByStatus         []StatusCount  `json:"jobs_by_status"`
	GeneratedAt          time.Time      `json:"generated_at"`
}

// ===== IMPORT/EXPORT DTOs =====

type ImportRowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type ImportResult struct {
	TotalRows int              `json:"total_rows"`
	Imported  int              `json:"imported"`
	Skipped   int              `json:"skipped"`
	Errors    []ImportRowError `json:"errors"`
}
