package validator

import (
	"github.com/dentprep/exam-service/internal/models"
)

// OptionRequest is one answer choice in a question payload.
type OptionRequest struct {
	ID   string `json:"id" validate:"required,option_id"`
	Text string `json:"text" validate:"required,min=1,max=500"`
}

// QuestionCreateRequest represents the request structure for creating questions
type QuestionCreateRequest struct {
	SubjectID       uint                   `json:"subject_id" validate:"required"`
	Stem            string                 `json:"stem" validate:"required,min=10,max=4000"`
	Options         []OptionRequest        `json:"options" validate:"required,min=2,max=6,dive"`
	CorrectOptionID string                 `json:"correct_option_id" validate:"required,option_id"`
	Explanation     *string                `json:"explanation" validate:"omitempty,max=4000"`
	Difficulty      models.DifficultyLevel `json:"difficulty" validate:"required,difficulty_level"`
	Tags            []string               `json:"tags" validate:"omitempty,max=10,dive,max=50"`
	Publish         bool                   `json:"publish"`
}

// QuestionUpdateRequest represents the request structure for updating questions
type QuestionUpdateRequest struct {
	SubjectID       *uint                   `json:"subject_id"`
	Stem            *string                 `json:"stem" validate:"omitempty,min=10,max=4000"`
	Options         []OptionRequest         `json:"options" validate:"omitempty,min=2,max=6,dive"`
	CorrectOptionID *string                 `json:"correct_option_id" validate:"omitempty,option_id"`
	Explanation     *string                 `json:"explanation" validate:"omitempty,max=4000"`
	Difficulty      *models.DifficultyLevel `json:"difficulty" validate:"omitempty,difficulty_level"`
	Tags            []string                `json:"tags" validate:"omitempty,max=10,dive,max=50"`
}

type SubjectCreateRequest struct {
	Name        string  `json:"name" validate:"required,min=2,max=100"`
	Slug        string  `json:"slug" validate:"omitempty,slug,max=100"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
}

// StartQuizRequest starts a quiz session. A supplied Seed reproduces a
// previous ordering over the same question pool.
type StartQuizRequest struct {
	Mode       models.QuizMode         `json:"mode" validate:"required,quiz_mode"`
	SubjectID  *uint                   `json:"subject_id"`
	Difficulty *models.DifficultyLevel `json:"difficulty" validate:"omitempty,difficulty_level"`
	Count      int                     `json:"count" validate:"omitempty,min=5,max=100"`
	Seed       string                  `json:"seed" validate:"omitempty,max=255"`
}

type SubmitAnswerRequest struct {
	QuestionID uint   `json:"question_id" validate:"required"`
	OptionID   string `json:"option_id" validate:"required,option_id"`
	TimeSpent  int    `json:"time_spent" validate:"omitempty,min=0,max=3600"`
}

type GenerationCreateRequest struct {
	Kind       models.GenerationKind `json:"kind" validate:"required,generation_kind"`
	DocumentID *uint                 `json:"document_id"`
	SubjectID  *uint                 `json:"subject_id"`
	Title      string                `json:"title" validate:"omitempty,max=200"`
	Prompt     string                `json:"prompt" validate:"omitempty,max=20000"`
	Count      int                   `json:"count" validate:"omitempty,min=1,max=50"`
}

// LeaderboardQuery is the query string of a leaderboard read. Period comes
// from the path.
type LeaderboardQuery struct {
	Period    string `json:"period" form:"-" validate:"required,leaderboard_period"`
	SubjectID *uint  `json:"subject_id" form:"subject_id" validate:"omitempty,min=1"`
	Limit     int    `json:"limit" form:"limit" validate:"omitempty,min=1,max=100"`
}
