package models

import (
	"time"

	"gorm.io/datatypes"
)

type QuizMode string

const (
	ModePractice QuizMode = "practice"
	ModeExam     QuizMode = "exam"
)

type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionAbandoned  SessionStatus = "abandoned"
	SessionExpired    SessionStatus = "expired"
)

// QuizSession is one run through a set of questions. Seed and QuestionIDs
// together fix the presentation order so the session can be resumed and
// reviewed later.
type QuizSession struct {
	ID               uint                      `json:"id" gorm:"primaryKey"`
	UserID           string                    `json:"user_id" gorm:"not null;index;size:255;uniqueIndex:idx_quiz_sessions_active_user,where:status = 'in_progress'"`
	Mode             QuizMode                  `json:"mode" gorm:"size:20;not null"`
	SubjectID        *uint                     `json:"subject_id" gorm:"index"`
	Difficulty       *DifficultyLevel          `json:"difficulty" gorm:"size:20"`
	Seed             string                    `json:"seed" gorm:"not null;size:255"`
	QuestionIDs      datatypes.JSONSlice[uint] `json:"question_ids" gorm:"type:jsonb"`
	Status           SessionStatus             `json:"status" gorm:"size:20;not null;index"`
	CurrentIndex     int                       `json:"current_index"`
	TotalQuestions   int                       `json:"total_questions"`
	AnsweredCount    int                       `json:"answered_count"`
	CorrectCount     int                       `json:"correct_count"`
	Percentage       float64                   `json:"percentage"`
	Passed           bool                      `json:"passed"`
	TimeLimitSeconds int                       `json:"time_limit_seconds"`
	StartedAt        time.Time                 `json:"started_at"`
	ExpiresAt        *time.Time                `json:"expires_at"`
	CompletedAt      *time.Time                `json:"completed_at"`
	RetakeOf         *uint                     `json:"retake_of" gorm:"index"`
	CreatedAt        time.Time                 `json:"created_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`

	Answers []SessionAnswer `json:"answers,omitempty" gorm:"foreignKey:SessionID"`
}

func (s *QuizSession) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// QuestionPosition returns the 0-based presentation index of questionID, or
// -1 when the question is not part of the session.
func (s *QuizSession) QuestionPosition(questionID uint) int {
	for i, id := range s.QuestionIDs {
		if id == questionID {
			return i
		}
	}
	return -1
}

type SessionAnswer struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	SessionID        uint      `json:"session_id" gorm:"not null;uniqueIndex:idx_session_question"`
	QuestionID       uint      `json:"question_id" gorm:"not null;uniqueIndex:idx_session_question"`
	SelectedOptionID string    `json:"selected_option_id" gorm:"size:8"`
	IsCorrect        bool      `json:"is_correct"`
	TimeSpent        int       `json:"time_spent"`
	AnsweredAt       time.Time `json:"answered_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
