package models

import (
	"time"

	"gorm.io/datatypes"
)

type DifficultyLevel string

const (
	DifficultyEasy   DifficultyLevel = "easy"
	DifficultyMedium DifficultyLevel = "medium"
	DifficultyHard   DifficultyLevel = "hard"
)

func (d DifficultyLevel) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

type QuestionSource string

const (
	SourceManual QuestionSource = "manual"
	SourceAI     QuestionSource = "ai"
	SourceImport QuestionSource = "import"
)

// Subject is a dental discipline such as Periodontics or Endodontics.
type Subject struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"not null;size:100"`
	Slug        string    `json:"slug" gorm:"uniqueIndex;not null;size:100"`
	Description *string   `json:"description" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	QuestionCount int64 `json:"question_count" gorm:"-"`
}

// Option is one answer choice of a multiple-choice question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type Question struct {
	ID              uint                        `json:"id" gorm:"primaryKey"`
	SubjectID       uint                        `json:"subject_id" gorm:"not null;index"`
	Stem            string                      `json:"stem" gorm:"type:text;not null"`
	Options         datatypes.JSONSlice[Option] `json:"options" gorm:"type:jsonb"`
	CorrectOptionID string                      `json:"correct_option_id" gorm:"size:8;not null"`
	Explanation     *string                     `json:"explanation" gorm:"type:text"`
	Difficulty      DifficultyLevel             `json:"difficulty" gorm:"size:20;default:medium;index"`
	Tags            datatypes.JSONSlice[string] `json:"tags" gorm:"type:jsonb"`
	Source          QuestionSource              `json:"source" gorm:"size:20;default:manual"`
	SourceJobID     *string                     `json:"source_job_id" gorm:"size:36;index"`
	IsPublished     bool                        `json:"is_published" gorm:"index"`
	CreatedBy       string                      `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt       time.Time                   `json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`

	Subject *Subject `json:"subject,omitempty" gorm:"foreignKey:SubjectID"`
}

func (q *Question) IsCorrect(optionID string) bool {
	return optionID != "" && optionID == q.CorrectOptionID
}

func (q *Question) HasOption(optionID string) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}
