package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StudyDocument is user-uploaded study material. The bytes live in object
// storage under StorageKey.
type StudyDocument struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	UserID      string    `json:"user_id" gorm:"not null;index;size:255"`
	Title       string    `json:"title" gorm:"not null;size:200"`
	StorageKey  string    `json:"-" gorm:"uniqueIndex;not null;size:512"`
	ContentType string    `json:"content_type" gorm:"size:100"`
	SizeBytes   int64     `json:"size_bytes"`
	SubjectID   *uint     `json:"subject_id" gorm:"index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type GenerationKind string

const (
	KindFlashcards GenerationKind = "flashcards"
	KindQuestions  GenerationKind = "questions"
	KindSummary    GenerationKind = "summary"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// GenerationJob is an AI generation request processed by the worker pool.
// Clients poll it until Status is terminal.
type GenerationJob struct {
	ID          string         `json:"id" gorm:"primaryKey;size:36"`
	UserID      string         `json:"user_id" gorm:"not null;index;size:255"`
	Kind        GenerationKind `json:"kind" gorm:"size:20;not null"`
	Title       string         `json:"title" gorm:"size:200"`
	DocumentID  *uint          `json:"document_id" gorm:"index"`
	SubjectID   *uint          `json:"subject_id"`
	Prompt      string         `json:"prompt" gorm:"type:text"`
	Count       int            `json:"count"`
	Status      JobStatus      `json:"status" gorm:"size:20;not null;index"`
	Stage       string         `json:"stage" gorm:"size:50"`
	Progress    int            `json:"progress"`
	Attempts    int            `json:"attempts"`
	Error       string         `json:"error,omitempty" gorm:"type:text"`
	LockedAt    *time.Time     `json:"-"`
	HeartbeatAt *time.Time     `json:"-"`
	LastErrorAt *time.Time     `json:"-"`
	ResultKey   string         `json:"-" gorm:"size:512"`
	Result      datatypes.JSON `json:"result,omitempty" gorm:"type:jsonb"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at"`
}

func (j *GenerationJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	return nil
}

func (j *GenerationJob) IsTerminal() bool {
	switch j.Status {
	case JobSucceeded, JobCancelled:
		return true
	case JobFailed:
		// failed jobs with attempts left are retried and have no CompletedAt
		return j.CompletedAt != nil
	}
	return false
}

type FlashcardDeck struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"not null;index;size:255"`
	JobID     *string   `json:"job_id" gorm:"size:36;uniqueIndex"`
	Title     string    `json:"title" gorm:"not null;size:200"`
	SubjectID *uint     `json:"subject_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Cards []Flashcard `json:"cards,omitempty" gorm:"foreignKey:DeckID"`
}

type Flashcard struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	DeckID    uint      `json:"deck_id" gorm:"not null;index"`
	Front     string    `json:"front" gorm:"type:text;not null"`
	Back      string    `json:"back" gorm:"type:text;not null"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}
