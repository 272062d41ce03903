package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dentprep/exam-service/internal/models"
)

const (
	EventSource  = "exam-service"
	EventVersion = "1.0"
)

// Topics double as event types.
const (
	TopicQuizCompleted       = "quiz.completed"
	TopicGenerationRequested = "generation.requested"
)

// Event is the envelope every domain event travels in.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Version   string          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func NewEvent(eventType string, data interface{}) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    EventSource,
		Version:   EventVersion,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s event %s: %w", e.Type, e.ID, err)
	}
	return nil
}

// QuizCompletedEvent is emitted once per completed quiz session.
type QuizCompletedEvent struct {
	SessionID   uint            `json:"session_id"`
	UserID      string          `json:"user_id"`
	SubjectID   *uint           `json:"subject_id,omitempty"`
	Mode        models.QuizMode `json:"mode"`
	Total       int             `json:"total"`
	Answered    int             `json:"answered"`
	Correct     int             `json:"correct"`
	Percentage  float64         `json:"percentage"`
	Passed      bool            `json:"passed"`
	CompletedAt time.Time       `json:"completed_at"`
}

type GenerationRequestedEvent struct {
	JobID  string                `json:"job_id"`
	UserID string                `json:"user_id"`
	Kind   models.GenerationKind `json:"kind"`
}

// EventPublisher publishes domain events to the topic named by their type.
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}
