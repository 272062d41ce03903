package events

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dentprep/exam-service/internal/config"
	"github.com/dentprep/exam-service/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestNewEvent(t *testing.T) {
	subject := uint(3)
	event, err := NewEvent(TopicQuizCompleted, QuizCompletedEvent{SessionID: 7, UserID: "u1", SubjectID: &subject, Mode: models.ModeExam, Correct: 4, Total: 5})
	require.NoError(t, err)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, EventSource, event.Source)
	assert.Equal(t, EventVersion, event.Version)
	assert.False(t, event.Timestamp.IsZero())

	var payload QuizCompletedEvent
	require.NoError(t, event.Decode(&payload))
	assert.Equal(t, uint(7), payload.SessionID)
	assert.Equal(t, uint(3), *payload.SubjectID)
}

func TestMockEventPublisher(t *testing.T) {
	mock := NewMockEventPublisher(testLogger())
	ctx := context.Background()

	event, err := NewEvent(TopicGenerationRequested, GenerationRequestedEvent{JobID: "j1"})
	require.NoError(t, err)
	require.NoError(t, mock.Publish(ctx, event))
	assert.Len(t, mock.GetPublishedEvents(), 1)

	mock.ClearEvents()
	assert.Empty(t, mock.GetPublishedEvents())

	mock.FailWith(errors.New("broker down"))
	assert.Error(t, mock.Publish(ctx, event))
}

func TestRouter_DeliversOverInProcessBus(t *testing.T) {
	logger := testLogger()
	pub, sub, err := NewPubSub(config.KafkaConfig{}, logger)
	require.NoError(t, err)

	router, err := NewRouter(sub, logger)
	require.NoError(t, err)

	received := make(chan QuizCompletedEvent, 1)
	router.Handle("test_quiz_completed", TopicQuizCompleted, func(ctx context.Context, event *Event) error {
		var payload QuizCompletedEvent
		if err := event.Decode(&payload); err != nil {
			return err
		}
		received <- payload
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = router.Run(ctx) }()

	select {
	case <-router.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}

	publisher := NewWatermillPublisher(pub, logger)
	event, err := NewEvent(TopicQuizCompleted, QuizCompletedEvent{SessionID: 42, UserID: "student-1", Correct: 3, Total: 5})
	require.NoError(t, err)
	require.NoError(t, publisher.Publish(ctx, event))

	select {
	case got := <-received:
		assert.Equal(t, uint(42), got.SessionID)
		assert.Equal(t, "student-1", got.UserID)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}

	require.NoError(t, router.Close())
}
