package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
)

// HandlerFunc consumes one decoded event. Returning an error nacks the
// message so it is redelivered.
type HandlerFunc func(ctx context.Context, event *Event) error

// Router dispatches subscribed topics to handlers.
type Router struct {
	router     *message.Router
	subscriber message.Subscriber
	logger     *slog.Logger
}

func NewRouter(subscriber message.Subscriber, logger *slog.Logger) (*Router, error) {
	wmLogger := watermill.NewSlogLogger(logger)
	r, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create event router: %w", err)
	}

	r.AddMiddleware(
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: 100 * time.Millisecond,
			Logger:          wmLogger,
		}.Middleware,
		middleware.Recoverer,
	)

	return &Router{router: r, subscriber: subscriber, logger: logger}, nil
}

// Handle registers fn for every event published on topic.
func (r *Router) Handle(name, topic string, fn HandlerFunc) {
	r.router.AddNoPublisherHandler(name, topic, r.subscriber, func(msg *message.Message) error {
		var event Event
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			// A payload that cannot be decoded will never succeed; drop it.
			r.logger.Error("Dropping malformed event", "topic", topic, "message_uuid", msg.UUID, "error", err)
			return nil
		}
		return fn(msg.Context(), &event)
	})
}

// Run blocks until ctx is cancelled or the router is closed.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running is closed once all handlers are subscribed.
func (r *Router) Running() chan struct{} {
	return r.router.Running()
}

func (r *Router) Close() error {
	return r.router.Close()
}
