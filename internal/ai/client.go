package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/dentprep/exam-service/internal/models"
)

// ErrEmptyCompletion is returned when the model answers with no content.
var ErrEmptyCompletion = errors.New("model returned an empty completion")

// Request is a single JSON-mode chat completion.
type Request struct {
	Kind   models.GenerationKind
	System string
	User   string
	Count  int
}

// Client produces a JSON document for a request.
type Client interface {
	CompleteJSON(ctx context.Context, req Request) (string, error)
	Name() string
}

// HTTPError is a non-2xx answer from the completion endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("completion endpoint returned %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if sent again.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
