package services

import (
	"errors"
	"fmt"

	"github.com/dentprep/exam-service/internal/validator"
)

// ===== SENTINEL ERRORS =====

var (
	ErrSubjectNotFound      = errors.New("subject not found")
	ErrSubjectDuplicateSlug = errors.New("subject slug already exists")

	ErrQuestionNotFound      = errors.New("question not found")
	ErrQuestionDuplicateStem = errors.New("question with the same stem already exists in subject")
	ErrNoQuestionsAvailable  = errors.New("no published questions match the requested pool")

	ErrQuizNotFound         = errors.New("quiz session not found")
	ErrQuizNotActive        = errors.New("quiz session is not in progress")
	ErrQuizExpired          = errors.New("quiz session has expired")
	ErrQuizAlreadyCompleted = errors.New("quiz session is already completed")
	ErrQuizNotCompleted     = errors.New("quiz session is not completed")
	ErrQuestionNotInQuiz    = errors.New("question does not belong to quiz session")
	ErrInvalidOption        = errors.New("option does not belong to question")
	ErrQuizIntegrity        = errors.New("stored question order does not match seed")

	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentTooLarge = errors.New("document exceeds the upload limit")
	ErrDocumentEmpty    = errors.New("document is empty")

	ErrJobNotFound       = errors.New("generation job not found")
	ErrJobNotCancellable = errors.New("generation job is not queued or running")
	ErrJobNotRetryable   = errors.New("generation job has not failed")
	ErrJobMissingInput   = errors.New("a document or inline prompt is required")

	ErrDeckNotFound = errors.New("flashcard deck not found")

	ErrInvalidPeriod = errors.New("invalid leaderboard period")
	ErrInvalidImport = errors.New("invalid import file")
)

// ===== STRUCTURED ERRORS =====

type ValidationError = validator.ValidationError
type ValidationErrors = validator.ValidationErrors

// BusinessRuleError is a request that is well formed but breaks a domain rule.
type BusinessRuleError struct {
	Rule    string                 `json:"rule"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Rule, e.Message)
}

func NewBusinessRuleError(rule, message string, context map[string]interface{}) *BusinessRuleError {
	return &BusinessRuleError{Rule: rule, Message: message, Context: context}
}

// PermissionError is returned when the caller may not act on a resource.
type PermissionError struct {
	UserID     string      `json:"user_id"`
	ResourceID interface{} `json:"resource_id"`
	Resource   string      `json:"resource"`
	Action     string      `json:"action"`
	Reason     string      `json:"reason"`
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s cannot %s %s %v: %s", e.UserID, e.Action, e.Resource, e.ResourceID, e.Reason)
}

func NewPermissionError(userID string, resourceID interface{}, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}
