package validator

import (
	"strings"

	"github.com/dentprep/exam-service/internal/models"
)

// BusinessValidator checks rules that span several fields of a request.
type BusinessValidator struct {
	*Validator
}

func NewBusinessValidator() *BusinessValidator {
	return &BusinessValidator{Validator: New()}
}

// ValidateQuestionCreate runs struct validation followed by option rules.
func (bv *BusinessValidator) ValidateQuestionCreate(req *QuestionCreateRequest) ValidationErrors {
	var errs ValidationErrors
	if err := bv.Validate(req); err != nil {
		if ve, ok := err.(ValidationErrors); ok {
			errs = append(errs, ve...)
		} else {
			errs = append(errs, ValidationError{Field: "request", Message: err.Error()})
		}
	}
	errs = append(errs, validateOptions(req.Options, req.CorrectOptionID)...)
	return errs
}

// ValidateQuestionUpdate checks the merged result of an update against the
// stored question.
func (bv *BusinessValidator) ValidateQuestionUpdate(req *QuestionUpdateRequest, existing *models.Question) ValidationErrors {
	var errs ValidationErrors
	if err := bv.Validate(req); err != nil {
		if ve, ok := err.(ValidationErrors); ok {
			errs = append(errs, ve...)
		} else {
			errs = append(errs, ValidationError{Field: "request", Message: err.Error()})
		}
	}

	options := req.Options
	if options == nil {
		for _, o := range existing.Options {
			options = append(options, OptionRequest{ID: o.ID, Text: o.Text})
		}
	}
	correct := existing.CorrectOptionID
	if req.CorrectOptionID != nil {
		correct = *req.CorrectOptionID
	}
	if req.Options != nil || req.CorrectOptionID != nil {
		errs = append(errs, validateOptions(options, correct)...)
	}
	return errs
}

func validateOptions(options []OptionRequest, correctID string) ValidationErrors {
	var errs ValidationErrors
	seenID := make(map[string]bool, len(options))
	seenText := make(map[string]bool, len(options))
	hasCorrect := false
	for _, o := range options {
		if seenID[o.ID] {
			errs = append(errs, ValidationError{Field: "options", Message: "option ids must be unique", Value: o.ID, Rule: "unique_option_id"})
		}
		seenID[o.ID] = true

		text := strings.ToLower(strings.TrimSpace(o.Text))
		if text != "" && seenText[text] {
			errs = append(errs, ValidationError{Field: "options", Message: "option texts must be distinct", Value: o.Text, Rule: "unique_option_text"})
		}
		seenText[text] = true

		if o.ID == correctID {
			hasCorrect = true
		}
	}
	if correctID != "" && !hasCorrect {
		errs = append(errs, ValidationError{Field: "correct_option_id", Message: "must reference one of the options", Value: correctID, Rule: "correct_option_exists"})
	}
	return errs
}
