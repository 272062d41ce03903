package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dentprep/exam-service/internal/models"
)

var (
	optionIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,8}$`)
	slugPattern     = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	Rule    string      `json:"rule,omitempty"`
}

type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	if len(ve) == 1 {
		return fmt.Sprintf("validation failed: %s %s", ve[0].Field, ve[0].Message)
	}
	return fmt.Sprintf("validation failed: %d field errors", len(ve))
}

// Validator wraps go-playground/validator with the domain rules registered.
type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	registerDomainRules(v)
	return &Validator{validate: v}
}

// Validate returns nil or ValidationErrors.
func (v *Validator) Validate(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	if errs := ToValidationErrors(err); len(errs) > 0 {
		return errs
	}
	return err
}

// GetBusinessValidator returns a BusinessValidator sharing this validator.
func (v *Validator) GetBusinessValidator() *BusinessValidator {
	return &BusinessValidator{Validator: v}
}

// Var validates a single value against a tag expression.
func (v *Validator) Var(field interface{}, tag string) error {
	return v.validate.Var(field, tag)
}

// ToValidationErrors converts validator errors into ValidationErrors.
func ToValidationErrors(err error) ValidationErrors {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Message: errorMessage(fe),
			Value:   fe.Value(),
			Rule:    fe.Tag(),
		})
	}
	return out
}

func registerDomainRules(v *validator.Validate) {
	_ = v.RegisterValidation("difficulty_level", func(fl validator.FieldLevel) bool {
		return models.DifficultyLevel(fl.Field().String()).IsValid()
	})
	_ = v.RegisterValidation("quiz_mode", func(fl validator.FieldLevel) bool {
		switch models.QuizMode(fl.Field().String()) {
		case models.ModePractice, models.ModeExam:
			return true
		}
		return false
	})
	_ = v.RegisterValidation("generation_kind", func(fl validator.FieldLevel) bool {
		switch models.GenerationKind(fl.Field().String()) {
		case models.KindFlashcards, models.KindQuestions, models.KindSummary:
			return true
		}
		return false
	})
	_ = v.RegisterValidation("option_id", func(fl validator.FieldLevel) bool {
		return optionIDPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("leaderboard_period", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "weekly", "monthly", "all_time":
			return true
		}
		return false
	})
}

func errorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "difficulty_level":
		return "must be one of: easy, medium, hard"
	case "quiz_mode":
		return "must be one of: practice, exam"
	case "generation_kind":
		return "must be one of: flashcards, questions, summary"
	case "option_id":
		return "must be 1-8 alphanumeric characters"
	case "slug":
		return "must be lowercase words separated by hyphens"
	case "leaderboard_period":
		return "must be one of: weekly, monthly, all_time"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
