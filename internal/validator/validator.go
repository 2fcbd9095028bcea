package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/SAP-F-2025/article-service/internal/models"
)

// Validator wraps go-playground/validator with the knowledge-base rules
type Validator struct {
	validate *validator.Validate
}

// ValidationError represents a single field validation error
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

// New creates a validator with the custom tags registered
func New() *Validator {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	v := &Validator{validate: validate}
	v.registerRules()
	return v
}

// Validate checks s against its struct tags. The returned error is a
// ValidationErrors value or nil.
func (v *Validator) Validate(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		return v.ToValidationErrors(err)
	}
	return nil
}

// ToValidationErrors converts a go-playground error into ValidationErrors
func (v *Validator) ToValidationErrors(err error) ValidationErrors {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationErrors{{Field: "", Message: err.Error()}}
	}

	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Message: getErrorMessage(fe),
			Value:   fe.Value(),
			Rule:    fe.Tag(),
		})
	}
	return out
}

func (v *Validator) registerRules() {
	// Article classification level
	v.validate.RegisterValidation("article_level", func(fl validator.FieldLevel) bool {
		return models.ArticleLevel(fl.Field().String()).IsValid()
	})

	// Platform role name
	v.validate.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		_, err := models.ParseRole(fl.Field().String())
		return err == nil
	})

	// Group name (1-100 characters, single line)
	v.validate.RegisterValidation("group_name", func(fl validator.FieldLevel) bool {
		name := strings.TrimSpace(fl.Field().String())
		return len(name) >= 1 && len(name) <= 100 && !strings.ContainsAny(name, "\r\n")
	})

	// Multi-valued article fields are stored newline separated
	v.validate.RegisterValidation("single_line", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), "\r\n")
	})
}

// getErrorMessage returns user-friendly error messages
func getErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", err.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", err.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", err.Param())
	case "article_level":
		return "must be BEGINNER, INTERMEDIATE, ADVANCED or EXPERT"
	case "role":
		return "must be ADMIN, INSTRUCTOR or STUDENT"
	case "group_name":
		return "must be a single line between 1 and 100 characters"
	case "single_line":
		return "must not contain line breaks"
	default:
		return fmt.Sprintf("validation failed for rule '%s'", err.Tag())
	}
}
