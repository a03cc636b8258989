package handlers

import (
	"errors"
	"fmt"

	"github.com/BradenHooton/authcore/internal/models"
	"github.com/go-playground/validator/v10"
)

// Global validator instance (reused across all handlers)
var validate = models.Validator()

// ValidateRequest validates a request DTO and returns a ValidationError
// listing every failing field
func ValidateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return models.NewValidationError("invalid request", "request_invalid")
	}

	violations := make([]string, 0, len(ve))
	for _, fe := range ve {
		violations = append(violations, fe.Field()+": "+formatValidationError(fe))
	}
	return models.NewValidationError("invalid request", "request_invalid", violations...)
}

// formatValidationError converts a validator FieldError to a user-friendly message
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must have a minimum of %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must have a maximum of %s characters", fe.Param())
	case "uuid":
		return "must be a valid identifier"
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
