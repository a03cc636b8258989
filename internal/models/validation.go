package models

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// EmailRule is applied to every email an operation accepts. Request DTOs
// carry the same rule in their validate tags.
const EmailRule = "required,email,max=254"

// Global validator instance, shared by the HTTP layer and the services
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names rather than Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Validator returns the shared validator
func Validator() *validator.Validate {
	return validate
}

// ValidateEmail checks an already normalized email against EmailRule
func ValidateEmail(email string) error {
	err := validate.Var(email, EmailRule)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		switch ve[0].Tag() {
		case "required":
			return NewValidationError("email is required", "email_missing")
		case "max":
			return NewValidationError("email is too long", "email_too_long")
		}
	}
	return NewValidationError("email address is invalid", "email_invalid")
}
