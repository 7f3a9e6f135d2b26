package services

import (
	"fmt"

	"github.com/BradenHooton/warden/models"
	"github.com/go-playground/validator/v10"
)

// Shared validator instance (reused across all services)
var validate = validator.New()

// validateInput validates an input struct using go-playground/validator.
// The first failing field is returned as a models.ValidationError.
func validateInput(input interface{}) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}

	if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
		return &models.ValidationError{
			Field:   ve[0].Field(),
			Message: formatValidationError(ve[0]),
		}
	}
	return fmt.Errorf("validation failed: %w", err)
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
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
