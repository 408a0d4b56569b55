package validator

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"product_radar/internal/model"
)

// Validator wraps go-playground/validator for ingestion payloads.
type Validator struct {
	validate *validator.Validate
}

// New creates a Validator.
func New() *Validator {
	return &Validator{
		validate: validator.New(),
	}
}

// ValidateStruct validates a struct based on its tags.
func (v *Validator) ValidateStruct(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ValidateSignal checks tag constraints first, then kind/payload consistency.
func (v *Validator) ValidateSignal(u model.SignalUpdate) error {
	if err := v.validate.Struct(u); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidSignal, err)
	}
	return u.Validate()
}
