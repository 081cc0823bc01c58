package api

import (
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// A Validator validates decoded request bodies.
type Validator interface {
	Struct(s any) error
}

// NewValidator returns the validator used for request bodies. Besides the
// built-in tags it understands notblank, which rejects whitespace-only
// strings.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	return v
}
