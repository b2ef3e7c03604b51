package service

import (
	"errors"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/sakif/plausch/internal/apperror"
	"github.com/sakif/plausch/internal/auth"
)

// Validation limits for registration input.
const (
	MaxDisplayNameLength = 100
	MinPasswordLength    = 6
)

type registerInput struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

// Validate checks the registration payload. The display name is counted in
// characters, the password in bytes because bcrypt only reads 72 of them.
func (r registerInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.DisplayName, validation.Required, validation.RuneLength(1, MaxDisplayNameLength)),
		validation.Field(&r.Password, validation.Required, validation.Length(MinPasswordLength, auth.MaxPasswordBytes)),
	)
}

type emailInput struct {
	Email string `json:"email"`
}

func (r emailInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

// validationError turns ozzo's per-field error map into an apperror. The
// first failing field (alphabetically) is reported as Field; the message
// lists all of them.
func validationError(err error) error {
	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	fields := make([]string, 0, len(fieldErrs))
	for name := range fieldErrs {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return apperror.ValidationFailed(fields[0], fieldErrs.Error())
}
