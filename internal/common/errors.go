package common

import (
	"errors"
	"strings"
)

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Generic service failure. Storage details never travel past the service layer.
	ErrInternal = errors.New("internal error")

	// Input errors.
	ErrValidation      = errors.New("validation failed")
	ErrDuplicateEmail  = errors.New("user with this email already exists")
	ErrInvalidPassword = errors.New("current password is incorrect")

	// Authentication errors.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidToken       = errors.New("invalid token")

	// Token lifecycle errors.
	ErrInvalidRefreshToken   = errors.New("refresh token is invalid or expired")
	ErrInvalidOrExpiredToken = errors.New("password reset token is invalid or has expired")

	// External collaborators.
	ErrPredictionUnavailable = errors.New("prediction service unavailable")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates field-level problems. It matches ErrValidation
// under errors.Is.
type ValidationError struct {
	Fields []FieldError
}

// Add records a problem for field.
func (v *ValidationError) Add(field, message string) {
	v.Fields = append(v.Fields, FieldError{Field: field, Message: message})
}

// Err returns v when at least one field was rejected and nil otherwise.
func (v *ValidationError) Err() error {
	if len(v.Fields) == 0 {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	parts := make([]string, 0, len(v.Fields))
	for _, f := range v.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (v *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
