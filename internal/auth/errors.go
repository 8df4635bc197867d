package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidToken         = errors.New("invalid token")
	ErrExpiredToken         = errors.New("token has expired")
	ErrWrongTokenType       = errors.New("wrong token type")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenRevoked  = errors.New("refresh token has been revoked")
	ErrInactiveUser         = errors.New("user account is disabled")
)

// Keys used for errors that do not belong to a single input field.
const (
	FieldUser   = "user"
	FieldDetail = "detail"
)

// FieldError is one failed rule on one input field.
type FieldError struct {
	Field   string
	Code    string
	Message string
}

// ValidationError collects field-level failures. It is the only error kind a
// caller is expected to show back to the user; it renders as
// {"<field>": [{"message": "...", "code": "..."}]}.
type ValidationError struct {
	Errors []FieldError
}

// NewValidationError returns a ValidationError with a single failure.
func NewValidationError(field, code, message string) *ValidationError {
	v := &ValidationError{}
	v.Add(field, code, message)
	return v
}

func (v *ValidationError) Add(field, code, message string) {
	v.Errors = append(v.Errors, FieldError{Field: field, Code: code, Message: message})
}

func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.Errors) > 0
}

// HasCode reports whether any failure carries code.
func (v *ValidationError) HasCode(code string) bool {
	for _, fe := range v.Errors {
		if fe.Code == code {
			return true
		}
	}
	return false
}

// FieldCodes returns the codes recorded for field, in order.
func (v *ValidationError) FieldCodes(field string) []string {
	var codes []string
	for _, fe := range v.Errors {
		if fe.Field == field {
			codes = append(codes, fe.Code)
		}
	}
	return codes
}

// OrNil returns v as an error when it holds failures, nil otherwise.
func (v *ValidationError) OrNil() error {
	if v.HasErrors() {
		return v
	}
	return nil
}

func (v *ValidationError) Error() string {
	parts := make([]string, 0, len(v.Errors))
	for _, fe := range v.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s (%s)", fe.Field, fe.Message, fe.Code))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

type fieldMessage struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (v *ValidationError) MarshalJSON() ([]byte, error) {
	out := make(map[string][]fieldMessage, len(v.Errors))
	for _, fe := range v.Errors {
		out[fe.Field] = append(out[fe.Field], fieldMessage{Message: fe.Message, Code: fe.Code})
	}
	return json.Marshal(out)
}

// AsValidationError unwraps err to a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
