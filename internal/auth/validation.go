package auth

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"github.com/redmonkez12/accounts-api/internal/httputil"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// Register custom validators
	if err := validate.RegisterValidation("username_format", validateUsernameFormat); err != nil {
		panic(err)
	}
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Email           string  `json:"email" validate:"required,email,max=254"`
	Username        string  `json:"username" validate:"required,max=150,username_format"`
	FirstName       string  `json:"first_name" validate:"max=150"`
	LastName        string  `json:"last_name" validate:"max=150"`
	Password        string  `json:"password" validate:"required"`
	PasswordConfirm string  `json:"password_confirm" validate:"required"`
	Avatar          *string `json:"avatar,omitempty"`
	Bio             string  `json:"bio"`
}

// LoginInput is the login payload. IP and UserAgent come from the request.
type LoginInput struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// validateUsernameFormat allows letters, digits and @ . + - _
func validateUsernameFormat(fl validator.FieldLevel) bool {
	username := fl.Field().String()

	if len(username) == 0 {
		return false
	}

	for _, char := range username {
		if unicode.IsLetter(char) || unicode.IsDigit(char) {
			continue
		}
		switch char {
		case '@', '.', '+', '-', '_':
			continue
		}
		return false
	}

	return true
}

// validateStruct runs the struct tags and converts failures to a ValidationError.
func validateStruct(s any) *ValidationError {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return NewValidationError(FieldDetail, httputil.CodeInvalid, err.Error())
	}

	v := &ValidationError{}
	for _, fe := range validationErrors {
		code, msg := formatFieldError(fe)
		v.Add(fe.Field(), code, msg)
	}
	return v
}

// formatFieldError maps a validator tag to an error code and message
func formatFieldError(fe validator.FieldError) (string, string) {
	switch fe.Tag() {
	case "required":
		return httputil.CodeRequired, "This field is required."
	case "email":
		return httputil.CodeInvalid, "Enter a valid email address."
	case "max":
		return httputil.CodeMaxLength, fmt.Sprintf("Ensure this field has no more than %s characters.", fe.Param())
	case "username_format":
		return httputil.CodeInvalid, "Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters."
	default:
		return httputil.CodeInvalid, "This value is invalid."
	}
}

// NormalizeEmail trims surrounding space and lowercases the domain part.
// The local part is left as typed.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at] + "@" + strings.ToLower(email[at+1:])
}

// NormalizeUsername applies NFKC so visually identical names compare equal.
func NormalizeUsername(username string) string {
	return norm.NFKC.String(strings.TrimSpace(username))
}

// ValidateRegistration checks shape rules, then password confirmation, then
// the strength policy. The policy only runs when both passwords match.
func ValidateRegistration(in *RegisterInput) error {
	in.Email = NormalizeEmail(in.Email)
	in.Username = NormalizeUsername(in.Username)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	if v := validateStruct(in); v != nil {
		return v
	}

	if in.Password != in.PasswordConfirm {
		return NewValidationError("password_confirm", httputil.CodePasswordMismatch, "Passwords do not match")
	}

	return ValidatePassword(in.Password, UserAttributes{
		Username:  in.Username,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
	}).OrNil()
}

// ValidateLogin checks the login payload shape.
func ValidateLogin(in *LoginInput) error {
	in.Email = NormalizeEmail(in.Email)

	if v := validateStruct(in); v != nil {
		return v
	}
	return nil
}
