package httputil

// Machine-readable error codes returned in ErrorResponse.Code and in
// field-level validation errors.
const (
	CodeInvalidRequestBody = "invalid_request_body"
	CodeInternalError      = "internal_error"
	CodeTooManyRequests    = "too_many_requests"

	// Authentication
	CodeTokenNotValid     = "token_not_valid"
	CodeMissingAuth       = "not_authenticated"
	CodeInvalidAuthHeader = "bad_authorization_header"
	CodeUserNotFound      = "user_not_found"
	CodeUserInactive      = "user_inactive"

	// Field validation
	CodeRequired              = "required"
	CodeInvalid               = "invalid"
	CodeMaxLength             = "max_length"
	CodeUnique                = "unique"
	CodePasswordMismatch      = "password_mismatch"
	CodePasswordTooShort      = "password_too_short"
	CodePasswordTooSimilar    = "password_too_similar"
	CodePasswordTooCommon     = "password_too_common"
	CodePasswordNumeric       = "password_entirely_numeric"
	CodeInvalidCredentials    = "invalid_credentials"
	CodeInactiveAccount       = "inactive_account"
	CodeInvalidImage          = "invalid_image"
	CodeFileTooLarge          = "file_too_large"
	CodeAvatarUploadsDisabled = "avatar_uploads_disabled"
)
