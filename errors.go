package bookauth

import (
	"errors"
	"net/http"
)

var (
	// local authentication
	ErrUserNotFound   = errors.New("user not found")
	ErrNoPasswordSet  = errors.New("no password set for this account")
	ErrBadCredentials = errors.New("invalid credentials")

	// oauth
	ErrProvider               = errors.New("identity provider error")
	ErrAlreadyLinked          = errors.New("account already linked to a provider")
	ErrAccountLinkRequired    = errors.New("an account with this email already exists")
	ErrUnsupportedCredentials = errors.New("unsupported credentials")

	// password reset
	ErrTokenInvalidOrExpired = errors.New("invalid or expired token")
	ErrPasswordTooShort      = errors.New("password too short")
	ErrPasswordMismatch      = errors.New("passwords do not match")

	// registration and linking
	ErrDuplicateEmail            = errors.New("email already registered")
	ErrDuplicateProviderIdentity = errors.New("provider identity already registered")
	ErrInvalidEmail              = errors.New("invalid email")
	ErrMissingField              = errors.New("missing field")
)

// Error codes returned to clients
const (
	ErrCodeMissingField     = "missing_field"
	ErrCodeInvalidEmail     = "invalid_email"
	ErrCodeInvalidCreds     = "invalid_credentials"
	ErrCodeEmailExists      = "email_exists"
	ErrCodeProviderExists   = "provider_exists"
	ErrCodeWeakPassword     = "weak_password"
	ErrCodePasswordMismatch = "password_mismatch"
	ErrCodeInvalidToken     = "invalid_token"
	ErrCodeProviderError    = "provider_error"
	ErrCodeLinkRequired     = "link_required"
	ErrCodeServerError      = "server_error"
)

// FieldError attaches the offending form field to a validation error.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return e.Err.Error() }
func (e *FieldError) Unwrap() error { return e.Err }

func fieldErr(field string, err error) error {
	return &FieldError{Field: field, Err: err}
}

// AuthError is the client facing form of a failed auth operation.
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Field   string `json:"field,omitempty"`

	// Status is the HTTP status used when the error is rendered as JSON
	Status int `json:"-"`
}

func (e *AuthError) Error() string { return e.Message }

// NewAuthError creates an AuthError with a 400 status.
func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field, Status: http.StatusBadRequest}
}

// AuthErrorHandler lets the host application render an auth error itself (for
// example by re-rendering the form with a message). It returns true if the
// error was handled.
type AuthErrorHandler func(err *AuthError, w http.ResponseWriter, r *http.Request) bool

// ToAuthError maps an error from the core onto what the requester may see.
// The three local login failures collapse into one generic message so the
// response never reveals whether an email is registered.
func ToAuthError(err error) *AuthError {
	var authErr *AuthError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &authErr):
		return authErr
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrNoPasswordSet), errors.Is(err, ErrBadCredentials):
		e := NewAuthError(ErrCodeInvalidCreds, "Invalid email or password", "password")
		e.Status = http.StatusUnauthorized
		return e
	case errors.Is(err, ErrDuplicateEmail):
		e := NewAuthError(ErrCodeEmailExists, "An account with this email already exists", "email")
		e.Status = http.StatusConflict
		return e
	case errors.Is(err, ErrDuplicateProviderIdentity):
		e := NewAuthError(ErrCodeProviderExists, "This sign-in account is already linked to another user", "")
		e.Status = http.StatusConflict
		return e
	case errors.Is(err, ErrAccountLinkRequired):
		e := NewAuthError(ErrCodeLinkRequired, "An account with this email already exists. Log in with your password first.", "email")
		e.Status = http.StatusConflict
		return e
	case errors.Is(err, ErrProvider), errors.Is(err, ErrAlreadyLinked), errors.Is(err, ErrUnsupportedCredentials):
		e := NewAuthError(ErrCodeProviderError, "Could not sign in with the external provider", "")
		e.Status = http.StatusUnauthorized
		return e
	case errors.Is(err, ErrTokenInvalidOrExpired):
		return NewAuthError(ErrCodeInvalidToken, "This reset link is invalid or has expired", "token")
	case errors.Is(err, ErrPasswordTooShort):
		return NewAuthError(ErrCodeWeakPassword, err.Error(), "password")
	case errors.Is(err, ErrPasswordMismatch):
		return NewAuthError(ErrCodePasswordMismatch, "Passwords do not match", "confirmation")
	case errors.Is(err, ErrInvalidEmail):
		return NewAuthError(ErrCodeInvalidEmail, "Invalid email format", "email")
	case errors.Is(err, ErrMissingField):
		field := ""
		var fe *FieldError
		if errors.As(err, &fe) {
			field = fe.Field
		}
		return NewAuthError(ErrCodeMissingField, err.Error(), field)
	}
	e := NewAuthError(ErrCodeServerError, "Something went wrong. Please try again later.", "")
	e.Status = http.StatusInternalServerError
	return e
}
