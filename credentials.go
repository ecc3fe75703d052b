package bookauth

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// DefaultMinPasswordLength is used when no policy overrides it
const DefaultMinPasswordLength = 6

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Credentials is what a caller presents to authenticate. The set of kinds is
// closed: PasswordCredentials and ProviderProfile.
type Credentials interface {
	credentialKind() string
}

// PasswordCredentials is an email and plaintext password pair
type PasswordCredentials struct {
	Email    string
	Password string
}

func (PasswordCredentials) credentialKind() string { return "local" }

// ProviderProfile is the identity an OAuth provider hands back after the
// redirect handshake.
type ProviderProfile struct {
	Provider      string // "google", "github"
	ExternalID    string
	Email         string
	DisplayName   string
	EmailVerified bool
}

func (ProviderProfile) credentialKind() string { return "oauth" }

// QualifiedID is the value stored in User.OAuthID
func (p ProviderProfile) QualifiedID() string {
	if p.Provider == "" {
		return p.ExternalID
	}
	return p.Provider + ":" + p.ExternalID
}

// Authenticator dispatches credentials to the authenticator for their kind.
type Authenticator struct {
	Local *LocalAuthenticator
	OAuth *OAuthAuthenticator
}

// Authenticate returns the user for creds or the reason it could not.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (*User, error) {
	switch c := creds.(type) {
	case PasswordCredentials:
		if a.Local == nil {
			return nil, ErrUnsupportedCredentials
		}
		return a.Local.Authenticate(ctx, c.Email, c.Password)
	case *PasswordCredentials:
		return a.Authenticate(ctx, *c)
	case ProviderProfile:
		if a.OAuth == nil {
			return nil, ErrUnsupportedCredentials
		}
		return a.OAuth.AuthenticateOrProvision(ctx, c)
	case *ProviderProfile:
		return a.Authenticate(ctx, *c)
	}
	return nil, ErrUnsupportedCredentials
}

// ValidateEmail normalizes email and checks its format
func ValidateEmail(email string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", fieldErr("email", fmt.Errorf("%w: email is required", ErrMissingField))
	}
	if !emailRegex.MatchString(email) {
		return "", fieldErr("email", ErrInvalidEmail)
	}
	return email, nil
}

// ValidatePassword applies the minimum length policy and, when confirmation
// is not nil, checks that both entries match.
func ValidatePassword(password string, confirmation *string, minLen int) error {
	if minLen <= 0 {
		minLen = DefaultMinPasswordLength
	}
	if len(password) < minLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrPasswordTooShort, minLen)
	}
	if confirmation != nil && password != *confirmation {
		return ErrPasswordMismatch
	}
	return nil
}

func trimName(name string) string {
	return strings.TrimSpace(name)
}
