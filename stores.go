package bookauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// User is the identity record behind every login.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`

	// PasswordHash is nil for accounts created through an OAuth provider
	PasswordHash *string `json:"password_hash,omitempty"`

	// OAuthID is the provider qualified external identity ("google:1234")
	OAuthID *string `json:"oauth_id,omitempty"`

	// ResetTokenHash and ResetTokenExpires are set together while a
	// password reset is outstanding and cleared together on redemption.
	ResetTokenHash    *string    `json:"reset_token_hash,omitempty"`
	ResetTokenExpires *time.Time `json:"reset_token_expires,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasPassword returns true if the user can log in with a local password
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// HasOAuth returns true if an external identity is linked to the user
func (u *User) HasOAuth() bool {
	return u.OAuthID != nil && *u.OAuthID != ""
}

// HasActiveResetToken reports whether a reset token is outstanding at now.
func (u *User) HasActiveResetToken(now time.Time) bool {
	return u.ResetTokenHash != nil && u.ResetTokenExpires != nil && now.Before(*u.ResetTokenExpires)
}

// Clone returns a deep copy so stores never hand out their internal state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.PasswordHash = cloneString(u.PasswordHash)
	out.OAuthID = cloneString(u.OAuthID)
	out.ResetTokenHash = cloneString(u.ResetTokenHash)
	if u.ResetTokenExpires != nil {
		t := *u.ResetTokenExpires
		out.ResetTokenExpires = &t
	}
	return &out
}

// Validate checks the invariants every stored user must satisfy: an id, an
// email, at least one way to log in, and reset token fields set together.
func (u *User) Validate() error {
	if u.ID == "" {
		return fieldErr("id", fmt.Errorf("%w: user id is required", ErrMissingField))
	}
	if NormalizeEmail(u.Email) == "" {
		return fieldErr("email", fmt.Errorf("%w: email is required", ErrMissingField))
	}
	if !u.HasPassword() && !u.HasOAuth() {
		return fmt.Errorf("%w: user needs a password or a linked identity", ErrMissingField)
	}
	if (u.ResetTokenHash == nil) != (u.ResetTokenExpires == nil) {
		return errors.New("reset token hash and expiry must be set together")
	}
	return nil
}

// Profile returns the fields that are safe to show to the user or to other
// parts of the application.
func (u *User) Profile() map[string]any {
	return map[string]any{
		"id":           u.ID,
		"email":        u.Email,
		"name":         u.Name,
		"has_password": u.HasPassword(),
		"has_oauth":    u.HasOAuth(),
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr is a small helper for the nullable string columns.
func StringPtr(s string) *string { return &s }

// NormalizeEmail trims and lower-cases an email. Every lookup and every write
// goes through it so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserStore is the credential store. Implementations must enforce uniqueness
// of Email and OAuthID themselves and must make RedeemResetToken a single
// conditional update, since several request handlers run concurrently and no
// application level lock is taken.
type UserStore interface {
	// CreateUser inserts a new user. Returns ErrDuplicateEmail or
	// ErrDuplicateProviderIdentity on a uniqueness clash.
	CreateUser(ctx context.Context, user *User) error

	// GetUserByID returns ErrUserNotFound if there is no such user
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByEmail returns ErrUserNotFound if there is no such user
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// FindUserByOAuthIDOrEmail returns the user whose OAuthID or Email matches.
	// When two different users match, the OAuthID match wins.
	FindUserByOAuthIDOrEmail(ctx context.Context, oauthID, email string) (*User, error)

	// LinkOAuthID attaches an external identity to a user that has none.
	// Returns ErrAlreadyLinked if the user already carries one and
	// ErrDuplicateProviderIdentity if another user owns oauthID.
	LinkOAuthID(ctx context.Context, userID, oauthID string) (*User, error)

	// SetResetToken stores a reset token digest and expiry, replacing any
	// outstanding token for the user.
	SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error

	// GetUserByResetToken returns the user holding tokenHash if it has not
	// expired at now. Returns ErrTokenInvalidOrExpired otherwise.
	GetUserByResetToken(ctx context.Context, tokenHash string, now time.Time) (*User, error)

	// RedeemResetToken sets the new password hash and clears the reset token
	// in one conditional update. If the token no longer matches or has expired
	// at now, nothing changes and ErrTokenInvalidOrExpired is returned.
	RedeemResetToken(ctx context.Context, tokenHash string, now time.Time, newPasswordHash string) (*User, error)
}
