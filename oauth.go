package bookauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LinkPolicy decides what happens when an OAuth login carries the email of an
// existing account but not that account's provider identity.
type LinkPolicy int

const (
	// LinkByEmail silently attaches the provider identity. Anyone controlling
	// the email at the provider gains OAuth login to the local account.
	LinkByEmail LinkPolicy = iota

	// LinkVerifiedEmail links only when the provider asserts the email is verified
	LinkVerifiedEmail

	// LinkNever refuses with ErrAccountLinkRequired
	LinkNever
)

// ParseLinkPolicy accepts "email", "verified_email" and "never".
func ParseLinkPolicy(s string) (LinkPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "email":
		return LinkByEmail, nil
	case "verified_email", "verified":
		return LinkVerifiedEmail, nil
	case "never":
		return LinkNever, nil
	}
	return LinkByEmail, fmt.Errorf("unknown link policy %q", s)
}

// OAuthAuthenticator reconciles a provider profile with a local user.
type OAuthAuthenticator struct {
	Store      UserStore
	LinkPolicy LinkPolicy
	Logger     *slog.Logger
	Now        func() time.Time
}

// AuthenticateOrProvision finds the user by OAuth id or email, links the
// provider to an existing unlinked account (subject to LinkPolicy), or
// creates a new password-less account.
func (a *OAuthAuthenticator) AuthenticateOrProvision(ctx context.Context, profile ProviderProfile) (*User, error) {
	if strings.TrimSpace(profile.ExternalID) == "" {
		return nil, fmt.Errorf("%w: profile has no id", ErrProvider)
	}
	email := NormalizeEmail(profile.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: provider did not return an email", ErrProvider)
	}
	oauthID := profile.QualifiedID()

	user, err := a.resolve(ctx, profile, oauthID, email)
	if errors.Is(err, ErrDuplicateEmail) || errors.Is(err, ErrDuplicateProviderIdentity) {
		// lost a race with a concurrent first login; the row exists now
		user, err = a.resolve(ctx, profile, oauthID, email)
	}
	return user, err
}

func (a *OAuthAuthenticator) resolve(ctx context.Context, profile ProviderProfile, oauthID, email string) (*User, error) {
	logger := loggerOr(a.Logger)

	user, err := a.Store.FindUserByOAuthIDOrEmail(ctx, oauthID, email)
	if errors.Is(err, ErrUserNotFound) {
		return a.provision(ctx, profile, oauthID, email)
	}
	if err != nil {
		return nil, err
	}

	if user.HasOAuth() && *user.OAuthID == oauthID {
		return user, nil
	}
	// from here the match is by email only
	if err := a.checkEmailMatch(profile); err != nil {
		return nil, err
	}
	if user.HasOAuth() {
		logger.Warn("oauth login matched by email on an account linked to another identity",
			"user_id", user.ID, "provider", profile.Provider)
		return user, nil
	}

	linked, err := a.Store.LinkOAuthID(ctx, user.ID, oauthID)
	if errors.Is(err, ErrAlreadyLinked) {
		// someone else linked first, reload and use what is there
		return a.Store.GetUserByID(ctx, user.ID)
	}
	if err != nil {
		return nil, err
	}
	logger.Warn("linked oauth identity to existing account by email",
		"user_id", linked.ID, "provider", profile.Provider)
	return linked, nil
}

// checkEmailMatch applies LinkPolicy to a login that found its account by
// email rather than by provider identity.
func (a *OAuthAuthenticator) checkEmailMatch(profile ProviderProfile) error {
	switch a.LinkPolicy {
	case LinkNever:
		return ErrAccountLinkRequired
	case LinkVerifiedEmail:
		if !profile.EmailVerified {
			return ErrAccountLinkRequired
		}
	}
	return nil
}

func (a *OAuthAuthenticator) provision(ctx context.Context, profile ProviderProfile, oauthID, email string) (*User, error) {
	now := a.now()
	name := trimName(profile.DisplayName)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	user := &User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      name,
		OAuthID:   StringPtr(oauthID),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.Store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	loggerOr(a.Logger).Info("provisioned user from oauth", "user_id", user.ID, "provider", profile.Provider)
	return user, nil
}

func (a *OAuthAuthenticator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}
