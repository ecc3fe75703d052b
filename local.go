package bookauth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// LocalAuthenticator checks email and password against the UserStore.
type LocalAuthenticator struct {
	Store  UserStore
	Hasher PasswordHasher
	Logger *slog.Logger

	dummyOnce   sync.Once
	dummyDigest string
}

// NewLocalAuthenticator creates a LocalAuthenticator using bcrypt at default cost
// if hasher is nil.
func NewLocalAuthenticator(store UserStore, hasher PasswordHasher) *LocalAuthenticator {
	if hasher == nil {
		hasher = NewBcryptHasher(0)
	}
	return &LocalAuthenticator{Store: store, Hasher: hasher}
}

// Authenticate returns ErrUserNotFound, ErrNoPasswordSet or ErrBadCredentials
// on failure. Callers must not show the distinction to the requester; use
// ToAuthError which folds them into one message.
func (a *LocalAuthenticator) Authenticate(ctx context.Context, email, password string) (*User, error) {
	logger := loggerOr(a.Logger)
	email = NormalizeEmail(email)

	user, err := a.Store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// keep timing close to the found case
			a.Hasher.Verify(password, a.dummy())
			logger.Info("login failed", "reason", "user_not_found")
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if !user.HasPassword() {
		logger.Info("login failed", "reason", "no_password", "user_id", user.ID)
		return nil, ErrNoPasswordSet
	}

	if !a.Hasher.Verify(password, *user.PasswordHash) {
		logger.Info("login failed", "reason", "bad_password", "user_id", user.ID)
		return nil, ErrBadCredentials
	}
	return user, nil
}

func (a *LocalAuthenticator) dummy() string {
	a.dummyOnce.Do(func() {
		a.dummyDigest, _ = a.Hasher.Hash("not-a-real-password")
	})
	return a.dummyDigest
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
