package bookauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Registrar creates local password accounts.
type Registrar struct {
	Store             UserStore
	Hasher            PasswordHasher
	MinPasswordLength int
	Logger            *slog.Logger
	Now               func() time.Time
}

// Register validates the input and creates the user. A taken email comes
// back as ErrDuplicateEmail, which is recoverable.
func (r *Registrar) Register(ctx context.Context, name, email, password string) (*User, error) {
	name = trimName(name)
	if name == "" {
		return nil, fieldErr("name", fmt.Errorf("%w: name is required", ErrMissingField))
	}
	email, err := ValidateEmail(email)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(password, nil, r.MinPasswordLength); err != nil {
		return nil, err
	}

	hasher := r.Hasher
	if hasher == nil {
		hasher = NewBcryptHasher(0)
	}
	digest, err := hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}
	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: StringPtr(digest),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.Store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	loggerOr(r.Logger).Info("created local user", "user_id", user.ID)
	return user, nil
}
