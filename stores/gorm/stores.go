//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/panyam/bookauth"
)

// Open connects to PostgreSQL through pgx
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// AutoMigrate runs database migrations for the bookauth tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&UserModel{})
}

// UserStore implements bookauth.UserStore using GORM. Uniqueness comes from
// the table's unique indexes and reset redemption is a conditional UPDATE, so
// several instances can share one database.
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) CreateUser(ctx context.Context, user *bookauth.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	model := UserModelFromUser(user)
	now := time.Now().UTC()
	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}
	if model.UpdatedAt.IsZero() {
		model.UpdatedAt = model.CreatedAt
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return ClassifyError(err)
	}
	return nil
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (*bookauth.User, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*bookauth.User, error) {
	return s.first(ctx, "email = ?", bookauth.NormalizeEmail(email))
}

// FindUserByOAuthIDOrEmail looks up the oauth_id first; the email row is
// only consulted when no user holds the identity.
func (s *UserStore) FindUserByOAuthIDOrEmail(ctx context.Context, oauthID, email string) (*bookauth.User, error) {
	if oauthID != "" {
		user, err := s.first(ctx, "oauth_id = ?", oauthID)
		if !errors.Is(err, bookauth.ErrUserNotFound) {
			return user, err
		}
	}
	return s.GetUserByEmail(ctx, email)
}

func (s *UserStore) LinkOAuthID(ctx context.Context, userID, oauthID string) (*bookauth.User, error) {
	res := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ? AND oauth_id IS NULL", userID).
		Updates(map[string]any{"oauth_id": oauthID, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return nil, ClassifyError(res.Error)
	}
	if res.RowsAffected == 0 {
		// either missing or already linked
		if _, err := s.GetUserByID(ctx, userID); err != nil {
			return nil, err
		}
		return nil, bookauth.ErrAlreadyLinked
	}
	return s.GetUserByID(ctx, userID)
}

func (s *UserStore) SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"reset_token_hash":    tokenHash,
			"reset_token_expires": expiresAt.UTC(),
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return bookauth.ErrUserNotFound
	}
	return nil
}

func (s *UserStore) GetUserByResetToken(ctx context.Context, tokenHash string, now time.Time) (*bookauth.User, error) {
	user, err := s.first(ctx, "reset_token_hash = ? AND reset_token_expires > ?", tokenHash, now.UTC())
	if errors.Is(err, bookauth.ErrUserNotFound) {
		return nil, bookauth.ErrTokenInvalidOrExpired
	}
	return user, err
}

// RedeemResetToken updates only the row that still holds the live token. Of
// several concurrent redemptions exactly one sees a row affected.
func (s *UserStore) RedeemResetToken(ctx context.Context, tokenHash string, now time.Time, newPasswordHash string) (*bookauth.User, error) {
	holder, err := s.GetUserByResetToken(ctx, tokenHash, now)
	if err != nil {
		return nil, err
	}
	res := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ? AND reset_token_hash = ? AND reset_token_expires > ?", holder.ID, tokenHash, now.UTC()).
		Updates(map[string]any{
			"password_hash":       newPasswordHash,
			"reset_token_hash":    nil,
			"reset_token_expires": nil,
			"updated_at":          now.UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, bookauth.ErrTokenInvalidOrExpired
	}
	return s.GetUserByID(ctx, holder.ID)
}

func (s *UserStore) first(ctx context.Context, query string, args ...any) (*bookauth.User, error) {
	var model UserModel
	err := s.db.WithContext(ctx).Where(query, args...).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, bookauth.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return model.ToUser(), nil
}

// ClassifyError maps unique index violations onto the bookauth sentinels.
// PostgreSQL reports them as SQLSTATE 23505 with the index name, SQLite as
// "UNIQUE constraint failed: users.<column>".
func ClassifyError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return duplicateFor(pgErr.ConstraintName, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return duplicateFor(msg, err)
	}
	return err
}

func duplicateFor(detail string, err error) error {
	switch {
	case strings.Contains(detail, "oauth_id"):
		return fmt.Errorf("%w: %v", bookauth.ErrDuplicateProviderIdentity, err)
	case strings.Contains(detail, "email"):
		return fmt.Errorf("%w: %v", bookauth.ErrDuplicateEmail, err)
	}
	return err
}
