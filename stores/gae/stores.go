//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	"github.com/panyam/bookauth"
)

// Kind constants for Datastore entities
const (
	KindUser       = "User"
	KindUserEmail  = "UserEmail"
	KindUserOAuth  = "UserOAuth"
	KindResetToken = "ResetToken"
)

// UserStore implements bookauth.UserStore using Google Cloud Datastore
type UserStore struct {
	client    *datastore.Client
	namespace string

	// MaxAttempts bounds transaction retries on contention. Defaults to 10
	MaxAttempts int
}

// NewUserStore creates a new Datastore-backed UserStore
func NewUserStore(client *datastore.Client, namespace string) *UserStore {
	return &UserStore{
		client:    client,
		namespace: namespace,
	}
}

func (s *UserStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *UserStore) runInTransaction(ctx context.Context, fn func(tx *datastore.Transaction) error) error {
	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = 10
	}
	_, err := s.client.RunInTransaction(ctx, fn, datastore.MaxAttempts(attempts))
	return err
}

func (s *UserStore) CreateUser(ctx context.Context, user *bookauth.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	now := time.Now()
	userKey := s.namespacedKey(KindUser, user.ID)
	entity := UserToEntity(user, userKey)
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	if entity.UpdatedAt.IsZero() {
		entity.UpdatedAt = entity.CreatedAt
	}
	emailKey := s.namespacedKey(KindUserEmail, entity.Email)

	return s.runInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing UserEntity
		if err := tx.Get(userKey, &existing); err == nil {
			return fmt.Errorf("user id %s already exists", user.ID)
		} else if err != datastore.ErrNoSuchEntity {
			return err
		}
		if err := s.reserve(tx, emailKey, user.ID, bookauth.ErrDuplicateEmail); err != nil {
			return err
		}
		if entity.OAuthID != "" {
			if err := s.reserve(tx, s.namespacedKey(KindUserOAuth, entity.OAuthID), user.ID, bookauth.ErrDuplicateProviderIdentity); err != nil {
				return err
			}
		}
		if entity.ResetTokenHash != "" {
			tokenKey := s.namespacedKey(KindResetToken, entity.ResetTokenHash)
			if _, err := tx.Put(tokenKey, &ResetTokenEntity{UserID: user.ID, ExpiresAt: entity.ResetTokenExpires}); err != nil {
				return err
			}
		}
		_, err := tx.Put(userKey, entity)
		return err
	})
}

// reserve writes a marker for userID, failing with dupErr if another user
// already holds it.
func (s *UserStore) reserve(tx *datastore.Transaction, key *datastore.Key, userID string, dupErr error) error {
	var marker MarkerEntity
	err := tx.Get(key, &marker)
	if err == nil && marker.UserID != userID {
		return dupErr
	}
	if err != nil && err != datastore.ErrNoSuchEntity {
		return err
	}
	_, err = tx.Put(key, &MarkerEntity{UserID: userID, CreatedAt: time.Now()})
	return err
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (*bookauth.User, error) {
	var entity UserEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindUser, id), &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, bookauth.ErrUserNotFound
		}
		return nil, err
	}
	return entity.ToUser(), nil
}

func (s *UserStore) userByMarker(ctx context.Context, kind, name string) (*bookauth.User, error) {
	if name == "" {
		return nil, bookauth.ErrUserNotFound
	}
	var marker MarkerEntity
	if err := s.client.Get(ctx, s.namespacedKey(kind, name), &marker); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, bookauth.ErrUserNotFound
		}
		return nil, err
	}
	return s.GetUserByID(ctx, marker.UserID)
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*bookauth.User, error) {
	return s.userByMarker(ctx, KindUserEmail, bookauth.NormalizeEmail(email))
}

func (s *UserStore) FindUserByOAuthIDOrEmail(ctx context.Context, oauthID, email string) (*bookauth.User, error) {
	user, err := s.userByMarker(ctx, KindUserOAuth, oauthID)
	if !errors.Is(err, bookauth.ErrUserNotFound) {
		return user, err
	}
	return s.GetUserByEmail(ctx, email)
}

func (s *UserStore) LinkOAuthID(ctx context.Context, userID, oauthID string) (*bookauth.User, error) {
	userKey := s.namespacedKey(KindUser, userID)
	var linked *bookauth.User
	err := s.runInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity UserEntity
		if err := tx.Get(userKey, &entity); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return bookauth.ErrUserNotFound
			}
			return err
		}
		if entity.OAuthID != "" {
			return bookauth.ErrAlreadyLinked
		}
		if err := s.reserve(tx, s.namespacedKey(KindUserOAuth, oauthID), userID, bookauth.ErrDuplicateProviderIdentity); err != nil {
			return err
		}
		entity.OAuthID = oauthID
		entity.UpdatedAt = time.Now()
		entity.Version++
		if _, err := tx.Put(userKey, &entity); err != nil {
			return err
		}
		linked = entity.ToUser()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return linked, nil
}

func (s *UserStore) SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	userKey := s.namespacedKey(KindUser, userID)
	return s.runInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity UserEntity
		if err := tx.Get(userKey, &entity); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return bookauth.ErrUserNotFound
			}
			return err
		}
		if entity.ResetTokenHash != "" && entity.ResetTokenHash != tokenHash {
			if err := tx.Delete(s.namespacedKey(KindResetToken, entity.ResetTokenHash)); err != nil {
				return err
			}
		}
		tokenKey := s.namespacedKey(KindResetToken, tokenHash)
		if _, err := tx.Put(tokenKey, &ResetTokenEntity{UserID: userID, ExpiresAt: expiresAt}); err != nil {
			return err
		}
		entity.ResetTokenHash = tokenHash
		entity.ResetTokenExpires = expiresAt
		entity.UpdatedAt = time.Now()
		entity.Version++
		_, err := tx.Put(userKey, &entity)
		return err
	})
}

func (s *UserStore) GetUserByResetToken(ctx context.Context, tokenHash string, now time.Time) (*bookauth.User, error) {
	var token ResetTokenEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindResetToken, tokenHash), &token); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, bookauth.ErrTokenInvalidOrExpired
		}
		return nil, err
	}
	if !now.Before(token.ExpiresAt) {
		return nil, bookauth.ErrTokenInvalidOrExpired
	}
	user, err := s.GetUserByID(ctx, token.UserID)
	if errors.Is(err, bookauth.ErrUserNotFound) {
		return nil, bookauth.ErrTokenInvalidOrExpired
	}
	if err != nil {
		return nil, err
	}
	if user.ResetTokenHash == nil || *user.ResetTokenHash != tokenHash {
		return nil, bookauth.ErrTokenInvalidOrExpired
	}
	return user, nil
}

// RedeemResetToken deletes the token entity and updates the user in one
// transaction. Concurrent redemptions conflict on the token key; the losers
// retry, find it gone and get ErrTokenInvalidOrExpired.
func (s *UserStore) RedeemResetToken(ctx context.Context, tokenHash string, now time.Time, newPasswordHash string) (*bookauth.User, error) {
	tokenKey := s.namespacedKey(KindResetToken, tokenHash)
	var redeemed *bookauth.User
	err := s.runInTransaction(ctx, func(tx *datastore.Transaction) error {
		var token ResetTokenEntity
		if err := tx.Get(tokenKey, &token); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return bookauth.ErrTokenInvalidOrExpired
			}
			return err
		}
		if !now.Before(token.ExpiresAt) {
			return bookauth.ErrTokenInvalidOrExpired
		}
		userKey := s.namespacedKey(KindUser, token.UserID)
		var entity UserEntity
		if err := tx.Get(userKey, &entity); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return bookauth.ErrTokenInvalidOrExpired
			}
			return err
		}
		if entity.ResetTokenHash != tokenHash {
			return bookauth.ErrTokenInvalidOrExpired
		}
		entity.PasswordHash = newPasswordHash
		entity.ResetTokenHash = ""
		entity.ResetTokenExpires = time.Time{}
		entity.UpdatedAt = now
		entity.Version++
		if _, err := tx.Put(userKey, &entity); err != nil {
			return err
		}
		if err := tx.Delete(tokenKey); err != nil {
			return err
		}
		redeemed = entity.ToUser()
		return nil
	})
	if errors.Is(err, datastore.ErrConcurrentTransaction) {
		// every attempt lost to another redemption
		return nil, bookauth.ErrTokenInvalidOrExpired
	}
	if err != nil {
		return nil, err
	}
	return redeemed, nil
}

// PurgeExpiredResetTokens removes reset tokens that expired before now and
// returns how many were removed. Expired tokens are already unusable; this
// only keeps the ResetToken kind small.
func (s *UserStore) PurgeExpiredResetTokens(ctx context.Context, now time.Time) (int, error) {
	query := datastore.NewQuery(KindResetToken).
		FilterField("expires_at", "<=", now).
		KeysOnly()
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}

	var keys []*datastore.Key
	it := s.client.Run(ctx, query)
	for {
		key, err := it.Next(nil)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, err
		}
		keys = append(keys, key)
	}

	purged := 0
	for _, key := range keys {
		err := s.runInTransaction(ctx, func(tx *datastore.Transaction) error {
			var token ResetTokenEntity
			if err := tx.Get(key, &token); err != nil {
				if err == datastore.ErrNoSuchEntity {
					return nil
				}
				return err
			}
			userKey := s.namespacedKey(KindUser, token.UserID)
			var entity UserEntity
			if err := tx.Get(userKey, &entity); err == nil && entity.ResetTokenHash == key.Name {
				entity.ResetTokenHash = ""
				entity.ResetTokenExpires = time.Time{}
				entity.Version++
				if _, err := tx.Put(userKey, &entity); err != nil {
					return err
				}
			} else if err != nil && err != datastore.ErrNoSuchEntity {
				return err
			}
			return tx.Delete(key)
		})
		if err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}
