// Package storetest holds the behaviour every bookauth.UserStore must show.
// Store packages run it from their own tests:
//
//	func TestUserStore(t *testing.T) {
//	    storetest.RunUserStoreTests(t, func(t *testing.T) bookauth.UserStore {
//	        return memory.NewUserStore()
//	    })
//	}
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/bookauth"
)

// NewStoreFunc returns an empty store. It is called once per subtest.
type NewStoreFunc func(t *testing.T) bookauth.UserStore

func localUser(email string) *bookauth.User {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &bookauth.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         "Ana",
		PasswordHash: bookauth.StringPtr("$2a$10$digest"),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func oauthUser(email, oauthID string) *bookauth.User {
	u := localUser(email)
	u.PasswordHash = nil
	u.OAuthID = bookauth.StringPtr(oauthID)
	return u
}

func RunUserStoreTests(t *testing.T, newStore NewStoreFunc) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		u := localUser("ana@example.com")
		require.NoError(t, s.CreateUser(ctx, u))

		got, err := s.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, "ana@example.com", got.Email)
		assert.Equal(t, "Ana", got.Name)
		require.NotNil(t, got.PasswordHash)
		assert.Equal(t, *u.PasswordHash, *got.PasswordHash)
		assert.Nil(t, got.OAuthID)
		assert.Nil(t, got.ResetTokenHash)

		byEmail, err := s.GetUserByEmail(ctx, "  ANA@Example.com ")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byEmail.ID)
	})

	t.Run("CreateNormalizesEmail", func(t *testing.T) {
		s := newStore(t)
		u := localUser("Mixed.Case@Example.com")
		require.NoError(t, s.CreateUser(ctx, u))
		got, err := s.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "mixed.case@example.com", got.Email)
	})

	t.Run("MissingUser", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetUserByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, bookauth.ErrUserNotFound)
		_, err = s.GetUserByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, bookauth.ErrUserNotFound)
		_, err = s.FindUserByOAuthIDOrEmail(ctx, "google:1", "nobody@example.com")
		assert.ErrorIs(t, err, bookauth.ErrUserNotFound)
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateUser(ctx, localUser("ana@example.com")))
		err := s.CreateUser(ctx, localUser("ANA@example.com"))
		assert.ErrorIs(t, err, bookauth.ErrDuplicateEmail)
	})

	t.Run("DuplicateProviderIdentity", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateUser(ctx, oauthUser("a@example.com", "google:1")))
		err := s.CreateUser(ctx, oauthUser("b@example.com", "google:1"))
		assert.ErrorIs(t, err, bookauth.ErrDuplicateProviderIdentity)
	})

	t.Run("RejectsUserWithoutCredential", func(t *testing.T) {
		s := newStore(t)
		u := localUser("ana@example.com")
		u.PasswordHash = nil
		assert.ErrorIs(t, s.CreateUser(ctx, u), bookauth.ErrMissingField)
	})

	t.Run("ReturnsCopies", func(t *testing.T) {
		s := newStore(t)
		u := localUser("ana@example.com")
		require.NoError(t, s.CreateUser(ctx, u))
		u.Name = "changed after create"

		got, err := s.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "Ana", got.Name)
		*got.PasswordHash = "tampered"

		again, err := s.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "$2a$10$digest", *again.PasswordHash)
	})

	t.Run("FindPrefersOAuthMatch", func(t *testing.T) {
		s := newStore(t)
		// the email row sorts first by id, so primary key order would pick it
		byEmail := localUser("ana@example.com")
		byEmail.ID = "00000000-0000-4000-8000-000000000001"
		byOAuth := oauthUser("other@example.com", "google:42")
		byOAuth.ID = "ffffffff-ffff-4fff-bfff-ffffffffffff"
		require.NoError(t, s.CreateUser(ctx, byEmail))
		require.NoError(t, s.CreateUser(ctx, byOAuth))

		got, err := s.FindUserByOAuthIDOrEmail(ctx, "google:42", "ana@example.com")
		require.NoError(t, err)
		assert.Equal(t, byOAuth.ID, got.ID)

		got, err = s.FindUserByOAuthIDOrEmail(ctx, "google:99", "ANA@example.com")
		require.NoError(t, err)
		assert.Equal(t, byEmail.ID, got.ID)
	})

	t.Run("LinkOAuthID", func(t *testing.T) {
		s := newStore(t)
		u := localUser("ana@example.com")
		require.NoError(t, s.CreateUser(ctx, u))

		linked, err := s.LinkOAuthID(ctx, u.ID, "google:7")
		require.NoError(t, err)
		require.NotNil(t, linked.OAuthID)
		assert.Equal(t, "google:7", *linked.OAuthID)
		assert.True(t, linked.HasPassword(), "linking keeps the password")

		found, err := s.FindUserByOAuthIDOrEmail(ctx, "google:7", "")
		require.NoError(t, err)
		assert.Equal(t, u.ID, found.ID)

		_, err = s.LinkOAuthID(ctx, u.ID, "github:8")
		assert.ErrorIs(t, err, bookauth.ErrAlreadyLinked)

		_, err = s.LinkOAuthID(ctx, uuid.NewString(), "github:8")
		assert.ErrorIs(t, err, bookauth.ErrUserNotFound)
	})

	t.Run("LinkOAuthIDOwnedByAnother", func(t *testing.T) {
		s := newStore(t)
		owner := oauthUser("owner@example.com", "google:7")
		other := localUser("ana@example.com")
		require.NoError(t, s.CreateUser(ctx, owner))
		require.NoError(t, s.CreateUser(ctx, other))

		_, err := s.LinkOAuthID(ctx, other.ID, "google:7")
		assert.ErrorIs(t, err, bookauth.ErrDuplicateProviderIdentity)
	})

	t.Run("ResetTokenLifecycle", func(t *testing.T) {
		s := newStore(t)
		u := localUser("ana@example.com")
		require.NoError(t, s.CreateUser(ctx, u))
		now := time.Now()

		require.NoError(t, s.SetResetToken(ctx, u.ID, "digest-1", now.Add(time.Hour)))
		got, err := s.GetUserByResetToken(ctx, "digest-1", now)
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.True(t, got.HasActiveResetToken(now))

		_, err = s.GetUserByResetToken(ctx, "digest-unknown", now)
		assert.ErrorIs(t, err, bookauth.ErrTokenInvalidOrExpired)

		redeemed, err := s.RedeemResetToken(ctx, "digest-1", now, "new-digest")
		require.NoError(t, err)
		assert.Equal(t, "new-digest", *redeemed.PasswordHash)
		assert.Nil(t, redeemed.ResetTokenHash)
		assert.Nil(t, redeemed.ResetTokenExpires)

		_, err = s.RedeemResetToken(ctx, "digest-1", now, "another-digest")
		assert.ErrorIs(t, err, bookauth.ErrTokenInvalidOrExpired)

		stored, err := s.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "new-digest", *stored.PasswordHash)
	})

	t.Run("ExpiredTokenFails", func(t *testing.T) {
		s := newStore(t)
		u := localUser("ana@example.com")
		require.NoError(t, s.CreateUser(ctx, u))
		now := time.Now()
		require.NoError(t, s.SetResetToken(ctx, u.ID, "digest-1", now.Add(time.Hour)))

		later := now.Add(time.Hour + time.Second)
		_, err := s.GetUserByResetToken(ctx, "digest-1", later)
		assert.ErrorIs(t, err, bookauth.ErrTokenInvalidOrExpired)
		_, err = s.RedeemResetToken(ctx, "digest-1", later, "new-digest")
		assert.ErrorIs(t, err, bookauth.ErrTokenInvalidOrExpired)

		stored, err := s.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "$2a$10$digest", *stored.PasswordHash)
	})

	t.Run("NewTokenReplacesOld", func(t *testing.T) {
		s := newStore(t)
		u := localUser("ana@example.com")
		require.NoError(t, s.CreateUser(ctx, u))
		now := time.Now()
		require.NoError(t, s.SetResetToken(ctx, u.ID, "digest-1", now.Add(time.Hour)))
		require.NoError(t, s.SetResetToken(ctx, u.ID, "digest-2", now.Add(time.Hour)))

		_, err := s.RedeemResetToken(ctx, "digest-1", now, "x")
		assert.ErrorIs(t, err, bookauth.ErrTokenInvalidOrExpired)
		_, err = s.RedeemResetToken(ctx, "digest-2", now, "y")
		assert.NoError(t, err)
	})

	t.Run("SetResetTokenUnknownUser", func(t *testing.T) {
		s := newStore(t)
		err := s.SetResetToken(ctx, uuid.NewString(), "digest", time.Now().Add(time.Hour))
		assert.ErrorIs(t, err, bookauth.ErrUserNotFound)
	})

	t.Run("ConcurrentRedeemHasOneWinner", func(t *testing.T) {
		s := newStore(t)
		u := localUser("ana@example.com")
		require.NoError(t, s.CreateUser(ctx, u))
		now := time.Now()
		require.NoError(t, s.SetResetToken(ctx, u.ID, "digest-race", now.Add(time.Hour)))

		const n = 8
		var wg sync.WaitGroup
		results := make([]error, n)
		for i := range n {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, results[i] = s.RedeemResetToken(ctx, "digest-race", now, fmt.Sprintf("digest-%d", i))
			}(i)
		}
		wg.Wait()

		winners := 0
		winner := -1
		for i, err := range results {
			if err == nil {
				winners++
				winner = i
			} else {
				assert.ErrorIs(t, err, bookauth.ErrTokenInvalidOrExpired)
			}
		}
		require.Equal(t, 1, winners)
		stored, err := s.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("digest-%d", winner), *stored.PasswordHash)
	})

	t.Run("ConcurrentCreateSameEmail", func(t *testing.T) {
		s := newStore(t)
		const n = 6
		var wg sync.WaitGroup
		results := make([]error, n)
		for i := range n {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = s.CreateUser(ctx, localUser("race@example.com"))
			}(i)
		}
		wg.Wait()

		created := 0
		for _, err := range results {
			if err == nil {
				created++
			} else {
				assert.ErrorIs(t, err, bookauth.ErrDuplicateEmail)
			}
		}
		assert.Equal(t, 1, created)
	})
}
