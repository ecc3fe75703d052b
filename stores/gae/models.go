//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"

	"github.com/panyam/bookauth"
)

// UserEntity is the Datastore entity for users. Datastore has no nullable
// strings, so absent values are stored empty.
type UserEntity struct {
	Key               *datastore.Key `datastore:"__key__"`
	Email             string         `datastore:"email"`
	Name              string         `datastore:"name,noindex"`
	PasswordHash      string         `datastore:"password_hash,noindex"`
	OAuthID           string         `datastore:"oauth_id"`
	ResetTokenHash    string         `datastore:"reset_token_hash"`
	ResetTokenExpires time.Time      `datastore:"reset_token_expires,noindex"`
	CreatedAt         time.Time      `datastore:"created_at"`
	UpdatedAt         time.Time      `datastore:"updated_at"`
	Version           int            `datastore:"version"`
}

func (e *UserEntity) ToUser() *bookauth.User {
	u := &bookauth.User{
		ID:        e.Key.Name,
		Email:     e.Email,
		Name:      e.Name,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	if e.PasswordHash != "" {
		u.PasswordHash = bookauth.StringPtr(e.PasswordHash)
	}
	if e.OAuthID != "" {
		u.OAuthID = bookauth.StringPtr(e.OAuthID)
	}
	if e.ResetTokenHash != "" {
		u.ResetTokenHash = bookauth.StringPtr(e.ResetTokenHash)
		exp := e.ResetTokenExpires
		u.ResetTokenExpires = &exp
	}
	return u
}

func UserToEntity(u *bookauth.User, key *datastore.Key) *UserEntity {
	e := &UserEntity{
		Key:       key,
		Email:     bookauth.NormalizeEmail(u.Email),
		Name:      u.Name,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
	if u.PasswordHash != nil {
		e.PasswordHash = *u.PasswordHash
	}
	if u.OAuthID != nil {
		e.OAuthID = *u.OAuthID
	}
	if u.ResetTokenHash != nil && u.ResetTokenExpires != nil {
		e.ResetTokenHash = *u.ResetTokenHash
		e.ResetTokenExpires = *u.ResetTokenExpires
	}
	return e
}

// MarkerEntity reserves a unique value (an email or provider identity) for a user
type MarkerEntity struct {
	UserID    string    `datastore:"user_id"`
	CreatedAt time.Time `datastore:"created_at,noindex"`
}

// ResetTokenEntity is keyed by the token digest
type ResetTokenEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	UserID    string         `datastore:"user_id"`
	ExpiresAt time.Time      `datastore:"expires_at"`
}
