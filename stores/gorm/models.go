//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	"github.com/panyam/bookauth"
)

// UserModel is the GORM model for users
type UserModel struct {
	ID                string     `gorm:"primaryKey;size:64"`
	Email             string     `gorm:"size:320;not null;uniqueIndex:idx_users_email"`
	Name              string     `gorm:"size:255"`
	PasswordHash      *string    `gorm:"size:255"`
	OAuthID           *string    `gorm:"column:oauth_id;size:320;uniqueIndex:idx_users_oauth_id"`
	ResetTokenHash    *string    `gorm:"size:64;index:idx_users_reset_token_hash"`
	ResetTokenExpires *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *bookauth.User {
	u := &bookauth.User{
		ID:                m.ID,
		Email:             m.Email,
		Name:              m.Name,
		PasswordHash:      m.PasswordHash,
		OAuthID:           m.OAuthID,
		ResetTokenHash:    m.ResetTokenHash,
		ResetTokenExpires: m.ResetTokenExpires,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	return u.Clone()
}

func UserModelFromUser(u *bookauth.User) *UserModel {
	c := u.Clone()
	m := &UserModel{
		ID:                c.ID,
		Email:             bookauth.NormalizeEmail(c.Email),
		Name:              c.Name,
		PasswordHash:      c.PasswordHash,
		OAuthID:           c.OAuthID,
		ResetTokenHash:    c.ResetTokenHash,
		ResetTokenExpires: c.ResetTokenExpires,
		CreatedAt:         c.CreatedAt.UTC(),
		UpdatedAt:         c.UpdatedAt.UTC(),
	}
	if m.ResetTokenExpires != nil {
		t := m.ResetTokenExpires.UTC()
		m.ResetTokenExpires = &t
	}
	return m
}
