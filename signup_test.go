package bookauth_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	ba "github.com/panyam/bookauth"
	"github.com/panyam/bookauth/stores/memory"
)

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name      string
		userName  string
		email     string
		password  string
		wantErr   error
		wantField string
	}{
		{"missing name", "  ", "ana@example.com", "secret1", ba.ErrMissingField, "name"},
		{"missing email", "Ana", "", "secret1", ba.ErrMissingField, "email"},
		{"bad email", "Ana", "ana-at-example", "secret1", ba.ErrInvalidEmail, "email"},
		{"short password", "Ana", "ana@example.com", "12345", ba.ErrPasswordTooShort, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewUserStore()
			_, err := newRegistrar(store).Register(context.Background(), tt.userName, tt.email, tt.password)
			expectErr(t, err, tt.wantErr)
			if field := ba.ToAuthError(err).Field; field != tt.wantField {
				t.Fatalf("expected field %q, got %q", tt.wantField, field)
			}
			if n := len(store.Users()); n != 0 {
				t.Fatalf("expected nothing stored, got %d users", n)
			}
		})
	}
}

func TestRegisterMinimumLength(t *testing.T) {
	ctx := context.Background()
	store := memory.NewUserStore()
	r := &ba.Registrar{Store: store, Hasher: fastHasher(), MinPasswordLength: 10}

	_, err := r.Register(ctx, "Ana", "ana@example.com", "secret123")
	expectErr(t, err, ba.ErrPasswordTooShort)
	if _, err := r.Register(ctx, "Ana", "ana@example.com", "secret1234"); err != nil {
		t.Fatalf("register: %v", err)
	}

	// six characters is the default minimum
	if _, err := newRegistrar(store).Register(ctx, "Ben", "ben@example.com", "sixsix"); err != nil {
		t.Fatalf("register at default minimum: %v", err)
	}
}

func TestRegisterDuplicateEmailIsRecoverable(t *testing.T) {
	ctx := context.Background()
	store := memory.NewUserStore()
	r := newRegistrar(store)
	if _, err := r.Register(ctx, "Ana", "ana@example.com", "secret1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := r.Register(ctx, "Imposter", " ANA@example.com", "secret2")
	expectErr(t, err, ba.ErrDuplicateEmail)
	authErr := ba.ToAuthError(err)
	if authErr.Code != ba.ErrCodeEmailExists || authErr.Status != http.StatusConflict {
		t.Fatalf("unexpected client error %+v", authErr)
	}

	if _, err := r.Register(ctx, "Ben", "ben@example.com", "secret2"); err != nil {
		t.Fatalf("other emails must still register: %v", err)
	}
}

func TestToAuthErrorCodes(t *testing.T) {
	tests := []struct {
		err    error
		code   string
		status int
	}{
		{ba.ErrUserNotFound, ba.ErrCodeInvalidCreds, http.StatusUnauthorized},
		{ba.ErrNoPasswordSet, ba.ErrCodeInvalidCreds, http.StatusUnauthorized},
		{ba.ErrBadCredentials, ba.ErrCodeInvalidCreds, http.StatusUnauthorized},
		{ba.ErrDuplicateEmail, ba.ErrCodeEmailExists, http.StatusConflict},
		{ba.ErrDuplicateProviderIdentity, ba.ErrCodeProviderExists, http.StatusConflict},
		{ba.ErrAccountLinkRequired, ba.ErrCodeLinkRequired, http.StatusConflict},
		{ba.ErrProvider, ba.ErrCodeProviderError, http.StatusUnauthorized},
		{ba.ErrTokenInvalidOrExpired, ba.ErrCodeInvalidToken, http.StatusBadRequest},
		{ba.ErrPasswordTooShort, ba.ErrCodeWeakPassword, http.StatusBadRequest},
		{ba.ErrPasswordMismatch, ba.ErrCodePasswordMismatch, http.StatusBadRequest},
		{ba.ErrInvalidEmail, ba.ErrCodeInvalidEmail, http.StatusBadRequest},
		{fmt.Errorf("lookup: %w", ba.ErrTokenInvalidOrExpired), ba.ErrCodeInvalidToken, http.StatusBadRequest},
		{errors.New("connection refused"), ba.ErrCodeServerError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			got := ba.ToAuthError(tt.err)
			if got.Code != tt.code || got.Status != tt.status {
				t.Fatalf("ToAuthError(%v) = %s/%d, want %s/%d", tt.err, got.Code, got.Status, tt.code, tt.status)
			}
		})
	}

	if ba.ToAuthError(nil) != nil {
		t.Error("expected nil for nil")
	}
	custom := ba.NewAuthError("custom", "Custom", "field")
	if ba.ToAuthError(fmt.Errorf("wrapped: %w", custom)) != custom {
		t.Error("expected an AuthError to pass through")
	}
	if msg := ba.ToAuthError(errors.New("pq: password authentication failed")).Message; msg == "pq: password authentication failed" {
		t.Error("internal error text must not reach the client")
	}
}

func TestUserValidate(t *testing.T) {
	now := newClock().Now()
	valid := func() *ba.User {
		return &ba.User{ID: "u1", Email: "ana@example.com", PasswordHash: ba.StringPtr("digest")}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid user: %v", err)
	}

	noCreds := valid()
	noCreds.PasswordHash = nil
	if err := noCreds.Validate(); !errors.Is(err, ba.ErrMissingField) {
		t.Errorf("expected missing credential error, got %v", err)
	}

	oauthOnly := noCreds.Clone()
	oauthOnly.OAuthID = ba.StringPtr("google:1")
	if err := oauthOnly.Validate(); err != nil {
		t.Errorf("oauth only user: %v", err)
	}

	halfToken := valid()
	halfToken.ResetTokenHash = ba.StringPtr("digest")
	if err := halfToken.Validate(); err == nil {
		t.Error("expected a token hash without expiry to fail")
	}
	halfToken.ResetTokenExpires = &now
	if err := halfToken.Validate(); err != nil {
		t.Errorf("paired token fields: %v", err)
	}
}
