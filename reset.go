package bookauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// PasswordReset runs the forgot-password protocol:
//
//	NoActiveToken -> TokenIssued -> Redeemed | Expired -> NoActiveToken
//
// Only the SHA-256 digest of a token is stored. Issuing a new token replaces
// the previous one, and redemption clears it in the same store update that
// sets the new password.
type PasswordReset struct {
	Store       UserStore
	Hasher      PasswordHasher
	EmailSender SendEmail

	// FallbackSender is tried when EmailSender fails
	FallbackSender SendEmail

	// BaseURL prefixes reset links, e.g. "https://books.example.com"
	BaseURL string

	// ResetPath defaults to "/reset-password/"
	ResetPath string

	TokenExpiry       time.Duration
	MinPasswordLength int

	// DeliveryTimeout bounds one delivery attempt including the fallback.
	// Defaults to 30 seconds.
	DeliveryTimeout time.Duration

	Logger *slog.Logger
	Now    func() time.Time

	deliveries sync.WaitGroup
}

// RequestReset issues a reset token if email belongs to a user and mails the
// link in the background, so known and unknown emails take the same time to
// answer. Unknown emails and delivery failures return nil; only store
// failures produce an error.
func (p *PasswordReset) RequestReset(ctx context.Context, email string) error {
	logger := loggerOr(p.Logger)
	email = NormalizeEmail(email)
	if email == "" {
		return nil
	}

	link, user, err := p.IssueToken(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		logger.Info("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}

	if p.EmailSender == nil {
		logger.Error("password reset issued but no email sender configured", "user_id", user.ID)
		return nil
	}

	// the request context ends with the response
	deliveryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.deliveryTimeout())
	p.deliveries.Add(1)
	go func() {
		defer p.deliveries.Done()
		defer cancel()
		p.deliver(deliveryCtx, user, link)
	}()
	return nil
}

// Wait blocks until every reset email queued so far has been delivered or
// has failed.
func (p *PasswordReset) Wait() {
	p.deliveries.Wait()
}

func (p *PasswordReset) deliver(ctx context.Context, user *User, link string) {
	logger := loggerOr(p.Logger)
	sendErr := p.EmailSender.SendPasswordResetEmail(ctx, user.Email, link)
	if sendErr == nil {
		logger.Info("password reset email sent", "user_id", user.ID)
		return
	}
	logger.Error("error sending reset email", "user_id", user.ID, "err", sendErr)

	if p.FallbackSender != nil {
		if err := p.FallbackSender.SendPasswordResetEmail(ctx, user.Email, link); err != nil {
			logger.Error("fallback reset delivery failed", "user_id", user.ID, "err", err)
		}
	}
}

// IssueToken creates a new token for the user with this email and returns the
// reset link. It is also the operator fallback when mail cannot be delivered.
func (p *PasswordReset) IssueToken(ctx context.Context, email string) (string, *User, error) {
	user, err := p.Store.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return "", nil, err
	}

	token, err := GenerateSecureToken()
	if err != nil {
		return "", nil, err
	}
	expiresAt := p.now().Add(p.tokenExpiry())
	if err := p.Store.SetResetToken(ctx, user.ID, HashToken(token), expiresAt); err != nil {
		return "", nil, fmt.Errorf("failed to store reset token: %w", err)
	}
	return p.ResetLink(token), user, nil
}

// ResetLink builds the URL that carries token
func (p *PasswordReset) ResetLink(token string) string {
	path := p.ResetPath
	if path == "" {
		path = "/reset-password/"
	}
	return strings.TrimSuffix(p.BaseURL, "/") + path + token
}

// CheckToken returns the user a live token belongs to. Wrong and expired
// tokens both give ErrTokenInvalidOrExpired.
func (p *PasswordReset) CheckToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrTokenInvalidOrExpired
	}
	return p.Store.GetUserByResetToken(ctx, HashToken(token), p.now())
}

// Redeem sets a new password using token. The store update is conditional on
// the token still matching and being unexpired, so a token can only ever be
// redeemed once even under concurrent requests.
func (p *PasswordReset) Redeem(ctx context.Context, token, password, confirmation string) (*User, error) {
	if err := ValidatePassword(password, &confirmation, p.MinPasswordLength); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrTokenInvalidOrExpired
	}

	hasher := p.Hasher
	if hasher == nil {
		hasher = NewBcryptHasher(0)
	}
	digest, err := hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user, err := p.Store.RedeemResetToken(ctx, HashToken(token), p.now(), digest)
	if err != nil {
		return nil, err
	}
	loggerOr(p.Logger).Info("password reset completed", "user_id", user.ID)
	return user, nil
}

func (p *PasswordReset) deliveryTimeout() time.Duration {
	if p.DeliveryTimeout > 0 {
		return p.DeliveryTimeout
	}
	return 30 * time.Second
}

func (p *PasswordReset) tokenExpiry() time.Duration {
	if p.TokenExpiry > 0 {
		return p.TokenExpiry
	}
	return TokenExpiryPasswordReset
}

func (p *PasswordReset) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
