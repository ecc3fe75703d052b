// Package memory keeps users in process memory. It is meant for tests and
// single instance development servers; the fs store uses it as its in-memory
// image of the users file.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/panyam/bookauth"
)

// UserStore implements bookauth.UserStore. All methods are safe for
// concurrent use and never hand out pointers to stored users.
type UserStore struct {
	mu      sync.RWMutex
	byID    map[string]*bookauth.User
	byEmail map[string]string
	byOAuth map[string]string
	byReset map[string]string
}

func NewUserStore() *UserStore {
	return &UserStore{
		byID:    map[string]*bookauth.User{},
		byEmail: map[string]string{},
		byOAuth: map[string]string{},
		byReset: map[string]string{},
	}
}

// NewUserStoreFrom builds a store holding users. It fails if the users break
// a uniqueness rule.
func NewUserStoreFrom(users []*bookauth.User) (*UserStore, error) {
	s := NewUserStore()
	for _, u := range users {
		if err := s.insert(u.Clone()); err != nil {
			return nil, fmt.Errorf("user %s: %w", u.ID, err)
		}
	}
	return s, nil
}

// Users returns copies of every user ordered by creation time
func (s *UserStore) Users() []*bookauth.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*bookauth.User, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, u.Clone())
	}
	slices.SortFunc(out, func(a, b *bookauth.User) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (s *UserStore) CreateUser(ctx context.Context, user *bookauth.User) error {
	u := user.Clone()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(u)
}

// insert expects s.mu to be held (or s not yet shared)
func (s *UserStore) insert(u *bookauth.User) error {
	u.Email = bookauth.NormalizeEmail(u.Email)
	if err := u.Validate(); err != nil {
		return err
	}
	if _, ok := s.byID[u.ID]; ok {
		return fmt.Errorf("user id %s already exists", u.ID)
	}
	if _, ok := s.byEmail[u.Email]; ok {
		return bookauth.ErrDuplicateEmail
	}
	if u.HasOAuth() {
		if _, ok := s.byOAuth[*u.OAuthID]; ok {
			return bookauth.ErrDuplicateProviderIdentity
		}
		s.byOAuth[*u.OAuthID] = u.ID
	}
	if u.ResetTokenHash != nil {
		s.byReset[*u.ResetTokenHash] = u.ID
	}
	s.byID[u.ID] = u
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (*bookauth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, bookauth.ErrUserNotFound
	}
	return u.Clone(), nil
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*bookauth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[bookauth.NormalizeEmail(email)]
	if !ok {
		return nil, bookauth.ErrUserNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *UserStore) FindUserByOAuthIDOrEmail(ctx context.Context, oauthID, email string) (*bookauth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if oauthID != "" {
		if id, ok := s.byOAuth[oauthID]; ok {
			return s.byID[id].Clone(), nil
		}
	}
	if id, ok := s.byEmail[bookauth.NormalizeEmail(email)]; ok {
		return s.byID[id].Clone(), nil
	}
	return nil, bookauth.ErrUserNotFound
}

func (s *UserStore) LinkOAuthID(ctx context.Context, userID, oauthID string) (*bookauth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return nil, bookauth.ErrUserNotFound
	}
	if u.HasOAuth() {
		return nil, bookauth.ErrAlreadyLinked
	}
	if owner, ok := s.byOAuth[oauthID]; ok && owner != userID {
		return nil, bookauth.ErrDuplicateProviderIdentity
	}
	u.OAuthID = bookauth.StringPtr(oauthID)
	u.UpdatedAt = time.Now()
	s.byOAuth[oauthID] = userID
	return u.Clone(), nil
}

func (s *UserStore) SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return bookauth.ErrUserNotFound
	}
	if u.ResetTokenHash != nil {
		delete(s.byReset, *u.ResetTokenHash)
	}
	exp := expiresAt
	u.ResetTokenHash = bookauth.StringPtr(tokenHash)
	u.ResetTokenExpires = &exp
	u.UpdatedAt = time.Now()
	s.byReset[tokenHash] = userID
	return nil
}

func (s *UserStore) GetUserByResetToken(ctx context.Context, tokenHash string, now time.Time) (*bookauth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := s.liveTokenHolder(tokenHash, now)
	if u == nil {
		return nil, bookauth.ErrTokenInvalidOrExpired
	}
	return u.Clone(), nil
}

func (s *UserStore) RedeemResetToken(ctx context.Context, tokenHash string, now time.Time, newPasswordHash string) (*bookauth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.liveTokenHolder(tokenHash, now)
	if u == nil {
		return nil, bookauth.ErrTokenInvalidOrExpired
	}
	delete(s.byReset, tokenHash)
	u.PasswordHash = bookauth.StringPtr(newPasswordHash)
	u.ResetTokenHash = nil
	u.ResetTokenExpires = nil
	u.UpdatedAt = now
	return u.Clone(), nil
}

func (s *UserStore) liveTokenHolder(tokenHash string, now time.Time) *bookauth.User {
	id, ok := s.byReset[tokenHash]
	if !ok {
		return nil
	}
	u := s.byID[id]
	if u == nil || !u.HasActiveResetToken(now) {
		return nil
	}
	return u
}
