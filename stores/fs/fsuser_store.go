package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/panyam/bookauth"
	"github.com/panyam/bookauth/stores/memory"
)

// usersFile is the on-disk document
type usersFile struct {
	Version int              `json:"version"`
	Users   []*bookauth.User `json:"users"`
}

// FSUserStore implements bookauth.UserStore on a single JSON file.
//
// # File Structure
//
//	{StoragePath}/
//	├── users.json        # {"version": 1, "users": [...]}
//	└── users.json.lock   # advisory lock
//
// # Concurrency Model
//
// Every operation takes the file lock (shared for reads, exclusive for
// writes), loads the document, applies the change and writes it back with an
// atomic rename. This makes uniqueness checks and reset token redemption
// safe across goroutines and across processes sharing StoragePath. It is
// meant for small single host deployments; every call reads the whole file.
type FSUserStore struct {
	StoragePath string

	// How long to wait for the file lock. Defaults to 5s
	LockTimeout time.Duration

	mu sync.RWMutex
}

// NewFSUserStore creates a store under storagePath
func NewFSUserStore(storagePath string) *FSUserStore {
	return &FSUserStore{StoragePath: storagePath}
}

func (s *FSUserStore) usersPath() string {
	return filepath.Join(s.StoragePath, "users.json")
}

func (s *FSUserStore) lockTimeout() time.Duration {
	if s.LockTimeout > 0 {
		return s.LockTimeout
	}
	return 5 * time.Second
}

// view runs fn against a snapshot of the file under a shared lock
func (s *FSUserStore) view(ctx context.Context, fn func(*memory.UserStore) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.withFileLock(ctx, false, fn)
}

// update runs fn under the exclusive lock and saves the result if fn succeeds
func (s *FSUserStore) update(ctx context.Context, fn func(*memory.UserStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withFileLock(ctx, true, fn)
}

func (s *FSUserStore) withFileLock(ctx context.Context, write bool, fn func(*memory.UserStore) error) error {
	if err := os.MkdirAll(s.StoragePath, 0755); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout())
	defer cancel()

	fileLock := flock.New(s.usersPath() + ".lock")
	var locked bool
	var err error
	if write {
		locked, err = fileLock.TryLockContext(ctx, 10*time.Millisecond)
	} else {
		locked, err = fileLock.TryRLockContext(ctx, 10*time.Millisecond)
	}
	if err != nil {
		return fmt.Errorf("acquire users lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("acquire users lock: timed out")
	}
	defer fileLock.Unlock()

	mem, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(mem); err != nil {
		return err
	}
	if !write {
		return nil
	}
	return s.save(mem)
}

func (s *FSUserStore) load() (*memory.UserStore, error) {
	data, err := os.ReadFile(s.usersPath())
	if os.IsNotExist(err) {
		return memory.NewUserStore(), nil
	}
	if err != nil {
		return nil, err
	}
	var doc usersFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("corrupt users file %s: %w", s.usersPath(), err)
	}
	return memory.NewUserStoreFrom(doc.Users)
}

func (s *FSUserStore) save(mem *memory.UserStore) error {
	data, err := json.MarshalIndent(usersFile{Version: 1, Users: mem.Users()}, "", "  ")
	if err != nil {
		return err
	}
	return replaceFile(s.usersPath(), data)
}

func (s *FSUserStore) CreateUser(ctx context.Context, user *bookauth.User) error {
	return s.update(ctx, func(m *memory.UserStore) error {
		return m.CreateUser(ctx, user)
	})
}

func (s *FSUserStore) GetUserByID(ctx context.Context, id string) (user *bookauth.User, err error) {
	err = s.view(ctx, func(m *memory.UserStore) error {
		user, err = m.GetUserByID(ctx, id)
		return err
	})
	return user, err
}

func (s *FSUserStore) GetUserByEmail(ctx context.Context, email string) (user *bookauth.User, err error) {
	err = s.view(ctx, func(m *memory.UserStore) error {
		user, err = m.GetUserByEmail(ctx, email)
		return err
	})
	return user, err
}

func (s *FSUserStore) FindUserByOAuthIDOrEmail(ctx context.Context, oauthID, email string) (user *bookauth.User, err error) {
	err = s.view(ctx, func(m *memory.UserStore) error {
		user, err = m.FindUserByOAuthIDOrEmail(ctx, oauthID, email)
		return err
	})
	return user, err
}

func (s *FSUserStore) LinkOAuthID(ctx context.Context, userID, oauthID string) (user *bookauth.User, err error) {
	err = s.update(ctx, func(m *memory.UserStore) error {
		user, err = m.LinkOAuthID(ctx, userID, oauthID)
		return err
	})
	return user, err
}

func (s *FSUserStore) SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	return s.update(ctx, func(m *memory.UserStore) error {
		return m.SetResetToken(ctx, userID, tokenHash, expiresAt)
	})
}

func (s *FSUserStore) GetUserByResetToken(ctx context.Context, tokenHash string, now time.Time) (user *bookauth.User, err error) {
	err = s.view(ctx, func(m *memory.UserStore) error {
		user, err = m.GetUserByResetToken(ctx, tokenHash, now)
		return err
	})
	return user, err
}

func (s *FSUserStore) RedeemResetToken(ctx context.Context, tokenHash string, now time.Time, newPasswordHash string) (user *bookauth.User, err error) {
	err = s.update(ctx, func(m *memory.UserStore) error {
		user, err = m.RedeemResetToken(ctx, tokenHash, now, newPasswordHash)
		return err
	})
	return user, err
}
