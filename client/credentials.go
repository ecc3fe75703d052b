// Package client talks to a bookauth server's JSON API from Go programs such
// as command line tools. It keeps the bearer token per server in a
// CredentialStore and attaches it to outgoing requests.
package client

import (
	"time"
)

// ServerCredential is the session token a server issued at login, plus
// the account it belongs to.
type ServerCredential struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id,omitempty"`
	UserEmail string    `json:"user_email,omitempty"`
	UserName  string    `json:"user_name,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired reports whether the server will already have dropped the session
func (c *ServerCredential) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// IsExpiringSoon returns true if the token expires within the given duration.
// There is no refresh grant; callers log in again.
func (c *ServerCredential) IsExpiringSoon(within time.Duration) bool {
	return time.Now().Add(within).After(c.ExpiresAt)
}

// CredentialStore keeps one credential per server, keyed by the server's
// scheme://host. GetCredential returns nil, nil when nothing is stored.
// Writes may be buffered until Save.
type CredentialStore interface {
	GetCredential(serverURL string) (*ServerCredential, error)
	SetCredential(serverURL string, cred *ServerCredential) error
	RemoveCredential(serverURL string) error
	ListServers() ([]string, error)
	Save() error
}
