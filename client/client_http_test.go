package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/panyam/bookauth"
	"github.com/panyam/bookauth/stores/memory"
)

// linkCatcher keeps the reset links the server would have mailed
type linkCatcher struct {
	mu    sync.Mutex
	links []string
	reset *bookauth.PasswordReset
}

func (c *linkCatcher) SendPasswordResetEmail(ctx context.Context, to string, resetLink string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.links = append(c.links, resetLink)
	return nil
}

func (c *linkCatcher) lastToken(t *testing.T) string {
	// mail goes out in the background
	c.reset.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.links) == 0 {
		t.Fatal("no reset link was sent")
	}
	link := c.links[len(c.links)-1]
	return link[strings.LastIndex(link, "/")+1:]
}

// newBookAuthServer runs a real bookauth handler over a memory store
func newBookAuthServer(t *testing.T) (*httptest.Server, *linkCatcher) {
	t.Helper()
	mail := &linkCatcher{}
	auth := (&bookauth.BookAuth{
		Store:       memory.NewUserStore(),
		Hasher:      bookauth.NewBcryptHasher(bcrypt.MinCost),
		EmailSender: mail,
		BaseURL:     "https://books.example.com",
		Sessions:    &bookauth.SessionManager{JWTSecretKey: "client-test-secret"},
	}).EnsureDefaults()
	mail.reset = auth.PasswordReset()
	server := httptest.NewServer(auth.Handler())
	t.Cleanup(server.Close)
	return server, mail
}

func TestAuthClient_RegisterLoginMe(t *testing.T) {
	server, _ := newBookAuthServer(t)
	store := newMockCredentialStore()
	client := NewAuthClient(server.URL, store)
	ctx := context.Background()

	cred, err := client.Register(ctx, "Ana", "Ana@Example.com", "hunter22")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if cred.Token == "" || cred.UserEmail != "ana@example.com" || cred.UserName != "Ana" {
		t.Fatalf("unexpected credential %+v", cred)
	}
	if !cred.ExpiresAt.After(time.Now()) {
		t.Errorf("ExpiresAt = %v, want a future time", cred.ExpiresAt)
	}
	if stored, _ := store.GetCredential(server.URL); stored == nil || stored.Token != cred.Token {
		t.Fatal("credential not stored")
	}

	profile, err := client.Me(ctx)
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if profile.ID != cred.UserID || !profile.HasPassword || profile.HasOAuth {
		t.Errorf("unexpected profile %+v", profile)
	}

	// a fresh client with no credential logs in again
	other := NewAuthClient(server.URL, newMockCredentialStore())
	if _, err := other.Me(ctx); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("Me() before login error = %v, want ErrNotLoggedIn", err)
	}
	if _, err := other.Login(ctx, "ana@example.com", "hunter22"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !other.IsLoggedIn() {
		t.Error("IsLoggedIn() = false after login")
	}
}

func TestAuthClient_APIErrors(t *testing.T) {
	server, _ := newBookAuthServer(t)
	client := NewAuthClient(server.URL, newMockCredentialStore())
	ctx := context.Background()

	if _, err := client.Register(ctx, "Ana", "ana@example.com", "hunter22"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tests := []struct {
		name   string
		call   func() error
		status int
		code   string
	}{
		{"wrong password", func() error {
			_, err := client.Login(ctx, "ana@example.com", "wrong-password")
			return err
		}, http.StatusUnauthorized, "invalid_credentials"},
		{"unknown email", func() error {
			_, err := client.Login(ctx, "nobody@example.com", "hunter22")
			return err
		}, http.StatusUnauthorized, "invalid_credentials"},
		{"duplicate email", func() error {
			_, err := client.Register(ctx, "Ana Again", "ANA@example.com", "hunter22")
			return err
		}, http.StatusConflict, "email_exists"},
		{"weak password", func() error {
			_, err := client.Register(ctx, "Bo", "bo@example.com", "123")
			return err
		}, http.StatusBadRequest, "weak_password"},
		{"bad reset token", func() error {
			return client.ResetPassword(ctx, "not-a-token", "newpass1", "newpass1")
		}, 0, "invalid_token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr *APIError
			if err := tt.call(); !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if tt.status != 0 && apiErr.Status != tt.status {
				t.Errorf("Status = %d, want %d", apiErr.Status, tt.status)
			}
			if apiErr.Code != tt.code {
				t.Errorf("Code = %q, want %q", apiErr.Code, tt.code)
			}
		})
	}
}

func TestAuthClient_LogoutRevokesToken(t *testing.T) {
	server, _ := newBookAuthServer(t)
	ctx := context.Background()
	store := newMockCredentialStore()
	client := NewAuthClient(server.URL, store)

	cred, err := client.Register(ctx, "Ana", "ana@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// a second process holding a copy of the same token
	copied := newMockCredentialStore()
	copied.creds[server.URL] = cred
	stale := NewAuthClient(server.URL, copied)

	if err := client.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, ok := store.creds[server.URL]; ok {
		t.Error("Logout() did not remove credential")
	}

	if _, err := stale.Me(ctx); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("Me() with revoked token error = %v, want ErrNotLoggedIn", err)
	}
	if _, ok := copied.creds[server.URL]; ok {
		t.Error("rejected credential was not forgotten")
	}
}

func TestAuthClient_PasswordReset(t *testing.T) {
	server, mail := newBookAuthServer(t)
	ctx := context.Background()
	client := NewAuthClient(server.URL, newMockCredentialStore())

	if _, err := client.Register(ctx, "Ana", "ana@example.com", "hunter22"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	known, err := client.ForgotPassword(ctx, "ana@example.com")
	if err != nil {
		t.Fatalf("ForgotPassword() error = %v", err)
	}
	unknown, err := client.ForgotPassword(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("ForgotPassword(unknown) error = %v", err)
	}
	if known == "" || known != unknown {
		t.Errorf("acknowledgements differ: %q vs %q", known, unknown)
	}

	token := mail.lastToken(t)
	var apiErr *APIError
	if err := client.ResetPassword(ctx, token, "newpass1", "newpass2"); !errors.As(err, &apiErr) || apiErr.Code != "password_mismatch" {
		t.Fatalf("ResetPassword(mismatch) error = %v", err)
	}
	if err := client.ResetPassword(ctx, token, "newpass1", "newpass1"); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}
	if err := client.ResetPassword(ctx, token, "newpass2", "newpass2"); !errors.As(err, &apiErr) || apiErr.Code != "invalid_token" {
		t.Fatalf("second ResetPassword() error = %v, want invalid_token", err)
	}

	if _, err := client.Login(ctx, "ana@example.com", "hunter22"); err == nil {
		t.Error("old password still works")
	}
	if _, err := client.Login(ctx, "ana@example.com", "newpass1"); err != nil {
		t.Fatalf("Login() with new password error = %v", err)
	}
}

func TestAuthClient_Transport_AddsAuthHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := newMockCredentialStore()
	store.creds[server.URL] = &ServerCredential{
		Token:     "my-token",
		ExpiresAt: time.Now().Add(1 * time.Hour),
	}
	client := NewAuthClient(server.URL, store)

	resp, err := client.HTTPClient().Get(server.URL + "/api/books")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer my-token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer my-token")
	}
}

func TestAuthClient_Transport_NoAuthHeader_WhenNoCredential(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewAuthClient(server.URL, newMockCredentialStore())
	resp, err := client.HTTPClient().Get(server.URL + "/api/books")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if gotAuth != "" {
		t.Errorf("Authorization = %q, want empty", gotAuth)
	}
}

func TestAuthClient_Transport_UnauthorizedForgetsCredential(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	store := newMockCredentialStore()
	store.creds[server.URL] = &ServerCredential{
		Token:     "revoked",
		ExpiresAt: time.Now().Add(1 * time.Hour),
	}
	client := NewAuthClient(server.URL, store)

	resp, err := client.HTTPClient().Get(server.URL + "/api/books")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", resp.StatusCode)
	}
	if requests.Load() != 1 {
		t.Errorf("requests = %d, want 1 (no retry)", requests.Load())
	}
	if client.IsLoggedIn() {
		t.Error("credential kept after a 401")
	}
}

func TestAuthClient_DoesNotFollowGuardRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusFound)
	}))
	defer server.Close()

	client := NewAuthClient(server.URL, newMockCredentialStore())
	resp, err := client.HTTPClient().Get(server.URL + "/shelf")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want 302", resp.StatusCode)
	}
}

func TestAuthClient_WithCustomHTTPClient(t *testing.T) {
	var customUsed atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	custom := &http.Client{
		Timeout: 5 * time.Second,
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			customUsed.Store(true)
			return http.DefaultTransport.RoundTrip(r)
		}),
	}
	client := NewAuthClient(server.URL, newMockCredentialStore(), WithHTTPClient(custom))

	resp, err := client.HTTPClient().Get(server.URL + "/")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if !customUsed.Load() {
		t.Error("custom transport was not used")
	}
	if client.HTTPClient().Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", client.HTTPClient().Timeout)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
