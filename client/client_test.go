package client

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestServerCredential_Expiry(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name         string
		expiresAt    time.Time
		wantExpired  bool
		wantExpiring bool
	}{
		{"long lived", now.Add(time.Hour), false, false},
		{"inside the window", now.Add(2 * time.Minute), false, true},
		{"just expired", now.Add(-time.Second), true, true},
		{"zero value", time.Time{}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &ServerCredential{Token: "t", ExpiresAt: tt.expiresAt}
			if got := c.IsExpired(); got != tt.wantExpired {
				t.Errorf("IsExpired() = %v, want %v", got, tt.wantExpired)
			}
			if got := c.IsExpiringSoon(5 * time.Minute); got != tt.wantExpiring {
				t.Errorf("IsExpiringSoon(5m) = %v, want %v", got, tt.wantExpiring)
			}
		})
	}
}

// mockCredentialStore keeps credentials in a map and counts saves
type mockCredentialStore struct {
	mu    sync.Mutex
	creds map[string]*ServerCredential
	saves int
}

func newMockCredentialStore() *mockCredentialStore {
	return &mockCredentialStore{creds: make(map[string]*ServerCredential)}
}

func (m *mockCredentialStore) GetCredential(serverURL string) (*ServerCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds[serverURL], nil
}

func (m *mockCredentialStore) SetCredential(serverURL string, cred *ServerCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[serverURL] = cred
	return nil
}

func (m *mockCredentialStore) RemoveCredential(serverURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, serverURL)
	return nil
}

func (m *mockCredentialStore) ListServers() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	servers := make([]string, 0, len(m.creds))
	for k := range m.creds {
		servers = append(servers, k)
	}
	return servers, nil
}

func (m *mockCredentialStore) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	return nil
}

func TestAuthClient_GetToken(t *testing.T) {
	const server = "http://localhost:8080"
	tests := []struct {
		name      string
		cred      *ServerCredential
		wantToken string
		wantIn    bool
	}{
		{"no credential", nil, "", false},
		{"valid", &ServerCredential{Token: "valid-token", ExpiresAt: time.Now().Add(time.Hour)}, "valid-token", true},
		{"expired", &ServerCredential{Token: "expired-token", ExpiresAt: time.Now().Add(-time.Hour)}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockCredentialStore()
			if tt.cred != nil {
				store.creds[server] = tt.cred
			}
			client := NewAuthClient(server, store)

			token, err := client.GetToken()
			if err != nil {
				t.Fatalf("GetToken() error = %v", err)
			}
			if token != tt.wantToken {
				t.Errorf("GetToken() = %q, want %q", token, tt.wantToken)
			}
			if got := client.IsLoggedIn(); got != tt.wantIn {
				t.Errorf("IsLoggedIn() = %v, want %v", got, tt.wantIn)
			}
		})
	}
}

func TestAuthClient_LogoutExpiredCredential(t *testing.T) {
	store := newMockCredentialStore()
	store.creds["http://localhost:8080"] = &ServerCredential{
		Token:     "token",
		ExpiresAt: time.Now().Add(-1 * time.Hour),
	}

	// nothing listens on the port; an expired token is not sent to the server
	client := NewAuthClient("http://localhost:8080", store)

	if err := client.Logout(context.Background()); err != nil {
		t.Errorf("Logout() error = %v", err)
	}
	if _, ok := store.creds["http://localhost:8080"]; ok {
		t.Error("Logout() did not remove credential")
	}
	if store.saves != 1 {
		t.Errorf("saves = %d, want 1", store.saves)
	}
}

func TestAuthClient_ServerURLDropsPath(t *testing.T) {
	store := newMockCredentialStore()
	store.creds["https://books.example.com"] = &ServerCredential{
		Token:     "token",
		ExpiresAt: time.Now().Add(time.Hour),
	}

	client := NewAuthClient("https://books.example.com/api/v1?x=1", store)
	if client.ServerURL() != "https://books.example.com" {
		t.Errorf("ServerURL() = %q", client.ServerURL())
	}
	if !client.IsLoggedIn() {
		t.Error("credential for the base URL not found")
	}
}
