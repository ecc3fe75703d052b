package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrNotLoggedIn is returned by calls that need a credential when none is
// stored or the stored one has expired.
var ErrNotLoggedIn = errors.New("not logged in")

// APIError is an error response from the server
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
	Field   string `json:"field,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bookauth: HTTP %d", e.Status)
	}
	return fmt.Sprintf("bookauth: %s (%s)", e.Message, e.Code)
}

// Profile is the account summary returned by /me and the login endpoints
type Profile struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	HasPassword bool   `json:"has_password"`
	HasOAuth    bool   `json:"has_oauth"`
}

// loginResponse is the body of a successful JSON login or registration
type loginResponse struct {
	Token     string  `json:"token"`
	ExpiresIn int64   `json:"expires_in"`
	User      Profile `json:"user"`
}

// AuthClient is an HTTP client with token management for one server
type AuthClient struct {
	mu            sync.Mutex
	serverURL     string
	store         CredentialStore
	httpClient    *http.Client
	baseTransport http.RoundTripper
}

// ClientOption configures an AuthClient
type ClientOption func(*AuthClient)

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with auth handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *AuthClient) {
		if client != nil && client.Transport != nil {
			c.baseTransport = client.Transport
		}
		if client != nil {
			c.httpClient.Timeout = client.Timeout
			c.httpClient.Jar = client.Jar
		}
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

// NewAuthClient creates a new authenticated HTTP client for a server
func NewAuthClient(serverURL string, store CredentialStore, opts ...ClientOption) *AuthClient {
	// Normalize server URL
	u, err := url.Parse(serverURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}

	c := &AuthClient{
		serverURL:     serverURL,
		store:         store,
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.httpClient.Transport = &AuthTransport{
		Base:           c.baseTransport,
		TokenSource:    c.GetToken,
		OnUnauthorized: c.forget,
	}
	// redirects from the guards mean the request was not authenticated
	c.httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c
}

// HTTPClient returns a client that sends the stored token, for calling the
// application's own protected endpoints.
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

// ServerURL returns the server URL this client is configured for
func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// GetToken returns the current token, or "" if there is none or it expired
func (c *AuthClient) GetToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil {
		return "", err
	}
	if cred == nil || cred.IsExpired() {
		return "", nil
	}
	return cred.Token, nil
}

// GetCredential returns the stored credential for this server
func (c *AuthClient) GetCredential() (*ServerCredential, error) {
	return c.store.GetCredential(c.serverURL)
}

// IsLoggedIn returns true if there is a valid (non-expired) credential
func (c *AuthClient) IsLoggedIn() bool {
	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil {
		return false
	}
	return !cred.IsExpired()
}

// Login authenticates with email and password and stores the credential
func (c *AuthClient) Login(ctx context.Context, email, password string) (*ServerCredential, error) {
	return c.startSession(ctx, "/login", map[string]string{
		"email":    email,
		"password": password,
	})
}

// Register creates an account and stores the credential for it
func (c *AuthClient) Register(ctx context.Context, name, email, password string) (*ServerCredential, error) {
	return c.startSession(ctx, "/register", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	})
}

func (c *AuthClient) startSession(ctx context.Context, path string, body map[string]string) (*ServerCredential, error) {
	var resp loginResponse
	// without the auth transport, so a stale token can not trip the guest guard
	if err := c.call(ctx, c.plainClient(), http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, errors.New("bookauth: server returned no token")
	}

	now := time.Now()
	cred := &ServerCredential{
		Token:     resp.Token,
		UserID:    resp.User.ID,
		UserEmail: resp.User.Email,
		UserName:  resp.User.Name,
		ExpiresAt: now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		CreatedAt: now,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return cred, nil
}

// Logout ends the server session the token belongs to and removes the stored
// credential. The credential is removed even if the server call fails.
func (c *AuthClient) Logout(ctx context.Context) error {
	var serverErr error
	if token, _ := c.GetToken(); token != "" {
		serverErr = c.call(ctx, c.httpClient, http.MethodPost, "/logout", nil, nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	if err := c.store.Save(); err != nil {
		return err
	}
	return serverErr
}

// Me returns the logged in user's profile
func (c *AuthClient) Me(ctx context.Context) (*Profile, error) {
	if !c.IsLoggedIn() {
		return nil, ErrNotLoggedIn
	}
	var profile Profile
	if err := c.call(ctx, c.httpClient, http.MethodGet, "/me", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// ForgotPassword asks the server to mail a reset link. The server answers
// the same way for unknown emails, so success says nothing about the account.
func (c *AuthClient) ForgotPassword(ctx context.Context, email string) (string, error) {
	var resp struct {
		Message string `json:"message"`
	}
	if err := c.call(ctx, c.plainClient(), http.MethodPost, "/forgot-password", map[string]string{"email": email}, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// ResetPassword redeems the token from a reset link
func (c *AuthClient) ResetPassword(ctx context.Context, token, password, confirmation string) error {
	return c.call(ctx, c.plainClient(), http.MethodPost, "/reset-password/"+url.PathEscape(token), map[string]string{
		"password":     password,
		"confirmation": confirmation,
	}, nil)
}

// forget drops a credential the server no longer accepts
func (c *AuthClient) forget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.RemoveCredential(c.serverURL); err == nil {
		c.store.Save()
	}
}

func (c *AuthClient) plainClient() *http.Client {
	return &http.Client{
		Transport:     c.baseTransport,
		Timeout:       c.httpClient.Timeout,
		CheckRedirect: c.httpClient.CheckRedirect,
	}
}

func (c *AuthClient) call(ctx context.Context, httpClient *http.Client, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
			json.Unmarshal(data, apiErr)
		}
		if resp.StatusCode == http.StatusUnauthorized && apiErr.Code == "unauthenticated" {
			return ErrNotLoggedIn
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}
