package bookauth_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	ba "github.com/panyam/bookauth"
	"github.com/panyam/bookauth/stores/memory"
)

// recordingSender captures reset links instead of mailing them
type recordingSender struct {
	mu    sync.Mutex
	to    []string
	links []string
	err   error
}

func (s *recordingSender) SendPasswordResetEmail(ctx context.Context, to string, resetLink string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.to = append(s.to, to)
	s.links = append(s.links, resetLink)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

func (s *recordingSender) lastLink() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.links) == 0 {
		return ""
	}
	return s.links[len(s.links)-1]
}

// clock is a settable time source
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fastHasher() ba.PasswordHasher {
	return ba.NewBcryptHasher(bcrypt.MinCost)
}

type testApp struct {
	auth   *ba.BookAuth
	store  *memory.UserStore
	sender *recordingSender
	server *httptest.Server
}

// newTestApp serves a BookAuth over a memory store. Options run before the
// router is built, so they can add providers.
func newTestApp(t *testing.T, opts ...func(*ba.BookAuth)) *testApp {
	t.Helper()
	store := memory.NewUserStore()
	sender := &recordingSender{}
	auth := &ba.BookAuth{
		Store:       store,
		Hasher:      fastHasher(),
		EmailSender: sender,
		BaseURL:     "https://books.example.com",
		Sessions:    &ba.SessionManager{JWTSecretKey: "test-secret"},
	}
	for _, opt := range opts {
		opt(auth)
	}
	server := httptest.NewServer(auth.Handler())
	t.Cleanup(server.Close)
	return &testApp{auth: auth, store: store, sender: sender, server: server}
}

// browser returns a client that keeps cookies and does not follow redirects
func (a *testApp) browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (a *testApp) postForm(t *testing.T, client *http.Client, path string, form url.Values) *http.Response {
	t.Helper()
	resp, err := client.PostForm(a.server.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (a *testApp) postJSON(t *testing.T, client *http.Client, path string, body map[string]string) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, a.server.URL+path, strings.NewReader(string(data)))
	req.Header.Set("Content-Type", "application/json")
	return a.do(t, client, req)
}

func (a *testApp) get(t *testing.T, client *http.Client, path string, header ...string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, a.server.URL+path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	return a.do(t, client, req)
}

func (a *testApp) do(t *testing.T, client *http.Client, req *http.Request) *http.Response {
	t.Helper()
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s: expected status %d, got %d", resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode)
	}
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

// tokenFromLink returns the last path segment of a reset link
func tokenFromLink(link string) string {
	return link[strings.LastIndex(link, "/")+1:]
}
